package bplustree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestIteratorFullScan 全量扫描按键升序返回
func TestIteratorFullScan(t *testing.T) {
	tree := newTestTree(t)

	const n = 200
	for key := int64(0); key < n; key++ {
		_, err := tree.Insert(key*2, ridFor(key*2))
		require.NoError(t, err)
	}

	it, err := tree.Begin()
	require.NoError(t, err)

	var got []int64
	for !it.IsEnd() {
		assert.Equal(t, ridFor(it.Key()), it.Value())
		got = append(got, it.Key())
		require.NoError(t, it.Next())
	}

	require.Len(t, got, n)
	for i, key := range got {
		assert.Equal(t, int64(i*2), key)
	}
}

// TestIteratorBeginAt 从指定键开始扫描
func TestIteratorBeginAt(t *testing.T) {
	tree := newTestTree(t)

	for key := int64(0); key < 100; key++ {
		_, err := tree.Insert(key*2, ridFor(key*2))
		require.NoError(t, err)
	}

	// 命中已有键
	it, err := tree.BeginAt(40)
	require.NoError(t, err)
	require.False(t, it.IsEnd())
	assert.Equal(t, int64(40), it.Key())
	it.Close()

	// 落在两键之间，定位到后继
	it, err = tree.BeginAt(41)
	require.NoError(t, err)
	require.False(t, it.IsEnd())
	assert.Equal(t, int64(42), it.Key())
	it.Close()

	// 超过最大键，直接结束
	it, err = tree.BeginAt(1000)
	require.NoError(t, err)
	assert.True(t, it.IsEnd())
}

// TestIteratorEmptyTree 空树迭代器直接结束
func TestIteratorEmptyTree(t *testing.T) {
	tree := newTestTree(t)

	it, err := tree.Begin()
	require.NoError(t, err)
	assert.True(t, it.IsEnd())
	require.NoError(t, it.Next())
	assert.True(t, it.IsEnd())
}

// TestIteratorEarlyClose 提前中止释放页面
func TestIteratorEarlyClose(t *testing.T) {
	tree := newTestTree(t)

	for key := int64(0); key < 50; key++ {
		_, err := tree.Insert(key, ridFor(key))
		require.NoError(t, err)
	}

	it, err := tree.Begin()
	require.NoError(t, err)
	require.False(t, it.IsEnd())
	require.NoError(t, it.Next())
	it.Close()
	assert.True(t, it.IsEnd())

	// 迭代器释放后写操作不被卡住
	_, err = tree.Insert(999, ridFor(999))
	require.NoError(t, err)
}

// TestIteratorRangeCount 区间统计
func TestIteratorRangeCount(t *testing.T) {
	tree := newTestTree(t)

	for key := int64(1); key <= 300; key++ {
		_, err := tree.Insert(key, ridFor(key))
		require.NoError(t, err)
	}

	it, err := tree.BeginAt(101)
	require.NoError(t, err)
	count := 0
	for !it.IsEnd() && it.Key() <= 200 {
		count++
		require.NoError(t, it.Next())
	}
	it.Close()
	assert.Equal(t, 100, count)
}
