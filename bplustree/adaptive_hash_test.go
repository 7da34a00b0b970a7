package bplustree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHashIndexBasic 提示表的记录、查询与失效
func TestHashIndexBasic(t *testing.T) {
	idx := newAdaptiveHashIndex(4)

	_, ok := idx.lookup(1)
	assert.False(t, ok)

	idx.record(1, PageID(10))
	idx.record(2, PageID(20))

	leafID, ok := idx.lookup(1)
	require.True(t, ok)
	assert.Equal(t, PageID(10), leafID)
	assert.Equal(t, 2, idx.size())

	idx.invalidate(1)
	_, ok = idx.lookup(1)
	assert.False(t, ok)
	assert.Equal(t, 1, idx.size())

	idx.clear()
	assert.Equal(t, 0, idx.size())
	_, ok = idx.lookup(2)
	assert.False(t, ok)
}

// TestHashIndexAcceleratesRepeatedLookups 重复点查走哈希捷径
func TestHashIndexAcceleratesRepeatedLookups(t *testing.T) {
	tree := newTestTree(t)

	for key := int64(0); key < 100; key++ {
		_, err := tree.Insert(key, ridFor(key))
		require.NoError(t, err)
	}

	// 第一次点查走根下降并记录提示
	rid, found, err := tree.GetValue(50)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ridFor(50), rid)

	// 第二次点查命中提示
	rid, found, err = tree.GetValue(50)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ridFor(50), rid)
	assert.Greater(t, tree.hashIndex.hitCount.Load(), int64(0))
}

// TestHashIndexClearedOnSplit 结构调整后提示整体失效
func TestHashIndexClearedOnSplit(t *testing.T) {
	tree := newTestTree(t)

	for key := int64(0); key < 4; key++ {
		_, err := tree.Insert(key, ridFor(key))
		require.NoError(t, err)
	}
	_, _, err := tree.GetValue(0)
	require.NoError(t, err)
	assert.Equal(t, 1, tree.hashIndex.size())

	// 第五个键触发叶子分裂，提示表清空
	_, err = tree.Insert(4, ridFor(4))
	require.NoError(t, err)
	assert.Equal(t, 0, tree.hashIndex.size())
	assert.Greater(t, tree.hashIndex.clears.Load(), int64(0))

	// 清空后点查仍然正确
	rid, found, err := tree.GetValue(0)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ridFor(0), rid)
}

// TestHashIndexInvalidatedOnRemove 删除键时同步删除提示
func TestHashIndexInvalidatedOnRemove(t *testing.T) {
	tree := newTestTree(t, func(opt *Options) {
		opt.LeafMaxSize = 16
	})

	for key := int64(0); key < 8; key++ {
		_, err := tree.Insert(key, ridFor(key))
		require.NoError(t, err)
	}
	_, _, err := tree.GetValue(3)
	require.NoError(t, err)

	require.NoError(t, tree.Remove(3))
	_, ok := tree.hashIndex.lookup(3)
	assert.False(t, ok)
	_, found, err := tree.GetValue(3)
	require.NoError(t, err)
	assert.False(t, found)
}

// TestHashIndexDisabled 关闭哈希索引后点查仍然正确
func TestHashIndexDisabled(t *testing.T) {
	tree := newTestTree(t, func(opt *Options) {
		opt.EnableHashIndex = false
	})
	assert.Nil(t, tree.hashIndex)

	for key := int64(0); key < 100; key++ {
		_, err := tree.Insert(key, ridFor(key))
		require.NoError(t, err)
	}
	for key := int64(0); key < 100; key++ {
		rid, found, err := tree.GetValue(key)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, ridFor(key), rid)
	}
}
