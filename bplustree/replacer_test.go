package bplustree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestReplacerYoungFramesFIFO 年轻帧按首次访问顺序淘汰
func TestReplacerYoungFramesFIFO(t *testing.T) {
	r := NewLRUKReplacer(7, 2)

	r.RecordAccess(1)
	r.RecordAccess(2)
	r.RecordAccess(3)
	r.RecordAccess(4)
	r.RecordAccess(1) // 帧 1 晋升为成熟帧

	for _, f := range []FrameID{1, 2, 3, 4} {
		r.SetEvictable(f, true)
	}
	assert.Equal(t, 4, r.Size())

	// 年轻帧 2、3、4 先被淘汰，成熟帧 1 垫底
	for _, want := range []FrameID{2, 3, 4, 1} {
		victim, ok := r.Evict()
		require.True(t, ok)
		assert.Equal(t, want, victim)
	}

	_, ok := r.Evict()
	assert.False(t, ok)
	assert.Equal(t, 0, r.Size())
}

// TestReplacerMatureFramesByKthAccess 成熟帧按倒数第 K 次访问排序
func TestReplacerMatureFramesByKthAccess(t *testing.T) {
	r := NewLRUKReplacer(4, 2)

	r.RecordAccess(0) // ts=1
	r.RecordAccess(1) // ts=2
	r.RecordAccess(1) // ts=3，帧 1 的倒数第 2 次访问在 ts=2
	r.RecordAccess(0) // ts=4，帧 0 的倒数第 2 次访问在 ts=1
	r.SetEvictable(0, true)
	r.SetEvictable(1, true)

	victim, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, FrameID(0), victim)

	// 帧 0 的历史被清除，再次访问从年轻帧重新开始
	r.RecordAccess(0)
	r.SetEvictable(0, true)
	victim, ok = r.Evict()
	require.True(t, ok)
	assert.Equal(t, FrameID(0), victim)
}

// TestReplacerSetEvictable 只有可淘汰帧才是牺牲候选
func TestReplacerSetEvictable(t *testing.T) {
	r := NewLRUKReplacer(4, 2)

	r.RecordAccess(0)
	r.RecordAccess(1)
	r.SetEvictable(0, true)
	r.SetEvictable(1, false)
	assert.Equal(t, 1, r.Size())

	victim, ok := r.Evict()
	require.True(t, ok)
	assert.Equal(t, FrameID(0), victim)

	// 帧 1 仍不可淘汰
	_, ok = r.Evict()
	assert.False(t, ok)

	// 重复设置同一标志不影响计数
	r.SetEvictable(1, false)
	r.SetEvictable(1, true)
	r.SetEvictable(1, true)
	assert.Equal(t, 1, r.Size())
}

// TestReplacerRemove 强制移除清空帧历史
func TestReplacerRemove(t *testing.T) {
	r := NewLRUKReplacer(4, 2)

	r.RecordAccess(2)
	r.SetEvictable(2, true)
	r.Remove(2)
	assert.Equal(t, 0, r.Size())

	_, ok := r.Evict()
	assert.False(t, ok)

	// 移除未知帧为空操作
	r.Remove(3)

	// 移除不可淘汰的帧属于契约违规
	r.RecordAccess(1)
	assert.Panics(t, func() { r.Remove(1) })
}

// TestReplacerFrameOutOfRange 帧号越界直接断言
func TestReplacerFrameOutOfRange(t *testing.T) {
	r := NewLRUKReplacer(4, 2)
	assert.Panics(t, func() { r.RecordAccess(4) })
	assert.Panics(t, func() { r.RecordAccess(-1) })
	assert.Panics(t, func() { NewLRUKReplacer(0, 2) })
	assert.Panics(t, func() { NewLRUKReplacer(4, 0) })
}
