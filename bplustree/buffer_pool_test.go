package bplustree

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/util6/AgateDB/utils"
)

// newTestPool 创建测试用的缓冲池
func newTestPool(t *testing.T, poolSize int) (*BufferPoolManager, *DiskManager) {
	t.Helper()
	dm, err := NewDiskManager(t.TempDir())
	require.NoError(t, err)
	bpm := NewBufferPoolManager(poolSize, 2, dm, 0)
	t.Cleanup(func() {
		bpm.Close()
		dm.Close()
	})
	return bpm, dm
}

// TestBufferPoolNewPage 分配页面直到帧耗尽
func TestBufferPoolNewPage(t *testing.T) {
	bpm, _ := newTestPool(t, 3)

	pages := make([]*Page, 0, 3)
	for i := 0; i < 3; i++ {
		page, err := bpm.NewPage()
		require.NoError(t, err)
		assert.Equal(t, PageID(i), page.ID())
		assert.Equal(t, 1, page.PinCount())
		pages = append(pages, page)
	}

	// 全部固定时无帧可用
	_, err := bpm.NewPage()
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrPoolExhausted)

	// 释放一个页面后分配恢复
	assert.True(t, bpm.UnpinPage(pages[0].ID(), false))
	page, err := bpm.NewPage()
	require.NoError(t, err)
	assert.Equal(t, PageID(3), page.ID())
}

// TestBufferPoolFetchHit 已驻留页面直接命中
func TestBufferPoolFetchHit(t *testing.T) {
	bpm, _ := newTestPool(t, 3)

	page, err := bpm.NewPage()
	require.NoError(t, err)
	pid := page.ID()
	copy(page.Data(), []byte("agate"))

	again, err := bpm.FetchPage(pid)
	require.NoError(t, err)
	assert.Same(t, page, again)
	assert.Equal(t, 2, again.PinCount())

	assert.True(t, bpm.UnpinPage(pid, true))
	assert.True(t, bpm.UnpinPage(pid, false))
	assert.False(t, bpm.UnpinPage(pid, false))

	stats := bpm.GetStats()
	assert.Equal(t, int64(1), stats["hit_count"])
}

// TestBufferPoolEvictionWritesDirtyPage 脏页在淘汰前写回磁盘
func TestBufferPoolEvictionWritesDirtyPage(t *testing.T) {
	bpm, _ := newTestPool(t, 2)

	page, err := bpm.NewPage()
	require.NoError(t, err)
	victim := page.ID()
	copy(page.Data(), []byte("persist me"))
	require.True(t, bpm.UnpinPage(victim, true))

	// 塞满并轮换帧，把脏页挤出缓冲池
	for i := 0; i < 4; i++ {
		p, err := bpm.NewPage()
		require.NoError(t, err)
		require.True(t, bpm.UnpinPage(p.ID(), false))
	}

	// 重新读入后内容完好
	back, err := bpm.FetchPage(victim)
	require.NoError(t, err)
	assert.Equal(t, []byte("persist me"), back.Data()[:10])
	bpm.UnpinPage(victim, false)
}

// TestBufferPoolPinnedPageNotEvicted 固定页面永不被淘汰
func TestBufferPoolPinnedPageNotEvicted(t *testing.T) {
	bpm, _ := newTestPool(t, 2)

	pinned, err := bpm.NewPage()
	require.NoError(t, err)
	copy(pinned.Data(), []byte("pinned"))

	// 另一帧反复轮换，固定页面始终原地不动
	for i := 0; i < 3; i++ {
		p, err := bpm.NewPage()
		require.NoError(t, err)
		require.True(t, bpm.UnpinPage(p.ID(), false))
	}

	assert.Equal(t, []byte("pinned"), pinned.Data()[:6])
	assert.Equal(t, 1, pinned.PinCount())
	bpm.UnpinPage(pinned.ID(), false)
}

// TestBufferPoolDeletePage 删除页面释放帧
func TestBufferPoolDeletePage(t *testing.T) {
	bpm, _ := newTestPool(t, 2)

	page, err := bpm.NewPage()
	require.NoError(t, err)
	pid := page.ID()

	// 固定中的页面拒绝删除
	assert.False(t, bpm.DeletePage(pid))

	require.True(t, bpm.UnpinPage(pid, false))
	assert.True(t, bpm.DeletePage(pid))

	// 不在池中的页面视为删除成功
	assert.True(t, bpm.DeletePage(pid))
}

// TestBufferPoolFlushPage 刷新清除脏标志并落盘
func TestBufferPoolFlushPage(t *testing.T) {
	bpm, dm := newTestPool(t, 2)

	page, err := bpm.NewPage()
	require.NoError(t, err)
	pid := page.ID()
	copy(page.Data(), []byte("flush"))
	require.True(t, bpm.UnpinPage(pid, true))

	assert.True(t, bpm.FlushPage(pid))
	assert.False(t, bpm.FlushPage(PageID(999)))

	buf := make([]byte, PageSize)
	require.NoError(t, dm.ReadPage(pid, buf))
	assert.Equal(t, []byte("flush"), buf[:5])
}

// TestBufferPoolBackgroundFlush 后台服务周期性回写脏页
func TestBufferPoolBackgroundFlush(t *testing.T) {
	dm, err := NewDiskManager(t.TempDir())
	require.NoError(t, err)
	defer dm.Close()

	bpm := NewBufferPoolManager(4, 2, dm, 10*time.Millisecond)
	defer bpm.Close()

	page, err := bpm.NewPage()
	require.NoError(t, err)
	pid := page.ID()
	copy(page.Data(), []byte("background"))
	require.True(t, bpm.UnpinPage(pid, true))

	assert.Eventually(t, func() bool {
		buf := make([]byte, PageSize)
		if err := dm.ReadPage(pid, buf); err != nil {
			return false
		}
		return string(buf[:10]) == "background"
	}, time.Second, 10*time.Millisecond)
}
