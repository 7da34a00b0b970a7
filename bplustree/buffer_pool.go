/*
AgateDB 缓冲池管理器模块

缓冲池是磁盘页面在内存中的唯一落脚点：上层通过页面 ID 请求页面，
缓冲池负责把页面读入帧、用 pin 计数保护在用页面、
在帧耗尽时按 LRU-K 策略淘汰并回写脏页。

核心功能：
1. 页面驻留：维护页面 ID 到帧的映射，同一页面在池中至多驻留一份
2. 引用计数：pin 计数非零的页面不会被淘汰
3. 脏页回写：淘汰或刷新脏页时先写回磁盘再复用帧
4. 后台刷盘：可选的后台服务周期性地把脏页刷向磁盘，平滑淘汰延迟

设计原理：
- 单互斥锁保护全部元数据（页表、空闲链、替换器），临界区内不做磁盘 I/O 之外的重活
- 页面闩锁永远在缓冲池互斥锁之外获取，两把锁不嵌套，避免死锁
- 帧对象池：Page 对象随帧复用，重绑定页面 ID 时只重置内容
*/

package bplustree

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/util6/AgateDB/utils"
)

// BufferPoolManager 缓冲池管理器
// 管理固定数量的帧，在磁盘管理器与上层之间调度页面。
type BufferPoolManager struct {
	// 帧管理
	frames    []*Page            // 帧数组，下标即帧号
	freeList  []FrameID          // 空闲帧栈
	pageTable map[PageID]FrameID // 页面 ID 到帧号的映射
	replacer  *LRUKReplacer      // LRU-K 替换器
	disk      *DiskManager       // 底层磁盘管理器
	mu        sync.Mutex         // 保护以上全部元数据

	// 后台刷盘
	closer *utils.Closer // 后台服务生命周期

	// 统计信息
	hitCount   atomic.Int64 // 页表命中次数
	missCount  atomic.Int64 // 页表未命中次数
	flushCount atomic.Int64 // 脏页回写次数
}

// NewBufferPoolManager 创建缓冲池
// poolSize 为帧数量，k 为替换器的 LRU-K 参数。
// flushInterval 大于零时启动后台刷盘服务。
func NewBufferPoolManager(poolSize int, k int, disk *DiskManager, flushInterval time.Duration) *BufferPoolManager {
	utils.CondPanic(poolSize <= 0, "buffer pool size must be positive, got %d", poolSize)
	utils.CondPanic(disk == nil, "buffer pool requires a disk manager")

	bpm := &BufferPoolManager{
		frames:    make([]*Page, poolSize),
		freeList:  make([]FrameID, 0, poolSize),
		pageTable: make(map[PageID]FrameID, poolSize),
		replacer:  NewLRUKReplacer(poolSize, k),
		disk:      disk,
		closer:    utils.NewCloser(),
	}

	for i := 0; i < poolSize; i++ {
		bpm.frames[i] = newPage()
		bpm.freeList = append(bpm.freeList, FrameID(i))
	}

	if flushInterval > 0 {
		bpm.closer.Add(1)
		go bpm.flushService(flushInterval)
	}

	return bpm
}

// NewPage 分配一个新页面并固定在缓冲池中
// 返回的页面 pin 计数为 1，内容全零。没有可用帧时返回 ErrPoolExhausted。
func (bpm *BufferPoolManager) NewPage() (*Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, err := bpm.grabFrame()
	if err != nil {
		return nil, err
	}

	pageID := bpm.disk.AllocatePage()
	page := bpm.frames[frameID]
	page.reset(pageID)
	page.pinCount.Store(1)

	bpm.pageTable[pageID] = frameID
	bpm.replacer.RecordAccess(frameID)
	bpm.replacer.SetEvictable(frameID, false)

	return page, nil
}

// FetchPage 获取指定页面并固定在缓冲池中
// 页面已驻留时直接增加 pin 计数；否则腾出帧并从磁盘读入。
func (bpm *BufferPoolManager) FetchPage(pageID PageID) (*Page, error) {
	utils.CondPanic(pageID == InvalidPageID, "FetchPage: invalid page id")

	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	// 命中：页面已在池中
	if frameID, ok := bpm.pageTable[pageID]; ok {
		page := bpm.frames[frameID]
		page.pinCount.Add(1)
		bpm.replacer.RecordAccess(frameID)
		bpm.replacer.SetEvictable(frameID, false)
		bpm.hitCount.Add(1)
		return page, nil
	}

	bpm.missCount.Add(1)

	frameID, err := bpm.grabFrame()
	if err != nil {
		return nil, err
	}

	page := bpm.frames[frameID]
	page.reset(pageID)
	if err := bpm.disk.ReadPage(pageID, page.Data()); err != nil {
		// 读取失败时帧退回空闲链，不留下半初始化的映射
		bpm.freeList = append(bpm.freeList, frameID)
		page.reset(InvalidPageID)
		return nil, err
	}
	page.pinCount.Store(1)

	bpm.pageTable[pageID] = frameID
	bpm.replacer.RecordAccess(frameID)
	bpm.replacer.SetEvictable(frameID, false)

	return page, nil
}

// UnpinPage 释放对页面的一次固定
// isDirty 为真时标记页面为脏。pin 计数降为零时页面成为淘汰候选。
// 页面不在池中或 pin 计数已为零时返回 false。
func (bpm *BufferPoolManager) UnpinPage(pageID PageID, isDirty bool) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable[pageID]
	if !ok {
		return false
	}

	page := bpm.frames[frameID]
	if page.PinCount() <= 0 {
		return false
	}

	if isDirty {
		page.dirty = true
	}

	if page.pinCount.Add(-1) == 0 {
		bpm.replacer.SetEvictable(frameID, true)
	}
	return true
}

// FlushPage 将指定页面写回磁盘并清除脏标志
// 无论脏与否都会写出。页面不在池中时返回 false。
// 本方法不获取页面闩锁：调用方须自行持有该页面的闩锁，否则可能写出被并发修改撕裂的内容。
func (bpm *BufferPoolManager) FlushPage(pageID PageID) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable[pageID]
	if !ok {
		return false
	}

	page := bpm.frames[frameID]
	if err := bpm.disk.WritePage(pageID, page.Data()); err != nil {
		return false
	}
	page.dirty = false
	bpm.flushCount.Add(1)
	return true
}

// FlushAllPages 将池中全部页面写回磁盘
func (bpm *BufferPoolManager) FlushAllPages() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	for pageID, frameID := range bpm.pageTable {
		page := bpm.frames[frameID]
		if err := bpm.disk.WritePage(pageID, page.Data()); err != nil {
			return errors.Wrapf(err, "刷新页面 %d 失败", pageID)
		}
		page.dirty = false
		bpm.flushCount.Add(1)
	}
	return nil
}

// DeletePage 从缓冲池中删除页面并释放其帧
// 页面不在池中视为删除成功；pin 计数非零时拒绝删除并返回 false。
func (bpm *BufferPoolManager) DeletePage(pageID PageID) bool {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameID, ok := bpm.pageTable[pageID]
	if !ok {
		return true
	}

	page := bpm.frames[frameID]
	if page.PinCount() > 0 {
		return false
	}

	delete(bpm.pageTable, pageID)
	bpm.replacer.Remove(frameID)
	bpm.freeList = append(bpm.freeList, frameID)
	page.reset(InvalidPageID)
	bpm.disk.DeallocatePage(pageID)
	return true
}

// grabFrame 腾出一个可用帧
// 优先取空闲链，其次向替换器要牺牲帧；牺牲帧若为脏页先回写。
// 调用方必须持有缓冲池互斥锁。
func (bpm *BufferPoolManager) grabFrame() (FrameID, error) {
	if n := len(bpm.freeList); n > 0 {
		frameID := bpm.freeList[n-1]
		bpm.freeList = bpm.freeList[:n-1]
		return frameID, nil
	}

	frameID, ok := bpm.replacer.Evict()
	if !ok {
		return 0, errors.Wrapf(utils.ErrPoolExhausted,
			"缓冲池 %d 帧全部被固定", len(bpm.frames))
	}

	victim := bpm.frames[frameID]
	if victim.IsDirty() {
		if err := bpm.disk.WritePage(victim.ID(), victim.Data()); err != nil {
			// 回写失败时把帧还给替换器，保持牺牲候选集完整
			bpm.replacer.RecordAccess(frameID)
			bpm.replacer.SetEvictable(frameID, true)
			return 0, err
		}
		bpm.flushCount.Add(1)
	}
	delete(bpm.pageTable, victim.ID())
	return frameID, nil
}

// flushService 后台刷盘服务
// 周期性地把未固定的脏页写回磁盘。拿不到互斥锁时跳过本轮，不阻塞前台。
func (bpm *BufferPoolManager) flushService(interval time.Duration) {
	defer bpm.closer.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-bpm.closer.CloseSignal:
			return
		case <-ticker.C:
			bpm.flushDirtyPages()
		}
	}
}

// flushDirtyPages 回写当前未固定的脏页
// 每个脏页先在互斥锁内固定，再到锁外取读闩锁写出，
// 闩锁永远不在缓冲池互斥锁内获取。
func (bpm *BufferPoolManager) flushDirtyPages() {
	if !bpm.mu.TryLock() {
		return
	}

	type dirtyFrame struct {
		pageID  PageID
		frameID FrameID
	}
	var targets []dirtyFrame
	for pageID, frameID := range bpm.pageTable {
		page := bpm.frames[frameID]
		if page.IsDirty() && page.PinCount() == 0 {
			targets = append(targets, dirtyFrame{pageID, frameID})
		}
	}
	bpm.mu.Unlock()

	for _, t := range targets {
		bpm.mu.Lock()
		frameID, ok := bpm.pageTable[t.pageID]
		if !ok || frameID != t.frameID {
			bpm.mu.Unlock()
			continue
		}
		page := bpm.frames[frameID]
		if !page.IsDirty() {
			bpm.mu.Unlock()
			continue
		}
		// 固定住帧，防止写出期间被淘汰
		page.pinCount.Add(1)
		bpm.replacer.SetEvictable(frameID, false)
		bpm.mu.Unlock()

		page.RLatch()
		err := bpm.disk.WritePage(t.pageID, page.Data())
		page.RUnlatch()

		bpm.mu.Lock()
		if err == nil {
			page.dirty = false
			bpm.flushCount.Add(1)
		}
		if page.pinCount.Add(-1) == 0 {
			bpm.replacer.SetEvictable(frameID, true)
		}
		bpm.mu.Unlock()
	}
}

// PoolSize 返回缓冲池的帧数量
func (bpm *BufferPoolManager) PoolSize() int {
	return len(bpm.frames)
}

// GetStats 获取缓冲池统计信息
func (bpm *BufferPoolManager) GetStats() map[string]interface{} {
	bpm.mu.Lock()
	freeFrames := len(bpm.freeList)
	residentPages := len(bpm.pageTable)
	bpm.mu.Unlock()

	return map[string]interface{}{
		"pool_size":      len(bpm.frames),
		"free_frames":    freeFrames,
		"resident_pages": residentPages,
		"hit_count":      bpm.hitCount.Load(),
		"miss_count":     bpm.missCount.Load(),
		"flush_count":    bpm.flushCount.Load(),
		"evictions":      bpm.replacer.Evictions(),
	}
}

// Close 停止后台服务并把全部页面刷回磁盘
func (bpm *BufferPoolManager) Close() error {
	bpm.closer.Close()
	if err := bpm.FlushAllPages(); err != nil {
		return err
	}
	return bpm.disk.Sync()
}
