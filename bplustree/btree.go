/*
AgateDB B+树索引模块

B+树把 int64 键映射到记录 ID，所有节点都存放在缓冲池管理的页面上。
树通过头页面（页面 0）找到根页面，根页面指针的每次变更都持久化在头页面里。

核心功能：
1. 点查：从根下降到叶子，返回键对应的记录 ID
2. 插入：唯一键约束，叶子满时分裂并向上递归
3. 删除：叶子不足半满时与兄弟合并或重分配
4. 范围扫描：迭代器沿叶子兄弟链顺序遍历

并发控制（闩锁爬行协议）：
- 读操作手递手下降：先闩住孩子再放开父亲，任一时刻至多持有两把读闩锁
- 写操作持有从最深的安全祖先到叶子的一串写闩锁；
  孩子确认安全（本次操作不会分裂/合并传播到它之上）后立即释放全部祖先
- 头页面是根指针的闩锁代理：可能变更根的操作全程持有头页面写闩锁

头页面布局（小端）：
  [0:4)   根页面 ID
  [4:8)   魔数
  [8:16)  前 8 字节的 xxhash 校验和
*/

package bplustree

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/util6/AgateDB/utils"
)

// headerMagic 头页面魔数，标识 AgateDB 数据文件
const headerMagic uint32 = 0x41474154

// BPlusTree B+树索引
// 所有公开方法都可以被多个协程并发调用。
type BPlusTree struct {
	// 存储栈
	disk *DiskManager       // 磁盘管理器
	bpm  *BufferPoolManager // 缓冲池

	// 树参数
	leafMaxSize     int // 叶子页面键数量上限
	internalMaxSize int // 内部页面孩子数量上限

	// 加速结构
	hashIndex  *adaptiveHashIndex // 点查热点加速，可为 nil
	prefetcher *prefetcher        // 叶子预读服务，可为 nil

	// 生命周期
	closed atomic.Bool

	// 统计信息
	lookupCount atomic.Int64 // 点查次数
	insertCount atomic.Int64 // 插入次数
	removeCount atomic.Int64 // 删除次数
	splitCount  atomic.Int64 // 节点分裂次数
	mergeCount  atomic.Int64 // 节点合并次数
}

// Open 打开或创建一棵 B+树
// 新数据文件会写入头页面；已有文件校验头页面的魔数和校验和。
func Open(opt Options) (*BPlusTree, error) {
	if err := opt.check(); err != nil {
		return nil, err
	}

	disk, err := NewDiskManager(opt.WorkDir)
	if err != nil {
		return nil, err
	}
	bpm := NewBufferPoolManager(opt.PoolSize, opt.ReplacerK, disk, opt.FlushInterval)

	t := &BPlusTree{
		disk:            disk,
		bpm:             bpm,
		leafMaxSize:     opt.LeafMaxSize,
		internalMaxSize: opt.InternalMaxSize,
	}

	if disk.PageCount() == 0 {
		// 全新文件：页面 0 固定为头页面
		page, err := bpm.NewPage()
		if err != nil {
			bpm.closer.Close()
			disk.Close()
			return nil, err
		}
		utils.CondPanic(page.ID() != HeaderPageID,
			"header page allocated as %d, want %d", page.ID(), HeaderPageID)
		asHeader(page.Data()).format()
		bpm.UnpinPage(page.ID(), true)
		if !bpm.FlushPage(HeaderPageID) {
			bpm.closer.Close()
			disk.Close()
			return nil, errors.Wrap(utils.ErrDiskIO, "写入头页面失败")
		}
	} else {
		page, err := bpm.FetchPage(HeaderPageID)
		if err != nil {
			bpm.closer.Close()
			disk.Close()
			return nil, err
		}
		verr := asHeader(page.Data()).verify()
		bpm.UnpinPage(HeaderPageID, false)
		if verr != nil {
			bpm.closer.Close()
			disk.Close()
			return nil, verr
		}
	}

	if opt.EnableHashIndex {
		t.hashIndex = newAdaptiveHashIndex(opt.HashIndexShards)
	}
	if opt.EnablePrefetch {
		t.prefetcher = newPrefetcher(bpm, opt.PrefetchQueueLen)
	}

	return t, nil
}

// Close 停止后台服务，把全部页面刷回磁盘并关闭数据文件
// 重复关闭为空操作。
func (t *BPlusTree) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	if t.prefetcher != nil {
		t.prefetcher.close()
	}
	if err := t.bpm.Close(); err != nil {
		return err
	}
	return t.disk.Close()
}

// GetValue 查找键对应的记录 ID
// 返回值第二项指示键是否存在。
func (t *BPlusTree) GetValue(key int64) (RID, bool, error) {
	if t.closed.Load() {
		return RID{}, false, utils.ErrTreeClosed
	}
	t.lookupCount.Add(1)

	// 热点快路径：哈希索引直达叶子
	if t.hashIndex != nil {
		if leafID, ok := t.hashIndex.lookup(key); ok {
			if rid, found, valid := t.lookupByHint(leafID, key); valid {
				return rid, found, nil
			}
			t.hashIndex.invalidate(key)
		}
	}

	header, err := t.bpm.FetchPageRead(HeaderPageID)
	if err != nil {
		return RID{}, false, err
	}
	rootID := asHeader(header.Data()).root()
	if rootID == InvalidPageID {
		header.Drop()
		return RID{}, false, nil
	}

	guard, err := t.bpm.FetchPageRead(rootID)
	header.Drop()
	if err != nil {
		return RID{}, false, err
	}

	// 手递手下降：先闩孩子再放父亲
	for !isLeafPage(guard.Data()) {
		childID := asInternal(guard.Data()).lookup(key)
		child, err := t.bpm.FetchPageRead(childID)
		if err != nil {
			guard.Drop()
			return RID{}, false, err
		}
		guard.Drop()
		guard = child
	}

	leaf := asLeaf(guard.Data())
	rid, found := leaf.lookup(key)
	if found && t.hashIndex != nil {
		t.hashIndex.record(key, guard.PageID())
	}
	guard.Drop()
	return rid, found, nil
}

// lookupByHint 按哈希索引给出的叶子页面直接查找
// 第三个返回值指示提示是否仍然有效：页面必须还是叶子，且键落在其键区间内。
// 提示失效时由调用方回退到根下降。
func (t *BPlusTree) lookupByHint(leafID PageID, key int64) (RID, bool, bool) {
	guard, err := t.bpm.FetchPageRead(leafID)
	if err != nil {
		return RID{}, false, false
	}
	defer guard.Drop()

	data := guard.Data()
	if !isLeafPage(data) {
		return RID{}, false, false
	}
	leaf := asLeaf(data)
	size := leaf.size()
	if size == 0 || key < leaf.keyAt(0) || key > leaf.keyAt(size-1) {
		return RID{}, false, false
	}

	rid, found := leaf.lookup(key)
	t.hashIndex.hitCount.Add(1)
	return rid, found, true
}

// IsEmpty 报告树中是否没有任何键
func (t *BPlusTree) IsEmpty() (bool, error) {
	if t.closed.Load() {
		return false, utils.ErrTreeClosed
	}
	header, err := t.bpm.FetchPageRead(HeaderPageID)
	if err != nil {
		return false, err
	}
	defer header.Drop()
	return asHeader(header.Data()).root() == InvalidPageID, nil
}

// GetStats 汇总树、缓冲池和磁盘三层的统计信息
func (t *BPlusTree) GetStats() map[string]interface{} {
	stats := map[string]interface{}{
		"lookup_count": t.lookupCount.Load(),
		"insert_count": t.insertCount.Load(),
		"remove_count": t.removeCount.Load(),
		"split_count":  t.splitCount.Load(),
		"merge_count":  t.mergeCount.Load(),
		"buffer_pool":  t.bpm.GetStats(),
		"disk":         t.disk.GetStats(),
	}
	if t.hashIndex != nil {
		stats["hash_index"] = t.hashIndex.getStats()
	}
	return stats
}

// ---------------------------------------------------------------------------
// 头页面视图
// ---------------------------------------------------------------------------

// headerView 头页面的结构化视图
type headerView struct {
	data []byte // 底层页面数据区
}

// asHeader 将页面数据解释为头页面
func asHeader(data []byte) headerView {
	return headerView{data: data}
}

// format 把页面初始化为空树的头页面
func (h headerView) format() {
	binary.LittleEndian.PutUint32(h.data[0:4], uint32(InvalidPageID))
	binary.LittleEndian.PutUint32(h.data[4:8], headerMagic)
	h.seal()
}

// root 返回根页面 ID
func (h headerView) root() PageID {
	return PageID(binary.LittleEndian.Uint32(h.data[0:4]))
}

// setRoot 更新根页面 ID 并重新签名
func (h headerView) setRoot(id PageID) {
	binary.LittleEndian.PutUint32(h.data[0:4], uint32(id))
	h.seal()
}

// seal 重算前 8 字节的校验和
func (h headerView) seal() {
	binary.LittleEndian.PutUint64(h.data[8:16], xxhash.Sum64(h.data[0:8]))
}

// verify 校验魔数和校验和
func (h headerView) verify() error {
	if binary.LittleEndian.Uint32(h.data[4:8]) != headerMagic {
		return errors.Wrap(utils.ErrChecksum, "头页面魔数不匹配")
	}
	if binary.LittleEndian.Uint64(h.data[8:16]) != xxhash.Sum64(h.data[0:8]) {
		return errors.Wrap(utils.ErrChecksum, "头页面校验和不匹配")
	}
	return nil
}
