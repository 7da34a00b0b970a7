/*
AgateDB 自适应哈希索引模块

自适应哈希索引为热点键维护"键到叶子页面"的捷径，
点查命中提示时直接闩住目标叶子，省掉整条从根下降的路径。

提示只是猜测，不参与树的正确性：
- 命中后仍在叶子闩锁下校验页面类型和键区间，校验失败即回退根下降
- 任何分裂、合并或重分配都会整体清空提示表，
  清空只损失加速效果，树的读写语义不受影响

分片设计：
- 提示表按键的 xxhash 值切成若干分片，每片独立加读写锁
- 分片数为 2 的幂，用位与代替取模
*/

package bplustree

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// hashShard 哈希索引的单个分片
type hashShard struct {
	mu    sync.RWMutex     // 保护本分片的提示表
	hints map[int64]PageID // 键到叶子页面的提示
}

// adaptiveHashIndex 热点键的叶子定位捷径
type adaptiveHashIndex struct {
	shards []*hashShard // 分片数组，长度为 2 的幂
	mask   uint64       // 分片下标掩码

	// 统计信息
	hitCount  atomic.Int64 // 提示命中且校验通过的次数
	missCount atomic.Int64 // 查询时无提示的次数
	clears    atomic.Int64 // 结构调整触发的整表清空次数
}

// newAdaptiveHashIndex 创建自适应哈希索引
// shardCount 必须为 2 的幂，由配置校验保证。
func newAdaptiveHashIndex(shardCount int) *adaptiveHashIndex {
	idx := &adaptiveHashIndex{
		shards: make([]*hashShard, shardCount),
		mask:   uint64(shardCount - 1),
	}
	for i := range idx.shards {
		idx.shards[i] = &hashShard{hints: make(map[int64]PageID)}
	}
	return idx
}

// shardOf 返回键所属的分片
func (idx *adaptiveHashIndex) shardOf(key int64) *hashShard {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(key))
	return idx.shards[xxhash.Sum64(buf[:])&idx.mask]
}

// lookup 查询键的叶子提示
func (idx *adaptiveHashIndex) lookup(key int64) (PageID, bool) {
	s := idx.shardOf(key)
	s.mu.RLock()
	leafID, ok := s.hints[key]
	s.mu.RUnlock()
	if !ok {
		idx.missCount.Add(1)
	}
	return leafID, ok
}

// record 记录一次成功点查的叶子位置
func (idx *adaptiveHashIndex) record(key int64, leafID PageID) {
	s := idx.shardOf(key)
	s.mu.Lock()
	s.hints[key] = leafID
	s.mu.Unlock()
}

// invalidate 删除单个键的提示
func (idx *adaptiveHashIndex) invalidate(key int64) {
	s := idx.shardOf(key)
	s.mu.Lock()
	delete(s.hints, key)
	s.mu.Unlock()
}

// clear 清空全部提示
// 树发生结构调整后调用，过期提示宁可全丢也不冒险指错叶子。
func (idx *adaptiveHashIndex) clear() {
	for _, s := range idx.shards {
		s.mu.Lock()
		s.hints = make(map[int64]PageID)
		s.mu.Unlock()
	}
	idx.clears.Add(1)
}

// size 返回当前提示数量
func (idx *adaptiveHashIndex) size() int {
	total := 0
	for _, s := range idx.shards {
		s.mu.RLock()
		total += len(s.hints)
		s.mu.RUnlock()
	}
	return total
}

// getStats 获取哈希索引统计信息
func (idx *adaptiveHashIndex) getStats() map[string]interface{} {
	return map[string]interface{}{
		"hint_count": idx.size(),
		"hit_count":  idx.hitCount.Load(),
		"miss_count": idx.missCount.Load(),
		"clears":     idx.clears.Load(),
	}
}
