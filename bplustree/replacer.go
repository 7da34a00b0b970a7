/*
AgateDB LRU-K 页面替换器模块

替换器跟踪缓冲池中每个帧的访问历史，在缓冲池需要腾出帧时选出牺牲者。
相比朴素 LRU，LRU-K 以"倒数第 K 次访问的时间"作为淘汰依据，
能够抵抗顺序扫描对热点页面的冲刷。

替换策略：
- 年轻帧（访问次数不足 K 次）：按首次访问的先后顺序 FIFO 淘汰
- 成熟帧（访问次数达到 K 次）：按倒数第 K 次访问时间升序淘汰
- 所有年轻帧都优先于成熟帧被淘汰

并发控制：
- 所有公开操作在内部互斥锁下原子执行
- 时间戳是内部单调递增的逻辑计数器，与真实时钟无关

契约：
- 帧号越界属于编程错误，直接断言终止
- 只有 evictable 标志为真的帧才是淘汰候选
*/

package bplustree

import (
	"sync"

	"github.com/util6/AgateDB/utils"
)

// lruKNode 单个帧的访问历史记录
type lruKNode struct {
	frameID     FrameID  // 帧号
	history     []uint64 // 最近至多 K 次访问的时间戳，FIFO 有界
	accessCount int      // 累计访问次数（可超过 K）
	evictable   bool     // 是否允许淘汰
}

// LRUKReplacer LRU-K 替换器
// 跟踪常驻帧的访问历史并按策略选择牺牲帧
type LRUKReplacer struct {
	// 并发控制
	mu sync.Mutex

	// 配置
	k        int // 策略参数 K
	capacity int // 可跟踪的最大帧数（等于缓冲池大小）

	// 帧历史
	nodes     map[FrameID]*lruKNode // 帧号到历史节点的映射
	currentTS uint64                // 单调递增的逻辑时间戳

	// 统计信息
	evictableCount int   // 当前可淘汰帧数量
	evictions      int64 // 累计淘汰次数
}

// NewLRUKReplacer 创建 LRU-K 替换器
// capacity 为缓冲池帧数，k 为策略参数
func NewLRUKReplacer(capacity int, k int) *LRUKReplacer {
	utils.CondPanic(capacity <= 0, "replacer capacity must be positive, got %d", capacity)
	utils.CondPanic(k <= 0, "replacer k must be positive, got %d", k)

	return &LRUKReplacer{
		k:        k,
		capacity: capacity,
		nodes:    make(map[FrameID]*lruKNode, capacity),
	}
}

// RecordAccess 记录一次对帧的访问
// 首次见到的帧会创建历史节点；历史时间戳有界于 K 条，FIFO 截断。
func (r *LRUKReplacer) RecordAccess(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.checkFrame(frameID)

	node, ok := r.nodes[frameID]
	if !ok {
		node = &lruKNode{frameID: frameID}
		r.nodes[frameID] = node
	}

	r.currentTS++
	node.accessCount++
	node.history = append(node.history, r.currentTS)
	if len(node.history) > r.k {
		node.history = node.history[1:]
	}
}

// SetEvictable 设置帧的可淘汰标志
// 标志不变或帧未知时为空操作
func (r *LRUKReplacer) SetEvictable(frameID FrameID, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.checkFrame(frameID)

	node, ok := r.nodes[frameID]
	if !ok || node.evictable == evictable {
		return
	}

	node.evictable = evictable
	if evictable {
		r.evictableCount++
	} else {
		r.evictableCount--
	}
}

// Evict 按 LRU-K 策略选出牺牲帧
// 优先淘汰年轻帧（按首次访问先后），其次淘汰成熟帧（按倒数第 K 次访问先后）。
// 成功时移除该帧的全部历史并返回帧号；没有可淘汰帧时返回 false。
func (r *LRUKReplacer) Evict() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var victim *lruKNode
	for _, node := range r.nodes {
		if !node.evictable {
			continue
		}
		if victim == nil || beats(node, victim, r.k) {
			victim = node
		}
	}

	if victim == nil {
		return 0, false
	}

	delete(r.nodes, victim.frameID)
	r.evictableCount--
	r.evictions++
	return victim.frameID, true
}

// beats 判断 a 是否比 b 更应当被淘汰
// 年轻帧（不足 K 次访问）优先于成熟帧；同一梯队内比较最老的保留时间戳：
// 年轻帧的 history[0] 是首次访问时间，成熟帧的 history[0] 是倒数第 K 次访问时间。
func beats(a, b *lruKNode, k int) bool {
	aYoung := a.accessCount < k
	bYoung := b.accessCount < k
	if aYoung != bYoung {
		return aYoung
	}
	return a.history[0] < b.history[0]
}

// Remove 强制移除帧的访问历史
// 帧未知时为空操作；帧存在但不可淘汰属于调用方契约违规。
func (r *LRUKReplacer) Remove(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.checkFrame(frameID)

	node, ok := r.nodes[frameID]
	if !ok {
		return
	}

	utils.CondPanic(!node.evictable, "Remove: frame %d is not evictable", frameID)

	delete(r.nodes, frameID)
	r.evictableCount--
}

// Evictions 返回累计淘汰次数
func (r *LRUKReplacer) Evictions() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictions
}

// Size 返回当前可淘汰的帧数量
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictableCount
}

// checkFrame 校验帧号范围，越界属于编程错误
func (r *LRUKReplacer) checkFrame(frameID FrameID) {
	utils.CondPanic(frameID < 0 || int(frameID) >= r.capacity,
		"frame id %d out of range [0, %d)", frameID, r.capacity)
}
