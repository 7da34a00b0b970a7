/*
AgateDB 页面预读模块

预读服务把迭代器即将访问的叶子页面提前拉入缓冲池。
范围扫描沿兄弟链推进时，下一张叶子的磁盘读取与当前叶子的
消费并行进行，长扫描不再被逐页的同步 I/O 卡住节奏。

预读是纯粹的优化：
- 请求队列有界，队列满时直接丢弃请求
- 预读失败（页面读错、缓冲池耗尽）静默忽略，由前台路径兜底
- 预读只做 Fetch 加 Unpin，把页面留在池中等待命中
*/

package bplustree

import (
	"sync/atomic"

	"github.com/util6/AgateDB/utils"
)

// prefetcher 叶子页面预读服务
type prefetcher struct {
	bpm      *BufferPoolManager // 目标缓冲池
	requests chan PageID        // 预读请求队列
	closer   *utils.Closer      // 服务生命周期

	// 统计信息
	accepted atomic.Int64 // 接受的预读请求数
	dropped  atomic.Int64 // 队列满被丢弃的请求数
}

// newPrefetcher 创建并启动预读服务
func newPrefetcher(bpm *BufferPoolManager, queueLen int) *prefetcher {
	p := &prefetcher{
		bpm:      bpm,
		requests: make(chan PageID, queueLen),
		closer:   utils.NewCloser(),
	}
	p.closer.Add(1)
	go p.run()
	return p
}

// enqueue 提交一个预读请求
// 队列满时丢弃请求，调用方永不阻塞。
func (p *prefetcher) enqueue(pageID PageID) {
	select {
	case p.requests <- pageID:
		p.accepted.Add(1)
	default:
		p.dropped.Add(1)
	}
}

// run 预读工作协程
func (p *prefetcher) run() {
	defer p.closer.Done()

	for {
		select {
		case <-p.closer.CloseSignal:
			return
		case pageID := <-p.requests:
			page, err := p.bpm.FetchPage(pageID)
			if err != nil {
				continue
			}
			p.bpm.UnpinPage(page.ID(), false)
		}
	}
}

// close 停止预读服务
func (p *prefetcher) close() {
	p.closer.Close()
}
