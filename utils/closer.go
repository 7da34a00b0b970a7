package utils

import (
	"sync"
)

// Closer 用于后台服务的信号控制
// 存储核心的刷盘服务、预读服务等长期运行的协程通过它实现优雅关闭：
// 上游调用 Close 发出关闭信号并等待，下游协程收到信号后完成清理并调用 Done。
type Closer struct {
	waiting sync.WaitGroup // waiting 等待所有后台协程退出

	CloseSignal chan struct{} // CloseSignal 关闭信号通道，close 后所有接收者被唤醒
}

// NewCloser 创建并返回一个新的 Closer 实例
func NewCloser() *Closer {
	return &Closer{
		CloseSignal: make(chan struct{}),
	}
}

// Add 增加等待计数，每启动一个后台协程前调用一次
func (c *Closer) Add(n int) {
	c.waiting.Add(n)
}

// Done 标示协程已经完成资源回收
func (c *Closer) Done() {
	c.waiting.Done()
}

// Close 通知所有后台协程退出，并阻塞等待它们全部完成
func (c *Closer) Close() {
	close(c.CloseSignal)
	c.waiting.Wait()
}
