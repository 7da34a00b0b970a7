/*
AgateDB 存储核心配置模块

Options 汇集存储核心的全部可调参数并提供带默认值的构造方式。
调用方通常从 DefaultOptions 出发，覆盖关心的字段后交给 Open。
*/

package bplustree

import (
	"time"

	"github.com/pkg/errors"

	"github.com/util6/AgateDB/utils"
)

// Options 存储核心配置
type Options struct {
	// WorkDir 工作目录，数据文件存放于此
	WorkDir string

	// PoolSize 缓冲池帧数量
	PoolSize int

	// ReplacerK LRU-K 替换器的 K 参数
	ReplacerK int

	// LeafMaxSize 叶子页面键数量上限
	LeafMaxSize int

	// InternalMaxSize 内部页面孩子数量上限
	InternalMaxSize int

	// FlushInterval 后台刷盘周期，零值关闭后台刷盘
	FlushInterval time.Duration

	// EnableHashIndex 是否启用自适应哈希索引加速点查
	EnableHashIndex bool

	// HashIndexShards 自适应哈希索引的分片数，必须为 2 的幂
	HashIndexShards int

	// EnablePrefetch 是否启用叶子页面预读
	EnablePrefetch bool

	// PrefetchQueueLen 预读请求队列长度
	PrefetchQueueLen int
}

// DefaultOptions 返回一套适合大多数场景的默认配置
func DefaultOptions(workDir string) Options {
	return Options{
		WorkDir:          workDir,
		PoolSize:         64,
		ReplacerK:        2,
		LeafMaxSize:      MaxLeafSize,
		InternalMaxSize:  MaxInternalSize,
		FlushInterval:    0,
		EnableHashIndex:  true,
		HashIndexShards:  16,
		EnablePrefetch:   true,
		PrefetchQueueLen: 32,
	}
}

// check 校验配置合法性
func (opt *Options) check() error {
	if opt.WorkDir == "" {
		return errors.Wrap(utils.ErrInvalidOptions, "工作目录不能为空")
	}
	if opt.PoolSize <= 0 {
		return errors.Wrapf(utils.ErrInvalidOptions, "缓冲池帧数必须为正，当前为 %d", opt.PoolSize)
	}
	if opt.ReplacerK <= 0 {
		return errors.Wrapf(utils.ErrInvalidOptions, "替换器 K 必须为正，当前为 %d", opt.ReplacerK)
	}
	if opt.LeafMaxSize < 2 || opt.LeafMaxSize > MaxLeafSize {
		return errors.Wrapf(utils.ErrInvalidOptions,
			"叶子容量必须在 [2, %d] 内，当前为 %d", MaxLeafSize, opt.LeafMaxSize)
	}
	if opt.InternalMaxSize < 3 || opt.InternalMaxSize > MaxInternalSize {
		return errors.Wrapf(utils.ErrInvalidOptions,
			"内部容量必须在 [3, %d] 内，当前为 %d", MaxInternalSize, opt.InternalMaxSize)
	}
	if opt.EnableHashIndex {
		if opt.HashIndexShards <= 0 || opt.HashIndexShards&(opt.HashIndexShards-1) != 0 {
			return errors.Wrapf(utils.ErrInvalidOptions,
				"哈希索引分片数必须为 2 的幂，当前为 %d", opt.HashIndexShards)
		}
	}
	if opt.EnablePrefetch && opt.PrefetchQueueLen <= 0 {
		return errors.Wrapf(utils.ErrInvalidOptions,
			"预读队列长度必须为正，当前为 %d", opt.PrefetchQueueLen)
	}
	return nil
}
