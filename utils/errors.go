/*
AgateDB 错误定义模块

本模块集中定义存储核心的哨兵错误和断言工具。
调用方通过 errors.Is 判断错误类别，通过 errors.Wrapf 附加页面、帧等上下文信息。

错误分类：
1. 资源类错误：缓冲池耗尽、页面被引用等，调用方可以感知并重试
2. 状态类错误：页面不在缓冲池、键不存在等，通常以布尔值或空值形式向上传递
3. 编程错误：帧号越界、闩锁顺序违规等，属于调用方契约违规，直接断言终止
*/

package utils

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrPoolExhausted 缓冲池中所有帧都被引用，无法腾出帧
	ErrPoolExhausted = errors.New("buffer pool exhausted: all frames pinned")

	// ErrPageNotFound 页面不在缓冲池中
	ErrPageNotFound = errors.New("page not resident in buffer pool")

	// ErrPagePinned 页面仍被引用，无法删除或淘汰
	ErrPagePinned = errors.New("page is still pinned")

	// ErrDiskIO 磁盘读写失败
	ErrDiskIO = errors.New("disk io failure")

	// ErrChecksum 页面校验和不匹配，数据文件可能损坏
	ErrChecksum = errors.New("checksum mismatch")

	// ErrInvalidOptions 配置选项非法
	ErrInvalidOptions = errors.New("invalid options")

	// ErrTreeClosed 索引已关闭
	ErrTreeClosed = errors.New("index already closed")
)

// Panic 直接以错误终止进程，用于不可恢复的故障
func Panic(err error) {
	if err != nil {
		panic(err)
	}
}

// CondPanic 条件断言，condition 为真时以 msg 终止进程
// 用于检查调用方契约：帧号越界、闩锁顺序违规、守卫重复释放等编程错误
func CondPanic(condition bool, format string, args ...interface{}) {
	if condition {
		panic(fmt.Sprintf(format, args...))
	}
}
