/*
AgateDB 磁盘管理器模块

磁盘管理器把数据文件抽象为按页面编号寻址的块设备，
缓冲池是它唯一的调用方，B+树从不直接接触磁盘。

核心功能：
1. 页面分配：单调递增地分配页面 ID
2. 页面读取：按页面 ID 读取 4KB 数据到调用方缓冲区
3. 页面写入：按页面 ID 写入 4KB 数据
4. 文件同步：按需将操作系统缓冲刷到持久介质

设计原理：
- 单一数据文件：页面 ID 乘以页面大小即文件偏移，寻址无需映射表
- 单调分配：已释放的页面 ID 不再复用，避免悬挂引用读到陈旧数据
- 原子计数：分配计数器使用原子操作，不与 I/O 路径争锁
*/

package bplustree

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/util6/AgateDB/utils"
)

// 磁盘管理常量
const (
	// DataFileName 数据文件名
	DataFileName = "agate.db"
)

// DiskManager 磁盘管理器
// 负责页面粒度的文件 I/O 和页面 ID 分配
type DiskManager struct {
	// 文件管理
	file *os.File   // 数据文件
	mu   sync.Mutex // 序列化文件读写

	// 页面分配
	nextPageID atomic.Uint32 // 下一个待分配的页面 ID

	// 统计信息
	readCount  atomic.Int64 // 页面读取次数
	writeCount atomic.Int64 // 页面写入次数
}

// NewDiskManager 打开或创建工作目录下的数据文件
// 已存在的文件按其大小恢复页面分配计数器。
func NewDiskManager(workDir string) (*DiskManager, error) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "无法创建工作目录 %s", workDir)
	}

	path := filepath.Join(workDir, DataFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "无法打开数据文件 %s", path)
	}

	dm := &DiskManager{file: f}

	// 从文件大小恢复分配计数器
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "无法获取文件 %s 的状态", path)
	}
	dm.nextPageID.Store(uint32((fi.Size() + PageSize - 1) / PageSize))

	return dm, nil
}

// AllocatePage 分配一个新的页面 ID
// 页面 ID 单调递增，已释放的 ID 不会被重新发放。
func (dm *DiskManager) AllocatePage() PageID {
	return PageID(dm.nextPageID.Add(1) - 1)
}

// DeallocatePage 释放页面
// 页面内容保留在磁盘上，ID 不再复用，因此这里不做清零。
func (dm *DiskManager) DeallocatePage(pageID PageID) {
	// 单调分配器下无事可做
}

// ReadPage 读取页面内容到 buf
// buf 必须恰好为 PageSize 字节。读取尚未写过的页面返回全零数据。
func (dm *DiskManager) ReadPage(pageID PageID, buf []byte) error {
	utils.CondPanic(len(buf) != PageSize, "ReadPage: buffer size %d != page size %d", len(buf), PageSize)
	utils.CondPanic(pageID == InvalidPageID, "ReadPage: invalid page id")

	dm.mu.Lock()
	defer dm.mu.Unlock()

	offset := int64(pageID) * PageSize
	n, err := dm.file.ReadAt(buf, offset)
	if err != nil {
		if errors.Is(err, io.EOF) {
			// 页面已分配但尚未落盘，返回全零内容
			for i := n; i < PageSize; i++ {
				buf[i] = 0
			}
			dm.readCount.Add(1)
			return nil
		}
		return errors.Wrapf(utils.ErrDiskIO, "读取页面 %d 失败: %v", pageID, err)
	}

	dm.readCount.Add(1)
	return nil
}

// WritePage 将 buf 写入页面
// buf 必须恰好为 PageSize 字节
func (dm *DiskManager) WritePage(pageID PageID, buf []byte) error {
	utils.CondPanic(len(buf) != PageSize, "WritePage: buffer size %d != page size %d", len(buf), PageSize)
	utils.CondPanic(pageID == InvalidPageID, "WritePage: invalid page id")

	dm.mu.Lock()
	defer dm.mu.Unlock()

	offset := int64(pageID) * PageSize
	if _, err := dm.file.WriteAt(buf, offset); err != nil {
		return errors.Wrapf(utils.ErrDiskIO, "写入页面 %d 失败: %v", pageID, err)
	}

	dm.writeCount.Add(1)
	return nil
}

// Sync 将数据文件的操作系统缓冲刷到持久介质
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if err := syncFile(dm.file); err != nil {
		return errors.Wrapf(utils.ErrDiskIO, "同步数据文件失败: %v", err)
	}
	return nil
}

// PageCount 返回已分配的页面数量
func (dm *DiskManager) PageCount() int {
	return int(dm.nextPageID.Load())
}

// GetStats 获取磁盘管理器统计信息
func (dm *DiskManager) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"page_count":  dm.PageCount(),
		"read_count":  dm.readCount.Load(),
		"write_count": dm.writeCount.Load(),
	}
}

// Close 同步并关闭数据文件
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if err := syncFile(dm.file); err != nil {
		return errors.Wrapf(err, "关闭前同步数据文件失败")
	}
	if err := dm.file.Close(); err != nil {
		return errors.Wrapf(err, "关闭数据文件时出错")
	}
	return nil
}
