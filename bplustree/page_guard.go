/*
AgateDB 页面守卫模块

守卫把"固定页面 + 持有闩锁"打包成一个带生命周期的对象，
B+树的闩锁爬行协议只与守卫打交道，不直接操作 pin 计数和闩锁。

三种守卫：
1. BasicPageGuard：只固定不加闩，用于尚未决定读写意图的页面
2. ReadPageGuard：固定并持有读闩锁
3. WritePageGuard：固定并持有写闩锁，释放时把页面标记为脏

使用约定：
- 守卫释放顺序固定为先还闩锁再解除固定，避免淘汰与闩锁竞争
- 守卫是一次性对象，Drop 后再访问属于编程错误
- 闩锁在缓冲池互斥锁之外获取，两把锁永不嵌套
*/

package bplustree

import (
	"github.com/util6/AgateDB/utils"
)

// BasicPageGuard 仅固定页面的守卫
type BasicPageGuard struct {
	bpm  *BufferPoolManager // 所属缓冲池
	page *Page              // 被守卫的页面
}

// PageID 返回被守卫页面的 ID
func (g *BasicPageGuard) PageID() PageID {
	utils.CondPanic(g.page == nil, "guard used after drop")
	return g.page.ID()
}

// Data 返回页面数据区
// 仅在调用方自行保证互斥时使用，通常应升级为读写守卫。
func (g *BasicPageGuard) Data() []byte {
	utils.CondPanic(g.page == nil, "guard used after drop")
	return g.page.Data()
}

// UpgradeRead 将基本守卫升级为读守卫
// 升级后原守卫失效。
func (g *BasicPageGuard) UpgradeRead() ReadPageGuard {
	utils.CondPanic(g.page == nil, "guard used after drop")
	g.page.RLatch()
	rg := ReadPageGuard{bpm: g.bpm, page: g.page}
	g.page = nil
	return rg
}

// UpgradeWrite 将基本守卫升级为写守卫
// 升级后原守卫失效。
func (g *BasicPageGuard) UpgradeWrite() WritePageGuard {
	utils.CondPanic(g.page == nil, "guard used after drop")
	g.page.WLatch()
	wg := WritePageGuard{bpm: g.bpm, page: g.page}
	g.page = nil
	return wg
}

// Drop 解除页面固定
// 守卫从未标记脏页，重复 Drop 为空操作。
func (g *BasicPageGuard) Drop() {
	if g.page == nil {
		return
	}
	g.bpm.UnpinPage(g.page.ID(), false)
	g.page = nil
}

// ReadPageGuard 持有读闩锁的页面守卫
type ReadPageGuard struct {
	bpm  *BufferPoolManager // 所属缓冲池
	page *Page              // 被守卫的页面
}

// PageID 返回被守卫页面的 ID
func (g *ReadPageGuard) PageID() PageID {
	utils.CondPanic(g.page == nil, "guard used after drop")
	return g.page.ID()
}

// Data 返回页面数据区（只读视角）
func (g *ReadPageGuard) Data() []byte {
	utils.CondPanic(g.page == nil, "guard used after drop")
	return g.page.Data()
}

// Valid 报告守卫是否仍持有页面
func (g *ReadPageGuard) Valid() bool {
	return g.page != nil
}

// Drop 释放读闩锁并解除固定
// 重复 Drop 为空操作。
func (g *ReadPageGuard) Drop() {
	if g.page == nil {
		return
	}
	pageID := g.page.ID()
	g.page.RUnlatch()
	g.bpm.UnpinPage(pageID, false)
	g.page = nil
}

// WritePageGuard 持有写闩锁的页面守卫
type WritePageGuard struct {
	bpm  *BufferPoolManager // 所属缓冲池
	page *Page              // 被守卫的页面
}

// PageID 返回被守卫页面的 ID
func (g *WritePageGuard) PageID() PageID {
	utils.CondPanic(g.page == nil, "guard used after drop")
	return g.page.ID()
}

// Data 返回页面数据区（可写视角）
func (g *WritePageGuard) Data() []byte {
	utils.CondPanic(g.page == nil, "guard used after drop")
	return g.page.Data()
}

// Valid 报告守卫是否仍持有页面
func (g *WritePageGuard) Valid() bool {
	return g.page != nil
}

// Drop 释放写闩锁并解除固定，页面按已修改处理
// 重复 Drop 为空操作。
func (g *WritePageGuard) Drop() {
	if g.page == nil {
		return
	}
	pageID := g.page.ID()
	g.page.WUnlatch()
	g.bpm.UnpinPage(pageID, true)
	g.page = nil
}

// FetchPageBasic 获取页面并返回基本守卫
func (bpm *BufferPoolManager) FetchPageBasic(pageID PageID) (BasicPageGuard, error) {
	page, err := bpm.FetchPage(pageID)
	if err != nil {
		return BasicPageGuard{}, err
	}
	return BasicPageGuard{bpm: bpm, page: page}, nil
}

// FetchPageRead 获取页面并返回读守卫
// 闩锁在缓冲池互斥锁释放之后获取。
func (bpm *BufferPoolManager) FetchPageRead(pageID PageID) (ReadPageGuard, error) {
	page, err := bpm.FetchPage(pageID)
	if err != nil {
		return ReadPageGuard{}, err
	}
	page.RLatch()
	return ReadPageGuard{bpm: bpm, page: page}, nil
}

// FetchPageWrite 获取页面并返回写守卫
// 闩锁在缓冲池互斥锁释放之后获取。
func (bpm *BufferPoolManager) FetchPageWrite(pageID PageID) (WritePageGuard, error) {
	page, err := bpm.FetchPage(pageID)
	if err != nil {
		return WritePageGuard{}, err
	}
	page.WLatch()
	return WritePageGuard{bpm: bpm, page: page}, nil
}

// NewPageGuarded 分配新页面并返回基本守卫
func (bpm *BufferPoolManager) NewPageGuarded() (BasicPageGuard, error) {
	page, err := bpm.NewPage()
	if err != nil {
		return BasicPageGuard{}, err
	}
	return BasicPageGuard{bpm: bpm, page: page}, nil
}
