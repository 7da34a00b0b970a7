/*
AgateDB B+树迭代器模块

迭代器沿叶子兄弟链做升序范围扫描。任一时刻至多持有一张叶子的读闩锁，
跨叶子推进时先释放当前叶子再闩下一张，因此迭代器之间以及迭代器与
写操作之间不会因兄弟闩锁顺序互相等待。

一致性语义：
- 迭代器读到的每张叶子都是闩锁保护下的一致快照
- 跨叶子的瞬间不持有任何闩锁，期间发生的分裂或合并
  可能让扫描漏掉或重复边界附近的键，扫描不提供全局快照隔离

预读：
- 推进到新叶子时把它的右兄弟交给预读服务，在后台提前拉入缓冲池
*/

package bplustree

import (
	"github.com/util6/AgateDB/utils"
)

// Iterator B+树升序迭代器
// 迭代器不是并发安全的，单个迭代器只能被一个协程使用。
type Iterator struct {
	tree  *BPlusTree    // 所属 B+树
	guard ReadPageGuard // 当前叶子的读守卫
	idx   int           // 叶子内槽下标
	done  bool          // 是否已越过末尾
}

// Begin 返回定位在最小键上的迭代器
// 树为空时返回已结束的迭代器。
func (t *BPlusTree) Begin() (*Iterator, error) {
	if t.closed.Load() {
		return nil, utils.ErrTreeClosed
	}

	guard, empty, err := t.leftmostLeaf()
	if err != nil {
		return nil, err
	}
	if empty {
		return &Iterator{tree: t, done: true}, nil
	}

	it := &Iterator{tree: t, guard: guard}
	it.skipEmptyLeaves()
	return it, nil
}

// BeginAt 返回定位在第一个不小于 key 的键上的迭代器
// 所有键都小于 key 时返回已结束的迭代器。
func (t *BPlusTree) BeginAt(key int64) (*Iterator, error) {
	if t.closed.Load() {
		return nil, utils.ErrTreeClosed
	}

	header, err := t.bpm.FetchPageRead(HeaderPageID)
	if err != nil {
		return nil, err
	}
	rootID := asHeader(header.Data()).root()
	if rootID == InvalidPageID {
		header.Drop()
		return &Iterator{tree: t, done: true}, nil
	}

	guard, err := t.bpm.FetchPageRead(rootID)
	header.Drop()
	if err != nil {
		return nil, err
	}
	for !isLeafPage(guard.Data()) {
		childID := asInternal(guard.Data()).lookup(key)
		child, err := t.bpm.FetchPageRead(childID)
		if err != nil {
			guard.Drop()
			return nil, err
		}
		guard.Drop()
		guard = child
	}

	it := &Iterator{tree: t, guard: guard}
	it.idx = asLeaf(guard.Data()).lowerBound(key)
	it.skipEmptyLeaves()
	return it, nil
}

// leftmostLeaf 下降到最左叶子并返回其读守卫
// 第二个返回值指示树是否为空。
func (t *BPlusTree) leftmostLeaf() (ReadPageGuard, bool, error) {
	header, err := t.bpm.FetchPageRead(HeaderPageID)
	if err != nil {
		return ReadPageGuard{}, false, err
	}
	rootID := asHeader(header.Data()).root()
	if rootID == InvalidPageID {
		header.Drop()
		return ReadPageGuard{}, true, nil
	}

	guard, err := t.bpm.FetchPageRead(rootID)
	header.Drop()
	if err != nil {
		return ReadPageGuard{}, false, err
	}
	for !isLeafPage(guard.Data()) {
		childID := asInternal(guard.Data()).childAt(0)
		child, err := t.bpm.FetchPageRead(childID)
		if err != nil {
			guard.Drop()
			return ReadPageGuard{}, false, err
		}
		guard.Drop()
		guard = child
	}
	return guard, false, nil
}

// IsEnd 报告迭代器是否已越过最后一个键
func (it *Iterator) IsEnd() bool {
	return it.done
}

// Key 返回当前键
func (it *Iterator) Key() int64 {
	utils.CondPanic(it.done, "iterator used past the end")
	return asLeaf(it.guard.Data()).keyAt(it.idx)
}

// Value 返回当前记录 ID
func (it *Iterator) Value() RID {
	utils.CondPanic(it.done, "iterator used past the end")
	return asLeaf(it.guard.Data()).ridAt(it.idx)
}

// Next 推进到下一个键
// 越过末尾后迭代器进入结束态，重复调用为空操作。
func (it *Iterator) Next() error {
	if it.done {
		return nil
	}
	it.idx++
	it.skipEmptyLeaves()
	return nil
}

// Close 释放迭代器占用的页面
// 扫描提前中止时必须调用；自然走到末尾的迭代器已经释放。
func (it *Iterator) Close() {
	if !it.done {
		it.guard.Drop()
		it.done = true
	}
}

// skipEmptyLeaves 当前下标越过叶子末尾时沿兄弟链前进
// 先放开当前叶子再闩下一张，并把更右侧的兄弟交给预读。
func (it *Iterator) skipEmptyLeaves() {
	for {
		leaf := asLeaf(it.guard.Data())
		if it.idx < leaf.size() {
			return
		}
		nextID := leaf.next()
		it.guard.Drop()
		if nextID == InvalidPageID {
			it.done = true
			return
		}

		guard, err := it.tree.bpm.FetchPageRead(nextID)
		if err != nil {
			it.done = true
			return
		}
		it.guard = guard
		it.idx = 0

		if it.tree.prefetcher != nil {
			if ahead := asLeaf(guard.Data()).next(); ahead != InvalidPageID {
				it.tree.prefetcher.enqueue(ahead)
			}
		}
	}
}
