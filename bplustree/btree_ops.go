/*
AgateDB B+树结构操作模块

本模块实现插入和删除的闩锁爬行协议以及由它们触发的结构调整：
叶子与内部节点的分裂、合并、重分配和根的升降。

爬行上下文（opContext）维护一次写操作持有的全部写闩锁：
- header：头页面守卫，只要本次操作还可能变更根指针就一直持有
- writeSet：从最深的安全祖先（或根）到当前节点的守卫栈
- 下降时每确认一个孩子安全，就释放头页面和栈中全部祖先

安全性判定：
- 插入安全：节点再接纳一个键/孩子也不会分裂（size < max）
- 删除安全：节点再失去一个键/孩子也不会低于半满；
  根的规则不同：叶子根只要还剩一个键就合法，内部根只要还剩两个孩子就合法

结构调整约定：
- 分裂把右半部分搬进新页面，分隔键上推给父节点
- 合并总是把右节点并入左节点，父节点删掉指向右节点的槽
- 重分配向相邻兄弟借一个键/孩子并更新父节点分隔键
- 被并空的页面在释放守卫后归还缓冲池
*/

package bplustree

import (
	"github.com/util6/AgateDB/utils"
)

// opContext 一次写操作的闩锁爬行上下文
type opContext struct {
	header     WritePageGuard   // 头页面守卫
	headerHeld bool             // 头页面守卫是否仍被持有
	writeSet   []WritePageGuard // 下降路径上保留的写守卫栈
	rootTop    bool             // writeSet[0] 是否是根页面
	structural bool             // 本次操作是否发生了结构调整
}

// releaseAncestors 释放头页面和栈中全部守卫
// 在确认新下降到的孩子安全之后调用。
func (ctx *opContext) releaseAncestors() {
	if ctx.headerHeld {
		ctx.header.Drop()
		ctx.headerHeld = false
	}
	for i := range ctx.writeSet {
		ctx.writeSet[i].Drop()
	}
	ctx.writeSet = ctx.writeSet[:0]
	ctx.rootTop = false
}

// releaseAll 释放本次操作持有的全部守卫
// 重复释放是安全的，已释放的守卫为空操作。
func (ctx *opContext) releaseAll() {
	if ctx.headerHeld {
		ctx.header.Drop()
		ctx.headerHeld = false
	}
	for i := len(ctx.writeSet) - 1; i >= 0; i-- {
		ctx.writeSet[i].Drop()
	}
	ctx.writeSet = nil
}

// Insert 插入键值对
// 键已存在时不修改并返回 false，这是唯一键约束。
func (t *BPlusTree) Insert(key int64, rid RID) (bool, error) {
	if t.closed.Load() {
		return false, utils.ErrTreeClosed
	}
	t.insertCount.Add(1)

	ctx := &opContext{}
	defer func() {
		ctx.releaseAll()
		if ctx.structural && t.hashIndex != nil {
			t.hashIndex.clear()
		}
	}()

	header, err := t.bpm.FetchPageWrite(HeaderPageID)
	if err != nil {
		return false, err
	}
	ctx.header = header
	ctx.headerHeld = true

	rootID := asHeader(ctx.header.Data()).root()
	if rootID == InvalidPageID {
		if err := t.startNewTree(ctx, key, rid); err != nil {
			return false, err
		}
		return true, nil
	}

	guard, err := t.bpm.FetchPageWrite(rootID)
	if err != nil {
		return false, err
	}
	if t.insertSafe(guard.Data()) {
		ctx.header.Drop()
		ctx.headerHeld = false
	}
	ctx.writeSet = append(ctx.writeSet, guard)
	ctx.rootTop = true

	// 爬行下降：孩子安全则释放全部祖先
	for {
		top := &ctx.writeSet[len(ctx.writeSet)-1]
		if isLeafPage(top.Data()) {
			break
		}
		childID := asInternal(top.Data()).lookup(key)
		child, err := t.bpm.FetchPageWrite(childID)
		if err != nil {
			return false, err
		}
		if t.insertSafe(child.Data()) {
			ctx.releaseAncestors()
		}
		ctx.writeSet = append(ctx.writeSet, child)
	}

	leafIdx := len(ctx.writeSet) - 1
	leaf := asLeaf(ctx.writeSet[leafIdx].Data())
	if !leaf.insert(key, rid) {
		return false, nil
	}
	if leaf.size() <= t.leafMaxSize {
		return true, nil
	}

	if err := t.splitLeaf(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Remove 删除键
// 键不存在时为空操作。
func (t *BPlusTree) Remove(key int64) error {
	if t.closed.Load() {
		return utils.ErrTreeClosed
	}
	t.removeCount.Add(1)

	ctx := &opContext{}
	defer func() {
		ctx.releaseAll()
		if ctx.structural && t.hashIndex != nil {
			t.hashIndex.clear()
		}
	}()

	header, err := t.bpm.FetchPageWrite(HeaderPageID)
	if err != nil {
		return err
	}
	ctx.header = header
	ctx.headerHeld = true

	rootID := asHeader(ctx.header.Data()).root()
	if rootID == InvalidPageID {
		return nil
	}

	guard, err := t.bpm.FetchPageWrite(rootID)
	if err != nil {
		return err
	}
	if t.removeSafe(guard.Data(), true) {
		ctx.header.Drop()
		ctx.headerHeld = false
	}
	ctx.writeSet = append(ctx.writeSet, guard)
	ctx.rootTop = true

	for {
		top := &ctx.writeSet[len(ctx.writeSet)-1]
		if isLeafPage(top.Data()) {
			break
		}
		childID := asInternal(top.Data()).lookup(key)
		child, err := t.bpm.FetchPageWrite(childID)
		if err != nil {
			return err
		}
		if t.removeSafe(child.Data(), false) {
			ctx.releaseAncestors()
		}
		ctx.writeSet = append(ctx.writeSet, child)
	}

	leafIdx := len(ctx.writeSet) - 1
	leaf := asLeaf(ctx.writeSet[leafIdx].Data())
	if !leaf.remove(key) {
		return nil
	}
	if t.hashIndex != nil {
		t.hashIndex.invalidate(key)
	}

	if leafIdx == 0 && ctx.rootTop {
		// 叶子即根：删空才收缩整棵树
		if leaf.size() == 0 {
			return t.adjustRoot(ctx)
		}
		return nil
	}
	if leaf.size() >= leaf.minSize() {
		return nil
	}
	return t.fixUnderflow(ctx, leafIdx)
}

// insertSafe 判断节点再接纳一个键/孩子是否仍不会分裂
func (t *BPlusTree) insertSafe(data []byte) bool {
	if isLeafPage(data) {
		return asLeaf(data).size() < t.leafMaxSize
	}
	return asInternal(data).size() < t.internalMaxSize
}

// removeSafe 判断节点再失去一个键/孩子是否仍然合法
func (t *BPlusTree) removeSafe(data []byte, isRoot bool) bool {
	if isLeafPage(data) {
		leaf := asLeaf(data)
		if isRoot {
			return leaf.size() > 1
		}
		return leaf.size() > leaf.minSize()
	}
	node := asInternal(data)
	if isRoot {
		return node.size() > 2
	}
	return node.size() > node.minSize()
}

// startNewTree 为第一个键创建叶子根
func (t *BPlusTree) startNewTree(ctx *opContext, key int64, rid RID) error {
	basic, err := t.bpm.NewPageGuarded()
	if err != nil {
		return err
	}
	rootGuard := basic.UpgradeWrite()
	leaf := asLeaf(rootGuard.Data())
	leaf.init(t.leafMaxSize)
	leaf.insert(key, rid)
	asHeader(ctx.header.Data()).setRoot(rootGuard.PageID())
	rootGuard.Drop()
	return nil
}

// splitLeaf 分裂栈顶的过满叶子
// 右半部分搬进新页面并接入兄弟链，首键作为分隔键上推。
func (t *BPlusTree) splitLeaf(ctx *opContext) error {
	idx := len(ctx.writeSet) - 1
	leafGuard := &ctx.writeSet[idx]
	leaf := asLeaf(leafGuard.Data())

	basic, err := t.bpm.NewPageGuarded()
	if err != nil {
		return err
	}
	sibGuard := basic.UpgradeWrite()
	sib := asLeaf(sibGuard.Data())
	sib.init(t.leafMaxSize)

	splitKey := leaf.moveHalfTo(sib)
	sib.setNext(leaf.next())
	leaf.setNext(sibGuard.PageID())
	sib.setParent(leaf.parent())

	t.splitCount.Add(1)
	ctx.structural = true

	err = t.insertIntoParent(ctx, idx, splitKey, &sibGuard)
	sibGuard.Drop()
	return err
}

// insertIntoParent 把分裂产生的分隔键和右兄弟插入父节点
// idx 是左节点在守卫栈中的下标。父节点随之过满时递归分裂，
// 分裂传播到栈底的根时创建新根并更新头页面。
func (t *BPlusTree) insertIntoParent(ctx *opContext, idx int, key int64, rightGuard *WritePageGuard) error {
	leftID := ctx.writeSet[idx].PageID()
	rightID := rightGuard.PageID()

	if idx == 0 {
		// 根分裂：长高一层
		utils.CondPanic(!ctx.rootTop, "split escaped past a safe ancestor")
		utils.CondPanic(!ctx.headerHeld, "root split without header latch")

		basic, err := t.bpm.NewPageGuarded()
		if err != nil {
			return err
		}
		rootGuard := basic.UpgradeWrite()
		asInternal(rootGuard.Data()).initRoot(t.internalMaxSize, leftID, key, rightID)
		newRootID := rootGuard.PageID()
		setPageParent(ctx.writeSet[idx].Data(), newRootID)
		setPageParent(rightGuard.Data(), newRootID)
		asHeader(ctx.header.Data()).setRoot(newRootID)
		rootGuard.Drop()
		return nil
	}

	parentGuard := &ctx.writeSet[idx-1]
	parent := asInternal(parentGuard.Data())
	parent.insertAfter(leftID, key, rightID)
	setPageParent(rightGuard.Data(), parentGuard.PageID())

	if parent.size() <= t.internalMaxSize {
		return nil
	}

	// 父节点过满，继续分裂
	basic, err := t.bpm.NewPageGuarded()
	if err != nil {
		return err
	}
	sibGuard := basic.UpgradeWrite()
	sib := asInternal(sibGuard.Data())
	sib.init(t.internalMaxSize)

	pushKey := parent.moveHalfTo(sib)
	sib.setParent(parent.parent())
	if err := t.adoptChildren(sib, 0, sibGuard.PageID()); err != nil {
		sibGuard.Drop()
		return err
	}
	t.splitCount.Add(1)

	err = t.insertIntoParent(ctx, idx-1, pushKey, &sibGuard)
	sibGuard.Drop()
	return err
}

// fixUnderflow 修复栈中 idx 处不足半满的节点
// 与相邻兄弟合并或重分配；idx 为 0 时交给根收缩处理。
func (t *BPlusTree) fixUnderflow(ctx *opContext, idx int) error {
	if idx == 0 {
		utils.CondPanic(!ctx.rootTop, "underflow escaped past a safe ancestor")
		return t.adjustRoot(ctx)
	}

	nodeGuard := &ctx.writeSet[idx]
	parent := asInternal(ctx.writeSet[idx-1].Data())
	nodePos := parent.childIndex(nodeGuard.PageID())
	utils.CondPanic(nodePos < 0, "page %d missing from its parent", nodeGuard.PageID())

	// 优先选左兄弟，最左节点只能选右兄弟
	sibPos := nodePos - 1
	if nodePos == 0 {
		sibPos = 1
	}
	sibGuard, err := t.bpm.FetchPageWrite(parent.childAt(sibPos))
	if err != nil {
		return err
	}

	ctx.structural = true
	if isLeafPage(nodeGuard.Data()) {
		return t.fixLeaf(ctx, idx, nodePos, sibPos, sibGuard)
	}
	return t.fixInternal(ctx, idx, nodePos, sibPos, sibGuard)
}

// fixLeaf 对不足半满的叶子做合并或重分配
func (t *BPlusTree) fixLeaf(ctx *opContext, idx, nodePos, sibPos int, sibGuard WritePageGuard) error {
	nodeGuard := &ctx.writeSet[idx]
	parent := asInternal(ctx.writeSet[idx-1].Data())
	node := asLeaf(nodeGuard.Data())
	sib := asLeaf(sibGuard.Data())

	if node.size()+sib.size() <= t.leafMaxSize {
		// 合并：右节点并入左节点后归还页面
		var deadID PageID
		if sibPos < nodePos {
			node.moveAllTo(sib)
			parent.removeAt(nodePos)
			deadID = nodeGuard.PageID()
			nodeGuard.Drop()
			sibGuard.Drop()
		} else {
			sib.moveAllTo(node)
			parent.removeAt(sibPos)
			deadID = sibGuard.PageID()
			sibGuard.Drop()
		}
		t.bpm.DeletePage(deadID)
		t.mergeCount.Add(1)
		return t.fixParent(ctx, idx-1)
	}

	// 重分配：向兄弟借一个键并修正父节点分隔键
	if sibPos < nodePos {
		sib.moveLastToFrontOf(node)
		parent.setKeyAt(nodePos, node.keyAt(0))
	} else {
		sib.moveFirstToEndOf(node)
		parent.setKeyAt(sibPos, sib.keyAt(0))
	}
	sibGuard.Drop()
	return nil
}

// fixInternal 对不足半满的内部节点做合并或重分配
// 合并把父节点的分隔键下拉，重分配让键经由父节点旋转。
func (t *BPlusTree) fixInternal(ctx *opContext, idx, nodePos, sibPos int, sibGuard WritePageGuard) error {
	nodeGuard := &ctx.writeSet[idx]
	parent := asInternal(ctx.writeSet[idx-1].Data())
	node := asInternal(nodeGuard.Data())
	sib := asInternal(sibGuard.Data())

	if node.size()+sib.size() <= t.internalMaxSize {
		var deadID PageID
		if sibPos < nodePos {
			middleKey := parent.keyAt(nodePos)
			oldSize := sib.size()
			node.moveAllTo(sib, middleKey)
			if err := t.adoptChildren(sib, oldSize, sibGuard.PageID()); err != nil {
				sibGuard.Drop()
				return err
			}
			parent.removeAt(nodePos)
			deadID = nodeGuard.PageID()
			nodeGuard.Drop()
			sibGuard.Drop()
		} else {
			middleKey := parent.keyAt(sibPos)
			oldSize := node.size()
			sib.moveAllTo(node, middleKey)
			if err := t.adoptChildren(node, oldSize, nodeGuard.PageID()); err != nil {
				sibGuard.Drop()
				return err
			}
			parent.removeAt(sibPos)
			deadID = sibGuard.PageID()
			sibGuard.Drop()
		}
		t.bpm.DeletePage(deadID)
		t.mergeCount.Add(1)
		return t.fixParent(ctx, idx-1)
	}

	if sibPos < nodePos {
		middleKey := parent.keyAt(nodePos)
		newMiddle := sib.moveLastToFrontOf(node, middleKey)
		parent.setKeyAt(nodePos, newMiddle)
		if err := t.adoptChild(node.childAt(0), nodeGuard.PageID()); err != nil {
			sibGuard.Drop()
			return err
		}
	} else {
		middleKey := parent.keyAt(sibPos)
		newMiddle := sib.moveFirstToEndOf(node, middleKey)
		parent.setKeyAt(sibPos, newMiddle)
		if err := t.adoptChild(node.childAt(node.size()-1), nodeGuard.PageID()); err != nil {
			sibGuard.Drop()
			return err
		}
	}
	sibGuard.Drop()
	return nil
}

// fixParent 在孩子合并之后检查父节点是否需要继续修复
func (t *BPlusTree) fixParent(ctx *opContext, idx int) error {
	parent := asInternal(ctx.writeSet[idx].Data())
	if idx == 0 {
		if ctx.rootTop && parent.size() == 1 {
			return t.adjustRoot(ctx)
		}
		return nil
	}
	if parent.size() < parent.minSize() {
		return t.fixUnderflow(ctx, idx)
	}
	return nil
}

// adjustRoot 收缩根
// 叶子根删空时树变空；只剩一个孩子的内部根把孩子提升为新根。
func (t *BPlusTree) adjustRoot(ctx *opContext) error {
	utils.CondPanic(!ctx.headerHeld, "root change without header latch")
	rootGuard := &ctx.writeSet[0]
	ctx.structural = true

	if isLeafPage(rootGuard.Data()) {
		asHeader(ctx.header.Data()).setRoot(InvalidPageID)
		deadID := rootGuard.PageID()
		rootGuard.Drop()
		t.bpm.DeletePage(deadID)
		return nil
	}

	root := asInternal(rootGuard.Data())
	utils.CondPanic(root.size() != 1, "shrinking a root with %d children", root.size())
	childID := root.childAt(0)
	asHeader(ctx.header.Data()).setRoot(childID)
	if err := t.adoptChild(childID, InvalidPageID); err != nil {
		return err
	}
	deadID := rootGuard.PageID()
	rootGuard.Drop()
	t.bpm.DeletePage(deadID)
	return nil
}

// adoptChild 更新单个孩子页面的父指针
func (t *BPlusTree) adoptChild(childID PageID, parentID PageID) error {
	page, err := t.bpm.FetchPage(childID)
	if err != nil {
		return err
	}
	setPageParent(page.Data(), parentID)
	t.bpm.UnpinPage(childID, true)
	return nil
}

// adoptChildren 更新内部节点从 from 起全部孩子的父指针
// 节点分裂或合并搬动孩子之后调用。
func (t *BPlusTree) adoptChildren(n internalNode, from int, parentID PageID) error {
	for i := from; i < n.size(); i++ {
		if err := t.adoptChild(n.childAt(i), parentID); err != nil {
			return err
		}
	}
	return nil
}
