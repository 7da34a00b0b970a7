/*
AgateDB B+树节点模块

节点是叠加在 4KB 页面字节上的结构化视图，不持有任何内存，
所有读写都直接落在缓冲池帧的数据区里。视图对象可以随意创建和丢弃，
页面闩锁由持有守卫的调用方负责。

页面布局（全部小端）：

  头页面（页面 0）：
    [0:4)   根页面 ID
    [4:8)   魔数
    [8:16)  前 8 字节的 xxhash 校验和

  内部页面：
    [0:1)   页面类型标记（1）
    [1:5)   孩子数量
    [5:9)   孩子数量上限
    [9:13)  父页面 ID
    [13:)   槽数组，每槽 12 字节：键 8 字节 + 孩子页面 ID 4 字节
            0 号槽的键位无效，第 i 个键分隔第 i-1 和第 i 个孩子

  叶子页面：
    [0:1)   页面类型标记（2）
    [1:5)   键数量
    [5:9)   键数量上限
    [9:13)  父页面 ID
    [13:17) 右兄弟页面 ID
    [17:)   槽数组，每槽 16 字节：键 8 字节 + 记录 ID 8 字节

分裂时允许节点短暂超出上限一个槽位，容量上限的选取保证
这个临时槽位仍在页面边界之内。
*/

package bplustree

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// 页面类型标记
const (
	pageTagInternal byte = 1 // 内部页面
	pageTagLeaf     byte = 2 // 叶子页面
)

// 节点布局常量
const (
	// internalSlotStart 内部页面槽数组的起始偏移
	internalSlotStart = 13
	// internalSlotSize 内部页面单个槽的字节数
	internalSlotSize = 12

	// leafSlotStart 叶子页面槽数组的起始偏移
	leafSlotStart = 17
	// leafSlotSize 叶子页面单个槽的字节数
	leafSlotSize = 16

	// MaxInternalSize 内部页面孩子数量上限的最大取值
	// 保留一个临时槽位：(339+1)*12 + 13 = 4093 <= 4096
	MaxInternalSize = 339

	// MaxLeafSize 叶子页面键数量上限的最大取值
	// 保留一个临时槽位：(253+1)*16 + 17 = 4081 <= 4096
	MaxLeafSize = 253
)

// RID 记录标识符
// 指向表堆中的一条记录：所在页面加页内槽号。
type RID struct {
	PageNum PageID // 记录所在页面
	SlotNum uint32 // 页内槽号
}

// String 返回便于日志输出的形式
func (r RID) String() string {
	return fmt.Sprintf("(%d,%d)", r.PageNum, r.SlotNum)
}

// nodeTag 读取页面类型标记
func nodeTag(data []byte) byte {
	return data[0]
}

// isLeafPage 判断页面是否为叶子页面
func isLeafPage(data []byte) bool {
	return data[0] == pageTagLeaf
}

// setPageParent 更新页面的父指针，叶子和内部页面共用同一偏移
func setPageParent(data []byte, id PageID) {
	binary.LittleEndian.PutUint32(data[9:13], uint32(id))
}

// pageParent 读取页面的父指针
func pageParent(data []byte) PageID {
	return PageID(binary.LittleEndian.Uint32(data[9:13]))
}

// ---------------------------------------------------------------------------
// 叶子节点视图
// ---------------------------------------------------------------------------

// leafNode 叶子页面的结构化视图
type leafNode struct {
	data []byte // 底层页面数据区
}

// asLeaf 将页面数据解释为叶子节点
func asLeaf(data []byte) leafNode {
	return leafNode{data: data}
}

// init 把页面初始化为空叶子节点
func (n leafNode) init(maxSize int) {
	n.data[0] = pageTagLeaf
	n.setSize(0)
	binary.LittleEndian.PutUint32(n.data[5:9], uint32(maxSize))
	n.setParent(InvalidPageID)
	n.setNext(InvalidPageID)
}

// size 返回当前键数量
func (n leafNode) size() int {
	return int(int32(binary.LittleEndian.Uint32(n.data[1:5])))
}

// setSize 设置键数量
func (n leafNode) setSize(size int) {
	binary.LittleEndian.PutUint32(n.data[1:5], uint32(size))
}

// maxSize 返回键数量上限
func (n leafNode) maxSize() int {
	return int(int32(binary.LittleEndian.Uint32(n.data[5:9])))
}

// minSize 返回删除后仍合法的最小键数量
func (n leafNode) minSize() int {
	return n.maxSize() / 2
}

// parent 返回父页面 ID
func (n leafNode) parent() PageID {
	return PageID(binary.LittleEndian.Uint32(n.data[9:13]))
}

// setParent 设置父页面 ID
func (n leafNode) setParent(id PageID) {
	binary.LittleEndian.PutUint32(n.data[9:13], uint32(id))
}

// next 返回右兄弟页面 ID
func (n leafNode) next() PageID {
	return PageID(binary.LittleEndian.Uint32(n.data[13:17]))
}

// setNext 设置右兄弟页面 ID
func (n leafNode) setNext(id PageID) {
	binary.LittleEndian.PutUint32(n.data[13:17], uint32(id))
}

// slot 返回第 i 个槽的字节区
func (n leafNode) slot(i int) []byte {
	off := leafSlotStart + i*leafSlotSize
	return n.data[off : off+leafSlotSize]
}

// keyAt 返回第 i 个键
func (n leafNode) keyAt(i int) int64 {
	return int64(binary.LittleEndian.Uint64(n.slot(i)[0:8]))
}

// ridAt 返回第 i 个记录 ID
func (n leafNode) ridAt(i int) RID {
	s := n.slot(i)
	return RID{
		PageNum: PageID(binary.LittleEndian.Uint32(s[8:12])),
		SlotNum: binary.LittleEndian.Uint32(s[12:16]),
	}
}

// setSlotAt 写入第 i 个槽
func (n leafNode) setSlotAt(i int, key int64, rid RID) {
	s := n.slot(i)
	binary.LittleEndian.PutUint64(s[0:8], uint64(key))
	binary.LittleEndian.PutUint32(s[8:12], uint32(rid.PageNum))
	binary.LittleEndian.PutUint32(s[12:16], rid.SlotNum)
}

// lowerBound 返回第一个键不小于 key 的槽下标
// 所有键都小于 key 时返回 size。
func (n leafNode) lowerBound(key int64) int {
	size := n.size()
	return sort.Search(size, func(i int) bool {
		return n.keyAt(i) >= key
	})
}

// lookup 查找键对应的记录 ID
func (n leafNode) lookup(key int64) (RID, bool) {
	idx := n.lowerBound(key)
	if idx < n.size() && n.keyAt(idx) == key {
		return n.ridAt(idx), true
	}
	return RID{}, false
}

// insert 按序插入键值对
// 键已存在时不修改并返回 false。
func (n leafNode) insert(key int64, rid RID) bool {
	idx := n.lowerBound(key)
	size := n.size()
	if idx < size && n.keyAt(idx) == key {
		return false
	}

	// 腾出槽位：整体后移一格
	start := leafSlotStart + idx*leafSlotSize
	end := leafSlotStart + size*leafSlotSize
	copy(n.data[start+leafSlotSize:end+leafSlotSize], n.data[start:end])

	n.setSlotAt(idx, key, rid)
	n.setSize(size + 1)
	return true
}

// remove 删除键
// 键不存在时返回 false。
func (n leafNode) remove(key int64) bool {
	idx := n.lowerBound(key)
	size := n.size()
	if idx >= size || n.keyAt(idx) != key {
		return false
	}

	start := leafSlotStart + idx*leafSlotSize
	end := leafSlotStart + size*leafSlotSize
	copy(n.data[start:end-leafSlotSize], n.data[start+leafSlotSize:end])

	n.setSize(size - 1)
	return true
}

// moveHalfTo 把右半部分槽搬给新的右兄弟
// 左侧保留 (size+1)/2 个键。返回右兄弟的首键。
func (n leafNode) moveHalfTo(sibling leafNode) int64 {
	size := n.size()
	keep := (size + 1) / 2
	moved := size - keep

	src := n.data[leafSlotStart+keep*leafSlotSize : leafSlotStart+size*leafSlotSize]
	dst := sibling.data[leafSlotStart:]
	copy(dst, src)

	n.setSize(keep)
	sibling.setSize(moved)
	return sibling.keyAt(0)
}

// moveAllTo 把全部槽合并进左兄弟并继承兄弟链
func (n leafNode) moveAllTo(left leafNode) {
	leftSize := left.size()
	size := n.size()

	src := n.data[leafSlotStart : leafSlotStart+size*leafSlotSize]
	dst := left.data[leafSlotStart+leftSize*leafSlotSize:]
	copy(dst, src)

	left.setSize(leftSize + size)
	left.setNext(n.next())
}

// moveFirstToEndOf 把首槽借给左兄弟
func (n leafNode) moveFirstToEndOf(left leafNode) {
	leftSize := left.size()
	left.setSlotAt(leftSize, n.keyAt(0), n.ridAt(0))
	left.setSize(leftSize + 1)

	size := n.size()
	start := leafSlotStart
	end := leafSlotStart + size*leafSlotSize
	copy(n.data[start:end-leafSlotSize], n.data[start+leafSlotSize:end])
	n.setSize(size - 1)
}

// moveLastToFrontOf 把末槽借给右兄弟
func (n leafNode) moveLastToFrontOf(right leafNode) {
	size := n.size()
	key := n.keyAt(size - 1)
	rid := n.ridAt(size - 1)
	n.setSize(size - 1)

	rightSize := right.size()
	start := leafSlotStart
	end := leafSlotStart + rightSize*leafSlotSize
	copy(right.data[start+leafSlotSize:end+leafSlotSize], right.data[start:end])
	right.setSlotAt(0, key, rid)
	right.setSize(rightSize + 1)
}

// ---------------------------------------------------------------------------
// 内部节点视图
// ---------------------------------------------------------------------------

// internalNode 内部页面的结构化视图
// size 记录孩子数量，键数量恒为 size-1，0 号槽的键位不使用。
type internalNode struct {
	data []byte // 底层页面数据区
}

// asInternal 将页面数据解释为内部节点
func asInternal(data []byte) internalNode {
	return internalNode{data: data}
}

// init 把页面初始化为空内部节点
func (n internalNode) init(maxSize int) {
	n.data[0] = pageTagInternal
	n.setSize(0)
	binary.LittleEndian.PutUint32(n.data[5:9], uint32(maxSize))
	n.setParent(InvalidPageID)
}

// size 返回孩子数量
func (n internalNode) size() int {
	return int(int32(binary.LittleEndian.Uint32(n.data[1:5])))
}

// setSize 设置孩子数量
func (n internalNode) setSize(size int) {
	binary.LittleEndian.PutUint32(n.data[1:5], uint32(size))
}

// maxSize 返回孩子数量上限
func (n internalNode) maxSize() int {
	return int(int32(binary.LittleEndian.Uint32(n.data[5:9])))
}

// minSize 返回删除后仍合法的最小孩子数量
func (n internalNode) minSize() int {
	return (n.maxSize() + 1) / 2
}

// parent 返回父页面 ID
func (n internalNode) parent() PageID {
	return PageID(binary.LittleEndian.Uint32(n.data[9:13]))
}

// setParent 设置父页面 ID
func (n internalNode) setParent(id PageID) {
	binary.LittleEndian.PutUint32(n.data[9:13], uint32(id))
}

// slot 返回第 i 个槽的字节区
func (n internalNode) slot(i int) []byte {
	off := internalSlotStart + i*internalSlotSize
	return n.data[off : off+internalSlotSize]
}

// keyAt 返回第 i 个键（i 必须大于等于 1）
func (n internalNode) keyAt(i int) int64 {
	return int64(binary.LittleEndian.Uint64(n.slot(i)[0:8]))
}

// setKeyAt 设置第 i 个键
func (n internalNode) setKeyAt(i int, key int64) {
	binary.LittleEndian.PutUint64(n.slot(i)[0:8], uint64(key))
}

// childAt 返回第 i 个孩子页面 ID
func (n internalNode) childAt(i int) PageID {
	return PageID(binary.LittleEndian.Uint32(n.slot(i)[8:12]))
}

// setChildAt 设置第 i 个孩子页面 ID
func (n internalNode) setChildAt(i int, id PageID) {
	binary.LittleEndian.PutUint32(n.slot(i)[8:12], uint32(id))
}

// childIndex 返回孩子页面在槽数组中的下标
// 孩子不存在时返回 -1。
func (n internalNode) childIndex(id PageID) int {
	for i := 0; i < n.size(); i++ {
		if n.childAt(i) == id {
			return i
		}
	}
	return -1
}

// lookup 返回应当包含 key 的孩子页面 ID
// 走第一个分隔键大于 key 的槽的左侧孩子。
func (n internalNode) lookup(key int64) PageID {
	size := n.size()
	idx := sort.Search(size-1, func(i int) bool {
		return n.keyAt(i+1) > key
	})
	return n.childAt(idx)
}

// initRoot 把页面初始化为持有两个孩子的新根
func (n internalNode) initRoot(maxSize int, left PageID, key int64, right PageID) {
	n.init(maxSize)
	n.setChildAt(0, left)
	n.setKeyAt(1, key)
	n.setChildAt(1, right)
	n.setSize(2)
}

// insertAfter 在 after 孩子右侧插入分隔键和新孩子
func (n internalNode) insertAfter(after PageID, key int64, child PageID) {
	idx := n.childIndex(after)
	size := n.size()

	start := internalSlotStart + (idx+1)*internalSlotSize
	end := internalSlotStart + size*internalSlotSize
	copy(n.data[start+internalSlotSize:end+internalSlotSize], n.data[start:end])

	n.setKeyAt(idx+1, key)
	n.setChildAt(idx+1, child)
	n.setSize(size + 1)
}

// removeAt 删除第 i 个槽（分隔键和孩子一起删除）
func (n internalNode) removeAt(i int) {
	size := n.size()
	start := internalSlotStart + i*internalSlotSize
	end := internalSlotStart + size*internalSlotSize
	copy(n.data[start:end-internalSlotSize], n.data[start+internalSlotSize:end])
	n.setSize(size - 1)
}

// moveHalfTo 把右半部分孩子搬给新的右兄弟
// 左侧保留 (size+1)/2 个孩子。返回上推给父节点的分隔键。
func (n internalNode) moveHalfTo(sibling internalNode) int64 {
	size := n.size()
	keep := (size + 1) / 2
	moved := size - keep
	pushKey := n.keyAt(keep)

	src := n.data[internalSlotStart+keep*internalSlotSize : internalSlotStart+size*internalSlotSize]
	dst := sibling.data[internalSlotStart:]
	copy(dst, src)

	n.setSize(keep)
	sibling.setSize(moved)
	return pushKey
}

// moveAllTo 把全部孩子合并进左兄弟
// middleKey 是父节点中分隔两个兄弟的键，下拉为合并后的分隔键。
func (n internalNode) moveAllTo(left internalNode, middleKey int64) {
	leftSize := left.size()
	size := n.size()

	src := n.data[internalSlotStart : internalSlotStart+size*internalSlotSize]
	dst := left.data[internalSlotStart+leftSize*internalSlotSize:]
	copy(dst, src)

	left.setKeyAt(leftSize, middleKey)
	left.setSize(leftSize + size)
}

// moveFirstToEndOf 把首孩子借给左兄弟
// middleKey 下拉到左兄弟，首槽原本无效的键位被新的分隔键取代。
// 返回新的父分隔键。
func (n internalNode) moveFirstToEndOf(left internalNode, middleKey int64) int64 {
	leftSize := left.size()
	left.setKeyAt(leftSize, middleKey)
	left.setChildAt(leftSize, n.childAt(0))
	left.setSize(leftSize + 1)

	newMiddle := n.keyAt(1)
	n.removeAt(0)
	return newMiddle
}

// moveLastToFrontOf 把末孩子借给右兄弟
// middleKey 下拉到右兄弟成为新的 1 号分隔键。返回新的父分隔键。
func (n internalNode) moveLastToFrontOf(right internalNode, middleKey int64) int64 {
	size := n.size()
	newMiddle := n.keyAt(size - 1)
	child := n.childAt(size - 1)
	n.setSize(size - 1)

	rightSize := right.size()
	start := internalSlotStart
	end := internalSlotStart + rightSize*internalSlotSize
	copy(right.data[start+internalSlotSize:end+internalSlotSize], right.data[start:end])
	right.setChildAt(0, child)
	right.setKeyAt(1, middleKey)
	right.setSize(rightSize + 1)
	return newMiddle
}
