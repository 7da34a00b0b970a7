/*
AgateDB B+树一致性校验模块

校验器遍历整棵树，核对页面格式和树形不变量，供测试和故障排查使用。
校验不加全局互斥，应在没有并发写入的窗口里调用。

核对内容：
1. 节点容量：非根节点不少于半满，所有节点不超过上限
2. 键有序：节点内严格升序，子树落在父节点分隔键划定的区间内
3. 父指针：每个孩子的父指针指回它的父页面
4. 树高一致：所有叶子到根的距离相同
5. 叶子链：沿兄弟链全局升序，最右叶子以无效页面 ID 收尾
*/

package bplustree

import (
	"math"

	"github.com/pkg/errors"

	"github.com/util6/AgateDB/utils"
)

// CheckIntegrity 校验整棵树的结构不变量
// 发现第一处违规即返回描述性错误，全部通过时返回 nil。
func (t *BPlusTree) CheckIntegrity() error {
	if t.closed.Load() {
		return utils.ErrTreeClosed
	}

	header, err := t.bpm.FetchPageRead(HeaderPageID)
	if err != nil {
		return err
	}
	if verr := asHeader(header.Data()).verify(); verr != nil {
		header.Drop()
		return verr
	}
	rootID := asHeader(header.Data()).root()
	header.Drop()

	if rootID == InvalidPageID {
		return nil
	}

	if _, err := t.checkSubtree(rootID, InvalidPageID, math.MinInt64, false, 0, true); err != nil {
		return err
	}
	return t.checkLeafChain()
}

// checkSubtree 递归校验以 pageID 为根的子树
// 子树内所有键都必须不小于 lower、小于 upper（hasUpper 为假时无上界）。
// 返回子树高度。
func (t *BPlusTree) checkSubtree(pageID, parentID PageID, lower int64, hasUpper bool, upper int64, isRoot bool) (int, error) {
	guard, err := t.bpm.FetchPageRead(pageID)
	if err != nil {
		return 0, err
	}
	defer guard.Drop()

	data := guard.Data()
	if p := pageParent(data); p != parentID {
		return 0, errors.Errorf("页面 %d 的父指针为 %d，应为 %d", pageID, p, parentID)
	}

	if isLeafPage(data) {
		leaf := asLeaf(data)
		size := leaf.size()
		if isRoot {
			if size < 1 || size > leaf.maxSize() {
				return 0, errors.Errorf("叶子根 %d 的键数 %d 越界", pageID, size)
			}
		} else if size < leaf.minSize() || size > leaf.maxSize() {
			return 0, errors.Errorf("叶子 %d 的键数 %d 不在 [%d, %d] 内",
				pageID, size, leaf.minSize(), leaf.maxSize())
		}
		for i := 0; i < size; i++ {
			k := leaf.keyAt(i)
			if i > 0 && k <= leaf.keyAt(i-1) {
				return 0, errors.Errorf("叶子 %d 的键在下标 %d 处失序", pageID, i)
			}
			if k < lower || (hasUpper && k >= upper) {
				return 0, errors.Errorf("叶子 %d 的键 %d 越出分隔区间", pageID, k)
			}
		}
		return 1, nil
	}

	if nodeTag(data) != pageTagInternal {
		return 0, errors.Errorf("页面 %d 的类型标记 %d 非法", pageID, nodeTag(data))
	}
	node := asInternal(data)
	size := node.size()
	if isRoot {
		if size < 2 || size > node.maxSize() {
			return 0, errors.Errorf("内部根 %d 的孩子数 %d 越界", pageID, size)
		}
	} else if size < node.minSize() || size > node.maxSize() {
		return 0, errors.Errorf("内部节点 %d 的孩子数 %d 不在 [%d, %d] 内",
			pageID, size, node.minSize(), node.maxSize())
	}
	for i := 2; i < size; i++ {
		if node.keyAt(i) <= node.keyAt(i-1) {
			return 0, errors.Errorf("内部节点 %d 的分隔键在下标 %d 处失序", pageID, i)
		}
	}

	depth := 0
	for i := 0; i < size; i++ {
		childLower := lower
		if i > 0 {
			childLower = node.keyAt(i)
			if childLower < lower || (hasUpper && childLower >= upper) {
				return 0, errors.Errorf("内部节点 %d 的分隔键 %d 越出父区间", pageID, childLower)
			}
		}
		childHasUpper := hasUpper
		childUpper := upper
		if i+1 < size {
			childHasUpper = true
			childUpper = node.keyAt(i + 1)
		}
		d, err := t.checkSubtree(node.childAt(i), pageID, childLower, childHasUpper, childUpper, false)
		if err != nil {
			return 0, err
		}
		if i == 0 {
			depth = d
		} else if d != depth {
			return 0, errors.Errorf("内部节点 %d 的子树高度不一致：%d 与 %d", pageID, depth, d)
		}
	}
	return depth + 1, nil
}

// checkLeafChain 沿兄弟链校验全局键序
func (t *BPlusTree) checkLeafChain() error {
	guard, empty, err := t.leftmostLeaf()
	if err != nil {
		return err
	}
	if empty {
		return nil
	}

	prev := int64(math.MinInt64)
	first := true
	for {
		leaf := asLeaf(guard.Data())
		for i := 0; i < leaf.size(); i++ {
			k := leaf.keyAt(i)
			if !first && k <= prev {
				guard.Drop()
				return errors.Errorf("叶子链在页面 %d 的键 %d 处失序", guard.PageID(), k)
			}
			prev = k
			first = false
		}
		nextID := leaf.next()
		guard.Drop()
		if nextID == InvalidPageID {
			return nil
		}
		next, err := t.bpm.FetchPageRead(nextID)
		if err != nil {
			return err
		}
		guard = next
	}
}
