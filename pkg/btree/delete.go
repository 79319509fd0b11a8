package btree

import (
	"github.com/daicang/ivorydb/pkg/common"
	"github.com/daicang/ivorydb/pkg/page"
)

// Delete removes every row stored under key and returns their row
// references, or a nil, non-error result if key was never present.
// Deleting the last key out of a one-key root yields an empty tree.
func (t *Tree) Delete(key []byte) ([]common.RowRef, error) {
	if t.root == nil {
		return nil, nil
	}

	removed, err := t.deleteNode(t.root, key)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, nil
	}

	if len(t.root.page.Keys) == 0 && t.root.page.Type == page.Leaf {
		t.root = nil
		t.rootOffset, t.rootLength = 0, 0
		return removed, nil
	}

	offset, length, err := t.allocNode(t.root)
	if err != nil {
		return nil, err
	}
	t.rootOffset, t.rootLength = offset, length
	return removed, nil
}

func (t *Tree) deleteNode(n *hnode, key []byte) ([]common.RowRef, error) {
	if n.page.Type == page.Leaf {
		return t.deleteLeaf(n, key)
	}
	return t.deleteInternal(n, key)
}

func (t *Tree) deleteLeaf(n *hnode, key []byte) ([]common.RowRef, error) {
	i, dup, err := t.findIndexDup(n.page, key)
	if err != nil {
		return nil, err
	}
	if !dup {
		return nil, nil
	}

	slot := n.page.Children[i]
	var removed []common.RowRef

	if !slot.IsOverflow {
		t.freelist.MarkFree(slot.Offset, slot.Length)
		t.rows.Forget(slot.Offset)
		removed = []common.RowRef{{Offset: slot.Offset, Length: slot.Length}}
	} else {
		ovf, err := t.overflowAt(n, i)
		if err != nil {
			return nil, err
		}
		for _, item := range ovf.Items {
			t.freelist.MarkFree(item.Offset, item.Length)
			t.rows.Forget(item.Offset)
			removed = append(removed, common.RowRef{Offset: item.Offset, Length: item.Length})
		}
		t.freelist.MarkFree(slot.Offset, slot.Length)
	}

	n.page.TakeKeyAt(i)
	n.page.TakeChildAt(i)
	removeCacheSlot(n.overflow, i)

	return removed, nil
}

func (t *Tree) deleteInternal(n *hnode, key []byte) ([]common.RowRef, error) {
	i, err := t.descendIndex(n.page, key)
	if err != nil {
		return nil, err
	}

	child, err := t.child(n, i)
	if err != nil {
		return nil, err
	}
	removed, err := t.deleteNode(child, key)
	if err != nil {
		return nil, err
	}
	if len(removed) == 0 {
		return nil, nil
	}

	offset, length, err := t.allocNode(child)
	if err != nil {
		return nil, err
	}
	n.page.ReplaceChildAt(i, page.ChildSlot{Offset: offset, Length: length})
	n.children[i] = child

	if len(child.page.Keys) < page.MinKeys {
		if err := t.rebalance(n, i); err != nil {
			return nil, err
		}
	}

	return removed, nil
}

// rebalance restores the minimum-occupancy invariant for the child at
// index i of parent, which has just dropped below MinKeys. It prefers
// redistributing from a sibling with surplus keys, falling back to a
// merge -- and, if that empties the root, collapsing the root onto its
// sole remaining child.
func (t *Tree) rebalance(parent *hnode, i int) error {
	leftIdx, rightIdx := i-1, i
	if i == 0 {
		leftIdx, rightIdx = 0, 1
	}
	if rightIdx >= len(parent.page.Children) {
		return nil
	}

	left, err := t.child(parent, leftIdx)
	if err != nil {
		return err
	}
	right, err := t.child(parent, rightIdx)
	if err != nil {
		return err
	}

	switch {
	case len(left.page.Keys) > page.MinKeys:
		t.redistributeLeftToRight(parent, leftIdx, left, right)
	case len(right.page.Keys) > page.MinKeys:
		t.redistributeRightToLeft(parent, leftIdx, left, right)
	default:
		t.mergeSiblings(parent, leftIdx, left, right)
	}

	if err := t.persistRebalanced(parent, leftIdx, left, right); err != nil {
		return err
	}

	if parent.page.IsRoot && len(parent.page.Keys) == 0 {
		return t.collapseRoot(parent)
	}
	return nil
}

// redistributeLeftToRight moves left's last key (and its child) over to
// become right's new first entry, moving left's last child along with
// it. Internal nodes rotate the separator B-tree-style: the parent's
// old separator becomes right's new first key, and left's last key is
// promoted to take the parent's place, since an internal separator
// holds no row data of its own. Leaves hold real data under the
// equals-right convention, where the parent separator is always a copy
// of right's first key -- so for a leaf, the moved key itself becomes
// both right's new first key and the parent's new separator; there is
// nothing to demote.
func (t *Tree) redistributeLeftToRight(parent *hnode, sepIdx int, left, right *hnode) {
	if left.page.Type == page.Internal {
		demoted := parent.page.Keys[sepIdx]
		right.page.PrependKey(demoted)

		promotedIdx := len(left.page.Keys) - 1
		promoted := left.page.TakeKeyAt(promotedIdx)
		parent.page.Keys[sepIdx] = promoted

		movedIdx := len(left.page.Children) - 1
		moved := left.page.Children[movedIdx]
		left.page.Children = left.page.Children[:movedIdx]
		right.page.Children = append([]page.ChildSlot{moved}, right.page.Children...)
		insertChildCacheSlot(right.children, 0)
		if c, ok := left.children[movedIdx]; ok {
			right.children[0] = c
			delete(left.children, movedIdx)
		}
	} else {
		movedIdx := len(left.page.Keys) - 1
		moved := left.page.TakeKeyAt(movedIdx)
		right.page.PrependKey(moved)
		parent.page.Keys[sepIdx] = moved

		movedChildIdx := len(left.page.Children) - 1
		movedChild := left.page.Children[movedChildIdx]
		left.page.Children = left.page.Children[:movedChildIdx]
		right.page.Children = append([]page.ChildSlot{movedChild}, right.page.Children...)
		insertCacheSlot(right.overflow, 0)
		if o, ok := left.overflow[movedChildIdx]; ok {
			right.overflow[0] = o
			delete(left.overflow, movedChildIdx)
		}
	}
}

// redistributeRightToLeft is the mirror of redistributeLeftToRight: the
// right sibling has the surplus, and its first key (plus child) moves
// to become left's new last entry. For an internal node the parent's
// old separator rotates down into left and right's old first key is
// promoted to the parent, exactly mirroring the left-to-right case; for
// a leaf, the parent separator instead always becomes right's new
// first key after the move, since that is the leaf's actual remaining
// minimum.
func (t *Tree) redistributeRightToLeft(parent *hnode, sepIdx int, left, right *hnode) {
	if right.page.Type == page.Internal {
		demoted := parent.page.Keys[sepIdx]
		left.page.AppendKey(demoted)

		promoted := right.page.TakeKeyAt(0)
		parent.page.Keys[sepIdx] = promoted

		moved := right.page.Children[0]
		right.page.Children = right.page.Children[1:]
		left.page.Children = append(left.page.Children, moved)
		if c, ok := right.children[0]; ok {
			newIdx := len(left.page.Children) - 1
			left.children[newIdx] = c
		}
		removeCacheSlot(right.children, 0)
	} else {
		moved := right.page.TakeKeyAt(0)
		left.page.AppendKey(moved)
		parent.page.Keys[sepIdx] = right.page.Keys[0]

		movedChild := right.page.Children[0]
		right.page.Children = right.page.Children[1:]
		left.page.Children = append(left.page.Children, movedChild)
		if o, ok := right.overflow[0]; ok {
			newIdx := len(left.page.Children) - 1
			left.overflow[newIdx] = o
		}
		removeCacheSlot(right.overflow, 0)
	}
}

// mergeSiblings demotes the parent's separator into left (internal
// nodes only -- a leaf separator is already duplicated as the first key
// of right under the equals-right convention, so absorbing it again
// would leave num_keys > num_children), appends right's entire contents
// onto left, frees right's on-disk region, and removes the separator
// and right's child slot from parent.
func (t *Tree) mergeSiblings(parent *hnode, leftIdx int, left, right *hnode) {
	if left.page.Type == page.Internal {
		demoted := parent.page.Keys[leftIdx]
		left.page.AppendKey(demoted)
	}

	base := len(left.page.Children)
	left.page.AppendFrom(right.page)
	for idx, c := range right.children {
		left.children[base+idx] = c
	}
	for idx, o := range right.overflow {
		left.overflow[base+idx] = o
	}

	rightSlot := parent.page.Children[leftIdx+1]
	if rightSlot.Length > 0 {
		t.freelist.MarkFree(rightSlot.Offset, rightSlot.Length)
	}

	parent.page.TakeKeyAt(leftIdx)
	parent.page.TakeChildAt(leftIdx + 1)
	removeCacheSlot(parent.children, leftIdx+1)
	parent.children[leftIdx] = left
}

// persistRebalanced writes back whichever siblings remain after
// rebalance and patches the parent's child slots to match.
func (t *Tree) persistRebalanced(parent *hnode, leftIdx int, left, right *hnode) error {
	leftOff, leftLen, err := t.allocNode(left)
	if err != nil {
		return err
	}
	parent.page.ReplaceChildAt(leftIdx, page.ChildSlot{Offset: leftOff, Length: leftLen})
	parent.children[leftIdx] = left

	if leftIdx+1 >= len(parent.page.Children) {
		return nil
	}
	if parent.children[leftIdx+1] != right {
		// right was absorbed into left by a merge; nothing left to persist.
		return nil
	}
	rightOff, rightLen, err := t.allocNode(right)
	if err != nil {
		return err
	}
	parent.page.ReplaceChildAt(leftIdx+1, page.ChildSlot{Offset: rightOff, Length: rightLen})
	parent.children[leftIdx+1] = right
	return nil
}

// collapseRoot replaces an emptied internal root with its sole
// remaining child, freeing the child's now-redundant region.
func (t *Tree) collapseRoot(root *hnode) error {
	if len(root.page.Children) != 1 {
		return nil
	}
	only, err := t.child(root, 0)
	if err != nil {
		return err
	}

	onlySlot := root.page.Children[0]
	if onlySlot.Length > 0 {
		t.freelist.MarkFree(onlySlot.Offset, onlySlot.Length)
	}

	root.page.Type = only.page.Type
	root.page.Keys = only.page.Keys
	root.page.Children = only.page.Children
	root.children = only.children
	root.overflow = only.overflow
	return nil
}
