package btree

import (
	"bytes"

	"github.com/daicang/ivorydb/pkg/page"
)

// Insert adds a row reference to the tree. For the primary index, key
// is the row's own primary key; for a secondary index, key is ignored
// and the engine instead extracts the indexed column's bytes from the
// row at (rowOffset, rowLength).
//
// A key that already exists is not an error: the existing slot is
// converted into (or extended within) an overflow chain, exactly as a
// secondary index absorbs a genuine duplicate. This also means a
// colliding primary key is silently accepted rather than rejected --
// callers that need primary-key uniqueness must check Search first.
func (t *Tree) Insert(key []byte, rowOffset, rowLength uint32) error {
	rk, err := t.effectiveKey(key, rowOffset, rowLength)
	if err != nil {
		return err
	}

	if t.root == nil {
		root := newHnode(page.New(true, page.Leaf, t.kind, t.indexedColumn))
		root.page.AppendKey(encodeKeySlot(t.kind, rk, rowOffset, rowLength))
		root.page.AppendChild(page.ChildSlot{Offset: rowOffset, Length: rowLength})
		t.root = root
	} else {
		split, err := t.insertNode(t.root, rk, rowOffset, rowLength)
		if err != nil {
			return err
		}
		if split != nil {
			oldRoot := t.root
			oldRoot.page.IsRoot = false
			split.right.page.IsRoot = false

			newRoot := newHnode(page.New(true, page.Internal, t.kind, t.indexedColumn))
			newRoot.page.AppendKey(split.sep)
			newRoot.page.AppendChild(page.ChildSlot{})
			newRoot.page.AppendChild(page.ChildSlot{})
			newRoot.children[0] = oldRoot
			newRoot.children[1] = split.right
			t.root = newRoot
		}
	}

	if err := t.writeChildRegions(t.root); err != nil {
		return err
	}
	offset, length, err := t.allocNode(t.root)
	if err != nil {
		return err
	}
	t.rootOffset, t.rootLength = offset, length
	return nil
}

// effectiveKey resolves the bytes this tree actually compares on: the
// caller-supplied key for a primary index, or the row's indexed column
// for a secondary index.
func (t *Tree) effectiveKey(key []byte, rowOffset, rowLength uint32) ([]byte, error) {
	if t.kind == page.Primary {
		return key, nil
	}
	return t.rowKey(rowOffset, rowLength)
}

// splitUp communicates a node split one level up the recursion: right
// is the new sibling, sep is the key to promote into the parent.
type splitUp struct {
	right *hnode
	sep   page.KeySlot
}

func (t *Tree) insertNode(n *hnode, rk []byte, rowOffset, rowLength uint32) (*splitUp, error) {
	if n.page.Type == page.Leaf {
		return t.insertLeaf(n, rk, rowOffset, rowLength)
	}
	return t.insertInternal(n, rk, rowOffset, rowLength)
}

func (t *Tree) insertLeaf(n *hnode, rk []byte, rowOffset, rowLength uint32) (*splitUp, error) {
	i, dup, err := t.findIndexDup(n.page, rk)
	if err != nil {
		return nil, err
	}

	if dup {
		return nil, t.foldIntoOverflow(n, i, rowOffset, rowLength)
	}

	if len(n.page.Keys) < page.MaxKeys {
		n.page.SpliceKeyAt(i, encodeKeySlot(t.kind, rk, rowOffset, rowLength))
		n.page.SpliceChildAt(i, page.ChildSlot{Offset: rowOffset, Length: rowLength})
		insertCacheSlot(n.overflow, i)
		return nil, nil
	}

	mid := page.MinKeys
	left, right := page.SplitNew(n.page, mid, mid)
	n.page = left
	n.overflow = map[int]*page.Overflow{}
	rightNode := newHnode(right)

	firstRightKey, err := t.keyBytes(right, 0)
	if err != nil {
		return nil, err
	}

	target, targetPage := n, left
	if bytes.Compare(rk, firstRightKey) >= 0 {
		target, targetPage = rightNode, right
	}
	ti, _, err := t.findIndexDup(targetPage, rk)
	if err != nil {
		return nil, err
	}
	targetPage.SpliceKeyAt(ti, encodeKeySlot(t.kind, rk, rowOffset, rowLength))
	targetPage.SpliceChildAt(ti, page.ChildSlot{Offset: rowOffset, Length: rowLength})
	insertCacheSlot(target.overflow, ti)

	sepSlot := right.Keys[0]

	if err := t.writeChildRegions(n); err != nil {
		return nil, err
	}
	if err := t.writeChildRegions(rightNode); err != nil {
		return nil, err
	}

	return &splitUp{right: rightNode, sep: sepSlot}, nil
}

// foldIntoOverflow converts (or extends) the leaf's i-th slot into an
// overflow chain holding every row sharing this key.
func (t *Tree) foldIntoOverflow(n *hnode, i int, rowOffset, rowLength uint32) error {
	existing := n.page.Children[i]

	var ovf *page.Overflow
	var prevOffset, prevLength uint32
	if existing.IsOverflow {
		loaded, err := t.overflowAt(n, i)
		if err != nil {
			return err
		}
		ovf = loaded
		prevOffset, prevLength = existing.Offset, existing.Length
	} else {
		ovf = page.NewOverflow(existing.Offset, existing.Length)
	}
	ovf.AddItem(rowOffset, rowLength)

	offset, length, err := t.writeOverflow(ovf, prevOffset, prevLength)
	if err != nil {
		return err
	}
	n.page.ReplaceChildAt(i, page.ChildSlot{Offset: offset, Length: length, IsOverflow: true})
	n.overflow[i] = ovf
	return nil
}

func (t *Tree) insertInternal(n *hnode, rk []byte, rowOffset, rowLength uint32) (*splitUp, error) {
	i, err := t.descendIndex(n.page, rk)
	if err != nil {
		return nil, err
	}

	child, err := t.child(n, i)
	if err != nil {
		return nil, err
	}
	childSplit, err := t.insertNode(child, rk, rowOffset, rowLength)
	if err != nil {
		return nil, err
	}

	childOff, childLen, err := t.allocNode(child)
	if err != nil {
		return nil, err
	}
	n.page.ReplaceChildAt(i, page.ChildSlot{Offset: childOff, Length: childLen})
	n.children[i] = child

	if childSplit == nil {
		return nil, nil
	}

	n.page.SpliceKeyAt(i, childSplit.sep)
	insertChildCacheSlot(n.children, i+1)
	n.page.SpliceChildAt(i+1, page.ChildSlot{})
	rightOff, rightLen, err := t.allocNode(childSplit.right)
	if err != nil {
		return nil, err
	}
	n.page.ReplaceChildAt(i+1, page.ChildSlot{Offset: rightOff, Length: rightLen})
	n.children[i+1] = childSplit.right

	if len(n.page.Keys) <= page.MaxKeys {
		return nil, nil
	}

	return t.splitInternal(n)
}

// splitInternal splits an overflowing internal node (MaxKeys+1 keys,
// MaxKeys+2 children) around its true middle key, which belongs to
// neither resulting half and is promoted to the parent -- the only way
// to preserve the children = keys + 1 invariant on both sides.
func (t *Tree) splitInternal(n *hnode) (*splitUp, error) {
	mid := len(n.page.Keys) / 2
	sep := n.page.Keys[mid]

	left := page.New(false, page.Internal, t.kind, t.indexedColumn)
	right := page.New(false, page.Internal, t.kind, t.indexedColumn)
	left.Keys = append(left.Keys, n.page.Keys[:mid]...)
	right.Keys = append(right.Keys, n.page.Keys[mid+1:]...)
	left.Children = append(left.Children, n.page.Children[:mid+1]...)
	right.Children = append(right.Children, n.page.Children[mid+1:]...)

	rightNode := newHnode(right)
	for idx, c := range n.children {
		if idx >= mid+1 {
			rightNode.children[idx-(mid+1)] = c
		}
	}
	n.page = left
	newChildren := map[int]*hnode{}
	for idx, c := range n.children {
		if idx <= mid {
			newChildren[idx] = c
		}
	}
	n.children = newChildren

	if err := t.writeChildRegions(n); err != nil {
		return nil, err
	}
	if err := t.writeChildRegions(rightNode); err != nil {
		return nil, err
	}

	return &splitUp{right: rightNode, sep: sep}, nil
}

// writeChildRegions persists every currently-hydrated child of n. It is
// called after a split reshuffles child slots, since the slot offsets
// written into n.page.Children must reflect each child's real, current
// disk location.
func (t *Tree) writeChildRegions(n *hnode) error {
	if n.page.Type != page.Internal {
		return nil
	}
	for i, c := range n.children {
		off, length, err := t.allocNode(c)
		if err != nil {
			return err
		}
		n.page.ReplaceChildAt(i, page.ChildSlot{Offset: off, Length: length})
	}
	return nil
}

func insertCacheSlot[T any](cache map[int]T, at int) {
	maxKey := -1
	for k := range cache {
		if k > maxKey {
			maxKey = k
		}
	}
	for k := maxKey; k >= at; k-- {
		cache[k+1] = cache[k]
		delete(cache, k)
	}
}

func insertChildCacheSlot(cache map[int]*hnode, at int) {
	insertCacheSlot(cache, at)
}

func removeCacheSlot[T any](cache map[int]T, at int) {
	delete(cache, at)
	maxKey := -1
	for k := range cache {
		if k > maxKey {
			maxKey = k
		}
	}
	for k := at + 1; k <= maxKey; k++ {
		cache[k-1] = cache[k]
		delete(cache, k)
	}
}
