// Package page encodes and decodes the two on-disk page types the B-tree
// engine operates on: node pages (the tree's internal/leaf nodes) and
// overflow pages (duplicate-key chains for secondary indexes). All
// operations here are pure transforms on a decoded Node's in-memory
// slices; nothing in this package performs I/O.
package page

import (
	"encoding/binary"

	"github.com/daicang/ivorydb/pkg/common"
)

// Node layout constants, matching the fixed slab size exactly: a node
// page occupies one slab with no padding.
const (
	MaxKeys     = 4
	MinKeys     = 2
	MaxChildren = MaxKeys + 1
	MinChildren = 3

	keySlotSize   = 8 // remote_size(4) + key_payload(4)
	childSlotSize = 9 // length(4) + offset(4) + is_overflow(1)

	isRootOffset        = 0
	nodeTypeOffset      = isRootOffset + 1
	indexKindOffset     = nodeTypeOffset + 1
	indexedColumnOffset = indexKindOffset + 1
	numKeysOffset       = indexedColumnOffset + 4
	keysOffset          = numKeysOffset + 4
	numChildrenOffset   = keysOffset + MaxKeys*keySlotSize
	childrenOffset      = numChildrenOffset + 4

	// Size is the fixed on-disk size of a node page, in bytes.
	Size = childrenOffset + MaxChildren*childSlotSize
)

// NodeType distinguishes leaf nodes (children are row slots or overflow
// slots) from internal nodes (children are subtree pointers).
type NodeType uint8

const (
	Internal NodeType = 0
	Leaf     NodeType = 1
)

// IndexKind distinguishes the primary index (keys are the row's own
// primary key) from a secondary index (keys are extracted from an
// indexed column and may repeat across rows).
type IndexKind uint8

const (
	Primary   IndexKind = 0
	Secondary IndexKind = 1
)

// KeySlot is one inline key entry in a node page. For a primary index,
// KeyPayload is the 4-byte key value itself and RemoteSize is unused.
// For a secondary index, (KeyPayload, RemoteSize) is the (offset,
// length) of a row whose indexed column holds this key's bytes.
type KeySlot struct {
	RemoteSize uint32
	KeyPayload uint32
}

// ChildSlot is one inline child descriptor. For an internal node it
// addresses a child node page; for a leaf it addresses either a single
// row or, when IsOverflow is set, an overflow page collecting every row
// that shares this slot's key.
type ChildSlot struct {
	Length     uint32
	Offset     uint32
	IsOverflow bool
}

// Node is the decoded, in-memory form of a node page.
type Node struct {
	IsRoot        bool
	Type          NodeType
	IndexKind     IndexKind
	IndexedColumn uint32
	Keys          []KeySlot
	Children      []ChildSlot
}

// New returns an empty node of the given shape.
func New(isRoot bool, typ NodeType, kind IndexKind, indexedColumn uint32) *Node {
	return &Node{IsRoot: isRoot, Type: typ, IndexKind: kind, IndexedColumn: indexedColumn}
}

// Decode parses a node page from its fixed-size on-disk bytes.
func Decode(b []byte) *Node {
	common.Assert(len(b) >= Size, "node page too short: %d bytes", len(b))

	n := &Node{
		IsRoot:        b[isRootOffset] == 1,
		Type:          NodeType(b[nodeTypeOffset]),
		IndexKind:     IndexKind(b[indexKindOffset]),
		IndexedColumn: binary.LittleEndian.Uint32(b[indexedColumnOffset:]),
	}

	numKeys := binary.LittleEndian.Uint32(b[numKeysOffset:])
	common.Assert(numKeys <= MaxKeys, "decoded num_keys %d exceeds MaxKeys", numKeys)
	for i := uint32(0); i < numKeys; i++ {
		off := keysOffset + int(i)*keySlotSize
		n.Keys = append(n.Keys, KeySlot{
			RemoteSize: binary.LittleEndian.Uint32(b[off:]),
			KeyPayload: binary.LittleEndian.Uint32(b[off+4:]),
		})
	}

	numChildren := binary.LittleEndian.Uint32(b[numChildrenOffset:])
	common.Assert(numChildren <= MaxChildren, "decoded num_children %d exceeds MaxChildren", numChildren)
	for i := uint32(0); i < numChildren; i++ {
		off := childrenOffset + int(i)*childSlotSize
		n.Children = append(n.Children, ChildSlot{
			Length:     binary.LittleEndian.Uint32(b[off:]),
			Offset:     binary.LittleEndian.Uint32(b[off+4:]),
			IsOverflow: b[off+8] == 1,
		})
	}

	return n
}

// Encode serializes the node to its fixed Size-byte on-disk form.
func (n *Node) Encode() []byte {
	common.Assert(len(n.Keys) <= MaxKeys, "encoding node with %d keys exceeds MaxKeys", len(n.Keys))
	common.Assert(len(n.Children) <= MaxChildren, "encoding node with %d children exceeds MaxChildren", len(n.Children))

	b := make([]byte, Size)
	if n.IsRoot {
		b[isRootOffset] = 1
	}
	b[nodeTypeOffset] = byte(n.Type)
	b[indexKindOffset] = byte(n.IndexKind)
	binary.LittleEndian.PutUint32(b[indexedColumnOffset:], n.IndexedColumn)

	binary.LittleEndian.PutUint32(b[numKeysOffset:], uint32(len(n.Keys)))
	for i, k := range n.Keys {
		off := keysOffset + i*keySlotSize
		binary.LittleEndian.PutUint32(b[off:], k.RemoteSize)
		binary.LittleEndian.PutUint32(b[off+4:], k.KeyPayload)
	}

	binary.LittleEndian.PutUint32(b[numChildrenOffset:], uint32(len(n.Children)))
	for i, c := range n.Children {
		off := childrenOffset + i*childSlotSize
		binary.LittleEndian.PutUint32(b[off:], c.Length)
		binary.LittleEndian.PutUint32(b[off+4:], c.Offset)
		if c.IsOverflow {
			b[off+8] = 1
		}
	}
	return b
}

// AppendKey adds a key slot at the end of the key list.
func (n *Node) AppendKey(k KeySlot) { n.Keys = append(n.Keys, k) }

// PrependKey adds a key slot at the start of the key list.
func (n *Node) PrependKey(k KeySlot) { n.Keys = append([]KeySlot{k}, n.Keys...) }

// SpliceKeyAt inserts a key slot at index i, shifting later keys right.
func (n *Node) SpliceKeyAt(i int, k KeySlot) {
	n.Keys = append(n.Keys, KeySlot{})
	copy(n.Keys[i+1:], n.Keys[i:])
	n.Keys[i] = k
}

// TakeKeyAt removes and returns the key slot at index i.
func (n *Node) TakeKeyAt(i int) KeySlot {
	k := n.Keys[i]
	n.Keys = append(n.Keys[:i], n.Keys[i+1:]...)
	return k
}

// ShiftKeys removes and returns the count keys starting at index i.
func (n *Node) ShiftKeys(i, count int) []KeySlot {
	removed := append([]KeySlot{}, n.Keys[i:i+count]...)
	n.Keys = append(n.Keys[:i], n.Keys[i+count:]...)
	return removed
}

// AppendChild adds a child slot at the end of the child list.
func (n *Node) AppendChild(c ChildSlot) { n.Children = append(n.Children, c) }

// PrependChild adds a child slot at the start of the child list.
func (n *Node) PrependChild(c ChildSlot) { n.Children = append([]ChildSlot{c}, n.Children...) }

// SpliceChildAt inserts a child slot at index i, shifting later children right.
func (n *Node) SpliceChildAt(i int, c ChildSlot) {
	n.Children = append(n.Children, ChildSlot{})
	copy(n.Children[i+1:], n.Children[i:])
	n.Children[i] = c
}

// ReplaceChildAt overwrites the child slot at index i in place.
func (n *Node) ReplaceChildAt(i int, c ChildSlot) { n.Children[i] = c }

// TakeChildAt removes and returns the child slot at index i.
func (n *Node) TakeChildAt(i int) ChildSlot {
	c := n.Children[i]
	n.Children = append(n.Children[:i], n.Children[i+1:]...)
	return c
}

// ShiftChildren removes and returns the count children starting at index i.
func (n *Node) ShiftChildren(i, count int) []ChildSlot {
	removed := append([]ChildSlot{}, n.Children[i:i+count]...)
	n.Children = append(n.Children[:i], n.Children[i+count:]...)
	return removed
}

// ClearChildren empties the child list.
func (n *Node) ClearChildren() { n.Children = nil }

// AppendFrom appends another node's keys and children to this one,
// in order -- the tail half of a sibling merge.
func (n *Node) AppendFrom(other *Node) {
	n.Keys = append(n.Keys, other.Keys...)
	n.Children = append(n.Children, other.Children...)
}

// PrependFrom prepends another node's keys and children to this one.
func (n *Node) PrependFrom(other *Node) {
	n.Keys = append(append([]KeySlot{}, other.Keys...), n.Keys...)
	n.Children = append(append([]ChildSlot{}, other.Children...), n.Children...)
}

// SplitNew splits self into two brand-new sibling nodes at (kAt, cAt):
// the left keeps keys[0:kAt) and children[0:cAt); the right gets the
// remainder. Neither result carries the IsRoot flag.
func SplitNew(self *Node, kAt, cAt int) (left, right *Node) {
	left = &Node{Type: self.Type, IndexKind: self.IndexKind, IndexedColumn: self.IndexedColumn}
	right = &Node{Type: self.Type, IndexKind: self.IndexKind, IndexedColumn: self.IndexedColumn}

	left.Keys = append(left.Keys, self.Keys[:kAt]...)
	right.Keys = append(right.Keys, self.Keys[kAt:]...)
	left.Children = append(left.Children, self.Children[:cAt]...)
	right.Children = append(right.Children, self.Children[cAt:]...)
	return left, right
}

// SplitOff carves a [i, i+length) range of keys (and a corresponding
// children range) out of self, mutating self in place and returning the
// carved-out range as a new sibling node.
func SplitOff(self *Node, i, length int) (sibling *Node) {
	sibling = &Node{Type: self.Type, IndexKind: self.IndexKind, IndexedColumn: self.IndexedColumn}
	sibling.Keys = self.ShiftKeys(i, length)

	childCount := length
	if self.Type == Internal {
		childCount++
	}
	if i+childCount > len(self.Children) {
		childCount = len(self.Children) - i
	}
	sibling.Children = self.ShiftChildren(i, childCount)
	return sibling
}
