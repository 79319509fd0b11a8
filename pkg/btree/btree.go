// Package btree implements the disk-resident B-tree engine shared by the
// primary index and every secondary index: recursive insert, search and
// delete over node pages, with split, merge and redistribute rebalancing
// and duplicate-key overflow chaining for non-unique secondary indexes.
//
// A tree never mmaps its backing file. Each operation hydrates the
// nodes it touches from the slab file on demand, mutates them in
// memory, and writes every modified node back to disk before returning.
// Hydrated nodes are not dropped when an operation returns: the tree
// keeps its root, and every child and overflow page hydrated beneath
// it, cached in memory for later operations. The caller persists the
// root's current (offset, length) into the master record at flush time.
package btree

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/daicang/ivorydb/pkg/common"
	"github.com/daicang/ivorydb/pkg/freelist"
	"github.com/daicang/ivorydb/pkg/page"
	"github.com/daicang/ivorydb/pkg/rowstore"
	"github.com/daicang/ivorydb/pkg/slab"
)

// ErrShortRead is returned when a node, overflow, or row read comes back
// short or past the end of the file. It aborts the whole operation.
// Nothing is rolled back: the in-memory tree keeps any nodes the
// operation already mutated, and the operation's writes that already
// landed on disk stay, matching the design's no-crash-consistency scope.
var ErrShortRead = errors.New("btree: short read")

// hnode is a node page hydrated into memory, plus lazily-populated
// caches of its children (internal nodes) or overflow pages (leaves).
// The caches stay attached to the node after the operation that filled
// them returns. offset/length are zero until the
// node has been written to disk at least once.
type hnode struct {
	page     *page.Node
	offset   uint32
	length   uint32
	children map[int]*hnode
	overflow map[int]*page.Overflow
}

func newHnode(p *page.Node) *hnode {
	return &hnode{page: p, children: map[int]*hnode{}, overflow: map[int]*page.Overflow{}}
}

// Tree is one B-tree instance: either the database's single primary
// index, or one of its secondary indexes.
type Tree struct {
	file          *slab.File
	freelist      *freelist.Manager
	rows          *rowstore.Cache
	kind          page.IndexKind
	indexedColumn uint32

	root       *hnode
	rootOffset uint32
	rootLength uint32
}

// Open constructs a Tree over an existing root (rootLength > 0) or an
// empty tree (rootLength == 0, root created lazily on first insert).
func Open(file *slab.File, fl *freelist.Manager, rows *rowstore.Cache, kind page.IndexKind, indexedColumn uint32, rootOffset, rootLength uint32) (*Tree, error) {
	t := &Tree{file: file, freelist: fl, rows: rows, kind: kind, indexedColumn: indexedColumn}
	if rootLength > 0 {
		root, err := t.load(rootOffset, rootLength)
		if err != nil {
			return nil, err
		}
		t.root = root
		t.rootOffset, t.rootLength = rootOffset, rootLength
	}
	return t, nil
}

// RootRegion returns the current root's on-disk region, or (0, 0) if the
// tree is empty.
func (t *Tree) RootRegion() (offset, length uint32) {
	return t.rootOffset, t.rootLength
}

// IndexedColumn reports the column this tree indexes. Meaningless for a
// primary-index tree.
func (t *Tree) IndexedColumn() uint32 { return t.indexedColumn }

// Kind reports whether this is the primary index or a secondary index.
func (t *Tree) Kind() page.IndexKind { return t.kind }

func (t *Tree) load(offset, length uint32) (*hnode, error) {
	b, ok := t.file.Read(offset, length)
	if !ok {
		return nil, ErrShortRead
	}
	n := newHnode(page.Decode(b))
	n.offset, n.length = offset, length
	return n, nil
}

func (t *Tree) child(n *hnode, i int) (*hnode, error) {
	if c, ok := n.children[i]; ok {
		return c, nil
	}
	slot := n.page.Children[i]
	c, err := t.load(slot.Offset, slot.Length)
	if err != nil {
		return nil, err
	}
	n.children[i] = c
	return c, nil
}

func (t *Tree) overflowAt(n *hnode, i int) (*page.Overflow, error) {
	if o, ok := n.overflow[i]; ok {
		return o, nil
	}
	slot := n.page.Children[i]
	b, ok := t.file.Read(slot.Offset, slot.Length)
	if !ok {
		return nil, ErrShortRead
	}
	o := page.DecodeOverflow(b)
	n.overflow[i] = o
	return o, nil
}

// rowKey extracts the bytes this tree compares for the row living at
// (offset, length): the raw primary key for a primary-index tree, or
// the indexed column's bytes for a secondary-index tree.
func (t *Tree) rowKey(offset, length uint32) ([]byte, error) {
	if t.kind == page.Primary {
		v, ok := t.rows.PrimaryKeyBytes(offset, length)
		if !ok {
			return nil, ErrShortRead
		}
		return v, nil
	}
	v, ok := t.rows.ColumnBytes(offset, length, t.indexedColumn)
	if !ok {
		return nil, ErrShortRead
	}
	return v, nil
}

// keyBytes returns the comparable bytes of the i-th key slot in p.
func (t *Tree) keyBytes(p *page.Node, i int) ([]byte, error) {
	k := p.Keys[i]
	if t.kind == page.Primary {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, k.KeyPayload)
		return b, nil
	}
	return t.rowKey(k.KeyPayload, k.RemoteSize)
}

func encodeKeySlot(kind page.IndexKind, key []byte, rowOffset, rowLength uint32) page.KeySlot {
	if kind == page.Primary {
		return page.KeySlot{KeyPayload: binary.LittleEndian.Uint32(key)}
	}
	return page.KeySlot{KeyPayload: rowOffset, RemoteSize: rowLength}
}

// findIndex returns the first index i such that key <= keyAt(i), or
// len(p.Keys) if key is greater than every key in p -- the leaf
// insertion and exact-match point. An exact match returns the matching
// slot itself, so internal-node descent uses descendIndex instead.
func (t *Tree) findIndex(p *page.Node, key []byte) (int, error) {
	for i := range p.Keys {
		kb, err := t.keyBytes(p, i)
		if err != nil {
			return 0, err
		}
		if bytes.Compare(key, kb) <= 0 {
			return i, nil
		}
	}
	return len(p.Keys), nil
}

// descendIndex returns the index of the child an internal node must
// descend into to find key: the first i such that key < keyAt(i), or
// len(p.Children)-1 if key is greater than or equal to every key in p.
// Under the equals-right convention a separator is a literal copy of
// its right child's minimum key, so an exact match on keyAt(i) must
// route to child i+1, not child i -- the opposite of findIndex's
// <=-based insertion point, which only holds for leaves.
func (t *Tree) descendIndex(p *page.Node, key []byte) (int, error) {
	for i := range p.Keys {
		kb, err := t.keyBytes(p, i)
		if err != nil {
			return 0, err
		}
		if bytes.Compare(key, kb) < 0 {
			return i, nil
		}
	}
	return len(p.Children) - 1, nil
}

// findIndexDup is findIndex plus an exact-match flag, used on leaves to
// distinguish a fresh insertion point from a duplicate key.
func (t *Tree) findIndexDup(p *page.Node, key []byte) (int, bool, error) {
	i, err := t.findIndex(p, key)
	if err != nil {
		return 0, false, err
	}
	if i < len(p.Keys) {
		kb, err := t.keyBytes(p, i)
		if err != nil {
			return 0, false, err
		}
		if bytes.Equal(kb, key) {
			return i, true, nil
		}
	}
	return i, false, nil
}

func (t *Tree) allocNode(n *hnode) (uint32, uint32, error) {
	data := n.page.Encode()
	offset, length, err := t.alloc(data, n.offset, n.length)
	if err != nil {
		return 0, 0, err
	}
	n.offset, n.length = offset, length
	return offset, length, nil
}

// alloc writes data to a reclaimed region if one fits, else appends it
// at EOF, freeing any previous region first.
func (t *Tree) alloc(data []byte, prevOffset, prevLength uint32) (uint32, uint32, error) {
	if prevLength > 0 {
		t.freelist.MarkFree(prevOffset, prevLength)
	}
	length := uint32(len(data))
	if offset, ok := t.freelist.TryReclaim(slab.PaddedLength(length)); ok {
		if err := t.file.Overwrite(offset, data); err != nil {
			return 0, 0, err
		}
		return offset, length, nil
	}
	offset, err := t.file.Append(data)
	if err != nil {
		return 0, 0, err
	}
	return offset, length, nil
}

func (t *Tree) writeOverflow(o *page.Overflow, prevOffset, prevLength uint32) (uint32, uint32, error) {
	return t.alloc(o.Encode(), prevOffset, prevLength)
}
