package btree

import (
	"encoding/binary"
	"os"
	"testing"

	"github.com/daicang/ivorydb/pkg/common"
	"github.com/daicang/ivorydb/pkg/freelist"
	"github.com/daicang/ivorydb/pkg/page"
	"github.com/daicang/ivorydb/pkg/rowstore"
	"github.com/daicang/ivorydb/pkg/slab"
	"github.com/daicang/ivorydb/pkg/testutil"
)

// fileRowSource reads rows straight out of the same slab file the tree
// itself uses, matching how the kv facade wires rowstore.Source in
// production: rows and pages share one file.
type fileRowSource struct {
	file *slab.File
}

func (s *fileRowSource) RowBytes(offset, length uint32) ([]byte, bool) {
	return s.file.Read(offset, length)
}

func (s *fileRowSource) ColumnBytes(row []byte, column uint32) []byte {
	return row[column : column+1]
}

func (s *fileRowSource) PrimaryKeyBytes(row []byte) []byte {
	return row[0:4]
}

func tempSlab(t *testing.T) *slab.File {
	t.Helper()
	f, err := os.CreateTemp("", "btree-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(path) })

	sf, err := slab.Open(path)
	if err != nil {
		t.Fatalf("open slab file: %v", err)
	}
	t.Cleanup(func() { sf.Close() })
	return sf
}

// putRow appends an 8-byte row: a 4-byte primary key and a 1-byte
// secondary-indexed column at offset 4.
func putRow(t *testing.T, f *slab.File, primaryKey uint32, indexedValue byte) (offset, length uint32) {
	t.Helper()
	row := make([]byte, 8)
	binary.LittleEndian.PutUint32(row[0:4], primaryKey)
	row[4] = indexedValue
	off, err := f.Append(row)
	if err != nil {
		t.Fatalf("append row: %v", err)
	}
	return off, 8
}

func keyOf(n uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return b
}

func newTree(t *testing.T, f *slab.File, fl *freelist.Manager, rows *rowstore.Cache, kind page.IndexKind, indexedColumn uint32) *Tree {
	t.Helper()
	tree, err := Open(f, fl, rows, kind, indexedColumn, 0, 0)
	if err != nil {
		t.Fatalf("open tree: %v", err)
	}
	return tree
}

func refsEqual(refs []common.RowRef, want ...common.RowRef) bool {
	if len(refs) != len(want) {
		return false
	}
	seen := make(map[common.RowRef]bool)
	for _, r := range refs {
		seen[r] = true
	}
	for _, w := range want {
		if !seen[w] {
			return false
		}
	}
	return true
}

func TestPrimaryInsertAndSearch(t *testing.T) {
	f := tempSlab(t)
	fl := freelist.New()
	rows := rowstore.NewCache(&fileRowSource{file: f})
	tree := newTree(t, f, fl, rows, page.Primary, 0)

	off, length := putRow(t, f, 1, 42)
	if err := tree.Insert(keyOf(1), off, length); err != nil {
		t.Fatalf("insert: %v", err)
	}

	refs, err := tree.Search(keyOf(1))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !refsEqual(refs, common.RowRef{Offset: off, Length: length}) {
		t.Errorf("search(1) = %v, want single ref at %d", refs, off)
	}
}

func TestPrimarySearchMiss(t *testing.T) {
	f := tempSlab(t)
	fl := freelist.New()
	rows := rowstore.NewCache(&fileRowSource{file: f})
	tree := newTree(t, f, fl, rows, page.Primary, 0)

	off, length := putRow(t, f, 1, 42)
	if err := tree.Insert(keyOf(1), off, length); err != nil {
		t.Fatalf("insert: %v", err)
	}

	refs, err := tree.Search(keyOf(99))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if refs != nil {
		t.Errorf("search(99) = %v, want nil", refs)
	}
}

func TestPrimaryLeafSplitsOnFifthKey(t *testing.T) {
	f := tempSlab(t)
	fl := freelist.New()
	rows := rowstore.NewCache(&fileRowSource{file: f})
	tree := newTree(t, f, fl, rows, page.Primary, 0)

	refs := map[uint32]common.RowRef{}
	for i := uint32(1); i <= 5; i++ {
		off, length := putRow(t, f, i, byte(i))
		if err := tree.Insert(keyOf(i), off, length); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		refs[i] = common.RowRef{Offset: off, Length: length}
	}

	if tree.root.page.Type != page.Internal {
		t.Fatalf("root type = %v, want Internal after 5 inserts", tree.root.page.Type)
	}
	if len(tree.root.page.Keys) != 1 {
		t.Fatalf("root keys = %d, want 1", len(tree.root.page.Keys))
	}

	for i := uint32(1); i <= 5; i++ {
		got, err := tree.Search(keyOf(i))
		if err != nil {
			t.Fatalf("search %d: %v", i, err)
		}
		if !refsEqual(got, refs[i]) {
			t.Errorf("search(%d) = %v, want %v", i, got, refs[i])
		}
	}
}

func TestPrimaryDuplicateKeyFoldsIntoOverflow(t *testing.T) {
	f := tempSlab(t)
	fl := freelist.New()
	rows := rowstore.NewCache(&fileRowSource{file: f})
	tree := newTree(t, f, fl, rows, page.Primary, 0)

	off1, len1 := putRow(t, f, 7, 1)
	off2, len2 := putRow(t, f, 7, 2)
	if err := tree.Insert(keyOf(7), off1, len1); err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if err := tree.Insert(keyOf(7), off2, len2); err != nil {
		t.Fatalf("insert 2: %v", err)
	}

	refs, err := tree.Search(keyOf(7))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	want := []common.RowRef{{Offset: off1, Length: len1}, {Offset: off2, Length: len2}}
	if !refsEqual(refs, want...) {
		t.Errorf("search(7) = %v, want %v", refs, want)
	}
}

func TestSecondaryIndexCollectsDuplicates(t *testing.T) {
	f := tempSlab(t)
	fl := freelist.New()
	rows := rowstore.NewCache(&fileRowSource{file: f})
	tree := newTree(t, f, fl, rows, page.Secondary, 4)

	off1, len1 := putRow(t, f, 1, 7)
	off2, len2 := putRow(t, f, 2, 7)
	off3, len3 := putRow(t, f, 3, 9)

	for _, r := range []struct {
		off, length uint32
	}{{off1, len1}, {off2, len2}, {off3, len3}} {
		if err := tree.Insert(nil, r.off, r.length); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	refs, err := tree.Search([]byte{7})
	if err != nil {
		t.Fatalf("search(7): %v", err)
	}
	want := []common.RowRef{{Offset: off1, Length: len1}, {Offset: off2, Length: len2}}
	if !refsEqual(refs, want...) {
		t.Errorf("search(7) = %v, want %v", refs, want)
	}

	refs, err = tree.Search([]byte{9})
	if err != nil {
		t.Fatalf("search(9): %v", err)
	}
	if !refsEqual(refs, common.RowRef{Offset: off3, Length: len3}) {
		t.Errorf("search(9) = %v, want single ref at %d", refs, off3)
	}
}

func TestDeleteRemovesKeyAndPreservesSiblings(t *testing.T) {
	f := tempSlab(t)
	fl := freelist.New()
	rows := rowstore.NewCache(&fileRowSource{file: f})
	tree := newTree(t, f, fl, rows, page.Primary, 0)

	for i := uint32(1); i <= 3; i++ {
		off, length := putRow(t, f, i, byte(i))
		if err := tree.Insert(keyOf(i), off, length); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	removed, err := tree.Delete(keyOf(2))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(removed) != 1 {
		t.Fatalf("delete(2) removed %d refs, want 1", len(removed))
	}

	if refs, _ := tree.Search(keyOf(2)); refs != nil {
		t.Errorf("search(2) after delete = %v, want nil", refs)
	}
	if refs, _ := tree.Search(keyOf(1)); refs == nil {
		t.Errorf("search(1) after deleting 2 = nil, want a hit")
	}
	if refs, _ := tree.Search(keyOf(3)); refs == nil {
		t.Errorf("search(3) after deleting 2 = nil, want a hit")
	}
}

func TestDeleteLastKeyEmptiesTree(t *testing.T) {
	f := tempSlab(t)
	fl := freelist.New()
	rows := rowstore.NewCache(&fileRowSource{file: f})
	tree := newTree(t, f, fl, rows, page.Primary, 0)

	off, length := putRow(t, f, 1, 1)
	if err := tree.Insert(keyOf(1), off, length); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := tree.Delete(keyOf(1)); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if tree.root != nil {
		t.Errorf("root after deleting only key = %v, want nil", tree.root)
	}
	offset, length := tree.RootRegion()
	if offset != 0 || length != 0 {
		t.Errorf("RootRegion() = (%d, %d), want (0, 0)", offset, length)
	}

	refs, err := tree.Search(keyOf(1))
	if err != nil {
		t.Fatalf("search on empty tree: %v", err)
	}
	if refs != nil {
		t.Errorf("search on empty tree = %v, want nil", refs)
	}
}

func TestDeleteMissingKeyIsNoop(t *testing.T) {
	f := tempSlab(t)
	fl := freelist.New()
	rows := rowstore.NewCache(&fileRowSource{file: f})
	tree := newTree(t, f, fl, rows, page.Primary, 0)

	off, length := putRow(t, f, 1, 1)
	if err := tree.Insert(keyOf(1), off, length); err != nil {
		t.Fatalf("insert: %v", err)
	}

	removed, err := tree.Delete(keyOf(2))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed != nil {
		t.Errorf("delete of missing key returned %v, want nil", removed)
	}
}

func TestInsertDeleteAcrossMultipleSplitsAndMerges(t *testing.T) {
	f := tempSlab(t)
	fl := freelist.New()
	rows := rowstore.NewCache(&fileRowSource{file: f})
	tree := newTree(t, f, fl, rows, page.Primary, 0)

	const n = 25
	refs := map[uint32]common.RowRef{}
	for i := uint32(1); i <= n; i++ {
		off, length := putRow(t, f, i, byte(i))
		if err := tree.Insert(keyOf(i), off, length); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
		refs[i] = common.RowRef{Offset: off, Length: length}
	}

	for i := uint32(1); i <= n; i++ {
		got, err := tree.Search(keyOf(i))
		if err != nil || !refsEqual(got, refs[i]) {
			t.Fatalf("search(%d) = %v, %v; want %v", i, got, err, refs[i])
		}
	}

	toDelete := []uint32{3, 7, 12, 18, 20, 1, 25, 13}
	deleted := map[uint32]bool{}
	for _, k := range toDelete {
		removed, err := tree.Delete(keyOf(k))
		if err != nil {
			t.Fatalf("delete %d: %v", k, err)
		}
		if len(removed) != 1 {
			t.Fatalf("delete(%d) removed %d refs, want 1", k, len(removed))
		}
		deleted[k] = true
	}

	for i := uint32(1); i <= n; i++ {
		got, err := tree.Search(keyOf(i))
		if err != nil {
			t.Fatalf("search(%d) after deletes: %v", i, err)
		}
		if deleted[i] {
			if got != nil {
				t.Errorf("search(%d) after delete = %v, want nil", i, got)
			}
		} else {
			if !refsEqual(got, refs[i]) {
				t.Errorf("search(%d) after unrelated deletes = %v, want %v", i, got, refs[i])
			}
		}
	}
}

// TestFuzzPrimaryInsertSearchDelete drives the tree with randomly
// generated distinct keys and row payloads, exercising whatever split
// shape gofuzz's randomness happens to produce rather than a hand-picked
// sequence.
func TestFuzzPrimaryInsertSearchDelete(t *testing.T) {
	f := tempSlab(t)
	fl := freelist.New()
	rows := rowstore.NewCache(&fileRowSource{file: f})
	tree := newTree(t, f, fl, rows, page.Primary, 0)

	seen := map[uint32]common.RowRef{}
	for len(seen) < 40 {
		keyBytes := testutil.RandomPrimaryKey()
		k := binary.LittleEndian.Uint32(keyBytes)
		if _, exists := seen[k]; exists {
			continue
		}
		payload := testutil.RandomRowPayload(8)
		off, err := f.Append(payload)
		if err != nil {
			t.Fatalf("append row: %v", err)
		}
		if err := tree.Insert(keyBytes, off, 8); err != nil {
			t.Fatalf("insert %d: %v", k, err)
		}
		seen[k] = common.RowRef{Offset: off, Length: 8}
	}

	for k, ref := range seen {
		got, err := tree.Search(keyOf(k))
		if err != nil {
			t.Fatalf("search(%d): %v", k, err)
		}
		if !refsEqual(got, ref) {
			t.Fatalf("search(%d) = %v, want %v", k, got, ref)
		}
	}

	ordered := make([]uint32, 0, len(seen))
	for k := range seen {
		ordered = append(ordered, k)
	}
	for i, k := range ordered {
		if i%2 != 0 {
			continue
		}
		if _, err := tree.Delete(keyOf(k)); err != nil {
			t.Fatalf("delete(%d): %v", k, err)
		}
		delete(seen, k)
	}

	for i, k := range ordered {
		got, err := tree.Search(keyOf(k))
		if err != nil {
			t.Fatalf("search(%d) after deletes: %v", k, err)
		}
		if i%2 == 0 {
			if got != nil {
				t.Errorf("search(%d) after delete = %v, want nil", k, got)
			}
			continue
		}
		if !refsEqual(got, seen[k]) {
			t.Errorf("search(%d) after unrelated deletes = %v, want %v", k, got, seen[k])
		}
	}
}
