// Package kv is the database facade: the single entry point that owns
// the backing slab file, the free-space manager, the primary B-tree,
// every secondary B-tree, and the opaque column-name schema, and
// coordinates them on every mutation. The trees themselves never see
// more than one exclusive reference to these collaborators at a time;
// kv is where they're all owned.
package kv

import (
	"fmt"

	"github.com/daicang/ivorydb/pkg/btree"
	"github.com/daicang/ivorydb/pkg/common"
	"github.com/daicang/ivorydb/pkg/freelist"
	"github.com/daicang/ivorydb/pkg/master"
	"github.com/daicang/ivorydb/pkg/page"
	"github.com/daicang/ivorydb/pkg/rowstore"
	"github.com/daicang/ivorydb/pkg/slab"
)

var log = common.WithName("kv")

// Options configures Open.
type Options struct {
	// Path to the backing slab file. Created if it does not exist.
	Path string
}

// Database is one open database instance.
type Database struct {
	file     *slab.File
	freelist *freelist.Manager
	rows     *rowstore.Cache
	source   rowstore.Source

	schema    schema
	directory directory

	primary   *btree.Tree
	secondary []*btree.Tree

	// prevMaster is the master record as last read or written, kept so
	// Flush can mark_free the directory/schema/list regions it is about
	// to replace before appending their successors.
	prevMaster master.Record
}

// Open loads an existing database at opts.Path, or creates a fresh one
// if the file is new. source supplies row materialization and column
// extraction -- row encoding and type-checking live entirely on the
// caller's side of this boundary.
func Open(opts Options, source rowstore.Source) (*Database, error) {
	file, err := slab.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("kv: open: %w", err)
	}

	mrec, err := readMaster(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	fl := freelist.New()
	var freeItems, reclaimItems []freelist.Item
	if mrec.FreeListCount > 0 {
		b, ok := file.Read(mrec.FreeListOffset, slab.PaddedLength(4+mrec.FreeListCount*8))
		if !ok {
			file.Close()
			return nil, fmt.Errorf("kv: read free list: %w", btree.ErrShortRead)
		}
		freeItems = freelist.Decode(b, mrec.FreeListCount)
	}
	if mrec.ReclaimListCount > 0 {
		b, ok := file.Read(mrec.ReclaimListOffset, slab.PaddedLength(4+mrec.ReclaimListCount*8))
		if !ok {
			file.Close()
			return nil, fmt.Errorf("kv: read reclaim list: %w", btree.ErrShortRead)
		}
		reclaimItems = freelist.Decode(b, mrec.ReclaimListCount)
	}
	fl.Load(freeItems, reclaimItems)

	rows := rowstore.NewCache(source)

	var sch schema
	if mrec.SchemaLength > 0 {
		b, ok := file.Read(mrec.SchemaOffset, mrec.SchemaLength)
		if !ok {
			file.Close()
			return nil, fmt.Errorf("kv: read schema: %w", btree.ErrShortRead)
		}
		sch = decodeSchema(b)
	}

	var dir directory
	if mrec.DirectoryLength > 0 {
		b, ok := file.Read(mrec.DirectoryOffset, mrec.DirectoryLength)
		if !ok {
			file.Close()
			return nil, fmt.Errorf("kv: read directory: %w", btree.ErrShortRead)
		}
		dir = decodeDirectory(b)
	}

	primary, err := btree.Open(file, fl, rows, page.Primary, 0, mrec.PrimaryRootOffset, mrec.PrimaryRootLength)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("kv: open primary tree: %w", err)
	}

	db := &Database{
		file:       file,
		freelist:   fl,
		rows:       rows,
		source:     source,
		schema:     sch,
		directory:  dir,
		primary:    primary,
		prevMaster: mrec,
	}

	for _, entry := range dir.entries {
		// A secondary index registered but never populated persists with
		// a zero root offset; rootLengthFor treats that as an empty tree
		// for btree.Open rather than as a real zero-length root page.
		tree, err := btree.Open(file, fl, rows, page.Secondary, entry.IndexedColumn, entry.RootOffset, rootLengthFor(entry))
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("kv: open secondary tree on column %d: %w", entry.IndexedColumn, err)
		}
		db.secondary = append(db.secondary, tree)
	}

	log.Info("opened database", "path", opts.Path, "secondaryIndexes", len(db.secondary))
	return db, nil
}

func rootLengthFor(entry indexEntry) uint32 {
	if entry.RootOffset == 0 {
		return 0
	}
	return page.Size
}

func readMaster(file *slab.File) (master.Record, error) {
	b, ok := file.Read(0, master.Size)
	if !ok {
		return master.Record{}, fmt.Errorf("kv: read master record: %w", btree.ErrShortRead)
	}
	return master.Decode(b), nil
}

// AddColumn registers a column name in the schema without indexing it.
// Returns the column's index.
func (d *Database) AddColumn(name string) uint32 {
	return d.schema.addColumn(name)
}

// AddSecondaryIndex registers and returns a new, initially empty
// secondary index over the named column.
func (d *Database) AddSecondaryIndex(columnName string) (*btree.Tree, error) {
	column, ok := d.schema.columnIndex(columnName)
	if !ok {
		return nil, fmt.Errorf("kv: unknown column %q", columnName)
	}
	tree, err := btree.Open(d.file, d.freelist, d.rows, page.Secondary, column, 0, 0)
	if err != nil {
		return nil, err
	}
	d.secondary = append(d.secondary, tree)
	return tree, nil
}

// Insert stores the row at (rowOffset, rowLength) under primaryKey in
// the primary tree, then under its own indexed-column bytes in every
// secondary tree.
func (d *Database) Insert(primaryKey []byte, rowOffset, rowLength uint32) error {
	if err := d.primary.Insert(primaryKey, rowOffset, rowLength); err != nil {
		return fmt.Errorf("kv: insert into primary index: %w", err)
	}
	for _, tree := range d.secondary {
		if err := tree.Insert(nil, rowOffset, rowLength); err != nil {
			return fmt.Errorf("kv: insert into secondary index on column %d: %w", tree.IndexedColumn(), err)
		}
	}
	return nil
}

// SearchPrimary returns every row reference stored under key in the
// primary tree.
func (d *Database) SearchPrimary(key []byte) ([]common.RowRef, error) {
	return d.primary.Search(key)
}

// SearchSecondary returns every row reference stored under key in the
// secondary index over columnName.
func (d *Database) SearchSecondary(columnName string, key []byte) ([]common.RowRef, error) {
	tree, err := d.secondaryTree(columnName)
	if err != nil {
		return nil, err
	}
	return tree.Search(key)
}

// DeleteByPrimary removes the row(s) under key from the primary tree,
// then removes the same rows from every secondary tree by extracting
// each secondary's indexed-column bytes from the deleted row before it
// is forgotten.
func (d *Database) DeleteByPrimary(key []byte) ([]common.RowRef, error) {
	removed, err := d.primary.Delete(key)
	if err != nil {
		return nil, fmt.Errorf("kv: delete from primary index: %w", err)
	}
	for _, ref := range removed {
		for _, tree := range d.secondary {
			rowBytes, ok := d.source.RowBytes(ref.Offset, ref.Length)
			if !ok {
				continue
			}
			secKey := d.source.ColumnBytes(rowBytes, tree.IndexedColumn())
			if _, err := tree.Delete(secKey); err != nil {
				return nil, fmt.Errorf("kv: cascade delete from secondary index on column %d: %w", tree.IndexedColumn(), err)
			}
		}
	}
	return removed, nil
}

// DeleteBySecondary removes the row(s) under key from the secondary
// index over columnName, then cascades the deletion into the primary
// tree and every other secondary tree.
func (d *Database) DeleteBySecondary(columnName string, key []byte) ([]common.RowRef, error) {
	tree, err := d.secondaryTree(columnName)
	if err != nil {
		return nil, err
	}

	removed, err := tree.Delete(key)
	if err != nil {
		return nil, fmt.Errorf("kv: delete from secondary index on column %q: %w", columnName, err)
	}

	for _, ref := range removed {
		rowBytes, ok := d.source.RowBytes(ref.Offset, ref.Length)
		if !ok {
			continue
		}
		primaryKey := d.source.PrimaryKeyBytes(rowBytes)
		if _, err := d.primary.Delete(primaryKey); err != nil {
			return nil, fmt.Errorf("kv: cascade delete from primary index: %w", err)
		}

		for _, other := range d.secondary {
			if other == tree {
				continue
			}
			otherKey := d.source.ColumnBytes(rowBytes, other.IndexedColumn())
			if _, err := other.Delete(otherKey); err != nil {
				return nil, fmt.Errorf("kv: cascade delete from secondary index on column %d: %w", other.IndexedColumn(), err)
			}
		}
	}

	return removed, nil
}

func (d *Database) secondaryTree(columnName string) (*btree.Tree, error) {
	column, ok := d.schema.columnIndex(columnName)
	if !ok {
		return nil, fmt.Errorf("kv: unknown column %q", columnName)
	}
	for _, tree := range d.secondary {
		if tree.IndexedColumn() == column {
			return tree, nil
		}
	}
	return nil, fmt.Errorf("kv: no secondary index on column %q", columnName)
}

// Flush persists every pending tree root, the secondary-index
// directory, the schema, the coalesced free-space lists, and finally
// the master record itself -- the only durable boundary the database
// promises. Anything mutated before a successful Flush may be lost on
// crash.
func (d *Database) Flush() error {
	var mrec master.Record

	offset, length := d.primary.RootRegion()
	mrec.PrimaryRootOffset, mrec.PrimaryRootLength = offset, length

	entries := make([]indexEntry, len(d.secondary))
	for i, tree := range d.secondary {
		off, _ := tree.RootRegion()
		entries[i] = indexEntry{RootOffset: off, IndexedColumn: tree.IndexedColumn()}
	}
	d.directory = directory{entries: entries}

	if d.prevMaster.DirectoryLength > 0 {
		d.freelist.MarkFree(d.prevMaster.DirectoryOffset, slab.PaddedLength(d.prevMaster.DirectoryLength))
	}
	dirBytes := d.directory.encode()
	dirOffset, err := d.file.Append(dirBytes)
	if err != nil {
		return fmt.Errorf("kv: flush directory: %w", err)
	}
	mrec.DirectoryOffset, mrec.DirectoryLength = dirOffset, uint32(len(dirBytes))

	if d.prevMaster.SchemaLength > 0 {
		d.freelist.MarkFree(d.prevMaster.SchemaOffset, slab.PaddedLength(d.prevMaster.SchemaLength))
	}
	schemaBytes := d.schema.encode()
	schemaOffset, err := d.file.Append(schemaBytes)
	if err != nil {
		return fmt.Errorf("kv: flush schema: %w", err)
	}
	mrec.SchemaOffset, mrec.SchemaLength = schemaOffset, uint32(len(schemaBytes))

	if d.prevMaster.FreeListCount > 0 {
		d.freelist.MarkFree(d.prevMaster.FreeListOffset, slab.PaddedLength(4+d.prevMaster.FreeListCount*8))
	}
	if d.prevMaster.ReclaimListCount > 0 {
		d.freelist.MarkFree(d.prevMaster.ReclaimListOffset, slab.PaddedLength(4+d.prevMaster.ReclaimListCount*8))
	}

	d.freelist.Coalesce()

	freeBytes := freelist.Encode(d.freelist.FreeItems())
	freeOffset, err := d.file.Append(freeBytes)
	if err != nil {
		return fmt.Errorf("kv: flush free list: %w", err)
	}
	mrec.FreeListOffset, mrec.FreeListCount = freeOffset, uint32(d.freelist.FreeLen())

	reclaimBytes := freelist.Encode(d.freelist.ReclaimItems())
	reclaimOffset, err := d.file.Append(reclaimBytes)
	if err != nil {
		return fmt.Errorf("kv: flush reclaim list: %w", err)
	}
	mrec.ReclaimListOffset, mrec.ReclaimListCount = reclaimOffset, uint32(d.freelist.ReclaimLen())

	if err := d.file.Overwrite(0, mrec.Encode()); err != nil {
		return fmt.Errorf("kv: write master record: %w", err)
	}
	if err := d.file.Flush(); err != nil {
		return fmt.Errorf("kv: sync: %w", err)
	}

	d.prevMaster = mrec
	log.V(1).Info("flushed database", "secondaryIndexes", len(d.secondary), "freeItems", d.freelist.FreeLen(), "reclaimItems", d.freelist.ReclaimLen())
	return nil
}

// Close flushes and releases the backing file.
func (d *Database) Close() error {
	if err := d.Flush(); err != nil {
		return err
	}
	return d.file.Close()
}
