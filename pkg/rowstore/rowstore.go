// Package rowstore defines the row-table collaborator the B-tree engine
// consumes but never implements itself. Row serialization, column
// layout, and type-checking all live outside the core; this package
// only describes the narrow interface the core needs to compare keys
// and return row references, plus a small cache so a row touched more
// than once is only fetched once.
package rowstore

// Source materializes rows from disk and extracts comparable bytes from
// a decoded row. The core treats a row as an opaque blob; everything
// about its shape is delegated here.
type Source interface {
	// RowBytes returns the raw encoded row at the given region, or
	// ok=false on a short/failed read.
	RowBytes(offset, length uint32) (row []byte, ok bool)

	// ColumnBytes extracts the comparable bytes of the given column
	// index from an already-materialized row.
	ColumnBytes(row []byte, column uint32) []byte

	// PrimaryKeyBytes extracts the comparable bytes of the row's
	// primary key from an already-materialized row.
	PrimaryKeyBytes(row []byte) []byte
}

// Cache memoizes materialized rows by offset. An entry stays until
// Forget evicts it; the cache is not cleared between B-tree operations.
type Cache struct {
	src  Source
	rows map[uint32][]byte
}

// NewCache wraps src with a per-operation row cache.
func NewCache(src Source) *Cache {
	return &Cache{src: src, rows: make(map[uint32][]byte)}
}

func (c *Cache) row(offset, length uint32) ([]byte, bool) {
	if row, ok := c.rows[offset]; ok {
		return row, true
	}
	row, ok := c.src.RowBytes(offset, length)
	if !ok {
		return nil, false
	}
	c.rows[offset] = row
	return row, true
}

// ColumnBytes fetches (and caches) the row at (offset, length) and
// returns the requested column's comparable bytes.
func (c *Cache) ColumnBytes(offset, length, column uint32) ([]byte, bool) {
	row, ok := c.row(offset, length)
	if !ok {
		return nil, false
	}
	return c.src.ColumnBytes(row, column), true
}

// PrimaryKeyBytes fetches (and caches) the row at (offset, length) and
// returns its primary key's comparable bytes.
func (c *Cache) PrimaryKeyBytes(offset, length uint32) ([]byte, bool) {
	row, ok := c.row(offset, length)
	if !ok {
		return nil, false
	}
	return c.src.PrimaryKeyBytes(row), true
}

// Forget evicts a cached row, used after a row's underlying region has
// been freed so a stale entry can't be served for a reused offset.
func (c *Cache) Forget(offset uint32) { delete(c.rows, offset) }
