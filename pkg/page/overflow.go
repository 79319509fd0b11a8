package page

import (
	"encoding/binary"

	"github.com/daicang/ivorydb/pkg/common"
)

// overflowItemSize is the on-disk size of one overflow item:
// length(4) + offset(4).
const overflowItemSize = 8

// OverflowItem is one row reference chained off a duplicate-key slot.
type OverflowItem struct {
	Length uint32
	Offset uint32
}

// Overflow is a page created the moment a second row shares an indexed
// column's value: the leaf's child slot for that key is repointed at
// this page instead of a single row.
type Overflow struct {
	Items []OverflowItem
}

// NewOverflow returns an overflow page seeded with the row that was
// already occupying the slot being converted.
func NewOverflow(offset, length uint32) *Overflow {
	return &Overflow{Items: []OverflowItem{{Offset: offset, Length: length}}}
}

// AddItem appends another row reference sharing the same key.
func (o *Overflow) AddItem(offset, length uint32) {
	o.Items = append(o.Items, OverflowItem{Offset: offset, Length: length})
}

// NumItems returns how many rows currently share this key.
func (o *Overflow) NumItems() int { return len(o.Items) }

// DecodeOverflow parses an overflow page: num_items(4B) followed by
// num_items * (length:4B, offset:4B).
func DecodeOverflow(b []byte) *Overflow {
	common.Assert(len(b) >= 4, "overflow page too short: %d bytes", len(b))

	n := binary.LittleEndian.Uint32(b[0:])
	o := &Overflow{Items: make([]OverflowItem, 0, n)}
	for i := uint32(0); i < n; i++ {
		off := 4 + int(i)*overflowItemSize
		o.Items = append(o.Items, OverflowItem{
			Length: binary.LittleEndian.Uint32(b[off:]),
			Offset: binary.LittleEndian.Uint32(b[off+4:]),
		})
	}
	return o
}

// Encode serializes the overflow page to its variable-length on-disk form.
func (o *Overflow) Encode() []byte {
	b := make([]byte, 4+len(o.Items)*overflowItemSize)
	binary.LittleEndian.PutUint32(b[0:], uint32(len(o.Items)))
	for i, it := range o.Items {
		off := 4 + i*overflowItemSize
		binary.LittleEndian.PutUint32(b[off:], it.Length)
		binary.LittleEndian.PutUint32(b[off+4:], it.Offset)
	}
	return b
}
