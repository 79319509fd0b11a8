package freelist

import "encoding/binary"

// itemSize is the on-disk size of one encoded Item: offset(4) + length(4).
const itemSize = 8

// Encode serializes items as count(4B) followed by count*(offset:4B,
// length:4B), all little-endian. Free list and reclaim list use this
// same layout; the master record distinguishes them by storing separate
// counts and offsets for each.
func Encode(items []Item) []byte {
	b := make([]byte, 4+len(items)*itemSize)
	binary.LittleEndian.PutUint32(b[0:], uint32(len(items)))
	for i, it := range items {
		off := 4 + i*itemSize
		binary.LittleEndian.PutUint32(b[off:], it.Offset)
		binary.LittleEndian.PutUint32(b[off+4:], it.Length)
	}
	return b
}

// Decode parses a buffer written by Encode. count is the number of items
// expected (taken from the master record), since the encoded buffer may
// be slab-padded past its logical end.
func Decode(b []byte, count uint32) []Item {
	items := make([]Item, 0, count)
	for i := uint32(0); i < count; i++ {
		off := 4 + int(i)*itemSize
		items = append(items, Item{
			Offset: binary.LittleEndian.Uint32(b[off:]),
			Length: binary.LittleEndian.Uint32(b[off+4:]),
		})
	}
	return items
}
