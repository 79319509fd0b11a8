package kv

import "encoding/binary"

// indexEntry names one secondary index: the slab region its root
// currently lives in, and which row column it indexes.
type indexEntry struct {
	RootOffset    uint32
	IndexedColumn uint32
}

const indexEntrySize = 8

// directory is the decoded secondary-index directory: one entry per
// secondary index, in the order AddSecondaryIndex first created them.
type directory struct {
	entries []indexEntry
}

// decodeDirectory parses a directory from its on-disk bytes: a
// (size:4B, num_items:4B) header followed by num_items entries.
func decodeDirectory(b []byte) directory {
	if len(b) < 8 {
		return directory{}
	}
	numItems := binary.LittleEndian.Uint32(b[4:8])
	d := directory{entries: make([]indexEntry, 0, numItems)}
	for i := uint32(0); i < numItems; i++ {
		off := 8 + int(i)*indexEntrySize
		if off+indexEntrySize > len(b) {
			break
		}
		d.entries = append(d.entries, indexEntry{
			RootOffset:    binary.LittleEndian.Uint32(b[off:]),
			IndexedColumn: binary.LittleEndian.Uint32(b[off+4:]),
		})
	}
	return d
}

// encode serializes the directory to its on-disk form, including its
// own size in the header's first field.
func (d directory) encode() []byte {
	size := 8 + len(d.entries)*indexEntrySize
	b := make([]byte, size)
	binary.LittleEndian.PutUint32(b[0:], uint32(size))
	binary.LittleEndian.PutUint32(b[4:], uint32(len(d.entries)))
	for i, e := range d.entries {
		off := 8 + i*indexEntrySize
		binary.LittleEndian.PutUint32(b[off:], e.RootOffset)
		binary.LittleEndian.PutUint32(b[off+4:], e.IndexedColumn)
	}
	return b
}
