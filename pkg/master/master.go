// Package master encodes and decodes the fixed 40-byte master record that
// lives at offset 0 of every slab file -- slab 0, reserved by the slab
// package on creation. It is the sole root of trust for finding every
// other structure on disk: the primary index tree, the secondary-index
// directory, the opaque table schema blob, and the two free-space lists.
package master

import "encoding/binary"

// Size is the fixed on-disk size of a master record, in bytes: ten
// little-endian uint32 fields.
const Size = 40

// Record is the decoded master record.
type Record struct {
	PrimaryRootLength uint32
	PrimaryRootOffset uint32

	DirectoryLength uint32
	DirectoryOffset uint32

	SchemaLength uint32
	SchemaOffset uint32

	FreeListCount  uint32
	FreeListOffset uint32

	ReclaimListCount  uint32
	ReclaimListOffset uint32
}

// Decode parses a master record from its on-disk bytes.
func Decode(b []byte) Record {
	u32 := binary.LittleEndian.Uint32
	return Record{
		PrimaryRootLength: u32(b[0:]),
		PrimaryRootOffset: u32(b[4:]),
		DirectoryLength:   u32(b[8:]),
		DirectoryOffset:   u32(b[12:]),
		SchemaLength:      u32(b[16:]),
		SchemaOffset:      u32(b[20:]),
		FreeListCount:     u32(b[24:]),
		FreeListOffset:    u32(b[28:]),
		ReclaimListCount:  u32(b[32:]),
		ReclaimListOffset: u32(b[36:]),
	}
}

// Encode serializes the record to its fixed 40-byte on-disk form.
func (r Record) Encode() []byte {
	b := make([]byte, Size)
	put := binary.LittleEndian.PutUint32
	put(b[0:], r.PrimaryRootLength)
	put(b[4:], r.PrimaryRootOffset)
	put(b[8:], r.DirectoryLength)
	put(b[12:], r.DirectoryOffset)
	put(b[16:], r.SchemaLength)
	put(b[20:], r.SchemaOffset)
	put(b[24:], r.FreeListCount)
	put(b[28:], r.FreeListOffset)
	put(b[32:], r.ReclaimListCount)
	put(b[36:], r.ReclaimListOffset)
	return b
}
