// Package slab implements the single-file, slab-aligned storage layer the
// rest of the database core is built on. The file is an ordinary OS file
// accessed positionally; there is no mmap and no page cache beyond the
// OS's own. Every region handed back by Append is padded to a whole
// number of Size-byte slabs, so any offset/length pair returned by the
// free-space manager or by a page encoder names an exact multiple of the
// slab unit.
package slab

import (
	"fmt"
	"os"
)

// Size is the fixed slab unit, in bytes. It is chosen to exactly fit one
// encoded node page (see package page), so every B-tree node occupies
// precisely one slab with no wasted padding.
const Size = 92

// File is the single on-disk file backing a database. Slab 0 is always
// reserved for the master record; every other region is allocated by
// the caller (typically the free-space manager) and written through
// Append or Overwrite.
type File struct {
	f    *os.File
	size int64
}

// Open opens (creating if necessary) the slab file at path. A freshly
// created file has its first slab reserved and zeroed for the master
// record.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("slab: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("slab: stat %s: %w", path, err)
	}

	sf := &File{f: f, size: fi.Size()}
	if fi.Size() == 0 {
		if _, err := sf.Append(make([]byte, Size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("slab: reserve master slab: %w", err)
		}
	}
	return sf, nil
}

// Read returns the length bytes starting at offset, or ok=false if the
// region runs past the end of the file or the underlying read is short.
// A short read aborts the calling operation rather than returning
// partial data.
func (f *File) Read(offset, length uint32) (data []byte, ok bool) {
	if length == 0 {
		return nil, true
	}
	if int64(offset)+int64(length) > f.size {
		return nil, false
	}
	buf := make([]byte, length)
	n, err := f.f.ReadAt(buf, int64(offset))
	if err != nil || n != int(length) {
		return nil, false
	}
	return buf, true
}

// Append writes data at the end of the file, padding it up to a whole
// number of slabs, and returns the offset the data (not the padding)
// starts at.
func (f *File) Append(data []byte) (uint32, error) {
	offset := f.size
	padded := padToSlab(data)
	if _, err := f.f.WriteAt(padded, offset); err != nil {
		return 0, fmt.Errorf("slab: append: %w", err)
	}
	f.size += int64(len(padded))
	return uint32(offset), nil
}

// Overwrite replaces the bytes at offset in place. The caller is
// responsible for ensuring the region was previously allocated and is
// large enough to hold data.
func (f *File) Overwrite(offset uint32, data []byte) error {
	if _, err := f.f.WriteAt(data, int64(offset)); err != nil {
		return fmt.Errorf("slab: overwrite at %d: %w", offset, err)
	}
	return nil
}

// Flush durably persists every write issued so far. The database facade
// calls this from its own Flush, after the master record has been
// rewritten, matching the single explicit flush point the design
// promises -- there is no implicit fsync on every write.
func (f *File) Flush() error {
	return f.f.Sync()
}

// Size returns the current file size in bytes.
func (f *File) Size() uint32 {
	return uint32(f.size)
}

// Close releases the underlying OS file handle.
func (f *File) Close() error {
	return f.f.Close()
}

func padToSlab(data []byte) []byte {
	rem := len(data) % Size
	if rem == 0 {
		return data
	}
	padded := make([]byte, len(data)+(Size-rem))
	copy(padded, data)
	return padded
}

// PaddedLength rounds length up to the nearest whole number of slabs,
// matching the padding Append applies.
func PaddedLength(length uint32) uint32 {
	rem := length % Size
	if rem == 0 {
		return length
	}
	return length + (Size - rem)
}
