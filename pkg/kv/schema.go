package kv

import "encoding/binary"

// schema is the opaque column-name registry the facade uses to resolve
// a secondary index by name. It carries no type information: column
// type-checking and row encoding are the caller's responsibility, not
// the core's.
type schema struct {
	columns []string
}

// columnIndex returns the column index registered under name, or
// ok=false if no such column was ever added.
func (s schema) columnIndex(name string) (uint32, bool) {
	for i, c := range s.columns {
		if c == name {
			return uint32(i), true
		}
	}
	return 0, false
}

func (s *schema) addColumn(name string) uint32 {
	s.columns = append(s.columns, name)
	return uint32(len(s.columns) - 1)
}

// decodeSchema parses a schema from its on-disk bytes: a num_columns:4B
// header followed by, per column, a name_length:4B and that many bytes.
func decodeSchema(b []byte) schema {
	if len(b) < 4 {
		return schema{}
	}
	numCols := binary.LittleEndian.Uint32(b[0:4])
	s := schema{columns: make([]string, 0, numCols)}
	off := 4
	for i := uint32(0); i < numCols; i++ {
		if off+4 > len(b) {
			break
		}
		nameLen := int(binary.LittleEndian.Uint32(b[off:]))
		off += 4
		if off+nameLen > len(b) {
			break
		}
		s.columns = append(s.columns, string(b[off:off+nameLen]))
		off += nameLen
	}
	return s
}

func (s schema) encode() []byte {
	size := 4
	for _, c := range s.columns {
		size += 4 + len(c)
	}
	b := make([]byte, size)
	binary.LittleEndian.PutUint32(b[0:4], uint32(len(s.columns)))
	off := 4
	for _, c := range s.columns {
		binary.LittleEndian.PutUint32(b[off:], uint32(len(c)))
		off += 4
		copy(b[off:], c)
		off += len(c)
	}
	return b
}
