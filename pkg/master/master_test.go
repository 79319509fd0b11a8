package master

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r := Record{
		PrimaryRootLength: 92,
		PrimaryRootOffset: 92,
		DirectoryLength:   16,
		DirectoryOffset:   184,
		SchemaLength:      40,
		SchemaOffset:      276,
		FreeListCount:     2,
		FreeListOffset:    368,
		ReclaimListCount:  1,
		ReclaimListOffset: 460,
	}

	got := Decode(r.Encode())
	if got != r {
		t.Errorf("expect %+v got %+v", r, got)
	}
}

func TestEncodeIsFixedSize(t *testing.T) {
	if len(Record{}.Encode()) != Size {
		t.Errorf("expect encoded size %d, got %d", Size, len(Record{}.Encode()))
	}
}
