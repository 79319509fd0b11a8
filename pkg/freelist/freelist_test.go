package freelist

import "testing"

func TestTryReclaimExactFit(t *testing.T) {
	m := New()
	m.reclaim = []Item{{Offset: 0, Length: 92}, {Offset: 200, Length: 50}}

	offset, ok := m.TryReclaim(50)
	if !ok || offset != 200 {
		t.Errorf("expect offset 200, ok true; got %d, %v", offset, ok)
	}
	if len(m.reclaim) != 1 {
		t.Errorf("expect exact-fit item removed, got %v", m.reclaim)
	}
}

func TestTryReclaimCarvesLowEnd(t *testing.T) {
	m := New()
	m.reclaim = []Item{{Offset: 100, Length: 184}}

	offset, ok := m.TryReclaim(92)
	if !ok || offset != 100 {
		t.Errorf("expect offset 100; got %d, %v", offset, ok)
	}
	if len(m.reclaim) != 1 || m.reclaim[0].Offset != 192 || m.reclaim[0].Length != 92 {
		t.Errorf("expect remainder {192,92}, got %v", m.reclaim)
	}
}

func TestTryReclaimScansWhenLastTooSmall(t *testing.T) {
	m := New()
	m.reclaim = []Item{{Offset: 500, Length: 300}, {Offset: 0, Length: 10}}

	offset, ok := m.TryReclaim(92)
	if !ok || offset != 500 {
		t.Errorf("expect offset 500; got %d, %v", offset, ok)
	}
}

func TestTryReclaimNoFitRestoresToFreeList(t *testing.T) {
	m := New()
	m.reclaim = []Item{{Offset: 0, Length: 10}}

	_, ok := m.TryReclaim(92)
	if ok {
		t.Errorf("expect no fit")
	}
	if len(m.reclaim) != 0 {
		t.Errorf("expect reclaim list drained, got %v", m.reclaim)
	}
	if len(m.free) != 1 || m.free[0].Length != 10 {
		t.Errorf("expect popped item restored to free list, got %v", m.free)
	}
}

func TestTryReclaimOnEmptyListFails(t *testing.T) {
	m := New()
	if _, ok := m.TryReclaim(1); ok {
		t.Errorf("expect empty reclaim list to fail")
	}
}

func TestCoalesceJoinsAdjacentRegions(t *testing.T) {
	m := New()
	m.free = []Item{{Offset: 92, Length: 92}, {Offset: 276, Length: 92}}
	m.reclaim = []Item{{Offset: 184, Length: 92}}

	m.Coalesce()

	if len(m.reclaim) != 1 {
		t.Fatalf("expect one merged span, got %v", m.reclaim)
	}
	if m.reclaim[0].Offset != 92 || m.reclaim[0].Length != 276 {
		t.Errorf("expect merged span {92,276}, got %v", m.reclaim[0])
	}
	if len(m.free) != 0 {
		t.Errorf("expect free list drained after coalesce, got %v", m.free)
	}
}

func TestCoalesceSortsResultByLengthDescending(t *testing.T) {
	m := New()
	m.free = []Item{{Offset: 1000, Length: 92}, {Offset: 2000, Length: 276}}

	m.Coalesce()

	if len(m.reclaim) != 2 {
		t.Fatalf("expect two disjoint spans, got %v", m.reclaim)
	}
	if m.reclaim[0].Length < m.reclaim[1].Length {
		t.Errorf("expect descending length order, got %v", m.reclaim)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	items := []Item{{Offset: 92, Length: 184}, {Offset: 368, Length: 92}}
	buf := Encode(items)

	got := Decode(buf, uint32(len(items)))
	if len(got) != len(items) {
		t.Fatalf("expect %d items, got %d", len(items), len(got))
	}
	for i := range items {
		if got[i] != items[i] {
			t.Errorf("item %d: expect %v got %v", i, items[i], got[i])
		}
	}
}
