// Package freelist tracks reclaimable disk regions between two lists: a
// free list of just-released regions and a reclaim list of regions
// actually available for allocation. Coalesce merges the two into a
// fresh, adjacency-collapsed reclaim list; TryReclaim hands out space
// from it. The split mirrors the source design's own two-list scheme
// rather than a single sorted free set, so that releases made mid-
// operation never have to be merged until the next explicit flush.
package freelist

import "sort"

// Item describes one reclaimable disk region.
type Item struct {
	Offset uint32
	Length uint32
}

// Manager holds the free list and reclaim list for a single slab file.
type Manager struct {
	free    []Item
	reclaim []Item
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{}
}

// MarkFree appends a region to the free list. It does not become
// allocatable until the next Coalesce.
func (m *Manager) MarkFree(offset, length uint32) {
	if length == 0 {
		return
	}
	m.free = append(m.free, Item{Offset: offset, Length: length})
}

// TryReclaim carves a length-byte region out of the reclaim list, or
// reports ok=false if no region is big enough.
//
// Policy: inspect the last reclaim-list item. If length fits, carve from
// its low end (shrinking or consuming it). Otherwise linearly scan for
// the first item with a larger length and carve from it the same way.
// If nothing fits, the tentatively-removed last item is restored to the
// free list rather than the reclaim list, so it gets a chance to
// coalesce with a freshly-freed neighbor on the next pass.
func (m *Manager) TryReclaim(length uint32) (offset uint32, ok bool) {
	n := len(m.reclaim)
	if n == 0 {
		return 0, false
	}

	last := m.reclaim[n-1]
	m.reclaim = m.reclaim[:n-1]

	if length <= last.Length {
		offset = last.Offset
		if length < last.Length {
			last.Offset += length
			last.Length -= length
			m.reclaim = append(m.reclaim, last)
		}
		return offset, true
	}

	for i := range m.reclaim {
		if length < m.reclaim[i].Length {
			offset = m.reclaim[i].Offset
			m.reclaim[i].Offset += length
			m.reclaim[i].Length -= length
			return offset, true
		}
	}

	m.free = append(m.free, last)
	return 0, false
}

// Coalesce merges the free list into the reclaim list, joining
// adjacent regions into single spans, and reinstalls the result as the
// new reclaim list sorted by length descending (largest-first). In that
// order the last item, which TryReclaim inspects first, is the smallest
// region, and its fallback scan visits the largest regions first.
// Adjacency is detected by sorting ascending on offset
// first -- an equally valid reading of the merge rule, and the one the
// design's own open question leaves room for -- then restored to the
// length-descending order before being published.
func (m *Manager) Coalesce() {
	all := make([]Item, 0, len(m.free)+len(m.reclaim))
	all = append(all, m.free...)
	all = append(all, m.reclaim...)

	sort.Slice(all, func(i, j int) bool { return all[i].Offset < all[j].Offset })

	merged := all[:0]
	for _, item := range all {
		if n := len(merged); n > 0 && merged[n-1].Offset+merged[n-1].Length == item.Offset {
			merged[n-1].Length += item.Length
			continue
		}
		merged = append(merged, item)
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Length > merged[j].Length })

	m.reclaim = merged
	m.free = nil
}

// FreeLen returns the number of items currently in the free list.
func (m *Manager) FreeLen() int { return len(m.free) }

// ReclaimLen returns the number of items currently in the reclaim list.
func (m *Manager) ReclaimLen() int { return len(m.reclaim) }

// ReclaimItems returns a copy of the current reclaim list, for encoding.
func (m *Manager) ReclaimItems() []Item {
	out := make([]Item, len(m.reclaim))
	copy(out, m.reclaim)
	return out
}

// FreeItems returns a copy of the current free list, for encoding.
func (m *Manager) FreeItems() []Item {
	out := make([]Item, len(m.free))
	copy(out, m.free)
	return out
}

// Load replaces the manager's lists wholesale, used when reopening a
// database from its persisted master record.
func (m *Manager) Load(free, reclaim []Item) {
	m.free = append([]Item{}, free...)
	m.reclaim = append([]Item{}, reclaim...)
}
