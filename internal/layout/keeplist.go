package layout

// KeepList is a small bounded cache of recently-emptied segments that stay
// fully committed rather than being handed back to the segment space's
// general reuse pool. It absorbs alloc/free churn at a size class's
// boundary: a segment freed and immediately needed again (by any class)
// comes straight off this list with no syscall at all. Only once the list
// overflows does a segment get soft-decommitted and moved to the segment
// space's free pool, where reuse costs one force-commit.
//
// Entries are evicted oldest-first once the list is at capacity, which is
// a simpler policy than the midpoint-bisection scheme in the
// layout/arena/keep_segments_list.rs at hand; spec.md leaves the exact
// eviction order to the implementation, and oldest-first is easy to reason
// about and keeps the list genuinely MRU for the hot case.
type KeepList struct {
	capacity int
	count    int
	head     uintptr // oldest
	tail     uintptr // newest
}

// NewKeepList returns an empty keep-list bounded to capacity segments.
func NewKeepList(capacity int) *KeepList {
	return &KeepList{capacity: capacity}
}

// Full reports whether the list is at capacity.
func (k *KeepList) Full() bool {
	return k.count >= k.capacity
}

// Empty reports whether the list currently holds no segment.
func (k *KeepList) Empty() bool {
	return k.count == 0
}

// Push adds seg, still fully committed, as the newest entry. The caller
// must evict first if Full.
func (k *KeepList) Push(seg Segment) {
	seg.SetNext(0)

	if k.tail != 0 {
		Segment{Base: k.tail}.SetNext(seg.Base)
	} else {
		k.head = seg.Base
	}

	k.tail = seg.Base
	k.count++
}

// PopOldest removes and returns the oldest entry. ok is false if the list
// is empty.
func (k *KeepList) PopOldest() (seg Segment, ok bool) {
	if k.head == 0 {
		return Segment{}, false
	}

	seg = Segment{Base: k.head}
	k.head = seg.Next()

	if k.head == 0 {
		k.tail = 0
	}

	k.count--

	return seg, true
}

// PeekNewest returns the most recently pushed entry without removing it.
// ok is false if the list is empty.
func (k *KeepList) PeekNewest() (seg Segment, ok bool) {
	if k.tail == 0 {
		return Segment{}, false
	}

	return Segment{Base: k.tail}, true
}

// PopNewest removes and returns the most recently pushed entry. This is an
// O(n) walk to find the new tail's predecessor; the list is small (bounded
// by capacity) so this stays cheap.
func (k *KeepList) PopNewest() (seg Segment, ok bool) {
	if k.tail == 0 {
		return Segment{}, false
	}

	seg = Segment{Base: k.tail}

	if k.head == k.tail {
		k.head = 0
		k.tail = 0
		k.count--

		return seg, true
	}

	cur := Segment{Base: k.head}
	for cur.Next() != k.tail {
		cur = Segment{Base: cur.Next()}
	}

	cur.SetNext(0)
	k.tail = cur.Base
	k.count--

	return seg, true
}

// CountHint returns how many segments the keep-list currently holds.
func (k *KeepList) CountHint() int {
	return k.count
}

// CapacityHint returns the keep-list's configured capacity.
func (k *KeepList) CapacityHint() int {
	return k.capacity
}

// DefaultKeepSegmentsCount derives a reasonable keep-list capacity from a
// heap ceiling when the caller doesn't specify one explicitly: roughly
// enough entries to absorb bursty churn (one committed kept segment per 64
// segments of ceiling), clamped to the range [4, 256].
func DefaultKeepSegmentsCount(ceilingBytes uintptr) int {
	segCount := int(ceilingBytes / SegmentSize)

	n := segCount / 64
	if n < 4 {
		n = 4
	}
	if n > 256 {
		n = 256
	}

	return n
}
