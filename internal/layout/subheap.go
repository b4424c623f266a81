package layout

// Subheap tracks, for one size class, the head of a doubly-linked list of
// segments that currently have at least one free block. The list is kept
// sorted by ascending compact-header address: a segment's position in the
// list is fixed for as long as it holds a free block, so allocation never
// needs to re-sort the list — only insertion (new segment) and removal
// (segment fills, or empties entirely) touch the ordering.
type Subheap struct {
	Class int
	Head  uintptr // 0 means empty
}

// NewSubheap returns an empty subheap for class.
func NewSubheap(class int) *Subheap {
	return &Subheap{Class: class}
}

// Empty reports whether the subheap currently has no segment with a free
// block.
func (sh *Subheap) Empty() bool {
	return sh.Head == 0
}

// InsertFreeSegment links seg into the free list, keeping ascending-address
// order. seg must not already be linked.
func (sh *Subheap) InsertFreeSegment(seg Segment) {
	if sh.Head == 0 {
		seg.Additional().Prev = 0
		seg.SetNext(0)
		sh.Head = seg.Base

		return
	}

	cur := Segment{Base: sh.Head}
	var prev Segment
	havePrev := false

	for {
		if seg.Base <= cur.Base {
			break
		}

		next := cur.Next()
		if next == 0 {
			prev = cur
			havePrev = true
			cur = Segment{}

			break
		}

		prev = cur
		havePrev = true
		cur = Segment{Base: next}
	}

	if cur.Base == 0 {
		// Insert at tail, after prev.
		seg.Additional().Prev = prev.Base
		seg.SetNext(0)
		prev.SetNext(seg.Base)

		return
	}

	seg.Additional().Prev = cur.Additional().Prev
	seg.SetNext(cur.Base)
	cur.Additional().Prev = seg.Base

	if havePrev {
		prev.SetNext(seg.Base)
	} else {
		sh.Head = seg.Base
	}
}

// RemoveSegment unlinks seg from the free list. seg must currently be
// linked into it.
func (sh *Subheap) RemoveSegment(seg Segment) {
	prev := seg.Additional().Prev
	next := seg.Next()

	if prev != 0 {
		Segment{Base: prev}.SetNext(next)
	} else {
		sh.Head = next
	}

	if next != 0 {
		Segment{Base: next}.Additional().Prev = prev
	}
}

// PopFreeBlock takes the head segment's lowest free block index, marking it
// occupied, and unlinks the segment only if that was its last free block.
// A segment's address never changes while it still has a free block, so
// there is nothing to re-sort here: ascending-address order is preserved
// for free. Returns ok=false if the subheap is empty.
func (sh *Subheap) PopFreeBlock() (seg Segment, blockIndex int, ok bool) {
	if sh.Head == 0 {
		return Segment{}, 0, false
	}

	seg = Segment{Base: sh.Head}

	idx, found := seg.FindFreeBlock(sh.Class)
	if !found {
		// Stale head, shouldn't normally happen; drop it and retry with the
		// next segment on the list.
		sh.RemoveSegment(seg)

		return sh.PopFreeBlock()
	}

	full := seg.MarkBlockAndCheckFull(sh.Class, idx)
	if full {
		sh.RemoveSegment(seg)
	}

	return seg, idx, true
}
