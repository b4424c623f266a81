package layout

import (
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/sysmem"
)

// SegmentSpace owns the arena's raw reserved address range and the pool of
// committed-but-unassigned segments drawn from it. A segment passes through
// SegmentSpace twice: once on its way out of the untouched reservation to
// be committed and bound to a class, and again when a class empties it and
// hands it back for reuse by any other class.
type SegmentSpace struct {
	env sysmem.Env

	base          uintptr
	reserved      uintptr
	nextUntouched uintptr

	freeHead uintptr // singly-linked list of committed, unassigned segments
}

// NewSegmentSpace reserves a ceiling-byte range of address space, rounded
// up to a whole number of segments, and returns a space over it.
func NewSegmentSpace(env sysmem.Env, ceiling uintptr) (*SegmentSpace, error) {
	segCount := (ceiling + SegmentSize - 1) / SegmentSize
	reserved := segCount * SegmentSize

	base, err := env.ReserveAligned(reserved, SegmentSize)
	if err != nil {
		return nil, err
	}

	return &SegmentSpace{
		env:           env,
		base:          base,
		reserved:      reserved,
		nextUntouched: base,
	}, nil
}

// Contains reports whether addr falls within this space's reservation.
func (s *SegmentSpace) Contains(addr uintptr) bool {
	return addr >= s.base && addr < s.base+s.reserved
}

// AcquireSegment returns a committed, zero-initialized segment ready to be
// bound to class: first from the free pool of previously-returned
// segments, otherwise freshly committed from the untouched tail of the
// reservation. fresh reports whether this segment was just committed from
// the untouched tail (the only case that grows committed-bytes accounting:
// a free-pool segment, soft-decommitted or not, was already counted as
// committed the first time it left the reservation). Returns
// allocerr.OutOfHeap (via the caller checking ok) when the reservation is
// exhausted.
func (s *SegmentSpace) AcquireSegment() (seg Segment, ok bool, fresh bool, err error) {
	if s.freeHead != 0 {
		seg = Segment{Base: s.freeHead}
		s.freeHead = seg.Next()

		if seg.SoftDecommitted() {
			if err := s.env.ForceCommit(seg.Base, SegmentSize); err != nil {
				return Segment{}, false, false, err
			}

			seg.SetSoftDecommitted(false)
		}

		return seg, true, false, nil
	}

	if s.nextUntouched >= s.base+s.reserved {
		return Segment{}, false, false, nil
	}

	addr := s.nextUntouched

	if err := s.env.Commit(addr, SegmentSize); err != nil {
		return Segment{}, false, false, err
	}

	s.nextUntouched += SegmentSize

	seg = Segment{Base: addr}
	seg.SetCommitted(true)

	return seg, true, true, nil
}

// ReleaseSegment returns a now-fully-empty, still-committed segment to the
// free pool for reuse by any class.
func (s *SegmentSpace) ReleaseSegment(seg Segment) {
	seg.SetNext(s.freeHead)
	s.freeHead = seg.Base
}
