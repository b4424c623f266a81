package layout

import (
	"unsafe"
)

// newTestSegment carves a segment-sized, segment-aligned slab out of a Go
// heap allocation for use by segment/subheap/keeplist tests, without going
// through sysmem at all. Tests that need a real Env use
// sysmemtest.FakeEnv instead; this is for pure layout-package unit tests.
func newTestSegment() Segment {
	// Over-allocate so an aligned SegmentSize window is guaranteed to exist
	// inside the slab, then hand back that aligned window.
	buf := make([]byte, SegmentSize*2)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	aligned := (base + SegmentSize - 1) &^ (SegmentSize - 1)

	seg := Segment{Base: aligned}
	seg.SetCommitted(true)

	return seg
}
