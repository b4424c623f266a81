package layout

import "github.com/mizunashi-mana/bitmap-freelist-alloc/internal/allocerr"

// AlignmentSize is the allocator's minimum alignment. All block sizes and
// incoming request sizes are multiples of it.
const AlignmentSize = 8

// ClassCount is the number of size classes the table covers.
const ClassCount = 32

// SegmentSize is the fixed, power-of-two segment size in bytes.
const SegmentSize = 1 << 16

// classUnits holds each class's block size expressed in AlignmentSize units:
// word-aligned steps 1..4, fine steps 6..16, coarse 0x20..0x100 by 0x10, then
// 0x200..0x800 by 0x100 — the geometric-plus-linear schedule from spec.md
// §4.1, ported unchanged from the original subheap.rs table.
var classUnits = [ClassCount]uintptr{
	0x0001, 0x0002, 0x0003, 0x0004,
	0x0006, 0x0008, 0x000a, 0x000c, 0x000e, 0x0010,
	0x0020, 0x0030, 0x0040, 0x0050, 0x0060, 0x0070, 0x0080, 0x0090, 0x00a0, 0x00b0, 0x00c0, 0x00d0, 0x00e0, 0x00f0, 0x0100,
	0x0200, 0x0300, 0x0400, 0x0500, 0x0600, 0x0700, 0x0800,
}

// BlockSizeOfClass returns the block size in bytes for a class index.
func BlockSizeOfClass(class int) uintptr {
	return classUnits[class] * AlignmentSize
}

// MaxClassSize is the largest size class boundary (class_of_size returns
// "too large" above this, routing into the large-block path).
const MaxClassSize = 0x0800 * AlignmentSize

// ClassOfSize maps a byte size to a class index, or false if the size
// exceeds the largest class and must take the large-block path.
// Panics via allocerr.Precondition if size is not alignment-aligned —
// callers are expected to align first.
func ClassOfSize(size uintptr) (int, bool) {
	if size%AlignmentSize != 0 {
		allocerr.Precondition("class_of_size", "size must be alignment-aligned")
	}

	alignUnits := size / AlignmentSize

	switch {
	case alignUnits > 0x0800:
		return 0, false
	case alignUnits > 0x0100:
		return 24 + int((alignUnits-1)/0x0100), true
	case alignUnits > 0x0010:
		return 9 + int((alignUnits-1)/0x0010), true
	case alignUnits > 0x0004:
		return 2 + int((alignUnits-1)/0x0002), true
	default:
		return int(alignUnits - 1), true
	}
}
