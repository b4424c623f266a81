package layout

import (
	"unsafe"

	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/allocerr"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/bits"
)

// CompactHeader sits at the very start of a segment (offset 0) and is the
// only part of a free segment the allocator touches on the hot path: a
// tagged "next" pointer threading the segment space's free list plus a
// cached copy of bitmap word 0, so the overwhelming majority of classes
// (whose blocks fit in 64 sub-bitmaps) never need to touch the rest of the
// segment just to tell "has a free block" from "completely full".
type CompactHeader struct {
	BitmapWord0   uint64
	NextWithFlags uintptr
}

const (
	flagCommitted       = uintptr(1) << 0
	flagSoftDecommitted = uintptr(1) << 1
	flagMask            = flagCommitted | flagSoftDecommitted
)

var compactHeaderSize = unsafe.Sizeof(CompactHeader{})

// AdditionalHeader immediately follows the compact header once a segment is
// committed and in service to a size class: the previous-segment link (for
// the subheap's doubly-linked free list), the class index it currently
// serves, and how many of its blocks are occupied.
type AdditionalHeader struct {
	Prev         uintptr
	SubheapClass uint32
	UsedCount    uint32
}

var additionalHeaderSize = unsafe.Sizeof(AdditionalHeader{})

// classLayout is the fully-solved per-class segment layout: as many blocks
// as fit in one segment alongside their own bitmap bookkeeping.
type classLayout struct {
	blockCount      int
	topLevelWords   int // words of top-level "which sub-bitmap has room" summary
	subBitmapWords  int // words of per-block occupancy bits, 64 blocks/word
	topLevelOffset  uintptr
	subBitmapOffset uintptr
	blocksOffset    uintptr
}

var classLayouts [ClassCount]classLayout

func init() {
	for class := 0; class < ClassCount; class++ {
		classLayouts[class] = solveClassLayout(BlockSizeOfClass(class))
	}
}

// solveClassLayout finds the largest block count whose blocks, plus the
// bitmap words needed to track that many blocks, plus the compact and
// additional headers, fit within one segment. The bitmap size depends on
// the block count it describes, so this searches down from an optimistic
// upper bound instead of solving a closed form.
func solveClassLayout(blockSize uintptr) classLayout {
	headerSize := compactHeaderSize + additionalHeaderSize
	upperBound := int((SegmentSize - headerSize) / blockSize)

	for n := upperBound; n > 0; n-- {
		subBitmapWords := (n + 63) / 64
		topLevelWords := (subBitmapWords + 63) / 64
		if topLevelWords < 1 {
			topLevelWords = 1
		}

		overhead := headerSize + uintptr(topLevelWords+subBitmapWords)*8
		if overhead+uintptr(n)*blockSize <= SegmentSize {
			return classLayout{
				blockCount:      n,
				topLevelWords:   topLevelWords,
				subBitmapWords:  subBitmapWords,
				topLevelOffset:  headerSize,
				subBitmapOffset: headerSize + uintptr(topLevelWords)*8,
				blocksOffset:    headerSize + uintptr(topLevelWords+subBitmapWords)*8,
			}
		}
	}

	allocerr.Precondition("solve_class_layout", "no block count fits segment size")
	panic("unreachable")
}

// BlockCountOfClass returns how many blocks a segment serving class holds.
func BlockCountOfClass(class int) int {
	return classLayouts[class].blockCount
}

func loadU64(addr uintptr) uint64          { return *(*uint64)(unsafe.Pointer(addr)) }
func storeU64(addr uintptr, v uint64)      { *(*uint64)(unsafe.Pointer(addr)) = v }
func loadUintptr(addr uintptr) uintptr     { return *(*uintptr)(unsafe.Pointer(addr)) }
func storeUintptr(addr uintptr, v uintptr) { *(*uintptr)(unsafe.Pointer(addr)) = v }

// Segment is a thin accessor over a committed segment's base address. It
// carries no state of its own beyond the address; every field lives in the
// raw memory the compact/additional headers describe.
type Segment struct {
	Base uintptr
}

func (s Segment) header() *CompactHeader {
	return (*CompactHeader)(unsafe.Pointer(s.Base))
}

// Next returns the tagged-pointer free-list link, with the flag bits
// stripped off.
func (s Segment) Next() uintptr {
	return s.header().NextWithFlags &^ flagMask
}

// SetNext rewrites the free-list link while preserving the committed /
// soft-decommitted flags.
func (s Segment) SetNext(next uintptr) {
	h := s.header()
	h.NextWithFlags = (next &^ flagMask) | (h.NextWithFlags & flagMask)
}

// Committed reports the committed tag bit.
func (s Segment) Committed() bool {
	return s.header().NextWithFlags&flagCommitted != 0
}

// SetCommitted sets or clears the committed tag bit.
func (s Segment) SetCommitted(committed bool) {
	h := s.header()
	if committed {
		h.NextWithFlags |= flagCommitted
	} else {
		h.NextWithFlags &^= flagCommitted
	}
}

// SoftDecommitted reports the soft-decommitted tag bit.
func (s Segment) SoftDecommitted() bool {
	return s.header().NextWithFlags&flagSoftDecommitted != 0
}

// SetSoftDecommitted sets or clears the soft-decommitted tag bit.
func (s Segment) SetSoftDecommitted(v bool) {
	h := s.header()
	if v {
		h.NextWithFlags |= flagSoftDecommitted
	} else {
		h.NextWithFlags &^= flagSoftDecommitted
	}
}

// Additional returns the additional header, valid only once the segment is
// committed and assigned to a class.
func (s Segment) Additional() *AdditionalHeader {
	return (*AdditionalHeader)(unsafe.Pointer(s.Base + compactHeaderSize))
}

// InitForClass initializes a newly committed segment's bookkeeping for
// class: every block starts free, so every sub-bitmap word starts zero
// (no block marked used) and every top-level bit that names one of those
// sub-bitmap words starts set (the invariant FindFreeBlock relies on is
// "top bit set ⟺ that sub-bitmap has a free block").
func (s Segment) InitForClass(class int, prev uintptr) {
	l := classLayouts[class]

	a := s.Additional()
	a.Prev = prev
	a.SubheapClass = uint32(class)
	a.UsedCount = 0

	for i := 0; i < l.subBitmapWords; i++ {
		storeU64(s.Base+l.subBitmapOffset+uintptr(i)*8, 0)
	}

	for tw := 0; tw < l.topLevelWords; tw++ {
		remaining := l.subBitmapWords - tw*64

		var word uint64
		switch {
		case remaining >= 64:
			word = ^uint64(0)
		case remaining > 0:
			word = (uint64(1) << uint(remaining)) - 1
		}

		s.setTopLevelWord(class, tw, word)
	}
}

func (s Segment) topLevelWordAddr(class, word int) uintptr {
	return s.Base + classLayouts[class].topLevelOffset + uintptr(word)*8
}

func (s Segment) subBitmapWordAddr(class, word int) uintptr {
	return s.Base + classLayouts[class].subBitmapOffset + uintptr(word)*8
}

func (s Segment) topLevelWord(class, word int) uint64 {
	if word == 0 {
		return s.header().BitmapWord0
	}
	return loadU64(s.topLevelWordAddr(class, word))
}

func (s Segment) setTopLevelWord(class, word int, v uint64) {
	if word == 0 {
		s.header().BitmapWord0 = v
		if classLayouts[class].topLevelWords == 1 {
			return
		}
	}
	storeU64(s.topLevelWordAddr(class, word), v)
}

// BlockPtr returns the address of block index i for class.
func (s Segment) BlockPtr(class, i int) uintptr {
	return s.Base + classLayouts[class].blocksOffset + uintptr(i)*BlockSizeOfClass(class)
}

// FromBlockPtr recovers (segment base, block index) from a pointer
// previously returned by BlockPtr, given the class it was allocated from.
func FromBlockPtr(class int, ptr uintptr) (segBase uintptr, index int) {
	segBase = bits.AlignDown(ptr, SegmentSize)
	offset := ptr - segBase - classLayouts[class].blocksOffset
	index = int(offset / BlockSizeOfClass(class))

	return segBase, index
}

// FindFreeBlock scans the two-level bitmap for the lowest-indexed free
// block. Returns false if the segment is completely full.
func (s Segment) FindFreeBlock(class int) (int, bool) {
	l := classLayouts[class]

	for tw := 0; tw < l.topLevelWords; tw++ {
		top := s.topLevelWord(class, tw)

		for top != 0 {
			bit := trailingZeros64(top)
			subIdx := tw*64 + bit

			if subIdx >= l.subBitmapWords {
				top &^= uint64(1) << uint(bit)
				s.setTopLevelWord(class, tw, top)
				continue
			}

			sub := loadU64(s.subBitmapWordAddr(class, subIdx))
			inv := ^sub
			if inv == 0 {
				// Top-level bit was stale (sub-bitmap filled since last
				// mark); clear it and keep scanning this word.
				top &^= uint64(1) << uint(bit)
				s.setTopLevelWord(class, tw, top)
				continue
			}

			blockIdx := subIdx*64 + trailingZeros64(inv)
			if blockIdx >= l.blockCount {
				top &^= uint64(1) << uint(bit)
				s.setTopLevelWord(class, tw, top)
				continue
			}

			return blockIdx, true
		}
	}

	return 0, false
}

// MarkBlockAndCheckFull marks block i occupied and reports whether the
// segment is now completely full.
func (s Segment) MarkBlockAndCheckFull(class, i int) (full bool) {
	l := classLayouts[class]
	subIdx := i / 64
	bitIdx := uint(i % 64)

	addr := s.subBitmapWordAddr(class, subIdx)
	sub := loadU64(addr) | (uint64(1) << bitIdx)
	storeU64(addr, sub)

	s.Additional().UsedCount++

	if sub == ^uint64(0) {
		tw := subIdx / 64
		top := s.topLevelWord(class, tw) &^ (uint64(1) << uint(subIdx%64))
		s.setTopLevelWord(class, tw, top)
	}

	return int(s.Additional().UsedCount) >= l.blockCount
}

// FreeBlockAndCheckEmpty clears block i and reports whether the segment is
// now completely empty.
func (s Segment) FreeBlockAndCheckEmpty(class, i int) (empty bool) {
	subIdx := i / 64
	bitIdx := uint(i % 64)

	addr := s.subBitmapWordAddr(class, subIdx)
	sub := loadU64(addr) &^ (uint64(1) << bitIdx)
	storeU64(addr, sub)

	tw := subIdx / 64
	top := s.topLevelWord(class, tw) | (uint64(1) << uint(subIdx%64))
	s.setTopLevelWord(class, tw, top)

	a := s.Additional()
	a.UsedCount--

	return a.UsedCount == 0
}

func trailingZeros64(x uint64) int {
	if x == 0 {
		return 64
	}

	n := 0
	for x&1 == 0 {
		x >>= 1
		n++
	}

	return n
}
