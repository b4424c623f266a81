// Package alloc implements the arena: the single-owner orchestrator that
// binds a sysmem.Env to a layout.SegmentSpace, a subheap per size class,
// and a keep-list, and exposes alloc/free/realloc over the whole thing.
package alloc

import (
	"unsafe"

	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/allocerr"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/bits"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/layout"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/sysmem"
)

func unsafeBytesAt(addr, length uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(length))
}

// ArenaStats is a point-in-time snapshot of an arena's bookkeeping,
// returned by Arena.Stats. It is a copy, safe to retain after the call.
type ArenaStats struct {
	HeapCeiling      uintptr
	CommittedBytes   uintptr
	LargeBlockBytes  uintptr
	LargeBlockCount  int
	KeepListCount    int
	KeepListCapacity int
}

// Arena is the top-level, single-threaded allocator instance. It is not
// safe for concurrent use: every method must run on the goroutine that
// owns the arena, the same single-owner contract the original
// implementation documents for its arena type.
type Arena struct {
	env sysmem.Env

	space    *layout.SegmentSpace
	subheaps [layout.ClassCount]*layout.Subheap
	keepList *layout.KeepList

	largeBlocks map[uintptr]uintptr

	pageSize    uintptr
	heapCeiling uintptr
	committed   uintptr
	largeBytes  uintptr
}

// Init reserves ceiling bytes of address space from env and returns a
// ready-to-use arena. keepSegmentsCount bounds the committed keep-list
// cache; pass 0 to use layout.DefaultKeepSegmentsCount.
func Init(env sysmem.Env, ceiling uintptr, keepSegmentsCount int) (*Arena, error) {
	pageSize, err := env.PageSize()
	if err != nil {
		return nil, err
	}

	if !bits.IsPowerOfTwo(pageSize) {
		allocerr.Precondition("arena_init", "page size must be a power of two")
	}

	space, err := layout.NewSegmentSpace(env, ceiling)
	if err != nil {
		return nil, err
	}

	if keepSegmentsCount <= 0 {
		keepSegmentsCount = layout.DefaultKeepSegmentsCount(ceiling)
	}

	a := &Arena{
		env:         env,
		space:       space,
		keepList:    layout.NewKeepList(keepSegmentsCount),
		largeBlocks: make(map[uintptr]uintptr),
		pageSize:    pageSize,
		heapCeiling: ceiling,
	}

	for class := 0; class < layout.ClassCount; class++ {
		a.subheaps[class] = layout.NewSubheap(class)
	}

	return a, nil
}

// Alloc returns size bytes, aligned to layout.AlignmentSize. size must
// already be a multiple of layout.AlignmentSize; callers that accept
// arbitrary request sizes must round up themselves before calling.
func (a *Arena) Alloc(size uintptr) (uintptr, error) {
	if size == 0 {
		allocerr.Precondition("arena_alloc", "size must be non-zero")
	}

	class, inClassRange := layout.ClassOfSize(size)
	if !inClassRange {
		return a.allocLarge(size)
	}

	return a.allocSmall(class)
}

func (a *Arena) allocSmall(class int) (uintptr, error) {
	sh := a.subheaps[class]

	if !sh.Empty() {
		seg, idx, _ := sh.PopFreeBlock()
		return seg.BlockPtr(class, idx), nil
	}

	seg, err := a.acquireSegmentForClass(class)
	if err != nil {
		return 0, err
	}

	sh.InsertFreeSegment(seg)

	seg2, idx, ok := sh.PopFreeBlock()
	if !ok {
		return 0, allocerr.OutOfHeapErr("arena_alloc", "freshly acquired segment reported no free block")
	}

	return seg2.BlockPtr(class, idx), nil
}

// acquireSegmentForClass finds a segment to serve class: first the
// keep-list's newest entry (cheapest — it is still fully committed, so
// this is a plain pop, no syscall at all), then the segment space's free
// pool (committed, or soft-decommitted and needing a force-commit) or,
// failing both, its untouched reservation tail (a fresh commit).
func (a *Arena) acquireSegmentForClass(class int) (layout.Segment, error) {
	if seg, ok := a.keepList.PopNewest(); ok {
		seg.InitForClass(class, 0)
		return seg, nil
	}

	seg, ok, fresh, err := a.space.AcquireSegment()
	if err != nil {
		return layout.Segment{}, allocerr.EnvFailureErr("arena_alloc", err)
	}
	if !ok {
		return layout.Segment{}, allocerr.OutOfHeapErr("arena_alloc", "heap ceiling exhausted")
	}

	if fresh {
		a.committed += layout.SegmentSize
	}

	seg.InitForClass(class, 0)

	return seg, nil
}

func (a *Arena) allocLarge(size uintptr) (uintptr, error) {
	rounded := bits.AlignUp(size, a.pageSize)

	addr, err := a.env.Alloc(rounded)
	if err != nil {
		return 0, allocerr.EnvFailureErr("arena_alloc_large", err)
	}

	a.largeBlocks[addr] = rounded
	a.largeBytes += rounded

	return addr, nil
}

// Free releases a block previously returned by Alloc. size must be the
// same value (or an equivalently-classed one) passed to the Alloc call
// that produced ptr.
func (a *Arena) Free(ptr, size uintptr) error {
	if ptr == 0 {
		allocerr.Precondition("arena_free", "ptr must be non-zero")
	}

	class, inClassRange := layout.ClassOfSize(size)
	if !inClassRange {
		return a.freeLarge(ptr)
	}

	return a.freeSmall(class, ptr)
}

func (a *Arena) freeSmall(class int, ptr uintptr) error {
	segBase, idx := layout.FromBlockPtr(class, ptr)
	seg := layout.Segment{Base: segBase}

	// A segment sits in its subheap's free list whenever it has at least
	// one free block; MarkBlockAndCheckFull unlinks it the moment it fills
	// up (see Subheap.PopFreeBlock), so "was full" is exactly "was
	// unlinked" and is cheapest to recover from the used-block count.
	wasFull := int(seg.Additional().UsedCount) >= layout.BlockCountOfClass(class)

	empty := seg.FreeBlockAndCheckEmpty(class, idx)

	sh := a.subheaps[class]

	switch {
	case empty:
		if !wasFull {
			sh.RemoveSegment(seg)
		}

		a.retireSegment(seg)
	case wasFull:
		sh.InsertFreeSegment(seg)
	}

	return nil
}

// retireSegment hands a fully-emptied segment to the keep-list, retained
// committed so the next acquireSegmentForClass can reuse it with no
// syscall at all. If the list is already at capacity, its oldest entry is
// evicted instead: soft-decommitted and handed to the segment space's free
// list, where it is reused with a single force-commit before the space
// ever extends its untouched reservation tail.
func (a *Arena) retireSegment(seg layout.Segment) {
	if a.keepList.Full() {
		if evicted, ok := a.keepList.PopOldest(); ok {
			_ = a.env.SoftDecommit(evicted.Base, layout.SegmentSize)
			evicted.SetSoftDecommitted(true)
			a.space.ReleaseSegment(evicted)
		}
	}

	a.keepList.Push(seg)
}

func (a *Arena) freeLarge(ptr uintptr) error {
	length, ok := a.largeBlocks[ptr]
	if !ok {
		allocerr.Precondition("arena_free_large", "pointer not tracked as a large block")
	}

	if err := a.env.Release(ptr, length); err != nil {
		return allocerr.EnvFailureErr("arena_free_large", err)
	}

	delete(a.largeBlocks, ptr)
	a.largeBytes -= length

	return nil
}

// Realloc resizes a block previously returned by Alloc from oldSize to
// newSize, copying min(oldSize, newSize) bytes. It returns the same
// pointer when both sizes share a class, or when both are large and
// newSize rounds up to exactly the large block's current page-rounded
// length; any other resize, shrinking a large block included, moves it.
func (a *Arena) Realloc(ptr, oldSize, newSize uintptr) (uintptr, error) {
	if newSize == 0 {
		return 0, a.Free(ptr, oldSize)
	}

	oldClass, oldInRange := layout.ClassOfSize(oldSize)
	newClass, newInRange := layout.ClassOfSize(newSize)

	if oldInRange && newInRange && oldClass == newClass {
		return ptr, nil
	}

	if !oldInRange && !newInRange {
		rounded := bits.AlignUp(newSize, a.pageSize)
		if rounded == a.largeBlocks[ptr] {
			return ptr, nil
		}
	}

	newPtr, err := a.Alloc(newSize)
	if err != nil {
		return 0, err
	}

	copySize := oldSize
	if newSize < copySize {
		copySize = newSize
	}

	src := unsafeBytesAt(ptr, copySize)
	dst := unsafeBytesAt(newPtr, copySize)
	copy(dst, src)

	if err := a.Free(ptr, oldSize); err != nil {
		return 0, err
	}

	return newPtr, nil
}

// Stats returns a snapshot of the arena's current bookkeeping.
func (a *Arena) Stats() ArenaStats {
	return ArenaStats{
		HeapCeiling:      a.heapCeiling,
		CommittedBytes:   a.committed,
		LargeBlockBytes:  a.largeBytes,
		LargeBlockCount:  len(a.largeBlocks),
		KeepListCount:    a.keepList.CountHint(),
		KeepListCapacity: a.keepList.CapacityHint(),
	}
}
