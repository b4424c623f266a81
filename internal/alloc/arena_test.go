package alloc

import (
	"errors"
	"testing"

	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/allocerr"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/layout"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/sysmem/sysmemtest"
)

func newTestArena(t *testing.T, ceiling uintptr) (*Arena, *sysmemtest.FakeEnv) {
	t.Helper()

	env := sysmemtest.NewFakeEnv(ceiling * 4)

	a, err := Init(env, ceiling, 4)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	return a, env
}

func TestArenaTinyChurn(t *testing.T) {
	a, _ := newTestArena(t, 16*layout.SegmentSize)

	ptr, err := a.Alloc(8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	if err := a.Free(ptr, 8); err != nil {
		t.Fatalf("Free: %v", err)
	}

	ptr2, err := a.Alloc(8)
	if err != nil {
		t.Fatalf("Alloc after free: %v", err)
	}

	if ptr2 != ptr {
		t.Fatalf("expected churned allocation to reuse the same block: got %x want %x", ptr2, ptr)
	}
}

func TestArenaClassBoundary(t *testing.T) {
	a, _ := newTestArena(t, 16*layout.SegmentSize)

	sizes := []uintptr{8, 16, 24, 32, 0x800 * layout.AlignmentSize}

	for _, size := range sizes {
		ptr, err := a.Alloc(size)
		if err != nil {
			t.Fatalf("Alloc(%d): %v", size, err)
		}

		if ptr == 0 {
			t.Fatalf("Alloc(%d) returned nil pointer", size)
		}

		if err := a.Free(ptr, size); err != nil {
			t.Fatalf("Free(%d): %v", size, err)
		}
	}
}

func TestArenaSegmentFillAcquiresNewSegment(t *testing.T) {
	const class = 30 // second-largest small class, only a few blocks per segment

	a, _ := newTestArena(t, 16*layout.SegmentSize)
	size := layout.BlockSizeOfClass(class)

	blockCount := layout.BlockCountOfClass(class)

	var ptrs []uintptr
	for i := 0; i < blockCount; i++ {
		ptr, err := a.Alloc(size)
		if err != nil {
			t.Fatalf("Alloc %d/%d: %v", i, blockCount, err)
		}
		ptrs = append(ptrs, ptr)
	}

	before := a.Stats().CommittedBytes

	// One more allocation must pull a fresh segment in.
	ptr, err := a.Alloc(size)
	if err != nil {
		t.Fatalf("Alloc overflow block: %v", err)
	}
	ptrs = append(ptrs, ptr)

	after := a.Stats().CommittedBytes
	if after <= before {
		t.Fatalf("expected committed bytes to grow once the first segment fills, before=%d after=%d", before, after)
	}

	for _, p := range ptrs {
		if err := a.Free(p, size); err != nil {
			t.Fatalf("Free: %v", err)
		}
	}
}

func TestArenaLargeBlockFallback(t *testing.T) {
	a, _ := newTestArena(t, 16*layout.SegmentSize)

	size := uintptr(layout.MaxClassSize + layout.AlignmentSize)

	ptr, err := a.Alloc(size)
	if err != nil {
		t.Fatalf("Alloc large: %v", err)
	}

	stats := a.Stats()
	if stats.LargeBlockCount != 1 {
		t.Fatalf("LargeBlockCount = %d, want 1", stats.LargeBlockCount)
	}

	if err := a.Free(ptr, size); err != nil {
		t.Fatalf("Free large: %v", err)
	}

	if a.Stats().LargeBlockCount != 0 {
		t.Fatalf("LargeBlockCount after free = %d, want 0", a.Stats().LargeBlockCount)
	}
}

func TestArenaKeepListOverflowSoftDecommitsOldest(t *testing.T) {
	a, env := newTestArena(t, 16*layout.SegmentSize)

	const class = 0
	size := layout.BlockSizeOfClass(class)
	blockCount := layout.BlockCountOfClass(class)

	// Fill and fully free keepCapacity+1 distinct segments so the
	// keep-list must evict its oldest entry. Eviction soft-decommits the
	// segment and hands it to the segment space's free pool; it stays
	// committed (the space only ever extends nextUntouched forward, it
	// never hard-decommits a segment back to the reservation).
	keepCapacity := a.keepList.CapacityHint()

	var firstSegmentPtrs []uintptr
	var segmentPtrs [][]uintptr

	// Every segment is filled before any is freed: freeing one before the
	// next fill would let that fill take the same segment back off the
	// keep-list, so only one distinct segment would ever be used.
	for s := 0; s < keepCapacity+1; s++ {
		var ptrs []uintptr
		for i := 0; i < blockCount; i++ {
			ptr, err := a.Alloc(size)
			if err != nil {
				t.Fatalf("segment %d: Alloc %d/%d: %v", s, i, blockCount, err)
			}
			ptrs = append(ptrs, ptr)
		}

		if s == 0 {
			firstSegmentPtrs = ptrs
		}

		segmentPtrs = append(segmentPtrs, ptrs)
	}

	for s, ptrs := range segmentPtrs {
		for _, p := range ptrs {
			if err := a.Free(p, size); err != nil {
				t.Fatalf("segment %d: Free: %v", s, err)
			}
		}
	}

	if len(firstSegmentPtrs) == 0 {
		t.Fatal("test setup produced no pointers for the first segment")
	}

	firstSegBase, _ := layout.FromBlockPtr(class, firstSegmentPtrs[0])

	found := false
	for _, addr := range env.CommittedRanges() {
		if addr[0] == firstSegBase {
			found = true
		}
	}
	if !found {
		t.Fatal("first segment should remain committed after keep-list eviction, only soft-decommitted")
	}

	if !env.IsSoftDecommitted(firstSegBase) {
		t.Fatal("first segment should have been soft-decommitted once evicted from the keep-list")
	}

	// Drain the keep-list itself first: each of these classes starts with
	// an empty subheap, so its first allocation pulls one segment straight
	// off the keep-list (no syscall), leaving the free pool as the only
	// remaining source.
	for drainClass := 2; drainClass < 2+keepCapacity; drainClass++ {
		drainSize := layout.BlockSizeOfClass(drainClass)
		if _, err := a.Alloc(drainSize); err != nil {
			t.Fatalf("Alloc to drain keep-list (class %d): %v", drainClass, err)
		}
	}

	before := a.Stats().CommittedBytes

	// The next allocation for a still-untouched class must reuse the
	// evicted segment via the space's free pool (one force-commit) rather
	// than extending the untouched reservation tail, so committed bytes
	// must not grow.
	const otherClass = 1
	otherSize := layout.BlockSizeOfClass(otherClass)
	ptr, err := a.Alloc(otherSize)
	if err != nil {
		t.Fatalf("Alloc after eviction: %v", err)
	}

	if a.Stats().CommittedBytes != before {
		t.Fatalf("expected reuse from the free pool, not a fresh commit: before=%d after=%d", before, a.Stats().CommittedBytes)
	}

	if env.IsSoftDecommitted(firstSegBase) {
		t.Fatal("reused segment should have been force-committed, clearing its soft-decommitted state")
	}

	if err := a.Free(ptr, otherSize); err != nil {
		t.Fatalf("Free: %v", err)
	}
}

func TestArenaOutOfHeap(t *testing.T) {
	env := sysmemtest.NewFakeEnv(layout.SegmentSize * 4)

	a, err := Init(env, layout.SegmentSize, 1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	const class = 0
	size := layout.BlockSizeOfClass(class)
	blockCount := layout.BlockCountOfClass(class)

	for i := 0; i < blockCount; i++ {
		if _, err := a.Alloc(size); err != nil {
			t.Fatalf("Alloc %d/%d: %v", i, blockCount, err)
		}
	}

	_, err = a.Alloc(size)
	if err == nil {
		t.Fatal("expected OutOfHeap once the single-segment ceiling is exhausted")
	}

	var allocErr *allocerr.Error
	if !errors.As(err, &allocErr) || allocErr.Kind != allocerr.OutOfHeap {
		t.Fatalf("expected allocerr.OutOfHeap, got %v", err)
	}
}

func TestArenaEnvFailureRewindsOnCommit(t *testing.T) {
	env := sysmemtest.NewFakeEnv(layout.SegmentSize * 4)

	a, err := Init(env, layout.SegmentSize*2, 1)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	env.InjectEnvFailureAfter = 1

	_, err = a.Alloc(8)
	if err == nil {
		t.Fatal("expected injected EnvFailure")
	}

	var allocErr *allocerr.Error
	if !errors.As(err, &allocErr) || allocErr.Kind != allocerr.EnvFailure {
		t.Fatalf("expected allocerr.EnvFailure, got %v", err)
	}

	if a.Stats().CommittedBytes != 0 {
		t.Fatalf("committed bytes should not have advanced past a failed commit, got %d", a.Stats().CommittedBytes)
	}
}
