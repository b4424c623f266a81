package alloc

import (
	"testing"

	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/layout"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/sysmem/sysmemtest"
)

func TestAllocatorRoundTrip(t *testing.T) {
	env := sysmemtest.NewFakeEnv(16 * layout.SegmentSize)

	al, err := New(env, WithHeapCeiling(8*layout.SegmentSize), WithKeepSegmentsCount(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b, err := al.Alloc(100)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	for i := range b {
		b[i] = byte(i)
	}

	grown, err := al.Realloc(b, 9000)
	if err != nil {
		t.Fatalf("Realloc: %v", err)
	}

	for i := 0; i < 100; i++ {
		if grown[i] != byte(i) {
			t.Fatalf("Realloc lost byte %d: got %d want %d", i, grown[i], byte(i))
		}
	}

	if err := al.Free(grown); err != nil {
		t.Fatalf("Free: %v", err)
	}

	stats := al.Stats()
	if stats.ActiveCount != 0 {
		t.Fatalf("ActiveCount = %d, want 0", stats.ActiveCount)
	}
	if stats.TotalAllocated == 0 || stats.TotalFreed == 0 {
		t.Fatalf("expected non-zero running totals, got %+v", stats)
	}
}

func TestAllocatorDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	if cfg.HeapCeiling == 0 {
		t.Fatal("default heap ceiling must be non-zero")
	}
}
