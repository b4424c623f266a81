package layout

import "testing"

func TestSegmentBitmapRoundTrip(t *testing.T) {
	const class = 0 // smallest block size, most sub-bitmap words

	seg := newTestSegment()
	seg.InitForClass(class, 0)

	blockCount := BlockCountOfClass(class)
	if blockCount < 64*64 {
		t.Fatalf("expected class 0 to need more than one top-level word to exercise the multi-word path, got %d blocks", blockCount)
	}

	t.Run("AllBlocksStartFree", func(t *testing.T) {
		idx, ok := seg.FindFreeBlock(class)
		if !ok || idx != 0 {
			t.Fatalf("FindFreeBlock on fresh segment = %d, %v; want 0, true", idx, ok)
		}
	})

	t.Run("MarkAndFreeRoundTrip", func(t *testing.T) {
		idx, _ := seg.FindFreeBlock(class)
		full := seg.MarkBlockAndCheckFull(class, idx)
		if full {
			t.Fatal("segment reported full after marking one block")
		}

		empty := seg.FreeBlockAndCheckEmpty(class, idx)
		if !empty {
			t.Fatal("segment should report empty after freeing its only used block")
		}
	})

	t.Run("FillsInAscendingOrderAndReportsFull", func(t *testing.T) {
		for i := 0; i < blockCount; i++ {
			idx, ok := seg.FindFreeBlock(class)
			if !ok {
				t.Fatalf("FindFreeBlock false before filling block %d/%d", i, blockCount)
			}

			full := seg.MarkBlockAndCheckFull(class, idx)
			if full != (i == blockCount-1) {
				t.Fatalf("block %d/%d: full=%v, want %v", i, blockCount, full, i == blockCount-1)
			}
		}

		if _, ok := seg.FindFreeBlock(class); ok {
			t.Fatal("FindFreeBlock succeeded on a fully marked segment")
		}

		// Free every block back and confirm full availability returns,
		// including blocks that live past the first top-level word.
		for i := 0; i < blockCount; i++ {
			seg.FreeBlockAndCheckEmpty(class, i)
		}

		if _, ok := seg.FindFreeBlock(class); !ok {
			t.Fatal("FindFreeBlock failed after freeing every block")
		}
	})
}

func TestBlockPtrRoundTrip(t *testing.T) {
	const class = 5

	seg := newTestSegment()
	seg.InitForClass(class, 0)

	for _, idx := range []int{0, 1, BlockCountOfClass(class) - 1} {
		ptr := seg.BlockPtr(class, idx)

		gotBase, gotIdx := FromBlockPtr(class, ptr)
		if gotBase != seg.Base || gotIdx != idx {
			t.Fatalf("FromBlockPtr(BlockPtr(%d)) = (%x, %d); want (%x, %d)", idx, gotBase, gotIdx, seg.Base, idx)
		}
	}
}
