package layout

import "testing"

func TestKeepListEvictsOldestWhenFull(t *testing.T) {
	k := NewKeepList(2)

	segA := newTestSegment()
	segB := newTestSegment()
	segC := newTestSegment()

	k.Push(segA)
	k.Push(segB)

	if !k.Full() {
		t.Fatal("expected keep-list to report full at capacity")
	}

	oldest, ok := k.PopOldest()
	if !ok || oldest.Base != segA.Base {
		t.Fatalf("PopOldest = %x, %v; want %x, true", oldest.Base, ok, segA.Base)
	}

	k.Push(segC)

	newest, ok := k.PeekNewest()
	if !ok || newest.Base != segC.Base {
		t.Fatalf("PeekNewest = %x, %v; want %x, true", newest.Base, ok, segC.Base)
	}

	if k.CountHint() != 2 {
		t.Fatalf("CountHint() = %d, want 2", k.CountHint())
	}
}

func TestKeepListPopNewestLeavesOrderIntact(t *testing.T) {
	k := NewKeepList(4)

	segA := newTestSegment()
	segB := newTestSegment()
	segC := newTestSegment()

	k.Push(segA)
	k.Push(segB)
	k.Push(segC)

	got, ok := k.PopNewest()
	if !ok || got.Base != segC.Base {
		t.Fatalf("PopNewest = %x, %v; want %x, true", got.Base, ok, segC.Base)
	}

	got, ok = k.PopOldest()
	if !ok || got.Base != segA.Base {
		t.Fatalf("PopOldest = %x, %v; want %x, true", got.Base, ok, segA.Base)
	}

	if k.CountHint() != 1 {
		t.Fatalf("CountHint() = %d, want 1", k.CountHint())
	}
}
