// Package sysmemtest provides a hand-written in-memory fake of sysmem.Env
// for use by allocator and layout package tests. It is backed by real
// Go-heap storage so that pointer arithmetic and bitmap math under test
// behave exactly like the real thing, instead of a generated mock.
package sysmemtest

import (
	"fmt"
	"sort"
	"unsafe"
)

const fakePageSize = uintptr(4096)

type committedRange struct {
	addr, length uintptr
	soft         bool
}

// FakeEnv implements sysmem.Env over one large pinned backing slab, used as
// a stand-in "address space" for the reserved region, plus independently
// heap-backed regions for the large-block Alloc/Release path.
type FakeEnv struct {
	slab     []byte
	slabBase uintptr
	cursor   uintptr

	committed []committedRange

	largeBlocks map[uintptr][]byte

	// InjectEnvFailureAfter, when > 0, makes the Nth subsequent call that
	// would otherwise succeed fail with a synthetic error instead,
	// decrementing to 0 (disabled) once triggered. Used to exercise the
	// EnvFailure rewind paths.
	InjectEnvFailureAfter int
	callCount             int
}

// NewFakeEnv allocates a slabSize-byte backing slab to serve as the fake
// reserved address space.
func NewFakeEnv(slabSize uintptr) *FakeEnv {
	slab := make([]byte, slabSize)

	return &FakeEnv{
		slab:        slab,
		slabBase:    uintptr(unsafe.Pointer(unsafe.SliceData(slab))),
		largeBlocks: make(map[uintptr][]byte),
	}
}

func (e *FakeEnv) maybeFail(op string) error {
	e.callCount++
	if e.InjectEnvFailureAfter > 0 {
		e.InjectEnvFailureAfter--
		if e.InjectEnvFailureAfter == 0 {
			return fmt.Errorf("%s: injected failure", op)
		}
	}

	return nil
}

func (e *FakeEnv) PageSize() (uintptr, error) {
	return fakePageSize, nil
}

func (e *FakeEnv) Reserve(length uintptr) (uintptr, error) {
	if err := e.maybeFail("reserve"); err != nil {
		return 0, err
	}

	return e.reserveAt(length), nil
}

func (e *FakeEnv) reserveAt(length uintptr) uintptr {
	addr := e.slabBase + e.cursor
	e.cursor += length

	if e.cursor > uintptr(len(e.slab)) {
		panic("sysmemtest: backing slab exhausted, grow NewFakeEnv's slabSize")
	}

	return addr
}

func (e *FakeEnv) ReserveAligned(length, align uintptr) (uintptr, error) {
	if err := e.maybeFail("reserve_aligned"); err != nil {
		return 0, err
	}

	base := e.slabBase + e.cursor
	aligned := (base + align - 1) &^ (align - 1)
	pad := aligned - base

	e.reserveAt(pad + length)

	return aligned, nil
}

func (e *FakeEnv) Commit(addr, length uintptr) error {
	if err := e.maybeFail("commit"); err != nil {
		return err
	}

	e.committed = append(e.committed, committedRange{addr: addr, length: length})

	return nil
}

func (e *FakeEnv) ForceCommit(addr, length uintptr) error {
	if err := e.maybeFail("force_commit"); err != nil {
		return err
	}

	for i := range e.committed {
		if e.committed[i].addr == addr {
			e.committed[i].soft = false
		}
	}

	b := e.bytesAt(addr, length)
	for i := range b {
		b[i] = 0
	}

	return nil
}

func (e *FakeEnv) SoftDecommit(addr, length uintptr) error {
	if err := e.maybeFail("soft_decommit"); err != nil {
		return err
	}

	for i := range e.committed {
		if e.committed[i].addr == addr {
			e.committed[i].soft = true
		}
	}

	return nil
}

func (e *FakeEnv) HardDecommit(addr, length uintptr) error {
	if err := e.maybeFail("hard_decommit"); err != nil {
		return err
	}

	kept := e.committed[:0]

	for _, r := range e.committed {
		if r.addr != addr {
			kept = append(kept, r)
		}
	}

	e.committed = kept

	return nil
}

func (e *FakeEnv) Alloc(length uintptr) (uintptr, error) {
	if err := e.maybeFail("alloc"); err != nil {
		return 0, err
	}

	b := make([]byte, length)
	addr := uintptr(unsafe.Pointer(unsafe.SliceData(b)))
	e.largeBlocks[addr] = b

	return addr, nil
}

func (e *FakeEnv) Release(addr, length uintptr) error {
	if err := e.maybeFail("release"); err != nil {
		return err
	}

	delete(e.largeBlocks, addr)

	return nil
}

func (e *FakeEnv) bytesAt(addr, length uintptr) []byte {
	if addr < e.slabBase || addr+length > e.slabBase+uintptr(len(e.slab)) {
		panic("sysmemtest: address out of fake slab range")
	}

	return e.slab[addr-e.slabBase : addr-e.slabBase+length]
}

// IsSoftDecommitted reports whether addr currently sits inside a range that
// was soft-decommitted and not since force-committed. Tests use this to
// assert the keep-list overflow behaviour names the right segment.
func (e *FakeEnv) IsSoftDecommitted(addr uintptr) bool {
	for _, r := range e.committed {
		if addr >= r.addr && addr < r.addr+r.length {
			return r.soft
		}
	}

	return false
}

// CommittedRanges returns a sorted copy of currently-committed address
// ranges, for assertions in layout/arena tests.
func (e *FakeEnv) CommittedRanges() [][2]uintptr {
	out := make([][2]uintptr, 0, len(e.committed))
	for _, r := range e.committed {
		out = append(out, [2]uintptr{r.addr, r.length})
	}

	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })

	return out
}
