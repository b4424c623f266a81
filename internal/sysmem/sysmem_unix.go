//go:build linux || darwin

package sysmem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// commitStrategy and softDecommitStrategy track which kernel facility last
// worked, so repeated calls skip straight to it instead of re-probing the
// fallback chain every time. Mirrors the adaptive strategy the original
// implementation keeps per-environment.
type commitStrategy int

const (
	commitMprotect commitStrategy = iota
	commitMmapFixed
)

type softDecommitStrategy int

const (
	decommitMadviseFree softDecommitStrategy = iota
	decommitMadviseDontNeed
	decommitMmapFixed
)

// UnixEnv implements Env on Linux and Darwin via golang.org/x/sys/unix.
type UnixEnv struct {
	preferCommit       commitStrategy
	preferSoftDecommit softDecommitStrategy
}

// NewUnixEnv returns a fresh adaptive-strategy environment.
func NewUnixEnv() *UnixEnv {
	return &UnixEnv{
		preferCommit:       commitMprotect,
		preferSoftDecommit: decommitMadviseFree,
	}
}

func byteSliceAt(addr, length uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(length))
}

func (e *UnixEnv) PageSize() (uintptr, error) {
	return uintptr(unix.Getpagesize()), nil
}

func (e *UnixEnv) Reserve(length uintptr) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, int(length), unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, fmt.Errorf("mmap reserve: %w", err)
	}

	return uintptr(unsafe.Pointer(unsafe.SliceData(b))), nil
}

// ReserveAligned over-reserves length+align, then trims the unaligned
// prefix and suffix with two Release calls, exactly as spec.md §6 mandates.
func (e *UnixEnv) ReserveAligned(length, align uintptr) (uintptr, error) {
	overLength := length + align
	base, err := e.Reserve(overLength)
	if err != nil {
		return 0, err
	}

	alignedBase := (base + align - 1) &^ (align - 1)

	prefix := alignedBase - base
	if prefix > 0 {
		if err := e.Release(base, prefix); err != nil {
			return 0, err
		}
	}

	suffixStart := alignedBase + length
	suffixLen := (base + overLength) - suffixStart
	if suffixLen > 0 {
		if err := e.Release(suffixStart, suffixLen); err != nil {
			return 0, err
		}
	}

	return alignedBase, nil
}

// mmapFixed remaps [addr, addr+length) in place via a direct mmap(2)
// syscall with MAP_FIXED. golang.org/x/sys/unix.Mmap has no way to request
// a specific address, so the fixed-address fallback goes straight through
// the raw syscall the same way the original sys/linux.rs falls back to
// libc::mmap(..., MAP_FIXED) when mprotect/madvise are unavailable.
func (e *UnixEnv) mmapFixed(addr, length uintptr, prot int) error {
	ret, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		addr,
		length,
		uintptr(prot),
		uintptr(unix.MAP_ANON|unix.MAP_PRIVATE|unix.MAP_FIXED),
		^uintptr(0),
		0,
	)
	if errno != 0 {
		return fmt.Errorf("mmap fixed remap: %w", errno)
	}

	if ret != addr {
		return fmt.Errorf("mmap fixed remap returned unexpected address")
	}

	return nil
}

func (e *UnixEnv) Commit(addr, length uintptr) error {
	if e.preferCommit == commitMprotect {
		if err := unix.Mprotect(byteSliceAt(addr, length), unix.PROT_READ|unix.PROT_WRITE); err == nil {
			return nil
		}
	}

	if err := e.mmapFixed(addr, length, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return err
	}

	e.preferCommit = commitMmapFixed

	return nil
}

// ForceCommit always remaps, guaranteeing zero-filled pages regardless of
// any soft-decommit hint previously applied to this range.
func (e *UnixEnv) ForceCommit(addr, length uintptr) error {
	return e.mmapFixed(addr, length, unix.PROT_READ|unix.PROT_WRITE)
}

func (e *UnixEnv) SoftDecommit(addr, length uintptr) error {
	b := byteSliceAt(addr, length)

	if e.preferSoftDecommit <= decommitMadviseFree {
		if err := unix.Madvise(b, unix.MADV_FREE); err == nil {
			e.preferSoftDecommit = decommitMadviseFree
			return nil
		}
	}

	if e.preferSoftDecommit <= decommitMadviseDontNeed {
		if err := unix.Madvise(b, unix.MADV_DONTNEED); err == nil {
			e.preferSoftDecommit = decommitMadviseDontNeed
			return nil
		}
	}

	if err := e.mmapFixed(addr, length, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return err
	}

	e.preferSoftDecommit = decommitMmapFixed

	return nil
}

func (e *UnixEnv) HardDecommit(addr, length uintptr) error {
	if err := unix.Mprotect(byteSliceAt(addr, length), unix.PROT_NONE); err == nil {
		return nil
	}

	return e.mmapFixed(addr, length, unix.PROT_NONE)
}

func (e *UnixEnv) Alloc(length uintptr) (uintptr, error) {
	b, err := unix.Mmap(-1, 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return 0, fmt.Errorf("mmap alloc: %w", err)
	}

	return uintptr(unsafe.Pointer(unsafe.SliceData(b))), nil
}

func (e *UnixEnv) Release(addr, length uintptr) error {
	if err := unix.Munmap(byteSliceAt(addr, length)); err != nil {
		return fmt.Errorf("munmap release: %w", err)
	}

	return nil
}
