//go:build windows

package sysmem

import (
	"fmt"

	"golang.org/x/sys/windows"
)

const (
	memReserve  = 0x00002000
	memCommit   = 0x00001000
	memDecommit = 0x00004000
	memRelease  = 0x00008000

	pageNoAccess  = 0x01
	pageReadwrite = 0x04
)

// WindowsEnv implements Env via golang.org/x/sys/windows's typed
// VirtualAlloc/VirtualFree bindings, with no LazyDLL lookups.
type WindowsEnv struct{}

// NewWindowsEnv returns a new Windows virtual-memory environment.
func NewWindowsEnv() *WindowsEnv {
	return &WindowsEnv{}
}

func (e *WindowsEnv) PageSize() (uintptr, error) {
	var info windows.SystemInfo
	windows.GetSystemInfo(&info)

	return uintptr(info.PageSize), nil
}

func (e *WindowsEnv) Reserve(length uintptr) (uintptr, error) {
	addr, err := windows.VirtualAlloc(0, length, memReserve, pageNoAccess)
	if err != nil {
		return 0, fmt.Errorf("VirtualAlloc reserve: %w", err)
	}

	return addr, nil
}

func (e *WindowsEnv) ReserveAligned(length, align uintptr) (uintptr, error) {
	overLength := length + align
	base, err := e.Reserve(overLength)
	if err != nil {
		return 0, err
	}

	// Windows cannot release a partial VirtualAlloc reservation, only the
	// whole thing. Release the over-reservation and re-reserve once at an
	// aligned address; if another mapping takes that address in between,
	// the second VirtualAlloc fails and its error is returned.
	if err := e.Release(base, overLength); err != nil {
		return 0, err
	}

	alignedBase := (base + align - 1) &^ (align - 1)

	addr, err := windows.VirtualAlloc(alignedBase, length, memReserve, pageNoAccess)
	if err != nil {
		return 0, fmt.Errorf("VirtualAlloc reserve aligned: %w", err)
	}

	return addr, nil
}

func (e *WindowsEnv) Commit(addr, length uintptr) error {
	if _, err := windows.VirtualAlloc(addr, length, memCommit, pageReadwrite); err != nil {
		return fmt.Errorf("VirtualAlloc commit: %w", err)
	}

	return nil
}

// ForceCommit decommits then recommits, which is how Windows guarantees a
// freshly zero-filled range (VirtualAlloc never preserves soft-decommitted
// contents across MEM_DECOMMIT/MEM_COMMIT).
func (e *WindowsEnv) ForceCommit(addr, length uintptr) error {
	_ = windows.VirtualFree(addr, length, memDecommit)

	return e.Commit(addr, length)
}

func (e *WindowsEnv) SoftDecommit(addr, length uintptr) error {
	return e.HardDecommit(addr, length)
}

func (e *WindowsEnv) HardDecommit(addr, length uintptr) error {
	if err := windows.VirtualFree(addr, length, memDecommit); err != nil {
		return fmt.Errorf("VirtualFree decommit: %w", err)
	}

	return nil
}

func (e *WindowsEnv) Alloc(length uintptr) (uintptr, error) {
	addr, err := windows.VirtualAlloc(0, length, memReserve|memCommit, pageReadwrite)
	if err != nil {
		return 0, fmt.Errorf("VirtualAlloc alloc: %w", err)
	}

	return addr, nil
}

func (e *WindowsEnv) Release(addr, length uintptr) error {
	_ = length
	if err := windows.VirtualFree(addr, 0, memRelease); err != nil {
		return fmt.Errorf("VirtualFree release: %w", err)
	}

	return nil
}
