// Package sysmem implements the virtual-memory environment collaborator
// the allocator core depends on: reserve/commit/soft-decommit/hard-decommit
// /release plus the two one-shot allocation paths (Alloc/Release) used by
// the large-block regime. Addresses are carried as uintptr, the same way
// the original implementation threads raw pointers through its layout
// code, and are only turned into unsafe.Pointer at the syscall boundary.
package sysmem

// Env is the one collaborator the allocator core borrows mutably for the
// duration of any operation that may enter the kernel. It is stateful
// (it remembers which commit/decommit strategy last worked) but is never
// shared across arenas.
type Env interface {
	// PageSize returns the OS page size. Queried once during Arena.Init.
	PageSize() (uintptr, error)

	// Reserve acquires len contiguous, inaccessible bytes of virtual
	// address space. len must already be page-aligned.
	Reserve(length uintptr) (uintptr, error)

	// ReserveAligned reserves len bytes whose base address is aligned to
	// align (a power of two, itself a multiple of the page size).
	ReserveAligned(length, align uintptr) (uintptr, error)

	// Commit marks [addr, addr+len) readable-writable. Prefers an
	// in-place protection upgrade, falling back to a fixed-address remap.
	Commit(addr, length uintptr) error

	// ForceCommit is like Commit but additionally guarantees the range is
	// zero-filled and clears any prior soft-decommit hint.
	ForceCommit(addr, length uintptr) error

	// SoftDecommit hints that the range's contents may be discarded while
	// keeping the mapping and reservation intact.
	SoftDecommit(addr, length uintptr) error

	// HardDecommit revokes access to the range without releasing the
	// reservation.
	HardDecommit(addr, length uintptr) error

	// Alloc returns a fresh, independently-mapped, already-accessible
	// region. Used only by the large-block path.
	Alloc(length uintptr) (uintptr, error)

	// Release unmaps [addr, addr+len).
	Release(addr, length uintptr) error
}
