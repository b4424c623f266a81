package alloc

import (
	"unsafe"

	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/allocerr"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/bits"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/layout"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/sysmem"
)

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// Config configures a new Allocator. New starts from defaultConfig's
// values and applies Option values to override individual fields.
type Config struct {
	HeapCeiling       uintptr
	KeepSegmentsCount int
}

// Option mutates a Config during New.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		HeapCeiling:       256 * 1024 * 1024, // 256MB default heap ceiling
		KeepSegmentsCount: 0,                 // 0 triggers layout.DefaultKeepSegmentsCount
	}
}

// WithHeapCeiling overrides the total address space the allocator reserves
// up front.
func WithHeapCeiling(ceiling uintptr) Option {
	return func(c *Config) { c.HeapCeiling = ceiling }
}

// WithKeepSegmentsCount overrides the committed keep-list capacity.
func WithKeepSegmentsCount(n int) Option {
	return func(c *Config) { c.KeepSegmentsCount = n }
}

// Allocator is the dispatch façade: the single entry point callers use
// instead of reaching into Arena directly. It aligns incoming sizes,
// routes between the small and large paths, and keeps a running set of
// statistics across the arena's lifetime.
type Allocator struct {
	arena *Arena

	totalAllocated uintptr
	totalFreed     uintptr
	activeCount    int
}

// New constructs an Allocator backed by env, applying any Options over
// the default Config.
func New(env sysmem.Env, opts ...Option) (*Allocator, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	arena, err := Init(env, cfg.HeapCeiling, cfg.KeepSegmentsCount)
	if err != nil {
		return nil, err
	}

	return &Allocator{arena: arena}, nil
}

// Alloc rounds size up to the allocator's alignment and returns a fresh
// block of at least that many bytes as a byte slice backed by raw memory.
func (al *Allocator) Alloc(size uintptr) ([]byte, error) {
	if size == 0 {
		allocerr.Precondition("allocator_alloc", "size must be non-zero")
	}

	aligned := bits.AlignUp(size, layout.AlignmentSize)

	ptr, err := al.arena.Alloc(aligned)
	if err != nil {
		return nil, err
	}

	al.totalAllocated += aligned
	al.activeCount++

	return unsafeBytesAt(ptr, aligned), nil
}

// Free releases a slice previously returned by Alloc or Realloc. The slice
// header's length must still reflect the aligned size Alloc/Realloc
// returned it with.
func (al *Allocator) Free(b []byte) error {
	if len(b) == 0 {
		return nil
	}

	ptr := addrOf(b)
	aligned := bits.AlignUp(uintptr(len(b)), layout.AlignmentSize)

	if err := al.arena.Free(ptr, aligned); err != nil {
		return err
	}

	al.totalFreed += aligned
	al.activeCount--

	return nil
}

// Realloc resizes a slice previously returned by Alloc or Realloc.
func (al *Allocator) Realloc(b []byte, newSize uintptr) ([]byte, error) {
	if len(b) == 0 {
		return al.Alloc(newSize)
	}

	oldAligned := bits.AlignUp(uintptr(len(b)), layout.AlignmentSize)
	newAligned := bits.AlignUp(newSize, layout.AlignmentSize)

	ptr := addrOf(b)

	newPtr, err := al.arena.Realloc(ptr, oldAligned, newAligned)
	if err != nil {
		return nil, err
	}

	if newAligned == 0 {
		al.totalFreed += oldAligned
		al.activeCount--

		return nil, nil
	}

	if newPtr != ptr {
		al.totalAllocated += newAligned
		al.totalFreed += oldAligned
	}

	return unsafeBytesAt(newPtr, newAligned), nil
}

// Stats reports the allocator's running counters alongside the arena's
// current snapshot.
type Stats struct {
	ArenaStats
	TotalAllocated uintptr
	TotalFreed     uintptr
	ActiveCount    int
}

// Stats returns a combined snapshot of the façade's running counters and
// the underlying arena's bookkeeping.
func (al *Allocator) Stats() Stats {
	return Stats{
		ArenaStats:     al.arena.Stats(),
		TotalAllocated: al.totalAllocated,
		TotalFreed:     al.totalFreed,
		ActiveCount:    al.activeCount,
	}
}
