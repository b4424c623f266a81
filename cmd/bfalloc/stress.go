package main

import (
	"context"
	"flag"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/alloc"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/cli"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/sysmem"
)

// runStress runs workers independent arenas, each on its own goroutine
// with its own sysmem.Env, and never sharing an arena across goroutines —
// arenas are single-owner, so "concurrency" here means running several
// isolated allocators side by side, not making one arena thread-safe.
func runStress(args []string) {
	fs := flag.NewFlagSet("stress", flag.ExitOnError)
	workers := fs.Int("workers", 4, "number of independent arenas to run concurrently")
	iterations := fs.Int("n", 50000, "alloc/free cycles per arena")
	fs.Parse(args)

	g, _ := errgroup.WithContext(context.Background())

	for w := 0; w < *workers; w++ {
		w := w

		g.Go(func() error {
			al, err := alloc.New(sysmem.NewEnv())
			if err != nil {
				return fmt.Errorf("worker %d: init: %w", w, err)
			}

			sizes := []uintptr{8, 64, 512, 4096, 1 << 18}

			for i := 0; i < *iterations; i++ {
				size := sizes[i%len(sizes)]

				b, err := al.Alloc(size)
				if err != nil {
					return fmt.Errorf("worker %d: alloc at %d: %w", w, i, err)
				}

				if err := al.Free(b); err != nil {
					return fmt.Errorf("worker %d: free at %d: %w", w, i, err)
				}
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		cli.ExitWithError("stress run failed: %v", err)
	}

	fmt.Printf("%d workers completed %d iterations each without error\n", *workers, *iterations)
}
