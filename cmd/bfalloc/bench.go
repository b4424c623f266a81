package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/alloc"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/cli"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/sysmem"
)

func runBench(args []string) {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	iterations := fs.Int("n", 200000, "number of alloc/free cycles")
	size := fs.Uint64("size", 64, "block size in bytes")
	fs.Parse(args)

	al, err := alloc.New(sysmem.NewEnv())
	if err != nil {
		cli.ExitWithError("initializing allocator: %v", err)
	}

	start := time.Now()

	for i := 0; i < *iterations; i++ {
		b, err := al.Alloc(uintptr(*size))
		if err != nil {
			cli.ExitWithError("alloc at iteration %d: %v", i, err)
		}

		if err := al.Free(b); err != nil {
			cli.ExitWithError("free at iteration %d: %v", i, err)
		}
	}

	elapsed := time.Since(start)

	fmt.Printf("%d alloc/free cycles of %d bytes in %s (%.0f ns/op)\n",
		*iterations, *size, elapsed, float64(elapsed.Nanoseconds())/float64(*iterations))
}
