package main

import (
	"flag"
	"fmt"

	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/alloc"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/cli"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/democonfig"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/sysmem"
)

func runDemo(args []string) {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	configFile := fs.String("config", "", "path to a bfalloc config file (defaults built in if omitted)")
	verbose := fs.Bool("verbose", false, "log each step")
	fs.Parse(args)

	logger := cli.NewLogger(*verbose, *verbose)

	cfg, err := loadConfigOrDefault(*configFile)
	if err != nil {
		cli.ExitWithError("loading config: %v", err)
	}

	al, err := alloc.New(sysmem.NewEnv(),
		alloc.WithHeapCeiling(cfg.HeapCeilingBytes),
		alloc.WithKeepSegmentsCount(cfg.KeepSegmentsCount),
	)
	if err != nil {
		cli.ExitWithError("initializing allocator: %v", err)
	}

	logger.Info("allocator ready, heap ceiling %d bytes", cfg.HeapCeilingBytes)

	sizes := []uintptr{16, 64, 256, 1024, 8192, 1 << 20}
	var blocks [][]byte

	for _, size := range sizes {
		b, err := al.Alloc(size)
		if err != nil {
			cli.ExitWithError("alloc(%d): %v", size, err)
		}

		logger.Debug("allocated %d bytes", len(b))
		blocks = append(blocks, b)
	}

	grown, err := al.Realloc(blocks[0], 4096)
	if err != nil {
		cli.ExitWithError("realloc: %v", err)
	}
	blocks[0] = grown
	logger.Info("grew first block to %d bytes", len(grown))

	for _, b := range blocks {
		if err := al.Free(b); err != nil {
			cli.ExitWithError("free: %v", err)
		}
	}

	stats := al.Stats()
	fmt.Printf("total allocated: %d bytes\n", stats.TotalAllocated)
	fmt.Printf("total freed:     %d bytes\n", stats.TotalFreed)
	fmt.Printf("active blocks:   %d\n", stats.ActiveCount)
	fmt.Printf("committed bytes: %d\n", stats.CommittedBytes)
}

func loadConfigOrDefault(path string) (*democonfig.Config, error) {
	if path == "" {
		return democonfig.Default(), nil
	}

	return democonfig.Load(path)
}
