// Command bfalloc is a small driver around the allocator for manual
// exploration: exercising a single arena's alloc/free/realloc paths, a
// micro-benchmark, a concurrent multi-arena stress run, and a config-file
// watcher, in the vein of the Orizon project's single-binary CLI tools.
package main

import (
	"fmt"
	"os"

	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/cli"
)

var commands = []cli.CommandInfo{
	{Name: "demo", Description: "run a small scripted sequence of allocations against one arena"},
	{Name: "bench", Description: "allocate and free a fixed workload, reporting elapsed time"},
	{Name: "stress", Description: "run several independent arenas concurrently"},
	{Name: "watch", Description: "watch a config file for changes"},
}

func main() {
	if len(os.Args) < 2 {
		cli.PrintUsage("bfalloc", commands)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--version", "-v":
		cli.PrintVersion("bfalloc", false)
	case "--help", "-h":
		cli.PrintUsage("bfalloc", commands)
	case "demo":
		runDemo(os.Args[2:])
	case "bench":
		runBench(os.Args[2:])
	case "stress":
		runStress(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "bfalloc: unknown command %q\n\n", os.Args[1])
		cli.PrintUsage("bfalloc", commands)
		os.Exit(1)
	}
}
