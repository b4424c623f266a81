package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/cli"
	"github.com/mizunashi-mana/bitmap-freelist-alloc/internal/democonfig"
)

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "", "path to a bfalloc config file to watch")
	fs.Parse(args)

	if *configFile == "" {
		cli.ExitWithError("watch requires -config")
	}

	w, err := democonfig.NewWatcher(*configFile)
	if err != nil {
		cli.ExitWithError("starting watcher: %v", err)
	}
	defer w.Close()

	fmt.Printf("watching %s for changes; this does not hot-reload a running arena's heap ceiling\n", *configFile)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-w.Event:
			cfg, err := democonfig.Load(*configFile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "config changed but failed to validate: %v\n", err)
				continue
			}

			fmt.Printf("config changed: schema_version=%s heap_ceiling_bytes=%d keep_segments_count=%d\n",
				cfg.SchemaVersion, cfg.HeapCeilingBytes, cfg.KeepSegmentsCount)
		case <-sig:
			return
		}
	}
}
