package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/KDRohit/Aruze10-sub023/internal/store"
)

// runDiag prints the recorded background download failures. Lazy fetches
// never surface errors to the user, so this file is where they end up.
func runDiag(args []string) int {
	fs := flag.NewFlagSet("diag", flag.ExitOnError)

	configPath := fs.String("config", "", "YAML config file")
	cacheURL := fs.String("cache", "", "Persistent cache bucket URL (overrides config)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: bundler diag [options]

Print background download failures recorded in the cache bucket.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if *cacheURL != "" {
		cfg.CacheBucket = *cacheURL
	}
	if cfg.CacheBucket == "" {
		fmt.Fprintln(os.Stderr, "Error: no cache bucket configured")
		return ExitInvalidArgs
	}

	ctx := context.Background()
	bkt, err := blob.OpenBucket(ctx, cfg.CacheBucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening cache bucket: %v\n", err)
		return ExitStorageError
	}
	defer bkt.Close()

	st, err := store.Open(ctx, bkt, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	records, err := st.Diagnostics(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	if len(records) == 0 {
		fmt.Println("No background failures recorded")
		return ExitSuccess
	}

	for _, d := range records {
		fmt.Printf("%s  %s  attempts=%d  %s\n",
			d.At.Format("2006-01-02 15:04:05"), d.Bundle, d.Attempts, d.Error)
	}
	return ExitSuccess
}
