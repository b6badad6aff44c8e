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
	"github.com/KDRohit/Aruze10-sub023/pkg/manifest"
)

// runGC removes persisted bundle payloads the current manifest no longer
// names. Run after a manifest rollout to reclaim space from retired ids.
func runGC(args []string) int {
	fs := flag.NewFlagSet("gc", flag.ExitOnError)

	configPath := fs.String("config", "", "YAML config file")
	manifestPath := fs.String("manifest", "", "Manifest JSON file (required)")
	cacheURL := fs.String("cache", "", "Persistent cache bucket URL (overrides config)")
	dryRun := fs.Bool("dry-run", false, "Report what would be removed without deleting")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: bundler gc [options]

Delete persisted bundles whose ids the current manifest no longer names.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *manifestPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -manifest is required")
		fs.Usage()
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

	man, _, err := loadManifest(*manifestPath, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitManifestError
	}

	known := make(map[manifest.BundleID]struct{})
	for _, id := range man.Bundles() {
		known[id] = struct{}{}
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

	var candidates []manifest.BundleID
	keep := func(id manifest.BundleID) bool {
		if _, ok := known[id]; ok {
			return true
		}
		if *dryRun {
			candidates = append(candidates, id)
			return true
		}
		return false
	}
	removed, err := st.GC(ctx, keep)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	if *dryRun {
		for _, id := range candidates {
			fmt.Printf("would remove %s\n", id)
		}
		fmt.Printf("Would remove %d bundles\n", len(candidates))
		return ExitSuccess
	}
	fmt.Printf("Removed %d bundles\n", len(removed))
	return ExitSuccess
}
