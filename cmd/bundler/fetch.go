package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"

	"github.com/KDRohit/Aruze10-sub023/internal/archive"
	"github.com/KDRohit/Aruze10-sub023/internal/progress"
	"github.com/KDRohit/Aruze10-sub023/internal/session"
	"github.com/KDRohit/Aruze10-sub023/internal/store"
	"github.com/KDRohit/Aruze10-sub023/internal/task"
	"github.com/KDRohit/Aruze10-sub023/pkg/manifest"
)

func runFetch(args []string) int {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)

	configPath := fs.String("config", "", "YAML config file")
	manifestPath := fs.String("manifest", "", "Manifest JSON file (required)")
	hosts := fs.String("hosts", "", "Comma-separated CDN base URLs (overrides config)")
	cacheURL := fs.String("cache", "", "Persistent cache bucket URL (overrides config)")
	verbose := fs.Bool("v", false, "Verbose logging")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: bundler fetch [options] <bundle> [bundle...]

Download the named bundles and their dependencies, persisting the payloads
into the cache bucket for later sessions.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	bundles := fs.Args()
	if *manifestPath == "" || len(bundles) == 0 {
		fmt.Fprintln(os.Stderr, "Error: -manifest and at least one bundle name are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if *hosts != "" {
		cfg.Hosts = strings.Split(*hosts, ",")
	}
	if *cacheURL != "" {
		cfg.CacheBucket = *cacheURL
	}

	man, variant, err := loadManifest(*manifestPath, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitManifestError
	}
	if variant != "" {
		fmt.Fprintf(os.Stderr, "[bundler] Variant: %s\n", variant)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	opts := []session.Option{session.WithLogger(newLogger(*verbose))}
	if cfg.CacheBucket != "" {
		bkt, err := blob.OpenBucket(ctx, cfg.CacheBucket)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening cache bucket: %v\n", err)
			return ExitStorageError
		}
		defer bkt.Close()
		st, err := store.Open(ctx, bkt, newLogger(*verbose))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitStorageError
		}
		opts = append(opts, session.WithStore(st))
	}
	if cfg.LocalBucket != "" {
		bkt, err := blob.OpenBucket(ctx, cfg.LocalBucket)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening local bucket: %v\n", err)
			return ExitStorageError
		}
		defer bkt.Close()
		opts = append(opts, session.WithLocalBucket(bkt))
	}

	s, err := session.New(cfg, man, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	defer s.Close()
	s.Start()

	rep := progress.NewReporter(progress.Options{
		TotalBundles: transitiveCount(man, bundles),
		Output:       os.Stderr,
		Label:        strings.Join(bundles, ", "),
	})
	rep.Start()
	defer rep.Stop()

	type outcome struct {
		base string
		ok   bool
	}
	results := make(chan outcome, len(bundles))

	for _, b := range bundles {
		base := b
		rep.BundleStarted()
		cb := task.Callback{
			OnSuccess: func(string, archive.AssetHandle, any) {
				results <- outcome{base: base, ok: true}
			},
			OnFailure: func(string, any) {
				results <- outcome{base: base, ok: false}
			},
		}
		// Opaque archives carry no asset names, so mapping is skipped.
		if err := s.RequestBundle(manifest.BaseName(base), task.Options{KeepLoaded: true, SkipMapping: true}, &cb); err != nil {
			fmt.Fprintf(os.Stderr, "\n[bundler] %s: %v\n", base, err)
		}
	}

	failed := 0
	for i := 0; i < len(bundles); i++ {
		select {
		case r := <-results:
			if r.ok {
				p, _ := s.LoadProgress(manifest.BaseName(r.base))
				rep.BundleCompleted(p.Bytes)
			} else {
				rep.BundleFailed()
				failed++
				fmt.Fprintf(os.Stderr, "\n[bundler] Failed: %s\n", r.base)
			}
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n[bundler] Received interrupt, shutting down...")
			return ExitGeneralError
		}
	}
	rep.Stop()

	if failed > 0 {
		return ExitFetchFailed
	}
	return ExitSuccess
}

// transitiveCount sizes the full download set: the named bundles plus every
// transitive dependency, deduplicated.
func transitiveCount(man *manifest.Manifest, bases []string) int {
	seen := make(map[manifest.BundleID]struct{})
	var visit func(id manifest.BundleID)
	visit = func(id manifest.BundleID) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		for _, dep := range man.DependenciesOf(id) {
			visit(dep)
		}
	}
	for _, b := range bases {
		if id, ok := man.FullyQualify(manifest.BaseName(b)); ok {
			visit(id)
		}
	}
	return len(seen)
}
