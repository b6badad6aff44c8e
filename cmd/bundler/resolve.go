package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/KDRohit/Aruze10-sub023/pkg/manifest"
)

// runResolve maps resource paths to their owning bundles and prints each
// bundle's dependency chain. A debugging aid for manifest authors.
func runResolve(args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)

	configPath := fs.String("config", "", "YAML config file")
	manifestPath := fs.String("manifest", "", "Manifest JSON file (required)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: bundler resolve [options] <path> [path...]

Resolve resource paths against the manifest and print the owning bundle and
its dependency chain.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	paths := fs.Args()
	if *manifestPath == "" || len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "Error: -manifest and at least one path are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	man, variant, err := loadManifest(*manifestPath, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitManifestError
	}
	if variant != "" {
		fmt.Printf("Variant: %s\n", variant)
	}

	missing := 0
	for _, p := range paths {
		id, ok := man.Resolve(p)
		if !ok {
			fmt.Printf("%s: not in manifest (local fallback)\n", p)
			missing++
			continue
		}
		fmt.Printf("%s: %s\n", p, id)
		printDeps(man, id, "  ")
	}

	if missing > 0 {
		return ExitGeneralError
	}
	return ExitSuccess
}

func printDeps(man *manifest.Manifest, id manifest.BundleID, indent string) {
	for _, dep := range man.DependenciesOf(id) {
		fmt.Printf("%sdepends on %s\n", indent, dep)
		printDeps(man, dep, indent+"  ")
	}
}
