package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/KDRohit/Aruze10-sub023/pkg/manifest"
)

// runValidate checks a manifest document: it must parse, and its dependency
// graph must be acyclic under every variant. Reports per-variant stats.
func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)

	manifestPath := fs.String("manifest", "", "Manifest JSON file (required)")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: bundler validate [options]

Parse a manifest and verify the dependency graph is acyclic under every
variant. Cycles in a shipped index strand clients at load time.

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

	data, err := os.ReadFile(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	doc, err := manifest.Parse(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitManifestError
	}

	variants := make([]string, 0, len(doc.BundleVariants)+1)
	for name := range doc.BundleVariants {
		variants = append(variants, name)
	}
	sort.Strings(variants)
	if len(variants) == 0 {
		// Pre-variant document: validate the base graph alone.
		variants = append(variants, "")
	}

	bad := 0
	for _, v := range variants {
		label := v
		if label == "" {
			label = "(base)"
		}
		man, err := manifest.Build(doc, v)
		if err != nil {
			fmt.Printf("%s: INVALID: %v\n", label, err)
			bad++
			continue
		}
		assets := 0
		for _, id := range man.Bundles() {
			assets += len(man.AssetsOf(id))
		}
		fmt.Printf("%s: OK (%d bundles, %d assets)\n", label, len(man.Bundles()), assets)
	}

	if bad > 0 {
		return ExitManifestError
	}
	return ExitSuccess
}
