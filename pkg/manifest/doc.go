// Package manifest models the static bundle metadata that drives content
// delivery: which bundle owns each resource path, which bundles a bundle
// depends on, and which fully-qualified bundle id a human-readable base name
// maps to under the active variant.
//
// # Document vs Manifest
//
// A [Document] is the raw JSON index as shipped (embedded or downloaded). A
// [Manifest] is the result of binding a Document to one selected variant via
// [Build]; all lookups go through the Manifest. The Manifest is read-only
// after construction except for [Manifest.Merge], which folds in an "extra"
// document (per-feature add-ons fetched after startup).
//
// # Document Format
//
//	{
//	  "bundle_name_to_assets": {"base_name": ["path/to/asset", ...]},
//	  "bundle_dependencies":   {"base_name": ["other_base", ...]},
//	  "bundle_variants":       {"variant": {"base_name": "fully-qualified-id"}}
//	}
//
// A document with no variants predates variant support; base names then act
// as their own bundle ids.
//
// # Variants
//
// [SelectVariant] picks the variant once per process with a fixed precedence:
// server whitelist, query override, device heuristic, the reference variant,
// and finally the first variant present. See that function for details.
//
// # Integrity
//
// Dependency cycles (including self-dependencies) are configuration errors,
// detected by [Manifest.CheckCycles] at build and after every merge.
package manifest
