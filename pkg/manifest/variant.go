package manifest

import "sort"

// DeviceProfile describes the capabilities the variant heuristic considers.
type DeviceProfile struct {
	Platform     string
	ScreenHeight int
	GPUMemoryMB  int
	ASTCSupport  bool
}

// VariantCriteria carries the override inputs for variant selection.
type VariantCriteria struct {
	// Whitelist is a server-delivered, per-user ordered list of variant
	// names. The first entry present in the document wins outright.
	Whitelist []string

	// QueryOverride is a variant name forced via URL/query string.
	QueryOverride string

	// Reference is the name of the default variant to fall back to.
	Reference string

	Device DeviceProfile
}

// High-tier device thresholds for the capability heuristic.
const (
	highTierGPUMemoryMB  = 1024
	highTierScreenHeight = 1080
)

// Variant names the capability heuristic chooses between.
const (
	VariantHD = "hd"
	VariantSD = "sd"
)

// SelectVariant picks the manifest variant for this process. Precedence,
// first match wins:
//
//  1. the server whitelist (first listed variant present in the document)
//  2. the query-string override
//  3. the device capability heuristic (hd for high-tier devices, else sd)
//  4. the reference variant
//  5. the first variant present, in lexical order
//
// A document with no variants at all returns the empty string: lookups then
// degrade to direct base-name matching. The result is selected once per
// process and never re-evaluated per bundle.
func SelectVariant(doc *Document, crit VariantCriteria) string {
	if len(doc.BundleVariants) == 0 {
		return ""
	}
	has := func(name string) bool {
		if name == "" {
			return false
		}
		_, ok := doc.BundleVariants[name]
		return ok
	}

	for _, name := range crit.Whitelist {
		if has(name) {
			return name
		}
	}

	if has(crit.QueryOverride) {
		return crit.QueryOverride
	}

	if name := deviceVariant(crit.Device); has(name) {
		return name
	}

	if has(crit.Reference) {
		return crit.Reference
	}

	names := make([]string, 0, len(doc.BundleVariants))
	for name := range doc.BundleVariants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names[0]
}

// deviceVariant applies the capability heuristic.
func deviceVariant(d DeviceProfile) string {
	if d.GPUMemoryMB >= highTierGPUMemoryMB && d.ScreenHeight >= highTierScreenHeight && d.ASTCSupport {
		return VariantHD
	}
	return VariantSD
}
