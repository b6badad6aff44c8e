package manifest

import "testing"

func variantDocument(names ...string) *Document {
	doc := &Document{BundleVariants: map[string]map[string]string{}}
	for _, name := range names {
		doc.BundleVariants[name] = map[string]string{}
	}
	return doc
}

func highTierDevice() DeviceProfile {
	return DeviceProfile{
		Platform:     "android",
		ScreenHeight: 1440,
		GPUMemoryMB:  2048,
		ASTCSupport:  true,
	}
}

func TestSelectVariantWhitelistWins(t *testing.T) {
	doc := variantDocument("hd", "sd", "beta")
	got := SelectVariant(doc, VariantCriteria{
		Whitelist:     []string{"beta"},
		QueryOverride: "sd",
		Reference:     "hd",
		Device:        highTierDevice(),
	})
	if got != "beta" {
		t.Errorf("expected whitelist to win, got %s", got)
	}
}

func TestSelectVariantWhitelistSkipsUnknown(t *testing.T) {
	doc := variantDocument("hd", "sd")
	got := SelectVariant(doc, VariantCriteria{
		Whitelist: []string{"gone", "sd"},
		Device:    highTierDevice(),
	})
	if got != "sd" {
		t.Errorf("expected first known whitelist entry, got %s", got)
	}
}

func TestSelectVariantQueryOverride(t *testing.T) {
	doc := variantDocument("hd", "sd")
	got := SelectVariant(doc, VariantCriteria{
		QueryOverride: "sd",
		Device:        highTierDevice(),
	})
	if got != "sd" {
		t.Errorf("expected query override, got %s", got)
	}
}

func TestSelectVariantDeviceHeuristic(t *testing.T) {
	doc := variantDocument("hd", "sd")

	if got := SelectVariant(doc, VariantCriteria{Device: highTierDevice()}); got != "hd" {
		t.Errorf("expected hd for high-tier device, got %s", got)
	}

	low := DeviceProfile{Platform: "android", ScreenHeight: 720, GPUMemoryMB: 512}
	if got := SelectVariant(doc, VariantCriteria{Device: low}); got != "sd" {
		t.Errorf("expected sd for low-tier device, got %s", got)
	}
}

func TestSelectVariantReferenceFallback(t *testing.T) {
	doc := variantDocument("reference", "experimental")
	got := SelectVariant(doc, VariantCriteria{
		Reference: "reference",
		Device:    highTierDevice(), // heuristic picks hd, which doesn't exist
	})
	if got != "reference" {
		t.Errorf("expected reference fallback, got %s", got)
	}
}

func TestSelectVariantFirstLexical(t *testing.T) {
	doc := variantDocument("zeta", "alpha")
	got := SelectVariant(doc, VariantCriteria{})
	if got != "alpha" {
		t.Errorf("expected first lexical variant, got %s", got)
	}
}

func TestSelectVariantNoVariants(t *testing.T) {
	doc := &Document{}
	if got := SelectVariant(doc, VariantCriteria{QueryOverride: "hd"}); got != "" {
		t.Errorf("expected empty variant for pre-variant document, got %s", got)
	}
}
