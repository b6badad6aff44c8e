package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Common errors.
var (
	// ErrNotFound is returned when a resource path or base name has no
	// manifest entry. Callers typically fall back to a local asset source.
	ErrNotFound = errors.New("manifest: not found")

	// ErrDependencyCycle is returned when the dependency graph contains a
	// cycle. This is a data-integrity violation in the shipped index.
	ErrDependencyCycle = errors.New("manifest: dependency cycle")
)

// BundleID is a fully-qualified bundle identifier, stable for the life of a
// manifest. It may embed a content hash or size; the delivery layer treats it
// as opaque.
type BundleID string

// BaseName is the human-readable alias for a bundle, independent of variant.
type BaseName string

// CanonicalPath normalizes a resource path for case-insensitive lookup.
func CanonicalPath(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
}

// Document is the raw manifest index as parsed from JSON.
type Document struct {
	BundleNameToAssets map[string][]string          `json:"bundle_name_to_assets"`
	BundleDependencies map[string][]string          `json:"bundle_dependencies"`
	BundleVariants     map[string]map[string]string `json:"bundle_variants,omitempty"`
}

// Parse decodes a manifest document from JSON.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("manifest: parse document: %w", err)
	}
	return &doc, nil
}

// Manifest is a Document bound to one selected variant. All lookups are
// keyed by canonical (lower-cased, forward-slash) resource paths.
type Manifest struct {
	variant string

	pathToBundle map[string]BundleID
	deps         map[BundleID][]BundleID
	baseToID     map[BaseName]BundleID
	idToBase     map[BundleID]BaseName
	assets       map[BundleID][]string
}

// Build constructs a Manifest from a document and a selected variant.
// An empty variant means the document predates variants; base names then map
// to themselves as bundle ids.
func Build(doc *Document, variant string) (*Manifest, error) {
	m := &Manifest{
		variant:      variant,
		pathToBundle: make(map[string]BundleID),
		deps:         make(map[BundleID][]BundleID),
		baseToID:     make(map[BaseName]BundleID),
		idToBase:     make(map[BundleID]BaseName),
		assets:       make(map[BundleID][]string),
	}
	if err := m.merge(doc); err != nil {
		return nil, err
	}
	if err := m.CheckCycles(); err != nil {
		return nil, err
	}
	return m, nil
}

// Variant returns the variant this manifest was built against. Empty for
// pre-variant documents.
func (m *Manifest) Variant() string {
	return m.variant
}

// qualify maps a base name to its bundle id under the bound variant.
func (m *Manifest) qualify(doc *Document, base string) BundleID {
	if m.variant != "" && doc.BundleVariants != nil {
		if ids, ok := doc.BundleVariants[m.variant]; ok {
			if id, ok := ids[base]; ok {
				return BundleID(id)
			}
		}
	}
	// Pre-variant document, or base missing from the variant slice: the
	// base name is its own id.
	return BundleID(base)
}

// merge folds a document into the manifest. Path collisions are
// last-write-wins; dependency edges are unioned per bundle.
func (m *Manifest) merge(doc *Document) error {
	for base, assets := range doc.BundleNameToAssets {
		id := m.qualify(doc, base)
		m.baseToID[BaseName(base)] = id
		m.idToBase[id] = BaseName(base)
		for _, p := range assets {
			cp := CanonicalPath(p)
			prev, existed := m.pathToBundle[cp]
			m.pathToBundle[cp] = id
			if existed && prev != id {
				m.removeAsset(prev, cp)
			}
			m.addAsset(id, cp)
		}
	}

	for base, depNames := range doc.BundleDependencies {
		id := m.qualify(doc, base)
		if _, ok := m.idToBase[id]; !ok {
			m.baseToID[BaseName(base)] = id
			m.idToBase[id] = BaseName(base)
		}
		for _, depBase := range depNames {
			depID := m.qualify(doc, depBase)
			if _, ok := m.idToBase[depID]; !ok {
				m.baseToID[BaseName(depBase)] = depID
				m.idToBase[depID] = BaseName(depBase)
			}
			m.addDep(id, depID)
		}
	}
	return nil
}

func (m *Manifest) addDep(id, dep BundleID) {
	for _, existing := range m.deps[id] {
		if existing == dep {
			return
		}
	}
	m.deps[id] = append(m.deps[id], dep)
}

func (m *Manifest) addAsset(id BundleID, path string) {
	for _, existing := range m.assets[id] {
		if existing == path {
			return
		}
	}
	m.assets[id] = append(m.assets[id], path)
}

func (m *Manifest) removeAsset(id BundleID, path string) {
	list := m.assets[id]
	for i, existing := range list {
		if existing == path {
			m.assets[id] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Merge folds an extra document (e.g. a per-feature add-on index) into the
// manifest. New entries overwrite on path collision and dependency lists are
// unioned. Bundle ids already present are never removed, so entries in use by
// live caches stay valid. Returns ErrDependencyCycle if the merged graph is
// no longer acyclic.
func (m *Manifest) Merge(doc *Document) error {
	if err := m.merge(doc); err != nil {
		return err
	}
	return m.CheckCycles()
}

// Resolve maps a resource path to its owning bundle. The second return is
// false when the path has no manifest entry.
func (m *Manifest) Resolve(path string) (BundleID, bool) {
	id, ok := m.pathToBundle[CanonicalPath(path)]
	return id, ok
}

// FullyQualify maps a base name to its bundle id under the active variant.
func (m *Manifest) FullyQualify(base BaseName) (BundleID, bool) {
	id, ok := m.baseToID[base]
	return id, ok
}

// BaseOf is the inverse of FullyQualify.
func (m *Manifest) BaseOf(id BundleID) (BaseName, bool) {
	base, ok := m.idToBase[id]
	return base, ok
}

// DependenciesOf returns the direct dependencies of a bundle in document
// order. The returned slice is a copy; it is empty (nil) for bundles with no
// dependencies or unknown bundles.
func (m *Manifest) DependenciesOf(id BundleID) []BundleID {
	deps := m.deps[id]
	if len(deps) == 0 {
		return nil
	}
	out := make([]BundleID, len(deps))
	copy(out, deps)
	return out
}

// AssetsOf returns the canonical resource paths owned by a bundle.
func (m *Manifest) AssetsOf(id BundleID) []string {
	assets := m.assets[id]
	if len(assets) == 0 {
		return nil
	}
	out := make([]string, len(assets))
	copy(out, assets)
	return out
}

// Bundles returns every bundle id known to the manifest.
func (m *Manifest) Bundles() []BundleID {
	out := make([]BundleID, 0, len(m.idToBase))
	for id := range m.idToBase {
		out = append(out, id)
	}
	return out
}

// CheckCycles verifies the dependency graph is acyclic. A bundle depending
// on itself is the degenerate cycle. The returned error wraps
// ErrDependencyCycle and names the offending chain.
func (m *Manifest) CheckCycles() error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[BundleID]int, len(m.deps))

	var stack []BundleID
	var visit func(id BundleID) error
	visit = func(id BundleID) error {
		switch state[id] {
		case done:
			return nil
		case inStack:
			// Trim the stack to the start of the cycle for the message.
			start := 0
			for i, sid := range stack {
				if sid == id {
					start = i
					break
				}
			}
			chain := make([]string, 0, len(stack)-start+1)
			for _, sid := range stack[start:] {
				chain = append(chain, string(sid))
			}
			chain = append(chain, string(id))
			return fmt.Errorf("%w: %s", ErrDependencyCycle, strings.Join(chain, " -> "))
		}
		state[id] = inStack
		stack = append(stack, id)
		for _, dep := range m.deps[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for id := range m.deps {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}
