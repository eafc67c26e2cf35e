package model

import "slices"

// BundleInfo describes one bundle listed in a manifest.
type BundleInfo struct {
	// Name is the bundle name, which is also its path below the URL prefix.
	// Names may contain '/' separators, e.g. "characters/hero".
	Name string

	// Hash is the content hash used to version the bundle URL and key the cache.
	Hash Hash

	// CRC is the checksum recorded by the build pipeline. 0 if absent.
	CRC uint32

	// Dependencies lists the names of bundles that must be loaded first.
	Dependencies []string
}

// Manifest is the index of every bundle the server publishes for a platform,
// with content hashes and the dependency graph between bundles.
//
// A Manifest is immutable once built and safe for concurrent reads.
//
// Example:
//
//	m := model.NewManifest([]model.BundleInfo{
//	    {Name: "shared", Hash: sharedHash},
//	    {Name: "characters", Hash: charHash, Dependencies: []string{"shared"}},
//	})
//	m.GetAllDependencies("characters") // ["shared"]
type Manifest struct {
	// CRC is the checksum of the manifest file itself. 0 if absent.
	CRC uint32

	order   []string
	bundles map[string]BundleInfo
}

// NewManifest builds a Manifest from infos, keeping their order.
//
// Entries with an empty name are skipped. If a name appears more than once,
// the last entry wins but the first position is kept.
func NewManifest(infos []BundleInfo) *Manifest {
	m := &Manifest{bundles: make(map[string]BundleInfo, len(infos))}
	for _, info := range infos {
		if info.Name == "" {
			continue
		}
		if _, seen := m.bundles[info.Name]; !seen {
			m.order = append(m.order, info.Name)
		}
		info.Dependencies = slices.Clone(info.Dependencies)
		m.bundles[info.Name] = info
	}
	return m
}

// Len returns the number of bundles.
func (m *Manifest) Len() int {
	return len(m.order)
}

// BundleNames returns every bundle name in manifest order.
func (m *Manifest) BundleNames() []string {
	return slices.Clone(m.order)
}

// Bundle returns the entry for name.
func (m *Manifest) Bundle(name string) (BundleInfo, bool) {
	info, ok := m.bundles[name]
	if !ok {
		return BundleInfo{}, false
	}
	info.Dependencies = slices.Clone(info.Dependencies)
	return info, true
}

// HasBundle reports whether name is listed.
func (m *Manifest) HasBundle(name string) bool {
	_, ok := m.bundles[name]
	return ok
}

// GetContentHash returns the content hash of name, or the zero Hash if the
// bundle is not listed.
func (m *Manifest) GetContentHash(name string) Hash {
	return m.bundles[name].Hash
}

// GetDirectDependencies returns the dependencies listed for name, in the
// order the manifest gives them. It returns nil for an unknown bundle.
func (m *Manifest) GetDirectDependencies(name string) []string {
	return slices.Clone(m.bundles[name].Dependencies)
}

// GetAllDependencies returns the transitive dependencies of name, each
// listed once and always after its own dependencies, so loading them in
// order is safe. name itself is not included.
//
// Cycles are broken at the first repeated bundle. Dependencies that the
// manifest does not list are still returned so the caller can report them.
func (m *Manifest) GetAllDependencies(name string) []string {
	var out []string
	visited := map[string]bool{name: true}

	var visit func(string)
	visit = func(n string) {
		for _, dep := range m.bundles[n].Dependencies {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			visit(dep)
			out = append(out, dep)
		}
	}
	visit(name)
	return out
}
