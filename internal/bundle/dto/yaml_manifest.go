package dto

import (
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/handiism/bundle-fetcher/internal/model"
)

// YAMLManifest is the manifest file published next to the bundles.
//
//	ManifestFileVersion: 0
//	CRC: 2718359413
//	AssetBundleManifest:
//	  AssetBundleInfos:
//	    Info_0:
//	      Name: shared
//	      Hash: 0a1b2c3d4e5f60718293a4b5c6d7e8f9
//	      Dependencies: {}
//	    Info_1:
//	      Name: characters
//	      Hash: 8a1f0c9e2b7d4f6a0e3c5b1d9f7a2c4e
//	      Dependencies:
//	        Dependency_0: shared
type YAMLManifest struct {
	ManifestFileVersion int                 `yaml:"ManifestFileVersion"`
	CRC                 uint32              `yaml:"CRC"`
	AssetBundleManifest *YAMLBundleManifest `yaml:"AssetBundleManifest"`
}

// YAMLBundleManifest holds the bundle entries.
type YAMLBundleManifest struct {
	AssetBundleInfos map[string]YAMLBundleInfo `yaml:"AssetBundleInfos"`
}

// YAMLBundleInfo is one "Info_N" entry.
type YAMLBundleInfo struct {
	Name         string            `yaml:"Name"`
	Hash         string            `yaml:"Hash"`
	CRC          uint32            `yaml:"CRC"`
	Dependencies map[string]string `yaml:"Dependencies"`
}

// ToModel converts the file into a model.Manifest. Entries and dependencies
// keep the order of their numeric key suffixes (Info_2 before Info_10).
// An entry without a name or with a malformed hash is an error; an entry
// without a hash gets the zero hash.
func (m *YAMLManifest) ToModel() (*model.Manifest, error) {
	if m.AssetBundleManifest == nil {
		return nil, errors.New("missing AssetBundleManifest section")
	}

	infos := make([]model.BundleInfo, 0, len(m.AssetBundleManifest.AssetBundleInfos))
	for _, key := range sortedKeys(m.AssetBundleManifest.AssetBundleInfos) {
		entry := m.AssetBundleManifest.AssetBundleInfos[key]
		if strings.TrimSpace(entry.Name) == "" {
			return nil, errors.Errorf("%s: missing Name", key)
		}

		var hash model.Hash
		if entry.Hash != "" {
			h, err := model.ParseHash(entry.Hash)
			if err != nil {
				return nil, errors.Wrapf(err, "%s (%s)", key, entry.Name)
			}
			hash = h
		}

		var deps []string
		for _, depKey := range sortedKeys(entry.Dependencies) {
			if dep := strings.TrimSpace(entry.Dependencies[depKey]); dep != "" {
				deps = append(deps, dep)
			}
		}

		infos = append(infos, model.BundleInfo{
			Name:         strings.TrimSpace(entry.Name),
			Hash:         hash,
			CRC:          entry.CRC,
			Dependencies: deps,
		})
	}

	manifest := model.NewManifest(infos)
	manifest.CRC = m.CRC
	return manifest, nil
}

// sortedKeys orders "Prefix_N" keys by N, falling back to string order for
// keys without a numeric suffix.
func sortedKeys[V any](entries map[string]V) []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, iok := suffix(keys[i])
		nj, jok := suffix(keys[j])
		switch {
		case iok && jok && ni != nj:
			return ni < nj
		case iok != jok:
			return iok
		default:
			return keys[i] < keys[j]
		}
	})
	return keys
}

func suffix(key string) (int, bool) {
	i := strings.LastIndexByte(key, '_')
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(key[i+1:])
	return n, err == nil
}
