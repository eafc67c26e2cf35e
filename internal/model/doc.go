// Package model defines the core data structures shared by the loader,
// the cache and the command line tools.
//
// # Hash
//
// Hash is the 128-bit content hash of a bundle:
//
//	h, err := model.ParseHash("8a1f0c9e2b7d4f6a0e3c5b1d9f7a2c4e")
//
// # Manifest
//
// Manifest indexes the bundles published for one platform, with their
// hashes and dependencies:
//
//	m := model.NewManifest(infos)
//	hash := m.GetContentHash("characters")
//	deps := m.GetAllDependencies("characters") // dependency first
//
// # Path Configuration
//
// PathConfig controls where bundles are written, using placeholders:
//
//	cfg := &model.PathConfig{
//	    OutputPath:     "./bundles/{platform}",
//	    FileNameFormat: "{name}",
//	}
//	path := cfg.FilePath(info, model.Placeholders{Platform: "Android"})
//
// Available placeholders: {platform}, {manifest}, {name}, {hash}
package model
