// Package config provides configuration management for bundle-fetch.
//
// This package handles:
//   - Loading and saving settings from YAML or JSON files
//   - Default configuration values
//   - BUNDLE_FETCH_* environment overrides
//   - Conversion to the option types of the other packages
//
// # Default Settings
//
// Use DefaultSettings() to get sensible defaults:
//
//	settings := config.DefaultSettings()
//	// 4 parallel requests, 3 attempts, 1s retry cooldown
//	// 404 fails without retrying
//
// url_prefix has no default and must be set before Validate passes.
//
// # Loading from File
//
//	settings, err := config.Load("/path/to/config.yaml")
//	if err != nil {
//	    // Uses defaults if file doesn't exist
//	}
//	settings.ApplyEnv()
//	if err := settings.Validate(); err != nil {
//	    return err
//	}
//
// # Saving Settings
//
//	settings.URLPrefix = "https://cdn.example.com/bundles/"
//	err := settings.Save("/path/to/config.yaml")
package config
