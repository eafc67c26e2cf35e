package model

import (
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// PathConfig holds the output layout for downloaded bundles.
//
// Both fields support placeholders that are replaced with actual values:
//   - {platform} - Platform segment, e.g. "Android"
//   - {manifest} - Manifest name
//   - {name} - Bundle name (FileNameFormat only)
//   - {hash} - Bundle content hash (FileNameFormat only)
//
// Example configuration:
//
//	cfg := &PathConfig{
//	    OutputPath:     "/srv/bundles/{platform}",
//	    FileNameFormat: "{name}_{hash}",
//	}
type PathConfig struct {
	// OutputPath is the directory template for saved bundles.
	// Example: "./bundles/{platform}"
	OutputPath string

	// FileNameFormat is the template for a bundle's path below OutputPath.
	// '/' in the result separates sub-directories.
	// Example: "{name}"
	FileNameFormat string
}

// Placeholders holds the values substituted into a PathConfig.
type Placeholders struct {
	Platform string
	Manifest string
}

// Dir computes the output directory. Each path segment produced by a
// placeholder is sanitized; the template's own separators are kept.
//
// Paths are truncated to 247 characters for Windows compatibility.
func (c *PathConfig) Dir(p Placeholders) string {
	dir := c.OutputPath
	dir = strings.ReplaceAll(dir, "{platform}", sanitizeFileName(p.Platform))
	dir = strings.ReplaceAll(dir, "{manifest}", sanitizeFileName(p.Manifest))

	// Limit path length for cross-platform compatibility (Windows MAX_PATH)
	if len(dir) >= 248 {
		dir = dir[:247]
	}
	return dir
}

// FileName computes the slash-separated path of info below Dir. Every
// segment is sanitized and empty segments are dropped, so a bundle name
// can never climb out of the output directory.
func (c *PathConfig) FileName(info BundleInfo, p Placeholders) string {
	format := c.FileNameFormat
	if format == "" {
		format = "{name}"
	}
	name := format
	name = strings.ReplaceAll(name, "{platform}", p.Platform)
	name = strings.ReplaceAll(name, "{manifest}", p.Manifest)
	name = strings.ReplaceAll(name, "{hash}", info.Hash.String())
	name = strings.ReplaceAll(name, "{name}", info.Name)
	return SanitizePath(name)
}

// FilePath joins Dir and FileName into an OS path.
func (c *PathConfig) FilePath(info BundleInfo, p Placeholders) string {
	return filepath.Join(c.Dir(p), filepath.FromSlash(c.FileName(info, p)))
}

// SanitizePath sanitizes each '/'-separated segment of name and drops
// segments that end up empty, such as "." and "..".
//
// Example:
//
//	SanitizePath("../ui/main: menu") // Returns "ui/main_ menu"
func SanitizePath(name string) string {
	parts := strings.Split(strings.ReplaceAll(name, "\\", "/"), "/")
	kept := parts[:0]
	for _, part := range parts {
		part = sanitizeFileName(part)
		if part == "" {
			continue
		}
		kept = append(kept, part)
	}
	return path.Join(kept...)
}

var (
	invalidChars  = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	trailingDots  = regexp.MustCompile(`\.+$`)
	repeatedSpace = regexp.MustCompile(`\s+`)
)

// sanitizeFileName removes or replaces characters that are invalid in file/folder names.
//
// The following transformations are applied:
//   - Invalid characters (<>:"/\|?* and control chars) are replaced with underscore
//   - Trailing dots are removed (Windows limitation)
//   - Multiple whitespace is collapsed to single space
//   - Leading and trailing whitespace is removed
//
// Example:
//
//	sanitizeFileName("ui: main/menu") // Returns "ui_ main_menu"
func sanitizeFileName(name string) string {
	name = invalidChars.ReplaceAllString(name, "_")
	name = trailingDots.ReplaceAllString(name, "")
	name = repeatedSpace.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}
