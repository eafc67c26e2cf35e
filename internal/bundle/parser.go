package bundle

import (
	"bytes"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/handiism/bundle-fetcher/internal/bundle/dto"
	"github.com/handiism/bundle-fetcher/internal/model"
)

// ErrInvalidManifest is returned by ParseManifest for unreadable input.
var ErrInvalidManifest = errors.New("bundle: invalid manifest")

// ParseManifest decodes a manifest file.
//
// The file is YAML (JSON is accepted too, being valid YAML). See
// dto.YAMLManifest for the layout.
//
// Returns an error wrapping ErrInvalidManifest if:
//   - The data is empty or not valid YAML
//   - The AssetBundleManifest section is missing
//   - An entry has no name or a malformed hash
//
// Example:
//
//	m, err := bundle.ParseManifest(body)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(m.BundleNames())
func ParseManifest(data []byte) (*model.Manifest, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.Wrap(ErrInvalidManifest, "empty document")
	}

	var doc dto.YAMLManifest
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(ErrInvalidManifest, "decode: %v", err)
	}

	m, err := doc.ToModel()
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidManifest, "%v", err)
	}
	return m, nil
}
