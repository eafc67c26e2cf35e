package bundle

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/handiism/bundle-fetcher/internal/download"
	ioutils "github.com/handiism/bundle-fetcher/internal/io"
	"github.com/handiism/bundle-fetcher/internal/model"
)

// Placeholders returns the path placeholders of this loader's platform and
// manifest.
func (l *Loader) Placeholders() model.Placeholders {
	return model.Placeholders{Platform: l.cfg.Platform, Manifest: l.cfg.ManifestName}
}

// SavePayloads writes the payload of every succeeded bundle wrapper to the
// location paths gives it and returns the files written, in argument order.
//
// Wrappers that are not bundle requests, or that did not succeed, are
// skipped. The first write error stops the loop.
func (l *Loader) SavePayloads(ctx context.Context, paths model.PathConfig, ws []*download.Wrapper) ([]string, error) {
	m, ok := l.Manifest()
	if !ok {
		return nil, ErrNoManifest
	}
	ph := l.Placeholders()
	dir := paths.Dir(ph)

	var saved []string
	for _, w := range ws {
		name, ok := strings.CutPrefix(w.ID(), BundleIDPrefix)
		if !ok {
			continue
		}
		data, ok := Payload(w)
		if !ok {
			continue
		}
		info, ok := m.Bundle(name)
		if !ok {
			info = model.BundleInfo{Name: name}
		}

		path, err := ioutils.SaveBundle(ctx, dir, paths.FileName(info, ph), data)
		if err != nil {
			return saved, errors.Wrapf(err, "save bundle %q", name)
		}
		l.log.WithField("bundle", name).WithField("path", path).Debug("Bundle saved")
		saved = append(saved, path)
	}
	return saved, nil
}
