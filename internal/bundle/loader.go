package bundle

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/handiism/bundle-fetcher/internal/cache"
	"github.com/handiism/bundle-fetcher/internal/download"
	"github.com/handiism/bundle-fetcher/internal/http"
	"github.com/handiism/bundle-fetcher/internal/model"
)

var (
	// ErrNoManifest is returned when a bundle is requested before a
	// manifest has been loaded.
	ErrNoManifest = errors.New("bundle: manifest not loaded")

	// ErrUnknownBundle is returned for a bundle the manifest does not list.
	ErrUnknownBundle = errors.New("bundle: not listed in manifest")

	// ErrRequestFailed is returned by WaitAll when a wrapper failed.
	ErrRequestFailed = errors.New("bundle: request failed")
)

const (
	// ManifestIDPrefix prefixes the wrapper id of the manifest request.
	ManifestIDPrefix = "manifest:"

	// BundleIDPrefix prefixes the wrapper id of a bundle request.
	BundleIDPrefix = "bundle:"

	// DefaultMaxAttempts is used when Config.MaxAttempts is not positive.
	DefaultMaxAttempts = 3
)

// DefaultExpectedFailureCodes is used when Config.ExpectedFailureCodes is nil.
// A missing file will not appear by retrying.
var DefaultExpectedFailureCodes = []int{404}

// Config describes where the manifest and bundles are published.
type Config struct {
	// URLPrefix is the base URL, e.g. "https://cdn.example.com/bundles/".
	URLPrefix string

	// Platform is the platform segment. Empty uses DefaultPlatform.
	Platform string

	// AppendPlatformSegment inserts "<Platform>/" after URLPrefix.
	AppendPlatformSegment bool

	// ManifestName is the manifest file name. Empty uses Platform.
	ManifestName string

	// MaxAttempts per request. Zero uses DefaultMaxAttempts.
	MaxAttempts int

	// ExpectedFailureCodes fail a request without retrying.
	ExpectedFailureCodes []int
}

// Options are the collaborators of a Loader.
type Options struct {
	// Scheduler runs every request. Required.
	Scheduler *download.Scheduler

	// Client performs the transfers. Required.
	Client *http.Client

	// Cache, if set, serves bundles already downloaded at the same hash
	// and stores new ones.
	Cache *cache.Store

	// Logger defaults to the standard logrus logger with component=bundle.
	Logger *logrus.Entry
}

// Loader retrieves a manifest and then the bundles it lists through a
// download.Scheduler.
//
// The manifest must be loaded first: its hashes version every bundle URL
// and its dependency lists drive RequestBundleWithDependencies.
//
// Example usage:
//
//	loader, err := bundle.NewLoader(bundle.Config{
//	    URLPrefix:             "https://cdn.example.com/bundles/",
//	    Platform:              "Android",
//	    AppendPlatformSegment: true,
//	}, bundle.Options{Scheduler: s, Client: client})
//
//	mw, _ := loader.RequestManifest(ctx)
//	mw.OnSuccess(func(*download.Wrapper) {
//	    loader.RequestBundleWithDependencies(ctx, "characters")
//	})
type Loader struct {
	cfg       Config
	scheduler *download.Scheduler
	client    *http.Client
	cache     *cache.Store
	log       *logrus.Entry

	mu       sync.RWMutex
	manifest *model.Manifest
}

// NewLoader creates a Loader. Zero config values use the defaults.
func NewLoader(cfg Config, opts Options) (*Loader, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("bundle: scheduler is required")
	}
	if opts.Client == nil {
		return nil, errors.New("bundle: client is required")
	}
	if strings.TrimSpace(cfg.URLPrefix) == "" {
		return nil, errors.New("bundle: url prefix is required")
	}
	if cfg.Platform == "" {
		cfg.Platform = DefaultPlatform()
	}
	if cfg.ManifestName == "" {
		cfg.ManifestName = cfg.Platform
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.ExpectedFailureCodes == nil {
		cfg.ExpectedFailureCodes = DefaultExpectedFailureCodes
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "bundle")
	}
	return &Loader{
		cfg:       cfg,
		scheduler: opts.Scheduler,
		client:    opts.Client,
		cache:     opts.Cache,
		log:       opts.Logger,
	}, nil
}

// Config returns the effective configuration.
func (l *Loader) Config() Config {
	return l.cfg
}

// Scheduler returns the scheduler requests are queued on.
func (l *Loader) Scheduler() *download.Scheduler {
	return l.scheduler
}

// baseURL is the prefix with a trailing slash and, if enabled, the
// platform segment.
func (l *Loader) baseURL() string {
	base := l.cfg.URLPrefix
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	if l.cfg.AppendPlatformSegment {
		base += url.PathEscape(l.cfg.Platform) + "/"
	}
	return base
}

// escapePath escapes each '/'-separated segment of name.
func escapePath(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// ManifestURL returns the manifest location:
// URLPrefix [+ Platform + "/"] + ManifestName.
func (l *Loader) ManifestURL() string {
	return l.baseURL() + escapePath(l.cfg.ManifestName)
}

// BundleURL returns the location of a bundle:
// URLPrefix [+ Platform + "/"] + name, with "?v=<hash>" appended for a
// non-zero hash so a new build never hits a stale CDN copy.
func (l *Loader) BundleURL(name string, hash model.Hash) string {
	u := l.baseURL() + escapePath(name)
	if !hash.IsZero() {
		u += "?v=" + hash.String()
	}
	return u
}

// Manifest returns the loaded manifest.
func (l *Loader) Manifest() (*model.Manifest, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.manifest, l.manifest != nil
}

// SetManifest replaces the manifest, e.g. with one read from disk.
func (l *Loader) SetManifest(m *model.Manifest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.manifest = m
}

func (l *Loader) newWrapper(id string, factory download.RequestFactory) *download.Wrapper {
	return download.NewWrapper(id, factory).
		SetMaxAttempts(l.cfg.MaxAttempts).
		ExpectFailureCodes(l.cfg.ExpectedFailureCodes...)
}

// RequestManifest queues the manifest download as "manifest:<name>".
//
// The body is parsed as part of the attempt. A body that does not parse
// fails the attempt with ErrInvalidManifest, so it is retried like any other
// failure and the wrapper fails once its attempts are spent. On success the
// parsed manifest is stored before any listener the caller adds is invoked.
//
// ctx bounds every attempt of the request.
func (l *Loader) RequestManifest(ctx context.Context) (*download.Wrapper, error) {
	manifestURL := l.ManifestURL()
	w := l.newWrapper(ManifestIDPrefix+l.cfg.ManifestName, func() download.Request {
		return &manifestAttempt{Attempt: l.client.NewAttempt(ctx, manifestURL)}
	})
	w.OnSuccess(func(w *download.Wrapper) {
		a, ok := w.Request().(*manifestAttempt)
		if !ok || a.manifest == nil {
			return
		}
		l.SetManifest(a.manifest)
		l.log.WithFields(logrus.Fields{"bundles": a.manifest.Len(), "crc": a.manifest.CRC}).Info("Manifest loaded")
	})

	if err := l.scheduler.QueueRequest(w); err != nil {
		return nil, err
	}
	l.log.WithField("url", manifestURL).Debug("Manifest requested")
	return w, nil
}

// manifestAttempt parses the body of a finished 2xx attempt and reports a
// parse failure as its transport error.
type manifestAttempt struct {
	*http.Attempt

	once     sync.Once
	manifest *model.Manifest
	err      error
}

func (a *manifestAttempt) TransportError() error {
	if err := a.Attempt.TransportError(); err != nil {
		return err
	}
	if !a.Done() || a.StatusCode() < 200 || a.StatusCode() > 299 {
		return nil
	}
	a.once.Do(func() {
		m, err := ParseManifest(a.Body())
		if err != nil {
			a.err = errors.Wrap(ErrInvalidManifest, err.Error())
			return
		}
		a.manifest = m
	})
	return a.err
}

// lookup returns the manifest entry for name.
func (l *Loader) lookup(name string) (model.BundleInfo, error) {
	m, ok := l.Manifest()
	if !ok {
		return model.BundleInfo{}, ErrNoManifest
	}
	info, ok := m.Bundle(name)
	if !ok {
		return model.BundleInfo{}, errors.Wrapf(ErrUnknownBundle, "%q", name)
	}
	return info, nil
}

// RequestBundle queues the download of one bundle as "bundle:<name>".
//
// Returns an error if:
//   - No manifest is loaded (ErrNoManifest)
//   - The manifest does not list name (ErrUnknownBundle)
//   - The scheduler rejects the wrapper
func (l *Loader) RequestBundle(ctx context.Context, name string) (*download.Wrapper, error) {
	info, err := l.lookup(name)
	if err != nil {
		return nil, err
	}
	w := l.newWrapper(BundleIDPrefix+name, l.bundleFactory(ctx, info))
	if err := l.scheduler.QueueRequest(w); err != nil {
		return nil, err
	}
	l.log.WithFields(logrus.Fields{"bundle": name, "hash": info.Hash}).Debug("Bundle requested")
	return w, nil
}

// RequestBundleWithDependencies queues every transitive dependency of name,
// dependencies first, and then name itself. The returned wrappers are in
// queue order with name last.
//
// A bundle already waiting, active or completed is reused instead of being
// queued again, so the result never holds a wrapper that a later entry
// replaced. Nothing is queued if name or any of its dependencies is missing
// from the manifest.
func (l *Loader) RequestBundleWithDependencies(ctx context.Context, name string) ([]*download.Wrapper, error) {
	if _, err := l.lookup(name); err != nil {
		return nil, err
	}
	m, _ := l.Manifest()
	deps := m.GetAllDependencies(name)
	for _, dep := range deps {
		if !m.HasBundle(dep) {
			return nil, errors.Wrapf(ErrUnknownBundle, "dependency %q of %q", dep, name)
		}
	}

	out := make([]*download.Wrapper, 0, len(deps)+1)
	for _, n := range append(deps[:len(deps):len(deps)], name) {
		w, err := l.requestOrReuse(ctx, n)
		if err != nil {
			return out, err
		}
		out = append(out, w)
	}
	return out, nil
}

// requestOrReuse returns the live or completed wrapper of name, or queues
// a new one. A failed wrapper is queued again.
func (l *Loader) requestOrReuse(ctx context.Context, name string) (*download.Wrapper, error) {
	if w, ok := l.scheduler.RequestWrapper(BundleIDPrefix + name); ok {
		switch w.State() {
		case download.StateWaiting, download.StateActive, download.StateCompleted:
			return w, nil
		}
	}
	return l.RequestBundle(ctx, name)
}

// RequestAll queues every bundle in manifest order.
func (l *Loader) RequestAll(ctx context.Context) ([]*download.Wrapper, error) {
	m, ok := l.Manifest()
	if !ok {
		return nil, ErrNoManifest
	}
	out := make([]*download.Wrapper, 0, m.Len())
	for _, name := range m.BundleNames() {
		w, err := l.RequestBundle(ctx, name)
		if err != nil {
			return out, err
		}
		out = append(out, w)
	}
	return out, nil
}

// RequestBundles queues every name, with its dependencies when withDeps
// is set, or every bundle when names is empty. Bundles already waiting,
// active or completed are reused, and each id is returned once, in
// first-seen order.
func (l *Loader) RequestBundles(ctx context.Context, names []string, withDeps bool) ([]*download.Wrapper, error) {
	if len(names) == 0 {
		return l.RequestAll(ctx)
	}

	var out []*download.Wrapper
	seen := make(map[string]bool)
	for _, name := range names {
		var ws []*download.Wrapper
		if withDeps {
			var err error
			if ws, err = l.RequestBundleWithDependencies(ctx, name); err != nil {
				return out, err
			}
		} else {
			w, err := l.requestOrReuse(ctx, name)
			if err != nil {
				return out, err
			}
			ws = []*download.Wrapper{w}
		}
		for _, w := range ws {
			if !seen[w.ID()] {
				seen[w.ID()] = true
				out = append(out, w)
			}
		}
	}
	return out, nil
}

// bundleFactory builds the request factory of a bundle. The factory runs
// under the scheduler lock, so the cache lookup it performs must stay short.
func (l *Loader) bundleFactory(ctx context.Context, info model.BundleInfo) download.RequestFactory {
	bundleURL := l.BundleURL(info.Name, info.Hash)
	cacheable := l.cache != nil && !info.Hash.IsZero()
	log := l.log.WithFields(logrus.Fields{"bundle": info.Name, "hash": info.Hash})

	return func() download.Request {
		if cacheable {
			data, ok, err := l.cache.Get(info.Name, info.Hash)
			switch {
			case err != nil:
				log.WithError(err).Warn("Cache lookup failed")
			case ok:
				log.Debug("Serving bundle from cache")
				return newCachedRequest(data)
			}
		}

		attempt := l.client.NewAttempt(ctx, bundleURL)
		if cacheable {
			attempt.OnComplete(func(a *http.Attempt) {
				if a.TransportError() != nil || a.StatusCode() < 200 || a.StatusCode() > 299 {
					return
				}
				if err := l.cache.Put(info.Name, info.Hash, a.Body()); err != nil {
					log.WithError(err).Warn("Cannot cache bundle")
					return
				}
				if n, err := l.cache.Prune(info.Name, info.Hash); err == nil && n > 0 {
					log.WithField("removed", n).Debug("Pruned stale bundle versions")
				}
			})
		}
		return attempt
	}
}

// Payload returns the body downloaded by a successful wrapper created by
// a Loader.
func Payload(w *download.Wrapper) ([]byte, bool) {
	if w == nil || !w.Succeeded() {
		return nil, false
	}
	p, ok := w.Request().(interface{ Body() []byte })
	if !ok {
		return nil, false
	}
	return p.Body(), true
}

// WaitAll blocks until every wrapper has reported its outcome or ctx is
// done. It returns ctx's error, or ErrRequestFailed naming the first failed
// wrapper in argument order. Cancelled wrappers never report, so waiting on
// one ends only with ctx.
func WaitAll(ctx context.Context, ws ...*download.Wrapper) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, w := range ws {
		w := w
		g.Go(func() error { return w.Wait(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, w := range ws {
		if !w.Succeeded() {
			return errors.Wrapf(ErrRequestFailed, "%s: %s", w.ID(), w.ErrorMessage())
		}
	}
	return nil
}

// cachedRequest is an attempt answered from the cache. It finishes as soon
// as it is sent.
type cachedRequest struct {
	mu   sync.Mutex
	data []byte
	done bool
}

func newCachedRequest(data []byte) *cachedRequest {
	return &cachedRequest{data: data}
}

func (c *cachedRequest) Send() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.done = true
}

func (c *cachedRequest) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *cachedRequest) TransportError() error { return nil }

func (c *cachedRequest) StatusCode() int { return 200 }

func (c *cachedRequest) Abort() {}

func (c *cachedRequest) Body() []byte { return c.data }
