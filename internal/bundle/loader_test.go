package bundle

import (
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/bundle-fetcher/internal/cache"
	"github.com/handiism/bundle-fetcher/internal/download"
	"github.com/handiism/bundle-fetcher/internal/http"
	"github.com/handiism/bundle-fetcher/internal/model"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// cdn serves testManifestYAML under /Android/Android and "payload:<name>"
// for every bundle except ghost, which is always 404.
type cdn struct {
	*httptest.Server
	mu    sync.Mutex
	hits  map[string]int
	query map[string]string
}

func newCDN(t *testing.T) *cdn {
	c := &cdn{hits: map[string]int{}, query: map[string]string{}}
	c.Server = httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/Android/")
		c.mu.Lock()
		c.hits[name]++
		c.query[name] = r.URL.Query().Get("v")
		c.mu.Unlock()

		switch name {
		case "Android":
			io.WriteString(w, testManifestYAML)
		case "ghost":
			nethttp.NotFound(w, r)
		default:
			io.WriteString(w, "payload:"+name)
		}
	}))
	t.Cleanup(c.Close)
	return c
}

func (c *cdn) version(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query[name]
}

func (c *cdn) hitCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[name]
}

type fixture struct {
	loader    *Loader
	scheduler *download.Scheduler
	ctx       context.Context
}

func newFixture(t *testing.T, baseURL string, store *cache.Store) *fixture {
	t.Helper()
	s := download.NewScheduler(download.Options{
		MaxParallelRequests: 2,
		RetryCooldown:       time.Millisecond,
		Logger:              quietLogger(),
	})
	client := http.NewClient(http.Options{Timeout: 5 * time.Second, Logger: quietLogger()})
	loader, err := NewLoader(Config{
		URLPrefix:             baseURL,
		Platform:              "Android",
		AppendPlatformSegment: true,
		MaxAttempts:           3,
	}, Options{Scheduler: s, Client: client, Cache: store, Logger: quietLogger()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		download.NewRunner(s, time.Millisecond).Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	waitCtx, waitCancel := context.WithTimeout(ctx, 10*time.Second)
	t.Cleanup(waitCancel)
	return &fixture{loader: loader, scheduler: s, ctx: waitCtx}
}

func (f *fixture) loadManifest(t *testing.T) {
	t.Helper()
	w, err := f.loader.RequestManifest(f.ctx)
	require.NoError(t, err)
	require.NoError(t, w.Wait(f.ctx))
	require.True(t, w.Succeeded(), w.ErrorMessage())
	_, ok := f.loader.Manifest()
	require.True(t, ok)
}

func TestNewLoader(t *testing.T) {
	s := download.NewScheduler(download.Options{Logger: quietLogger()})
	client := http.NewClient(http.Options{Logger: quietLogger()})

	_, err := NewLoader(Config{URLPrefix: "http://x/"}, Options{Client: client})
	assert.Error(t, err)
	_, err = NewLoader(Config{URLPrefix: "http://x/"}, Options{Scheduler: s})
	assert.Error(t, err)
	_, err = NewLoader(Config{}, Options{Scheduler: s, Client: client})
	assert.Error(t, err)

	l, err := NewLoader(Config{URLPrefix: "http://x/", Platform: "iOS"}, Options{Scheduler: s, Client: client})
	require.NoError(t, err)
	cfg := l.Config()
	assert.Equal(t, "iOS", cfg.ManifestName)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, []int{404}, cfg.ExpectedFailureCodes)
	assert.Same(t, s, l.Scheduler())
}

func TestLoader_URLs(t *testing.T) {
	s := download.NewScheduler(download.Options{Logger: quietLogger()})
	client := http.NewClient(http.Options{Logger: quietLogger()})
	hash, err := model.ParseHash("8a1f0c9e2b7d4f6a0e3c5b1d9f7a2c4e")
	require.NoError(t, err)

	tests := []struct {
		name         string
		cfg          Config
		bundle       string
		hash         model.Hash
		wantManifest string
		wantBundle   string
	}{
		{
			name:         "platform segment",
			cfg:          Config{URLPrefix: "https://cdn.example.com/ab/", Platform: "Android", AppendPlatformSegment: true},
			bundle:       "characters",
			hash:         hash,
			wantManifest: "https://cdn.example.com/ab/Android/Android",
			wantBundle:   "https://cdn.example.com/ab/Android/characters?v=8a1f0c9e2b7d4f6a0e3c5b1d9f7a2c4e",
		},
		{
			name:         "no segment, missing slash",
			cfg:          Config{URLPrefix: "https://cdn.example.com/ab", Platform: "iOS", ManifestName: "bundles"},
			bundle:       "ui/main menu",
			hash:         hash,
			wantManifest: "https://cdn.example.com/ab/bundles",
			wantBundle:   "https://cdn.example.com/ab/ui/main%20menu?v=8a1f0c9e2b7d4f6a0e3c5b1d9f7a2c4e",
		},
		{
			name:         "zero hash",
			cfg:          Config{URLPrefix: "http://localhost:8080/", Platform: "WebGL", AppendPlatformSegment: true},
			bundle:       "shared",
			wantManifest: "http://localhost:8080/WebGL/WebGL",
			wantBundle:   "http://localhost:8080/WebGL/shared",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := NewLoader(tt.cfg, Options{Scheduler: s, Client: client})
			require.NoError(t, err)
			assert.Equal(t, tt.wantManifest, l.ManifestURL())
			assert.Equal(t, tt.wantBundle, l.BundleURL(tt.bundle, tt.hash))
		})
	}
}

func TestLoader_RequestBundleErrors(t *testing.T) {
	f := newFixture(t, "http://127.0.0.1:1/", nil)

	_, err := f.loader.RequestBundle(f.ctx, "ui")
	assert.ErrorIs(t, err, ErrNoManifest)
	_, err = f.loader.RequestBundleWithDependencies(f.ctx, "ui")
	assert.ErrorIs(t, err, ErrNoManifest)
	_, err = f.loader.RequestAll(f.ctx)
	assert.ErrorIs(t, err, ErrNoManifest)

	f.loader.SetManifest(model.NewManifest([]model.BundleInfo{
		{Name: "ui", Dependencies: []string{"fonts"}},
	}))
	_, err = f.loader.RequestBundle(f.ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownBundle)

	_, err = f.loader.RequestBundleWithDependencies(f.ctx, "ui")
	assert.ErrorIs(t, err, ErrUnknownBundle)
	assert.Equal(t, download.Stats{}, f.scheduler.Stats(), "nothing queued when a dependency is missing")
}

func TestLoader_ManifestAndDependencies(t *testing.T) {
	srv := newCDN(t)
	f := newFixture(t, srv.URL, nil)
	f.loadManifest(t)

	ws, err := f.loader.RequestBundleWithDependencies(f.ctx, "ui")
	require.NoError(t, err)
	require.Len(t, ws, 3)
	assert.Equal(t, "bundle:shared", ws[0].ID())
	assert.Equal(t, "bundle:fonts", ws[1].ID())
	assert.Equal(t, "bundle:ui", ws[2].ID())

	require.NoError(t, WaitAll(f.ctx, ws...))
	for _, w := range ws {
		body, ok := Payload(w)
		require.True(t, ok)
		assert.Equal(t, "payload:"+strings.TrimPrefix(w.ID(), BundleIDPrefix), string(body))
	}
	assert.Equal(t, "00000000000000000000000000000003", srv.version("ui"))
	assert.Empty(t, srv.version("Android"))

	// Completed wrappers are reused, the named bundle included.
	again, err := f.loader.RequestBundleWithDependencies(f.ctx, "fonts")
	require.NoError(t, err)
	require.Len(t, again, 2)
	assert.Same(t, ws[0], again[0])
	assert.Same(t, ws[1], again[1])
	require.NoError(t, WaitAll(f.ctx, again...))
	assert.Equal(t, 1, srv.hitCount("shared"))
	assert.Equal(t, 1, srv.hitCount("fonts"))

	// A failed bundle is queued again.
	ghost, err := f.loader.RequestBundle(f.ctx, "ghost")
	require.NoError(t, err)
	require.NoError(t, ghost.Wait(f.ctx))
	retry, err := f.loader.RequestBundleWithDependencies(f.ctx, "ghost")
	require.NoError(t, err)
	require.Len(t, retry, 1)
	assert.NotSame(t, ghost, retry[0])
	require.NoError(t, retry[0].Wait(f.ctx))
	assert.Equal(t, 2, srv.hitCount("ghost"))
}

func TestLoader_ExpectedNotFound(t *testing.T) {
	srv := newCDN(t)
	f := newFixture(t, srv.URL, nil)
	f.loadManifest(t)

	w, err := f.loader.RequestBundle(f.ctx, "ghost")
	require.NoError(t, err)
	require.NoError(t, w.Wait(f.ctx))

	assert.False(t, w.Succeeded())
	assert.Equal(t, 404, w.FailureCode())
	assert.Equal(t, 1, srv.hitCount("ghost"))

	err = WaitAll(f.ctx, w)
	assert.ErrorIs(t, err, ErrRequestFailed)
	_, ok := Payload(w)
	assert.False(t, ok)
}

func TestLoader_RequestAll(t *testing.T) {
	srv := newCDN(t)
	f := newFixture(t, srv.URL, nil)
	f.loadManifest(t)

	ws, err := f.loader.RequestAll(f.ctx)
	require.NoError(t, err)
	require.Len(t, ws, 4)
	err = WaitAll(f.ctx, ws...)
	assert.ErrorIs(t, err, ErrRequestFailed)
	assert.Contains(t, err.Error(), "bundle:ghost")
}

func TestLoader_BadManifestFailsRequest(t *testing.T) {
	srv := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		io.WriteString(w, "not: [a manifest")
	}))
	defer srv.Close()
	f := newFixture(t, srv.URL, nil)

	w, err := f.loader.RequestManifest(f.ctx)
	require.NoError(t, err)
	require.NoError(t, w.Wait(f.ctx))

	assert.False(t, w.Succeeded())
	assert.Equal(t, 3, w.Attempts())
	assert.Contains(t, w.ErrorMessage(), "invalid manifest")
	assert.ErrorIs(t, WaitAll(f.ctx, w), ErrRequestFailed)
	_, ok := f.loader.Manifest()
	assert.False(t, ok)
}

func TestLoader_Cache(t *testing.T) {
	srv := newCDN(t)
	store, err := cache.Open(cache.OpenOptions{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	f := newFixture(t, srv.URL, store)
	f.loadManifest(t)

	first, err := f.loader.RequestBundle(f.ctx, "shared")
	require.NoError(t, err)
	require.NoError(t, first.Wait(f.ctx))
	require.True(t, first.Succeeded())

	m, _ := f.loader.Manifest()
	cached, ok, err := store.Get("shared", m.GetContentHash("shared"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payload:shared", string(cached))

	second, err := f.loader.RequestBundle(f.ctx, "shared")
	require.NoError(t, err)
	require.NoError(t, second.Wait(f.ctx))
	body, ok := Payload(second)
	require.True(t, ok)
	assert.Equal(t, "payload:shared", string(body))
	assert.Equal(t, 1, srv.hitCount("shared"))
}

func TestLoader_SavePayloads(t *testing.T) {
	srv := newCDN(t)
	f := newFixture(t, srv.URL, nil)
	f.loadManifest(t)

	ws, err := f.loader.RequestAll(f.ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, WaitAll(f.ctx, ws...), ErrRequestFailed)

	out := t.TempDir()
	paths := model.PathConfig{
		OutputPath:     filepath.Join(out, "{platform}"),
		FileNameFormat: "{name}_{hash}",
	}
	saved, err := f.loader.SavePayloads(f.ctx, paths, ws)
	require.NoError(t, err)
	require.Len(t, saved, 3, "ghost failed and is skipped")

	want := filepath.Join(out, "Android", "ui_00000000000000000000000000000003")
	assert.Contains(t, saved, want)
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "payload:ui", string(data))
}

func TestLoader_RequestBundles(t *testing.T) {
	srv := newCDN(t)
	f := newFixture(t, srv.URL, nil)
	f.loadManifest(t)

	ws, err := f.loader.RequestBundles(f.ctx, []string{"fonts", "ui"}, true)
	require.NoError(t, err)
	ids := make([]string, 0, len(ws))
	for _, w := range ws {
		ids = append(ids, w.ID())
	}
	assert.Equal(t, []string{"bundle:shared", "bundle:fonts", "bundle:ui"}, ids, "shared wrappers are listed once")
	require.NoError(t, WaitAll(f.ctx, ws...))

	single, err := f.loader.RequestBundles(f.ctx, []string{"shared"}, false)
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Same(t, ws[0], single[0], "completed bundle is reused")

	_, err = f.loader.RequestBundles(f.ctx, []string{"nope"}, false)
	assert.ErrorIs(t, err, ErrUnknownBundle)
}

func TestLoader_RequestBundlesOverlapping(t *testing.T) {
	tests := []struct {
		name     string
		bundles  []string
		withDeps bool
		want     []string
	}{
		{
			name:     "named bundle already queued as a dependency",
			bundles:  []string{"ui", "fonts"},
			withDeps: true,
			want:     []string{"bundle:shared", "bundle:fonts", "bundle:ui"},
		},
		{
			name:    "duplicate names",
			bundles: []string{"shared", "shared"},
			want:    []string{"bundle:shared"},
		},
		{
			name:     "duplicate names with dependencies",
			bundles:  []string{"fonts", "fonts", "shared"},
			withDeps: true,
			want:     []string{"bundle:shared", "bundle:fonts"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newCDN(t)
			f := newFixture(t, srv.URL, nil)
			f.loadManifest(t)

			ws, err := f.loader.RequestBundles(f.ctx, tt.bundles, tt.withDeps)
			require.NoError(t, err)
			ids := make([]string, 0, len(ws))
			for _, w := range ws {
				ids = append(ids, w.ID())
				assert.NotEqual(t, download.StateCancelled, w.State(), w.ID())
			}
			assert.Equal(t, tt.want, ids)

			ctx, cancel := context.WithTimeout(f.ctx, 5*time.Second)
			defer cancel()
			require.NoError(t, WaitAll(ctx, ws...))
			for _, id := range tt.want {
				assert.Equal(t, 1, srv.hitCount(strings.TrimPrefix(id, BundleIDPrefix)), id)
			}
		})
	}
}
