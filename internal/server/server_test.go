package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handiism/bundle-fetcher/internal/bundle"
	"github.com/handiism/bundle-fetcher/internal/download"
	"github.com/handiism/bundle-fetcher/internal/http"
	"github.com/handiism/bundle-fetcher/internal/model"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type stubRequest struct{}

func (stubRequest) Send()                 {}
func (stubRequest) Done() bool            { return false }
func (stubRequest) TransportError() error { return nil }
func (stubRequest) StatusCode() int       { return 0 }
func (stubRequest) Abort()                {}

func stubFactory() download.Request { return stubRequest{} }

// The scheduler is never ticked, so queued wrappers stay waiting.
func newTestServer(t *testing.T) (*Server, *download.Scheduler, *bundle.Loader) {
	t.Helper()
	s := download.NewScheduler(download.Options{Logger: quietLogger()})
	t.Cleanup(s.Shutdown)

	client := http.NewClient(http.Options{Logger: quietLogger()})
	loader, err := bundle.NewLoader(bundle.Config{
		URLPrefix: "http://127.0.0.1:1/",
		Platform:  "Android",
	}, bundle.Options{Scheduler: s, Client: client, Logger: quietLogger()})
	require.NoError(t, err)

	srv, err := New(Options{Scheduler: s, Loader: loader, Logger: quietLogger()})
	require.NoError(t, err)
	return srv, s, loader
}

func serve(srv *Server, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestNew_RequiresScheduler(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	assert.Equal(t, nethttp.StatusOK, serve(srv, nethttp.MethodGet, "/healthz").Code)
}

func TestRequests(t *testing.T) {
	srv, s, _ := newTestServer(t)
	require.NoError(t, s.QueueRequest(download.NewWrapper("a", stubFactory)))
	require.NoError(t, s.QueueRequest(download.NewWrapper("bundle:characters/hero", stubFactory)))

	t.Run("list", func(t *testing.T) {
		rec := serve(srv, nethttp.MethodGet, "/api/requests")
		require.Equal(t, nethttp.StatusOK, rec.Code)

		var body RequestList
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Stats.Waiting)
		require.Len(t, body.Requests, 2)
		assert.Equal(t, "a", body.Requests[0].ID)
		assert.Equal(t, "waiting", body.Requests[0].State)
	})

	t.Run("get with slash in id", func(t *testing.T) {
		rec := serve(srv, nethttp.MethodGet, "/api/requests/bundle:characters/hero")
		require.Equal(t, nethttp.StatusOK, rec.Code)

		var st download.Status
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
		assert.Equal(t, "bundle:characters/hero", st.ID)
	})

	t.Run("get unknown", func(t *testing.T) {
		assert.Equal(t, nethttp.StatusNotFound, serve(srv, nethttp.MethodGet, "/api/requests/nope").Code)
	})

	t.Run("cancel", func(t *testing.T) {
		assert.Equal(t, nethttp.StatusNoContent, serve(srv, nethttp.MethodDelete, "/api/requests/a").Code)
		assert.Equal(t, nethttp.StatusNotFound, serve(srv, nethttp.MethodDelete, "/api/requests/a").Code)
		_, ok := s.RequestWrapper("a")
		assert.False(t, ok)
	})
}

func TestManifestRequest(t *testing.T) {
	srv, s, _ := newTestServer(t)

	rec := serve(srv, nethttp.MethodPost, "/api/manifest")
	require.Equal(t, nethttp.StatusAccepted, rec.Code)

	var st download.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "manifest:Android", st.ID)
	_, ok := s.RequestWrapper("manifest:Android")
	assert.True(t, ok)
}

func TestBundleRequest(t *testing.T) {
	srv, s, loader := newTestServer(t)

	rec := serve(srv, nethttp.MethodPost, "/api/bundles/ui")
	assert.Equal(t, nethttp.StatusConflict, rec.Code, "no manifest yet")

	loader.SetManifest(model.NewManifest([]model.BundleInfo{
		{Name: "shared"},
		{Name: "ui", Dependencies: []string{"shared"}},
		{Name: "characters/hero"},
	}))

	tests := []struct {
		name string
		path string
		code int
		ids  []string
	}{
		{name: "unknown", path: "/api/bundles/ghost", code: nethttp.StatusNotFound},
		{name: "single", path: "/api/bundles/characters/hero", code: nethttp.StatusAccepted, ids: []string{"bundle:characters/hero"}},
		{name: "with deps", path: "/api/bundles/ui?deps=true", code: nethttp.StatusAccepted, ids: []string{"bundle:shared", "bundle:ui"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(srv, nethttp.MethodPost, tt.path)
			require.Equal(t, tt.code, rec.Code)
			if tt.ids == nil {
				return
			}

			var got []download.Status
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
			ids := make([]string, 0, len(got))
			for _, st := range got {
				ids = append(ids, st.ID)
			}
			assert.Equal(t, tt.ids, ids)
		})
	}

	assert.Equal(t, 3, s.Stats().Waiting)
}

func TestNoLoader(t *testing.T) {
	s := download.NewScheduler(download.Options{Logger: quietLogger()})
	srv, err := New(Options{Scheduler: s, Logger: quietLogger()})
	require.NoError(t, err)

	assert.Equal(t, nethttp.StatusServiceUnavailable, serve(srv, nethttp.MethodPost, "/api/manifest").Code)
	assert.Equal(t, nethttp.StatusServiceUnavailable, serve(srv, nethttp.MethodPost, "/api/bundles/ui").Code)
}

func TestClosedScheduler(t *testing.T) {
	srv, s, _ := newTestServer(t)
	s.Shutdown()
	assert.Equal(t, nethttp.StatusServiceUnavailable, serve(srv, nethttp.MethodPost, "/api/manifest").Code)
}

func TestServe(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	resp, err := nethttp.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, nethttp.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
