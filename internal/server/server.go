package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/handiism/bundle-fetcher/internal/bundle"
	"github.com/handiism/bundle-fetcher/internal/download"
)

// ShutdownTimeout bounds the graceful shutdown performed by Run.
const ShutdownTimeout = 5 * time.Second

// Options configure a Server.
type Options struct {
	Scheduler *download.Scheduler

	// Loader is optional. Without it the manifest and bundle routes
	// answer 503.
	Loader *bundle.Loader

	// BaseContext bounds the attempts of requests queued through the API.
	// It outlives the HTTP request that queued them. Defaults to
	// context.Background().
	BaseContext context.Context

	Logger *logrus.Entry
}

// Server exposes scheduler state and control over HTTP.
type Server struct {
	scheduler *download.Scheduler
	loader    *bundle.Loader
	baseCtx   context.Context
	log       *logrus.Entry
}

// RequestList is the body of GET /api/requests.
type RequestList struct {
	Stats    download.Stats    `json:"stats"`
	Requests []download.Status `json:"requests"`
}

type errorBody struct {
	Error string `json:"error"`
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Scheduler == nil {
		return nil, errors.New("server: scheduler is required")
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "server")
	}
	return &Server{
		scheduler: opts.Scheduler,
		loader:    opts.Loader,
		baseCtx:   opts.BaseContext,
		log:       opts.Logger,
	}, nil
}

// Router builds the gin handler.
//
// Wrapper ids and bundle names may contain '/', so both are matched with
// catch-all parameters.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api")
	api.GET("/requests", s.handleRequestsList)
	api.GET("/requests/*id", s.handleRequestGet)
	api.DELETE("/requests/*id", s.handleRequestCancel)
	api.POST("/manifest", s.handleManifestRequest)
	api.POST("/bundles/*name", s.handleBundleRequest)

	return r
}

// Run serves Router on addr until ctx is done, then shuts the listener
// down gracefully. It returns nil after a clean shutdown.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", ln.Addr().String()).Info("Status API listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serve status API")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shut down status API")
	}
	s.log.Debug("Status API stopped")
	return nil
}

func (s *Server) handleRequestsList(c *gin.Context) {
	c.JSON(http.StatusOK, RequestList{
		Stats:    s.scheduler.Stats(),
		Requests: s.scheduler.Snapshot(),
	})
}

func (s *Server) handleRequestGet(c *gin.Context) {
	id := catchAll(c, "id")
	w, ok := s.scheduler.RequestWrapper(id)
	if !ok {
		c.JSON(http.StatusNotFound, errorBody{Error: "unknown request " + id})
		return
	}
	c.JSON(http.StatusOK, w.Status())
}

func (s *Server) handleRequestCancel(c *gin.Context) {
	id := catchAll(c, "id")
	if !s.scheduler.CancelRequest(id) {
		c.JSON(http.StatusNotFound, errorBody{Error: "unknown request " + id})
		return
	}
	s.log.WithField("id", id).Info("Request cancelled through API")
	c.Status(http.StatusNoContent)
}

func (s *Server) handleManifestRequest(c *gin.Context) {
	if s.loader == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: "no loader configured"})
		return
	}
	w, err := s.loader.RequestManifest(s.baseCtx)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, w.Status())
}

// handleBundleRequest queues one bundle. With ?deps=true its dependencies
// are queued first and the body lists every wrapper.
func (s *Server) handleBundleRequest(c *gin.Context) {
	if s.loader == nil {
		c.JSON(http.StatusServiceUnavailable, errorBody{Error: "no loader configured"})
		return
	}
	name := catchAll(c, "name")

	var ws []*download.Wrapper
	var err error
	if c.Query("deps") == "true" {
		ws, err = s.loader.RequestBundleWithDependencies(s.baseCtx, name)
	} else {
		var w *download.Wrapper
		if w, err = s.loader.RequestBundle(s.baseCtx, name); err == nil {
			ws = []*download.Wrapper{w}
		}
	}
	if err != nil {
		s.fail(c, err)
		return
	}

	out := make([]download.Status, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Status())
	}
	c.JSON(http.StatusAccepted, out)
}

// fail maps loader and scheduler errors to HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, bundle.ErrNoManifest):
		code = http.StatusConflict
	case errors.Is(err, bundle.ErrUnknownBundle):
		code = http.StatusNotFound
	case errors.Is(err, download.ErrSchedulerClosed):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		s.log.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
	}
	c.JSON(code, errorBody{Error: err.Error()})
}

func catchAll(c *gin.Context, key string) string {
	return strings.TrimPrefix(c.Param(key), "/")
}
