// Package app wires the components of bundle-fetch from Settings. Both
// binaries build an App and differ only in the front-end they put on it.
package app

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/handiism/bundle-fetcher/internal/bundle"
	"github.com/handiism/bundle-fetcher/internal/cache"
	"github.com/handiism/bundle-fetcher/internal/config"
	"github.com/handiism/bundle-fetcher/internal/download"
	"github.com/handiism/bundle-fetcher/internal/http"
	"github.com/handiism/bundle-fetcher/internal/logger"
	"github.com/handiism/bundle-fetcher/internal/server"
)

// Options adjust how an App is built.
type Options struct {
	// OnEvent receives every scheduler event.
	OnEvent func(download.Event)

	// LogOutput replaces stderr as the console log writer. The TUI sets
	// it to io.Discard so log lines do not tear the screen.
	LogOutput io.Writer
}

// App holds the wired components.
type App struct {
	Settings  *config.Settings
	Log       *logrus.Logger
	Scheduler *download.Scheduler
	Runner    *download.Runner
	Loader    *bundle.Loader
	Cache     *cache.Store // nil when caching is disabled

	logCloser io.Closer
}

// New builds an App from validated settings. Close releases what it opened.
func New(settings *config.Settings, opts Options) (*App, error) {
	logCfg := settings.ToLoggerConfig()
	logCfg.Output = opts.LogOutput
	log, logCloser, err := logger.New(logCfg)
	if err != nil {
		return nil, err
	}
	logger.Install(log)

	a := &App{Settings: settings, Log: log, logCloser: logCloser}

	if cacheOpts, ok := settings.ToCacheOptions(); ok {
		store, err := cache.Open(cacheOpts)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Cache = store
		log.WithField("path", cacheOpts.Path).Debug("Bundle cache opened")
	}

	schedOpts := settings.ToSchedulerOptions()
	schedOpts.Logger = log.WithField("component", "download")
	schedOpts.OnEvent = opts.OnEvent
	a.Scheduler = download.NewScheduler(schedOpts)
	a.Runner = download.NewRunner(a.Scheduler, settings.TickInterval())

	clientOpts := settings.ToClientOptions()
	clientOpts.Logger = log.WithField("component", "http")
	client := http.NewClient(clientOpts)

	a.Loader, err = bundle.NewLoader(settings.ToLoaderConfig(), bundle.Options{
		Scheduler: a.Scheduler,
		Client:    client,
		Cache:     a.Cache,
		Logger:    log.WithField("component", "bundle"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Serve ticks the scheduler and, when a listen address is configured,
// serves the status API, until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	var srv *server.Server
	if a.Settings.ListenAddr != "" {
		var err error
		srv, err = server.New(server.Options{
			Scheduler:   a.Scheduler,
			Loader:      a.Loader,
			BaseContext: ctx,
			Logger:      a.Log.WithField("component", "server"),
		})
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Runner.Run(gctx) })
	if srv != nil {
		g.Go(func() error { return srv.Run(gctx, a.Settings.ListenAddr) })
	}
	return g.Wait()
}

// Close shuts the scheduler down and closes the cache and log file.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Shutdown()
	}
	var firstErr error
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			firstErr = errors.Wrap(err, "close cache")
		}
	}
	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "close log file")
		}
	}
	return firstErr
}
