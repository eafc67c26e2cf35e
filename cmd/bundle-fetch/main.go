package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/handiism/bundle-fetcher/internal/app"
	"github.com/handiism/bundle-fetcher/internal/bundle"
	"github.com/handiism/bundle-fetcher/internal/config"
	"github.com/handiism/bundle-fetcher/internal/download"
)

// errFetchFailed marks a run where at least one request failed.
var errFetchFailed = errors.New("some requests failed")

type options struct {
	bundles []string
	all     bool
	deps    bool
	serve   bool
	verbose bool
	dryRun  bool
}

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	// Command line flags
	var (
		configFlag  = flag.String("config", "", "Path to config file (.yaml, .yml or .json)")
		bundlesFlag = flag.String("bundles", "", "Bundle name(s) to fetch (comma-separated)")
		allFlag     = flag.Bool("all", false, "Fetch every bundle in the manifest")
		depsFlag    = flag.Bool("deps", true, "Also fetch the dependencies of each bundle")
		prefixFlag  = flag.String("url", "", "URL prefix of the bundle host (overrides config)")
		outputFlag  = flag.String("output", "", "Output directory (overrides config)")
		listenFlag  = flag.String("listen", "", "Status API listen address (overrides config)")
		serveFlag   = flag.Bool("serve", false, "Keep running the status API after fetching")
		verboseFlag = flag.Bool("verbose", false, "Show every scheduler event")
		dryRunFlag  = flag.Bool("dry-run", false, "Fetch the manifest and list what would be fetched")
	)

	flag.Parse()

	opts := options{
		bundles: splitNames(*bundlesFlag, flag.Args()),
		all:     *allFlag,
		deps:    *depsFlag,
		serve:   *serveFlag,
		verbose: *verboseFlag,
		dryRun:  *dryRunFlag,
	}

	if len(opts.bundles) == 0 && !opts.all && !opts.dryRun && !opts.serve {
		fmt.Println("Bundle Fetcher - Download asset bundles listed in a manifest")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  bundle-fetch -bundles <name,...> [options]")
		fmt.Println("  bundle-fetch -all [options]")
		fmt.Println("  bundle-fetch -serve -listen :8080")
		fmt.Println()
		fmt.Println("For interactive mode, use: bundle-fetch-tui")
		fmt.Println()
		flag.PrintDefaults()
		os.Exit(1)
	}

	// Load config
	settings := config.DefaultSettings()
	if *configFlag != "" {
		var err error
		settings, err = config.Load(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	settings.ApplyEnv()

	// Apply flags
	if *prefixFlag != "" {
		settings.URLPrefix = *prefixFlag
	}
	if *outputFlag != "" {
		settings.OutputPath = *outputFlag
	}
	if *listenFlag != "" {
		settings.ListenAddr = *listenFlag
	}
	if opts.verbose && settings.LogLevel == "info" {
		settings.LogLevel = "debug"
	}
	if opts.serve && settings.ListenAddr == "" {
		fmt.Fprintln(os.Stderr, "Error: -serve needs a listen address (-listen or listen_addr)")
		os.Exit(1)
	}
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Handle interrupts
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(settings, app.Options{OnEvent: printer(opts.verbose)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		os.Exit(1)
	}

	err = run(ctx, a, opts)
	if cerr := a.Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "Error closing: %v\n", cerr)
	}

	switch {
	case err == nil:
	case ctx.Err() != nil:
		fmt.Println("\nFetch cancelled.")
		os.Exit(130)
	case errors.Is(err, errFetchFailed):
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run drives the scheduler while fetching. Unless -serve is set the
// scheduler stops once the fetch is over.
func run(ctx context.Context, a *app.App, opts options) error {
	serveCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()

	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error { return a.Serve(gctx) })
	g.Go(func() error {
		if len(opts.bundles) == 0 && !opts.all && !opts.dryRun {
			// Serve only.
			return nil
		}
		err := fetch(gctx, a, opts)
		if !opts.serve {
			stopServing()
		}
		return err
	})
	return g.Wait()
}

func fetch(ctx context.Context, a *app.App, opts options) error {
	loader := a.Loader

	fmt.Println("📦 Bundle Fetcher")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Println("Manifest: " + loader.ManifestURL())

	mw, err := loader.RequestManifest(ctx)
	if err != nil {
		return err
	}
	if err := bundle.WaitAll(ctx, mw); err != nil {
		return errors.Wrap(err, "fetch manifest")
	}
	manifest, ok := loader.Manifest()
	if !ok {
		return errors.New("manifest could not be parsed")
	}
	fmt.Printf("Manifest lists %d bundle(s)\n", manifest.Len())

	if opts.dryRun {
		names := opts.bundles
		if opts.all || len(names) == 0 {
			names = manifest.BundleNames()
		}
		fmt.Println("\n[Dry run - not downloading]")
		for _, name := range names {
			info, ok := manifest.Bundle(name)
			if !ok {
				fmt.Printf("  ✗ %s (not in manifest)\n", name)
				continue
			}
			fmt.Printf("  • %s %s\n", info.Name, info.Hash)
			if opts.deps {
				for _, dep := range manifest.GetAllDependencies(name) {
					fmt.Printf("      ↳ %s\n", dep)
				}
			}
		}
		return nil
	}

	names := opts.bundles
	if opts.all {
		names = nil
	}
	ws, err := loader.RequestBundles(ctx, names, opts.deps)
	if err != nil {
		return err
	}
	fmt.Printf("\n📥 Fetching %d request(s)...\n\n", len(ws))

	waitErr := bundle.WaitAll(ctx, ws...)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	paths := a.Settings.ToPathConfig()
	saved, err := loader.SavePayloads(ctx, *paths, ws)
	if err != nil {
		return err
	}

	var failed int
	for _, w := range ws {
		if !w.Succeeded() {
			failed++
		}
	}

	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("✨ Complete! Saved %d/%d bundle(s) to %s\n", len(saved), len(ws), paths.Dir(loader.Placeholders()))
	if waitErr != nil {
		fmt.Printf("   %d request(s) failed\n", failed)
		return errFetchFailed
	}
	return nil
}

// printer returns the scheduler event callback printing progress lines.
func printer(verbose bool) func(download.Event) {
	return func(ev download.Event) {
		var line string
		switch ev.Kind {
		case download.EventQueued:
			if !verbose {
				return
			}
			line = "   queued " + ev.ID
		case download.EventStarted:
			if !verbose {
				return
			}
			line = fmt.Sprintf("   started %s (attempt %d)", ev.ID, ev.Attempt)
		case download.EventRetrying:
			line = fmt.Sprintf("⚠️  retrying %s after attempt %d: %s", ev.ID, ev.Attempt, ev.Message)
		case download.EventCompleted:
			line = "✅ " + ev.ID
		case download.EventFailed:
			line = fmt.Sprintf("❌ %s: %s", ev.ID, ev.Message)
		case download.EventCancelled:
			line = "ℹ️  cancelled " + ev.ID
		default:
			return
		}
		fmt.Println(line)
	}
}

// splitNames merges the -bundles list with positional arguments.
func splitNames(list string, args []string) []string {
	var names []string
	for _, part := range strings.Split(list, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return append(names, args...)
}
