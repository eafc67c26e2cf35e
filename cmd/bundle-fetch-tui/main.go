package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/handiism/bundle-fetcher/internal/app"
	"github.com/handiism/bundle-fetcher/internal/config"
	"github.com/handiism/bundle-fetcher/internal/download"
	"github.com/handiism/bundle-fetcher/internal/tui"
)

func main() {
	_ = godotenv.Load()

	configFlag := flag.String("config", "", "Path to config file (.yaml, .yml or .json)")
	prefixFlag := flag.String("url", "", "URL prefix of the bundle host (overrides config)")
	flag.Parse()

	settings := config.DefaultSettings()
	if *configFlag != "" {
		var err error
		if settings, err = config.Load(*configFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	settings.ApplyEnv()
	if *prefixFlag != "" {
		settings.URLPrefix = *prefixFlag
	}
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Events that do not fit the buffer are dropped.
	events := make(chan download.Event, 256)
	a, err := app.New(settings, app.Options{
		OnEvent: func(ev download.Event) {
			select {
			case events <- ev:
			default:
			}
		},
		LogOutput: io.Discard,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- a.Serve(ctx) }()

	err = tui.Run(tui.Options{
		Loader: a.Loader,
		Events: events,
		Paths:  *settings.ToPathConfig(),
	})
	cancel()
	if serr := <-serveDone; serr != nil && err == nil {
		err = serr
	}
	if err != nil {
		a.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
