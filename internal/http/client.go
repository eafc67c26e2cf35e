package http

import (
	"context"
	"io"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout bounds a single attempt, body included.
	DefaultTimeout = 60 * time.Second

	// DefaultUserAgent is sent when Options.UserAgent is empty.
	DefaultUserAgent = "bundle-fetcher"

	// RequestIDHeader carries the attempt id to the server.
	RequestIDHeader = "X-Request-ID"
)

// Options configure a Client.
type Options struct {
	// Timeout bounds each attempt. Zero uses DefaultTimeout.
	Timeout time.Duration

	// UserAgent is sent with every request. Empty uses DefaultUserAgent.
	UserAgent string

	// Logger receives resty's own diagnostics. Defaults to the standard
	// logrus logger with component=http.
	Logger *logrus.Entry
}

// Client issues bundle and manifest downloads.
//
// Client provides:
//   - Configured User-Agent header
//   - Timeout handling
//   - Single-shot attempts for the download scheduler, with progress tracking
//
// resty's own retry is disabled: a failed attempt is reported as is and the
// scheduler decides whether to try again.
//
// Example usage:
//
//	client := NewClient(Options{Timeout: 30 * time.Second})
//
//	factory := func() download.Request {
//	    return client.NewAttempt(ctx, "https://cdn.example.com/Android/Android")
//	}
type Client struct {
	rc        *resty.Client
	userAgent string
	log       *logrus.Entry
}

// NewClient creates a new Client. Zero option values use the defaults.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "http")
	}

	rc := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "*/*").
		SetLogger(opts.Logger)

	return &Client{rc: rc, userAgent: opts.UserAgent, log: opts.Logger}
}

// UserAgent returns the User-Agent header value the client sends.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// ProgressWriter wraps a writer to track download progress.
//
// Use this to monitor large downloads by providing an OnUpdate callback
// that receives the current bytes written and total expected bytes.
//
// Example:
//
//	pw := &ProgressWriter{
//	    Writer: &buf,
//	    Total:  contentLength,
//	    OnUpdate: func(written, total int64) {
//	        fmt.Printf("%d / %d bytes\n", written, total)
//	    },
//	}
//	io.Copy(pw, response.Body)
type ProgressWriter struct {
	// Writer is the underlying writer to write data to.
	Writer io.Writer

	// Total is the expected total bytes (from Content-Length header).
	// -1 when the server did not send one.
	Total int64

	// Written is the current number of bytes written.
	Written int64

	// OnUpdate is called after each Write with current progress.
	// Parameters are (bytesWritten, totalExpected).
	OnUpdate func(written, total int64)
}

// Write implements io.Writer, tracking progress and calling OnUpdate.
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.Writer.Write(p)
	pw.Written += int64(n)
	if pw.OnUpdate != nil {
		pw.OnUpdate(pw.Written, pw.Total)
	}
	return n, err
}

// NewAttempt returns an unsent GET of url. ctx bounds the attempt; a nil
// ctx means context.Background.
func (c *Client) NewAttempt(ctx context.Context, url string) *Attempt {
	if ctx == nil {
		ctx = context.Background()
	}
	return newAttempt(ctx, c, url)
}
