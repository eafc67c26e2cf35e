package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/handiism/bundle-fetcher/internal/download"
)

// ErrAborted is the transport error of an attempt stopped with Abort.
var ErrAborted = errors.New("http: attempt aborted")

var _ download.Request = (*Attempt)(nil)

// Attempt is one GET exchange. It implements download.Request.
//
// The exchange runs on its own goroutine once Send is called; every other
// method may be called concurrently to poll it.
type Attempt struct {
	client *Client
	url    string
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	sendOnce sync.Once
	finished chan struct{}

	mu         sync.Mutex
	settled    bool
	done       bool
	status     int
	err        error
	header     http.Header
	body       []byte
	written    int64
	total      int64
	onComplete []func(*Attempt)
}

func newAttempt(ctx context.Context, c *Client, url string) *Attempt {
	ctx, cancel := context.WithCancel(ctx)
	return &Attempt{
		client:   c,
		url:      url,
		id:       uuid.NewString(),
		ctx:      ctx,
		cancel:   cancel,
		finished: make(chan struct{}),
		total:    -1,
	}
}

// ID returns the request id sent in the X-Request-ID header.
func (a *Attempt) ID() string { return a.id }

// URL returns the requested URL.
func (a *Attempt) URL() string { return a.url }

// Send starts the exchange on a new goroutine. Calls after the first are ignored.
func (a *Attempt) Send() {
	a.sendOnce.Do(func() {
		go a.run()
	})
}

func (a *Attempt) run() {
	log := a.client.log.WithFields(logrus.Fields{"url": a.url, "request_id": a.id})

	resp, err := a.client.rc.R().
		SetContext(a.ctx).
		SetHeader(RequestIDHeader, a.id).
		SetDoNotParseResponse(true).
		Get(a.url)
	if err != nil {
		if resp != nil && resp.RawBody() != nil {
			resp.RawBody().Close()
		}
		log.WithError(err).Debug("Request failed")
		a.finish(0, nil, nil, errors.Wrapf(err, "GET %s", a.url))
		return
	}
	raw := resp.RawBody()
	if raw == nil {
		a.finish(resp.StatusCode(), resp.Header(), nil, nil)
		return
	}
	defer raw.Close()

	total := int64(-1)
	if resp.RawResponse != nil {
		total = resp.RawResponse.ContentLength
	}
	a.setProgress(0, total)

	var buf bytes.Buffer
	pw := &ProgressWriter{Writer: &buf, Total: total, OnUpdate: a.setProgress}
	if _, err := io.Copy(pw, raw); err != nil {
		log.WithError(err).Debug("Reading body failed")
		a.finish(resp.StatusCode(), resp.Header(), nil, errors.Wrapf(err, "read body of %s", a.url))
		return
	}
	log.WithFields(logrus.Fields{"status": resp.StatusCode(), "bytes": buf.Len()}).Debug("Response received")
	a.finish(resp.StatusCode(), resp.Header(), buf.Bytes(), nil)
}

func (a *Attempt) setProgress(written, total int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.written = written
	a.total = total
}

// finish records the result once. OnComplete callbacks run before the
// attempt reports Done, so a poller never sees a finished attempt whose
// callbacks are still pending.
func (a *Attempt) finish(status int, header http.Header, body []byte, err error) {
	a.mu.Lock()
	if a.settled {
		a.mu.Unlock()
		return
	}
	a.settled = true
	a.status = status
	a.header = header
	a.body = body
	a.err = err
	callbacks := a.onComplete
	a.onComplete = nil
	a.mu.Unlock()

	for _, fn := range callbacks {
		fn(a)
	}

	a.mu.Lock()
	a.done = true
	a.mu.Unlock()
	close(a.finished)
	a.cancel()
}

// Done reports whether the exchange has finished.
func (a *Attempt) Done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Finished is closed when the exchange finishes.
func (a *Attempt) Finished() <-chan struct{} {
	return a.finished
}

// TransportError returns the error that stopped the exchange, if any.
// A response with any status code is not a transport error.
func (a *Attempt) TransportError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// StatusCode returns the response status, or 0 if none was received.
func (a *Attempt) StatusCode() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Header returns the response headers of a finished attempt.
func (a *Attempt) Header() http.Header {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.header
}

// Body returns the response body of a finished attempt.
func (a *Attempt) Body() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.body
}

// Progress returns the bytes received so far and the expected total, which
// is -1 until the server announces a Content-Length.
func (a *Attempt) Progress() (written, total int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.written, a.total
}

// OnComplete registers fn to run once the exchange finishes, on the
// goroutine that finishes it. If it already finished, fn runs immediately.
func (a *Attempt) OnComplete(fn func(*Attempt)) {
	a.mu.Lock()
	if !a.settled {
		a.onComplete = append(a.onComplete, fn)
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	fn(a)
}

// Abort stops the exchange. The attempt finishes at once with ErrAborted;
// the goroutine, if any, exits when the transport notices the cancellation.
func (a *Attempt) Abort() {
	a.finish(0, nil, nil, ErrAborted)
}
