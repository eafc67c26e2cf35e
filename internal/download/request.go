package download

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	// ErrNoRequestFactory is returned when a Wrapper is submitted or asked to
	// create a request without a RequestFactory. It is a configuration error
	// and is never retried.
	ErrNoRequestFactory = errors.New("download: request factory is not set")

	// ErrSchedulerClosed is returned by QueueRequest and SendRequest after
	// Shutdown has been called.
	ErrSchedulerClosed = errors.New("download: scheduler is shut down")

	// ErrWrapperDone is returned when a Wrapper that already reported its
	// final outcome is submitted again.
	ErrWrapperDone = errors.New("download: wrapper already completed")
)

// Request is one transport-level attempt of a logical request.
//
// A RequestFactory returns an unsent Request. The Scheduler calls Send once
// the attempt is allowed to run and then polls Done on every tick until the
// attempt finishes. Implementations must be safe for Done, TransportError,
// StatusCode and Abort to be called from a goroutine other than the one
// performing the exchange.
//
// The HTTP implementation lives in internal/http:
//
//	factory := func() download.Request {
//	    return client.NewAttempt(ctx, "https://cdn.example.com/Android/characters")
//	}
type Request interface {
	// Send starts the exchange. It must not block.
	Send()

	// Done reports whether the attempt has finished, successfully or not.
	Done() bool

	// TransportError is non-nil when the exchange itself failed
	// (connection refused, timeout, abort).
	TransportError() error

	// StatusCode is the response status of a finished attempt, or 0 if no
	// response was received.
	StatusCode() int

	// Abort cancels an in-flight exchange. It does not wait for the
	// exchange to stop.
	Abort()
}

// RequestFactory produces a fresh attempt every time it is called.
type RequestFactory func() Request

// outcome is the classified result of a finished attempt.
type outcome struct {
	ok      bool
	code    int
	message string
}

// classify maps a finished attempt to success or failure.
//
// A transport error always fails. A status outside the 2xx range fails with
// the status as the failure code. Anything else succeeds.
func classify(r Request) outcome {
	code := r.StatusCode()
	if err := r.TransportError(); err != nil {
		return outcome{code: code, message: err.Error()}
	}
	if code < http.StatusOK || code > 299 {
		msg := fmt.Sprintf("HTTP %d", code)
		if text := http.StatusText(code); text != "" {
			msg += ": " + text
		}
		return outcome{code: code, message: msg}
	}
	return outcome{ok: true, code: code}
}
