package download

import (
	"context"
	"sort"
	"sync"
	"time"
)

// State is the position of a Wrapper in its Scheduler.
type State int

const (
	// StateNew is a wrapper that has not been submitted yet.
	StateNew State = iota
	// StateWaiting is a wrapper in the waiting queue.
	StateWaiting
	// StateActive is a wrapper whose attempt is in flight.
	StateActive
	// StateCompleted is a wrapper that finished successfully.
	StateCompleted
	// StateFailed is a wrapper that finished with a final failure.
	StateFailed
	// StateCancelled is a wrapper removed by CancelRequest or Shutdown.
	StateCancelled
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Listener is called with the wrapper once it reports its final outcome.
type Listener func(w *Wrapper)

// Wrapper is the identity and lifecycle record of one logical request
// across all of its attempts.
//
// A Wrapper owns its attempt counters, retry configuration, cooldown
// countdown, bypass flag and the set of expected failure codes. It reports
// its outcome exactly once: either every OnSuccess listener or every
// OnFailure listener is called, never both.
//
// Configure a Wrapper before submitting it to a Scheduler. Once submitted,
// its mutable fields are owned by the Scheduler and callers should only read
// them.
//
// Example:
//
//	w := download.NewWrapper("bundle:characters", factory).
//	    SetMaxAttempts(3).
//	    ExpectFailureCodes(http.StatusNotFound)
//	w.OnSuccess(func(w *download.Wrapper) { log.Println("done", w.ID()) })
//	w.OnFailure(func(w *download.Wrapper) { log.Println("failed", w.ErrorMessage()) })
//	err := scheduler.QueueRequest(w)
type Wrapper struct {
	mu sync.Mutex

	id      string
	factory RequestFactory
	request Request

	attempts      int
	maxAttempts   int
	retryCooldown time.Duration
	bypassQueue   bool
	expected      map[int]struct{}

	state        State
	errorMessage string
	failureCode  int
	done         bool
	succeeded    bool

	onSuccess []Listener
	onFailure []Listener
	doneCh    chan struct{}
}

// NewWrapper creates a Wrapper with one allowed attempt.
func NewWrapper(id string, factory RequestFactory) *Wrapper {
	return &Wrapper{
		id:          id,
		factory:     factory,
		maxAttempts: 1,
		expected:    make(map[int]struct{}),
		doneCh:      make(chan struct{}),
	}
}

// SetFactory replaces the request factory.
func (w *Wrapper) SetFactory(factory RequestFactory) *Wrapper {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.factory = factory
	return w
}

// SetMaxAttempts sets the attempt ceiling. Values below 1 are treated as 1.
func (w *Wrapper) SetMaxAttempts(n int) *Wrapper {
	if n < 1 {
		n = 1
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.maxAttempts = n
	return w
}

// SetBypassQueue marks the wrapper to ignore the concurrency cap.
func (w *Wrapper) SetBypassQueue(bypass bool) *Wrapper {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bypassQueue = bypass
	return w
}

// ExpectFailureCodes registers response codes that end the wrapper as failed
// immediately, without further retries. A typical use is 404 for a resource
// that may legitimately be absent.
func (w *Wrapper) ExpectFailureCodes(codes ...int) *Wrapper {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range codes {
		w.expected[c] = struct{}{}
	}
	return w
}

// ExpectsFailureCode reports whether code was registered via ExpectFailureCodes.
func (w *Wrapper) ExpectsFailureCode(code int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.expected[code]
	return ok
}

// ExpectedFailureCodes returns the registered codes in ascending order.
func (w *Wrapper) ExpectedFailureCodes() []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	codes := make([]int, 0, len(w.expected))
	for c := range w.expected {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	return codes
}

// CreateRequest calls the factory and replaces the held request with the
// new attempt. It returns ErrNoRequestFactory if no factory is set.
func (w *Wrapper) CreateRequest() error {
	req, err := w.newRequest()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.request = req
	w.mu.Unlock()
	return nil
}

// newRequest calls the factory without touching the held request.
func (w *Wrapper) newRequest() (Request, error) {
	w.mu.Lock()
	factory := w.factory
	w.mu.Unlock()

	if factory == nil {
		return nil, ErrNoRequestFactory
	}
	req := factory()
	if req == nil {
		return nil, ErrNoRequestFactory
	}
	return req, nil
}

// OnSuccess registers a listener for a successful outcome.
//
// If the wrapper already succeeded, fn is called immediately. If it already
// failed, fn is dropped.
func (w *Wrapper) OnSuccess(fn Listener) {
	w.subscribe(fn, true)
}

// OnFailure registers a listener for a final failure.
//
// If the wrapper already failed, fn is called immediately. If it already
// succeeded, fn is dropped.
func (w *Wrapper) OnFailure(fn Listener) {
	w.subscribe(fn, false)
}

func (w *Wrapper) subscribe(fn Listener, success bool) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	if w.done {
		fire := w.succeeded == success
		w.mu.Unlock()
		if fire {
			fn(w)
		}
		return
	}
	if success {
		w.onSuccess = append(w.onSuccess, fn)
	} else {
		w.onFailure = append(w.onFailure, fn)
	}
	w.mu.Unlock()
}

// Complete marks the wrapper as done and notifies exactly one listener list,
// chosen by the outcome recorded by the Scheduler. All listeners are cleared
// afterwards. Calling Complete again has no effect.
func (w *Wrapper) Complete() {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return
	}
	w.done = true
	if w.state != StateFailed && w.errorMessage == "" {
		w.succeeded = true
	}
	listeners := w.onFailure
	if w.succeeded {
		listeners = w.onSuccess
	}
	w.onSuccess = nil
	w.onFailure = nil
	close(w.doneCh)
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(w)
	}
}

// Done returns a channel that is closed by Complete.
//
// A cancelled wrapper never completes, so callers waiting on Done should
// also watch a context.
func (w *Wrapper) Done() <-chan struct{} {
	return w.doneCh
}

// Wait blocks until the wrapper completes or ctx ends. It returns ctx.Err()
// in the latter case.
func (w *Wrapper) Wait(ctx context.Context) error {
	select {
	case <-w.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ID returns the wrapper's unique key.
func (w *Wrapper) ID() string {
	return w.id
}

// Request returns the current attempt, or nil before the first CreateRequest.
func (w *Wrapper) Request() Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.request
}

// Attempts returns how many attempts have been started.
func (w *Wrapper) Attempts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attempts
}

// MaxAttempts returns the attempt ceiling.
func (w *Wrapper) MaxAttempts() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxAttempts
}

// RetryCooldown returns the time left before the wrapper may start again.
func (w *Wrapper) RetryCooldown() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.retryCooldown
}

// BypassQueue reports whether the wrapper ignores the concurrency cap.
func (w *Wrapper) BypassQueue() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bypassQueue
}

// ErrorMessage is empty unless the wrapper failed.
func (w *Wrapper) ErrorMessage() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errorMessage
}

// FailureCode is the code of the attempt that failed the wrapper.
func (w *Wrapper) FailureCode() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failureCode
}

// IsDone reports whether the final outcome has been delivered.
func (w *Wrapper) IsDone() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Succeeded reports whether the wrapper completed successfully.
func (w *Wrapper) Succeeded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done && w.succeeded
}

// State returns the wrapper's current position in its Scheduler.
func (w *Wrapper) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// The methods below are used by the Scheduler while it holds its own lock.

func (w *Wrapper) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// begin records a new attempt and returns the request to send.
func (w *Wrapper) begin() Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.attempts++
	w.state = StateActive
	return w.request
}

// canRetry reports whether a failure with code leaves the wrapper retryable.
func (w *Wrapper) canRetry(code int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.attempts >= w.maxAttempts {
		return false
	}
	_, expected := w.expected[code]
	return !expected
}

func (w *Wrapper) resetCooldown(d time.Duration) {
	w.mu.Lock()
	w.retryCooldown = d
	w.mu.Unlock()
}

// cool decrements the cooldown and reports whether it has elapsed.
func (w *Wrapper) cool(elapsed time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.retryCooldown <= 0 {
		return true
	}
	w.retryCooldown -= elapsed
	return false
}

// finish records the final outcome. Complete delivers it.
func (w *Wrapper) finish(ok bool, code int, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if ok {
		w.state = StateCompleted
		w.succeeded = true
		w.errorMessage = ""
		return
	}
	if message == "" {
		message = "request failed"
	}
	w.state = StateFailed
	w.succeeded = false
	w.failureCode = code
	w.errorMessage = message
}
