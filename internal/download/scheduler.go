package download

import (
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxParallelRequests is used when Options.MaxParallelRequests is not positive.
	DefaultMaxParallelRequests = 4

	// DefaultRetryCooldown is used when Options.RetryCooldown is not positive.
	DefaultRetryCooldown = time.Second
)

// Options configure a Scheduler.
type Options struct {
	// MaxParallelRequests caps how many queued wrappers may be active at
	// once. Wrappers submitted with SendRequest ignore the cap.
	MaxParallelRequests int

	// RetryCooldown is the delay a wrapper waits in the queue after a failed
	// attempt before it may start again.
	RetryCooldown time.Duration

	// Logger receives transition logs. Defaults to the standard logrus
	// logger with component=download.
	Logger *logrus.Entry

	// OnEvent, if set, receives every wrapper transition. It is called with
	// no scheduler lock held.
	OnEvent func(Event)
}

// Status is a point-in-time view of one wrapper.
type Status struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	Attempts     int    `json:"attempts"`
	MaxAttempts  int    `json:"max_attempts"`
	BypassQueue  bool   `json:"bypass_queue"`
	ErrorMessage string `json:"error_message,omitempty"`
	FailureCode  int    `json:"failure_code,omitempty"`
}

// Stats reports the size of each scheduler collection.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Total returns the number of tracked wrappers.
func (s Stats) Total() int {
	return s.Waiting + s.Active + s.Completed + s.Failed
}

// Finished returns the number of wrappers with a final outcome.
func (s Stats) Finished() int {
	return s.Completed + s.Failed
}

// Scheduler issues, retries and tracks wrappers under a concurrency cap.
//
// Scheduler is tick driven: it never blocks and never starts goroutines of
// its own. The host calls Tick with the elapsed time on every step of its
// loop (or uses a Runner). Each tick the Scheduler:
//
//  1. Moves every finished active wrapper to completed, failed, or back to
//     the front of the waiting queue for a retry.
//  2. Starts the head of the waiting queue if a slot is free and its
//     cooldown has elapsed, otherwise counts the head's cooldown down.
//
// All methods are safe for concurrent use. Listeners and OnEvent run after
// the internal lock is released, so they may call back into the Scheduler.
// Request factories run while the lock is held and must not.
//
// Example:
//
//	s := download.NewScheduler(download.Options{MaxParallelRequests: 2})
//	defer s.Shutdown()
//
//	if err := s.QueueRequest(download.NewWrapper("manifest", factory)); err != nil {
//	    return err
//	}
//	for range time.Tick(50 * time.Millisecond) {
//	    s.Tick(50 * time.Millisecond)
//	}
type Scheduler struct {
	mu sync.Mutex

	maxParallel   int
	retryCooldown time.Duration
	log           *logrus.Entry
	onEvent       func(Event)

	waiting   []*Wrapper
	active    []*Wrapper
	completed []*Wrapper
	failed    []*Wrapper
	lookup    map[string]*Wrapper
	closed    bool

	// delivered by unlock once the mutex is released
	events   []Event
	finished []*Wrapper
}

// NewScheduler creates a Scheduler. Zero option values use the defaults.
func NewScheduler(opts Options) *Scheduler {
	if opts.MaxParallelRequests <= 0 {
		opts.MaxParallelRequests = DefaultMaxParallelRequests
	}
	if opts.RetryCooldown <= 0 {
		opts.RetryCooldown = DefaultRetryCooldown
	}
	if opts.Logger == nil {
		opts.Logger = logrus.WithField("component", "download")
	}
	return &Scheduler{
		maxParallel:   opts.MaxParallelRequests,
		retryCooldown: opts.RetryCooldown,
		log:           opts.Logger,
		onEvent:       opts.OnEvent,
		lookup:        make(map[string]*Wrapper),
	}
}

// QueueRequest adds w to the end of the waiting queue.
//
// The wrapper's factory is called once to create the first attempt. A
// missing factory is a configuration error: it is logged, ErrNoRequestFactory
// is returned and nothing is queued. A live wrapper already registered
// under the same id is cancelled silently and replaced by w.
//
// QueueRequest does not start the attempt; the next Tick with a free slot does.
func (s *Scheduler) QueueRequest(w *Wrapper) error {
	return s.submit(w, false)
}

// SendRequest registers w with the bypass flag set and starts its first
// attempt immediately, regardless of the concurrency cap.
func (s *Scheduler) SendRequest(w *Wrapper) error {
	return s.submit(w, true)
}

func (s *Scheduler) submit(w *Wrapper, bypass bool) error {
	if w == nil {
		return errors.Wrap(ErrNoRequestFactory, "nil wrapper")
	}
	if w.IsDone() {
		return ErrWrapperDone
	}

	// The attempt is created before anything is cancelled, so a submission
	// that fails leaves the scheduler untouched.
	req, err := w.newRequest()
	if err != nil {
		s.log.WithField("id", w.id).WithError(err).Error("Cannot submit request")
		return err
	}

	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	if old, ok := s.lookup[w.id]; ok {
		if old != w {
			s.log.WithField("id", w.id).Debug("Replacing request with the same id")
		}
		// Aborts the attempt still held by a resubmitted wrapper.
		s.cancelLocked(old, false)
	}

	w.mu.Lock()
	w.request = req
	w.attempts = 0
	w.retryCooldown = 0
	if bypass {
		w.bypassQueue = true
	}
	w.mu.Unlock()
	s.lookup[w.id] = w

	s.emit(Event{Kind: EventQueued, ID: w.id})
	if bypass {
		s.start(w)
		return nil
	}
	w.setState(StateWaiting)
	s.waiting = append(s.waiting, w)
	s.log.WithFields(logrus.Fields{"id": w.id, "waiting": len(s.waiting)}).Debug("Request queued")
	return nil
}

// Tick advances the scheduler by one step. elapsed is the time since the
// previous Tick and is used to count down the head wrapper's cooldown.
func (s *Scheduler) Tick(elapsed time.Duration) {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return
	}

	for _, w := range slices.Clone(s.active) {
		req := w.Request()
		if req == nil || !req.Done() {
			continue
		}
		removeWrapper(&s.active, w)
		s.endRequest(w, req)
	}

	if len(s.active) >= s.maxParallel || len(s.waiting) == 0 {
		return
	}
	head := s.waiting[0]
	if !head.cool(elapsed) {
		return
	}
	s.waiting = s.waiting[1:]
	s.start(head)
}

// start moves w to the active set and sends its current attempt.
func (s *Scheduler) start(w *Wrapper) {
	req := w.begin()
	s.active = append(s.active, w)
	attempt := w.Attempts()
	s.emit(Event{Kind: EventStarted, ID: w.id, Attempt: attempt})
	s.log.WithFields(logrus.Fields{
		"id":      w.id,
		"attempt": attempt,
		"active":  len(s.active),
	}).Debug("Request started")
	req.Send()
}

// endRequest classifies the finished attempt of w and moves it on.
func (s *Scheduler) endRequest(w *Wrapper, req Request) {
	out := classify(req)
	entry := s.log.WithFields(logrus.Fields{"id": w.id, "attempt": w.Attempts(), "code": out.code})

	if out.ok {
		w.finish(true, out.code, "")
		s.completed = append(s.completed, w)
		s.finished = append(s.finished, w)
		s.emit(Event{Kind: EventCompleted, ID: w.id, Attempt: w.Attempts(), Code: out.code})
		entry.Debug("Request completed")
		return
	}

	if w.canRetry(out.code) {
		w.resetCooldown(s.retryCooldown)
		if err := w.CreateRequest(); err != nil {
			out.message = errors.Wrap(err, "recreate request").Error()
		} else {
			s.emit(Event{Kind: EventRetrying, ID: w.id, Attempt: w.Attempts(), Code: out.code, Message: out.message})
			entry.WithField("error", out.message).Warn("Request attempt failed, retrying")
			if w.BypassQueue() {
				s.start(w)
				return
			}
			w.setState(StateWaiting)
			s.waiting = slices.Insert(s.waiting, 0, w)
			return
		}
	}

	w.finish(false, out.code, out.message)
	s.failed = append(s.failed, w)
	s.finished = append(s.finished, w)
	s.emit(Event{Kind: EventFailed, ID: w.id, Attempt: w.Attempts(), Code: out.code, Message: out.message})
	entry.WithField("error", out.message).Error("Request failed")
}

// CancelRequest removes the wrapper registered under id from every
// collection and aborts its in-flight attempt. No listener is notified.
// It reports whether anything was cancelled, so a second call returns false.
func (s *Scheduler) CancelRequest(id string) bool {
	s.mu.Lock()
	defer s.unlock()
	w, ok := s.lookup[id]
	if !ok {
		return false
	}
	s.cancelLocked(w, true)
	return true
}

// CancelWrapper is CancelRequest for a wrapper reference. It returns false
// if w is not the wrapper currently registered under its id.
func (s *Scheduler) CancelWrapper(w *Wrapper) bool {
	if w == nil {
		return false
	}
	s.mu.Lock()
	defer s.unlock()
	if s.lookup[w.id] != w {
		return false
	}
	s.cancelLocked(w, true)
	return true
}

func (s *Scheduler) cancelLocked(w *Wrapper, announce bool) {
	if s.lookup[w.id] == w {
		delete(s.lookup, w.id)
	}
	wasActive := removeWrapper(&s.active, w)
	removeWrapper(&s.waiting, w)
	removeWrapper(&s.completed, w)
	removeWrapper(&s.failed, w)

	if wasActive {
		if req := w.Request(); req != nil {
			req.Abort()
		}
	}
	if !w.IsDone() {
		w.setState(StateCancelled)
	}
	if announce {
		s.emit(Event{Kind: EventCancelled, ID: w.id, Attempt: w.Attempts()})
		s.log.WithField("id", w.id).Debug("Request cancelled")
	}
}

// RequestWrapper returns the wrapper registered under id.
func (s *Scheduler) RequestWrapper(id string) (*Wrapper, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.lookup[id]
	return w, ok
}

// ClearFinished forgets every completed and failed wrapper and returns how
// many were dropped.
func (s *Scheduler) ClearFinished() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, list := range [][]*Wrapper{s.completed, s.failed} {
		for _, w := range list {
			if s.lookup[w.id] == w {
				delete(s.lookup, w.id)
			}
			n++
		}
	}
	s.completed = nil
	s.failed = nil
	return n
}

// Stats returns the current collection sizes.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Waiting:   len(s.waiting),
		Active:    len(s.active),
		Completed: len(s.completed),
		Failed:    len(s.failed),
	}
}

// Snapshot returns one Status per tracked wrapper: waiting in start order,
// then active, completed and failed.
func (s *Scheduler) Snapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.lookup))
	for _, list := range [][]*Wrapper{s.waiting, s.active, s.completed, s.failed} {
		for _, w := range list {
			out = append(out, w.Status())
		}
	}
	return out
}

// Shutdown cancels every tracked wrapper, aborting in-flight attempts, and
// rejects further submissions. No listener is notified. It is safe to call
// more than once.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, list := range [][]*Wrapper{s.waiting, s.active, s.completed, s.failed} {
		for _, w := range slices.Clone(list) {
			s.cancelLocked(w, !w.IsDone())
		}
	}
	s.log.Debug("Scheduler shut down")
}

// emit buffers an event for delivery after unlock.
func (s *Scheduler) emit(ev Event) {
	if s.onEvent != nil {
		s.events = append(s.events, ev)
	}
}

// unlock releases the mutex, then delivers buffered events and completes
// wrappers that reached a final outcome while it was held.
func (s *Scheduler) unlock() {
	events := s.events
	finished := s.finished
	s.events = nil
	s.finished = nil
	s.mu.Unlock()

	for _, ev := range events {
		s.onEvent(ev)
	}
	for _, w := range finished {
		w.Complete()
	}
}

// Status returns a point-in-time view of w.
func (w *Wrapper) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		ID:           w.id,
		State:        w.state.String(),
		Attempts:     w.attempts,
		MaxAttempts:  w.maxAttempts,
		BypassQueue:  w.bypassQueue,
		ErrorMessage: w.errorMessage,
		FailureCode:  w.failureCode,
	}
}

// removeWrapper deletes w from list, keeping order, and reports whether it was present.
func removeWrapper(list *[]*Wrapper, w *Wrapper) bool {
	i := slices.Index(*list, w)
	if i < 0 {
		return false
	}
	*list = slices.Delete(*list, i, i+1)
	return true
}
