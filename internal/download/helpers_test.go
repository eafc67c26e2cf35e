package download

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// transportFailure as a scripted status makes the attempt fail with a transport error.
const transportFailure = -1

var errAborted = errors.New("aborted")

type fakeRequest struct {
	mu      sync.Mutex
	status  int
	err     error
	instant bool
	sent    bool
	done    bool
	aborted bool
}

func (f *fakeRequest) Send() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = true
	if f.instant {
		f.done = true
	}
}

func (f *fakeRequest) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (f *fakeRequest) TransportError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeRequest) StatusCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeRequest) Abort() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = true
	f.done = true
	f.err = errAborted
}

// finish completes a manual request with status.
func (f *fakeRequest) finish(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.done = true
	f.status = status
}

func (f *fakeRequest) wasSent() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

func (f *fakeRequest) wasAborted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted
}

// fakeFactory hands out one fakeRequest per call. Attempt n gets codes[n],
// and the last code repeats. Instant requests finish as soon as they are sent.
type fakeFactory struct {
	mu      sync.Mutex
	codes   []int
	instant bool
	made    []*fakeRequest
}

func newFactory(instant bool, codes ...int) *fakeFactory {
	if len(codes) == 0 {
		codes = []int{200}
	}
	return &fakeFactory{codes: codes, instant: instant}
}

func (ff *fakeFactory) New() Request {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	code := ff.codes[min(len(ff.made), len(ff.codes)-1)]
	req := &fakeRequest{instant: ff.instant}
	if ff.instant {
		if code == transportFailure {
			req.err = errors.New("connection refused")
		} else {
			req.status = code
		}
	}
	ff.made = append(ff.made, req)
	return req
}

func (ff *fakeFactory) calls() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.made)
}

func (ff *fakeFactory) last() *fakeRequest {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.made) == 0 {
		return nil
	}
	return ff.made[len(ff.made)-1]
}

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestScheduler(maxParallel int) *Scheduler {
	return NewScheduler(Options{
		MaxParallelRequests: maxParallel,
		RetryCooldown:       time.Nanosecond,
		Logger:              quietLogger(),
	})
}

// counter records listener calls.
type counter struct {
	mu       sync.Mutex
	success  int
	failure  int
	messages []string
}

func (c *counter) attach(w *Wrapper) {
	w.OnSuccess(func(*Wrapper) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.success++
	})
	w.OnFailure(func(w *Wrapper) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.failure++
		c.messages = append(c.messages, w.ErrorMessage())
	})
}

func (c *counter) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.success, c.failure
}

// tickUntilDone ticks s one second at a time until every wrapper is done or
// max ticks have passed. It returns the number of ticks used.
func tickUntilDone(s *Scheduler, max int, ws ...*Wrapper) int {
	for i := 1; i <= max; i++ {
		s.Tick(time.Second)
		all := true
		for _, w := range ws {
			if !w.IsDone() {
				all = false
				break
			}
		}
		if all {
			return i
		}
	}
	return max
}

func ids(list []*Wrapper) []string {
	out := make([]string, len(list))
	for i, w := range list {
		out[i] = w.ID()
	}
	return out
}
