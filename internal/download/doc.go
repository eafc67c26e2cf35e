// Package download provides the managed request scheduler that issues,
// retries and tracks download-style operations.
//
// # Wrappers and attempts
//
// A Wrapper is one logical request. Each try is a Request produced by the
// wrapper's RequestFactory:
//
//	w := download.NewWrapper("bundle:characters", func() download.Request {
//	    return client.NewAttempt(ctx, url)
//	}).SetMaxAttempts(3).ExpectFailureCodes(404)
//
// # Scheduler
//
// The Scheduler owns four ordered collections (waiting, active, completed,
// failed) and an id lookup. It starts waiting wrappers in FIFO order while
// fewer than MaxParallelRequests are active:
//
//	s := download.NewScheduler(download.Options{
//	    MaxParallelRequests: 4,
//	    RetryCooldown:       time.Second,
//	})
//	err := s.QueueRequest(w) // waits for a free slot
//	err = s.SendRequest(w)   // starts now, ignoring the cap
//	s.CancelRequest(w.ID())  // removes it, no notification
//
// # Retry Logic
//
// A failed attempt is retried while attempts remain and its code was not
// registered as expected. The wrapper goes back to the front of the waiting
// queue with its cooldown reset, so retries start before new work. Transport
// errors and non-2xx statuses both count as failures.
//
// # Notifications
//
// Every wrapper reports exactly one outcome. Listeners registered with
// OnSuccess or OnFailure are called once; Done and Wait offer the same
// signal as a channel:
//
//	if err := w.Wait(ctx); err == nil && w.Succeeded() {
//	    body, _ := bundle.Payload(w)
//	}
//
// # Ticking
//
// The Scheduler never blocks. Call Tick from the host loop, or run a Runner:
//
//	go download.NewRunner(s, 50*time.Millisecond).Run(ctx)
package download
