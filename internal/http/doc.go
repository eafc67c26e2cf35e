// Package http provides the resty-based transport behind the download
// scheduler.
//
// The Client in this package handles:
//   - User-Agent and request id headers
//   - Timeout handling
//   - Single GET attempts that implement download.Request
//   - Progress tracking while the body streams in
//
// # Basic Usage
//
//	client := http.NewClient(http.Options{UserAgent: "bundle-fetcher"})
//
//	attempt := client.NewAttempt(ctx, url)
//	attempt.Send()
//	<-attempt.Finished()
//	if attempt.TransportError() == nil && attempt.StatusCode() == 200 {
//	    data := attempt.Body()
//	}
//
// # Progress Tracking
//
// Attempts report progress through Progress. The ProgressWriter type can
// also wrap any io.Writer:
//
//	pw := &http.ProgressWriter{
//	    Writer:   file,
//	    Total:    contentLength,
//	    OnUpdate: func(written, total int64) { /* update UI */ },
//	}
package http
