package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietClient(timeout time.Duration) *Client {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewClient(Options{Timeout: timeout, UserAgent: "test-agent", Logger: logrus.NewEntry(l)})
}

func waitFinished(t *testing.T, a *Attempt) {
	t.Helper()
	select {
	case <-a.Finished():
	case <-time.After(5 * time.Second):
		t.Fatal("attempt did not finish")
	}
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Options{})
	assert.Equal(t, DefaultUserAgent, c.UserAgent())
}

func TestAttempt_Success(t *testing.T) {
	payload := bytes.Repeat([]byte("bundle"), 1000)
	var gotUA, gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotID = r.Header.Get(RequestIDHeader)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(payload)
	}))
	defer srv.Close()

	a := quietClient(time.Second).NewAttempt(context.Background(), srv.URL+"/Android/ui")
	assert.False(t, a.Done())
	a.Send()
	a.Send()
	waitFinished(t, a)

	require.True(t, a.Done())
	assert.NoError(t, a.TransportError())
	assert.Equal(t, http.StatusOK, a.StatusCode())
	assert.Equal(t, payload, a.Body())
	assert.Equal(t, "application/octet-stream", a.Header().Get("Content-Type"))
	assert.Equal(t, "test-agent", gotUA)
	assert.Equal(t, a.ID(), gotID)
	assert.Equal(t, srv.URL+"/Android/ui", a.URL())

	written, total := a.Progress()
	assert.Equal(t, int64(len(payload)), written)
	assert.Equal(t, int64(len(payload)), total)
}

func TestAttempt_StatusIsNotTransportError(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "not found", status: http.StatusNotFound},
		{name: "server error", status: http.StatusInternalServerError},
		{name: "no content", status: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			a := quietClient(time.Second).NewAttempt(context.Background(), srv.URL)
			a.Send()
			waitFinished(t, a)

			assert.NoError(t, a.TransportError())
			assert.Equal(t, tt.status, a.StatusCode())
		})
	}
}

func TestAttempt_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	a := quietClient(time.Second).NewAttempt(context.Background(), url)
	a.Send()
	waitFinished(t, a)

	assert.Error(t, a.TransportError())
	assert.Equal(t, 0, a.StatusCode())
	assert.Nil(t, a.Body())
}

func TestAttempt_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	a := quietClient(50 * time.Millisecond).NewAttempt(context.Background(), srv.URL)
	a.Send()
	waitFinished(t, a)

	assert.Error(t, a.TransportError())
}

func TestAttempt_Abort(t *testing.T) {
	t.Run("before send", func(t *testing.T) {
		a := quietClient(time.Second).NewAttempt(context.Background(), "http://127.0.0.1:1")
		a.Abort()

		assert.True(t, a.Done())
		assert.ErrorIs(t, a.TransportError(), ErrAborted)
	})

	t.Run("in flight", func(t *testing.T) {
		started := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			close(started)
			<-r.Context().Done()
		}))
		defer srv.Close()

		a := quietClient(5 * time.Second).NewAttempt(context.Background(), srv.URL)
		a.Send()
		<-started
		a.Abort()

		assert.True(t, a.Done())
		assert.ErrorIs(t, a.TransportError(), ErrAborted)
		assert.Equal(t, 0, a.StatusCode())
	})
}

func TestAttempt_OnComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	var calls atomic.Int32
	a := quietClient(time.Second).NewAttempt(context.Background(), srv.URL)
	a.OnComplete(func(got *Attempt) {
		assert.Same(t, a, got)
		calls.Add(1)
	})
	a.Send()
	waitFinished(t, a)

	assert.Equal(t, int32(1), calls.Load())

	a.OnComplete(func(*Attempt) { calls.Add(1) })
	assert.Equal(t, int32(2), calls.Load())
}

func TestProgressWriter(t *testing.T) {
	var buf bytes.Buffer
	var updates [][2]int64
	pw := &ProgressWriter{
		Writer: &buf,
		Total:  10,
		OnUpdate: func(written, total int64) {
			updates = append(updates, [2]int64{written, total})
		},
	}

	pw.Write([]byte("hello"))
	pw.Write([]byte("world"))

	assert.Equal(t, "helloworld", buf.String())
	assert.Equal(t, int64(10), pw.Written)
	assert.Equal(t, [][2]int64{{5, 10}, {10, 10}}, updates)
}
