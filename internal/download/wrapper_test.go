package download

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapper_Defaults(t *testing.T) {
	w := NewWrapper("a", nil)

	assert.Equal(t, "a", w.ID())
	assert.Equal(t, 1, w.MaxAttempts())
	assert.Equal(t, 0, w.Attempts())
	assert.False(t, w.BypassQueue())
	assert.False(t, w.IsDone())
	assert.Equal(t, StateNew, w.State())
	assert.Nil(t, w.Request())
}

func TestWrapper_CreateRequest(t *testing.T) {
	t.Run("missing factory", func(t *testing.T) {
		w := NewWrapper("a", nil)
		err := w.CreateRequest()
		assert.ErrorIs(t, err, ErrNoRequestFactory)
		assert.Nil(t, w.Request())
	})

	t.Run("replaces request", func(t *testing.T) {
		ff := newFactory(false)
		w := NewWrapper("a", ff.New)

		require.NoError(t, w.CreateRequest())
		first := w.Request()
		require.NoError(t, w.CreateRequest())

		assert.NotSame(t, first, w.Request())
		assert.Equal(t, 2, ff.calls())
	})
}

func TestWrapper_SetMaxAttempts(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{name: "positive", in: 3, want: 3},
		{name: "zero clamps to one", in: 0, want: 1},
		{name: "negative clamps to one", in: -2, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWrapper("a", nil).SetMaxAttempts(tt.in)
			assert.Equal(t, tt.want, w.MaxAttempts())
		})
	}
}

func TestWrapper_ExpectsFailureCode(t *testing.T) {
	w := NewWrapper("a", nil).ExpectFailureCodes(404, 410)

	assert.True(t, w.ExpectsFailureCode(404))
	assert.True(t, w.ExpectsFailureCode(410))
	assert.False(t, w.ExpectsFailureCode(500))
	assert.Equal(t, []int{404, 410}, w.ExpectedFailureCodes())
}

func TestWrapper_CompleteFiresOnce(t *testing.T) {
	w := NewWrapper("a", nil)
	var c counter
	c.attach(w)

	w.Complete()
	w.Complete()

	success, failure := c.counts()
	assert.Equal(t, 1, success)
	assert.Equal(t, 0, failure)
	assert.True(t, w.IsDone())
	assert.True(t, w.Succeeded())

	select {
	case <-w.Done():
	default:
		t.Fatal("Done channel should be closed after Complete")
	}
}

func TestWrapper_CompleteFailure(t *testing.T) {
	w := NewWrapper("a", nil)
	var c counter
	c.attach(w)

	w.finish(false, 500, "HTTP 500: Internal Server Error")
	w.Complete()

	success, failure := c.counts()
	assert.Equal(t, 0, success)
	assert.Equal(t, 1, failure)
	assert.Equal(t, []string{"HTTP 500: Internal Server Error"}, c.messages)
	assert.Equal(t, 500, w.FailureCode())
	assert.False(t, w.Succeeded())
}

func TestWrapper_LateSubscriber(t *testing.T) {
	tests := []struct {
		name        string
		succeed     bool
		wantSuccess int
		wantFailure int
	}{
		{name: "after success", succeed: true, wantSuccess: 1, wantFailure: 0},
		{name: "after failure", succeed: false, wantSuccess: 0, wantFailure: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWrapper("a", nil)
			if !tt.succeed {
				w.finish(false, 404, "HTTP 404: Not Found")
			}
			w.Complete()

			var c counter
			c.attach(w)

			success, failure := c.counts()
			assert.Equal(t, tt.wantSuccess, success)
			assert.Equal(t, tt.wantFailure, failure)
		})
	}
}

func TestWrapper_Wait(t *testing.T) {
	w := NewWrapper("a", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Wait(ctx), context.DeadlineExceeded)

	go w.Complete()
	require.NoError(t, w.Wait(context.Background()))
}
