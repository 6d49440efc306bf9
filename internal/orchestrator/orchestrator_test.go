package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Amund211/tickerlight/internal/domain"
	"github.com/Amund211/tickerlight/internal/orchestrator"
	"github.com/stretchr/testify/require"
)

func constant(value any) orchestrator.Producer {
	return func(ctx context.Context) (any, error) {
		return value, nil
	}
}

func failing(err error) orchestrator.Producer {
	return func(ctx context.Context) (any, error) {
		return nil, err
	}
}

// blocking returns a producer that waits for release (or cancellation) before returning value
func blocking(started chan<- struct{}, release <-chan struct{}, value any) orchestrator.Producer {
	return func(ctx context.Context) (any, error) {
		if started != nil {
			started <- struct{}{}
		}
		select {
		case <-release:
			return value, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

type statusRecorder struct {
	mu       sync.Mutex
	byItem   map[string][]domain.FetchStatus
	lastSeen map[string]domain.FetchStatus
	runs     []uint64
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{
		byItem:   map[string][]domain.FetchStatus{},
		lastSeen: map[string]domain.FetchStatus{},
	}
}

func (r *statusRecorder) listen(snapshot orchestrator.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.runs) == 0 || r.runs[len(r.runs)-1] != snapshot.Generation {
		r.runs = append(r.runs, snapshot.Generation)
		r.lastSeen = map[string]domain.FetchStatus{}
	}

	for name, item := range snapshot.Items {
		last, seen := r.lastSeen[name]
		if seen && last == item.Status {
			continue
		}
		r.lastSeen[name] = item.Status
		r.byItem[name] = append(r.byItem[name], item.Status)
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	t.Run("partial failure tolerance", func(t *testing.T) {
		t.Parallel()

		o := orchestrator.New()
		result, err := o.Run(
			t.Context(),
			"AAPL",
			map[string]orchestrator.Producer{
				"profile": constant(map[string]any{"companyName": "Apple Inc."}),
				"quote":   constant(map[string]any{"price": 189.5}),
			},
			map[string]orchestrator.Producer{
				"news":   constant([]string{"headline"}),
				"peers":  constant([]string{"MSFT", "GOOGL"}),
				"ratios": failing(fmt.Errorf("%w: status 503", domain.ErrServer)),
			},
			map[string]any{
				"ratios": []any{},
			},
		)
		require.NoError(t, err)
		require.Len(t, result.Items, 5)
		require.Equal(t, "AAPL", result.SubjectKey)

		for _, name := range []string{"profile", "quote", "news", "peers"} {
			require.Equal(t, domain.FetchStatusSuccess, result.Items[name].Status, name)
			require.Nil(t, result.Items[name].Error, name)
		}
		require.True(t, result.Items["profile"].Required)
		require.False(t, result.Items["news"].Required)

		ratios := result.Items["ratios"]
		require.Equal(t, domain.FetchStatusError, ratios.Status)
		require.Equal(t, []any{}, ratios.Value)
		require.NotNil(t, ratios.Error)
		require.ErrorIs(t, ratios.Error, domain.ErrOptionalDataUnavailable)
		require.ErrorIs(t, ratios.Error, domain.ErrServer)
		require.Equal(t, "server", ratios.Error.Kind)

		require.Len(t, result.Errors(), 1)

		peers, ok := orchestrator.Value[[]string](result, "peers")
		require.True(t, ok)
		require.Equal(t, []string{"MSFT", "GOOGL"}, peers)

		_, ok = orchestrator.Value[int](result, "peers")
		require.False(t, ok)
		_, ok = orchestrator.Value[string](result, "missing")
		require.False(t, ok)

		snapshot := o.Snapshot()
		require.Equal(t, result.Generation, snapshot.Generation)
		require.True(t, snapshot.Settled())
		require.Equal(t, domain.FetchStatusError, snapshot.Items["ratios"].Status)
	})

	t.Run("required failure aborts", func(t *testing.T) {
		t.Parallel()

		var optionalCalls atomic.Int64
		countingOptional := func(ctx context.Context) (any, error) {
			optionalCalls.Add(1)
			return "value", nil
		}

		o := orchestrator.New()
		_, err := o.Run(
			t.Context(),
			"AAPL",
			map[string]orchestrator.Producer{
				"profile": constant("profile"),
				"quote":   failing(fmt.Errorf("%w: connection reset", domain.ErrNetwork)),
			},
			map[string]orchestrator.Producer{
				"news":  countingOptional,
				"peers": countingOptional,
			},
			nil,
		)
		require.ErrorIs(t, err, domain.ErrCoreDataUnavailable)
		require.ErrorIs(t, err, domain.ErrNetwork)
		require.EqualValues(t, 0, optionalCalls.Load())

		snapshot := o.Snapshot()
		require.Equal(t, domain.FetchStatusError, snapshot.Items["quote"].Status)
		require.Equal(t, domain.FetchStatusPending, snapshot.Items["news"].Status)
		require.False(t, snapshot.Settled())
	})

	t.Run("empty results", func(t *testing.T) {
		t.Parallel()

		o := orchestrator.New()
		result, err := o.Run(
			t.Context(),
			"TINY",
			map[string]orchestrator.Producer{
				"profile": constant([]any{}),
			},
			map[string]orchestrator.Producer{
				"transcripts": constant([]string{}),
				"filings":     constant(nil),
			},
			map[string]any{
				"transcripts": []string{"unavailable"},
			},
		)
		require.NoError(t, err)

		require.Equal(t, domain.FetchStatusEmpty, result.Items["profile"].Status)
		require.Equal(t, domain.FetchStatusEmpty, result.Items["transcripts"].Status)
		require.Equal(t, []string{"unavailable"}, result.Items["transcripts"].Value)
		require.Nil(t, result.Items["transcripts"].Error)
		require.Equal(t, domain.FetchStatusEmpty, result.Items["filings"].Status)
		require.Nil(t, result.Items["filings"].Value)
	})

	t.Run("no items", func(t *testing.T) {
		t.Parallel()

		o := orchestrator.New()
		result, err := o.Run(t.Context(), "AAPL", nil, nil, nil)
		require.NoError(t, err)
		require.Empty(t, result.Items)
	})

	t.Run("items run concurrently", func(t *testing.T) {
		t.Parallel()

		const delay = 100 * time.Millisecond
		sleeping := func(ctx context.Context) (any, error) {
			time.Sleep(delay)
			return "value", nil
		}

		optional := map[string]orchestrator.Producer{}
		for i := range 5 {
			optional[fmt.Sprintf("item%d", i)] = sleeping
		}

		o := orchestrator.New()
		start := time.Now()
		_, err := o.Run(t.Context(), "AAPL", map[string]orchestrator.Producer{"profile": sleeping}, optional, nil)
		require.NoError(t, err)

		// One required phase plus one optional phase, not six sequential calls
		require.Less(t, time.Since(start), 4*delay)
	})

	t.Run("status transitions are monotonic", func(t *testing.T) {
		t.Parallel()

		o := orchestrator.New()
		recorder := newStatusRecorder()
		unsubscribe := o.Subscribe(recorder.listen)
		defer unsubscribe()

		_, err := o.Run(
			t.Context(),
			"AAPL",
			map[string]orchestrator.Producer{
				"profile": constant("profile"),
				"quote":   constant("quote"),
			},
			map[string]orchestrator.Producer{
				"news":  constant([]string{}),
				"peers": failing(domain.ErrClient),
				"dcf":   constant(123.4),
			},
			nil,
		)
		require.NoError(t, err)

		recorder.mu.Lock()
		defer recorder.mu.Unlock()

		expected := map[string]domain.FetchStatus{
			"profile": domain.FetchStatusSuccess,
			"quote":   domain.FetchStatusSuccess,
			"news":    domain.FetchStatusEmpty,
			"peers":   domain.FetchStatusError,
			"dcf":     domain.FetchStatusSuccess,
		}
		for name, terminal := range expected {
			require.Equal(t, []domain.FetchStatus{
				domain.FetchStatusPending,
				domain.FetchStatusLoading,
				terminal,
			}, recorder.byItem[name], name)
		}
	})

	t.Run("unsubscribed listeners are not called", func(t *testing.T) {
		t.Parallel()

		o := orchestrator.New()
		var calls atomic.Int64
		unsubscribe := o.Subscribe(func(orchestrator.Snapshot) { calls.Add(1) })
		unsubscribe()

		_, err := o.Run(t.Context(), "AAPL", map[string]orchestrator.Producer{"profile": constant("p")}, nil, nil)
		require.NoError(t, err)
		require.EqualValues(t, 0, calls.Load())
	})
}

func TestRunSupersession(t *testing.T) {
	t.Parallel()

	t.Run("superseded run is cancelled and never commits", func(t *testing.T) {
		t.Parallel()

		o := orchestrator.New()

		started := make(chan struct{}, 1)
		neverReleased := make(chan struct{})

		firstDone := make(chan error, 1)
		go func() {
			_, err := o.Run(
				context.Background(),
				"AAPL",
				map[string]orchestrator.Producer{
					"profile": blocking(started, neverReleased, "AAPL profile"),
				},
				map[string]orchestrator.Producer{
					"news": constant("AAPL news"),
				},
				nil,
			)
			firstDone <- err
		}()
		<-started

		result, err := o.Run(
			t.Context(),
			"MSFT",
			map[string]orchestrator.Producer{
				"profile": constant("MSFT profile"),
			},
			map[string]orchestrator.Producer{
				"news": constant("MSFT news"),
			},
			nil,
		)
		require.NoError(t, err)
		require.Equal(t, "MSFT", result.SubjectKey)

		select {
		case err := <-firstDone:
			require.ErrorIs(t, err, domain.ErrRunSuperseded)
		case <-time.After(5 * time.Second):
			t.Fatal("superseded run was not cancelled")
		}

		snapshot := o.Snapshot()
		require.Equal(t, "MSFT", snapshot.SubjectKey)
		require.Equal(t, result.Generation, snapshot.Generation)
		require.Equal(t, "MSFT profile", snapshot.Items["profile"].Value)
		require.Equal(t, "MSFT news", snapshot.Items["news"].Value)
	})

	t.Run("late results from a superseded run are dropped", func(t *testing.T) {
		t.Parallel()

		o := orchestrator.New(orchestrator.WithCancelSuperseded(false))
		recorder := newStatusRecorder()
		o.Subscribe(recorder.listen)

		started := make(chan struct{}, 1)
		release := make(chan struct{})

		firstDone := make(chan error, 1)
		go func() {
			_, err := o.Run(
				context.Background(),
				"AAPL",
				map[string]orchestrator.Producer{
					"profile": blocking(started, release, "AAPL profile"),
				},
				map[string]orchestrator.Producer{
					"news": constant("AAPL news"),
				},
				nil,
			)
			firstDone <- err
		}()
		<-started

		second, err := o.Run(
			t.Context(),
			"MSFT",
			map[string]orchestrator.Producer{
				"profile": constant("MSFT profile"),
			},
			nil,
			nil,
		)
		require.NoError(t, err)

		before := o.Snapshot()

		// The first run finishes after the second one committed everything
		close(release)
		require.ErrorIs(t, <-firstDone, domain.ErrRunSuperseded)

		after := o.Snapshot()
		require.Equal(t, before, after)
		require.Equal(t, second.Generation, after.Generation)
		require.Equal(t, "MSFT profile", after.Items["profile"].Value)
		require.NotContains(t, after.Items, "news")

		recorder.mu.Lock()
		defer recorder.mu.Unlock()
		require.Equal(t, []uint64{second.Generation - 1, second.Generation}, recorder.runs)
	})

	t.Run("caller cancellation", func(t *testing.T) {
		t.Parallel()

		o := orchestrator.New()

		ctx, cancel := context.WithCancel(t.Context())
		started := make(chan struct{}, 1)
		done := make(chan error, 1)
		go func() {
			_, err := o.Run(
				ctx,
				"AAPL",
				map[string]orchestrator.Producer{"profile": blocking(started, nil, "profile")},
				nil,
				nil,
			)
			done <- err
		}()
		<-started
		cancel()

		err := <-done
		require.ErrorIs(t, err, domain.ErrCoreDataUnavailable)
		require.ErrorIs(t, err, context.Canceled)
		require.False(t, errors.Is(err, domain.ErrRunSuperseded))
	})
}
