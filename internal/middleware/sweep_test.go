package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls   atomic.Int64
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (s *countingSweeper) SweepExpired(ctx context.Context) (int64, error) {
	s.calls.Add(1)
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}
	return 3, s.err
}

func TestSweeper_EveryNthRequest(t *testing.T) {
	sessions := &countingSweeper{}
	sw := NewSweeper(sessions, 10)

	called := false
	h := sw.Middleware(okHandler(&called))

	for i := 0; i < 35; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	require.True(t, called)
	require.Equal(t, int64(3), sessions.calls.Load())
}

func TestSweeper_DefaultEvery(t *testing.T) {
	sw := NewSweeper(&countingSweeper{}, 0)
	require.Equal(t, uint64(DefaultSweepEvery), sw.every)
}

func TestSweeper_ErrorsDoNotSurface(t *testing.T) {
	sessions := &countingSweeper{err: errors.New("db down")}
	sw := NewSweeper(sessions, 1)

	called := false
	rec := httptest.NewRecorder()
	sw.Middleware(okHandler(&called)).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/recipes", nil))

	require.True(t, called)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(1), sessions.calls.Load())
}

func TestSweeper_OneAtATime(t *testing.T) {
	sessions := &countingSweeper{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	sw := NewSweeper(sessions, 1)

	var wg sync.WaitGroup
	var first bool
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = sw.Sweep(context.Background())
	}()

	<-sessions.entered
	require.False(t, sw.Sweep(context.Background()))

	close(sessions.block)
	wg.Wait()
	require.True(t, first)
	require.Equal(t, int64(1), sessions.calls.Load())
}

func TestSweeper_Run(t *testing.T) {
	sessions := &countingSweeper{}
	sw := NewSweeper(sessions, 100)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return sessions.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	<-done
}
