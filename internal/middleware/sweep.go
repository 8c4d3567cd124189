package middleware

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultSweepEvery = 100
	sweepTimeout      = 30 * time.Second
)

// ExpiredSweeper deletes expired sessions.
type ExpiredSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Sweeper triggers the expired-session sweep every Nth request and,
// optionally, on a timer. At most one sweep runs at a time.
type Sweeper struct {
	sessions ExpiredSweeper
	every    uint64

	requests atomic.Uint64
	running  atomic.Bool
}

// NewSweeper returns a Sweeper running every n requests. n <= 0 selects
// DefaultSweepEvery.
func NewSweeper(sessions ExpiredSweeper, n int) *Sweeper {
	if n <= 0 {
		n = DefaultSweepEvery
	}
	return &Sweeper{sessions: sessions, every: uint64(n)}
}

// Middleware counts requests and sweeps inline before serving every Nth one.
func (s *Sweeper) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.requests.Add(1)%s.every == 0 {
			s.Sweep(context.WithoutCancel(r.Context()))
		}
		next.ServeHTTP(w, r)
	})
}

// Sweep runs one sweep unless another is in progress. Failures are logged
// and otherwise ignored. It reports whether a sweep ran.
func (s *Sweeper) Sweep(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	n, err := s.sessions.SweepExpired(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("expired session sweep failed")
		return true
	}
	if n > 0 {
		log.Debug().Int64("deleted", n).Msg("swept expired sessions")
	}
	return true
}

// Run sweeps on every tick of interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
