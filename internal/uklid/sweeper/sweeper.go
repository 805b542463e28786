// Package sweeper closes cleaning sessions that outlived their TTL.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/uklid/internal/uklid/metrics"
)

// DefaultInterval is used when New is given a non-positive interval.
const DefaultInterval = time.Minute

// Closer closes expired sessions and reports how many it closed.
type Closer interface {
	AutoCloseExpiredSessions(ctx context.Context) (int, error)
}

// Sweeper runs Closer on a periodic timer.
type Sweeper struct {
	closer   Closer
	interval time.Duration
	logger   *slog.Logger

	stopMu sync.Mutex
	stopCh chan struct{}
}

// New creates a Sweeper. If interval is zero it defaults to one minute.
func New(closer Closer, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		closer:   closer,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Run sweeps every interval until ctx is cancelled or Stop is called. Call
// this in a goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper: starting", "interval", s.interval.String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Warn("sweeper: sweep failed", "err", err)
			}
		}
	}
}

// SweepOnce runs a single sweep and returns the number of sessions closed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := s.closer.AutoCloseExpiredSessions(ctx)
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("sweeper: closed expired sessions", "count", n)
	}
	return n, nil
}

// Stop signals Run to return. Safe to call multiple times.
func (s *Sweeper) Stop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	select {
	case <-s.stopCh:
		// Already closed.
	default:
		close(s.stopCh)
	}
}
