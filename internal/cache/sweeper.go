package cache

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// DefaultSweepInterval is how often expired entries are swept.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper periodically calls ClearExpired on a set of tiers. It runs a
// single goroutine, so a sweep never overlaps the previous one.
type Sweeper struct {
	clock    clock.Clock
	interval time.Duration
	tiers    []Tier

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(clk clock.Clock, interval time.Duration, tiers ...Tier) *Sweeper {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		clock:    clk,
		interval: interval,
		tiers:    tiers,
	}
}

// Start launches the sweep loop. It is a no-op if already running.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	ticker := s.clock.Ticker(s.interval)
	go s.loop(ctx, ticker, s.done)

	logrus.Debugf("Cache sweeper started (every %s)", s.interval)
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Sweep runs one pass immediately on the calling goroutine.
func (s *Sweeper) Sweep() {
	for _, t := range s.tiers {
		t.ClearExpired()
	}
}

func (s *Sweeper) loop(ctx context.Context, ticker *clock.Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Debugf("Cache sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
