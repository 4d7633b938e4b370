// Package cache holds the bounded, expiring caches used by the workers.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Cache is the key/value surface shared by the caches in this package.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	Size() int
}

// Cleaner is implemented by caches that can drop expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Sweeper drops expired entries from a set of caches on a fixed interval,
// so an idle worker does not keep dead event ids in memory.
type Sweeper struct {
	interval time.Duration
	caches   []Cleaner

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(interval time.Duration, caches ...Cleaner) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{interval: interval, caches: caches}
}

// Start launches the sweep loop. It stops when ctx is done or Stop is
// called. Starting a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := s.SweepOnce(); removed > 0 {
				slog.DebugContext(ctx, "Cache sweep completed", "removed", removed)
			}
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce cleans every cache immediately and returns the entries removed.
func (s *Sweeper) SweepOnce() int {
	removed := 0
	for _, c := range s.caches {
		removed += c.CleanExpired()
	}
	return removed
}

// Stop ends the sweep loop and waits for it. Safe to call more than once,
// or without Start.
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
