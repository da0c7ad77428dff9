package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window per-source-address request limiter. State
// is process-local and lost on restart, which re-establishes empty
// buckets: fail-open by construction.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	max     int
	window  time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

func New(max int, window, sweepInterval time.Duration) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		max:     max,
		window:  window,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	go l.sweepLoop(sweepInterval)

	return l
}

// Allow records a request from addr and reports whether it is within
// the window ceiling, along with the remaining allowance.
func (l *Limiter) Allow(addr string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	b, ok := l.buckets[addr]
	if !ok || now.After(b.resetAt) {
		l.buckets[addr] = &bucket{count: 1, resetAt: now.Add(l.window)}
		return true, l.max - 1
	}

	if b.count >= l.max {
		return false, 0
	}

	b.count++
	return true, l.max - b.count
}

func (l *Limiter) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep()
		case <-l.stop:
			return
		}
	}
}

// sweep drops buckets whose window has elapsed, bounding memory.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for addr, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, addr)
		}
	}
}

func (l *Limiter) Close() {
	l.once.Do(func() { close(l.stop) })
}
