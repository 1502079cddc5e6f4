package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

var _ Backend = (*Layered)(nil)

const (
	DefaultTimeout       = 50 * time.Millisecond
	DefaultRetryInterval = 5 * time.Second
)

// Layered prefers the remote backend and falls back to memory while the
// remote is unreachable. It never returns an error: remote failures turn
// into fallback, memory failures into misses.
//
// During an outage the remote is probed at most once per retry interval.
// The degraded-mode warning is logged once per outage.
type Layered struct {
	remote        Backend
	memory        Backend
	timeout       time.Duration
	retryInterval time.Duration
	now           func() time.Time

	// onStateChange observes transitions into (true) and out of (false)
	// degraded mode.
	onStateChange func(degraded bool)

	mu       sync.Mutex
	degraded bool
	retryAt  time.Time
}

// LayeredOption configures a Layered cache.
type LayeredOption func(*Layered)

// WithTimeout bounds every remote call.
func WithTimeout(d time.Duration) LayeredOption {
	return func(l *Layered) {
		l.timeout = d
	}
}

// WithRetryInterval sets how often an unreachable remote is probed.
func WithRetryInterval(d time.Duration) LayeredOption {
	return func(l *Layered) {
		l.retryInterval = d
	}
}

// WithStateHook registers fn to observe degraded-mode transitions.
func WithStateHook(fn func(degraded bool)) LayeredOption {
	return func(l *Layered) {
		l.onStateChange = fn
	}
}

// NewLayered combines remote and memory. A nil remote means memory only.
func NewLayered(remote, memory Backend, opts ...LayeredOption) *Layered {
	l := &Layered{
		remote:        remote,
		memory:        memory,
		timeout:       DefaultTimeout,
		retryInterval: DefaultRetryInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Degraded reports whether the memory fallback is currently in use.
func (l *Layered) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

func (l *Layered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if l.useRemote() {
		rctx, cancel := context.WithTimeout(ctx, l.timeout)
		value, ok, err := l.remote.Get(rctx, key)
		cancel()
		if err == nil {
			l.markHealthy()
			return value, ok, nil
		}
		l.markDegraded(err)
	}

	value, ok, err := l.memory.Get(ctx, key)
	if err != nil {
		return nil, false, nil
	}
	return value, ok, nil
}

func (l *Layered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if l.useRemote() {
		rctx, cancel := context.WithTimeout(ctx, l.timeout)
		err := l.remote.Set(rctx, key, value, ttl)
		cancel()
		if err == nil {
			l.markHealthy()
			return nil
		}
		l.markDegraded(err)
	}

	if err := l.memory.Set(ctx, key, value, ttl); err != nil {
		slog.Debug("Memory cache set failed", "key", key, "error", err)
	}
	return nil
}

// Delete removes key from both layers so that a recovered remote and the
// fallback never disagree about an invalidated entry.
func (l *Layered) Delete(ctx context.Context, key string) error {
	_ = l.memory.Delete(ctx, key)
	if l.useRemote() {
		rctx, cancel := context.WithTimeout(ctx, l.timeout)
		err := l.remote.Delete(rctx, key)
		cancel()
		if err != nil {
			l.markDegraded(err)
		} else {
			l.markHealthy()
		}
	}
	return nil
}

func (l *Layered) useRemote() bool {
	if l.remote == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.degraded || !l.now().Before(l.retryAt)
}

func (l *Layered) markDegraded(err error) {
	l.mu.Lock()
	l.retryAt = l.now().Add(l.retryInterval)
	if l.degraded {
		l.mu.Unlock()
		return
	}
	l.degraded = true
	l.mu.Unlock()

	slog.Warn("Remote cache unavailable, using in-memory fallback", "error", err)
	if l.onStateChange != nil {
		l.onStateChange(true)
	}
}

func (l *Layered) markHealthy() {
	l.mu.Lock()
	if !l.degraded {
		l.mu.Unlock()
		return
	}
	l.degraded = false
	l.mu.Unlock()

	slog.Info("Remote cache recovered")
	if l.onStateChange != nil {
		l.onStateChange(false)
	}
}
