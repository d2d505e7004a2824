// Package ratelimit throttles API callers with a fixed per-minute
// request window, tracked per user in memory.
package ratelimit

import (
	"sync"
	"time"
)

// Result is one admission decision.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type window struct {
	start time.Time
	count int
}

// Limiter admits up to perMinute requests per caller per minute.
type Limiter struct {
	mu        sync.Mutex
	perMinute int
	windows   map[string]*window
	now       func() time.Time
}

// New builds a limiter. perMinute <= 0 disables limiting: every call is
// allowed.
func New(perMinute int) *Limiter {
	return &Limiter{
		perMinute: perMinute,
		windows:   make(map[string]*window),
		now:       time.Now,
	}
}

// Allow checks and records one request for the caller atomically.
func (l *Limiter) Allow(caller string) Result {
	if l == nil || l.perMinute <= 0 {
		return Result{Allowed: true, Remaining: -1}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[caller]
	if !ok || now.Sub(w.start) >= time.Minute {
		w = &window{start: now}
		l.windows[caller] = w
	}

	if w.count >= l.perMinute {
		return Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: time.Minute - now.Sub(w.start),
		}
	}

	w.count++
	return Result{Allowed: true, Remaining: l.perMinute - w.count}
}

// Prune drops windows idle for more than a minute. Call periodically on
// long-lived processes.
func (l *Limiter) Prune() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for caller, w := range l.windows {
		if now.Sub(w.start) >= time.Minute {
			delete(l.windows, caller)
		}
	}
}
