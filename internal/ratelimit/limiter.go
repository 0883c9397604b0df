// Package ratelimit implements atomic sliding-window rate limiting with
// three layered scopes: per-provider, per-user-per-provider, and the
// per-tier global budget enforced at admission (tier.go).
package ratelimit

import (
	"log"
	"sync"
	"time"
)

// Config is one scope's budget.
type Config struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of a tryAcquire.
type Decision struct {
	Allowed      bool   `json:"allowed"`
	Current      int    `json:"current"`
	Limit        int    `json:"limit"`
	ResetInMs    int64  `json:"reset_in_ms"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

type bucket struct {
	timestamps  []time.Time
	windowStart time.Time
}

// Limiter enforces sliding-window limits. All decisions happen under one
// write lock so the layered provider → user check is atomic; a denied
// user-scope check rolls back the provider-scope timestamp it just took.
type Limiter struct {
	mu          sync.Mutex
	buckets     map[string]*bucket
	providerCfg map[string]Config
	defaults    Config
	userScope   Config
	now         func() time.Time
	logger      *log.Logger
	stopCleanup chan struct{}
}

// LimiterOptions configures a Limiter.
type LimiterOptions struct {
	// Defaults applies to providers without an explicit config.
	Defaults Config
	// PerProvider overrides per provider name.
	PerProvider map[string]Config
	// UserScope is the per-user-per-provider budget.
	UserScope Config
	// Now overrides the clock (tests).
	Now func() time.Time
}

// NewLimiter creates a limiter with a background bucket evictor.
func NewLimiter(opts LimiterOptions) *Limiter {
	if opts.Defaults.Limit == 0 {
		opts.Defaults = Config{Limit: 60, Window: time.Minute}
	}
	if opts.UserScope.Limit == 0 {
		opts.UserScope = Config{Limit: 20, Window: time.Minute}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	l := &Limiter{
		buckets:     make(map[string]*bucket),
		providerCfg: opts.PerProvider,
		defaults:    opts.Defaults,
		userScope:   opts.UserScope,
		now:         opts.Now,
		logger:      log.New(log.Writer(), "[RATE-LIMIT] ", log.LstdFlags),
		stopCleanup: make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// Stop terminates the background evictor.
func (l *Limiter) Stop() {
	close(l.stopCleanup)
}

// TryAcquire performs the layered acquire: provider scope first, then the
// user-provider scope. If the user scope denies, the provider slot taken a
// moment earlier is released so the combined decision is all-or-nothing.
func (l *Limiter) TryAcquire(provider, userID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	provKey := "provider:" + provider
	provCfg := l.configFor(provider)

	d := l.acquireLocked(provKey, provCfg, now)
	d.Scope = "provider"
	if !d.Allowed {
		l.logger.Printf("🚫 provider limit hit: provider=%s current=%d limit=%d", provider, d.Current, d.Limit)
		return d
	}

	if userID == "" {
		return d
	}

	userKey := "user:" + userID + ":" + provider
	ud := l.acquireLocked(userKey, l.userScope, now)
	ud.Scope = "user_provider"
	if !ud.Allowed {
		// Rollback: the provider slot must not be consumed by a denied call.
		l.releaseLastLocked(provKey, now)
		l.logger.Printf("🚫 user-provider limit hit: provider=%s current=%d limit=%d", provider, ud.Current, ud.Limit)
		return ud
	}

	return d
}

// Release undoes the most recent acquire for a cancelled fetch that never
// reached the provider.
func (l *Limiter) Release(provider, userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.releaseLastLocked("provider:"+provider, now)
	if userID != "" {
		l.releaseLastLocked("user:"+userID+":"+provider, now)
	}
}

// acquireLocked is the single-scope sliding-window step: purge, check, append.
func (l *Limiter) acquireLocked(key string, cfg Config, now time.Time) Decision {
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{windowStart: now}
		l.buckets[key] = b
	}

	// Purge timestamps older than the window.
	cutoff := now.Add(-cfg.Window)
	kept := b.timestamps[:0]
	for _, ts := range b.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.timestamps = kept
	if len(b.timestamps) == 0 {
		b.windowStart = now
	}

	current := len(b.timestamps)
	if current >= cfg.Limit {
		oldest := b.timestamps[0]
		retryAfter := oldest.Add(cfg.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{
			Allowed:      false,
			Current:      current,
			Limit:        cfg.Limit,
			ResetInMs:    retryAfter.Milliseconds(),
			RetryAfterMs: retryAfter.Milliseconds(),
		}
	}

	b.timestamps = append(b.timestamps, now)
	return Decision{
		Allowed:   true,
		Current:   current + 1,
		Limit:     cfg.Limit,
		ResetInMs: cfg.Window.Milliseconds(),
	}
}

// releaseLastLocked removes the newest timestamp from a bucket.
func (l *Limiter) releaseLastLocked(key string, now time.Time) {
	b, ok := l.buckets[key]
	if !ok || len(b.timestamps) == 0 {
		return
	}
	b.timestamps = b.timestamps[:len(b.timestamps)-1]
	if len(b.timestamps) == 0 {
		b.windowStart = now
	}
}

func (l *Limiter) configFor(provider string) Config {
	if cfg, ok := l.providerCfg[provider]; ok {
		return cfg
	}
	return l.defaults
}

// cleanupLoop evicts buckets idle for more than twice their window.
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.evictStale()
		case <-l.stopCleanup:
			return
		}
	}
}

func (l *Limiter) evictStale() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	maxWindow := l.defaults.Window
	for _, cfg := range l.providerCfg {
		if cfg.Window > maxWindow {
			maxWindow = cfg.Window
		}
	}
	if l.userScope.Window > maxWindow {
		maxWindow = l.userScope.Window
	}

	evicted := 0
	for key, b := range l.buckets {
		if len(b.timestamps) == 0 && now.Sub(b.windowStart) > 2*maxWindow {
			delete(l.buckets, key)
			evicted++
		}
	}
	if evicted > 0 {
		l.logger.Printf("evicted %d stale buckets", evicted)
	}
}

// Stats returns current limiter statistics.
func (l *Limiter) Stats() map[string]any {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]any{
		"active_buckets": len(l.buckets),
		"default_limit":  l.defaults.Limit,
		"default_window": l.defaults.Window.String(),
	}
}
