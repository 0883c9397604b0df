package provider

import (
	"errors"
	"log"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state machine.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned by Allow while the circuit is open.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerConfig tunes one provider's breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// HalfOpenProbes is how many trial requests half-open admits.
	HalfOpenProbes int
}

// DefaultBreakerConfig opens after 3 consecutive failures with a 30s cooldown.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 3, Cooldown: 30 * time.Second, HalfOpenProbes: 1}
}

// Breaker is a per-provider circuit breaker. Transitions are atomic under
// the breaker's own lock; callers never hold it across a provider call.
type Breaker struct {
	mu           sync.Mutex
	cfg          BreakerConfig
	state        BreakerState
	consecFails  int
	probesInUse  int
	openedAt     time.Time
	now          func() time.Time
	logger       *log.Logger
	providerName string
}

// NewBreaker creates a breaker for one provider.
func NewBreaker(providerName string, cfg BreakerConfig, now func() time.Time) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultBreakerConfig()
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{
		cfg:          cfg,
		state:        BreakerClosed,
		now:          now,
		logger:       log.New(log.Writer(), "[BREAKER] ", log.LstdFlags),
		providerName: providerName,
	}
}

// Allow reports whether a request may proceed right now.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case BreakerOpen:
		return ErrBreakerOpen
	case BreakerHalfOpen:
		if b.probesInUse >= b.cfg.HalfOpenProbes {
			return ErrBreakerOpen
		}
		b.probesInUse++
	}
	return nil
}

// RecordSuccess closes the circuit after a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev := b.stateLocked()
	b.consecFails = 0
	b.probesInUse = 0
	if prev != BreakerClosed {
		b.logger.Printf("%s: %s -> closed", b.providerName, prev)
	}
	b.state = BreakerClosed
}

// RecordFailure counts a failure; at the threshold the circuit opens.
// A failed half-open probe re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.stateLocked()
	b.consecFails++
	b.probesInUse = 0

	if state == BreakerHalfOpen || b.consecFails >= b.cfg.FailureThreshold {
		if state != BreakerOpen {
			b.logger.Printf("⚠️ %s: %s -> open (consecutive failures=%d)",
				b.providerName, state, b.consecFails)
		}
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// State returns the current state, applying cooldown expiry.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// stateLocked transitions open → half_open once the cooldown elapses.
func (b *Breaker) stateLocked() BreakerState {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		b.state = BreakerHalfOpen
		b.probesInUse = 0
		b.logger.Printf("%s: open -> half_open", b.providerName)
	}
	return b.state
}

// BreakerSet manages one breaker per provider.
type BreakerSet struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
	now      func() time.Time
}

// NewBreakerSet creates the per-provider breaker collection.
func NewBreakerSet(cfg BreakerConfig, now func() time.Time) *BreakerSet {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultBreakerConfig()
	}
	return &BreakerSet{breakers: make(map[string]*Breaker), cfg: cfg, now: now}
}

// For returns the breaker for a provider, creating it on first use.
func (s *BreakerSet) For(provider string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[provider]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.breakers[provider]; ok {
		return b
	}
	b = NewBreaker(provider, s.cfg, s.now)
	s.breakers[provider] = b
	return b
}

// States snapshots every breaker's state for health reporting.
func (s *BreakerSet) States() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.breakers))
	for name, b := range s.breakers {
		out[name] = b.State().String()
	}
	return out
}
