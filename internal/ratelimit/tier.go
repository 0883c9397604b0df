package ratelimit

import (
	"log"
	"sync"
	"time"

	"github.com/novaos/backend/internal/core"
)

// Escalation policy for the tier-global limiter: repeated violations block
// the user outright, critical abuse blocks longer.
const (
	ViolationThreshold = 5
	ViolationWindow    = 15 * time.Minute
	ViolationBlock     = 15 * time.Minute
	AbuseBlock         = 60 * time.Minute
)

// DefaultTierConfigs is the per-tier global request budget.
func DefaultTierConfigs() map[core.Tier]Config {
	return map[core.Tier]Config{
		core.TierFree:       {Limit: 30, Window: time.Minute},
		core.TierPro:        {Limit: 120, Window: time.Minute},
		core.TierEnterprise: {Limit: 600, Window: time.Minute},
	}
}

// TierDecision extends Decision with the block reason when a user is
// serving an escalation block.
type TierDecision struct {
	Decision
	Blocked      bool      `json:"blocked"`
	BlockedUntil time.Time `json:"blocked_until,omitempty"`
	Reason       string    `json:"reason,omitempty"`
}

// TierLimiter enforces the per-user global budget for a tier and the
// violation escalation policy.
type TierLimiter struct {
	mu          sync.Mutex
	configs     map[core.Tier]Config
	buckets     map[string]*bucket
	violations  map[string][]time.Time
	blocked     map[string]blockEntry
	now         func() time.Time
	logger      *log.Logger
	stopCleanup chan struct{}
}

type blockEntry struct {
	until  time.Time
	reason string
}

// NewTierLimiter creates the tier limiter. A nil configs map uses defaults.
func NewTierLimiter(configs map[core.Tier]Config, now func() time.Time) *TierLimiter {
	if configs == nil {
		configs = DefaultTierConfigs()
	}
	if now == nil {
		now = time.Now
	}

	tl := &TierLimiter{
		configs:     configs,
		buckets:     make(map[string]*bucket),
		violations:  make(map[string][]time.Time),
		blocked:     make(map[string]blockEntry),
		now:         now,
		logger:      log.New(log.Writer(), "[TIER-LIMIT] ", log.LstdFlags),
		stopCleanup: make(chan struct{}),
	}

	go tl.cleanupLoop()

	return tl
}

// Stop terminates the background evictor.
func (tl *TierLimiter) Stop() {
	close(tl.stopCleanup)
}

// Allow checks the caller's global budget. Denials count as violations;
// five violations inside the rolling window escalate to a block.
func (tl *TierLimiter) Allow(userID string, tier core.Tier) TierDecision {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	now := tl.now()

	if entry, ok := tl.blocked[userID]; ok {
		if now.Before(entry.until) {
			return TierDecision{
				Decision: Decision{Allowed: false, Scope: "tier", RetryAfterMs: entry.until.Sub(now).Milliseconds()},
				Blocked:  true, BlockedUntil: entry.until, Reason: entry.reason,
			}
		}
		delete(tl.blocked, userID)
	}

	cfg, ok := tl.configs[tier]
	if !ok {
		cfg = tl.configs[core.TierFree]
	}

	key := "tier:" + string(tier) + ":" + userID
	d := tl.acquireLocked(key, cfg, now)
	d.Scope = "tier"

	if !d.Allowed {
		tl.recordViolationLocked(userID, now)
	}

	return TierDecision{Decision: d}
}

// ConfigFor returns the budget a tier runs under.
func (tl *TierLimiter) ConfigFor(tier core.Tier) Config {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	cfg, ok := tl.configs[tier]
	if !ok {
		cfg = tl.configs[core.TierFree]
	}
	return cfg
}

// BlockForAbuse imposes the 60-minute critical-abuse block immediately.
func (tl *TierLimiter) BlockForAbuse(userID string) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	until := tl.now().Add(AbuseBlock)
	tl.blocked[userID] = blockEntry{until: until, reason: "critical_abuse_pattern"}
	tl.logger.Printf("⚠️ abuse block: user=%s until=%s", userID, until.Format(time.RFC3339))
}

// IsBlocked reports whether the user is currently serving a block.
func (tl *TierLimiter) IsBlocked(userID string) (bool, time.Time) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	entry, ok := tl.blocked[userID]
	if !ok || tl.now().After(entry.until) {
		return false, time.Time{}
	}
	return true, entry.until
}

func (tl *TierLimiter) recordViolationLocked(userID string, now time.Time) {
	cutoff := now.Add(-ViolationWindow)
	kept := tl.violations[userID][:0]
	for _, ts := range tl.violations[userID] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	tl.violations[userID] = kept

	if len(kept) >= ViolationThreshold {
		until := now.Add(ViolationBlock)
		tl.blocked[userID] = blockEntry{until: until, reason: "repeated_rate_violations"}
		delete(tl.violations, userID)
		tl.logger.Printf("🚫 escalation block: user=%s violations=%d until=%s",
			userID, len(kept), until.Format(time.RFC3339))
	}
}

// acquireLocked mirrors Limiter.acquireLocked; the tier limiter keeps its
// own buckets so admission never contends with provider fetches.
func (tl *TierLimiter) acquireLocked(key string, cfg Config, now time.Time) Decision {
	b, ok := tl.buckets[key]
	if !ok {
		b = &bucket{windowStart: now}
		tl.buckets[key] = b
	}

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
	return Decision{Allowed: true, Current: current + 1, Limit: cfg.Limit, ResetInMs: cfg.Window.Milliseconds()}
}

func (tl *TierLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tl.evictStale()
		case <-tl.stopCleanup:
			return
		}
	}
}

func (tl *TierLimiter) evictStale() {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	now := tl.now()
	for key, b := range tl.buckets {
		if len(b.timestamps) == 0 && now.Sub(b.windowStart) > 2*ViolationWindow {
			delete(tl.buckets, key)
		}
	}
	for user, entry := range tl.blocked {
		if now.After(entry.until) {
			delete(tl.blocked, user)
		}
	}
}
