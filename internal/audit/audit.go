// Package audit is the append-only, hash-chained audit log. Every entry
// carries the hash of its predecessor; tampering with any stored entry is
// detectable by re-walking the chain.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/novaos/backend/internal/store"
)

// Storage keys.
const (
	entryKeyPrefix   = "audit:entry:"
	lastEntryKey     = "audit:last_entry_id"
	seqKey           = "audit:seq"
	globalIndexKey   = "audit:index:global"
	userIndexPrefix  = "audit:index:user:"
	catIndexPrefix   = "audit:index:category:"
	integrityFailMsg = "Entry hash verification failed"
	linkageFailMsg   = "Chain linkage broken"
)

// Entry is one audit record. EntryHash covers every other field,
// previousHash included, via RFC 8785 canonical JSON.
type Entry struct {
	ID           string         `json:"id"`
	Timestamp    int64          `json:"timestamp"` // unix milliseconds
	Category     string         `json:"category"`
	Action       string         `json:"action"`
	Severity     string         `json:"severity"`
	UserID       string         `json:"userId,omitempty"`
	TargetUserID string         `json:"targetUserId,omitempty"`
	EntityType   string         `json:"entityType,omitempty"`
	EntityID     string         `json:"entityId,omitempty"`
	Description  string         `json:"description"`
	Details      map[string]any `json:"details,omitempty"`
	Success      bool           `json:"success"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	PreviousHash string         `json:"previousHash,omitempty"`
	EntryHash    string         `json:"entryHash,omitempty"`
}

// computeHash canonicalizes the entry without its own hash and digests it.
func computeHash(e Entry) (string, error) {
	e.EntryHash = ""
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("audit: marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize entry: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Log is the chained audit store. Appends are serialized; reads are
// lock-free against the underlying store.
type Log struct {
	store  store.Store
	now    func() time.Time
	mu     sync.Mutex
	lastTs int64
}

// NewLog creates the audit log over a typed KV store.
func NewLog(st store.Store, now func() time.Time) *Log {
	if now == nil {
		now = time.Now
	}
	return &Log{store: st, now: now}
}

// Append writes one entry at the head of the chain and indexes it.
// The caller's ID, Timestamp, PreviousHash, and EntryHash are overwritten.
func (l *Log) Append(ctx context.Context, e Entry) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.ID = uuid.NewString()
	// Strictly increasing timestamps keep index order equal to chain order.
	ts := l.now().UnixMilli()
	if ts <= l.lastTs {
		ts = l.lastTs + 1
	}
	l.lastTs = ts
	e.Timestamp = ts

	e.PreviousHash = ""
	if lastID, err := l.store.Get(ctx, lastEntryKey); err == nil {
		prev, err := l.Get(ctx, string(lastID))
		if err != nil {
			return Entry{}, fmt.Errorf("audit: load chain head: %w", err)
		}
		e.PreviousHash = prev.EntryHash
	} else if !isNotFound(err) {
		return Entry{}, err
	}

	hash, err := computeHash(e)
	if err != nil {
		return Entry{}, err
	}
	e.EntryHash = hash

	raw, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: marshal entry: %w", err)
	}
	if err := l.store.Set(ctx, entryKeyPrefix+e.ID, raw, 0); err != nil {
		return Entry{}, err
	}
	if err := l.store.Set(ctx, lastEntryKey, []byte(e.ID), 0); err != nil {
		return Entry{}, err
	}

	score := float64(e.Timestamp)
	if err := l.store.ZAdd(ctx, globalIndexKey, score, e.ID); err != nil {
		return Entry{}, err
	}
	if e.UserID != "" {
		if err := l.store.ZAdd(ctx, userIndexPrefix+e.UserID, score, e.ID); err != nil {
			return Entry{}, err
		}
	}
	if err := l.store.ZAdd(ctx, catIndexPrefix+e.Category, score, e.ID); err != nil {
		return Entry{}, err
	}
	if _, err := l.store.Incr(ctx, seqKey); err != nil {
		return Entry{}, err
	}

	return e, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// Get loads one entry by id.
func (l *Log) Get(ctx context.Context, id string) (Entry, error) {
	raw, err := l.store.Get(ctx, entryKeyPrefix+id)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, fmt.Errorf("audit: corrupt entry %s: %w", id, err)
	}
	return e, nil
}

// Sequence returns the monotonic append counter.
func (l *Log) Sequence(ctx context.Context) (int64, error) {
	raw, err := l.store.Get(ctx, seqKey)
	if err != nil {
		if isNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	var n int64
	_, scanErr := fmt.Sscanf(string(raw), "%d", &n)
	return n, scanErr
}

// ============================================================================
// INTEGRITY
// ============================================================================

// VerifyResult reports a chain walk.
type VerifyResult struct {
	Valid          bool   `json:"valid"`
	EntriesChecked int    `json:"entriesChecked"`
	BrokenAtID     string `json:"brokenAtId,omitempty"`
	Error          string `json:"error,omitempty"`
}

// VerifyOptions bounds the walk.
type VerifyOptions struct {
	// FromID starts the walk at a specific entry instead of the root.
	FromID string
	// Limit caps checked entries; zero checks everything.
	Limit int
}

// VerifyIntegrity walks the chain in timestamp order, recomputing every
// hash and checking every previousHash link.
func (l *Log) VerifyIntegrity(ctx context.Context, opts VerifyOptions) (VerifyResult, error) {
	ids, err := l.store.ZRange(ctx, globalIndexKey, 0, -1)
	if err != nil {
		return VerifyResult{}, err
	}

	start := 0
	if opts.FromID != "" {
		for i, id := range ids {
			if id == opts.FromID {
				start = i
				break
			}
		}
	}

	res := VerifyResult{Valid: true}
	prevHash := ""
	for i := start; i < len(ids); i++ {
		if opts.Limit > 0 && res.EntriesChecked >= opts.Limit {
			break
		}
		e, err := l.Get(ctx, ids[i])
		if err != nil {
			return VerifyResult{}, err
		}
		res.EntriesChecked++

		want, err := computeHash(e)
		if err != nil {
			return VerifyResult{}, err
		}
		if want != e.EntryHash {
			res.Valid = false
			res.BrokenAtID = e.ID
			res.Error = integrityFailMsg
			return res, nil
		}
		// The first checked entry has no in-scope predecessor.
		if i > start && e.PreviousHash != prevHash {
			res.Valid = false
			res.BrokenAtID = e.ID
			res.Error = linkageFailMsg
			return res, nil
		}
		prevHash = e.EntryHash
	}
	return res, nil
}

// ============================================================================
// RETENTION & ERASURE
// ============================================================================

// DeleteForRetention removes entries older than the cutoff. Surviving
// entries keep their previousHash values; the resulting historical gap is
// reported truthfully by VerifyIntegrity as a linkage break.
func (l *Log) DeleteForRetention(ctx context.Context, before time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := float64(before.UnixMilli())
	ids, err := l.store.ZRangeByScore(ctx, globalIndexKey, store.ScoreMin, cutoff)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		e, err := l.Get(ctx, id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return deleted, err
		}
		if err := l.removeEntry(ctx, e); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// EraseUser removes every entry scoped to a user, for GDPR erasure.
func (l *Log) EraseUser(ctx context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids, err := l.store.ZRange(ctx, userIndexPrefix+userID, 0, -1)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		e, err := l.Get(ctx, id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return deleted, err
		}
		if err := l.removeEntry(ctx, e); err != nil {
			return deleted, err
		}
		deleted++
	}
	if err := l.store.Delete(ctx, userIndexPrefix+userID); err != nil {
		return deleted, err
	}
	return deleted, nil
}

func (l *Log) removeEntry(ctx context.Context, e Entry) error {
	if err := l.store.Delete(ctx, entryKeyPrefix+e.ID); err != nil {
		return err
	}
	if err := l.store.ZRem(ctx, globalIndexKey, e.ID); err != nil {
		return err
	}
	if err := l.store.ZRem(ctx, catIndexPrefix+e.Category, e.ID); err != nil {
		return err
	}
	if e.UserID != "" {
		if err := l.store.ZRem(ctx, userIndexPrefix+e.UserID, e.ID); err != nil {
			return err
		}
	}
	return nil
}
