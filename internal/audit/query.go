package audit

import (
	"context"
	"log"
	"strings"

	"github.com/novaos/backend/internal/lens"
	"github.com/novaos/backend/internal/store"
)

// QueryOptions filters and pages an entry listing. UserID and Category,
// when set, select a narrower index before post-filtering.
type QueryOptions struct {
	UserID      string
	Category    string
	Action      string
	Severity    string
	EntityType  string
	EntityID    string
	FromTs      int64 // unix ms, inclusive; zero means unbounded
	ToTs        int64 // unix ms, inclusive; zero means unbounded
	SuccessOnly bool
	FailedOnly  bool
	SearchText  string
	Limit       int
	Offset      int
	// SortOrder is "asc" or "desc"; desc is the default.
	SortOrder string
}

const defaultQueryLimit = 50

// Query lists entries newest-first (or oldest-first with SortOrder "asc").
// It returns the page plus the total match count before paging.
func (l *Log) Query(ctx context.Context, opts QueryOptions) ([]Entry, int, error) {
	index := globalIndexKey
	switch {
	case opts.UserID != "":
		index = userIndexPrefix + opts.UserID
	case opts.Category != "":
		index = catIndexPrefix + opts.Category
	}

	min, max := ScoreMinBound(opts.FromTs), ScoreMaxBound(opts.ToTs)
	var (
		ids []string
		err error
	)
	if opts.SortOrder == "asc" {
		ids, err = l.store.ZRangeByScore(ctx, index, min, max)
	} else {
		ids, err = l.store.ZRevRangeByScore(ctx, index, max, min)
	}
	if err != nil {
		return nil, 0, err
	}

	var matched []Entry
	for _, id := range ids {
		e, err := l.Get(ctx, id)
		if err != nil {
			if isNotFound(err) {
				continue // index member outlived its entry
			}
			return nil, 0, err
		}
		if matchesQuery(e, opts) {
			matched = append(matched, e)
		}
	}

	total := len(matched)
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	start := opts.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func matchesQuery(e Entry, opts QueryOptions) bool {
	if opts.UserID != "" && opts.Category != "" && e.Category != opts.Category {
		return false
	}
	if opts.Action != "" && e.Action != opts.Action {
		return false
	}
	if opts.Severity != "" && e.Severity != opts.Severity {
		return false
	}
	if opts.EntityType != "" && e.EntityType != opts.EntityType {
		return false
	}
	if opts.EntityID != "" && e.EntityID != opts.EntityID {
		return false
	}
	if opts.SuccessOnly && !e.Success {
		return false
	}
	if opts.FailedOnly && e.Success {
		return false
	}
	if opts.SearchText != "" {
		needle := strings.ToLower(opts.SearchText)
		if !strings.Contains(strings.ToLower(e.Description), needle) &&
			!strings.Contains(strings.ToLower(e.Action), needle) &&
			!strings.Contains(strings.ToLower(e.ErrorMessage), needle) {
			return false
		}
	}
	return true
}

// ScoreMinBound maps a from-timestamp to a sorted-set score bound.
func ScoreMinBound(fromTs int64) float64 {
	if fromTs == 0 {
		return store.ScoreMin
	}
	return float64(fromTs)
}

// ScoreMaxBound maps a to-timestamp to a sorted-set score bound.
func ScoreMaxBound(toTs int64) float64 {
	if toTs == 0 {
		return store.ScoreMax
	}
	return float64(toTs)
}

// ============================================================================
// GATE SINK
// ============================================================================

// Recorder adapts the chained log to the gate's fire-and-forget audit
// sink. Append failures are logged, never surfaced to the turn.
type Recorder struct {
	log    *Log
	logger *log.Logger
}

// NewRecorder wraps a Log for use as a lens.Auditor.
func NewRecorder(l *Log) *Recorder {
	return &Recorder{
		log:    l,
		logger: log.New(log.Writer(), "[AUDIT] ", log.LstdFlags),
	}
}

// Record appends one gate event to the chain.
func (r *Recorder) Record(ctx context.Context, e lens.AuditEvent) {
	_, err := r.log.Append(ctx, Entry{
		Category:    e.Category,
		Action:      e.Action,
		Severity:    e.Severity,
		UserID:      e.UserID,
		Description: e.Description,
		Details:     e.Details,
		Success:     e.Success,
	})
	if err != nil {
		r.logger.Printf("⚠️ append failed for %s: %v", e.Action, err)
	}
}
