package store

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is the in-process backend used for development and tests.
// It honours TTLs lazily on read and sweeps expired keys in the background.
type MemoryStore struct {
	mu          sync.RWMutex
	values      map[string]memEntry
	counters    map[string]int64
	zsets       map[string]map[string]float64
	stopCleanup chan struct{}
}

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero = no expiry
}

// NewMemoryStore creates an in-memory store with a background sweeper.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		values:      make(map[string]memEntry),
		counters:    make(map[string]int64),
		zsets:       make(map[string]map[string]float64),
		stopCleanup: make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Stop terminates the background sweeper.
func (s *MemoryStore) Stop() {
	close(s.stopCleanup)
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, e := range s.values {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(s.values, key)
		}
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	e, ok := s.values[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.values, key)
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	// Copy so callers cannot mutate stored bytes.
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)

	e := memEntry{value: stored}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	s.values[key] = e
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	delete(s.counters, key)
	delete(s.zsets, key)
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Counters seeded by Set are parsed as integers, matching Redis INCR.
	if e, ok := s.values[key]; ok {
		if n, err := strconv.ParseInt(string(e.value), 10, 64); err == nil {
			s.counters[key] = n
			delete(s.values, key)
		}
	}

	s.counters[key]++
	return s.counters[key], nil
}

func (s *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	zs, ok := s.zsets[key]
	if !ok {
		zs = make(map[string]float64)
		s.zsets[key] = zs
	}
	zs[member] = score
	return nil
}

func (s *MemoryStore) ZRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	return s.zrange(key, start, stop, false)
}

func (s *MemoryStore) ZRevRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	return s.zrange(key, start, stop, true)
}

func (s *MemoryStore) ZRangeByScore(_ context.Context, key string, min, max float64) ([]string, error) {
	return s.zrangeByScore(key, min, max, false)
}

func (s *MemoryStore) ZRevRangeByScore(_ context.Context, key string, max, min float64) ([]string, error) {
	return s.zrangeByScore(key, min, max, true)
}

func (s *MemoryStore) ZRem(_ context.Context, key string, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if zs, ok := s.zsets[key]; ok {
		delete(zs, member)
		if len(zs) == 0 {
			delete(s.zsets, key)
		}
	}
	return nil
}

func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.zsets[key])), nil
}

type scoredMember struct {
	member string
	score  float64
}

// sortedMembers returns the set ordered by (score, member), Redis semantics.
func (s *MemoryStore) sortedMembers(key string) []scoredMember {
	s.mu.RLock()
	defer s.mu.RUnlock()

	zs := s.zsets[key]
	out := make([]scoredMember, 0, len(zs))
	for m, sc := range zs {
		out = append(out, scoredMember{member: m, score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score < out[j].score
		}
		return out[i].member < out[j].member
	})
	return out
}

func (s *MemoryStore) zrange(key string, start, stop int64, reverse bool) ([]string, error) {
	members := s.sortedMembers(key)
	if reverse {
		for i, j := 0, len(members)-1; i < j; i, j = i+1, j-1 {
			members[i], members[j] = members[j], members[i]
		}
	}

	n := int64(len(members))
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return []string{}, nil
	}

	out := make([]string, 0, stop-start+1)
	for _, sm := range members[start : stop+1] {
		out = append(out, sm.member)
	}
	return out, nil
}

func (s *MemoryStore) zrangeByScore(key string, min, max float64, reverse bool) ([]string, error) {
	members := s.sortedMembers(key)

	out := make([]string, 0, len(members))
	for _, sm := range members {
		if sm.score < min || sm.score > max {
			continue
		}
		out = append(out, sm.member)
	}
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

// Unbounded is a helper score for open-ended range queries.
var (
	ScoreMin = math.Inf(-1)
	ScoreMax = math.Inf(1)
)
