package risk

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// BaselineStore persists per-user baselines. GetBaseline returns nil and no
// error for a user without one.
type BaselineStore interface {
	GetBaseline(ctx context.Context, username string) (*UserBaseline, error)
	SaveBaseline(ctx context.Context, username string, baseline UserBaseline) error
	// RecordLogin stores the last successful login, creating a default
	// baseline for users without one.
	RecordLogin(ctx context.Context, username, ip, geo string, at time.Time) error
}

// RulesStore persists the active SecurityRules. GetRules returns nil and no
// error when no rule set has been stored.
type RulesStore interface {
	GetRules(ctx context.Context) (*SecurityRules, error)
	SaveRules(ctx context.Context, rules SecurityRules) error
}

// AttemptLog is an append-only record of evaluated logins
type AttemptLog interface {
	Append(ctx context.Context, attempt LoginAttempt) error
	// Recent returns up to limit attempts, newest first. An empty username
	// matches every user.
	Recent(ctx context.Context, username string, limit int) ([]LoginAttempt, error)
}

func baselineKey(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func applyLogin(b *UserBaseline, ip, geo string, at time.Time) {
	at = at.UTC()
	b.LastLoginIP = ip
	b.LastLoginGeo = geo
	b.LastLoginTime = &at
}

// MemoryBaselineStore keeps baselines in process memory
type MemoryBaselineStore struct {
	mu        sync.RWMutex
	baselines map[string]UserBaseline
}

// NewMemoryBaselineStore creates an empty store
func NewMemoryBaselineStore() *MemoryBaselineStore {
	return &MemoryBaselineStore{baselines: make(map[string]UserBaseline)}
}

func (s *MemoryBaselineStore) GetBaseline(_ context.Context, username string) (*UserBaseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.baselines[baselineKey(username)]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *MemoryBaselineStore) SaveBaseline(_ context.Context, username string, baseline UserBaseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baselines[baselineKey(username)] = baseline
	return nil
}

func (s *MemoryBaselineStore) RecordLogin(_ context.Context, username, ip, geo string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := baselineKey(username)
	b, ok := s.baselines[key]
	if !ok {
		b = DefaultBaseline()
	}
	applyLogin(&b, ip, geo, at)
	s.baselines[key] = b
	return nil
}

// MemoryRulesStore keeps the rule set in process memory
type MemoryRulesStore struct {
	mu    sync.RWMutex
	rules *SecurityRules
}

// NewMemoryRulesStore creates an empty store
func NewMemoryRulesStore() *MemoryRulesStore {
	return &MemoryRulesStore{}
}

func (s *MemoryRulesStore) GetRules(_ context.Context) (*SecurityRules, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rules == nil {
		return nil, nil
	}
	r := *s.rules
	return &r, nil
}

func (s *MemoryRulesStore) SaveRules(_ context.Context, rules SecurityRules) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = &rules
	return nil
}

// MemoryAttemptLog is a bounded ring of recent attempts
type MemoryAttemptLog struct {
	mu       sync.RWMutex
	size     int
	attempts []LoginAttempt
	next     int
	full     bool
}

// NewMemoryAttemptLog keeps at most size attempts, dropping the oldest
func NewMemoryAttemptLog(size int) *MemoryAttemptLog {
	if size <= 0 {
		size = 5000
	}
	return &MemoryAttemptLog{size: size, attempts: make([]LoginAttempt, size)}
}

func (l *MemoryAttemptLog) Append(_ context.Context, attempt LoginAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[l.next] = attempt
	l.next = (l.next + 1) % l.size
	if l.next == 0 {
		l.full = true
	}
	return nil
}

func (l *MemoryAttemptLog) Recent(_ context.Context, username string, limit int) ([]LoginAttempt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.next
	if l.full {
		n = l.size
	}
	key := baselineKey(username)

	out := make([]LoginAttempt, 0, min(max(limit, 0), n))
	for i := 0; i < n && (limit <= 0 || len(out) < limit); i++ {
		a := l.attempts[(l.next-1-i+l.size)%l.size]
		if key != "" && baselineKey(a.Username) != key {
			continue
		}
		out = append(out, a)
	}
	// ring order is insertion order; equal timestamps keep it
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
