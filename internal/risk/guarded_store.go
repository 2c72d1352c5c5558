package risk

import (
	"context"
	"time"

	"github.com/openidx/loginrisk/internal/common/resilience"
)

// GuardedBaselineStore routes baseline calls through a circuit breaker.
// While the breaker is open calls fail with resilience.ErrOpen, which the
// engine treats like any other store failure.
type GuardedBaselineStore struct {
	next    BaselineStore
	breaker *resilience.Breaker
}

// GuardBaselines wraps store with breaker
func GuardBaselines(store BaselineStore, breaker *resilience.Breaker) *GuardedBaselineStore {
	return &GuardedBaselineStore{next: store, breaker: breaker}
}

func (s *GuardedBaselineStore) GetBaseline(ctx context.Context, username string) (*UserBaseline, error) {
	return resilience.Do(s.breaker, func() (*UserBaseline, error) {
		return s.next.GetBaseline(ctx, username)
	})
}

func (s *GuardedBaselineStore) SaveBaseline(ctx context.Context, username string, baseline UserBaseline) error {
	return s.breaker.Execute(func() error {
		return s.next.SaveBaseline(ctx, username, baseline)
	})
}

func (s *GuardedBaselineStore) RecordLogin(ctx context.Context, username, ip, geo string, at time.Time) error {
	return s.breaker.Execute(func() error {
		return s.next.RecordLogin(ctx, username, ip, geo, at)
	})
}

// GuardedRulesStore routes rules calls through a circuit breaker
type GuardedRulesStore struct {
	next    RulesStore
	breaker *resilience.Breaker
}

// GuardRules wraps store with breaker
func GuardRules(store RulesStore, breaker *resilience.Breaker) *GuardedRulesStore {
	return &GuardedRulesStore{next: store, breaker: breaker}
}

func (s *GuardedRulesStore) GetRules(ctx context.Context) (*SecurityRules, error) {
	return resilience.Do(s.breaker, func() (*SecurityRules, error) {
		return s.next.GetRules(ctx)
	})
}

func (s *GuardedRulesStore) SaveRules(ctx context.Context, rules SecurityRules) error {
	return s.breaker.Execute(func() error {
		return s.next.SaveRules(ctx, rules)
	})
}

// GuardedAttemptLog routes attempt log calls through a circuit breaker
type GuardedAttemptLog struct {
	next    AttemptLog
	breaker *resilience.Breaker
}

// GuardAttempts wraps log with breaker
func GuardAttempts(log AttemptLog, breaker *resilience.Breaker) *GuardedAttemptLog {
	return &GuardedAttemptLog{next: log, breaker: breaker}
}

func (l *GuardedAttemptLog) Append(ctx context.Context, attempt LoginAttempt) error {
	return l.breaker.Execute(func() error {
		return l.next.Append(ctx, attempt)
	})
}

func (l *GuardedAttemptLog) Recent(ctx context.Context, username string, limit int) ([]LoginAttempt, error) {
	return resilience.Do(l.breaker, func() ([]LoginAttempt, error) {
		return l.next.Recent(ctx, username, limit)
	})
}
