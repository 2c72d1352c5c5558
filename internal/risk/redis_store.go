package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openidx/loginrisk/internal/common/database"
)

// Redis keys
const (
	baselineKeyPrefix = "risk:baseline:"
	rulesKey          = "risk:rules"

	recordLoginRetries = 3
)

// RedisBaselineStore keeps one JSON baseline per user
type RedisBaselineStore struct {
	redis *database.RedisClient
}

// NewRedisBaselineStore creates a Redis-backed baseline store
func NewRedisBaselineStore(redis *database.RedisClient) *RedisBaselineStore {
	return &RedisBaselineStore{redis: redis}
}

func (s *RedisBaselineStore) GetBaseline(ctx context.Context, username string) (*UserBaseline, error) {
	data, err := s.redis.Client.Get(ctx, baselineKeyPrefix+baselineKey(username)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get baseline: %w", err)
	}

	var b UserBaseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode baseline: %w", err)
	}
	return &b, nil
}

func (s *RedisBaselineStore) SaveBaseline(ctx context.Context, username string, baseline UserBaseline) error {
	data, err := json.Marshal(baseline)
	if err != nil {
		return fmt.Errorf("failed to encode baseline: %w", err)
	}
	if err := s.redis.Client.Set(ctx, baselineKeyPrefix+baselineKey(username), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save baseline: %w", err)
	}
	return nil
}

// RecordLogin updates the last-login fields under WATCH so concurrent logins
// for one user do not overwrite each other's baseline edits.
func (s *RedisBaselineStore) RecordLogin(ctx context.Context, username, ip, geo string, at time.Time) error {
	key := baselineKeyPrefix + baselineKey(username)

	update := func(tx *redis.Tx) error {
		b := DefaultBaseline()
		data, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(data, &b); err != nil {
				return fmt.Errorf("failed to decode baseline: %w", err)
			}
		}

		applyLogin(&b, ip, geo, at)
		out, err := json.Marshal(b)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < recordLoginRetries; i++ {
		err := s.redis.Client.Watch(ctx, update, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to record login: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to record login: %w", redis.TxFailedErr)
}

// RedisRulesStore keeps the rule set as JSON and caches it in process for
// ttl. SaveRules refreshes the local cache immediately; other replicas see
// the change once their cache expires.
type RedisRulesStore struct {
	redis *database.RedisClient
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	cached   *SecurityRules
	cachedAt time.Time
	loaded   bool
}

// NewRedisRulesStore creates a Redis-backed rules store. A zero ttl disables
// the local cache.
func NewRedisRulesStore(redis *database.RedisClient, ttl time.Duration) *RedisRulesStore {
	return &RedisRulesStore{redis: redis, ttl: ttl, now: time.Now}
}

func (s *RedisRulesStore) GetRules(ctx context.Context) (*SecurityRules, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded && s.ttl > 0 && s.now().Sub(s.cachedAt) < s.ttl {
		return copyRules(s.cached), nil
	}

	data, err := s.redis.Client.Get(ctx, rulesKey).Bytes()
	var rules *SecurityRules
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return nil, fmt.Errorf("failed to get rules: %w", err)
	default:
		var r SecurityRules
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("failed to decode rules: %w", err)
		}
		rules = &r
	}

	s.cached, s.cachedAt, s.loaded = rules, s.now(), true
	return copyRules(rules), nil
}

func (s *RedisRulesStore) SaveRules(ctx context.Context, rules SecurityRules) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}
	if err := s.redis.Client.Set(ctx, rulesKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save rules: %w", err)
	}

	s.mu.Lock()
	s.cached, s.cachedAt, s.loaded = &rules, s.now(), true
	s.mu.Unlock()
	return nil
}

func copyRules(r *SecurityRules) *SecurityRules {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
