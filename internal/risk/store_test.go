package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openidx/loginrisk/internal/common/database"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *database.RedisClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, &database.RedisClient{Client: client}
}

var storeNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func TestMemoryBaselineStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBaselineStore()

	b, err := s.GetBaseline(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, b)

	custom := DefaultBaseline()
	custom.PrimaryDevice = "Mac-Safari"
	require.NoError(t, s.SaveBaseline(ctx, "Alice", custom))

	b, err = s.GetBaseline(ctx, "  alice ")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "Mac-Safari", b.PrimaryDevice)

	// returned baselines are copies
	b.PrimaryDevice = "changed"
	again, _ := s.GetBaseline(ctx, "alice")
	assert.Equal(t, "Mac-Safari", again.PrimaryDevice)
}

func TestMemoryBaselineStore_RecordLogin(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBaselineStore()

	require.NoError(t, s.RecordLogin(ctx, "bob", "8.8.8.8", "EU West", storeNow))

	b, err := s.GetBaseline(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, DefaultBaseline().PrimaryDevice, b.PrimaryDevice)
	assert.Equal(t, "8.8.8.8", b.LastLoginIP)
	assert.Equal(t, "EU West", b.LastLoginGeo)
	require.NotNil(t, b.LastLoginTime)
	assert.True(t, b.LastLoginTime.Equal(storeNow))

	custom := DefaultBaseline()
	custom.PrimaryRegion = "EU West"
	require.NoError(t, s.SaveBaseline(ctx, "carol", custom))
	require.NoError(t, s.RecordLogin(ctx, "carol", "1.1.1.1", "EU West", storeNow))

	b, _ = s.GetBaseline(ctx, "carol")
	assert.Equal(t, "EU West", b.PrimaryRegion)
	assert.Equal(t, "1.1.1.1", b.LastLoginIP)
}

func TestMemoryRulesStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRulesStore()

	r, err := s.GetRules(ctx)
	require.NoError(t, err)
	assert.Nil(t, r)

	rules := DefaultSecurityRules()
	rules.Block.Threshold = 90
	require.NoError(t, s.SaveRules(ctx, rules))

	r, err = s.GetRules(ctx)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, rules, *r)
}

func attemptAt(id, username string, offset time.Duration) LoginAttempt {
	return LoginAttempt{ID: id, Username: username, CreatedAt: storeNow.Add(offset)}
}

func attemptIDs(attempts []LoginAttempt) []string {
	ids := make([]string, len(attempts))
	for i, a := range attempts {
		ids[i] = a.ID
	}
	return ids
}

func TestMemoryAttemptLog_Recent(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryAttemptLog(10)

	require.NoError(t, log.Append(ctx, attemptAt("a1", "alice", 0)))
	require.NoError(t, log.Append(ctx, attemptAt("b1", "bob", time.Second)))
	require.NoError(t, log.Append(ctx, attemptAt("a2", "Alice", 2*time.Second)))
	require.NoError(t, log.Append(ctx, attemptAt("a3", "alice", 3*time.Second)))

	all, err := log.Recent(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a3", "a2", "b1", "a1"}, attemptIDs(all))

	alice, err := log.Recent(ctx, "ALICE", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a3", "a2", "a1"}, attemptIDs(alice))

	limited, err := log.Recent(ctx, "alice", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a3", "a2"}, attemptIDs(limited))

	none, err := log.Recent(ctx, "nobody", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryAttemptLog_EvictsOldest(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryAttemptLog(3)

	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(ctx, attemptAt(fmt.Sprintf("a%d", i), "alice", time.Duration(i)*time.Second)))
	}

	all, err := log.Recent(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a4", "a3", "a2"}, attemptIDs(all))
}

func TestMemoryAttemptLog_SameTimestampKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryAttemptLog(0)

	require.NoError(t, log.Append(ctx, attemptAt("first", "alice", 0)))
	require.NoError(t, log.Append(ctx, attemptAt("second", "alice", 0)))

	all, err := log.Recent(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, attemptIDs(all))
}

func TestRedisBaselineStore(t *testing.T) {
	ctx := context.Background()
	mr, rc := setupRedis(t)
	s := NewRedisBaselineStore(rc)

	b, err := s.GetBaseline(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, b)

	custom := DefaultBaseline()
	custom.AvgTypingSpeed = 60
	require.NoError(t, s.SaveBaseline(ctx, "Alice", custom))
	assert.True(t, mr.Exists("risk:baseline:alice"))

	b, err = s.GetBaseline(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, 60.0, b.AvgTypingSpeed)

	require.NoError(t, mr.Set("risk:baseline:broken", "{not json"))
	_, err = s.GetBaseline(ctx, "broken")
	assert.Error(t, err)
}

func TestRedisBaselineStore_RecordLogin(t *testing.T) {
	ctx := context.Background()
	mr, rc := setupRedis(t)
	s := NewRedisBaselineStore(rc)

	require.NoError(t, s.RecordLogin(ctx, "dave", "8.8.8.8", "US East", storeNow))

	raw, err := mr.Get("risk:baseline:dave")
	require.NoError(t, err)
	var stored UserBaseline
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "Windows-Chrome", stored.PrimaryDevice)
	assert.Equal(t, "8.8.8.8", stored.LastLoginIP)
	require.NotNil(t, stored.LastLoginTime)
	assert.True(t, stored.LastLoginTime.Equal(storeNow))

	custom := DefaultBaseline()
	custom.PrimaryDevice = "Linux-Firefox"
	require.NoError(t, s.SaveBaseline(ctx, "erin", custom))
	require.NoError(t, s.RecordLogin(ctx, "erin", "1.1.1.1", "EU West", storeNow.Add(time.Hour)))

	b, err := s.GetBaseline(ctx, "erin")
	require.NoError(t, err)
	assert.Equal(t, "Linux-Firefox", b.PrimaryDevice)
	assert.Equal(t, "EU West", b.LastLoginGeo)
}

func TestRedisBaselineStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr, rc := setupRedis(t)
	s := NewRedisBaselineStore(rc)
	mr.Close()

	_, err := s.GetBaseline(ctx, "alice")
	assert.Error(t, err)
	assert.Error(t, s.RecordLogin(ctx, "alice", "8.8.8.8", "US East", storeNow))
}

func TestRedisRulesStore(t *testing.T) {
	ctx := context.Background()
	_, rc := setupRedis(t)
	s := NewRedisRulesStore(rc, 0)

	r, err := s.GetRules(ctx)
	require.NoError(t, err)
	assert.Nil(t, r)

	rules := DefaultSecurityRules()
	rules.Challenge.Enabled = false
	require.NoError(t, s.SaveRules(ctx, rules))

	r, err = s.GetRules(ctx)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, rules, *r)
}

func TestRedisRulesStore_Cache(t *testing.T) {
	ctx := context.Background()
	mr, rc := setupRedis(t)
	s := NewRedisRulesStore(rc, time.Minute)

	clock := storeNow
	s.now = func() time.Time { return clock }

	rules := DefaultSecurityRules()
	require.NoError(t, s.SaveRules(ctx, rules))

	// another replica writes directly
	changed := rules
	changed.Block.Threshold = 95
	data, err := json.Marshal(changed)
	require.NoError(t, err)
	require.NoError(t, mr.Set("risk:rules", string(data)))

	r, err := s.GetRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 80, r.Block.Threshold, "cached rules served within ttl")

	clock = clock.Add(time.Minute)
	r, err = s.GetRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 95, r.Block.Threshold, "rules reloaded after ttl")

	// cached copies are not shared
	r.Block.Threshold = 10
	again, err := s.GetRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 95, again.Block.Threshold)
}

func TestRedisRulesStore_CachesAbsence(t *testing.T) {
	ctx := context.Background()
	mr, rc := setupRedis(t)
	s := NewRedisRulesStore(rc, time.Minute)
	clock := storeNow
	s.now = func() time.Time { return clock }

	r, err := s.GetRules(ctx)
	require.NoError(t, err)
	assert.Nil(t, r)

	mr.Close()
	r, err = s.GetRules(ctx)
	require.NoError(t, err, "served from cache while redis is down")
	assert.Nil(t, r)

	clock = clock.Add(2 * time.Minute)
	_, err = s.GetRules(ctx)
	assert.Error(t, err)
}
