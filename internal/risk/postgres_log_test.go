package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/openidx/loginrisk/internal/anomaly"
	"github.com/openidx/loginrisk/internal/common/database"
)

// setupAttemptDB starts a throwaway Postgres and returns a migrated attempt
// log. The test is skipped when no container runtime is available.
func setupAttemptDB(t *testing.T) *PostgresAttemptLog {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "loginrisk",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Failed to start test container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Skipf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Skipf("Failed to get container port: %v", err)
	}

	db, err := database.NewPostgres("postgres://test:test@" + host + ":" + port.Port() + "/loginrisk?sslmode=disable")
	if err != nil {
		t.Skipf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log := NewPostgresAttemptLog(db, zaptest.NewLogger(t))
	require.NoError(t, log.EnsureSchema(ctx))
	// idempotent
	require.NoError(t, log.EnsureSchema(ctx))
	return log
}

func TestPostgresAttemptLog_RoundTrip(t *testing.T) {
	log := setupAttemptDB(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ai := 42

	full := LoginAttempt{
		ID:           "a-full",
		Username:     "Alice",
		IP:           "203.0.113.7",
		Device:       "Mobile-Safari",
		Geo:          "Asia East",
		Score:        97,
		Level:        RiskLevelCritical,
		Decision:     DecisionBlock,
		Breakdown:    RiskBreakdown{DeviceDrift: 25, GeoDrift: 20, TypingDrift: 25, TimingAnomaly: 10, AttemptsMultiplier: 10},
		Enhanced:     EnhancedRiskFactors{ImpossibleTravel: 25, BehavioralScore: 15, AIModelAnomalyScore: &ai},
		Prediction:   &anomaly.Prediction{IsAnomaly: true, Score: 41.5, Confidence: 60},
		Reason:       "Login blocked",
		HiddenReason: ReasonImpossibleTravel.String(),
		CreatedAt:    created,
	}
	require.NoError(t, log.Append(ctx, full))

	got, err := log.Recent(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	a := got[0]
	assert.True(t, created.Equal(a.CreatedAt))
	a.CreatedAt = full.CreatedAt
	assert.Equal(t, full, a)
}

func TestPostgresAttemptLog_RecentFiltersAndOrders(t *testing.T) {
	log := setupAttemptDB(t)
	ctx := context.Background()

	for _, a := range []LoginAttempt{
		attemptAt("a1", "alice", 0),
		attemptAt("b1", "bob", time.Minute),
		attemptAt("a2", "ALICE", 2*time.Minute),
		attemptAt("a3", "alice", 3*time.Minute),
	} {
		require.NoError(t, log.Append(ctx, a))
	}

	got, err := log.Recent(ctx, " Alice ", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a3", "a2", "a1"}, attemptIDs(got))
	for _, a := range got {
		assert.Nil(t, a.Prediction, "NULL prediction column")
	}

	got, err = log.Recent(ctx, "alice", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a3", "a2"}, attemptIDs(got))

	got, err = log.Recent(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a3", "a2", "b1", "a1"}, attemptIDs(got))

	got, err = log.Recent(ctx, "nobody", 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.Error(t, log.Append(ctx, attemptAt("a1", "alice", time.Hour)), "ids are unique")
}
