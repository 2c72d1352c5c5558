package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errDown = errors.New("connection refused")

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := New(Config{Name: "test-open", FailureThreshold: 3, OpenTimeout: time.Hour}, zap.NewNop())

	calls := 0
	fail := func() error { calls++; return errDown }

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(fail), errDown)
	}
	assert.Equal(t, "open", b.State())

	assert.ErrorIs(t, b.Execute(fail), ErrOpen)
	assert.Equal(t, 3, calls, "open breaker does not call through")
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := New(Config{Name: "test-reset", FailureThreshold: 2, OpenTimeout: time.Hour}, nil)

	assert.Error(t, b.Execute(func() error { return errDown }))
	assert.NoError(t, b.Execute(func() error { return nil }))
	assert.Error(t, b.Execute(func() error { return errDown }))
	assert.Equal(t, "closed", b.State())
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b := New(Config{Name: "test-half-open", FailureThreshold: 1, OpenTimeout: 20 * time.Millisecond}, zap.NewNop())

	require.Error(t, b.Execute(func() error { return errDown }))
	require.Equal(t, "open", b.State())

	time.Sleep(40 * time.Millisecond)
	assert.NoError(t, b.Execute(func() error { return nil }))
	assert.Equal(t, "closed", b.State())
}

func TestDo(t *testing.T) {
	b := New(Config{Name: "test-do"}, zap.NewNop())

	v, err := Do(b, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	p, err := Do(b, func() (*int, error) { return nil, nil })
	require.NoError(t, err)
	assert.Nil(t, p)

	v, err = Do[int](nil, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
