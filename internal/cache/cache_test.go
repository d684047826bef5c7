package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerFreshness(t *testing.T) {
	clock := NewManualClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	m := NewManager[int](PrefixBalance, 30*time.Second, clock)

	_, ok := m.Fresh("card-1")
	assert.False(t, ok)

	snap := m.Set("card-1", 500)
	assert.Equal(t, clock.Now(), snap.FetchedAt)

	v, ok := m.Fresh("card-1")
	require.True(t, ok)
	assert.Equal(t, 500, v)

	clock.Advance(30 * time.Second)
	_, ok = m.Fresh("card-1")
	assert.False(t, ok, "snapshot at the edge of the window is stale")

	stale, ok := m.Get("card-1")
	require.True(t, ok)
	assert.Equal(t, 500, stale.Value)
	assert.Equal(t, 30*time.Second, stale.Age(clock.Now()))

	m.Invalidate("card-1")
	_, ok = m.Get("card-1")
	assert.False(t, ok)
}

func TestManagerGetOrLoad(t *testing.T) {
	clock := NewManualClock(time.Now())
	m := NewManager[string](PrefixReservedMethod, 5*time.Minute, clock)
	calls := 0
	load := func(context.Context) (string, error) {
		calls++
		return "pm-dp", nil
	}

	for i := 0; i < 3; i++ {
		v, err := m.GetOrLoad(context.Background(), "store", load)
		require.NoError(t, err)
		assert.Equal(t, "pm-dp", v)
	}
	assert.Equal(t, 1, calls)

	clock.Advance(5 * time.Minute)
	_, err := m.GetOrLoad(context.Background(), "store", load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	m.Invalidate("store")
	_, err = m.GetOrLoad(context.Background(), "store", func(context.Context) (string, error) {
		return "", errors.New("backend down")
	})
	assert.EqualError(t, err, "backend down")
	_, ok := m.Get("store")
	assert.False(t, ok)
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, "balance:v1:card-1", GenerateKey(PrefixBalance, "card-1"))
	assert.Equal(t, "program:v1:p1:2", GenerateKey(PrefixProgram, "p1", 2))
}
