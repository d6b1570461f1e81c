package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySetGet(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.Set("key", []byte("value"), time.Minute))
	got, err := m.Get("key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	_, err = m.Get("absent")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.Set("short", []byte("v"), 10*time.Millisecond))
	require.NoError(t, m.Set("forever", []byte("v"), 0))

	time.Sleep(20 * time.Millisecond)

	_, err := m.Get("short")
	assert.ErrorIs(t, err, ErrMiss)

	// Zero TTL means no expiry.
	_, err = m.Get("forever")
	assert.NoError(t, err)
}

func TestMemoryValueIsolation(t *testing.T) {
	m := NewMemory()

	src := []byte("original")
	require.NoError(t, m.Set("key", src, time.Minute))
	src[0] = 'X'

	got, err := m.Get("key")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)

	// Mutating the returned slice must not poison the cache.
	got[0] = 'Y'
	again, err := m.Get("key")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.Set("key", []byte("v"), time.Minute))
	require.NoError(t, m.Delete("key"))
	_, err := m.Get("key")
	assert.ErrorIs(t, err, ErrMiss)

	// Deleting an absent key is not an error.
	assert.NoError(t, m.Delete("never-existed"))
}

func TestMemoryDeletePattern(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.Set("pm_dashboard_stats_1", []byte("a"), time.Minute))
	require.NoError(t, m.Set("pm_dashboard_stats_2", []byte("b"), time.Minute))
	require.NoError(t, m.Set("admin_dashboard_stats", []byte("c"), time.Minute))

	require.NoError(t, m.DeletePattern("pm_dashboard_stats_*"))

	_, err := m.Get("pm_dashboard_stats_1")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = m.Get("pm_dashboard_stats_2")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = m.Get("admin_dashboard_stats")
	assert.NoError(t, err)
}
