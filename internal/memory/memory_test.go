package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "memory.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "rules.autotag", "last-run", []byte("2026-01-01"), 0))

	v, ok, err := s.Get(ctx, "rules.autotag", "last-run")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("2026-01-01"), v)
}

func TestGetMissingKey(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.Get(context.Background(), "ns", "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "ns", "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, ok, err := s.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry must not be returned")
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "ns", "k", []byte("v"), 0))
	require.NoError(t, s.Delete(ctx, "ns", "k"))

	_, ok, err := s.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListScopedToNamespace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "a", "k1", []byte("1"), 0))
	require.NoError(t, s.Put(ctx, "a", "k2", []byte("2"), 0))
	require.NoError(t, s.Put(ctx, "b", "k1", []byte("x"), 0))

	entries, err := s.List(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "a", e.Namespace)
	}
}

func TestSizeExcludesExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "ns", "live", []byte("v"), 0))
	require.NoError(t, s.Put(ctx, "ns", "dead", []byte("v"), 5*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	n, err := s.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
