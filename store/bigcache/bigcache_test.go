package bigcache

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/tiercache/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{LifeWindow: time.Hour, HardMaxCacheSizeMB: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestPutGetDeleteTransparent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	payload := []byte{0, 1, 2, 0xff}
	require.NoError(t, s.Put(ctx, "tc:a:1", payload, store.Meta{CreatedAt: now, ExpiresAt: now}))

	b, ok, err := s.Get(ctx, "tc:a:1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, b)

	require.NoError(t, s.Delete(ctx, "tc:a:1"))
	require.NoError(t, s.Delete(ctx, "tc:a:1"), "deleting a missing key is not an error")
	_, ok, err = s.Get(ctx, "tc:a:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteOlderThanUsesCreationStamp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()

	require.NoError(t, s.Put(ctx, "tc:a:old", []byte("x"), store.Meta{CreatedAt: now.Add(-10 * 24 * time.Hour)}))
	require.NoError(t, s.Put(ctx, "tc:a:new", []byte("y"), store.Meta{CreatedAt: now}))

	n, err := s.DeleteOlderThan(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, _ := s.Get(ctx, "tc:a:old")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "tc:a:new")
	assert.True(t, ok)
}

func TestKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now()
	for _, k := range []string{"tc:a:1", "tc:a:2", "tc:b:1"} {
		require.NoError(t, s.Put(ctx, k, []byte("v"), store.Meta{CreatedAt: now}))
	}

	keys, err := s.Keys(ctx, "tc:a:")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"tc:a:1", "tc:a:2"}, keys)
}
