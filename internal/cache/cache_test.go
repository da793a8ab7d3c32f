package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/ocr-workbench/internal/config"
)

func TestMemoryClient_SetGet(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_Expiry(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), -time.Second))
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_EvictsOldest(t *testing.T) {
	c := NewMemoryClient(2)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), time.Hour))

	assert.Equal(t, 2, c.Len())
	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_DeleteByPrefix(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "ocr:1", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "ocr:2", []byte("2"), time.Minute))
	require.NoError(t, c.Set(ctx, "qac:1", []byte("3"), time.Minute))

	require.NoError(t, c.DeleteByPrefix(ctx, "ocr:"))
	assert.Equal(t, 1, c.Len())
}

func TestMemoryClient_CloseIsIdempotent(t *testing.T) {
	c := NewMemoryClient(1)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestNew(t *testing.T) {
	c, err := New(config.CacheConfig{Driver: "none"})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = New(config.CacheConfig{Driver: "memory", MaxEntries: 4})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.NoError(t, c.Close())

	_, err = New(config.CacheConfig{Driver: "memcached"})
	assert.Error(t, err)
}
