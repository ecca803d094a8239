package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_SetGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	value := []byte("v1")
	require.NoError(t, m.Set(ctx, "k", value, 0))
	value[0] = 'x'

	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v1", string(got))

	got[0] = 'y'
	again, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "v1", string(again), "stored value must not alias returned slices")

	_, ok, err = m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Hour)

	require.NoError(t, m.Set(ctx, "short", []byte("a"), 20*time.Millisecond))
	require.NoError(t, m.Set(ctx, "forever", []byte("b"), 0))
	time.Sleep(50 * time.Millisecond)

	_, ok, _ := m.Get(ctx, "short")
	assert.False(t, ok)
	_, ok, _ = m.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestMemory_Delete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)
	require.NoError(t, m.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), 0))
	assert.Equal(t, 2, m.Len())

	require.NoError(t, m.Delete(ctx, "a"))
	require.NoError(t, m.Delete(ctx, "unknown"))
	assert.Equal(t, 1, m.Len())
	_, ok, _ := m.Get(ctx, "a")
	assert.False(t, ok)
}
