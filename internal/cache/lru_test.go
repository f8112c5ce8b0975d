package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_BasicGetPut(t *testing.T) {
	c := NewLRU[string, bool](10, 5*time.Minute)

	c.Put("a", true)
	c.Put("b", false)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.True(t, v)

	v, ok = c.Get("b")
	require.True(t, ok)
	assert.False(t, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRU_Eviction(t *testing.T) {
	c := NewLRU[string, int](3, 5*time.Minute)

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// "a" becomes most recently used, "b" is now the oldest
	c.Get("a")
	c.Put("d", 4)

	assert.False(t, c.Contains("b"), "b should have been evicted")
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 3, c.Len())
}

func TestLRU_TTLExpiration(t *testing.T) {
	c := NewLRU[string, bool](10, 5*time.Minute)

	now := time.Now()
	c.nowFn = func() time.Time { return now }
	c.Put("a", true)

	now = now.Add(4 * time.Minute)
	assert.True(t, c.Contains("a"))

	now = now.Add(2 * time.Minute)
	assert.False(t, c.Contains("a"))
	assert.Equal(t, 0, c.Len(), "expired entry is dropped on lookup")
}

func TestLRU_ContainsDoesNotPromote(t *testing.T) {
	c := NewLRU[string, int](2, time.Minute)

	c.Put("a", 1)
	c.Put("b", 2)
	assert.True(t, c.Contains("a"))

	c.Put("c", 3)
	assert.False(t, c.Contains("a"), "Contains must not refresh recency")
	assert.True(t, c.Contains("b"))
}

func TestLRU_RemoveAndPurge(t *testing.T) {
	c := NewLRU[string, int](0, time.Minute)

	c.Put("a", 1)
	c.Remove("a")
	assert.False(t, c.Contains("a"))

	c.Put("b", 2)
	c.Purge()
	assert.Equal(t, 0, c.Len())
}
