package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryCacheExpiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewInMemoryCache[string, int](time.Second).WithClock(func() time.Time { return now })

	c.Set("a", 1, 0)
	c.Set("b", 2, time.Minute)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok, "expires exactly at ttl")
	_, ok = c.Get("b")
	assert.True(t, ok)

	c.Set("c", 3, 0)
	assert.Equal(t, 2, c.Size(), "expired entries evicted on write")

	c.Delete("b")
	c.Clear()
	assert.Equal(t, 0, c.Size())
}
