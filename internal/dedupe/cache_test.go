package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SeenAndMark(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Seen("result-1"), "unmarked key is not seen")
	c.Mark("result-1")
	assert.True(t, c.Seen("result-1"))
	assert.False(t, c.Seen("result-2"))
}

func TestCache_SeenDoesNotMark(t *testing.T) {
	c := New(time.Minute, 100)
	defer c.Close()

	assert.False(t, c.Seen("result-1"))
	assert.False(t, c.Seen("result-1"), "checking must not record the key")
	assert.Equal(t, 0, c.Len())
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(10*time.Millisecond, 100)
	defer c.Close()

	c.Mark("result-1")
	time.Sleep(30 * time.Millisecond)

	assert.False(t, c.Seen("result-1"), "expired entry is treated as new")
}

func TestCache_CapacityEviction(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	c.Mark("a")
	c.Mark("b")
	c.Mark("c")
	c.Mark("d") // evicts "a"

	assert.Equal(t, 3, c.Len())
	assert.False(t, c.Seen("a"), "oldest key was evicted")
	assert.True(t, c.Seen("d"))
}

func TestCache_MarkRefreshesOrder(t *testing.T) {
	c := New(time.Minute, 2)
	defer c.Close()

	c.Mark("a")
	c.Mark("b")
	c.Mark("a") // moves a to back
	c.Mark("c") // evicts b

	assert.True(t, c.Seen("a"))
	assert.False(t, c.Seen("b"))
}

func TestCache_ConcurrentMarkAndSeen(t *testing.T) {
	c := New(time.Minute, 1000)
	defer c.Close()

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d", j)
				c.Mark(key)
				c.Seen(key)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, c.Len())
	for j := 0; j < 100; j++ {
		assert.True(t, c.Seen(fmt.Sprintf("key-%d", j)))
	}
}
