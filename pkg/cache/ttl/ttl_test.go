package ttl

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTable(ttl time.Duration) (*Table[string], *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return New[string](ttl, WithClock(clk.Now)), clk
}

func TestFreshUntilExpiry(t *testing.T) {
	tbl, clk := newTable(10 * time.Second)

	assert.False(t, tbl.Fresh("alice"))

	tbl.Set("alice")
	assert.True(t, tbl.Fresh("alice"))

	clk.Advance(9 * time.Second)
	assert.True(t, tbl.Fresh("alice"))

	clk.Advance(time.Second)
	assert.False(t, tbl.Fresh("alice"))
	assert.Equal(t, 0, tbl.Len(), "expired entry is removed on lookup")

	st := tbl.Stats()
	assert.Equal(t, uint64(2), st.Hits)
	assert.Equal(t, uint64(2), st.Misses)
}

func TestSetFor(t *testing.T) {
	tbl, clk := newTable(time.Minute)
	tbl.SetFor("k", time.Second)
	clk.Advance(2 * time.Second)
	assert.False(t, tbl.Fresh("k"))
}

func TestPermanentEntries(t *testing.T) {
	tbl, clk := newTable(time.Second)
	tbl.SetPermanent("root")
	tbl.Set("temp")

	clk.Advance(time.Hour)
	assert.True(t, tbl.Fresh("root"))
	assert.Equal(t, 1, tbl.Prune())

	tbl.Set("temp")
	tbl.InvalidateAll(true)
	assert.True(t, tbl.Fresh("root"))
	assert.False(t, tbl.Fresh("temp"))

	tbl.InvalidateAll(false)
	assert.False(t, tbl.Fresh("root"))
}

func TestInvalidate(t *testing.T) {
	tbl, _ := newTable(time.Minute)
	tbl.Set("a")
	tbl.Invalidate("a")
	assert.False(t, tbl.Fresh("a"))
}

func TestDefaultTTL(t *testing.T) {
	tbl := New[int](0)
	assert.Equal(t, DefaultTTL, tbl.TTL())
}

func TestConcurrentAccess(t *testing.T) {
	tbl, _ := newTable(time.Minute)
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := string(rune('a' + i%4))
			tbl.Set(key)
			tbl.Fresh(key)
			tbl.Prune()
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, tbl.Len(), 4)
}
