package negcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/marmos91/dittopam/pkg/cache/ttl"
)

func newCache(timeout time.Duration) (*Cache, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	return New(timeout, ttl.WithClock(func() time.Time { return now })), &now
}

func TestSetAndCheck(t *testing.T) {
	c, now := newCache(15 * time.Second)

	assert.False(t, c.CheckUser("corp", "ghost"))
	c.SetUser("CORP", "ghost", false)
	assert.True(t, c.CheckUser("corp", "ghost"))
	assert.False(t, c.CheckUser("other", "ghost"))
	assert.False(t, c.CheckUser("corp", "Ghost"))

	*now = now.Add(15 * time.Second)
	assert.False(t, c.CheckUser("corp", "ghost"))
}

func TestWildcardDomain(t *testing.T) {
	c, _ := newCache(time.Minute)

	c.SetUser(AnyDomain, "root", false)
	assert.True(t, c.CheckUser("corp", "root"))
	assert.True(t, c.CheckUser(AnyDomain, "root"))
}

func TestPermanentSurvivesReset(t *testing.T) {
	c, now := newCache(time.Second)

	c.SetUser(AnyDomain, "root", true)
	c.SetUser("corp", "temp", false)
	*now = now.Add(time.Hour)

	assert.True(t, c.CheckUser("corp", "root"))

	c.SetUser("corp", "temp", false)
	c.Reset()
	assert.False(t, c.CheckUser("corp", "temp"))
	assert.True(t, c.CheckUser("corp", "root"))

	c.RemoveUser(AnyDomain, "root")
	assert.False(t, c.CheckUser("corp", "root"))
}

func TestStatsAndPrune(t *testing.T) {
	c, now := newCache(time.Second)
	c.SetUser("a", "x", false)
	c.SetUser("a", "y", false)
	*now = now.Add(2 * time.Second)

	assert.Equal(t, 2, c.Prune())
	assert.Equal(t, 0, c.Stats().Size)
	assert.Equal(t, time.Second, c.Timeout())
}
