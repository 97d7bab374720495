package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittopam/pkg/apiclient"
)

func TestDomainListRows(t *testing.T) {
	rows := DomainList{
		{Name: "corp.example", Provider: "krb5", CacheCredentials: true, EntryCacheTimeout: "1h30m0s"},
		{Name: "eu.corp.example", Parent: "corp.example"},
	}.Rows()

	require.Len(t, rows, 2)
	assert.Equal(t, []string{"corp.example", "krb5", "-", "no", "yes", "-", "1h30m0s"}, rows[0])
	assert.Equal(t, "local", rows[1][1])
	assert.Equal(t, "corp.example", rows[1][2])
}

func TestUserListRows(t *testing.T) {
	exp := time.Now().Add(-time.Hour)
	rows := UserList{
		{Name: "alice", Domain: "corp.example", UID: 10001, GID: 10000, CacheExpire: &exp, HasCachedPassword: true, FailedLoginAttempts: 2},
		{Name: "bob", Domain: "corp.example", Locked: true},
	}.Rows()

	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0][0])
	assert.Contains(t, rows[0][4], "ago")
	assert.Equal(t, "yes", rows[0][5])
	assert.Equal(t, "2", rows[0][6])
	assert.Equal(t, "never", rows[1][4])
	assert.Equal(t, "yes", rows[1][7])
}

func TestUserPairs(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(90 * time.Minute)
	pairs := userPairs(&apiclient.User{Name: "alice", Domain: "corp.example", Aliases: []string{"ali", "al"}, CacheExpire: &exp}, now)

	got := make(map[string]string, len(pairs))
	for _, p := range pairs {
		got[p[0]] = p[1]
	}
	assert.Equal(t, "ali, al", got["Aliases"])
	assert.Equal(t, "in 1h 30m 0s", got["Cache expires"])
	assert.Equal(t, "-", got["UPN"])
	assert.Equal(t, "never", got["Last login"])
}

func TestStatsTable(t *testing.T) {
	table := statsTable(&apiclient.CacheStats{
		NegativeCache: apiclient.TableStats{Hits: 3, Misses: 1, Size: 2},
	})
	rows := table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"negative", "2", "3", "1", "75.0%"}, rows[0])
	assert.Equal(t, []string{"refreshed", "0", "0", "0", "-"}, rows[1])
}
