package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	client := New("http://localhost:8390/")
	assert.NotNil(t, client)
	assert.Equal(t, "http://localhost:8390", client.baseURL)
	assert.Equal(t, "http://localhost:8390", client.BaseURL())
}

func TestWithToken(t *testing.T) {
	client := New("http://localhost:8390")
	tokenClient := client.WithToken("test-token")

	// Original client should not have token
	assert.Empty(t, client.token)
	assert.Equal(t, "test-token", tokenClient.token)
	assert.Equal(t, "http://localhost:8390", tokenClient.baseURL)
}

func TestSetToken(t *testing.T) {
	client := New("http://localhost:8390")
	client.SetToken("my-token")
	assert.Equal(t, "my-token", client.token)
}

func TestDoWithAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := New(server.URL).WithToken("test-token").get(context.Background(), "/test", nil)
	require.NoError(t, err)
}

func TestDoWithProblemResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"type":"about:blank","title":"Not Found","status":404,"detail":"User not found"}`))
	}))
	defer server.Close()

	_, err := New(server.URL).GetUser(context.Background(), "local", "mallory")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsNotFound())
	assert.Equal(t, "User not found", apiErr.Detail)
	assert.Equal(t, "404: User not found", apiErr.Error())
}

func TestDoWithPlainTextError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
	}))
	defer server.Close()

	err := New(server.URL).ResetNegativeCache(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsAuthError())
	assert.Equal(t, "Invalid or expired token", apiErr.Detail)
}

func TestResourcesPaths(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.EscapedPath()+queryOf(r))
		switch r.URL.Path {
		case "/api/v1/domains":
			_ = json.NewEncoder(w).Encode([]Domain{{Name: "local"}})
		case "/api/v1/stats":
			_ = json.NewEncoder(w).Encode(CacheStats{NegativeCache: TableStats{Size: 4}})
		case "/api/v1/negcache":
			w.WriteHeader(http.StatusNoContent)
		default:
			_ = json.NewEncoder(w).Encode(User{Name: "alice", Domain: "EXAMPLE.ORG"})
		}
	}))
	defer server.Close()

	ctx := context.Background()
	c := New(server.URL).WithToken("t")

	doms, err := c.ListDomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, "local", doms[0].Name)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.NegativeCache.Size)

	require.NoError(t, c.ResetNegativeCache(ctx))

	u, err := c.ExpireUser(ctx, "EXAMPLE.ORG", "a/b")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Name)

	assert.Equal(t, []string{
		"GET /api/v1/domains",
		"GET /api/v1/stats",
		"DELETE /api/v1/negcache",
		"POST /api/v1/users/EXAMPLE.ORG/a%2Fb/expire",
	}, seen)
}

func TestListUsersQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "EXAMPLE.ORG", r.URL.Query().Get("domain"))
		_ = json.NewEncoder(w).Encode([]User{{Name: "alice"}, {Name: "bob"}})
	}))
	defer server.Close()

	users, err := New(server.URL).ListUsers(context.Background(), "EXAMPLE.ORG")
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func queryOf(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return ""
	}
	return "?" + r.URL.RawQuery
}
