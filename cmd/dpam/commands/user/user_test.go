package user

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittopam/pkg/config"
	"github.com/marmos91/dittopam/pkg/provider/directory"
)

func TestSplitName(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		fallback   string
		wantUser   string
		wantDomain string
		wantErr    bool
	}{
		{name: "qualified", input: "alice@corp.example", wantUser: "alice", wantDomain: "corp.example"},
		{name: "fallback domain", input: "alice", fallback: "local", wantUser: "alice", wantDomain: "local"},
		{name: "last at wins", input: "a@b@corp.example", wantUser: "a@b", wantDomain: "corp.example"},
		{name: "no domain at all", input: "alice", wantErr: true},
		{name: "empty user", input: "@corp.example", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, domain, err := splitName(tt.input, tt.fallback)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUser, user)
			assert.Equal(t, tt.wantDomain, domain)
		})
	}
}

func TestDefaultDomain(t *testing.T) {
	cfg := &config.Config{Domains: []config.DomainConfig{
		{Name: "krb.example", Provider: "krb5"},
		{Name: "corp.example", Provider: "directory"},
		{Name: "other.example", Provider: "directory"},
	}}
	assert.Equal(t, "corp.example", defaultDomain(cfg))
	assert.Empty(t, defaultDomain(&config.Config{}))
}

func TestParseExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := parseExpiry("", now)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseExpiry("48h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(48*time.Hour), *got)

	got, err = parseExpiry("2027-03-01T12:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2027, 3, 1, 12, 0, 0, 0, time.UTC), got.UTC())

	_, err = parseExpiry("-1h", now)
	assert.Error(t, err)
	_, err = parseExpiry("tomorrow", now)
	assert.Error(t, err)
}

func TestLoadCertificates(t *testing.T) {
	dir := t.TempDir()
	der := selfSigned(t)

	good := filepath.Join(dir, "alice.pem")
	require.NoError(t, os.WriteFile(good, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	bad := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(bad, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: []byte{1}}), 0o600))

	certs, err := loadCertificates([]string{good})
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, der, certs[0])

	_, err = loadCertificates([]string{bad})
	assert.Error(t, err)
	_, err = loadCertificates([]string{filepath.Join(dir, "missing.pem")})
	assert.Error(t, err)
}

func TestAccountListRows(t *testing.T) {
	exp := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	list := AccountList{
		{
			Username: "alice",
			Domain:   "corp.example",
			UID:      10001,
			GID:      10000,
			Enabled:  true,
			Aliases:  []directory.AccountAlias{{Alias: "ali"}},
		},
		{Username: "bob", Domain: "corp.example", Locked: true, ExpiresAt: &exp},
	}

	rows := list.Rows()
	require.Len(t, rows, 2)
	assert.Len(t, list.Headers(), len(rows[0]))
	assert.Equal(t, []string{"alice", "corp.example", "10001", "10000", "ali", "yes", "no", "never"}, rows[0])
	assert.Equal(t, "-", rows[1][4])
	assert.Equal(t, "yes", rows[1][6])
	assert.NotEqual(t, "never", rows[1][7])
}

func selfSigned(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "alice"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return der
}
