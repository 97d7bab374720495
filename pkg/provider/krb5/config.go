package krb5

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	krb5config "github.com/jcmturner/gokrb5/v8/config"
)

// DefaultEntryCacheTimeout is how long a refreshed record stays valid when
// its domain sets no entry_cache_timeout.
const DefaultEntryCacheTimeout = 90 * time.Minute

// DefaultKrb5Conf is read when neither krb5_conf nor kdcs are set.
const DefaultKrb5Conf = "/etc/krb5.conf"

// StaticIdentity is a user known to the Kerberos backend. Kerberos cannot
// enumerate principals, so the identities it serves are listed in
// configuration.
type StaticIdentity struct {
	// Principal is "user@REALM" or a bare "user" in the backend's realm.
	Principal string   `mapstructure:"principal" yaml:"principal" validate:"required"`
	UID       uint32   `mapstructure:"uid" yaml:"uid"`
	GID       uint32   `mapstructure:"gid" yaml:"gid"`
	Aliases   []string `mapstructure:"aliases" yaml:"aliases,omitempty"`
}

// Config configures the Kerberos backend.
type Config struct {
	// Realm is the Kerberos realm users authenticate against.
	Realm string `mapstructure:"realm" yaml:"realm" validate:"required"`

	// Krb5Conf is the krb5.conf to load. Ignored when KDCs is set.
	Krb5Conf string `mapstructure:"krb5_conf" yaml:"krb5_conf,omitempty"`

	// KDCs lists host:port KDC addresses for Realm. When set, no krb5.conf is
	// read.
	KDCs []string `mapstructure:"kdcs" yaml:"kdcs,omitempty"`

	// Timeout bounds one KDC exchange. 0 leaves it to the dispatcher.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty" validate:"min=0"`

	// Keytab, when set, is used to validate every TGT by requesting a ticket
	// for ValidatePrincipal and decrypting it locally. This rejects a KDC
	// that was spoofed.
	Keytab string `mapstructure:"keytab" yaml:"keytab,omitempty"`

	// ValidatePrincipal is the service principal in Keytab, e.g.
	// "host/server.example.org".
	ValidatePrincipal string `mapstructure:"validate_principal" yaml:"validate_principal,omitempty"`

	// MaxClockSkew bounds the clock difference accepted during validation.
	MaxClockSkew time.Duration `mapstructure:"max_clock_skew" yaml:"max_clock_skew,omitempty" validate:"min=0"`

	// Identities lists the principals served and their local identity.
	// Principals are kept as values so their case and dots survive loading.
	Identities []StaticIdentity `mapstructure:"identities" yaml:"identities,omitempty" validate:"dive"`

	// MapUnknown serves principals missing from Identities with DefaultUID
	// and DefaultGID instead of reporting them unknown.
	MapUnknown bool   `mapstructure:"map_unknown" yaml:"map_unknown,omitempty"`
	DefaultUID uint32 `mapstructure:"default_uid" yaml:"default_uid,omitempty"`
	DefaultGID uint32 `mapstructure:"default_gid" yaml:"default_gid,omitempty"`
}

// Validate checks the fields that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Realm == "" {
		return errors.New("krb5: realm is required")
	}
	if c.Keytab != "" && c.ValidatePrincipal == "" {
		return errors.New("krb5: validate_principal is required with keytab")
	}
	for _, kdc := range c.KDCs {
		if !strings.Contains(kdc, ":") {
			return fmt.Errorf("krb5: kdc %q must be host:port", kdc)
		}
	}
	return nil
}

// resolveKeytabPath applies the DITTOPAM_KRB5_KEYTAB override.
func resolveKeytabPath(configPath string) string {
	if envPath := os.Getenv("DITTOPAM_KRB5_KEYTAB"); envPath != "" {
		return envPath
	}
	return configPath
}

// resolveKrb5ConfPath applies the DITTOPAM_KRB5_CONF override and the
// default path.
func resolveKrb5ConfPath(configPath string) string {
	if envPath := os.Getenv("DITTOPAM_KRB5_CONF"); envPath != "" {
		return envPath
	}
	if configPath != "" {
		return configPath
	}
	return DefaultKrb5Conf
}

// loadKrb5Conf builds the client configuration, either from the KDC list or
// from a krb5.conf file.
func loadKrb5Conf(c *Config) (*krb5config.Config, error) {
	if len(c.KDCs) > 0 {
		var b strings.Builder
		fmt.Fprintf(&b, "[libdefaults]\n default_realm = %s\n dns_lookup_kdc = false\n dns_lookup_realm = false\n udp_preference_limit = 1\n", c.Realm)
		fmt.Fprintf(&b, "[realms]\n %s = {\n", c.Realm)
		for _, kdc := range c.KDCs {
			fmt.Fprintf(&b, "  kdc = %s\n", kdc)
		}
		b.WriteString(" }\n")
		cfg, err := krb5config.NewFromString(b.String())
		if err != nil {
			return nil, fmt.Errorf("build krb5 config: %w", err)
		}
		return cfg, nil
	}

	path := resolveKrb5ConfPath(c.Krb5Conf)
	cfg, err := krb5config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("parse krb5.conf %s: %w", path, err)
	}
	return cfg, nil
}
