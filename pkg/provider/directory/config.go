package directory

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DatabaseType selects the SQL backend holding the directory.
type DatabaseType string

const (
	// DatabaseTypeSQLite keeps the directory in a local SQLite file.
	DatabaseTypeSQLite DatabaseType = "sqlite"

	// DatabaseTypePostgres keeps the directory in PostgreSQL.
	DatabaseTypePostgres DatabaseType = "postgres"
)

// DefaultEntryCacheTimeout applies when a domain sets no entry_cache_timeout.
const DefaultEntryCacheTimeout = 90 * time.Minute

// SQLiteConfig contains SQLite-specific configuration.
type SQLiteConfig struct {
	// Path is the database file.
	// Default: $XDG_CONFIG_HOME/dittopam/directory.db
	Path string `mapstructure:"path" yaml:"path,omitempty"`
}

// PostgresConfig contains PostgreSQL-specific configuration.
type PostgresConfig struct {
	Host         string `mapstructure:"host" yaml:"host,omitempty"`
	Port         int    `mapstructure:"port" yaml:"port,omitempty"`
	Database     string `mapstructure:"database" yaml:"database,omitempty"`
	User         string `mapstructure:"user" yaml:"user,omitempty"`
	Password     string `mapstructure:"password" yaml:"password,omitempty"`
	SSLMode      string `mapstructure:"sslmode" yaml:"sslmode,omitempty"` // disable, require, verify-ca, verify-full
	SSLRootCert  string `mapstructure:"sslrootcert" yaml:"sslrootcert,omitempty"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns,omitempty"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns,omitempty"`
}

// DSN returns the PostgreSQL connection string.
func (c *PostgresConfig) DSN() string {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Database)
	if c.SSLMode != "" {
		dsn += " sslmode=" + c.SSLMode
	}
	if c.SSLRootCert != "" {
		dsn += " sslrootcert=" + c.SSLRootCert
	}
	return dsn
}

// Config configures the directory database.
type Config struct {
	Type     DatabaseType   `mapstructure:"type" yaml:"type,omitempty" validate:"omitempty,oneof=sqlite postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite,omitempty"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres,omitempty"`
}

// ApplyDefaults fills in missing configuration.
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = DatabaseTypeSQLite
	}

	if c.Type == DatabaseTypeSQLite && c.SQLite.Path == "" {
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			homeDir, _ := os.UserHomeDir()
			configDir = filepath.Join(homeDir, ".config")
		}
		c.SQLite.Path = filepath.Join(configDir, "dittopam", "directory.db")
	}

	if c.Type == DatabaseTypePostgres {
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
		if c.Postgres.MaxOpenConns == 0 {
			c.Postgres.MaxOpenConns = 10
		}
		if c.Postgres.MaxIdleConns == 0 {
			c.Postgres.MaxIdleConns = 2
		}
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	switch c.Type {
	case DatabaseTypeSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("directory: sqlite path is required")
		}
	case DatabaseTypePostgres:
		if c.Postgres.Host == "" {
			return fmt.Errorf("directory: postgres host is required")
		}
		if c.Postgres.Database == "" {
			return fmt.Errorf("directory: postgres database is required")
		}
		if c.Postgres.User == "" {
			return fmt.Errorf("directory: postgres user is required")
		}
	default:
		return fmt.Errorf("directory: unsupported database type: %s", c.Type)
	}
	return nil
}
