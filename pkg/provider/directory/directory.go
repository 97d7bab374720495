package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Directory is the account database behind the directory backend. It works
// on SQLite and PostgreSQL through the same gorm code. Names, aliases and
// UPNs are stored lower-cased so lookups are case-insensitive on both.
type Directory struct {
	db     *gorm.DB
	config *Config
}

// Open connects to the directory database and migrates its schema.
func Open(config *Config) (*Directory, error) {
	if config == nil {
		config = &Config{}
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid directory configuration: %w", err)
	}

	var dialector gorm.Dialector
	switch config.Type {
	case DatabaseTypeSQLite:
		if err := os.MkdirAll(filepath.Dir(config.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory database dir: %w", err)
		}
		// WAL for concurrent readers; wait up to 5s on a locked database.
		dsn := config.SQLite.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		dialector = sqlite.Open(dsn)
	case DatabaseTypePostgres:
		dialector = postgres.Open(config.Postgres.DSN())
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to directory database: %w", err)
	}

	if config.Type == DatabaseTypePostgres {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get underlying database: %w", err)
		}
		sqlDB.SetMaxOpenConns(config.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(config.Postgres.MaxIdleConns)
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate directory schema: %w", err)
	}

	return &Directory{db: db, config: config}, nil
}

// Close closes the database connection.
func (d *Directory) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Healthcheck pings the database.
func (d *Directory) Healthcheck(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ============================================
// DOMAINS
// ============================================

// CreateDomain adds a domain below parent. An empty parent makes a top-level
// domain.
func (d *Directory) CreateDomain(ctx context.Context, name, parent string) error {
	dom := &DirectoryDomain{Name: normalize(name), Parent: normalize(parent)}
	if dom.Name == "" {
		return fmt.Errorf("directory: empty domain name")
	}
	if dom.Parent != "" {
		if _, err := getByField[DirectoryDomain](d.db, ctx, "name", dom.Parent, ErrDomainNotFound); err != nil {
			return fmt.Errorf("parent %q: %w", parent, err)
		}
	}
	if err := d.db.WithContext(ctx).Create(dom).Error; err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateDomain
		}
		return err
	}
	return nil
}

// Subdomains returns the names of the domains directly below parent.
func (d *Directory) Subdomains(ctx context.Context, parent string) ([]string, error) {
	var names []string
	err := d.db.WithContext(ctx).
		Model(&DirectoryDomain{}).
		Where("parent = ?", normalize(parent)).
		Order("name").
		Pluck("name", &names).Error
	if err != nil {
		return nil, err
	}
	return names, nil
}

// ============================================
// ACCOUNTS
// ============================================

// AccountSpec describes an account to create.
type AccountSpec struct {
	Domain             string
	Username           string
	UPN                string
	PasswordHash       string
	UID                uint32
	GID                uint32
	Aliases            []string
	Certificates       [][]byte
	MustChangePassword bool
	ExpiresAt          *time.Time
}

// CreateAccount inserts an account with its aliases and certificates.
func (d *Directory) CreateAccount(ctx context.Context, spec AccountSpec) (*Account, error) {
	if normalize(spec.Username) == "" || normalize(spec.Domain) == "" {
		return nil, fmt.Errorf("directory: account needs a domain and a username")
	}
	acct := &Account{
		ID:                 uuid.New().String(),
		Domain:             normalize(spec.Domain),
		Username:           normalize(spec.Username),
		UPN:                normalize(spec.UPN),
		PasswordHash:       spec.PasswordHash,
		UID:                spec.UID,
		GID:                spec.GID,
		Enabled:            true,
		MustChangePassword: spec.MustChangePassword,
		ExpiresAt:          spec.ExpiresAt,
		CreatedAt:          time.Now(),
	}
	for _, a := range spec.Aliases {
		acct.Aliases = append(acct.Aliases, AccountAlias{Domain: acct.Domain, Alias: normalize(a)})
	}
	for _, der := range spec.Certificates {
		acct.Certificates = append(acct.Certificates, AccountCertificate{DER: der})
	}

	if err := d.db.WithContext(ctx).Create(acct).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrDuplicateAccount
		}
		return nil, err
	}
	return acct, nil
}

// FindAccount returns the account whose username or alias is name in domain.
func (d *Directory) FindAccount(ctx context.Context, domain, name string) (*Account, error) {
	domain, name = normalize(domain), normalize(name)

	acct, err := getByField[Account](d.db.Where("domain = ?", domain), ctx, "username", name, ErrAccountNotFound, "Aliases", "Certificates")
	if !errors.Is(err, ErrAccountNotFound) {
		return acct, err
	}

	var alias AccountAlias
	if err := d.db.WithContext(ctx).Where("domain = ? AND alias = ?", domain, name).First(&alias).Error; err != nil {
		return nil, convertNotFoundError(err, ErrAccountNotFound)
	}
	return getByField[Account](d.db, ctx, "id", alias.AccountID, ErrAccountNotFound, "Aliases", "Certificates")
}

// FindAccountByUPN returns the account holding upn in domain.
func (d *Directory) FindAccountByUPN(ctx context.Context, domain, upn string) (*Account, error) {
	return getByField[Account](d.db.Where("domain = ?", normalize(domain)), ctx, "upn", normalize(upn), ErrAccountNotFound, "Aliases", "Certificates")
}

// ListAccounts returns the accounts of domain, or all of them when domain is
// empty.
func (d *Directory) ListAccounts(ctx context.Context, domain string) ([]*Account, error) {
	q := d.db.Order("domain").Order("username")
	if domain != "" {
		q = q.Where("domain = ?", normalize(domain))
	}
	return listAll[Account](q, ctx, "Aliases")
}

// SetPassword replaces the password hash of an account.
func (d *Directory) SetPassword(ctx context.Context, id, passwordHash string, mustChange bool) error {
	return updateByID(d.db, ctx, id, map[string]any{
		"password_hash":        passwordHash,
		"must_change_password": mustChange,
	})
}

// SetLocked locks or unlocks an account.
func (d *Directory) SetLocked(ctx context.Context, id string, locked bool) error {
	return updateByID(d.db, ctx, id, map[string]any{"locked": locked})
}

// SetEnabled enables or disables an account.
func (d *Directory) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return updateByID(d.db, ctx, id, map[string]any{"enabled": enabled})
}

// UpdateLastLogin records a successful login.
func (d *Directory) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return updateByID(d.db, ctx, id, map[string]any{"last_login": ts})
}

// DeleteAccount removes an account and everything mapped to it.
func (d *Directory) DeleteAccount(ctx context.Context, domain, name string) error {
	acct, err := d.FindAccount(ctx, domain, name)
	if err != nil {
		return err
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", acct.ID).Delete(&AccountAlias{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", acct.ID).Delete(&AccountCertificate{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Account{ID: acct.ID}).Error
	})
}
