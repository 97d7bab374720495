package directory

import (
	"errors"
	"time"
)

var (
	ErrAccountNotFound  = errors.New("directory: account not found")
	ErrDuplicateAccount = errors.New("directory: account already exists")
	ErrDomainNotFound   = errors.New("directory: domain not found")
	ErrDuplicateDomain  = errors.New("directory: domain already exists")
)

// Account is a user held in the directory.
type Account struct {
	ID                 string     `gorm:"primaryKey;size:36" json:"id"`
	Domain             string     `gorm:"uniqueIndex:idx_account_name;not null;size:255" json:"domain"`
	Username           string     `gorm:"uniqueIndex:idx_account_name;not null;size:255" json:"username"`
	UPN                string     `gorm:"index;size:512" json:"upn,omitempty"`
	PasswordHash       string     `gorm:"not null" json:"-"`
	UID                uint32     `json:"uid"`
	GID                uint32     `json:"gid"`
	Enabled            bool       `gorm:"default:true" json:"enabled"`
	Locked             bool       `gorm:"default:false" json:"locked"`
	MustChangePassword bool       `gorm:"default:false" json:"must_change_password"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLogin          *time.Time `json:"last_login,omitempty"`

	Aliases      []AccountAlias       `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE" json:"aliases,omitempty"`
	Certificates []AccountCertificate `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for Account.
func (Account) TableName() string {
	return "accounts"
}

// Expired reports whether the account expired before now.
func (a *Account) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// AliasNames returns the alias strings.
func (a *Account) AliasNames() []string {
	if len(a.Aliases) == 0 {
		return nil
	}
	names := make([]string, len(a.Aliases))
	for i, al := range a.Aliases {
		names[i] = al.Alias
	}
	return names
}

// AccountAlias is an alternative logon name for an account.
type AccountAlias struct {
	ID        uint   `gorm:"primaryKey" json:"-"`
	AccountID string `gorm:"index;not null;size:36" json:"-"`
	Domain    string `gorm:"uniqueIndex:idx_alias_name;not null;size:255" json:"-"`
	Alias     string `gorm:"uniqueIndex:idx_alias_name;not null;size:255" json:"alias"`
}

// TableName returns the table name for AccountAlias.
func (AccountAlias) TableName() string {
	return "account_aliases"
}

// AccountCertificate is a DER certificate mapped to an account.
type AccountCertificate struct {
	ID        uint   `gorm:"primaryKey"`
	AccountID string `gorm:"index;not null;size:36"`
	DER       []byte `gorm:"not null"`
}

// TableName returns the table name for AccountCertificate.
func (AccountCertificate) TableName() string {
	return "account_certificates"
}

// DirectoryDomain is a domain served by the directory. Parent is empty for a
// top-level domain.
type DirectoryDomain struct {
	Name   string `gorm:"primaryKey;size:255" json:"name"`
	Parent string `gorm:"index;size:255" json:"parent,omitempty"`
}

// TableName returns the table name for DirectoryDomain.
func (DirectoryDomain) TableName() string {
	return "domains"
}

// AllModels returns the models for AutoMigrate.
func AllModels() []any {
	return []any{
		&DirectoryDomain{},
		&Account{},
		&AccountAlias{},
		&AccountCertificate{},
	}
}
