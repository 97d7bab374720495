package identity

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the default cost parameter for bcrypt hashing.
const DefaultBcryptCost = 10

// MinPasswordLength is the minimum length accepted by ValidatePassword.
const MinPasswordLength = 8

// MaxPasswordLength is the maximum password length; bcrypt rejects longer
// input.
const MaxPasswordLength = 72

var (
	// ErrPasswordTooShort is returned when a password is too short.
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")

	// ErrPasswordTooLong is returned when a password exceeds the bcrypt limit.
	ErrPasswordTooLong = errors.New("password must be at most 72 characters")

	// ErrEmptyPassword is returned when hashing a zero-length password.
	ErrEmptyPassword = errors.New("password is empty")
)

// HashPassword creates a bcrypt hash of a password that authenticated
// online. Only the bcrypt length limit applies: cached passwords are whatever
// the provider accepted.
func HashPassword(password []byte) (string, error) {
	return HashPasswordWithCost(password, DefaultBcryptCost)
}

// HashPasswordWithCost creates a bcrypt hash with a custom cost (4-31).
func HashPasswordWithCost(password []byte, cost int) (string, error) {
	if len(password) == 0 {
		return "", ErrEmptyPassword
	}
	if len(password) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword(password, cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks if a password matches a bcrypt hash.
func VerifyPassword(password []byte, hash string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), password) == nil
}

// ValidatePassword checks an administrator-chosen password, as set through
// `dpam user set-password`.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}

// NeedsRehash reports whether hash was produced with a cost below the
// default or is not a bcrypt hash at all.
func NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < DefaultBcryptCost
}
