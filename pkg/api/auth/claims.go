// Package auth issues and verifies the bearer tokens of the control API.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Role is the permission level carried by a token.
type Role string

const (
	// RoleAdmin may read state and flush caches.
	RoleAdmin Role = "admin"
	// RoleViewer may only read.
	RoleViewer Role = "viewer"
)

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleViewer
}

// Claims are the JWT claims of a control API token. Subject names the
// operator or tool the token was issued to.
type Claims struct {
	jwt.RegisteredClaims

	Role Role `json:"role"`
}

// IsAdmin returns true if the token carries the admin role.
func (c *Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}
