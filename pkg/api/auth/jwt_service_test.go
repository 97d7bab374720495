package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-secret-key-must-be-32-chars!"

func newTestService(t *testing.T) *JWTService {
	t.Helper()
	service, err := NewJWTService(JWTConfig{Secret: testSecret, Issuer: "test-issuer"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return service
}

func TestNewJWTService_Defaults(t *testing.T) {
	service, err := NewJWTService(JWTConfig{Secret: testSecret})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if service.config.Issuer != "dittopam" {
		t.Errorf("Expected default issuer 'dittopam', got %q", service.config.Issuer)
	}
	if service.TokenDuration() != time.Hour {
		t.Errorf("Expected default duration 1h, got %v", service.TokenDuration())
	}
}

func TestNewJWTService_ShortSecret(t *testing.T) {
	for _, secret := range []string{"", "short"} {
		if _, err := NewJWTService(JWTConfig{Secret: secret}); !errors.Is(err, ErrInvalidSecretLength) {
			t.Errorf("secret %q: expected ErrInvalidSecretLength, got %v", secret, err)
		}
	}
}

func TestIssueAndValidate(t *testing.T) {
	service := newTestService(t)

	token, err := service.Issue("ops", RoleAdmin, 10*time.Minute)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if token.TokenType != "Bearer" {
		t.Errorf("Expected token type 'Bearer', got %q", token.TokenType)
	}
	if d := time.Until(token.ExpiresAt); d <= 9*time.Minute || d > 10*time.Minute {
		t.Errorf("Unexpected expiry in %v", d)
	}

	claims, err := service.ValidateToken(token.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != "ops" {
		t.Errorf("Expected subject 'ops', got %q", claims.Subject)
	}
	if !claims.IsAdmin() {
		t.Error("Expected admin claims")
	}
}

func TestIssue_InvalidRole(t *testing.T) {
	service := newTestService(t)
	if _, err := service.Issue("ops", Role("root"), 0); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("Expected ErrInvalidRole, got %v", err)
	}
}

func TestValidateToken_Expired(t *testing.T) {
	service := newTestService(t)
	service.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	token, err := service.Issue("ops", RoleViewer, time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	service.now = time.Now
	if _, err := service.ValidateToken(token.AccessToken); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Expected ErrExpiredToken, got %v", err)
	}
}

func TestValidateToken_WrongSecret(t *testing.T) {
	service := newTestService(t)
	token, err := service.Issue("ops", RoleViewer, 0)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	other, err := NewJWTService(JWTConfig{Secret: "another-secret-key-that-is-32-chars", Issuer: "test-issuer"})
	if err != nil {
		t.Fatalf("NewJWTService failed: %v", err)
	}
	if _, err := other.ValidateToken(token.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	service := newTestService(t)
	other, err := NewJWTService(JWTConfig{Secret: testSecret, Issuer: "someone-else"})
	if err != nil {
		t.Fatalf("NewJWTService failed: %v", err)
	}
	token, err := other.Issue("ops", RoleAdmin, 0)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, err := service.ValidateToken(token.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateToken_RejectsNoneAlgorithm(t *testing.T) {
	service := newTestService(t)
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test-issuer",
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: RoleAdmin,
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("Failed to build unsigned token: %v", err)
	}
	if _, err := service.ValidateToken(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}

func TestValidateToken_Garbage(t *testing.T) {
	service := newTestService(t)
	if _, err := service.ValidateToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
}
