// Package authn implements password hashing and bearer-token issuance for
// spec.md §6's /auth/register and /auth/login. Grounded on
// kadirpekel-hector's pkg/auth/jwt.go (JWT handling via lestrrat-go/jwx),
// adapted from third-party JWKS verification to self-issued HS256 tokens
// since skillforge is its own identity provider rather than relying on an
// external oauth2-proxy the way tarsy does.
package authn

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/crypto/bcrypt"
)

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword reports whether plaintext matches the stored bcrypt hash.
func VerifyPassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// TokenIssuer signs and verifies bearer tokens carrying userID and
// is_admin claims.
type TokenIssuer struct {
	key []byte
	ttl time.Duration
}

// NewTokenIssuer creates an issuer using key as the HS256 signing secret.
func NewTokenIssuer(key []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: key, ttl: ttl}
}

// Claims is the decoded payload of a verified bearer token.
type Claims struct {
	UserID  string
	IsAdmin bool
}

// Issue signs a new bearer token for userID.
func (t *TokenIssuer) Issue(userID string, isAdmin bool) (string, error) {
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Subject(userID).
		IssuedAt(now).
		Expiration(now.Add(t.ttl)).
		Claim("is_admin", isAdmin).
		Build()
	if err != nil {
		return "", fmt.Errorf("building token: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, t.key))
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return string(signed), nil
}

// Verify parses and validates a bearer token, returning its claims.
func (t *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	tok, err := jwt.Parse([]byte(tokenString), jwt.WithKey(jwa.HS256, t.key), jwt.WithValidate(true))
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	isAdmin := false
	if v, ok := tok.Get("is_admin"); ok {
		if b, ok := v.(bool); ok {
			isAdmin = b
		}
	}
	return &Claims{UserID: tok.Subject(), IsAdmin: isAdmin}, nil
}
