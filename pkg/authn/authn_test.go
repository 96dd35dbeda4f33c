package authn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, VerifyPassword(hash, "correct horse battery staple"))
	assert.False(t, VerifyPassword(hash, "wrong password"))
}

func TestTokenIssuer_IssueAndVerify(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-signing-key"), time.Hour)

	tok, err := issuer.Issue("user-123", true)
	require.NoError(t, err)

	claims, err := issuer.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.UserID)
	assert.True(t, claims.IsAdmin)
}

func TestTokenIssuer_RejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-signing-key"), -time.Hour)
	tok, err := issuer.Issue("user-123", false)
	require.NoError(t, err)

	_, err = issuer.Verify(tok)
	assert.Error(t, err)
}

func TestTokenIssuer_RejectsWrongKey(t *testing.T) {
	issuer := NewTokenIssuer([]byte("key-a"), time.Hour)
	tok, err := issuer.Issue("user-123", false)
	require.NoError(t, err)

	other := NewTokenIssuer([]byte("key-b"), time.Hour)
	_, err = other.Verify(tok)
	assert.Error(t, err)
}
