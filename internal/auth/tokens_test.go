package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenValidator_IssueAndValidate(t *testing.T) {
	ctx := context.Background()
	v, err := NewTokenValidator(testSecret, "ai-tutor-platform", nil)
	require.NoError(t, err)

	token, err := v.IssueToken(ctx, "user-1", RoleStudent, time.Hour)
	require.NoError(t, err)

	claims, err := v.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, RoleStudent, claims.Role)
	assert.Equal(t, "user-1", claims.Subject)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenValidator_Rejects(t *testing.T) {
	ctx := context.Background()
	v, err := NewTokenValidator(testSecret, "ai-tutor-platform", nil)
	require.NoError(t, err)

	expired, err := v.IssueToken(ctx, "user-1", RoleStudent, -time.Minute)
	require.NoError(t, err)
	_, err = v.ValidateToken(ctx, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewTokenValidator(testSecret, "someone-else", nil)
	require.NoError(t, err)
	foreign, err := other.IssueToken(ctx, "user-1", RoleStudent, time.Hour)
	require.NoError(t, err)
	_, err = v.ValidateToken(ctx, foreign)
	assert.ErrorIs(t, err, ErrInvalidToken, "issuer must match")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "x"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.ValidateToken(ctx, unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.ValidateToken(ctx, "not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenValidator_ShortSecret(t *testing.T) {
	_, err := NewTokenValidator(strings.Repeat("a", 31), "x", nil)
	assert.Error(t, err)
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc", ExtractBearerToken("Bearer abc"))
	assert.Equal(t, "abc", ExtractBearerToken("bearer abc"))
	assert.Empty(t, ExtractBearerToken("Basic abc"))
	assert.Empty(t, ExtractBearerToken("Bearer"))
	assert.Empty(t, ExtractBearerToken(""))
}
