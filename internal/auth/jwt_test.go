package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filevault-gateway/internal/apperr"
	"github.com/filevault-gateway/internal/models"
)

func TestTokenRoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	user := &models.User{ID: uuid.New(), Email: "alice@example.com"}

	token, claims, err := issuer.GenerateToken(user)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)

	parsed, err := issuer.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, claims.ID, parsed.ID)

	identity, err := parsed.Identity()
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.UserID)
	assert.Equal(t, user.Email, identity.Email)
}

func TestTokensHaveDistinctIDs(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	user := &models.User{ID: uuid.New(), Email: "alice@example.com"}

	_, a, err := issuer.GenerateToken(user)
	require.NoError(t, err)
	_, b, err := issuer.GenerateToken(user)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestValidateTokenRejects(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Hour)
	user := &models.User{ID: uuid.New(), Email: "alice@example.com"}

	t.Run("expired", func(t *testing.T) {
		expired := NewTokenIssuer("test-secret", time.Hour)
		expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		token, _, err := expired.GenerateToken(user)
		require.NoError(t, err)

		_, err = issuer.ValidateToken(token)
		assert.ErrorIs(t, err, ErrTokenExpired)
		assert.ErrorIs(t, err, apperr.ErrAuth)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokenIssuer("other-secret", time.Hour)
		token, _, err := other.GenerateToken(user)
		require.NoError(t, err)

		_, err = issuer.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodNone, &JWTClaims{UserID: user.ID.String()})
		signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = issuer.ValidateToken(signed)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := issuer.ValidateToken("not-a-jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
