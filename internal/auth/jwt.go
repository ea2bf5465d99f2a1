package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/filevault-gateway/internal/apperr"
	"github.com/filevault-gateway/internal/models"
)

// JWTClaims JWT令牌声明
type JWTClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Identity returns the authenticated identity carried by the claims.
func (c *JWTClaims) Identity() (models.Identity, error) {
	id, err := uuid.Parse(c.UserID)
	if err != nil {
		return models.Identity{}, ErrInvalidToken
	}
	return models.Identity{UserID: id, Email: c.Email}, nil
}

// TokenIssuer signs and verifies HS256 session tokens. Each token gets a
// unique ID so that logout can revoke it individually.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// GenerateToken 生成JWT令牌
func (t *TokenIssuer) GenerateToken(user *models.User) (string, *JWTClaims, error) {
	now := t.now()
	claims := &JWTClaims{
		UserID: user.ID.String(),
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// ValidateToken 验证JWT令牌
func (t *TokenIssuer) ValidateToken(tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

var (
	ErrInvalidToken = apperr.New(apperr.ErrAuth, "invalid token")
	ErrTokenExpired = apperr.New(apperr.ErrAuth, "token has expired")
)
