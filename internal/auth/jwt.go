package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"transcribe_gateway/internal/config"
)

// DefaultUserTokenTTL is the lifetime of tokens minted by GenerateUserJWT
const DefaultUserTokenTTL = 24 * time.Hour

// UserClaims identifies an end user. The subject is the user id (email).
type UserClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// UserID returns the subject, falling back to the email claim
func (c *UserClaims) UserID() string {
	if c.Subject != "" {
		return c.Subject
	}
	return strings.ToLower(c.Email)
}

// GenerateUserJWT creates a token for userID that expires after ttl
func GenerateUserJWT(userID string, ttl time.Duration, cfg *config.Config) (string, int64, error) {
	if ttl <= 0 {
		ttl = DefaultUserTokenTTL
	}
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := UserClaims{
		Email: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(cfg.JWTSecret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signedToken, expiresAt.Unix(), nil
}

// ValidateUserJWT verifies the token signature and expiry and returns its claims
func ValidateUserJWT(tokenString string, cfg *config.Config) (*UserClaims, error) {
	claims := &UserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return cfg.JWTSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID() == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
