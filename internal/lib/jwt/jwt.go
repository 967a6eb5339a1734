package jwt

import (
	"errors"
	"fmt"
	"time"

	"courier/internal/domain/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrNoExpiry = errors.New("token has no exp claim")

type CustomClaims struct {
	UserID string      `json:"uid"`
	Role   models.Role `json:"role"`
	jwt.RegisteredClaims
}

// NewToken signs an HS256 access token. The backend issues real tokens;
// this is used by fakes and local tooling.
func NewToken(userID string, role models.Role, secret string, duration time.Duration) (string, error) {
	if userID == "" || secret == "" {
		return "", errors.New("not enough data for token generation")
	}

	claims := CustomClaims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(duration)),
			ID:        generateJTI(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// DecodeTokenPayload reads claims without verifying the signature.
// The device holds no verification key; the backend remains the authority.
func DecodeTokenPayload(tokenString string) (*CustomClaims, error) {
	claims := &CustomClaims{}

	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	return claims, nil
}

// ExpiresAt returns the exp claim of an access token.
func ExpiresAt(tokenString string) (time.Time, error) {
	claims, err := DecodeTokenPayload(tokenString)
	if err != nil {
		return time.Time{}, err
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}

	return claims.ExpiresAt.Time, nil
}

func generateJTI() string {
	return uuid.New().String()
}
