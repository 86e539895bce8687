package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"portal-gateway/internal/identity"
)

// Claims is the session token payload. Role and ModuleID are the coarse claims
// the session gate checks.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"userId"`
	Role     string `json:"role,omitempty"`
	ModuleID int    `json:"moduleId,omitempty"`
}

const DefaultTokenTTL = 8 * time.Hour

var ErrInvalidToken = errors.New("invalid token")

// GenerateAccessToken creates a signed HS256 session token.
func GenerateAccessToken(userID, role string, moduleID int, ttl time.Duration, secret string) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:   userID,
		Role:     role,
		ModuleID: moduleID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature and expiry and returns the claims.
func ParseAccessToken(tokenStr string, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TokenCodec issues and verifies HS256 session tokens with a shared secret.
type TokenCodec struct {
	Secret string
	TTL    time.Duration
}

func (tc TokenCodec) Issue(c identity.SessionClaims) (string, error) {
	return GenerateAccessToken(c.UserID, c.Role, c.ModuleID, tc.TTL, tc.Secret)
}

func (tc TokenCodec) Parse(token string) (identity.SessionClaims, error) {
	claims, err := ParseAccessToken(token, tc.Secret)
	if err != nil {
		return identity.SessionClaims{}, err
	}
	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	return identity.SessionClaims{UserID: userID, Role: claims.Role, ModuleID: claims.ModuleID}, nil
}
