package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var JwtSecret = []byte("medistock-dev-secret")

// SetJWTSecret installs the signing secret from config before the router
// starts serving.
func SetJWTSecret(secret string) {
	if secret != "" {
		JwtSecret = []byte(secret)
	}
}

// Claims is the identity triple the core trusts on every call: who, which
// hospital, and in what role. Credentials themselves are validated by the
// external auth provider that minted the token.
type Claims struct {
	UserID     int64  `json:"user_id"`
	HospitalID int64  `json:"hospital_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

func GenerateToken(userID, hospitalID int64, role string, ttl time.Duration) (string, time.Time, error) {
	exp := time.Now().Add(ttl)
	claims := &Claims{
		UserID:     userID,
		HospitalID: hospitalID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := t.SignedString(JwtSecret)
	return s, exp, err
}

func ParseToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return JwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
