package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	UserID uint64 `json:"user_id"`
	jwt.RegisteredClaims
}

// SignJWT issues an HS256 token. Token issuance belongs to the identity
// service; this is used by tests and local tooling.
func SignJWT(userID uint64, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseJWT validates the signature and expiry and returns the user id.
func ParseJWT(tokenStr, secret string) (uint64, error) {
	if tokenStr == "" {
		return 0, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == 0 {
		return 0, ErrInvalidToken
	}
	return claims.UserID, nil
}

// UserLookup reports whether a user id exists.
type UserLookup func(ctx context.Context, userID uint64) (bool, error)

// Verifier resolves a bearer credential to an existing user.
type Verifier struct {
	Secret string
	Exists UserLookup
}

func NewVerifier(secret string, exists UserLookup) *Verifier {
	return &Verifier{Secret: secret, Exists: exists}
}

func (v *Verifier) ResolveIdentity(ctx context.Context, credential string) (uint64, error) {
	uid, err := ParseJWT(credential, v.Secret)
	if err != nil {
		return 0, err
	}
	if v.Exists == nil {
		return uid, nil
	}
	ok, err := v.Exists(ctx, uid)
	if err != nil {
		return 0, fmt.Errorf("lookup user %d: %w", uid, err)
	}
	if !ok {
		return 0, ErrInvalidToken
	}
	return uid, nil
}
