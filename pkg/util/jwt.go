package util

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrEmptySecret  = errors.New("jwt secret must not be empty")
)

// DefaultSessionExpiry is the lifetime of a session token.
const DefaultSessionExpiry = 24 * time.Hour

// SessionUser is the identity snapshot carried inside a session token.
// Mutable profile fields and the password hash are deliberately absent;
// the protected-route gate re-reads the user from the store.
type SessionUser struct {
	ID         uint   `json:"id"`
	Email      string `json:"email"`
	IsVerified bool   `json:"isVerified"`
}

// SessionClaims are the JWT claims of a session token.
type SessionClaims struct {
	User SessionUser `json:"user"`
	jwt.RegisteredClaims
}

// SessionIssuer signs and validates HS256 session tokens with a secret
// supplied at construction.
type SessionIssuer struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewSessionIssuer(secret string, expiry time.Duration) (*SessionIssuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if expiry <= 0 {
		expiry = DefaultSessionExpiry
	}
	return &SessionIssuer{
		secret: []byte(secret),
		expiry: expiry,
		now:    time.Now,
	}, nil
}

// Expiry returns the configured token lifetime.
func (s *SessionIssuer) Expiry() time.Duration {
	return s.expiry
}

// Issue returns a signed session token for the given identity.
func (s *SessionIssuer) Issue(user SessionUser) (string, error) {
	now := s.now()
	claims := SessionClaims{
		User: user,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(user.ID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate checks the signature and expiry of tokenString and returns its claims.
func (s *SessionIssuer) Validate(tokenString string) (*SessionClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if !token.Valid || claims.User.ID == 0 {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
