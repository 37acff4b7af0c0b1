package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenTTL is how long an issued read token stays valid.
	DefaultTokenTTL = 24 * time.Hour
	// clockSkew back-dates not-before to tolerate skewed clocks.
	clockSkew = 15 * time.Minute
)

// ErrInvalidToken is returned when a token is malformed, expired, or was
// issued for another blob.
var ErrInvalidToken = errors.New("storage: invalid access token")

// Claims are the JWT claims of a read token.
type Claims struct {
	Blob string `json:"blob"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies blob read tokens.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewIssuer returns an issuer signing with key. ttl <= 0 selects DefaultTokenTTL.
func NewIssuer(key []byte, ttl time.Duration) (*Issuer, error) {
	if len(key) < 16 {
		return nil, fmt.Errorf("storage: signing key must be at least 16 bytes")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Issuer{key: key, ttl: ttl, now: time.Now}, nil
}

// Issue returns a read token for blob and its expiry.
func (i *Issuer) Issue(blob string) (string, time.Time, error) {
	now := i.now().UTC()
	expires := now.Add(i.ttl)
	claims := Claims{
		Blob: blob,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-clockSkew)),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks that token is valid now and grants access to blob.
func (i *Issuer) Verify(token, blob string) error {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, i.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Blob != blob {
		return fmt.Errorf("%w: issued for another blob", ErrInvalidToken)
	}
	return nil
}

// Expiry returns the advertised expiry of a correctly signed token without
// checking whether it is still valid.
func (i *Issuer) Expiry(token string) (time.Time, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithoutClaimsValidation(), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if _, err := parser.ParseWithClaims(token, claims, i.keyFunc); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("%w: no expiry", ErrInvalidToken)
	}
	return claims.ExpiresAt.Time, nil
}

func (i *Issuer) keyFunc(*jwt.Token) (any, error) {
	return i.key, nil
}
