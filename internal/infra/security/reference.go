package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidReference indicates the pending-login reference failed
	// signature or claim validation.
	ErrInvalidReference = errors.New("invalid pending login reference")
)

type referenceClaims struct {
	Reference string `json:"ref"`
	jwt.RegisteredClaims
}

// ReferenceSigner mints and verifies the signed opaque handle a client holds
// while a login is waiting on two-factor verification. The handle carries no
// user data, only a random reference resolvable server-side.
type ReferenceSigner struct {
	secret []byte
	issuer string
}

// NewReferenceSigner constructs a signer keyed with the server secret.
func NewReferenceSigner(serverSecret, issuer string) (*ReferenceSigner, error) {
	if serverSecret == "" {
		return nil, fmt.Errorf("server secret is required")
	}
	return &ReferenceSigner{secret: []byte(serverSecret), issuer: issuer}, nil
}

// Mint signs the reference into a compact token expiring after ttl.
func (s *ReferenceSigner) Mint(reference string, issuedAt time.Time, ttl time.Duration) (string, error) {
	claims := referenceClaims{
		Reference: reference,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign pending reference: %w", err)
	}

	return signed, nil
}

// Parse validates the signed token and returns the embedded reference.
func (s *ReferenceSigner) Parse(signed string) (string, error) {
	var claims referenceClaims
	token, err := jwt.ParseWithClaims(signed, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", ErrInvalidReference
	}

	if claims.Reference == "" {
		return "", ErrInvalidReference
	}

	return claims.Reference, nil
}
