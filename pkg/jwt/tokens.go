package jwt

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// LeaseClaims defines the payload of a preview lease token.
type LeaseClaims struct {
	ArtifactRef string `json:"artifact_ref"`
	LeaseID     string `json:"lease_id"`
	jwtlib.RegisteredClaims
}

// GenerateLeaseToken issues a signed preview token scoped to one artifact.
func GenerateLeaseToken(leaseID, artifactRef, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := LeaseClaims{
		ArtifactRef: artifactRef,
		LeaseID:     leaseID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    "sitelift",
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ErrExpired reports a structurally valid token past its expiry.
var ErrExpired = jwtlib.ErrTokenExpired

// ParseLeaseToken validates a preview token and extracts its claims.
// Expired tokens return ErrExpired so callers can distinguish expiry
// from forgery.
func ParseLeaseToken(token, secret string) (*LeaseClaims, error) {
	parsed, err := jwtlib.ParseWithClaims(token, &LeaseClaims{}, func(t *jwtlib.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Name}))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*LeaseClaims)
	if !ok || !parsed.Valid {
		return nil, jwtlib.ErrTokenInvalidClaims
	}
	return claims, nil
}
