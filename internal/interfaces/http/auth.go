package http

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrMissingToken = errors.New("missing bearer token")

// Claims identifies the caller; the subject is the actor id used for every action
type Claims struct {
	jwt.RegisteredClaims
	ClientID string   `json:"client_id,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// HasRole reports whether the token grants role
func (c *Claims) HasRole(role string) bool {
	if role == "" {
		return false
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Authenticator validates HS256 bearer tokens
type Authenticator struct {
	secret []byte
	issuer string
	leeway time.Duration
}

// NewAuthenticator creates an authenticator. An empty issuer accepts any issuer.
func NewAuthenticator(secret, issuer string) (*Authenticator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer, leeway: 30 * time.Second}, nil
}

// Issue signs a token for subject, used by tooling and tests
func (a *Authenticator) Issue(subject, clientID string, ttl time.Duration, roles ...string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		ClientID: clientID,
		Roles:    roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate parses the token string and returns its claims
func (a *Authenticator) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.leeway),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	tok, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := tok.Claims.(*Claims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

func bearerToken(header string) (string, error) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}
