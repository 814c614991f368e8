// Package authguard validates bearer JWTs against a JWKS endpoint before
// a request reaches the deliberation or management handlers. The two
// endpoint families are guarded by independent key sets: compromising
// the credential that can submit workflows for deliberation must not
// also grant policy-management access, and vice versa.
package authguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// ErrMissingToken and ErrInvalidToken are the two failure modes a Guard
// can report; the HTTP layer maps both to 401.
var (
	ErrMissingToken = errors.New("authguard: no bearer token presented")
	ErrInvalidToken = errors.New("authguard: token failed validation")
)

// Claims is the subset of a validated token this module cares about.
type Claims struct {
	Subject string
	Scopes  []string
}

// Guard validates bearer tokens against one JWKS endpoint, cached and
// auto-refreshed by jwx's jwk.Cache.
type Guard struct {
	cache    *jwk.Cache
	jwksURL  string
	issuer   string
	audience string
}

// NewGuard registers jwksURL with a background-refreshing JWKS cache.
// Call once per guarded endpoint family at startup.
func NewGuard(ctx context.Context, jwksURL, issuer, audience string, refreshInterval time.Duration) (*Guard, error) {
	cache, err := jwk.NewCache(ctx, jwk.NewFetcher())
	if err != nil {
		return nil, fmt.Errorf("authguard: create jwk cache: %w", err)
	}
	if refreshInterval <= 0 {
		refreshInterval = 15 * time.Minute
	}
	if err := cache.Register(ctx, jwksURL, jwk.WithMinRefreshInterval(refreshInterval)); err != nil {
		return nil, fmt.Errorf("authguard: register jwks %s: %w", jwksURL, err)
	}
	return &Guard{cache: cache, jwksURL: jwksURL, issuer: issuer, audience: audience}, nil
}

// Validate parses and verifies a raw bearer token string, returning its
// claims on success.
func (g *Guard) Validate(ctx context.Context, rawToken string) (Claims, error) {
	if rawToken == "" {
		return Claims{}, ErrMissingToken
	}

	keySet, err := g.cache.Lookup(ctx, g.jwksURL)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: fetch jwks: %v", ErrInvalidToken, err)
	}

	opts := []jwt.ParseOption{jwt.WithKeySet(keySet)}
	if g.issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.issuer))
	}
	if g.audience != "" {
		opts = append(opts, jwt.WithAudience(g.audience))
	}

	token, err := jwt.ParseString(rawToken, opts...)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var scopes []string
	if raw, ok := token.Get("scope"); ok {
		if s, ok := raw.(string); ok {
			scopes = splitScope(s)
		}
	}

	return Claims{Subject: token.Subject(), Scopes: scopes}, nil
}

func splitScope(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ' ' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
