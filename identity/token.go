// Package identity verifies the short-lived voice JWT presented on a WS
// upgrade or HTTP request and extracts the tenant/site/user claims every
// downstream component scopes its work by (spec §4.1).
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/corewave-ai/voicegateway/schema"
)

// Claims is the decoded payload of a voice JWT.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenantId"`
	SiteID   string `json:"siteId"`
	UserID   string `json:"userId,omitempty"`
	Locale   string `json:"locale,omitempty"`
}

// Verifier validates voice JWTs with a fixed signing key and an optional
// development-mode bypass. It is safe for concurrent use.
type Verifier struct {
	keyFunc     jwt.Keyfunc
	environment string
	devTenant   *schema.Auth
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithEnvironment sets the deployment environment ("development",
// "staging", "production", ...). Only "development" allows the bypass
// configured via WithDevBypass.
func WithEnvironment(env string) Option {
	return func(v *Verifier) { v.environment = env }
}

// WithDevBypass registers a synthetic tenant returned when no token is
// present. It only ever takes effect when the verifier's environment is
// exactly "development" (spec §4.1: "MUST NOT activate when the environment
// is non-development").
func WithDevBypass(auth schema.Auth) Option {
	return func(v *Verifier) { v.devTenant = &auth }
}

// NewVerifier creates a Verifier that checks tokens with the given HMAC
// secret. For asymmetric keys, use NewVerifierWithKeyFunc.
func NewVerifier(hmacSecret []byte, opts ...Option) *Verifier {
	return NewVerifierWithKeyFunc(func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", t.Header["alg"])
		}
		return hmacSecret, nil
	}, opts...)
}

// NewVerifierWithKeyFunc creates a Verifier using an arbitrary jwt.Keyfunc,
// e.g. for RS256/JWKS-backed verification.
func NewVerifierWithKeyFunc(keyFunc jwt.Keyfunc, opts ...Option) *Verifier {
	v := &Verifier{keyFunc: keyFunc}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify parses and validates a raw token string, returning the extracted
// Auth claims. It fails with schema.ErrAuthFailed on a missing token (unless
// the dev bypass applies), bad signature, or missing required claims, and
// with schema.ErrTokenExpired when the token has expired.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (schema.Auth, error) {
	if rawToken == "" {
		if v.environment == "development" && v.devTenant != nil {
			return *v.devTenant, nil
		}
		return schema.Auth{}, schema.NewError("identity.verify", schema.ErrAuthFailed, "missing token", nil)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, v.keyFunc, jwt.WithLeeway(5*time.Second))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return schema.Auth{}, schema.NewError("identity.verify", schema.ErrTokenExpired, "token expired", err)
		}
		return schema.Auth{}, schema.NewError("identity.verify", schema.ErrAuthFailed, "invalid token", err)
	}
	if !token.Valid {
		return schema.Auth{}, schema.NewError("identity.verify", schema.ErrAuthFailed, "invalid token", nil)
	}

	if claims.TenantID == "" || claims.SiteID == "" {
		return schema.Auth{}, schema.NewError("identity.verify", schema.ErrAuthFailed, "missing required claims", nil)
	}

	return schema.Auth{
		TenantID: claims.TenantID,
		SiteID:   claims.SiteID,
		UserID:   claims.UserID,
		Locale:   claims.Locale,
	}, nil
}
