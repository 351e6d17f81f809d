package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corewave-ai/voicegateway/schema"
)

var secret = []byte("test-secret")

func signToken(t *testing.T, claims Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString(secret)
	require.NoError(t, err)
	return s
}

func TestVerify_Success(t *testing.T) {
	v := NewVerifier(secret)
	raw := signToken(t, Claims{
		TenantID: "tenant-1",
		SiteID:   "site-1",
		UserID:   "user-1",
		Locale:   "en-US",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	auth, err := v.Verify(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", auth.TenantID)
	assert.Equal(t, "site-1", auth.SiteID)
	assert.Equal(t, "en-US", auth.Locale)
}

func TestVerify_MissingToken(t *testing.T) {
	v := NewVerifier(secret)
	_, err := v.Verify(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, schema.ErrAuthFailed, schema.Code(err))
}

func TestVerify_MissingRequiredClaims(t *testing.T) {
	v := NewVerifier(secret)
	raw := signToken(t, Claims{
		TenantID: "tenant-1",
		// SiteID missing.
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	_, err := v.Verify(context.Background(), raw)
	require.Error(t, err)
	assert.Equal(t, schema.ErrAuthFailed, schema.Code(err))
}

func TestVerify_Expired(t *testing.T) {
	v := NewVerifier(secret)
	raw := signToken(t, Claims{
		TenantID: "t", SiteID: "s",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	})
	_, err := v.Verify(context.Background(), raw)
	require.Error(t, err)
	assert.Equal(t, schema.ErrTokenExpired, schema.Code(err))
}

func TestVerify_BadSignature(t *testing.T) {
	v := NewVerifier(secret)
	other := NewVerifier([]byte("wrong-secret"))
	raw := signWith(t, other, Claims{TenantID: "t", SiteID: "s"})
	_, err := v.Verify(context.Background(), raw)
	require.Error(t, err)
	assert.Equal(t, schema.ErrAuthFailed, schema.Code(err))
}

func signWith(t *testing.T, v *Verifier, claims Claims) string {
	t.Helper()
	// Sign with the "wrong" verifier's own secret by constructing a fresh
	// HMAC token; v.keyFunc isn't directly usable as a signer, so just
	// reuse the package-level secret convention via a second constant.
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte("wrong-secret"))
	require.NoError(t, err)
	return s
}

func TestVerify_DevBypass(t *testing.T) {
	dev := schema.Auth{TenantID: "dev-tenant", SiteID: "dev-site"}
	v := NewVerifier(secret, WithEnvironment("development"), WithDevBypass(dev))
	auth, err := v.Verify(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, dev, auth)
}

func TestVerify_DevBypassInactiveInProduction(t *testing.T) {
	dev := schema.Auth{TenantID: "dev-tenant", SiteID: "dev-site"}
	v := NewVerifier(secret, WithEnvironment("production"), WithDevBypass(dev))
	_, err := v.Verify(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, schema.ErrAuthFailed, schema.Code(err))
}

func TestExtractToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=abc123", nil)
	assert.Equal(t, "abc123", ExtractToken(r))

	r2 := httptest.NewRequest(http.MethodGet, "/session", nil)
	r2.Header.Set("Authorization", "Bearer xyz")
	assert.Equal(t, "xyz", ExtractToken(r2))

	r3 := httptest.NewRequest(http.MethodGet, "/session", nil)
	assert.Equal(t, "", ExtractToken(r3))
}
