package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndVerify(t *testing.T) {
	verifier := NewVerifier("test-secret")

	raw, err := verifier.Mint("agent-1", "tenant-a", "", time.Hour)
	require.NoError(t, err)

	claims, err := verifier.Verify(raw)
	require.NoError(t, err)
	assert.Equal(t, "agent-1", claims.AgentID)
	assert.Equal(t, "tenant-a", claims.TenantID)
	assert.False(t, claims.IsPrivileged())
}

func TestVerifyAdminRole(t *testing.T) {
	verifier := NewVerifier("test-secret")

	raw, err := verifier.Mint("ops-1", "tenant-a", RoleAdmin, time.Hour)
	require.NoError(t, err)

	claims, err := verifier.Verify(raw)
	require.NoError(t, err)
	assert.True(t, claims.IsPrivileged())
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	raw, err := NewVerifier("secret-one").Mint("agent-1", "tenant-a", "", time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("secret-two").Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	verifier := NewVerifier("test-secret")

	raw, err := verifier.Mint("agent-1", "tenant-a", "", -time.Minute)
	require.NoError(t, err)

	_, err = verifier.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRequiresIdentity(t *testing.T) {
	verifier := NewVerifier("test-secret")

	for name, claims := range map[string]*Claims{
		"missing agent":  {TenantID: "tenant-a"},
		"missing tenant": {AgentID: "agent-1"},
	} {
		claims.RegisteredClaims = jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}
		raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
		require.NoError(t, err, name)

		_, err = verifier.Verify(raw)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}

func TestVerifyRejectsUnsignedToken(t *testing.T) {
	verifier := NewVerifier("test-secret")

	claims := &Claims{AgentID: "agent-1", TenantID: "tenant-a"}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = verifier.Verify(raw)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenFromRequestPrecedence(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/tracking/ws?token=from-query", nil)
	r.Header.Set(HeaderAuthToken, "from-header")
	r.Header.Set("Authorization", "Bearer from-bearer")

	raw, err := TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "from-header", raw, "dedicated header wins")

	r.Header.Del(HeaderAuthToken)
	raw, err = TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "from-query", raw, "query parameter beats bearer")

	r = httptest.NewRequest("GET", "/api/v1/tracking/ws", nil)
	r.Header.Set("Authorization", "Bearer from-bearer")
	raw, err = TokenFromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "from-bearer", raw)
}

func TestTokenFromRequestMissing(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/v1/tracking/ws", nil)
	_, err := TokenFromRequest(r)
	assert.ErrorIs(t, err, ErrMissingToken)

	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	_, err = TokenFromRequest(r)
	assert.ErrorIs(t, err, ErrMissingToken, "non-bearer authorization is ignored")
}
