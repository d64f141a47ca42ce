// Package auth verifies the signed identity tokens that gate both the live
// channel handshake and the HTTP API.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HeaderAuthToken is the dedicated handshake auth field. It takes precedence
// over the token query parameter, which takes precedence over the bearer
// header.
const HeaderAuthToken = "X-Auth-Token"

const RoleAdmin = "admin"

var (
	ErrMissingToken = errors.New("auth: missing token")
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims is the identity carried by a verified token. AgentID and TenantID
// are mandatory; a token without them is rejected at handshake.
type Claims struct {
	AgentID  string `json:"agent_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HMAC-signed identity tokens.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses and validates raw, returning its claims. Tokens with a
// missing agent or tenant identity fail verification.
func (v *Verifier) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.AgentID == "" || claims.TenantID == "" {
		return nil, fmt.Errorf("%w: agent_id and tenant_id are required", ErrInvalidToken)
	}
	return claims, nil
}

// Mint issues a signed token for the given identity. Used by tests and by
// operator tooling; production tokens come from the identity system, which
// shares the signing secret.
func (v *Verifier) Mint(agentID, tenantID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		AgentID:  agentID,
		TenantID: tenantID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// TokenFromRequest extracts the raw token from r using the handshake
// precedence order: dedicated auth header, token query parameter, bearer
// header.
func TokenFromRequest(r *http.Request) (string, error) {
	if raw := strings.TrimSpace(r.Header.Get(HeaderAuthToken)); raw != "" {
		return raw, nil
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("token")); raw != "" {
		return raw, nil
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1]), nil
		}
	}
	return "", ErrMissingToken
}

// IsPrivileged reports whether the claims carry a role with elevated API
// rate ceilings.
func (c *Claims) IsPrivileged() bool {
	return c != nil && c.Role == RoleAdmin
}
