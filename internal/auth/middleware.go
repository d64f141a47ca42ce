package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const claimsContextKey = "fieldtrack.claims"

// Middleware verifies the request token and stores the claims on the gin
// context. Requests without a valid token get 401 and never reach the
// handler.
func Middleware(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := TokenFromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			return
		}
		claims, err := verifier.Verify(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// ClaimsFromContext returns the verified claims stored by Middleware, or nil
// when the request was not authenticated.
func ClaimsFromContext(c *gin.Context) *Claims {
	value, ok := c.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := value.(*Claims)
	return claims
}
