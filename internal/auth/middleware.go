package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Bearer enforces bearer JWT tokens signed with HS256.
func Bearer(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("claims", claims)
		c.Next()
	}
}

// FromContext returns the claims stored by Bearer, if any.
func FromContext(c *gin.Context) (Claims, bool) {
	claimsAny, ok := c.Get("claims")
	if !ok {
		return Claims{}, false
	}
	claims, ok := claimsAny.(Claims)
	return claims, ok
}

// RequireSchool rejects callers whose claims do not cover the school in the
// :schoolID route param. SUPER_ADMIN passes everywhere.
func RequireSchool(c *gin.Context, claims Claims) bool {
	schoolID := c.Param("schoolID")
	if claims.Role == RoleSuperAdmin || claims.SchoolID == schoolID {
		return true
	}
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
	return false
}
