package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ragpipe/internal/pkg/errcode"
	"github.com/xxxsen/ragpipe/internal/pkg/jwt"
	"github.com/xxxsen/ragpipe/internal/pkg/response"
)

const (
	ContextSubjectKey = "sub_name"
	ContextAdminKey   = "is_admin"
	ContextServiceKey = "is_service"

	serviceSubject = "service"
)

// RequireAdmin rejects requests without a valid admin bearer token. With no
// secret configured every request is rejected.
func RequireAdmin(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(secret) == 0 {
			response.Abort(c, errcode.ErrForbidden, "admin access disabled")
			return
		}
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Abort(c, errcode.ErrUnauthorized, "missing authorization")
			return
		}
		claims, ok := parseBearer(header, secret)
		if !ok {
			response.Abort(c, errcode.ErrUnauthorized, "invalid token")
			return
		}
		if claims.Role != jwt.RoleAdmin {
			response.Abort(c, errcode.ErrForbidden, "admin role required")
			return
		}
		c.Set(ContextSubjectKey, claims.Subject)
		c.Set(ContextAdminKey, true)
		c.Next()
	}
}

// OptionalAdmin marks the request as admin when it carries a valid admin
// token, or as a service call when the bearer equals serviceToken. A present
// token matching neither is rejected. Service calls are never admin.
func OptionalAdmin(secret []byte, serviceToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		if matchServiceToken(header, serviceToken) {
			c.Set(ContextSubjectKey, serviceSubject)
			c.Set(ContextServiceKey, true)
			c.Next()
			return
		}
		if len(secret) == 0 {
			c.Next()
			return
		}
		claims, ok := parseBearer(header, secret)
		if !ok {
			response.Abort(c, errcode.ErrUnauthorized, "invalid token")
			return
		}
		c.Set(ContextSubjectKey, claims.Subject)
		c.Set(ContextAdminKey, claims.Role == jwt.RoleAdmin)
		c.Next()
	}
}

func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextAdminKey)
}

func matchServiceToken(header string, serviceToken string) bool {
	if serviceToken == "" {
		return false
	}
	token, ok := bearerToken(header)
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(serviceToken)) == 1
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func parseBearer(header string, secret []byte) (*jwt.Claims, bool) {
	token, ok := bearerToken(header)
	if !ok {
		return nil, false
	}
	claims, err := jwt.ParseToken(token, secret)
	if err != nil {
		return nil, false
	}
	return claims, true
}
