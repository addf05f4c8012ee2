package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/obakengshepherd/risksentinel/internal/apierror"
)

const (
	AuthorizationHeader = "Authorization"
	BearerPrefix        = "Bearer "
	UserIDKey           = "user_id"
	UserEmailKey        = "user_email"
	UserRoleKey         = "user_role"
)

// AuthMiddleware validates the bearer token on every protected route,
// denying access per §7's authentication taxonomy (401) and logging every
// rejection with the same structured fields loggingMiddleware attaches to
// every request.
func AuthMiddleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetString("request_id")

		authHeader := c.GetHeader(AuthorizationHeader)
		if authHeader == "" {
			log.Warn().Str("request_id", requestID).Str("path", c.Request.URL.Path).Msg("auth: missing authorization header")
			abortUnauthorized(c, requestID, "missing authorization header")
			return
		}

		if !strings.HasPrefix(authHeader, BearerPrefix) {
			log.Warn().Str("request_id", requestID).Str("path", c.Request.URL.Path).Msg("auth: malformed authorization header")
			abortUnauthorized(c, requestID, "invalid authorization header format")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, BearerPrefix)
		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			message := "invalid token"
			if err == ErrExpiredToken {
				message = "token has expired"
			}
			log.Warn().Err(err).Str("request_id", requestID).Str("path", c.Request.URL.Path).Msg("auth: token validation failed")
			abortUnauthorized(c, requestID, message)
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UserEmailKey, claims.Email)
		c.Set(UserRoleKey, claims.Role)

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, requestID, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, apierror.Body{
		Error: apierror.BodyDetail{Code: string(apierror.KindAuthentication), Message: message, RequestID: requestID},
	})
}

// RoleMiddleware restricts a route to the given roles — e.g. rule CRUD is
// pinned to admin/analyst (§6) since it rewrites live fraud-scoring
// weights. Denials map to §7's authorization taxonomy (403) and are logged
// with the offending role so a pattern of 403s is traceable to an account.
func RoleMiddleware(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetString("request_id")

		role, exists := c.Get(UserRoleKey)
		if !exists {
			log.Warn().Str("request_id", requestID).Str("path", c.Request.URL.Path).Msg("auth: role not found in context")
			abortForbidden(c, requestID, "role not found in context")
			return
		}

		userRole := role.(string)
		for _, allowedRole := range allowedRoles {
			if userRole == allowedRole {
				c.Next()
				return
			}
		}

		log.Warn().Str("request_id", requestID).Str("role", userRole).Str("path", c.Request.URL.Path).Msg("auth: insufficient role for route")
		abortForbidden(c, requestID, "insufficient permissions")
	}
}

func abortForbidden(c *gin.Context, requestID, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, apierror.Body{
		Error: apierror.BodyDetail{Code: string(apierror.KindAuthorization), Message: message, RequestID: requestID},
	})
}

// GetUserIDFromContext extracts user ID from Gin context
func GetUserIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return uuid.Nil, false
	}
	return userID.(uuid.UUID), true
}

// GetUserRoleFromContext extracts user role from Gin context
func GetUserRoleFromContext(c *gin.Context) (string, bool) {
	role, exists := c.Get(UserRoleKey)
	if !exists {
		return "", false
	}
	return role.(string), true
}

// OptionalAuthMiddleware allows requests without auth but extracts user
// info if a valid bearer token is present — used where a handler wants to
// attribute an action to a caller when possible without requiring one.
func OptionalAuthMiddleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthorizationHeader)
		if authHeader == "" || !strings.HasPrefix(authHeader, BearerPrefix) {
			c.Next()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, BearerPrefix)
		claims, err := jwtManager.ValidateToken(tokenString)
		if err == nil {
			c.Set(UserIDKey, claims.UserID)
			c.Set(UserEmailKey, claims.Email)
			c.Set(UserRoleKey, claims.Role)
		}

		c.Next()
	}
}
