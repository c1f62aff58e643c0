package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	jwtutil "storefront/internal/utils"
	"storefront/pkg/log"
	"storefront/pkg/utils"
)

const (
	// AuthorizationHeader authorization header name
	AuthorizationHeader = "Authorization"
	// BearerPrefix bearer prefix
	BearerPrefix = "Bearer "
	// UserIDKey user id context key
	UserIDKey = "user_id"
	// UserRoleKey user role context key
	UserRoleKey = "user_role"
)

// UserInfo verified caller
type UserInfo struct {
	ID   uint64 `json:"id"`
	Role string `json:"role"`
}

// TokenValidator verifies a bearer token
type TokenValidator func(token string) (*UserInfo, error)

// AuthConfig auth configuration
type AuthConfig struct {
	TokenValidator TokenValidator
	// SkipPaths paths served without a token
	SkipPaths []string
	// RequiredRole role every caller must carry, empty for any
	RequiredRole string
}

// JWTValidator adapts the JWT manager to a TokenValidator
func JWTValidator(m *jwtutil.JWTManager) TokenValidator {
	return func(token string) (*UserInfo, error) {
		claims, err := m.ValidateToken(token)
		if err != nil {
			return nil, err
		}
		return &UserInfo{ID: claims.UserID, Role: claims.Role}, nil
	}
}

// Auth requires a valid bearer token
func Auth(validator TokenValidator) gin.HandlerFunc {
	return AuthWithConfig(AuthConfig{
		TokenValidator: validator,
	})
}

// AuthWithConfig auth middleware with configuration
func AuthWithConfig(config AuthConfig) gin.HandlerFunc {
	skipPaths := make(map[string]bool)
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		if skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		authHeader := c.GetHeader(AuthorizationHeader)
		if authHeader == "" {
			abort(c, utils.NewError(utils.CodeUnauthorized, "missing authorization header"))
			return
		}

		if !strings.HasPrefix(authHeader, BearerPrefix) {
			abort(c, utils.NewError(utils.CodeUnauthorized, "invalid authorization header format"))
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, BearerPrefix))
		if token == "" {
			abort(c, utils.NewError(utils.CodeUnauthorized, "missing token"))
			return
		}

		userInfo, err := config.TokenValidator(token)
		if err != nil {
			log.WithFields(map[string]interface{}{
				"path": c.Request.URL.Path,
				"ip":   c.ClientIP(),
			}).WithError(err).Debug("Token rejected")
			abort(c, utils.NewError(utils.CodeUnauthorized, "invalid token"))
			return
		}

		if config.RequiredRole != "" && userInfo.Role != config.RequiredRole {
			abort(c, utils.NewError(utils.CodeForbidden, "insufficient permissions"))
			return
		}

		c.Set(UserIDKey, userInfo.ID)
		c.Set(UserRoleKey, userInfo.Role)

		c.Next()
	}
}

// RequireRole runs after Auth and rejects callers without the role
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if current, ok := GetUserRole(c); !ok || current != role {
			abort(c, utils.NewError(utils.CodeForbidden, "insufficient permissions"))
			return
		}
		c.Next()
	}
}

// GetUserID user id set by Auth
func GetUserID(c *gin.Context) (uint64, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}

	id, ok := userID.(uint64)
	if !ok || id == 0 {
		return 0, false
	}
	return id, true
}

// GetUserRole user role set by Auth
func GetUserRole(c *gin.Context) (string, bool) {
	role, exists := c.Get(UserRoleKey)
	if !exists {
		return "", false
	}

	if roleStr, ok := role.(string); ok {
		return roleStr, true
	}
	return "", false
}

func abort(c *gin.Context, err error) {
	utils.Error(c, err)
	c.Abort()
}
