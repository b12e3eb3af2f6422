package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/pkg/auth"
	apperrors "github.com/freightlane/notify-api/pkg/errors"
	"github.com/freightlane/notify-api/pkg/httputil"
)

const (
	ContextUserID   = "user_id"
	ContextUserType = "user_type"
)

type AuthMiddleware struct {
	tokens auth.JWTService
}

func NewAuthMiddleware(tokens auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Authenticate verifies the bearer token and stores the caller's identity.
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httputil.RespondWithError(c, apperrors.Unauthorized(auth.ErrMissingToken))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.RespondWithError(c, apperrors.Unauthorized(auth.ErrInvalidToken))
			return
		}

		claims, err := m.tokens.ValidateToken(parts[1])
		if err != nil {
			httputil.RespondWithError(c, apperrors.Unauthorized(err))
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserType, model.UserType(claims.UserType))
		c.Next()
	}
}

// RequireUserType lets through only callers of one of the given types.
func (m *AuthMiddleware) RequireUserType(types ...model.UserType) gin.HandlerFunc {
	return func(c *gin.Context) {
		current := UserType(c)
		for _, t := range types {
			if current == t {
				c.Next()
				return
			}
		}
		httputil.RespondWithError(c, apperrors.Forbidden("operation not allowed for "+string(current)))
	}
}

func UserID(c *gin.Context) string {
	return c.GetString(ContextUserID)
}

func UserType(c *gin.Context) model.UserType {
	if v, ok := c.Get(ContextUserType); ok {
		if t, ok := v.(model.UserType); ok {
			return t
		}
	}
	return ""
}
