package middleware

import (
	"net/http"

	"ai-tutor-platform/internal/auth"
	"ai-tutor-platform/utils"

	"github.com/gin-gonic/gin"
)

type AuthMiddleware struct {
	validator *auth.TokenValidator
}

func NewAuthMiddleware(validator *auth.TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// RequireAuth rejects requests without a valid bearer token.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if tokenString == "" {
			utils.AbortWithError(c, http.StatusUnauthorized, "unauthorized", "Authentication token is required", nil)
			return
		}

		claims, err := a.validator.ValidateToken(c.Request.Context(), tokenString)
		if err != nil {
			utils.AbortWithError(c, http.StatusUnauthorized, "invalid_token", "Your session has expired. Please log in again.", gin.H{"error": err.Error()})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)
		c.Set("claims", claims)

		c.Next()
	}
}

// Helper function to get user ID from context
func GetUserID(c *gin.Context) string {
	if userID, exists := c.Get("user_id"); exists {
		if id, ok := userID.(string); ok {
			return id
		}
	}
	return ""
}

func GetClaims(c *gin.Context) (*auth.Claims, bool) {
	v, exists := c.Get("claims")
	if !exists {
		return nil, false
	}
	cl, ok := v.(*auth.Claims)
	return cl, ok
}
