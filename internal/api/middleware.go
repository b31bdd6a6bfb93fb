package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rongwang/medchain-server/internal/models"
	"github.com/rongwang/medchain-server/internal/service"
)

const callerKey = "caller"

func unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, models.ErrorResponse{
		Status:  "error",
		Code:    "UNAUTHORIZED",
		Message: message,
	})
	c.Abort()
}

// AuthMiddleware returns a Gin middleware for authentication. It validates
// the bearer token and resolves its subject to a Caller that every handler
// passes explicitly to the service.
func AuthMiddleware(jwtSecret []byte, svc service.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Get the JWT token from the Authorization header
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			unauthorized(c, "Authentication required")
			return
		}

		// Check if the Authorization header starts with "Bearer "
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(c, "Invalid token format")
			return
		}

		// Parse the JWT token; only HMAC signatures are accepted
		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			return jwtSecret, nil
		}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
		if err != nil || !token.Valid {
			unauthorized(c, "Invalid token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			unauthorized(c, "Invalid token claims")
			return
		}

		userID, err := claims.GetSubject()
		if err != nil || userID == "" {
			unauthorized(c, "Invalid user ID in token")
			return
		}

		// The identity may have been removed since the token was issued
		caller, err := svc.ResolveCaller(c.Request.Context(), userID)
		if err != nil {
			unauthorized(c, "Unknown user")
			return
		}

		c.Set(callerKey, caller)
		c.Next()
	}
}

// callerFrom returns the Caller set by AuthMiddleware
func callerFrom(c *gin.Context) models.Caller {
	return c.MustGet(callerKey).(models.Caller)
}
