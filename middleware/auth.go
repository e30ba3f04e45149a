package middleware

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

const (
	UserKey = "userID"
	RoleKey = "role"
)

// Protect validates the bearer token and stores the caller identity and
// role on the request context. Token issuance lives in the auth service;
// this side only consumes claims.
func Protect() gin.HandlerFunc {
	secret := []byte(strings.TrimSpace(os.Getenv("JWT_SECRET")))

	return func(c *gin.Context) {
		tokenStr := extractToken(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Not authorized to access this route"})
			return
		}

		token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			if len(secret) == 0 {
				return nil, fmt.Errorf("JWT secret not configured")
			}
			return secret, nil
		})
		if err != nil || token == nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid or expired token"})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid token claims"})
			return
		}

		sub, _ := claims["sub"].(string)
		if sub == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid token claims"})
			return
		}
		role, _ := claims["role"].(string)

		c.Set(UserKey, sub)
		c.Set(RoleKey, role)
		c.Next()
	}
}

// RequireRole gates a route group to callers holding the given role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetRole(c) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "message": "Access denied"})
			return
		}
		c.Next()
	}
}

func GetUserID(c *gin.Context) string {
	if val, exists := c.Get(UserKey); exists {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

func GetRole(c *gin.Context) string {
	if val, exists := c.Get(RoleKey); exists {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return ""
}

func extractToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// The web client also sends the token as a cookie.
	if cookie, err := c.Cookie("token"); err == nil {
		return cookie
	}
	return ""
}
