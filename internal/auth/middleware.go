package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const claimsKey = "console.claims"

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

// BearerToken returns the Authorization bearer token, or the token query
// parameter for clients that cannot set headers (browser WebSockets).
func BearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return c.Query("token")
}

// Authenticate verifies the request's console token.
func Authenticate(c *gin.Context, secret string) (*Claims, error) {
	tok := BearerToken(c)
	if tok == "" {
		return nil, ErrMissingToken
	}
	claims, err := ParseToken(secret, tok)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func JWTMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := Authenticate(c, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// ClaimsOf returns the claims JWTMiddleware stored, or nil.
func ClaimsOf(c *gin.Context) *Claims {
	if v, ok := c.Get(claimsKey); ok {
		if cl, ok := v.(*Claims); ok {
			return cl
		}
	}
	return nil
}

func MustUserID(c *gin.Context) int64 {
	if cl := ClaimsOf(c); cl != nil {
		return cl.UserId
	}
	return 0
}
