// Package httpx holds the JSON response shapes shared by the console API.
package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func OK(c *gin.Context, v any) {
	c.JSON(http.StatusOK, v)
}

func Created(c *gin.Context, v any) {
	c.JSON(http.StatusCreated, v)
}

// Err writes {"error": msg}. msg is a string or, for validation failures,
// a field -> message map.
func Err(c *gin.Context, code int, msg any) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}
