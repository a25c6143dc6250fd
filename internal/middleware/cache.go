package middleware

import (
	"github.com/gin-gonic/gin"
)

// NoStore keeps browsers and kiosk proxies from caching exam state, which
// changes every second and carries a student's answers.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}
