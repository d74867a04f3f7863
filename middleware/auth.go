package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const UserKey = "userID"

// AuthMiddleware trusts the X-User-ID header set by the platform gateway
// after session authentication and rejects requests without one.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("X-User-ID")
		userID, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || userID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Set(UserKey, uint(userID))
		c.Next()
	}
}

func GetUserID(c *gin.Context) uint {
	if val, exists := c.Get(UserKey); exists {
		return val.(uint)
	}
	return 0
}
