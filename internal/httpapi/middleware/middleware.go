package middleware

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/characterchat/backend/internal/auth"
	"github.com/characterchat/backend/internal/models"
)

const (
	UserIDKey    = "user_id"
	RoleKey      = "role"
	RequestIDKey = "request_id"
)

func fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.AbortWithStatusJSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

// RequestID tags every request, honoring an inbound X-Request-ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// Recovery converts panics into a 500 envelope instead of a dropped
// connection.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("panic recovered: %v path=%s", r, c.Request.URL.Path)
				fail(c, http.StatusInternalServerError, 50000, "internal error")
			}
		}()
		c.Next()
	}
}

// AuthRequired validates the bearer token and rejects blocked users.
func AuthRequired(secret string, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}

		claims, err := auth.ParseJWT(strings.TrimPrefix(header, "Bearer "), secret)
		if err != nil {
			fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}

		var u models.User
		if err := db.First(&u, claims.UserID).Error; err != nil {
			fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			return
		}
		if u.Blocked {
			fail(c, http.StatusForbidden, 40301, "account blocked")
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(RoleKey, u.Role)
		c.Next()
	}
}

// AdminRequired gates the moderation surface. Must run after
// AuthRequired.
func AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(RoleKey)
		if role != models.RoleAdmin {
			fail(c, http.StatusForbidden, 40302, "admin only")
			return
		}
		c.Next()
	}
}
