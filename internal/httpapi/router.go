package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/characterchat/backend/internal/admin"
	"github.com/characterchat/backend/internal/common"
	"github.com/characterchat/backend/internal/config"
	"github.com/characterchat/backend/internal/httpapi/handlers"
	"github.com/characterchat/backend/internal/httpapi/middleware"
	"github.com/characterchat/backend/internal/store/redisstore"
)

func NewRouter(db *gorm.DB, cfg config.Config, rds *redisstore.Store, pub admin.Publisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	corsCfg := cors.DefaultConfig()
	if len(cfg.CORSAllowOrigins) == 1 && cfg.CORSAllowOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORSAllowOrigins
		corsCfg.AllowCredentials = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Request-ID")
	r.Use(cors.New(corsCfg))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(db, cfg, rds, pub)

	r.GET("/ping", h.Ping)

	// users
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	// stateless completion gateway; persistence is the consumer's job
	r.POST("/v1/chat/completions/stream", h.StreamCompletion)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret, db))
	authGroup.GET("/me", h.Me)

	// characters
	authGroup.POST("/characters", h.CreateCharacter)
	authGroup.GET("/characters", h.ListCharacters)
	authGroup.GET("/characters/:id", h.GetCharacter)
	authGroup.PUT("/characters/:id", h.UpdateCharacter)
	authGroup.POST("/characters/:id/select", h.SelectCharacter)
	authGroup.DELETE("/characters/:id", h.DeleteCharacter)

	// chat
	authGroup.POST("/chat/sessions", h.CreateChatSession)
	authGroup.GET("/chat/sessions", h.ListChatSessions)
	authGroup.GET("/chat/bootstrap", h.ChatBootstrap)
	authGroup.GET("/chat/sessions/:session_id/messages", h.ListChatMessages)
	authGroup.POST("/chat/sessions/:session_id/messages/stream", h.SendChatMessageStream)
	authGroup.GET("/chat/legacy/messages", h.ListLegacyMessages)

	// admin console
	adminGroup := authGroup.Group("/admin")
	adminGroup.Use(middleware.AdminRequired())
	adminGroup.GET("/users", h.AdminListUsers)
	adminGroup.POST("/users/:id/block", h.AdminBlockUser)
	adminGroup.POST("/users/:id/unblock", h.AdminUnblockUser)
	adminGroup.GET("/users/:id/legacy-session", h.AdminLegacySession)
	adminGroup.POST("/characters/:id/flag", h.AdminFlagCharacter)
	adminGroup.POST("/characters/:id/unflag", h.AdminUnflagCharacter)
	adminGroup.DELETE("/characters/:id", h.AdminDeleteCharacter)
	adminGroup.POST("/sessions/:id/flag", h.AdminFlagSession)
	adminGroup.POST("/sessions/:id/unflag", h.AdminUnflagSession)
	adminGroup.DELETE("/sessions/:id", h.AdminDeleteSession)
	adminGroup.GET("/audit", h.AdminAuditLog)
	adminGroup.GET("/analytics", h.AdminAnalytics)

	return r
}
