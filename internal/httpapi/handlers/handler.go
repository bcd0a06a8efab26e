package handlers

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/characterchat/backend/internal/admin"
	"github.com/characterchat/backend/internal/ai"
	"github.com/characterchat/backend/internal/character"
	"github.com/characterchat/backend/internal/chat"
	"github.com/characterchat/backend/internal/config"
	"github.com/characterchat/backend/internal/store/redisstore"
)

type Handler struct {
	DB        *gorm.DB
	Cfg       config.Config
	Redis     *redisstore.Store
	CharSvc   *character.Service
	ChatSvc   *chat.Service
	AdminSvc  *admin.Service
	Analytics *admin.Analytics
	Registry  *ai.Registry
}

func NewRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m, cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	return reg
}

func NewHandler(db *gorm.DB, cfg config.Config, rds *redisstore.Store, pub admin.Publisher) *Handler {
	reg := NewRegistry(cfg)

	switch strings.ToLower(cfg.AIProvider) {
	case "", "ollama", "openrouter":
	default:
		panic(fmt.Sprintf("unsupported AI_PROVIDER=%q", cfg.AIProvider))
	}

	charRepo := character.NewRepo(db)
	chatRepo := chat.NewRepo(db)

	var cache chat.Cache
	if rds != nil {
		cache = rds
	}

	chatSvc := chat.NewService(chatRepo, charRepo, reg, cfg.AIProvider, "", cfg.ChatContextWindowSize, cache)
	auditLog := admin.NewAuditLog(db)
	adminSvc := admin.NewService(db, charRepo, chatRepo, auditLog, pub)

	var counters admin.Counters
	if rds != nil {
		counters = rds
	}

	return &Handler{
		DB:        db,
		Cfg:       cfg,
		Redis:     rds,
		CharSvc:   character.NewService(charRepo),
		ChatSvc:   chatSvc,
		AdminSvc:  adminSvc,
		Analytics: admin.NewAnalytics(db, counters),
		Registry:  reg,
	}
}
