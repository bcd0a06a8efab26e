package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/characterchat/backend/internal/character"
	"github.com/characterchat/backend/internal/chat"
	"github.com/characterchat/backend/internal/common"
	"github.com/characterchat/backend/internal/sse"
)

type createSessionReq struct {
	CharacterID string `json:"character_id" binding:"required"`
}

func (h *Handler) CreateChatSession(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sess, err := h.ChatSvc.CreateSession(c.Request.Context(), uid, req.CharacterID)
	if err != nil {
		if errors.Is(err, character.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40410, "character not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create session")
		return
	}

	common.OK(c, sess)
}

// ChatBootstrap resolves what the chat surface should show on entry:
// an explicit session, the last active one, or nothing yet.
func (h *Handler) ChatBootstrap(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	b, err := h.ChatSvc.Bootstrap(c.Request.Context(), uid, c.Query("session_id"))
	if err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to bootstrap")
		return
	}
	common.OK(c, b)
}

func (h *Handler) ListChatSessions(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessions, err := h.ChatSvc.ListSessions(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list sessions")
		return
	}
	common.OK(c, gin.H{"sessions": sessions})
}

func (h *Handler) ListChatMessages(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), uid, c.Param("session_id"))
	if err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}
	common.OK(c, gin.H{"messages": msgs})
}

// ListLegacyMessages serves the old flat per-user log, read-only.
func (h *Handler) ListLegacyMessages(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	msgs, err := h.ChatSvc.ListLegacyMessages(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}
	common.OK(c, gin.H{"messages": msgs})
}

type sendMessageReq struct {
	Message string `json:"message" binding:"required"`
}

// SendChatMessageStream appends the user turn and streams the reply as
// content frames while the in-flight message is persisted
// incrementally. The stream always ends with the [DONE] sentinel.
func (h *Handler) SendChatMessageStream(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	sessionID := c.Param("session_id")
	// reject before any frame goes out so failures stay plain JSON
	if _, err := h.ChatSvc.GetOwnedSession(c.Request.Context(), uid, sessionID); err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	displayName, photoURL := h.senderIdentity(c, uid)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	chunks, results, errs := h.ChatSvc.SendMessageStream(ctx, uid, sessionID, req.Message, displayName, photoURL)

	w := sse.NewWriter(c.Writer)
	defer w.Done()

	// Drain every fragment before looking at errs: the error is queued
	// behind content that was already persisted, and that content must
	// reach the wire first. Client disconnect cancels ctx, which aborts
	// the upstream stream and closes chunks.
	for ch := range chunks {
		if err := w.Content(ch); err != nil {
			return
		}
	}
	if err, ok := <-errs; ok && err != nil {
		_ = w.Error(err.Error())
	}
	_ = results // final message already persisted; sentinel closes the stream
}

func (h *Handler) senderIdentity(c *gin.Context, uid uint64) (displayName, photoURL string) {
	var u struct {
		DisplayName string
		PhotoURL    string
	}
	if err := h.DB.Table("users").Select("display_name", "photo_url").
		Where("id = ?", uid).
		Scan(&u).Error; err != nil {
		return "", ""
	}
	return u.DisplayName, u.PhotoURL
}
