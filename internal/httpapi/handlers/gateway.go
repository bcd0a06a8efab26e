package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/characterchat/backend/internal/ai"
	"github.com/characterchat/backend/internal/chat"
	"github.com/characterchat/backend/internal/persona"
	"github.com/characterchat/backend/internal/sse"
)

// StreamCompletion is the stateless completion gateway: persona plus
// prior turns in, an event stream of content fragments out. It holds
// no session affinity and writes nothing; persistence is the
// consumer's job.
//
// Success is a text/event-stream of `data: {"content": ...}` frames
// terminated by `data: [DONE]`. A failure mid-stream emits one
// `data: {"error": ...}` frame before the sentinel; the sentinel is
// emitted in every case so consumers never hang.
func (h *Handler) StreamCompletion(c *gin.Context) {
	var req chat.GatewayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userMessage is required"})
		return
	}
	if req.CharacterData.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "characterData is required"})
		return
	}

	ctx := c.Request.Context()
	provider, err := h.Registry.Get(ctx, h.Cfg.AIProvider, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// prior turns: empty text dropped, model role for AI-authored
	turns := make([]ai.Message, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		role := ai.RoleUser
		if m.Character {
			role = ai.RoleModel
		}
		turns = append(turns, ai.Message{Role: role, Content: m.Text})
	}
	turns = append(turns, ai.Message{Role: ai.RoleUser, Content: req.UserMessage})

	// a provider without native streaming answers as one content frame
	chunks, errs := ai.Stream(ctx, provider, ai.ChatRequest{
		System:      persona.Compile(req.CharacterData.AsCharacter()),
		Messages:    turns,
		Temperature: chat.Temperature,
	})

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	w := sse.NewWriter(c.Writer)
	defer w.Done()

	// relay fragments 1:1, no re-buffering
	for ch := range chunks {
		if err := w.Content(ch); err != nil {
			return
		}
	}

	select {
	case err := <-errs:
		if err != nil {
			_ = w.Error(err.Error())
		}
	default:
	}
}
