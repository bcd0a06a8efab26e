package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/characterchat/backend/internal/ai"
	"github.com/characterchat/backend/internal/config"
)

// fakeStreamProvider replays fragments, optionally failing afterwards.
type fakeStreamProvider struct {
	chunks  []string
	err     error
	lastReq ai.ChatRequest
}

func (p *fakeStreamProvider) Chat(ctx context.Context, req ai.ChatRequest) (string, error) {
	_ = ctx
	p.lastReq = req
	return strings.Join(p.chunks, ""), p.err
}

func (p *fakeStreamProvider) StreamChat(ctx context.Context, req ai.ChatRequest) (<-chan string, <-chan error) {
	_ = ctx
	p.lastReq = req
	chunks := make(chan string, len(p.chunks))
	errs := make(chan error, 1)
	if p.err != nil {
		errs <- p.err
	}
	for _, c := range p.chunks {
		chunks <- c
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

// fakeBlockingProvider has no streaming support at all.
type fakeBlockingProvider struct {
	reply string
	err   error
}

func (p *fakeBlockingProvider) Chat(ctx context.Context, req ai.ChatRequest) (string, error) {
	_ = ctx
	_ = req
	return p.reply, p.err
}

func newGatewayRouter(prov ai.Provider) *gin.Engine {
	gin.SetMode(gin.TestMode)
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		_ = model
		return prov, nil
	})
	h := &Handler{Cfg: config.Config{AIProvider: "fake"}, Registry: reg}

	r := gin.New()
	r.POST("/v1/chat/completions/stream", h.StreamCompletion)
	return r
}

func postStream(t *testing.T, r *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStreamCompletion(t *testing.T) {
	prov := &fakeStreamProvider{chunks: []string{"Hel", "lo."}}
	r := newGatewayRouter(prov)

	w := postStream(t, r, `{
		"userMessage": "hi there",
		"characterData": {"name": "Nova", "age": 34, "profession": "pilot", "tone": "friendly"},
		"messages": [
			{"text": "earlier", "character": false},
			{"text": "reply", "character": true},
			{"text": "   ", "character": false}
		]
	}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	want := "data: {\"content\":\"Hel\"}\n\n" +
		"data: {\"content\":\"lo.\"}\n\n" +
		"data: [DONE]\n\n"
	assert.Equal(t, want, w.Body.String())

	// persona compiled from the payload, not from storage
	assert.Contains(t, prov.lastReq.System, "Nova")
	assert.Contains(t, prov.lastReq.System, "pilot")

	// blank turn dropped, roles mapped, user message appended last
	require.Len(t, prov.lastReq.Messages, 3)
	assert.Equal(t, ai.RoleUser, prov.lastReq.Messages[0].Role)
	assert.Equal(t, ai.RoleModel, prov.lastReq.Messages[1].Role)
	assert.Equal(t, "hi there", prov.lastReq.Messages[2].Content)
}

func TestStreamCompletion_ProviderFailure(t *testing.T) {
	prov := &fakeStreamProvider{chunks: []string{"par"}, err: assert.AnError}
	r := newGatewayRouter(prov)

	w := postStream(t, r, `{"userMessage": "hi", "characterData": {"name": "Nova"}}`)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	// error frame precedes the sentinel; stream still terminates
	assert.Contains(t, body, `"error"`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"), "stream must end with the sentinel: %q", body)
	assert.Equal(t, 1, strings.Count(body, "[DONE]"))
}

func TestStreamCompletion_BlockingProvider(t *testing.T) {
	r := newGatewayRouter(&fakeBlockingProvider{reply: "One whole answer."})

	w := postStream(t, r, `{"userMessage": "hi", "characterData": {"name": "Nova"}}`)

	require.Equal(t, http.StatusOK, w.Code)
	want := "data: {\"content\":\"One whole answer.\"}\n\n" +
		"data: [DONE]\n\n"
	assert.Equal(t, want, w.Body.String())
}

func TestStreamCompletion_BlockingProviderFailure(t *testing.T) {
	r := newGatewayRouter(&fakeBlockingProvider{err: assert.AnError})

	w := postStream(t, r, `{"userMessage": "hi", "characterData": {"name": "Nova"}}`)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"error"`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"), "stream must end with the sentinel: %q", body)
}

func TestStreamCompletion_Validation(t *testing.T) {
	r := newGatewayRouter(&fakeStreamProvider{})

	cases := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{`, "invalid json"},
		{"missing user message", `{"characterData": {"name": "Nova"}}`, "userMessage is required"},
		{"blank user message", `{"userMessage": "  ", "characterData": {"name": "Nova"}}`, "userMessage is required"},
		{"missing character", `{"userMessage": "hi"}`, "characterData is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postStream(t, r, tc.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			// plain error JSON, no event-stream framing on rejection
			assert.Contains(t, w.Body.String(), tc.want)
			assert.NotContains(t, w.Body.String(), "data:")
		})
	}
}
