package ai

import "context"

// Role names used by the core. Providers translate these to whatever
// their wire format expects.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

type Message struct {
	Role    string
	Content string
}

// ChatRequest is a single completion request: a system instruction,
// the conversation turns in ascending order, and a sampling temperature.
type ChatRequest struct {
	System      string
	Messages    []Message
	Temperature float64
}

type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// wireRole maps a core role onto the openai-style role names both
// providers speak.
func wireRole(role string) string {
	if role == RoleModel {
		return "assistant"
	}
	return "user"
}
