package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/characterchat/backend/internal/sse"
)

// GatewayTurn is one prior turn in a gateway request.
type GatewayTurn struct {
	Text      string `json:"text"`
	Character bool   `json:"character"`
}

// GatewayRequest is the completion gateway's wire contract.
type GatewayRequest struct {
	UserMessage   string            `json:"userMessage"`
	CharacterData CharacterSnapshot `json:"characterData"`
	Messages      []GatewayTurn     `json:"messages"`
}

// GatewayClient opens a streaming completion against a remote gateway.
type GatewayClient struct {
	BaseURL string
	Client  *http.Client
}

func NewGatewayClient(baseURL string) *GatewayClient {
	return &GatewayClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{}, // no global timeout; ctx controls streaming
	}
}

// Stream starts a completion and returns the event-stream body. The
// caller owns closing it.
func (c *GatewayClient) Stream(ctx context.Context, req GatewayRequest) (io.ReadCloser, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/chat/completions/stream", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		_ = resp.Body.Close()
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("gateway: %s", msg)
	}
	return resp.Body, nil
}

// Consumer drives a full send through a remote gateway: append the
// user turn, open the stream, and apply fragments to the session as
// they arrive.
type Consumer struct {
	svc    *Service
	client *GatewayClient
}

func NewConsumer(svc *Service, client *GatewayClient) *Consumer {
	return &Consumer{svc: svc, client: client}
}

func (c *Consumer) Send(ctx context.Context, userID uint64, sessionID, text, displayName, photoURL string) (*SendResult, error) {
	sess, err := c.svc.GetOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if _, err := c.svc.AppendUserMessage(ctx, userID, sess, text, displayName, photoURL); err != nil {
		return nil, err
	}

	msgs, err := c.svc.repo.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, err
	}

	// prior turns exclude the message being answered; it travels as
	// userMessage
	prior := make([]GatewayTurn, 0, len(msgs))
	for _, m := range msgs[:len(msgs)-1] {
		prior = append(prior, GatewayTurn{Text: m.Text, Character: m.Character})
	}

	body, err := c.client.Stream(ctx, GatewayRequest{
		UserMessage:   strings.TrimSpace(text),
		CharacterData: sess.CharacterData,
		Messages:      prior,
	})
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return c.svc.ApplyStream(ctx, sess, body)
}

// ApplyStream consumes a gateway event stream and maintains the
// session's in-flight assistant message: created empty before the
// first read, overwritten with the full accumulated text on every
// content frame, resolved on the sentinel. It implements the same
// empty-stream and partial-failure rules as the server-side send path.
func (s *Service) ApplyStream(ctx context.Context, sess *Session, r io.Reader) (*SendResult, error) {
	inflight, err := s.createInflight(ctx, sess)
	if err != nil {
		return nil, err
	}

	// Frame-by-frame application is deliberately not batched: every
	// fragment becomes one visible overwrite.
	var (
		b         strings.Builder
		streamErr error
	)
	sc := sse.NewScanner(r)

	for {
		ev, err := sc.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Stream ended without a sentinel. The gateway always
				// terminates with one, so treat this as a transport fault.
				if streamErr == nil {
					streamErr = errors.New("chat: stream ended without sentinel")
				}
				break
			}
			streamErr = err
			break
		}
		if ev.Done {
			break
		}
		if ev.Err != "" {
			// remember and keep reading: the sentinel still follows
			streamErr = errors.New(ev.Err)
			continue
		}
		if ev.Content == "" {
			continue
		}
		b.WriteString(ev.Content)
		if err := s.repo.UpdateMessageText(ctx, inflight.ID, b.String()); err != nil {
			log.Printf("chat: inflight overwrite session=%s msg=%s err=%v", sess.ID, inflight.ID, err)
		}
	}

	return s.finalizeInflight(context.WithoutCancel(ctx), sess, inflight, b.String(), streamErr)
}

// SyntheticLegacySession presents the old flat message log to admins
// as a read-only session.
func SyntheticLegacySession(userID uint64, msgs []LegacyMessage) *Session {
	s := &Session{
		ID:     fmt.Sprintf("legacy-%d", userID),
		UserID: userID,
		CharacterData: CharacterSnapshot{
			Name: "Legacy Messages",
		},
		MessageCount: len(msgs),
	}
	if n := len(msgs); n > 0 {
		s.LastMessage = TruncateRunes(msgs[n-1].Text, lastMessageMaxRunes)
		t := msgs[n-1].CreatedAt
		s.LastMessageTime = &t
		s.CreatedAt = msgs[0].CreatedAt
	} else {
		s.CreatedAt = time.Unix(0, 0)
	}
	return s
}
