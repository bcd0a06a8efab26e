package chat

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/characterchat/backend/internal/ai"
	"github.com/characterchat/backend/internal/character"
	"github.com/characterchat/backend/internal/common"
	"github.com/characterchat/backend/internal/persona"
)

var (
	ErrSessionNotFound = errors.New("chat: session not found")
	ErrEmptyMessage    = errors.New("chat: message text is empty")
	// the stream terminated without ever producing content
	ErrEmptyResponse = errors.New("chat: model returned no content")
)

// Temperature is fixed for conversational tone.
const Temperature = 0.7

const lastMessageMaxRunes = 100

// streamErrorText replaces the in-flight message when a stream yields
// nothing. A failed send must never look like a successful empty reply.
const streamErrorText = "Sorry, I couldn't come up with a reply. Please try again."

// Cache is the hot-path store next to the database: bootstrap hints
// and analytics counters. All calls are best-effort.
type Cache interface {
	LastSession(ctx context.Context, userID uint64) (string, error)
	SetLastSession(ctx context.Context, userID uint64, sessionID string) error
	IncrMessages(ctx context.Context, n int64) error
}

type Service struct {
	repo              *Repo
	chars             *character.Repo
	registry          *ai.Registry
	providerName      string
	model             string
	contextWindowSize int
	cache             Cache
}

func NewService(repo *Repo, chars *character.Repo, registry *ai.Registry, providerName, model string, contextWindowSize int, cache Cache) *Service {
	if contextWindowSize <= 0 || contextWindowSize > 100 {
		contextWindowSize = 20
	}
	return &Service{
		repo:              repo,
		chars:             chars,
		registry:          registry,
		providerName:      providerName,
		model:             model,
		contextWindowSize: contextWindowSize,
		cache:             cache,
	}
}

// CreateSession starts a new conversation bound to a deep copy of the
// character as it exists right now. Later character edits do not
// rewrite the snapshot.
func (s *Service) CreateSession(ctx context.Context, userID uint64, characterID string) (*Session, error) {
	c, err := s.chars.GetByID(ctx, characterID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, character.ErrNotFound
		}
		return nil, err
	}
	if c.UserID != userID {
		return nil, character.ErrNotFound
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:            id,
		UserID:        userID,
		CharacterID:   c.ID,
		CharacterData: SnapshotOf(c),
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}

	if err := s.chars.TouchLastUsed(ctx, c.ID, time.Now()); err != nil {
		log.Printf("chat: touch last_used character=%s err=%v", c.ID, err)
	}
	s.rememberSession(ctx, userID, sess.ID)
	return sess, nil
}

// GetOwnedSession loads a session and verifies ownership. Foreign
// sessions are reported as not found.
func (s *Service) GetOwnedSession(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	sess, err := s.repo.GetSessionByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (s *Service) ListSessions(ctx context.Context, userID uint64) ([]Session, error) {
	return s.repo.ListSessionsByUser(ctx, userID)
}

func (s *Service) ListMessages(ctx context.Context, userID uint64, sessionID string) ([]Message, error) {
	if _, err := s.GetOwnedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListMessages(ctx, sessionID)
}

func (s *Service) ListLegacyMessages(ctx context.Context, userID uint64) ([]LegacyMessage, error) {
	return s.repo.ListLegacyMessages(ctx, userID)
}

// Bootstrap is what the chat surface needs to render on entry. An
// empty value means the user must pick or create a character first.
type Bootstrap struct {
	Session   *Session             `json:"session,omitempty"`
	Character *character.Character `json:"character,omitempty"`
	Messages  []Message            `json:"messages,omitempty"`
}

// Bootstrap resolves which session (and persona) the chat surface
// should show. An explicit session id wins; otherwise the last active
// session, then the most-recently-used character's latest session.
func (s *Service) Bootstrap(ctx context.Context, userID uint64, sessionID string) (*Bootstrap, error) {
	if sessionID != "" {
		sess, err := s.GetOwnedSession(ctx, userID, sessionID)
		if err != nil {
			return nil, err
		}
		msgs, err := s.repo.ListMessages(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		s.rememberSession(ctx, userID, sess.ID)
		// rendering uses the session's frozen snapshot, not the live character
		return &Bootstrap{Session: sess, Messages: msgs}, nil
	}

	if s.cache != nil {
		if cached, err := s.cache.LastSession(ctx, userID); err == nil && cached != "" {
			if sess, err := s.GetOwnedSession(ctx, userID, cached); err == nil {
				msgs, err := s.repo.ListMessages(ctx, sess.ID)
				if err != nil {
					return nil, err
				}
				return &Bootstrap{Session: sess, Messages: msgs}, nil
			}
		}
	}

	c, err := s.chars.MostRecentlyUsed(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Bootstrap{}, nil // nothing yet; wait for explicit user action
		}
		return nil, err
	}

	sess, err := s.repo.MostRecentSessionForCharacter(ctx, userID, c.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &Bootstrap{Character: c}, nil
		}
		return nil, err
	}

	msgs, err := s.repo.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	s.rememberSession(ctx, userID, sess.ID)
	return &Bootstrap{Session: sess, Character: c, Messages: msgs}, nil
}

// AppendUserMessage persists a user turn and advances the session
// summary to match the new tail.
func (s *Service) AppendUserMessage(ctx context.Context, userID uint64, sess *Session, text, displayName, photoURL string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	m := &Message{
		ID:          id,
		SessionID:   sess.ID,
		UserID:      userID,
		Text:        text,
		Sender:      strconv.FormatUint(userID, 10),
		DisplayName: displayName,
		PhotoURL:    photoURL,
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return nil, err
	}

	if err := s.repo.BumpSummary(ctx, sess.ID, TruncateRunes(text, lastMessageMaxRunes), m.CreatedAt, 1); err != nil {
		// best-effort: the summary catches up on the next successful write
		log.Printf("chat: bump summary session=%s err=%v", sess.ID, err)
	}
	return m, nil
}

// turns maps stored messages onto provider turns: empty text dropped,
// model role for AI-authored messages, bounded by the context window.
func turns(msgs []Message, window int) []ai.Message {
	if window > 0 && len(msgs) > window {
		msgs = msgs[len(msgs)-window:]
	}
	out := make([]ai.Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		role := ai.RoleUser
		if m.Character {
			role = ai.RoleModel
		}
		out = append(out, ai.Message{Role: role, Content: m.Text})
	}
	return out
}

// SendResult describes the assistant message a send ended with: the
// full reply, a kept partial, or the error replacement.
type SendResult struct {
	MessageID string
	Text      string
}

// SendMessageStream appends the user turn, opens a provider stream,
// and maintains the in-flight assistant message: created empty first
// so every subscriber sees the typing state, then overwritten with the
// full accumulated text on each fragment.
//
// The returned channels follow the provider idiom: chunks carries
// fragments in receipt order, errs at most one error, result the final
// assistant message. All are closed when the send resolves.
func (s *Service) SendMessageStream(ctx context.Context, userID uint64, sessionID, text, displayName, photoURL string) (<-chan string, <-chan SendResult, <-chan error) {
	outChunks := make(chan string, 16)
	outResult := make(chan SendResult, 1)
	outErrs := make(chan error, 1)

	go func() {
		defer close(outChunks)
		defer close(outResult)
		defer close(outErrs)

		sess, err := s.GetOwnedSession(ctx, userID, sessionID)
		if err != nil {
			outErrs <- err
			return
		}

		provider, err := s.registry.Get(ctx, s.providerName, s.model)
		if err != nil {
			outErrs <- err
			return
		}

		if _, err := s.AppendUserMessage(ctx, userID, sess, text, displayName, photoURL); err != nil {
			outErrs <- err
			return
		}

		msgs, err := s.repo.ListMessages(ctx, sess.ID)
		if err != nil {
			outErrs <- err
			return
		}

		inflight, err := s.createInflight(ctx, sess)
		if err != nil {
			outErrs <- err
			return
		}

		req := ai.ChatRequest{
			System:      persona.Compile(sess.CharacterData.AsCharacter()),
			Messages:    turns(msgs, s.contextWindowSize),
			Temperature: Temperature,
		}
		// blocking providers stream their reply as a single fragment
		pChunks, pErrs := ai.Stream(ctx, provider, req)

		var b strings.Builder
		for c := range pChunks {
			b.WriteString(c)
			// full-text overwrite per fragment: idempotent, monotonic
			if err := s.repo.UpdateMessageText(ctx, inflight.ID, b.String()); err != nil {
				log.Printf("chat: inflight overwrite session=%s msg=%s err=%v", sess.ID, inflight.ID, err)
			}
			outChunks <- c
		}

		var streamErr error
		select {
		case err := <-pErrs:
			streamErr = err
		default:
		}

		// finalize must land even when the client is gone; a cancelled
		// request must not strand the in-flight row
		res, err := s.finalizeInflight(context.WithoutCancel(ctx), sess, inflight, b.String(), streamErr)
		if res != nil {
			outResult <- *res
		}
		if err != nil {
			outErrs <- err
		}
	}()

	return outChunks, outResult, outErrs
}

func (s *Service) createInflight(ctx context.Context, sess *Session) (*Message, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	m := &Message{
		ID:          id,
		SessionID:   sess.ID,
		UserID:      sess.UserID,
		Text:        "",
		Sender:      SenderAI,
		DisplayName: sess.CharacterData.Name,
		Character:   true,
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// finalizeInflight resolves the in-flight assistant message once the
// stream ends. Partial text survives a mid-stream failure; an empty
// stream never leaves an empty artifact: the row is deleted and an
// explicit error message takes its place.
func (s *Service) finalizeInflight(ctx context.Context, sess *Session, inflight *Message, text string, streamErr error) (*SendResult, error) {
	if text == "" {
		if err := s.repo.DeleteMessage(ctx, inflight.ID); err != nil {
			log.Printf("chat: delete empty inflight session=%s msg=%s err=%v", sess.ID, inflight.ID, err)
		}
		if streamErr == nil {
			streamErr = ErrEmptyResponse
		}

		id, err := common.NewULID()
		if err != nil {
			return nil, streamErr
		}
		errMsg := &Message{
			ID:          id,
			SessionID:   sess.ID,
			UserID:      sess.UserID,
			Text:        streamErrorText,
			Sender:      SenderAI,
			DisplayName: sess.CharacterData.Name,
			Character:   true,
		}
		if err := s.repo.InsertMessage(ctx, errMsg); err != nil {
			log.Printf("chat: insert error message session=%s err=%v", sess.ID, err)
			return nil, streamErr
		}
		if err := s.repo.BumpSummary(ctx, sess.ID, streamErrorText, errMsg.CreatedAt, 1); err != nil {
			log.Printf("chat: bump summary session=%s err=%v", sess.ID, err)
		}
		return &SendResult{MessageID: errMsg.ID, Text: streamErrorText}, streamErr
	}

	now := time.Now()
	if err := s.repo.BumpSummary(ctx, sess.ID, TruncateRunes(text, lastMessageMaxRunes), now, 1); err != nil {
		log.Printf("chat: bump summary session=%s err=%v", sess.ID, err)
	}

	s.rememberSession(ctx, sess.UserID, sess.ID)
	if s.cache != nil {
		// user turn + assistant turn
		if err := s.cache.IncrMessages(ctx, 2); err != nil {
			log.Printf("chat: analytics incr err=%v", err)
		}
	}

	// streamErr may be set with partial text kept: better a partial
	// answer than none
	return &SendResult{MessageID: inflight.ID, Text: text}, streamErr
}

func (s *Service) rememberSession(ctx context.Context, userID uint64, sessionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetLastSession(ctx, userID, sessionID); err != nil {
		log.Printf("chat: cache last session uid=%d err=%v", userID, err)
	}
}
