package admin

import (
	"context"
	"log"

	"gorm.io/gorm"

	"github.com/characterchat/backend/internal/character"
	"github.com/characterchat/backend/internal/chat"
	"github.com/characterchat/backend/internal/models"
)

// Counters is the fast-path counter store maintained by the chat path
// and the audit worker. Nil is allowed; rollups then skip those fields.
type Counters interface {
	MessagesTotal(ctx context.Context) (int64, error)
	ModerationActionsTotal(ctx context.Context) (int64, error)
}

type Rollup struct {
	Users             int64 `json:"users"`
	BlockedUsers      int64 `json:"blocked_users"`
	Characters        int64 `json:"characters"`
	FlaggedCharacters int64 `json:"flagged_characters"`
	Sessions          int64 `json:"sessions"`
	FlaggedSessions   int64 `json:"flagged_sessions"`
	Messages          int64 `json:"messages"`
	LegacyMessages    int64 `json:"legacy_messages"`

	// counter-backed, approximate
	MessagesCounter   int64 `json:"messages_counter"`
	ModerationActions int64 `json:"moderation_actions"`
}

type Analytics struct {
	db       *gorm.DB
	counters Counters
}

func NewAnalytics(db *gorm.DB, counters Counters) *Analytics {
	return &Analytics{db: db, counters: counters}
}

func (a *Analytics) Rollup(ctx context.Context) (*Rollup, error) {
	var r Rollup
	q := a.db.WithContext(ctx)

	counts := []struct {
		dst   *int64
		model any
		where string
	}{
		{&r.Users, &models.User{}, ""},
		{&r.BlockedUsers, &models.User{}, "blocked = true"},
		{&r.Characters, &character.Character{}, ""},
		{&r.FlaggedCharacters, &character.Character{}, "is_flagged = true"},
		{&r.Sessions, &chat.Session{}, ""},
		{&r.FlaggedSessions, &chat.Session{}, "is_flagged = true"},
		{&r.Messages, &chat.Message{}, ""},
		{&r.LegacyMessages, &chat.LegacyMessage{}, ""},
	}
	for _, c := range counts {
		m := q.Model(c.model)
		if c.where != "" {
			m = m.Where(c.where)
		}
		if err := m.Count(c.dst).Error; err != nil {
			return nil, err
		}
	}

	if a.counters != nil {
		if v, err := a.counters.MessagesTotal(ctx); err == nil {
			r.MessagesCounter = v
		} else {
			log.Printf("admin: messages counter err=%v", err)
		}
		if v, err := a.counters.ModerationActionsTotal(ctx); err == nil {
			r.ModerationActions = v
		} else {
			log.Printf("admin: moderation counter err=%v", err)
		}
	}
	return &r, nil
}
