package chat

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetSessionByID(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessionsByUser returns sessions most recently active first.
func (r *Repo) ListSessionsByUser(ctx context.Context, userID uint64) ([]Session, error) {
	var out []Session
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_message_time DESC").
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// MostRecentSessionForCharacter returns the latest-active session of a
// character, or gorm.ErrRecordNotFound when the character has none.
func (r *Repo) MostRecentSessionForCharacter(ctx context.Context, userID uint64, characterID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND character_id = ?", userID, characterID).
		Order("last_message_time DESC").
		Order("created_at DESC").
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) InsertMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Create(m).Error
}

// UpdateMessageText overwrites a message's text. The in-flight
// assistant message is the only row this is ever called on.
func (r *Repo) UpdateMessageText(ctx context.Context, id string, text string) error {
	return r.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", id).
		Update("text", text).Error
}

func (r *Repo) DeleteMessage(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&Message{}, "id = ?", id).Error
}

// ListMessages returns a session's log in canonical order: creation
// time ascending, ULID as the tiebreak.
func (r *Repo) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// BumpSummary advances a session's denormalized tail by delta messages.
func (r *Repo) BumpSummary(ctx context.Context, sessionID string, lastMessage string, at time.Time, delta int) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{
			"last_message":      lastMessage,
			"last_message_time": at,
			"message_count":     gorm.Expr("message_count + ?", delta),
		}).Error
}

func (r *Repo) SetSessionFlag(ctx context.Context, id string, flagged bool, reason *string, adminID *uint64, at *time.Time) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_flagged":  flagged,
			"flag_reason": reason,
			"flagged_at":  at,
			"flagged_by":  adminID,
		}).Error
}

// DeleteSessionCascade removes a session and its message log.
func (r *Repo) DeleteSessionCascade(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&Message{}, "session_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&Session{}, "id = ?", id).Error
	})
}

// ListLegacyMessages returns the old flat per-user log, oldest first.
func (r *Repo) ListLegacyMessages(ctx context.Context, userID uint64) ([]LegacyMessage, error) {
	var msgs []LegacyMessage
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}
