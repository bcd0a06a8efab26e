package admin

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/characterchat/backend/internal/character"
	"github.com/characterchat/backend/internal/chat"
	"github.com/characterchat/backend/internal/models"
)

var ErrTargetNotFound = errors.New("admin: target not found")

// Service carries out moderation actions. Every mutation appends an
// audit entry synchronously and publishes an event to the bus for the
// analytics worker; publishing is best-effort.
type Service struct {
	db    *gorm.DB
	chars *character.Repo
	chats *chat.Repo
	audit *AuditLog
	pub   Publisher
}

func NewService(db *gorm.DB, chars *character.Repo, chats *chat.Repo, audit *AuditLog, pub Publisher) *Service {
	return &Service{db: db, chars: chars, chats: chats, audit: audit, pub: pub}
}

func (s *Service) record(ctx context.Context, adminID uint64, action, targetType, targetID, reason string, details map[string]any) {
	e, err := s.audit.LogAction(ctx, adminID, action, targetType, targetID, reason, details)
	if err != nil {
		log.Printf("admin: audit append action=%s target=%s err=%v", action, targetID, err)
		return
	}
	if s.pub == nil {
		return
	}
	ev := AuditEvent{
		SchemaVersion: 1,
		EntryID:       e.ID,
		AdminID:       adminID,
		Action:        action,
		TargetType:    targetType,
		TargetID:      targetID,
		Reason:        reason,
		OccurredAt:    e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := s.pub.Publish(ctx, ev); err != nil {
		log.Printf("admin: audit publish action=%s target=%s err=%v", action, targetID, err)
	}
}

func (s *Service) FlagCharacter(ctx context.Context, adminID uint64, id, reason string) error {
	c, err := s.chars.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTargetNotFound
		}
		return err
	}
	now := time.Now()
	if err := s.chars.SetFlag(ctx, id, true, &reason, &adminID, &now); err != nil {
		return err
	}
	s.record(ctx, adminID, ActionFlagCharacter, TargetCharacter, id, reason, map[string]any{
		"character_name": c.Name,
		"owner_id":       c.UserID,
	})
	return nil
}

func (s *Service) UnflagCharacter(ctx context.Context, adminID uint64, id string) error {
	if _, err := s.chars.GetByID(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTargetNotFound
		}
		return err
	}
	if err := s.chars.SetFlag(ctx, id, false, nil, nil, nil); err != nil {
		return err
	}
	s.record(ctx, adminID, ActionUnflagCharacter, TargetCharacter, id, "", nil)
	return nil
}

// DeleteCharacter removes a character and cascades to every session
// referencing it.
func (s *Service) DeleteCharacter(ctx context.Context, adminID uint64, id, reason string) error {
	c, err := s.chars.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTargetNotFound
		}
		return err
	}
	if err := s.chars.DeleteCascade(ctx, id); err != nil {
		return err
	}
	s.record(ctx, adminID, ActionDeleteCharacter, TargetCharacter, id, reason, map[string]any{
		"character_name": c.Name,
		"owner_id":       c.UserID,
	})
	return nil
}

func (s *Service) FlagSession(ctx context.Context, adminID uint64, id, reason string) error {
	sess, err := s.chats.GetSessionByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTargetNotFound
		}
		return err
	}
	now := time.Now()
	if err := s.chats.SetSessionFlag(ctx, id, true, &reason, &adminID, &now); err != nil {
		return err
	}
	s.record(ctx, adminID, ActionFlagSession, TargetSession, id, reason, map[string]any{
		"owner_id":     sess.UserID,
		"character_id": sess.CharacterID,
	})
	return nil
}

func (s *Service) UnflagSession(ctx context.Context, adminID uint64, id string) error {
	if _, err := s.chats.GetSessionByID(ctx, id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTargetNotFound
		}
		return err
	}
	if err := s.chats.SetSessionFlag(ctx, id, false, nil, nil, nil); err != nil {
		return err
	}
	s.record(ctx, adminID, ActionUnflagSession, TargetSession, id, "", nil)
	return nil
}

func (s *Service) DeleteSession(ctx context.Context, adminID uint64, id, reason string) error {
	sess, err := s.chats.GetSessionByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTargetNotFound
		}
		return err
	}
	if err := s.chats.DeleteSessionCascade(ctx, id); err != nil {
		return err
	}
	s.record(ctx, adminID, ActionDeleteSession, TargetSession, id, reason, map[string]any{
		"owner_id":      sess.UserID,
		"character_id":  sess.CharacterID,
		"message_count": sess.MessageCount,
	})
	return nil
}

func (s *Service) setBlocked(ctx context.Context, adminID uint64, userID uint64, blocked bool, reason string) error {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrTargetNotFound
		}
		return err
	}

	updates := map[string]any{"blocked": blocked}
	if blocked {
		updates["blocked_at"] = time.Now()
	} else {
		updates["blocked_at"] = nil
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(updates).Error; err != nil {
		return err
	}

	action := ActionBlockUser
	if !blocked {
		action = ActionUnblockUser
	}
	s.record(ctx, adminID, action, TargetUser, u.Username, reason, map[string]any{
		"user_id": userID,
	})
	return nil
}

func (s *Service) BlockUser(ctx context.Context, adminID, userID uint64, reason string) error {
	return s.setBlocked(ctx, adminID, userID, true, reason)
}

func (s *Service) UnblockUser(ctx context.Context, adminID, userID uint64) error {
	return s.setBlocked(ctx, adminID, userID, false, "")
}

// ListUsers returns every account for the admin console.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []models.User
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// LegacySession materializes a user's pre-session message log as a
// synthetic read-only session.
func (s *Service) LegacySession(ctx context.Context, userID uint64) (*chat.Session, []chat.LegacyMessage, error) {
	msgs, err := s.chats.ListLegacyMessages(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return chat.SyntheticLegacySession(userID, msgs), msgs, nil
}

func (s *Service) AuditEntries(ctx context.Context, limit, offset int) ([]AuditLogEntry, error) {
	return s.audit.List(ctx, limit, offset)
}
