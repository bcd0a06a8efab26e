package character

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

func (r *Repo) Create(ctx context.Context, c *Character) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *Repo) GetByID(ctx context.Context, id string) (*Character, error) {
	var c Character
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListByUser returns a user's characters, most recently used first.
func (r *Repo) ListByUser(ctx context.Context, userID uint64) ([]Character, error) {
	var out []Character
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_used DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// MostRecentlyUsed returns the character selected last, or
// gorm.ErrRecordNotFound when the user has none.
func (r *Repo) MostRecentlyUsed(ctx context.Context, userID uint64) (*Character, error) {
	var c Character
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_used DESC").
		First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *Repo) Update(ctx context.Context, c *Character) error {
	return r.db.WithContext(ctx).Save(c).Error
}

func (r *Repo) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Character{}).
		Where("id = ?", id).
		Update("last_used", at).Error
}

func (r *Repo) SetFlag(ctx context.Context, id string, flagged bool, reason *string, adminID *uint64, at *time.Time) error {
	return r.db.WithContext(ctx).Model(&Character{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_flagged":  flagged,
			"flag_reason": reason,
			"flagged_at":  at,
			"flagged_by":  adminID,
		}).Error
}

// DeleteCascade removes the character and every session (and message)
// referencing it, in one transaction. The session/message tables are
// addressed by name so this package does not depend on the chat package.
func (r *Repo) DeleteCascade(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			"DELETE FROM chat_messages WHERE session_id IN (SELECT id FROM chat_sessions WHERE character_id = ?)",
			id,
		).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM chat_sessions WHERE character_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&Character{}, "id = ?", id).Error
	})
}
