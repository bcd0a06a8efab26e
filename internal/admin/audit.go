package admin

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/characterchat/backend/internal/common"
)

// Moderation actions recorded in the audit log.
const (
	ActionFlagCharacter   = "flag_character"
	ActionUnflagCharacter = "unflag_character"
	ActionDeleteCharacter = "delete_character"
	ActionFlagSession     = "flag_session"
	ActionUnflagSession   = "unflag_session"
	ActionDeleteSession   = "delete_session"
	ActionBlockUser       = "block_user"
	ActionUnblockUser     = "unblock_user"
)

const (
	TargetCharacter = "character"
	TargetSession   = "session"
	TargetUser      = "user"
)

type AuditLogEntry struct {
	ID         string    `gorm:"primaryKey;size:26" json:"id"` // ULID
	AdminID    uint64    `gorm:"index;not null" json:"admin_id"`
	Action     string    `gorm:"type:varchar(32);index;not null" json:"action"`
	TargetType string    `gorm:"type:varchar(16);not null" json:"target_type"`
	TargetID   string    `gorm:"type:varchar(64);index;not null" json:"target_id"`
	Reason     string    `gorm:"type:varchar(255)" json:"reason"`
	Details    string    `gorm:"type:text" json:"details"`
	CreatedAt  time.Time `json:"created_at"`
}

func (AuditLogEntry) TableName() string { return "audit_log" }

// AuditEvent is the envelope published to the event bus for the
// analytics worker.
type AuditEvent struct {
	SchemaVersion int    `json:"schema_version"`
	EntryID       string `json:"entry_id"`
	AdminID       uint64 `json:"admin_id"`
	Action        string `json:"action"`
	TargetType    string `json:"target_type"`
	TargetID      string `json:"target_id"`
	Reason        string `json:"reason,omitempty"`
	OccurredAt    string `json:"occurred_at"`
}

// Publisher pushes audit events onto the bus. Implemented by the
// rabbitmq store.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

type AuditLog struct {
	db *gorm.DB
}

func NewAuditLog(db *gorm.DB) *AuditLog {
	return &AuditLog{db: db}
}

// LogAction appends one audit entry. Every moderation mutation calls
// this before it returns.
func (l *AuditLog) LogAction(ctx context.Context, adminID uint64, action, targetType, targetID, reason string, details map[string]any) (*AuditLogEntry, error) {
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	var detailsJSON string
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return nil, err
		}
		detailsJSON = string(b)
	}

	e := &AuditLogEntry{
		ID:         id,
		AdminID:    adminID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Reason:     reason,
		Details:    detailsJSON,
	}
	if err := l.db.WithContext(ctx).Create(e).Error; err != nil {
		return nil, err
	}
	return e, nil
}

// List returns audit entries newest first.
func (l *AuditLog) List(ctx context.Context, limit, offset int) ([]AuditLogEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []AuditLogEntry
	if err := l.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
