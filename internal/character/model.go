package character

import "time"

// Tone values a character may carry. Anything else is rejected at the
// store boundary.
const (
	ToneFriendly     = "friendly"
	ToneFormal       = "formal"
	ToneHumorous     = "humorous"
	ToneSerious      = "serious"
	ToneCasual       = "casual"
	ToneEnthusiastic = "enthusiastic"
)

var validTones = map[string]struct{}{
	ToneFriendly:     {},
	ToneFormal:       {},
	ToneHumorous:     {},
	ToneSerious:      {},
	ToneCasual:       {},
	ToneEnthusiastic: {},
}

func IsValidTone(tone string) bool {
	_, ok := validTones[tone]
	return ok
}

const MaxDescriptionLen = 500

type Character struct {
	ID          string `gorm:"primaryKey;size:26" json:"id"` // ULID
	UserID      uint64 `gorm:"index:idx_characters_user_last_used,priority:1;not null" json:"-"`
	Name        string `gorm:"type:varchar(64);not null" json:"name"`
	Age         int    `gorm:"not null" json:"age"`
	Profession  string `gorm:"type:varchar(64);not null" json:"profession"`
	Tone        string `gorm:"type:varchar(16);not null" json:"tone"`
	Description string `gorm:"type:varchar(500)" json:"description"`

	// admin moderation
	IsFlagged  bool       `gorm:"not null;default:false" json:"is_flagged"`
	FlagReason *string    `gorm:"type:varchar(255)" json:"flag_reason,omitempty"`
	FlaggedAt  *time.Time `json:"flagged_at,omitempty"`
	FlaggedBy  *uint64    `json:"flagged_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	// bumped on every selection; drives the bootstrap default
	LastUsed time.Time `gorm:"index:idx_characters_user_last_used,priority:2" json:"last_used"`
}

func (Character) TableName() string { return "characters" }
