package chat

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/characterchat/backend/internal/character"
)

// SenderAI is the sentinel sender id for model-authored messages.
const SenderAI = "ai"

// CharacterSnapshot is the persona a session was started with, frozen
// at session creation. Later edits to the character never touch it.
type CharacterSnapshot struct {
	Name        string `json:"name"`
	Age         int    `json:"age"`
	Profession  string `json:"profession"`
	Tone        string `json:"tone"`
	Description string `json:"description"`
}

func SnapshotOf(c *character.Character) CharacterSnapshot {
	return CharacterSnapshot{
		Name:        c.Name,
		Age:         c.Age,
		Profession:  c.Profession,
		Tone:        c.Tone,
		Description: c.Description,
	}
}

// AsCharacter rebuilds a character value for persona compilation.
func (s CharacterSnapshot) AsCharacter() character.Character {
	return character.Character{
		Name:        s.Name,
		Age:         s.Age,
		Profession:  s.Profession,
		Tone:        s.Tone,
		Description: s.Description,
	}
}

func (s CharacterSnapshot) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *CharacterSnapshot) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = CharacterSnapshot{}
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return fmt.Errorf("chat: cannot scan %T into CharacterSnapshot", src)
	}
}

type Session struct {
	ID          string `gorm:"primaryKey;size:26" json:"session_id"` // ULID
	UserID      uint64 `gorm:"index;not null" json:"-"`
	CharacterID string `gorm:"size:26;index;not null" json:"character_id"`

	CharacterData CharacterSnapshot `gorm:"type:text" json:"character_data"`

	// denormalized tail of the message log, kept for list rendering
	LastMessage     string     `gorm:"type:varchar(120)" json:"last_message"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
	MessageCount    int        `gorm:"not null;default:0" json:"message_count"`

	// admin moderation
	IsFlagged  bool       `gorm:"not null;default:false" json:"is_flagged"`
	FlagReason *string    `gorm:"type:varchar(255)" json:"flag_reason,omitempty"`
	FlaggedAt  *time.Time `json:"flagged_at,omitempty"`
	FlaggedBy  *uint64    `json:"flagged_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Session) TableName() string { return "chat_sessions" }

type Message struct {
	ID        string `gorm:"primaryKey;size:26" json:"id"` // ULID
	SessionID string `gorm:"size:26;index:idx_chat_msg_session_created,priority:1;not null" json:"session_id"`
	UserID    uint64 `gorm:"index;not null" json:"-"`

	Text string `gorm:"type:text;not null" json:"text"`
	// sender uid, or SenderAI
	Sender      string `gorm:"type:varchar(26);not null" json:"uid"`
	DisplayName string `gorm:"type:varchar(64)" json:"display_name"`
	PhotoURL    string `gorm:"type:varchar(512)" json:"photo_url"`
	// true when the model authored this message
	Character bool `gorm:"not null;default:false" json:"character"`

	CreatedAt time.Time `gorm:"index:idx_chat_msg_session_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// LegacyMessage is the pre-session flat message log. Read-only; kept
// so older accounts remain browsable.
type LegacyMessage struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint64    `gorm:"index;not null" json:"-"`
	Text        string    `gorm:"type:text;not null" json:"text"`
	Sender      string    `gorm:"type:varchar(26);not null" json:"uid"`
	DisplayName string    `gorm:"type:varchar(64)" json:"display_name"`
	PhotoURL    string    `gorm:"type:varchar(512)" json:"photo_url"`
	Character   bool      `gorm:"not null;default:false" json:"character"`
	CreatedAt   time.Time `json:"created_at"`
}

func (LegacyMessage) TableName() string { return "legacy_messages" }

// TruncateRunes shortens s to at most n runes for summary fields.
func TruncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
