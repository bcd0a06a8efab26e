package character

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/characterchat/backend/internal/common"
)

var ErrNotFound = errors.New("character: not found")

// ValidationError marks a malformed character record rejected at the
// store boundary.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("character: invalid %s: %s", e.Field, e.Reason)
}

func Validate(c *Character) error {
	if strings.TrimSpace(c.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if strings.TrimSpace(c.Profession) == "" {
		return &ValidationError{Field: "profession", Reason: "required"}
	}
	if !IsValidTone(c.Tone) {
		return &ValidationError{Field: "tone", Reason: "must be one of friendly, formal, humorous, serious, casual, enthusiastic"}
	}
	if c.Age < 1 || c.Age > 100 {
		return &ValidationError{Field: "age", Reason: "must be between 1 and 100"}
	}
	if len([]rune(c.Description)) > MaxDescriptionLen {
		return &ValidationError{Field: "description", Reason: fmt.Sprintf("must be at most %d characters", MaxDescriptionLen)}
	}
	return nil
}

type Service struct {
	repo *Repo
}

func NewService(repo *Repo) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, userID uint64, c *Character) (*Character, error) {
	c.UserID = userID
	c.Name = strings.TrimSpace(c.Name)
	c.Profession = strings.TrimSpace(c.Profession)
	if err := Validate(c); err != nil {
		return nil, err
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	c.ID = id
	c.LastUsed = time.Now()

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// GetOwned loads a character and verifies ownership. Characters of
// other users are reported as not found, never as forbidden.
func (s *Service) GetOwned(ctx context.Context, userID uint64, id string) (*Character, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if c.UserID != userID {
		return nil, ErrNotFound
	}
	return c, nil
}

func (s *Service) List(ctx context.Context, userID uint64) ([]Character, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Update edits a character in place. Moderation fields and timestamps
// are not caller-writable.
func (s *Service) Update(ctx context.Context, userID uint64, id string, upd *Character) (*Character, error) {
	c, err := s.GetOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	c.Name = strings.TrimSpace(upd.Name)
	c.Age = upd.Age
	c.Profession = strings.TrimSpace(upd.Profession)
	c.Tone = upd.Tone
	c.Description = upd.Description
	if err := Validate(c); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Select marks a character as the one currently in use.
func (s *Service) Select(ctx context.Context, userID uint64, id string) (*Character, error) {
	c, err := s.GetOwned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	if err := s.repo.TouchLastUsed(ctx, id, now); err != nil {
		return nil, err
	}
	c.LastUsed = now
	return c, nil
}

// Delete removes an owned character and cascades to its sessions.
func (s *Service) Delete(ctx context.Context, userID uint64, id string) error {
	if _, err := s.GetOwned(ctx, userID, id); err != nil {
		return err
	}
	return s.repo.DeleteCascade(ctx, id)
}
