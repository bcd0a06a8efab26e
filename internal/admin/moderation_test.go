package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/characterchat/backend/internal/character"
	"github.com/characterchat/backend/internal/chat"
	"github.com/characterchat/backend/internal/common"
	"github.com/characterchat/backend/internal/models"
)

// capturePublisher records published audit events.
type capturePublisher struct {
	events []AuditEvent
	err    error
}

func (p *capturePublisher) Publish(ctx context.Context, event any) error {
	_ = ctx
	if p.err != nil {
		return p.err
	}
	if ev, ok := event.(AuditEvent); ok {
		p.events = append(p.events, ev)
	}
	return nil
}

type fixture struct {
	db   *gorm.DB
	svc  *Service
	pub  *capturePublisher
	log  *AuditLog
	char *character.Character
	sess *chat.Session
	user *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}, &character.Character{}, &chat.Session{}, &chat.Message{}, &chat.LegacyMessage{}, &AuditLogEntry{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	u := &models.User{Email: "ada@example.com", Username: "ada", Role: models.RoleUser}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	charRepo := character.NewRepo(db)
	c := &character.Character{Name: "Nova", Age: 30, Profession: "pilot", Tone: character.ToneFriendly, LastUsed: time.Now()}
	c.ID, _ = common.NewULID()
	c.UserID = u.ID
	if err := charRepo.Create(context.Background(), c); err != nil {
		t.Fatalf("seed character: %v", err)
	}

	chatRepo := chat.NewRepo(db)
	sess := &chat.Session{
		UserID:        u.ID,
		CharacterID:   c.ID,
		CharacterData: chat.SnapshotOf(c),
	}
	sess.ID, _ = common.NewULID()
	if err := chatRepo.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	pub := &capturePublisher{}
	auditLog := NewAuditLog(db)
	return &fixture{
		db:   db,
		svc:  NewService(db, charRepo, chatRepo, auditLog, pub),
		pub:  pub,
		log:  auditLog,
		char: c,
		sess: sess,
		user: u,
	}
}

func (f *fixture) lastAudit(t *testing.T) AuditLogEntry {
	t.Helper()
	entries, err := f.log.List(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("no audit entries")
	}
	return entries[0]
}

func TestFlagUnflagCharacter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.FlagCharacter(ctx, 99, f.char.ID, "inappropriate description"); err != nil {
		t.Fatalf("flag: %v", err)
	}

	got, err := character.NewRepo(f.db).GetByID(ctx, f.char.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !got.IsFlagged || got.FlagReason == nil || *got.FlagReason != "inappropriate description" {
		t.Fatalf("flag not applied: %+v", got)
	}
	if got.FlaggedBy == nil || *got.FlaggedBy != 99 || got.FlaggedAt == nil {
		t.Fatalf("flag attribution missing: %+v", got)
	}

	e := f.lastAudit(t)
	if e.Action != ActionFlagCharacter || e.TargetType != TargetCharacter || e.TargetID != f.char.ID {
		t.Fatalf("unexpected audit entry: %+v", e)
	}
	if e.AdminID != 99 || e.Reason != "inappropriate description" {
		t.Fatalf("unexpected audit attribution: %+v", e)
	}
	if len(f.pub.events) != 1 || f.pub.events[0].Action != ActionFlagCharacter {
		t.Fatalf("event not published: %+v", f.pub.events)
	}

	if err := f.svc.UnflagCharacter(ctx, 99, f.char.ID); err != nil {
		t.Fatalf("unflag: %v", err)
	}
	got, err = character.NewRepo(f.db).GetByID(ctx, f.char.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.IsFlagged || got.FlagReason != nil || got.FlaggedBy != nil || got.FlaggedAt != nil {
		t.Fatalf("flag not cleared: %+v", got)
	}
	if e := f.lastAudit(t); e.Action != ActionUnflagCharacter {
		t.Fatalf("unflag not audited: %+v", e)
	}
}

func TestFlagCharacterNotFound(t *testing.T) {
	f := newFixture(t)
	err := f.svc.FlagCharacter(context.Background(), 99, "01MISSING00000000000000000", "x")
	if !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("expected ErrTargetNotFound, got %v", err)
	}
	if entries, _ := f.log.List(context.Background(), 10, 0); len(entries) != 0 {
		t.Fatalf("no-op must not be audited: %+v", entries)
	}
}

func TestDeleteCharacterCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.DeleteCharacter(ctx, 99, f.char.ID, "policy violation"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := character.NewRepo(f.db).GetByID(ctx, f.char.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("character should be gone, got %v", err)
	}
	var sessions int64
	if err := f.db.Model(&chat.Session{}).Where("character_id = ?", f.char.ID).Count(&sessions).Error; err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if sessions != 0 {
		t.Fatalf("sessions survived cascade: %d", sessions)
	}
	if e := f.lastAudit(t); e.Action != ActionDeleteCharacter || e.Reason != "policy violation" {
		t.Fatalf("delete not audited: %+v", e)
	}
}

func TestFlagAndDeleteSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chatRepo := chat.NewRepo(f.db)

	if err := f.svc.FlagSession(ctx, 99, f.sess.ID, "reported"); err != nil {
		t.Fatalf("flag session: %v", err)
	}
	got, err := chatRepo.GetSessionByID(ctx, f.sess.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !got.IsFlagged || got.FlagReason == nil || *got.FlagReason != "reported" {
		t.Fatalf("session flag not applied: %+v", got)
	}

	if err := f.svc.UnflagSession(ctx, 99, f.sess.ID); err != nil {
		t.Fatalf("unflag session: %v", err)
	}

	if err := f.svc.DeleteSession(ctx, 99, f.sess.ID, "cleanup"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := chatRepo.GetSessionByID(ctx, f.sess.ID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("session should be gone, got %v", err)
	}
	if e := f.lastAudit(t); e.Action != ActionDeleteSession {
		t.Fatalf("delete not audited: %+v", e)
	}
}

func TestBlockUnblockUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.BlockUser(ctx, 99, f.user.ID, "abuse"); err != nil {
		t.Fatalf("block: %v", err)
	}
	var u models.User
	if err := f.db.First(&u, f.user.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if !u.Blocked || u.BlockedAt == nil {
		t.Fatalf("block not applied: %+v", u)
	}
	if e := f.lastAudit(t); e.Action != ActionBlockUser || e.TargetType != TargetUser {
		t.Fatalf("block not audited: %+v", e)
	}

	if err := f.svc.UnblockUser(ctx, 99, f.user.ID); err != nil {
		t.Fatalf("unblock: %v", err)
	}
	// Reset before reload: gorm leaves stale field values when scanning a
	// NULL column into a reused struct.
	u = models.User{}
	if err := f.db.First(&u, f.user.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if u.Blocked || u.BlockedAt != nil {
		t.Fatalf("unblock not applied: %+v", u)
	}

	if err := f.svc.BlockUser(ctx, 99, 12345, "x"); !errors.Is(err, ErrTargetNotFound) {
		t.Fatalf("expected ErrTargetNotFound, got %v", err)
	}
}

func TestPublishFailureDoesNotBlockAction(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")

	if err := f.svc.FlagCharacter(context.Background(), 99, f.char.ID, "x"); err != nil {
		t.Fatalf("flag should succeed despite publish failure: %v", err)
	}
	if e := f.lastAudit(t); e.Action != ActionFlagCharacter {
		t.Fatalf("audit entry missing: %+v", e)
	}
}

func TestLegacySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	now := time.Now()
	for i, txt := range []string{"old hello", "old reply"} {
		m := chat.LegacyMessage{UserID: f.user.ID, Text: txt, Character: i == 1, CreatedAt: now.Add(time.Duration(i) * time.Minute)}
		if err := f.db.Create(&m).Error; err != nil {
			t.Fatalf("seed legacy: %v", err)
		}
	}

	sess, msgs, err := f.svc.LegacySession(ctx, f.user.ID)
	if err != nil {
		t.Fatalf("legacy session: %v", err)
	}
	if sess.CharacterData.Name != "Legacy Messages" || sess.MessageCount != 2 {
		t.Fatalf("unexpected synthetic session: %+v", sess)
	}
	if len(msgs) != 2 || msgs[0].Text != "old hello" {
		t.Fatalf("unexpected legacy messages: %+v", msgs)
	}
}

func TestAnalyticsRollup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.FlagCharacter(ctx, 99, f.char.ID, "x"); err != nil {
		t.Fatalf("flag: %v", err)
	}
	if err := f.svc.BlockUser(ctx, 99, f.user.ID, "x"); err != nil {
		t.Fatalf("block: %v", err)
	}

	r, err := NewAnalytics(f.db, nil).Rollup(ctx)
	if err != nil {
		t.Fatalf("rollup: %v", err)
	}
	if r.Users != 1 || r.BlockedUsers != 1 {
		t.Fatalf("unexpected user counts: %+v", r)
	}
	if r.Characters != 1 || r.FlaggedCharacters != 1 {
		t.Fatalf("unexpected character counts: %+v", r)
	}
	if r.Sessions != 1 || r.FlaggedSessions != 0 {
		t.Fatalf("unexpected session counts: %+v", r)
	}
}
