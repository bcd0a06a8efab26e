package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/characterchat/backend/internal/ai"
	"github.com/characterchat/backend/internal/character"
)

// scriptProvider replays a fixed fragment sequence, optionally ending
// with an error.
type scriptProvider struct {
	chunks  []string
	err     error
	lastReq ai.ChatRequest
}

func (p *scriptProvider) Chat(ctx context.Context, req ai.ChatRequest) (string, error) {
	_ = ctx
	p.lastReq = req
	if p.err != nil {
		return "", p.err
	}
	return strings.Join(p.chunks, ""), nil
}

func (p *scriptProvider) StreamChat(ctx context.Context, req ai.ChatRequest) (<-chan string, <-chan error) {
	_ = ctx
	p.lastReq = req
	chunks := make(chan string, len(p.chunks))
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		for _, c := range p.chunks {
			chunks <- c
		}
		if p.err != nil {
			errs <- p.err
		}
	}()
	return chunks, errs
}

// blockingProvider answers whole, no streaming support.
type blockingProvider struct {
	reply string
	err   error
}

func (p *blockingProvider) Chat(ctx context.Context, req ai.ChatRequest) (string, error) {
	_ = ctx
	_ = req
	return p.reply, p.err
}

// stallingProvider emits an optional first fragment, then holds the
// stream open until the context is cancelled.
type stallingProvider struct {
	first string
}

func (p *stallingProvider) Chat(ctx context.Context, req ai.ChatRequest) (string, error) {
	_ = ctx
	_ = req
	return p.first, nil
}

func (p *stallingProvider) StreamChat(ctx context.Context, req ai.ChatRequest) (<-chan string, <-chan error) {
	_ = req
	chunks := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if p.first != "" {
			chunks <- p.first
		}
		<-ctx.Done()
		errs <- ctx.Err()
	}()
	return chunks, errs
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&character.Character{}, &Session{}, &Message{}, &LegacyMessage{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, prov ai.Provider) *Service {
	t.Helper()
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		_ = model
		return prov, nil
	})
	return NewService(NewRepo(db), character.NewRepo(db), reg, "fake", "", 20, nil)
}

func seedCharacter(t *testing.T, db *gorm.DB, userID uint64, name string) *character.Character {
	t.Helper()
	c, err := character.NewService(character.NewRepo(db)).Create(context.Background(), userID, &character.Character{
		Name:        name,
		Age:         30,
		Profession:  "pilot",
		Tone:        character.ToneFriendly,
		Description: "calm under pressure",
	})
	if err != nil {
		t.Fatalf("seed character: %v", err)
	}
	return c
}

func collect(t *testing.T, chunks <-chan string, results <-chan SendResult, errs <-chan error) (string, *SendResult, error) {
	t.Helper()
	var b strings.Builder
	for c := range chunks {
		b.WriteString(c)
	}
	var res *SendResult
	if r, ok := <-results; ok {
		res = &r
	}
	var err error
	if e, ok := <-errs; ok {
		err = e
	}
	return b.String(), res, err
}

func TestCreateSession_SnapshotsCharacter(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, &scriptProvider{})
	c := seedCharacter(t, db, 1, "Nova")

	sess, err := svc.CreateSession(context.Background(), 1, c.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.CharacterData.Name != "Nova" || sess.CharacterData.Profession != "pilot" {
		t.Fatalf("unexpected snapshot: %+v", sess.CharacterData)
	}

	// editing the character must not rewrite the snapshot
	c.Name = "Vega"
	c.Profession = "navigator"
	if err := character.NewRepo(db).Update(context.Background(), c); err != nil {
		t.Fatalf("update character: %v", err)
	}

	got, err := svc.GetOwnedSession(context.Background(), 1, sess.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if got.CharacterData.Name != "Nova" || got.CharacterData.Profession != "pilot" {
		t.Fatalf("snapshot drifted after character edit: %+v", got.CharacterData)
	}
}

func TestCreateSession_ForeignCharacterNotFound(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, &scriptProvider{})
	c := seedCharacter(t, db, 1, "Nova")

	if _, err := svc.CreateSession(context.Background(), 2, c.ID); !errors.Is(err, character.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSendMessageStream_AccumulatesAndPersists(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptProvider{chunks: []string{"Cal", "lsign? ", "It's ", "Nova-1."}}
	svc := newTestService(t, db, prov)
	c := seedCharacter(t, db, 1, "Nova")

	sess, err := svc.CreateSession(context.Background(), 1, c.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	chunks, results, errs := svc.SendMessageStream(context.Background(), 1, sess.ID, "What's your callsign?", "Ada", "")
	got, res, sendErr := collect(t, chunks, results, errs)
	if sendErr != nil {
		t.Fatalf("send: %v", sendErr)
	}
	if got != "Callsign? It's Nova-1." {
		t.Fatalf("unexpected accumulated reply: %q", got)
	}
	if res == nil || res.Text != "Callsign? It's Nova-1." {
		t.Fatalf("unexpected result: %+v", res)
	}

	msgs, err := svc.ListMessages(context.Background(), 1, sess.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Character || msgs[0].Text != "What's your callsign?" {
		t.Fatalf("unexpected user message: %+v", msgs[0])
	}
	if !msgs[1].Character || msgs[1].Sender != SenderAI || msgs[1].Text != "Callsign? It's Nova-1." {
		t.Fatalf("unexpected assistant message: %+v", msgs[1])
	}

	reloaded, err := svc.GetOwnedSession(context.Background(), 1, sess.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.MessageCount != 2 {
		t.Fatalf("expected message_count=2, got %d", reloaded.MessageCount)
	}
	if reloaded.LastMessage != "Callsign? It's Nova-1." {
		t.Fatalf("unexpected last_message: %q", reloaded.LastMessage)
	}
	if reloaded.LastMessageTime == nil {
		t.Fatalf("last_message_time not set")
	}
}

func TestSendMessageStream_PersonaAndTurns(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptProvider{chunks: []string{"ok"}}
	svc := newTestService(t, db, prov)
	c := seedCharacter(t, db, 1, "Nova")

	sess, err := svc.CreateSession(context.Background(), 1, c.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	chunks, results, errs := svc.SendMessageStream(context.Background(), 1, sess.ID, "hello", "", "")
	if _, _, err := collect(t, chunks, results, errs); err != nil {
		t.Fatalf("send: %v", err)
	}

	if !strings.Contains(prov.lastReq.System, "Nova") || !strings.Contains(prov.lastReq.System, "pilot") {
		t.Fatalf("persona not embedded in system prompt: %q", prov.lastReq.System)
	}
	if prov.lastReq.Temperature != Temperature {
		t.Fatalf("expected temperature %v, got %v", Temperature, prov.lastReq.Temperature)
	}
	if len(prov.lastReq.Messages) != 1 || prov.lastReq.Messages[0].Role != ai.RoleUser || prov.lastReq.Messages[0].Content != "hello" {
		t.Fatalf("unexpected turns: %+v", prov.lastReq.Messages)
	}

	// second send: history now includes both prior turns, model role
	// for the assistant one
	chunks, results, errs = svc.SendMessageStream(context.Background(), 1, sess.ID, "again", "", "")
	if _, _, err := collect(t, chunks, results, errs); err != nil {
		t.Fatalf("second send: %v", err)
	}
	roles := make([]string, 0, len(prov.lastReq.Messages))
	for _, m := range prov.lastReq.Messages {
		roles = append(roles, m.Role)
	}
	want := []string{ai.RoleUser, ai.RoleModel, ai.RoleUser}
	if len(roles) != len(want) {
		t.Fatalf("expected %d turns, got %d (%v)", len(want), len(roles), roles)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("turn %d: expected role %q, got %q", i, want[i], roles[i])
		}
	}
}

func TestSendMessageStream_EmptyStreamReplacedWithError(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptProvider{} // no chunks, no error
	svc := newTestService(t, db, prov)
	c := seedCharacter(t, db, 1, "Nova")

	sess, err := svc.CreateSession(context.Background(), 1, c.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	chunks, results, errs := svc.SendMessageStream(context.Background(), 1, sess.ID, "hello", "", "")
	got, res, sendErr := collect(t, chunks, results, errs)
	if got != "" {
		t.Fatalf("expected no content, got %q", got)
	}
	if !errors.Is(sendErr, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", sendErr)
	}
	if res == nil || res.Text == "" {
		t.Fatalf("expected replacement message, got %+v", res)
	}

	msgs, err := svc.ListMessages(context.Background(), 1, sess.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	// never an empty AI artifact
	for _, m := range msgs {
		if m.Text == "" {
			t.Fatalf("empty message left behind: %+v", m)
		}
	}
	if !msgs[1].Character || msgs[1].Text != streamErrorText {
		t.Fatalf("expected error replacement, got %+v", msgs[1])
	}
}

func TestSendMessageStream_PartialKeptOnFailure(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptProvider{chunks: []string{"partial "}, err: errors.New("upstream reset")}
	svc := newTestService(t, db, prov)
	c := seedCharacter(t, db, 1, "Nova")

	sess, err := svc.CreateSession(context.Background(), 1, c.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	chunks, results, errs := svc.SendMessageStream(context.Background(), 1, sess.ID, "hello", "", "")
	got, res, sendErr := collect(t, chunks, results, errs)
	if sendErr == nil || sendErr.Error() != "upstream reset" {
		t.Fatalf("expected upstream error, got %v", sendErr)
	}
	if got != "partial " {
		t.Fatalf("unexpected partial: %q", got)
	}
	if res == nil || res.Text != "partial " {
		t.Fatalf("partial not kept: %+v", res)
	}

	msgs, err := svc.ListMessages(context.Background(), 1, sess.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Text != "partial " {
		t.Fatalf("partial text not persisted: %+v", msgs)
	}
}

func TestSendMessageStream_BlockingProviderSingleFragment(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, &blockingProvider{reply: "One whole answer."})
	c := seedCharacter(t, db, 1, "Nova")

	sess, err := svc.CreateSession(context.Background(), 1, c.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	chunks, results, errs := svc.SendMessageStream(context.Background(), 1, sess.ID, "hello", "", "")

	var got []string
	for ch := range chunks {
		got = append(got, ch)
	}
	if len(got) != 1 || got[0] != "One whole answer." {
		t.Fatalf("expected one fragment with the whole reply, got %v", got)
	}

	res, ok := <-results
	if !ok || res.Text != "One whole answer." {
		t.Fatalf("unexpected result: %+v ok=%v", res, ok)
	}
	if err, ok := <-errs; ok && err != nil {
		t.Fatalf("send: %v", err)
	}

	msgs, err := svc.ListMessages(context.Background(), 1, sess.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Text != "One whole answer." {
		t.Fatalf("reply not persisted: %+v", msgs)
	}
}

func TestSendMessageStream_BlockingProviderFailure(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, &blockingProvider{err: errors.New("model offline")})
	c := seedCharacter(t, db, 1, "Nova")

	sess, err := svc.CreateSession(context.Background(), 1, c.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	chunks, results, errs := svc.SendMessageStream(context.Background(), 1, sess.ID, "hello", "", "")
	got, res, sendErr := collect(t, chunks, results, errs)
	if got != "" {
		t.Fatalf("expected no content, got %q", got)
	}
	if sendErr == nil || sendErr.Error() != "model offline" {
		t.Fatalf("expected provider error, got %v", sendErr)
	}
	if res == nil || res.Text != streamErrorText {
		t.Fatalf("expected error replacement, got %+v", res)
	}
}

func TestSendMessageStream_CancelKeepsPartial(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, &stallingProvider{first: "partial "})
	c := seedCharacter(t, db, 1, "Nova")

	sess, err := svc.CreateSession(context.Background(), 1, c.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	chunks, results, errs := svc.SendMessageStream(ctx, 1, sess.ID, "hello", "", "")

	first, ok := <-chunks
	if !ok || first != "partial " {
		t.Fatalf("expected first fragment before cancel, got %q ok=%v", first, ok)
	}
	cancel()

	_, res, sendErr := collect(t, chunks, results, errs)
	if !errors.Is(sendErr, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", sendErr)
	}
	if res == nil || res.Text != "partial " {
		t.Fatalf("partial not kept: %+v", res)
	}

	// finalization outlives the cancelled request
	msgs, err := svc.ListMessages(context.Background(), 1, sess.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Text != "partial " {
		t.Fatalf("partial text not persisted: %+v", msgs)
	}
	reloaded, err := svc.GetOwnedSession(context.Background(), 1, sess.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if reloaded.MessageCount != 2 || reloaded.LastMessage != "partial " {
		t.Fatalf("summary not finalized after cancel: %+v", reloaded)
	}
}

func TestSendMessageStream_CancelBeforeContent(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, &stallingProvider{})
	c := seedCharacter(t, db, 1, "Nova")

	sess, err := svc.CreateSession(context.Background(), 1, c.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	chunks, results, errs := svc.SendMessageStream(ctx, 1, sess.ID, "hello", "", "")

	// give the send a moment to reach the provider, then hang up
	time.Sleep(10 * time.Millisecond)
	cancel()

	got, res, sendErr := collect(t, chunks, results, errs)
	if got != "" {
		t.Fatalf("expected no content, got %q", got)
	}
	if !errors.Is(sendErr, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", sendErr)
	}
	if res == nil || res.Text != streamErrorText {
		t.Fatalf("expected error replacement, got %+v", res)
	}

	// no empty artifact survives the cancelled send
	msgs, err := svc.ListMessages(context.Background(), 1, sess.ID)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Text != streamErrorText {
		t.Fatalf("replacement not persisted: %+v", msgs)
	}
	for _, m := range msgs {
		if m.Text == "" {
			t.Fatalf("empty message left behind: %+v", m)
		}
	}
}

func TestSessionIsolation(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptProvider{chunks: []string{"reply"}}
	svc := newTestService(t, db, prov)
	c := seedCharacter(t, db, 1, "Nova")

	a, err := svc.CreateSession(context.Background(), 1, c.ID)
	if err != nil {
		t.Fatalf("create session a: %v", err)
	}
	bSess, err := svc.CreateSession(context.Background(), 1, c.ID)
	if err != nil {
		t.Fatalf("create session b: %v", err)
	}

	chunks, results, errs := svc.SendMessageStream(context.Background(), 1, a.ID, "hello", "", "")
	if _, _, err := collect(t, chunks, results, errs); err != nil {
		t.Fatalf("send: %v", err)
	}

	bMsgs, err := svc.ListMessages(context.Background(), 1, bSess.ID)
	if err != nil {
		t.Fatalf("list b messages: %v", err)
	}
	if len(bMsgs) != 0 {
		t.Fatalf("messages leaked into session b: %+v", bMsgs)
	}
	bReloaded, err := svc.GetOwnedSession(context.Background(), 1, bSess.ID)
	if err != nil {
		t.Fatalf("reload b: %v", err)
	}
	if bReloaded.MessageCount != 0 || bReloaded.LastMessage != "" {
		t.Fatalf("summary of session b affected: %+v", bReloaded)
	}
}

func TestBootstrap(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptProvider{chunks: []string{"reply"}}
	svc := newTestService(t, db, prov)

	// nothing yet: empty bootstrap, wait for explicit user action
	b, err := svc.Bootstrap(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("bootstrap empty: %v", err)
	}
	if b.Session != nil || b.Character != nil {
		t.Fatalf("expected empty bootstrap, got %+v", b)
	}

	c := seedCharacter(t, db, 1, "Nova")

	// character but no session yet
	b, err = svc.Bootstrap(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("bootstrap char-only: %v", err)
	}
	if b.Character == nil || b.Character.ID != c.ID || b.Session != nil {
		t.Fatalf("expected character-only bootstrap, got %+v", b)
	}

	sess, err := svc.CreateSession(context.Background(), 1, c.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	chunks, results, errs := svc.SendMessageStream(context.Background(), 1, sess.ID, "hello", "", "")
	if _, _, err := collect(t, chunks, results, errs); err != nil {
		t.Fatalf("send: %v", err)
	}

	// default resolution picks the most recent session
	b, err = svc.Bootstrap(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("bootstrap default: %v", err)
	}
	if b.Session == nil || b.Session.ID != sess.ID {
		t.Fatalf("expected session %s, got %+v", sess.ID, b.Session)
	}
	if len(b.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(b.Messages))
	}

	// explicit session id wins and renders from the frozen snapshot
	b, err = svc.Bootstrap(context.Background(), 1, sess.ID)
	if err != nil {
		t.Fatalf("bootstrap explicit: %v", err)
	}
	if b.Session == nil || b.Session.CharacterData.Name != "Nova" {
		t.Fatalf("expected snapshot in explicit bootstrap, got %+v", b.Session)
	}

	// unknown session id
	if _, err := svc.Bootstrap(context.Background(), 1, "01MISSING00000000000000000"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCharacterDeleteCascades(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptProvider{chunks: []string{"reply"}}
	svc := newTestService(t, db, prov)
	charRepo := character.NewRepo(db)
	c := seedCharacter(t, db, 1, "Nova")

	sess, err := svc.CreateSession(context.Background(), 1, c.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	chunks, results, errs := svc.SendMessageStream(context.Background(), 1, sess.ID, "hello", "", "")
	if _, _, err := collect(t, chunks, results, errs); err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := charRepo.DeleteCascade(context.Background(), c.ID); err != nil {
		t.Fatalf("delete cascade: %v", err)
	}

	var sessions, messages int64
	if err := db.Model(&Session{}).Where("character_id = ?", c.ID).Count(&sessions).Error; err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if err := db.Model(&Message{}).Where("session_id = ?", sess.ID).Count(&messages).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if sessions != 0 || messages != 0 {
		t.Fatalf("cascade incomplete: sessions=%d messages=%d", sessions, messages)
	}
}

func TestAppendUserMessage_SummaryTruncation(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(t, db, &scriptProvider{})
	c := seedCharacter(t, db, 1, "Nova")

	sess, err := svc.CreateSession(context.Background(), 1, c.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	long := strings.Repeat("x", 300)
	if _, err := svc.AppendUserMessage(context.Background(), 1, sess, long, "", ""); err != nil {
		t.Fatalf("append: %v", err)
	}

	reloaded, err := svc.GetOwnedSession(context.Background(), 1, sess.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := len([]rune(reloaded.LastMessage)); got != lastMessageMaxRunes {
		t.Fatalf("expected %d-rune summary, got %d", lastMessageMaxRunes, got)
	}
	if reloaded.MessageCount != 1 {
		t.Fatalf("expected message_count=1, got %d", reloaded.MessageCount)
	}

	if _, err := svc.AppendUserMessage(context.Background(), 1, sess, "   ", "", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestSyntheticLegacySession(t *testing.T) {
	now := time.Now()
	msgs := []LegacyMessage{
		{ID: 1, UserID: 7, Text: "old hello", CreatedAt: now.Add(-time.Hour)},
		{ID: 2, UserID: 7, Text: "old reply", Character: true, CreatedAt: now},
	}
	s := SyntheticLegacySession(7, msgs)
	if s.CharacterData.Name != "Legacy Messages" {
		t.Fatalf("unexpected synthetic name: %q", s.CharacterData.Name)
	}
	if s.MessageCount != 2 || s.LastMessage != "old reply" {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.LastMessageTime == nil || !s.LastMessageTime.Equal(now) {
		t.Fatalf("unexpected last message time: %v", s.LastMessageTime)
	}
}
