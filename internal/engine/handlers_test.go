package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/peerhelp/reputation/internal/ledger"
	"github.com/peerhelp/reputation/internal/trust"
)

var testTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testTime }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	engine *Engine
	users  *trust.InMemoryStore
	usage  *ledger.InMemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	policy := trust.DefaultPolicy()
	users := trust.NewInMemoryStore()
	users.SetClock(testClock)
	usage := ledger.NewInMemoryStore()
	usage.SetClock(testClock)
	calc := trust.NewCalculator(policy, users, usage, nil, testLogger(), nil)
	calc.SetClock(testClock)
	eng := New(policy, usage, users, calc, testLogger(), nil)
	eng.SetClock(testClock)
	return &fixture{engine: eng, users: users, usage: usage}
}

func TestMessageQuotaBreach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 50 messages fill the New quota without breaching it.
	for i := 0; i < 50; i++ {
		ev := &MessageCreated{Message: Message{From: "u1", ChatID: "c1"}}
		if err := f.engine.HandleMessageCreated(ctx, ev); err != nil {
			t.Fatalf("message %d failed: %v", i+1, err)
		}
	}
	if u := f.users.GetUser("u1"); u.LimitedAt(testTime) {
		t.Fatal("user limited at exactly the quota")
	}

	// The 51st message breaches.
	ev := &MessageCreated{Message: Message{From: "u1", ChatID: "c1"}}
	if err := f.engine.HandleMessageCreated(ctx, ev); err != nil {
		t.Fatalf("message 51 failed: %v", err)
	}

	u := f.users.GetUser("u1")
	if !u.LimitedAt(testTime) {
		t.Fatal("user not limited after quota breach")
	}
	want := testTime.Add(24 * time.Hour)
	if !u.LimitedUntil.Equal(want) {
		t.Errorf("limited until %v, want %v", u.LimitedUntil, want)
	}
}

func TestFileMessageCountsBoth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := &MessageCreated{Message: Message{From: "u1", ChatID: "c1", Type: "file"}}
	if err := f.engine.HandleMessageCreated(ctx, ev); err != nil {
		t.Fatalf("HandleMessageCreated failed: %v", err)
	}

	rec, err := f.usage.Today(ctx, "u1")
	if err != nil {
		t.Fatalf("Today failed: %v", err)
	}
	if rec.Messages != 1 || rec.Files != 1 {
		t.Errorf("got messages=%d files=%d, want 1/1", rec.Messages, rec.Files)
	}
}

func TestFileMessagesBreachFileQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// New tier allows 5 files/day; the 6th file-typed message breaches even
	// though the message quota is far from full.
	for i := 0; i < 6; i++ {
		ev := &MessageCreated{Message: Message{From: "u1", ChatID: "c1", Type: "file"}}
		if err := f.engine.HandleMessageCreated(ctx, ev); err != nil {
			t.Fatalf("file message %d failed: %v", i+1, err)
		}
	}

	if u := f.users.GetUser("u1"); !u.LimitedAt(testTime) {
		t.Error("user not limited after file quota breach")
	}
}

func TestFileUploadQuotaBreach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ev := &FileUploaded{Name: fmt.Sprintf("chatFiles/c1/u1/file%d.jpg", i)}
		if err := f.engine.HandleFileUploaded(ctx, ev); err != nil {
			t.Fatalf("upload %d failed: %v", i+1, err)
		}
	}
	if u := f.users.GetUser("u1"); u.LimitedAt(testTime) {
		t.Fatal("user limited at exactly the file quota")
	}

	ev := &FileUploaded{Name: "chatFiles/c1/u1/file6.jpg"}
	if err := f.engine.HandleFileUploaded(ctx, ev); err != nil {
		t.Fatalf("upload 6 failed: %v", err)
	}
	if u := f.users.GetUser("u1"); !u.LimitedAt(testTime) {
		t.Error("user not limited after file quota breach")
	}
}

func TestFileUploadOutsideChatLayoutIgnored(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ev := &FileUploaded{Name: "avatars/u1/photo.jpg"}
	if err := f.engine.HandleFileUploaded(ctx, ev); err != nil {
		t.Fatalf("HandleFileUploaded failed: %v", err)
	}

	rec, err := f.usage.Today(ctx, "u1")
	if err != nil {
		t.Fatalf("Today failed: %v", err)
	}
	if rec.Files != 0 {
		t.Errorf("files = %d, want 0 for non-chat path", rec.Files)
	}
}

// flagEvent simulates a client writing the flag fact and the stream
// announcing it: facts land in the store before the event arrives.
func (f *fixture) flagEvent(from, to string) *FlagCreated {
	fact := f.users.AddFlag(trust.Flag{FromUID: from, ToUID: to, Reason: "spam"})
	return &FlagCreated{
		ID:        fact.ID,
		FromUID:   from,
		ToUID:     to,
		Reason:    fact.Reason,
		CreatedAt: fact.CreatedAt,
	}
}

func TestFlagFilerQuotaBreach(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// New tier allows 3 flags/day per filer. Spread targets so the ban
	// threshold on any single target stays untouched.
	for i := 0; i < 3; i++ {
		ev := f.flagEvent("filer", fmt.Sprintf("target%d", i))
		if err := f.engine.HandleFlagCreated(ctx, ev); err != nil {
			t.Fatalf("flag %d failed: %v", i+1, err)
		}
	}
	if u := f.users.GetUser("filer"); u.FlagLimitedAt(testTime) {
		t.Fatal("filer limited at exactly the quota")
	}

	ev := f.flagEvent("filer", "target9")
	if err := f.engine.HandleFlagCreated(ctx, ev); err != nil {
		t.Fatalf("flag 4 failed: %v", err)
	}

	u := f.users.GetUser("filer")
	if !u.FlagLimitedAt(testTime) {
		t.Fatal("filer not limited after quota breach")
	}
	if u.LimitedAt(testTime) {
		t.Error("message limiter set instead of flag limiter")
	}
}

func TestAutoBanAtThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Four flags from distinct filers leave the target unbanned.
	for i := 0; i < 4; i++ {
		ev := f.flagEvent(fmt.Sprintf("filer%d", i), "victim")
		if err := f.engine.HandleFlagCreated(ctx, ev); err != nil {
			t.Fatalf("flag %d failed: %v", i+1, err)
		}
	}
	if u := f.users.GetUser("victim"); u.IsBanned {
		t.Fatal("banned before the threshold")
	}

	// The fifth flag today crosses the threshold.
	ev := f.flagEvent("filer4", "victim")
	if err := f.engine.HandleFlagCreated(ctx, ev); err != nil {
		t.Fatalf("flag 5 failed: %v", err)
	}

	u := f.users.GetUser("victim")
	if !u.IsBanned {
		t.Fatal("not banned at the threshold")
	}
	if u.BanReason != "Auto-ban: 5 flags today" {
		t.Errorf("ban reason = %q", u.BanReason)
	}
	if u.BannedAt == nil || !u.BannedAt.Equal(testTime) {
		t.Errorf("banned at = %v, want %v", u.BannedAt, testTime)
	}
	if u.FlagsAgainstToday != 5 {
		t.Errorf("flags against today = %d, want 5", u.FlagsAgainstToday)
	}
}

func TestStaleFlagsDoNotCountTowardBan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Flags from previous days never feed the daily threshold.
	for i := 0; i < 4; i++ {
		f.users.AddFlag(trust.Flag{
			FromUID:   fmt.Sprintf("old%d", i),
			ToUID:     "victim",
			CreatedAt: testTime.Add(-48 * time.Hour),
		})
	}

	ev := f.flagEvent("filer", "victim")
	if err := f.engine.HandleFlagCreated(ctx, ev); err != nil {
		t.Fatalf("HandleFlagCreated failed: %v", err)
	}

	u := f.users.GetUser("victim")
	if u.IsBanned {
		t.Error("banned on stale flags")
	}
	if u.FlagsAgainstToday != 1 {
		t.Errorf("flags against today = %d, want 1", u.FlagsAgainstToday)
	}
}

func TestRatingEventRecomputesTarget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.users.AddRating(trust.Rating{RaterUID: "r", RatedUID: "u1", Stars: 5})
	}

	ev := &RatingCreated{ID: "r3", RaterUID: "r", RatedUID: "u1", Stars: 5}
	if err := f.engine.HandleRatingCreated(ctx, ev); err != nil {
		t.Fatalf("HandleRatingCreated failed: %v", err)
	}

	u := f.users.GetUser("u1")
	if u.TrustScore != 60 || u.Badge != trust.BadgeTrusted {
		t.Errorf("got score=%d badge=%s, want 60/Trusted", u.TrustScore, u.Badge)
	}
}

func TestHandleSkipsMalformedEnvelopes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		env  Envelope
	}{
		{"unknown type", Envelope{Type: "user.deleted", Data: json.RawMessage(`{}`)}},
		{"bad payload", Envelope{Type: EventRatingCreated, Data: json.RawMessage(`{"stars":"x"}`)}},
		{"missing sender", Envelope{Type: EventMessageCreated, Data: json.RawMessage(`{"message":{"chatId":"c1"}}`)}},
		{"missing flag uids", Envelope{Type: EventFlagCreated, Data: json.RawMessage(`{"reason":"spam"}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.engine.Handle(ctx, tt.env); err != nil {
				t.Errorf("Handle returned %v, want nil (skip, not retry)", err)
			}
		})
	}
}

func TestHandleDispatches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	payload, _ := json.Marshal(MessageCreated{Message: Message{From: "u1", ChatID: "c1"}})
	env := Envelope{Type: EventMessageCreated, Data: payload}
	if err := f.engine.Handle(ctx, env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	rec, err := f.usage.Today(ctx, "u1")
	if err != nil {
		t.Fatalf("Today failed: %v", err)
	}
	if rec.Messages != 1 {
		t.Errorf("messages = %d, want 1", rec.Messages)
	}
}

func TestBanSurvivesLaterActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ev := f.flagEvent(fmt.Sprintf("filer%d", i), "victim")
		if err := f.engine.HandleFlagCreated(ctx, ev); err != nil {
			t.Fatalf("flag %d failed: %v", i+1, err)
		}
	}
	if u := f.users.GetUser("victim"); !u.IsBanned {
		t.Fatal("not banned at the threshold")
	}

	// Later positive activity recomputes the score but never lifts the ban.
	for i := 0; i < 10; i++ {
		f.users.AddRating(trust.Rating{RatedUID: "victim", Stars: 5})
	}
	ev := &RatingCreated{RatedUID: "victim", Stars: 5}
	if err := f.engine.HandleRatingCreated(ctx, ev); err != nil {
		t.Fatalf("HandleRatingCreated failed: %v", err)
	}

	u := f.users.GetUser("victim")
	if !u.IsBanned {
		t.Error("ban lifted by trust recompute")
	}
	if !strings.HasPrefix(u.BanReason, "Auto-ban:") {
		t.Errorf("ban reason = %q", u.BanReason)
	}
}
