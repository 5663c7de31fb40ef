package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"morningbot/internal/dispatch"
	"morningbot/internal/registry"
	"morningbot/internal/storage"
	kit "morningbot/internal/transport"
	logx "morningbot/pkg/logx"
)

type fakeMessenger struct {
	mu      sync.Mutex
	texts   []string
	admins  map[int64]bool
	lookErr error
	menu    []kit.BotCommand
}

func (f *fakeMessenger) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeMessenger) SendPhoto(context.Context, kit.ChatTarget, string, string) (kit.MessageRef, error) {
	return kit.MessageRef{}, errors.New("unexpected photo")
}

func (f *fakeMessenger) SendSticker(context.Context, kit.ChatTarget, string) (kit.MessageRef, error) {
	return kit.MessageRef{}, errors.New("unexpected sticker")
}

func (f *fakeMessenger) IsAdmin(_ context.Context, _ int64, userID int64) (bool, error) {
	if f.lookErr != nil {
		return false, f.lookErr
	}
	return f.admins[userID], nil
}

func (f *fakeMessenger) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeMessenger) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

type fakeSchedule struct {
	mu      sync.Mutex
	entries map[string]string
}

func (f *fakeSchedule) Schedule(id, hhmm string) error {
	f.mu.Lock()
	f.entries[id] = hhmm
	f.mu.Unlock()
	return nil
}

func (f *fakeSchedule) Unschedule(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.entries[id]
	delete(f.entries, id)
	return ok
}

func (f *fakeSchedule) Next(id string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[id]; !ok {
		return time.Time{}, false
	}
	return time.Date(2024, 5, 15, 7, 30, 0, 0, time.UTC), true
}

type fixture struct {
	m     *CommandManager
	msg   *fakeMessenger
	reg   *registry.Registry
	store *storage.Memory
	sched *fakeSchedule
	hist  *dispatch.History
}

const (
	groupChat = int64(-100123)
	adminID   = int64(1)
	memberID  = int64(2)
)

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	st := storage.NewMemory()
	sched := &fakeSchedule{entries: map[string]string{}}
	reg, err := registry.Load(context.Background(), st, sched, logx.Nop())
	require.NoError(t, err)
	msg := &fakeMessenger{admins: map[int64]bool{adminID: true}}
	hist := dispatch.NewHistory(16)
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	m := NewCommandManager(cfg, Deps{Messenger: msg, Registry: reg, Schedule: sched, History: hist, Logger: logx.Nop()})
	return &fixture{m: m, msg: msg, reg: reg, store: st, sched: sched, hist: hist}
}

// run routes one message synchronously.
func (f *fixture) run(t *testing.T, from int64, text string) string {
	t.Helper()
	req, cmd, ok := f.m.parse(kit.Update{Message: &kit.Message{ChatID: groupChat, FromID: from, FromLanguage: "hi-IN", Text: text, IsGroup: true}})
	require.True(t, ok, "not routed: %q", text)
	_ = f.m.handler(cmd)(context.Background(), req)
	return f.msg.last()
}

func TestStart(t *testing.T) {
	f := newFixture(t, Config{})
	require.Equal(t, replyStart, f.run(t, memberID, "/start"))
}

func TestSetTimeRequiresAdmin(t *testing.T) {
	f := newFixture(t, Config{})
	require.Equal(t, replyAdminOnly, f.run(t, memberID, "/settime 07:30"))
	_, ok := f.reg.Group("-100123")
	require.False(t, ok)

	f.msg.lookErr = errors.New("chat not found")
	require.Equal(t, replyAdminOnly, f.run(t, adminID, "/settime 07:30"))
}

func TestSetTime(t *testing.T) {
	f := newFixture(t, Config{})
	require.Equal(t, "🕒 Time set to 07:05", f.run(t, adminID, "/settime 7:05"))
	require.Equal(t, "07:05", f.sched.entries["-100123"])

	g, ok := f.reg.Group("-100123")
	require.True(t, ok)
	require.Equal(t, "hi", g.Language)

	require.Equal(t, replyTimeInvalid, f.run(t, adminID, "/settime 25:00"))
	require.Equal(t, replyTimeUsage, f.run(t, adminID, "/settime"))
	require.Equal(t, "07:05", f.sched.entries["-100123"])
}

func TestBotSuffixIsStripped(t *testing.T) {
	f := newFixture(t, Config{})
	require.Equal(t, "🕒 Time set to 08:00", f.run(t, adminID, "/settime@MorningBot 08:00"))
}

func TestMode(t *testing.T) {
	f := newFixture(t, Config{})
	require.Equal(t, "✅ Mode set to sticker", f.run(t, adminID, "/mode STICKER"))
	require.Equal(t, replyModeUsage, f.run(t, adminID, "/mode banana"))
	g, _ := f.reg.Group("-100123")
	require.Equal(t, "sticker", string(g.Mode))
}

func TestLanguageSkipStopOpenToMembers(t *testing.T) {
	f := newFixture(t, Config{})
	require.Equal(t, "🌐 Language set to fr", f.run(t, memberID, "/language fr"))
	require.Equal(t, replyLangUsage(), f.run(t, memberID, "/language xx"))
	require.Equal(t, replySkip, f.run(t, memberID, "/skip"))
	require.Equal(t, replySkip, f.run(t, memberID, "/skip"))
	require.Equal(t, replyStopped, f.run(t, memberID, "/stop"))
	require.Equal(t, replyStopped, f.run(t, memberID, "/stop"))
}

func TestAdminOnlyAll(t *testing.T) {
	f := newFixture(t, Config{AdminOnlyAll: true})
	require.Equal(t, replyAdminOnly, f.run(t, memberID, "/skip"))
	require.Equal(t, replyAdminOnly, f.run(t, memberID, "/language de"))
	require.Equal(t, replySkip, f.run(t, adminID, "/skip"))
}

func TestStoreFailureReplies(t *testing.T) {
	f := newFixture(t, Config{})
	f.store.SetFailSave(errors.New("disk full"))
	require.Equal(t, replyFailed, f.run(t, adminID, "/settime 07:30"))
	require.Empty(t, f.sched.entries)
	require.Equal(t, replyFailed, f.run(t, memberID, "/skip"))
}

func TestStatus(t *testing.T) {
	f := newFixture(t, Config{})
	require.Contains(t, f.run(t, memberID, "/status"), "Not scheduled")

	f.run(t, adminID, "/settime 07:30")
	f.run(t, memberID, "/skip")
	f.hist.Record(dispatch.FiredEvent{GroupID: "-100123", Outcome: string(dispatch.OutcomeSent), Kind: "text", At: time.Date(2024, 5, 14, 7, 30, 0, 0, time.UTC)})

	out := f.run(t, memberID, "/status")
	require.Contains(t, out, "Time: 07:30")
	require.Contains(t, out, "Next: Wed 2024-05-15 07:30 UTC")
	require.Contains(t, out, "Mode: mixed")
	require.Contains(t, out, "Language: hi")
	require.Contains(t, out, "skipped")
	require.Contains(t, out, "Last: sent (text) at 2024-05-14 07:30:00")
}

func TestUnknownAndPlainTextIgnored(t *testing.T) {
	f := newFixture(t, Config{})
	for _, text := range []string{"good morning", "/unknown", "", "   "} {
		_, _, ok := f.m.parse(kit.Update{Message: &kit.Message{ChatID: groupChat, Text: text}})
		require.False(t, ok, text)
	}
}

func TestHelpListsCommands(t *testing.T) {
	f := newFixture(t, Config{})
	out := f.run(t, memberID, "/help")
	for _, c := range []string{"/start", "/settime HH:MM", "/mode", "/language", "/skip", "/stop", "/status", "/help"} {
		require.Contains(t, out, c)
	}
}

func TestDispatchLoop(t *testing.T) {
	f := newFixture(t, Config{Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 4)
	done := make(chan error, 1)
	go func() { done <- f.m.DispatchLoop(ctx, updates) }()

	updates <- kit.Update{Message: &kit.Message{ChatID: groupChat, FromID: adminID, Text: "/settime 06:45", IsGroup: true}}
	require.Eventually(t, func() bool { return f.msg.last() == "🕒 Time set to 06:45" }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		f.msg.mu.Lock()
		defer f.msg.mu.Unlock()
		return len(f.msg.menu) == 8
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch loop did not stop")
	}
}
