package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	kit "morningbot/internal/transport"
	logx "morningbot/pkg/logx"
)

// fakeBotAPI answers the handful of Bot API methods the adapter calls.
type fakeBotAPI struct {
	mu     sync.Mutex
	calls  []string
	params []map[string]any
	status string
	delay  time.Duration
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	var p map[string]any
	_ = json.NewDecoder(r.Body).Decode(&p)

	f.mu.Lock()
	f.calls = append(f.calls, method)
	f.params = append(f.params, p)
	status, delay := f.status, f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getChatMember":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"status":"` + status + `","user":{"id":42}}}`))
	case "setMyCommands":
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	case "sendPhoto":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":8,"date":0,"chat":{"id":-100,"type":"supergroup"},` +
			`"photo":[{"file_id":"p","file_unique_id":"u","width":1,"height":1}]}}`))
	case "sendSticker":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":9,"date":0,"chat":{"id":-100,"type":"supergroup"},` +
			`"sticker":{"file_id":"s","file_unique_id":"su","width":512,"height":512,"is_animated":false,"is_video":false,"type":"regular"}}}`))
	default:
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100,"type":"supergroup"}}}`))
	}
}

func newTestAdapter(t *testing.T, api *fakeBotAPI) *Adapter {
	t.Helper()
	return newTestAdapterWith(t, api, Config{})
}

func newTestAdapterWith(t *testing.T, api *fakeBotAPI, cfg Config) *Adapter {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	cfg.Token, cfg.APIURL, cfg.Offline, cfg.RatePerSec = "123:abc", srv.URL, true, 1000
	a, err := New(cfg, logx.Nop())
	require.NoError(t, err)
	return a
}

func TestSendPayloads(t *testing.T) {
	api := &fakeBotAPI{}
	a := newTestAdapter(t, api)
	ctx := context.Background()
	to := kit.ChatTarget{ChatID: -100}

	ref, err := a.SendText(ctx, to, "🌅 Good Morning!", nil)
	require.NoError(t, err)
	require.Equal(t, kit.MessageRef{ChatID: -100, MessageID: 7}, ref)

	ref, err = a.SendPhoto(ctx, to, "https://img/x.jpg", "caption")
	require.NoError(t, err)
	require.Equal(t, kit.MessageRef{ChatID: -100, MessageID: 8}, ref)
	ref, err = a.SendSticker(ctx, to, "CAAC-sticker")
	require.NoError(t, err)
	require.Equal(t, kit.MessageRef{ChatID: -100, MessageID: 9}, ref)

	require.Equal(t, []string{"sendMessage", "sendPhoto", "sendSticker"}, api.calls)
	require.Equal(t, "https://img/x.jpg", api.params[1]["photo"])
	require.Equal(t, "caption", api.params[1]["caption"])
	require.Equal(t, "CAAC-sticker", api.params[2]["sticker"])
}

func TestSendTimeoutBoundsSlowAPI(t *testing.T) {
	api := &fakeBotAPI{delay: 2 * time.Second}
	a := newTestAdapterWith(t, api, Config{PollTimeout: time.Minute, SendTimeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: -100}, "hi", nil)
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)

	_, err = a.IsAdmin(context.Background(), -100, 42)
	require.Error(t, err)

	// The poll client keeps its own, longer timeout.
	require.Equal(t, time.Minute+defaultHTTPTimeout, a.cfg.HTTPTimeout)
}

func TestIsAdmin(t *testing.T) {
	for status, want := range map[string]bool{
		"creator":       true,
		"administrator": true,
		"member":        false,
		"left":          false,
	} {
		api := &fakeBotAPI{status: status}
		a := newTestAdapter(t, api)
		got, err := a.IsAdmin(context.Background(), -100, 42)
		require.NoError(t, err)
		require.Equal(t, want, got, status)
	}
}

func TestUpdateMenuCommandsOnlyOnChange(t *testing.T) {
	api := &fakeBotAPI{}
	a := newTestAdapter(t, api)
	cmds := []kit.BotCommand{{Command: "settime", Description: "Set the daily time"}}
	require.NoError(t, a.UpdateMenuCommands(context.Background(), cmds))
	require.NoError(t, a.UpdateMenuCommands(context.Background(), cmds))
	require.Equal(t, []string{"setMyCommands"}, api.calls)
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{Token: " "}, logx.Nop())
	require.Error(t, err)
}

func TestSplitText(t *testing.T) {
	require.Equal(t, []string{"short"}, splitText("short", 10))

	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	parts := splitText(long, 8)
	require.Equal(t, []string{"aaaaaa", "bbbbbb"}, parts)

	runes := strings.Repeat("é", 25)
	for _, p := range splitText(runes, 10) {
		require.LessOrEqual(t, utf8.RuneCountInString(p), 10)
	}
}
