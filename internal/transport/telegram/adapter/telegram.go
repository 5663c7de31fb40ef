// Package adapter implements the transport on the Telegram Bot API using
// telebot.
package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "morningbot/internal/runtime/supervisor"
	kit "morningbot/internal/transport"
	logx "morningbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec bounds outbound API calls across all chats.
	RatePerSec int
	// HTTPTimeout bounds the long-poll request.
	HTTPTimeout time.Duration
	// SendTimeout bounds each outbound call (sends, admin checks, menu).
	SendTimeout time.Duration
	// APIURL overrides the Bot API endpoint (tests, local bot API servers).
	APIURL string
	// Offline skips the getMe handshake.
	Offline bool
}

const (
	defaultPollTimeout = 10 * time.Second
	defaultHTTPTimeout = 15 * time.Second
	defaultSendTimeout = 10 * time.Second
	defaultRatePerSec  = 25
	telegramTextLimit  = 4000
)

type Adapter struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	api     *tele.Bot // outbound calls, on a client with SendTimeout
	limiter *rate.Limiter

	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	droppedUpdates atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.HTTPTimeout <= 0 {
		// Must outlast the long poll.
		cfg.HTTPTimeout = cfg.PollTimeout + defaultHTTPTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = defaultRatePerSec
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: cfg.PollTimeout},
		Client:  &http.Client{Timeout: cfg.HTTPTimeout},
		Offline: cfg.Offline,
		OnError: func(err error, _ tele.Context) {
			log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	// telebot ignores ctx, so the outbound bound lives on the client.
	api, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: cfg.SendTimeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		cfg:     cfg,
		log:     log,
		bot:     b,
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.bot.Handle(tele.OnText, a.onText)
	return a, nil
}

// onText forwards every text message, commands included, to the current
// output channel.
func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	msg := &kit.Message{
		ID:      m.ID,
		ChatID:  m.Chat.ID,
		Text:    m.Text,
		IsGroup: m.Chat.Type == tele.ChatGroup || m.Chat.Type == tele.ChatSuperGroup,
	}
	if m.Sender != nil {
		msg.FromID = m.Sender.ID
		msg.FromUsername = m.Sender.Username
		msg.FromLanguage = m.Sender.LanguageCode
	}
	a.sendUpdate(kit.Update{Message: msg})
	return nil
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.droppedUpdates.Add(1)
	}
}

// Start begins long polling; updates go to out until Stop.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log))
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				a.reportDropped(cap(out))
				return
			case <-ticker.C:
				a.reportDropped(cap(out))
			}
		}
	})
	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	// bot.Start blocks until Stop; restart it if it returns early.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second), rtsup.WithPublishFirstError(true))
	return nil
}

func (a *Adapter) reportDropped(chanCap int) {
	if n := a.droppedUpdates.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", chanCap))
	}
}

// Stop ends polling. It never blocks longer than a short grace window.
func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && wctx.Err() != nil {
		a.log.Warn("telegram stop timed out", logx.Err(err))
	}
	return nil
}

func (a *Adapter) wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range splitText(text, telegramTextLimit) {
		if err := a.wait(ctx); err != nil {
			return first, err
		}
		msg, err := a.api.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, photoURL, caption string) (kit.MessageRef, error) {
	if err := a.wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	p := &tele.Photo{File: tele.FromURL(photoURL), Caption: caption}
	msg, err := a.api.Send(&tele.Chat{ID: to.ChatID}, p)
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) SendSticker(ctx context.Context, to kit.ChatTarget, fileID string) (kit.MessageRef, error) {
	if err := a.wait(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	s := &tele.Sticker{File: tele.File{FileID: fileID}}
	msg, err := a.api.Send(&tele.Chat{ID: to.ChatID}, s)
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

// IsAdmin reports whether userID is the creator or an administrator of
// chatID.
func (a *Adapter) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if err := a.wait(ctx); err != nil {
		return false, err
	}
	m, err := a.api.ChatMemberOf(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
	if err != nil {
		return false, err
	}
	return isAdminRole(m.Role), nil
}

func isAdminRole(r tele.MemberStatus) bool {
	return r == tele.Creator || r == tele.Administrator
}

// UpdateMenuCommands publishes the command menu. It only calls the API when
// the list changed since the last successful call.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(d))
		h.Write([]byte{0})
		out = append(out, tele.Command{Text: c.Command, Description: d})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := a.wait(ctx); err != nil {
		return err
	}
	if err := a.api.SetCommands(out); err != nil {
		return err
	}
	a.menuHash = sum
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}

// splitText splits s into chunks of at most limit runes, preferring newline
// boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, len(rs)/limit+1)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			for i := end - 1; i > start+limit/3; i-- {
				if rs[i] == '\n' {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
