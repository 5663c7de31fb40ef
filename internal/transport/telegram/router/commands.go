// Package router is the chat command front end: it turns inbound command
// messages into registry mutations and status replies.
package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"morningbot/internal/content"
	"morningbot/internal/dispatch"
	"morningbot/internal/registry"
	rtsup "morningbot/internal/runtime/supervisor"
	kit "morningbot/internal/transport"
	logx "morningbot/pkg/logx"
)

// Registry is the subset of the group registry the commands mutate.
type Registry interface {
	SetTime(ctx context.Context, groupID, raw, langHint string) (string, error)
	SetMode(ctx context.Context, groupID, raw string) (content.Mode, error)
	SetLanguage(ctx context.Context, groupID, raw string) (string, error)
	MarkSkip(ctx context.Context, groupID string) error
	Unsubscribe(ctx context.Context, groupID string) (bool, error)
	Group(groupID string) (registry.Group, bool)
}

// Schedule reports the next firing of a group.
type Schedule interface {
	Next(groupID string) (time.Time, bool)
}

// LastFiring reports the most recent firing outcome of a group.
type LastFiring interface {
	Last(groupID string) (dispatch.FiredEvent, bool)
}

type AdminChecker = kit.AdminChecker

// Messenger is what the router needs from the transport.
type Messenger interface {
	kit.Sender
	kit.AdminChecker
}

type Command struct {
	Name        string
	Description string
	Usage       string
	// AdminOnly restricts the command to chat admins in groups.
	AdminOnly bool
	Timeout   time.Duration
	Handle    HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	GroupID string
	FromID  int64
	// Lang is the sender's client language, used as a hint for new groups.
	Lang    string
	IsGroup bool
	Command string
	Args    []string
	ReqID   string

	Sender kit.Sender
	Logger logx.Logger
}

// Reply sends plain text back to the originating chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (r *Request) logger(fallback logx.Logger) logx.Logger {
	if r != nil && !r.Logger.IsZero() {
		return r.Logger
	}
	return fallback
}

type Config struct {
	// AdminOnlyAll extends the admin check to every mutating command.
	AdminOnlyAll bool
	// Workers bounds concurrent handlers; defaults to 2.
	Workers int
	// Timeout bounds each handler; defaults to 10s.
	Timeout time.Duration
	// Location renders times in /status.
	Location *time.Location
}

type Deps struct {
	Messenger Messenger
	Registry  Registry
	Schedule  Schedule
	History   LastFiring
	Logger    logx.Logger
}

type CommandManager struct {
	cfg Config
	log logx.Logger
	msg Messenger
	reg Registry
	sch Schedule
	his LastFiring

	mu       sync.RWMutex
	commands map[string]Command
	order    []string

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

const (
	defaultWorkers = 2
	defaultTimeout = 10 * time.Second
	jobQueueCap    = 256
)

func NewCommandManager(cfg Config, d Deps) *CommandManager {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		cfg:      cfg,
		log:      log,
		msg:      d.Messenger,
		reg:      d.Registry,
		sch:      d.Schedule,
		his:      d.History,
		commands: map[string]Command{},
		jobs:     make(chan func(), jobQueueCap),
	}
	m.SetCommands(m.builtin())
	return m
}

// SetCommands replaces the command table. /help is always present.
func (m *CommandManager) SetCommands(cmds []Command) {
	table := map[string]Command{}
	order := make([]string, 0, len(cmds)+1)
	for _, c := range append(cmds, m.helpCommand()) {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		if _, dup := table[name]; !dup {
			order = append(order, name)
		}
		c.Name = name
		table[name] = c
	}
	m.mu.Lock()
	m.commands = table
	m.order = order
	m.mu.Unlock()
}

func (m *CommandManager) lookup(name string) (Command, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.commands[name]
	return c, ok
}

func (m *CommandManager) list() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Command, 0, len(m.order))
	for _, n := range m.order {
		out = append(out, m.commands[n])
	}
	return out
}

// Supervisor returns the worker supervisor while the dispatch loop runs.
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// tryEnqueue is non-blocking and safe against a closed jobs channel.
func (m *CommandManager) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

// PublishMenu pushes the command list to the platform's menu, if supported.
func (m *CommandManager) PublishMenu(ctx context.Context) error {
	up, ok := m.msg.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(cctx, buildMenu(m.list()))
}

// DispatchLoop routes updates until ctx is done or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "telegram.router"))),
		rtsup.WithCancelOnError(false),
	)
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", m.cfg.Workers), logx.Int("job_queue_cap", cap(m.jobs)))

	sup.Go("telegram.menu.update", func(c context.Context) error {
		if err := m.PublishMenu(c); err != nil {
			m.log.Warn("command menu update failed", logx.Err(err))
		}
		return nil
	})

	for i := 0; i < m.cfg.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			return m.worker(c, idx)
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	defer func() {
		m.setSupervisor(sup, false)
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.setSupervisor(nil, false)
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.routeMessage(ctx, up)
		}
	}
}

func (m *CommandManager) worker(ctx context.Context, idx int) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-m.jobs:
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	req, cmd, ok := m.parse(up)
	if !ok {
		return
	}
	if !m.tryEnqueue(func() { _ = m.handler(cmd)(root, req) }) {
		_ = req.Reply(root, replyBusy)
	}
}

// parse maps a message to its command. Non-command text and unknown
// commands are ignored; groups see every message.
func (m *CommandManager) parse(up kit.Update) (*Request, Command, bool) {
	msg := up.Message
	if msg == nil {
		return nil, Command{}, false
	}
	parts := strings.Fields(msg.Text)
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return nil, Command{}, false
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	cmd, ok := m.lookup(word)
	if !ok {
		return nil, Command{}, false
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID},
		GroupID: strconv.FormatInt(msg.ChatID, 10),
		FromID:  msg.FromID,
		Lang:    msg.FromLanguage,
		IsGroup: msg.IsGroup,
		Command: cmd.Name,
		Args:    parts[1:],
		ReqID:   rid,
		Sender:  m.msg,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	return req, cmd, true
}

func (m *CommandManager) handler(cmd Command) HandlerFunc {
	h := cmd.Handle
	if cmd.AdminOnly {
		h = MWAdminOnly(m.msg)(h)
	}
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.cfg.Timeout
	}
	return Chain(h,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)
}

var ridSeq atomic.Uint64

func newReqID() string {
	n := ridSeq.Add(1)
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(n, 36)
}
