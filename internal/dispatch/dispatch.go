// Package dispatch runs one firing for a group: consult the skip mark, then
// the group's subscription, then the festival calendar, then the weekend
// rule, then the group's mode, and send at most one payload.
//
// Every outcome is returned as a Result and published on the event bus.
// Send and content failures are logged here once and never propagate.
package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"morningbot/internal/content"
	"morningbot/internal/eventbus"
	"morningbot/internal/registry"
	"morningbot/internal/transport"
	logx "morningbot/pkg/logx"
)

type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Reason names the rule that decided the payload.
type Reason string

const (
	ReasonSkip         Reason = "skip"
	ReasonUnsubscribed Reason = "unsubscribed"
	ReasonFestival     Reason = "festival"
	ReasonWeekend      Reason = "weekend"
	ReasonMode         Reason = "mode"
)

// Registry is the per-group state a firing reads.
type Registry interface {
	ConsumeSkip(ctx context.Context, groupID string) (bool, error)
	Festival(day time.Time) (string, bool)
	Group(groupID string) (registry.Group, bool)
}

type Resolver interface {
	Resolve(ctx context.Context, mode content.Mode, lang string, today time.Time) (content.Payload, error)
}

// Observer receives one call per firing. Metrics implement it.
type Observer interface {
	Fired(outcome, kind string)
}

type Result struct {
	ID       string
	GroupID  string
	Outcome  Outcome
	Reason   Reason
	Mode     content.Mode
	Kind     content.Kind
	Fallback bool
	Err      error
	At       time.Time
}

// FiredEvent is the bus form of a Result.
type FiredEvent struct {
	ID       string    `json:"id"`
	GroupID  string    `json:"group_id"`
	Outcome  string    `json:"outcome"`
	Reason   string    `json:"reason"`
	Kind     string    `json:"kind,omitempty"`
	Fallback bool      `json:"fallback,omitempty"`
	Err      string    `json:"err,omitempty"`
	At       time.Time `json:"at"`
}

func (r Result) Event() FiredEvent {
	ev := FiredEvent{
		ID:       r.ID,
		GroupID:  r.GroupID,
		Outcome:  string(r.Outcome),
		Reason:   string(r.Reason),
		Kind:     string(r.Kind),
		Fallback: r.Fallback,
		At:       r.At,
	}
	if r.Err != nil {
		ev.Err = r.Err.Error()
	}
	return ev
}

type Deps struct {
	Registry Registry
	Resolver Resolver
	Sender   transport.Sender
	// Now returns the current time in the scheduling zone.
	Now      func() time.Time
	Logger   logx.Logger
	Bus      eventbus.Bus
	Observer Observer
}

type Dispatcher struct {
	d   Deps
	log logx.Logger
}

func New(d Deps) *Dispatcher {
	if d.Now == nil {
		d.Now = time.Now
	}
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{d: d, log: log}
}

// IsWeekend reports Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// EffectiveMode applies the weekend rule: text, image and mixed become
// sticker on Saturday and Sunday. The stored mode is not changed.
func EffectiveMode(m content.Mode, today time.Time) (content.Mode, bool) {
	if m != content.ModeSticker && IsWeekend(today) {
		return content.ModeSticker, true
	}
	return m, false
}

// Fire runs one firing for groupID.
func (d *Dispatcher) Fire(ctx context.Context, groupID string) Result {
	today := d.d.Now()
	res := Result{ID: newFiringID(), GroupID: groupID, At: today}
	log := d.log.With(logx.String("group", groupID), logx.String("firing", res.ID))

	d.decide(ctx, log, today, &res)

	d.finish(log, res)
	return res
}

func (d *Dispatcher) decide(ctx context.Context, log logx.Logger, today time.Time, res *Result) {
	skip, err := d.d.Registry.ConsumeSkip(ctx, res.GroupID)
	if err != nil {
		log.Error("skip mark cleared in memory but not persisted", logx.Err(err))
	}
	if skip {
		res.Outcome, res.Reason = OutcomeSkipped, ReasonSkip
		return
	}

	// A firing queued before /stop, or one for a chat that never set a
	// time, sends nothing.
	g, ok := d.d.Registry.Group(res.GroupID)
	if !ok || !g.Scheduled() {
		res.Outcome, res.Reason = OutcomeSkipped, ReasonUnsubscribed
		return
	}

	if msg, ok := d.d.Registry.Festival(today); ok {
		res.Reason = ReasonFestival
		d.send(ctx, res, content.Payload{Kind: content.KindText, Text: msg, Source: "festival"})
		return
	}

	mode, weekend := EffectiveMode(g.Mode, today)
	res.Mode, res.Reason = mode, ReasonMode
	if weekend {
		res.Reason = ReasonWeekend
	}

	p, err := d.d.Resolver.Resolve(ctx, mode, g.Language, today)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("resolve %s: %w", mode, err)
		return
	}
	d.send(ctx, res, p)
}

func (d *Dispatcher) send(ctx context.Context, res *Result, p content.Payload) {
	res.Kind, res.Fallback = p.Kind, p.Fallback

	chatID, err := strconv.ParseInt(res.GroupID, 10, 64)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = &SendError{Kind: p.Kind, GroupID: res.GroupID, Err: fmt.Errorf("invalid chat id: %w", err)}
		return
	}
	to := transport.ChatTarget{ChatID: chatID}

	if err := d.deliver(ctx, to, p); err != nil {
		res.Outcome = OutcomeFailed
		res.Err = &SendError{Kind: p.Kind, GroupID: res.GroupID, Err: err}
		return
	}
	res.Outcome = OutcomeSent
}

// deliver sends p, turning a panicking sender into an error so the firing
// is still reported.
func (d *Dispatcher) deliver(ctx context.Context, to transport.ChatTarget, p content.Payload) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in sender: %v", r)
		}
	}()
	switch p.Kind {
	case content.KindText:
		_, err = d.d.Sender.SendText(ctx, to, p.Text, nil)
	case content.KindPhoto:
		_, err = d.d.Sender.SendPhoto(ctx, to, p.ImageURL, p.Caption)
	case content.KindSticker:
		_, err = d.d.Sender.SendSticker(ctx, to, p.StickerID)
	default:
		err = fmt.Errorf("unknown payload kind %q", p.Kind)
	}
	return err
}

func (d *Dispatcher) finish(log logx.Logger, res Result) {
	fields := []logx.Field{
		logx.String("outcome", string(res.Outcome)),
		logx.String("reason", string(res.Reason)),
	}
	if res.Kind != "" {
		fields = append(fields, logx.String("kind", string(res.Kind)), logx.Bool("fallback", res.Fallback))
	}
	switch res.Outcome {
	case OutcomeFailed:
		log.Warn("firing failed", append(fields, logx.Err(res.Err))...)
	default:
		log.Info("firing done", fields...)
	}

	if d.d.Observer != nil {
		d.d.Observer.Fired(string(res.Outcome), string(res.Kind))
	}
	if d.d.Bus != nil {
		d.d.Bus.Publish(eventbus.Event{Type: eventbus.TypeFired, Time: res.At, Data: res.Event()})
	}
}

func newFiringID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
