package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"morningbot/internal/content"
	"morningbot/internal/registry"
	logx "morningbot/pkg/logx"
)

const (
	replyStart       = "✅ Bot is active! Use /settime to get started."
	replyAdminOnly   = "❌ Only group admins can use this command."
	replyBusy        = "⏳ Busy, try again in a moment."
	replyFailed      = "❌ Could not save the setting, please try again."
	replyTimeUsage   = "Usage: /settime HH:MM (24h format)"
	replyTimeInvalid = "⚠️ Invalid format. Use HH:MM"
	replyModeUsage   = "Usage: /mode text|image|sticker|mixed"
	replySkip        = "⏭️ This group will skip the next message."
	replyStopped     = "🛑 Group unsubscribed."
)

func replyLangUsage() string {
	return "Usage: /language " + strings.Join(content.Languages, "|")
}

func (m *CommandManager) builtin() []Command {
	adminAll := m.cfg.AdminOnlyAll
	return []Command{
		{Name: "start", Description: "check that the bot is alive", Usage: "/start", Handle: m.cmdStart},
		{Name: "settime", Description: "set the daily send time", Usage: "/settime HH:MM", AdminOnly: true, Handle: m.cmdSetTime},
		{Name: "mode", Description: "choose text, image, sticker or mixed", Usage: "/mode text|image|sticker|mixed", AdminOnly: true, Handle: m.cmdMode},
		{Name: "language", Description: "set the greeting language", Usage: "/language <code>", AdminOnly: adminAll, Handle: m.cmdLanguage},
		{Name: "skip", Description: "skip the next greeting", Usage: "/skip", AdminOnly: adminAll, Handle: m.cmdSkip},
		{Name: "stop", Description: "unsubscribe this chat", Usage: "/stop", AdminOnly: adminAll, Handle: m.cmdStop},
		{Name: "status", Description: "show this chat's settings", Usage: "/status", Handle: m.cmdStatus},
	}
}

func (m *CommandManager) cmdStart(ctx context.Context, req *Request) error {
	return req.Reply(ctx, replyStart)
}

func (m *CommandManager) cmdSetTime(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, replyTimeUsage)
	}
	hhmm, err := m.reg.SetTime(ctx, req.GroupID, req.Args[0], req.Lang)
	if err != nil {
		return m.fail(ctx, req, err, replyTimeInvalid)
	}
	return req.Reply(ctx, "🕒 Time set to "+hhmm)
}

func (m *CommandManager) cmdMode(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, replyModeUsage)
	}
	mode, err := m.reg.SetMode(ctx, req.GroupID, req.Args[0])
	if err != nil {
		return m.fail(ctx, req, err, replyModeUsage)
	}
	return req.Reply(ctx, "✅ Mode set to "+string(mode))
}

func (m *CommandManager) cmdLanguage(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return req.Reply(ctx, replyLangUsage())
	}
	lang, err := m.reg.SetLanguage(ctx, req.GroupID, req.Args[0])
	if err != nil {
		return m.fail(ctx, req, err, replyLangUsage())
	}
	return req.Reply(ctx, "🌐 Language set to "+lang)
}

func (m *CommandManager) cmdSkip(ctx context.Context, req *Request) error {
	if err := m.reg.MarkSkip(ctx, req.GroupID); err != nil {
		return m.fail(ctx, req, err, "")
	}
	return req.Reply(ctx, replySkip)
}

func (m *CommandManager) cmdStop(ctx context.Context, req *Request) error {
	if _, err := m.reg.Unsubscribe(ctx, req.GroupID); err != nil {
		return m.fail(ctx, req, err, "")
	}
	return req.Reply(ctx, replyStopped)
}

func (m *CommandManager) cmdStatus(ctx context.Context, req *Request) error {
	return req.Reply(ctx, m.statusText(req.GroupID))
}

func (m *CommandManager) statusText(groupID string) string {
	g, ok := m.reg.Group(groupID)
	var b strings.Builder
	b.WriteString("📋 Status\n")
	if !ok || !g.Scheduled() {
		b.WriteString("Not scheduled. Use /settime HH:MM\n")
	} else {
		fmt.Fprintf(&b, "Time: %s\n", g.SendTime)
		if m.sch != nil {
			if next, ok := m.sch.Next(groupID); ok {
				fmt.Fprintf(&b, "Next: %s\n", next.In(m.cfg.Location).Format("Mon 2006-01-02 15:04 MST"))
			}
		}
	}
	if ok {
		fmt.Fprintf(&b, "Mode: %s\nLanguage: %s\n", g.Mode, g.Language)
		if g.SkipNext {
			b.WriteString("Next greeting will be skipped\n")
		}
	}
	if m.his != nil {
		if ev, ok := m.his.Last(groupID); ok {
			fmt.Fprintf(&b, "Last: %s", ev.Outcome)
			if ev.Kind != "" {
				fmt.Fprintf(&b, " (%s)", ev.Kind)
			}
			fmt.Fprintf(&b, " at %s", ev.At.In(m.cfg.Location).Format(time.DateTime))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// fail replies for a failed command. Validation errors get the usage hint;
// anything else is a failed write and is logged at ERROR.
func (m *CommandManager) fail(ctx context.Context, req *Request, err error, usage string) error {
	if errors.Is(err, registry.ErrValidation) && usage != "" {
		return req.Reply(ctx, usage)
	}
	req.logger(m.log).Error("command failed", logx.String("group", req.GroupID), logx.Err(err))
	if rerr := req.Reply(ctx, replyFailed); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}
