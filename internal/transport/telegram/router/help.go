package router

import (
	"context"
	"strings"

	kit "morningbot/internal/transport"
)

func (m *CommandManager) helpCommand() Command {
	return Command{
		Name:        "help",
		Description: "list commands",
		Usage:       "/help",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, helpText(m.list()))
		},
	}
}

func helpText(cmds []Command) string {
	var b strings.Builder
	b.WriteString("🌅 Good morning bot\n")
	for _, c := range cmds {
		b.WriteString("\n")
		b.WriteString(c.Usage)
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(c.Description)
		}
		if c.AdminOnly {
			b.WriteString(" (admins)")
		}
	}
	return b.String()
}

// buildMenu converts the command table to the platform menu. Telegram
// limits menus to 100 entries and descriptions to 256 bytes.
func buildMenu(cmds []Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = c.Name
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
		if len(out) >= 100 {
			break
		}
	}
	return out
}
