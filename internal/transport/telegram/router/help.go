package router

import (
	"fmt"
	"sort"
	"strings"

	"pland/internal/transport"
)

func (r *Router) helpText(args []string) string {
	r.mu.RLock()
	cmds := append([]Command(nil), r.ordered...)
	byName := r.cmds
	r.mu.RUnlock()

	if len(args) > 0 {
		c, ok := byName[sanitizeCommand(strings.TrimPrefix(args[0], "/"))]
		if !ok {
			return "Unknown command. Try /help"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "/%s: %s", c.Name, c.Description)
		if c.Usage != "" {
			fmt.Fprintf(&b, "\nUsage: %s", c.Usage)
		}
		if len(c.Aliases) > 0 {
			fmt.Fprintf(&b, "\nAliases: /%s", strings.Join(c.Aliases, ", /"))
		}
		return b.String()
	}

	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	var b strings.Builder
	b.WriteString("📚 Commands (/help <command> for details):\n")
	for _, c := range cmds {
		fmt.Fprintf(&b, "\n/%s - %s", c.Name, c.Description)
	}
	return b.String()
}

// sanitizeCommand maps a name onto Telegram's [a-z0-9_]{1,32} command alphabet.
func sanitizeCommand(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || r == ' ':
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

func buildMenu(cmds []Command) []transport.BotCommand {
	out := make([]transport.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = c.Name
		}
		if len(desc) > 256 {
			desc = desc[:256]
		}
		out = append(out, transport.BotCommand{Command: c.Name, Description: desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	if len(out) > 100 {
		out = out[:100]
	}
	return out
}
