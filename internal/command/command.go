// Package command implements the slash-command collaborator: parsing,
// the registry, and the built-in commands.
package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/parley-labs/parley/internal/engine"
)

// Command is a single registered command. Args exclude the command name.
type Command struct {
	Name        string
	Description string
	AdminOnly   bool
	Run         func(ctx context.Context, t *engine.Turn, args []string) error
}

// Runner holds the command registry and implements the engine's command
// surface. Commands run outside the conversation lock.
type Runner struct {
	order    []string
	commands map[string]Command
}

// NewRunner builds a Runner with the built-in commands registered.
func NewRunner(monitor *engine.Monitor) *Runner {
	r := &Runner{commands: map[string]Command{}}

	r.Register(Command{
		Name:        "ping",
		Description: "check that the bot is alive",
		Run: func(ctx context.Context, t *engine.Turn, args []string) error {
			return t.Reply(ctx, "pong")
		},
	})
	r.Register(Command{
		Name:        "stats",
		Description: "show processing counters",
		AdminOnly:   true,
		Run: func(ctx context.Context, t *engine.Turn, args []string) error {
			return t.Reply(ctx, renderStats(monitor))
		},
	})
	r.Register(Command{
		Name:        "help",
		Description: "list available commands",
		Run: func(ctx context.Context, t *engine.Turn, args []string) error {
			return t.Reply(ctx, r.renderHelp(t))
		},
	})

	return r
}

// Register adds or replaces a command.
func (r *Runner) Register(c Command) {
	if _, exists := r.commands[c.Name]; !exists {
		r.order = append(r.order, c.Name)
	}
	r.commands[c.Name] = c
}

// Names returns the registered command names in registration order.
func (r *Runner) Names() []string {
	return append([]string(nil), r.order...)
}

// Run parses line and executes the named command. Unknown commands get a
// reply, not an error.
func (r *Runner) Run(ctx context.Context, t *engine.Turn, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return t.Reply(ctx, r.renderHelp(t))
	}

	c, ok := r.commands[strings.ToLower(fields[0])]
	if !ok {
		return t.Reply(ctx, fmt.Sprintf("Unknown command %q. Try /help.", fields[0]))
	}
	if c.AdminOnly && !t.IsAdmin {
		return t.Reply(ctx, fmt.Sprintf("/%s is restricted to maintainers.", c.Name))
	}

	return c.Run(ctx, t, fields[1:])
}

func (r *Runner) renderHelp(t *engine.Turn) string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range r.order {
		c := r.commands[name]
		if c.AdminOnly && !t.IsAdmin {
			continue
		}
		fmt.Fprintf(&b, "  /%s - %s\n", c.Name, c.Description)
	}
	return b.String()
}

func renderStats(m *engine.Monitor) string {
	var b strings.Builder
	b.WriteString("Counters:\n")
	fmt.Fprintf(&b, "  messages: %d\n", m.Stats.Message.Load())
	fmt.Fprintf(&b, "  success:  %d\n", m.Stats.Success.Load())
	fmt.Fprintf(&b, "  failure:  %d\n", m.Stats.Failure.Load())
	fmt.Fprintf(&b, "  skipped:  %d\n", m.Stats.Skipped.Load())
	fmt.Fprintf(&b, "  commands: %d\n", m.Stats.Command.Load())
	fmt.Fprintf(&b, "  active locks: %d\n", m.Size())
	if m.Started() {
		fmt.Fprintf(&b, "  uptime: %s\n", time.Since(m.StartupTime()).Round(time.Second))
	}
	return b.String()
}
