package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/parley-labs/parley/pkg/cache"
	"github.com/parley-labs/parley/pkg/channel"
	"github.com/parley-labs/parley/pkg/events"
)

// ChatModel generates a reply for a turn. Implementations send their own
// replies through the turn and persist conversation state in its session
// handle.
type ChatModel interface {
	Name() string
	HumanName() string
	InputKinds() []channel.Kind
	Call(ctx context.Context, turn *Turn) error
}

// CommandRunner executes slash commands. The line excludes the prefix.
type CommandRunner interface {
	Run(ctx context.Context, turn *Turn, line string) error
	Names() []string
}

// Notifier receives turn failures, typically to alert maintainers.
type Notifier interface {
	Notify(ctx context.Context, turn *Turn, err error)
}

// Roster exposes the registered models, for the help printer. The model
// router implements it.
type Roster interface {
	Models() []ChatModel
}

const (
	defaultCommandPrefix = "/"
	defaultSessionTTL    = 30 * 24 * time.Hour
)

// Options configures an Engine. Model and Cache are required.
type Options struct {
	Name                  string
	Maintainers           []string
	CommandPrefix         string
	DisableOutdatedFilter bool
	SessionTTL            time.Duration
	Debug                 bool
	Keywords              Keywords
	SourcePointer         string

	Cache    cache.Cache
	Model    ChatModel
	Commands CommandRunner
	Notifier Notifier
	Bus      *events.Bus

	// Plugins are registered against the hook queues by capability.
	Plugins []any
}

// Engine routes inbound messages to the chat model, mediated by the
// monitor's lock registry and the hook queues.
type Engine struct {
	opts    Options
	monitor *Monitor
	hooks   *Hooks
	bus     *events.Bus

	transport channel.Transport
	botName   string
}

// New builds an Engine and registers the plugins.
func New(opts Options) (*Engine, error) {
	if opts.Model == nil {
		return nil, fmt.Errorf("engine: model is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("engine: cache is required")
	}
	if opts.CommandPrefix == "" {
		opts.CommandPrefix = defaultCommandPrefix
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = defaultSessionTTL
	}
	opts.Keywords = opts.Keywords.withDefaults()
	if opts.Bus == nil {
		opts.Bus = events.NewBus()
	}

	e := &Engine{
		opts:    opts,
		monitor: NewMonitor(),
		hooks:   NewHooks(),
		bus:     opts.Bus,
	}

	for _, p := range opts.Plugins {
		e.hooks.RegisterPlugin("", p)
	}
	// The model itself may hook text preparation, e.g. for switching.
	e.hooks.RegisterPlugin(opts.Model.Name(), opts.Model)

	return e, nil
}

// Monitor exposes the lock registry and counters.
func (e *Engine) Monitor() *Monitor { return e.monitor }

// Hooks exposes the hook queues for late registration.
func (e *Engine) Hooks() *Hooks { return e.hooks }

// Bus exposes the event stream.
func (e *Engine) Bus() *events.Bus { return e.bus }

// SetCommands installs the command runner after construction. The
// built-in commands need the engine's monitor, so the runner cannot
// exist before the engine does.
func (e *Engine) SetCommands(c CommandRunner) { e.opts.Commands = c }

// Run starts the transport and blocks until ctx is cancelled or the
// transport fails.
func (e *Engine) Run(ctx context.Context, transport channel.Transport) error {
	e.transport = transport
	if e.opts.Notifier == nil && len(e.opts.Maintainers) > 0 {
		e.opts.Notifier = &maintainerNotifier{transport: transport, maintainers: e.opts.Maintainers}
	}

	ev := channel.Events{
		Message: func(ctx context.Context, msg *channel.Message) {
			e.HandleMessage(ctx, msg)
		},
		Login: func(botName string) {
			e.botName = botName
			e.monitor.Start()
			slog.Info("engine online", "bot", botName, "transport", transport.Name())
			e.bus.Publish(events.Event{Type: events.TypeStatus, Message: "online"})
		},
		Logout: func() {
			e.monitor.Stop()
			slog.Info("engine offline", "transport", transport.Name())
			e.bus.Publish(events.Event{Type: events.TypeStatus, Message: "offline"})
		},
	}

	if err := transport.Start(ctx, ev); err != nil {
		return fmt.Errorf("transport %s: %w", transport.Name(), err)
	}

	return transport.Stop()
}

// helpText renders the help reply: commands, keyword surfaces, and the
// model roster when the model exposes one.
func (e *Engine) helpText() string {
	var b strings.Builder
	name := e.opts.Name
	if name == "" {
		name = e.botName
	}
	fmt.Fprintf(&b, "%s\n\n", name)

	b.WriteString("Keywords:\n")
	fmt.Fprintf(&b, "  %s\n", strings.Join(e.opts.Keywords.NewConversation[:min(3, len(e.opts.Keywords.NewConversation))], " / "))
	fmt.Fprintf(&b, "  %s\n", strings.Join(e.opts.Keywords.StopConversation[:min(3, len(e.opts.Keywords.StopConversation))], " / "))
	fmt.Fprintf(&b, "  %s\n", strings.Join(e.opts.Keywords.ShowModels[:min(2, len(e.opts.Keywords.ShowModels))], " / "))

	if e.opts.Commands != nil {
		b.WriteString("\nCommands:\n")
		for _, n := range e.opts.Commands.Names() {
			fmt.Fprintf(&b, "  %s%s\n", e.opts.CommandPrefix, n)
		}
	}

	if roster, ok := e.opts.Model.(Roster); ok {
		b.WriteString("\nModels:\n")
		for _, m := range roster.Models() {
			fmt.Fprintf(&b, "  %s (%s)\n", m.HumanName(), m.Name())
		}
	}

	if len(e.opts.Maintainers) > 0 {
		fmt.Fprintf(&b, "\nMaintainers: %s\n", strings.Join(e.opts.Maintainers, ", "))
	}
	return b.String()
}
