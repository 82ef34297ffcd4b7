package command

import (
	"context"
	"strings"
	"testing"

	"github.com/parley-labs/parley/internal/engine"
	"github.com/parley-labs/parley/pkg/cache"
	"github.com/parley-labs/parley/pkg/channel"
)

type recordingTransport struct {
	sent []channel.Response
}

func (f *recordingTransport) Name() string { return "fake" }

func (f *recordingTransport) Start(ctx context.Context, ev channel.Events) error {
	<-ctx.Done()
	return nil
}

func (f *recordingTransport) Send(_ context.Context, resp channel.Response) error {
	f.sent = append(f.sent, resp)
	return nil
}

func (f *recordingTransport) SendFile(_ context.Context, file channel.File) error { return nil }

func (f *recordingTransport) Stop() error { return nil }

func (f *recordingTransport) lastText() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].Content
}

func commandTurn(t *testing.T, tr channel.Transport, admin bool) *engine.Turn {
	t.Helper()
	ctx := context.Background()
	c := cache.NewMemory(0)

	session, err := engine.LoadState(ctx, c, "session:test", 0)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	userConfig, err := engine.LoadState(ctx, c, "user-config:alice", 0)
	if err != nil {
		t.Fatalf("load user config: %v", err)
	}
	return engine.NewTurn(engine.TurnParams{
		Message:    &channel.Message{ID: "m1", SenderID: "alice", Individual: true, Kind: channel.KindText},
		Monitor:    engine.NewMonitor(),
		Transport:  tr,
		Hooks:      engine.NewHooks(),
		Session:    session,
		UserConfig: userConfig,
		IsAdmin:    admin,
	})
}

func TestPing(t *testing.T) {
	r := NewRunner(engine.NewMonitor())
	tr := &recordingTransport{}

	if err := r.Run(context.Background(), commandTurn(t, tr, false), "ping"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if tr.lastText() != "pong" {
		t.Fatalf("reply = %q, want pong", tr.lastText())
	}
}

func TestUnknownCommand(t *testing.T) {
	r := NewRunner(engine.NewMonitor())
	tr := &recordingTransport{}

	if err := r.Run(context.Background(), commandTurn(t, tr, false), "frobnicate"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(tr.lastText(), "Unknown command") {
		t.Fatalf("reply = %q", tr.lastText())
	}
}

func TestStatsRequiresAdmin(t *testing.T) {
	m := engine.NewMonitor()
	r := NewRunner(m)
	tr := &recordingTransport{}

	if err := r.Run(context.Background(), commandTurn(t, tr, false), "stats"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(tr.lastText(), "restricted") {
		t.Fatalf("reply = %q, want a restriction notice", tr.lastText())
	}
}

func TestStatsCounters(t *testing.T) {
	m := engine.NewMonitor()
	m.Stats.Message.Add(3)
	m.Stats.Success.Add(2)
	r := NewRunner(m)
	tr := &recordingTransport{}

	if err := r.Run(context.Background(), commandTurn(t, tr, true), "stats"); err != nil {
		t.Fatalf("run: %v", err)
	}
	reply := tr.lastText()
	if !strings.Contains(reply, "messages: 3") || !strings.Contains(reply, "success:  2") {
		t.Fatalf("stats reply = %q", reply)
	}
}

func TestHelpHidesAdminCommands(t *testing.T) {
	r := NewRunner(engine.NewMonitor())
	tr := &recordingTransport{}

	if err := r.Run(context.Background(), commandTurn(t, tr, false), "help"); err != nil {
		t.Fatalf("run: %v", err)
	}
	reply := tr.lastText()
	if !strings.Contains(reply, "/ping") {
		t.Fatalf("help must list ping: %q", reply)
	}
	if strings.Contains(reply, "/stats") {
		t.Fatalf("help must hide admin commands from non-admins: %q", reply)
	}
}

func TestRegisterCustomCommand(t *testing.T) {
	r := NewRunner(engine.NewMonitor())
	tr := &recordingTransport{}

	r.Register(Command{
		Name:        "echo",
		Description: "repeat the arguments",
		Run: func(ctx context.Context, t *engine.Turn, args []string) error {
			return t.Reply(ctx, strings.Join(args, " "))
		},
	})

	if err := r.Run(context.Background(), commandTurn(t, tr, false), "echo one two"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if tr.lastText() != "one two" {
		t.Fatalf("reply = %q, want %q", tr.lastText(), "one two")
	}

	names := r.Names()
	if names[len(names)-1] != "echo" {
		t.Fatalf("names = %v, want echo appended", names)
	}
}
