package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/parley-labs/parley/pkg/cache"
	"github.com/parley-labs/parley/pkg/channel"
)

// fakeModel records calls and can fail or abort on demand.
type fakeModel struct {
	calls        []string // prompts seen
	lockedDuring []bool
	fail         error
	abortTurn    bool
	reply        string
}

func (m *fakeModel) Name() string               { return "fake-model" }
func (m *fakeModel) HumanName() string          { return "Fake" }
func (m *fakeModel) InputKinds() []channel.Kind { return []channel.Kind{channel.KindText} }

func (m *fakeModel) Call(ctx context.Context, t *Turn) error {
	m.calls = append(m.calls, t.Text)
	m.lockedDuring = append(m.lockedDuring, t.Locked())
	if m.abortTurn {
		t.Abort(nil)
		return errors.New("aborted mid-call")
	}
	if m.fail != nil {
		return m.fail
	}
	if m.reply != "" {
		return t.ReplyFinal(ctx, m.reply)
	}
	return nil
}

type fakeCommands struct {
	lines []string
}

func (c *fakeCommands) Run(ctx context.Context, t *Turn, line string) error {
	c.lines = append(c.lines, line)
	return t.Reply(ctx, "done")
}

func (c *fakeCommands) Names() []string { return []string{"ping"} }

func testEngine(t *testing.T, model ChatModel) (*Engine, *fakeTransport) {
	t.Helper()
	if model == nil {
		model = &fakeModel{reply: "answer"}
	}
	e, err := New(Options{
		Name:  "parley",
		Cache: cache.NewMemory(0),
		Model: model,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	tr := &fakeTransport{}
	e.transport = tr
	e.botName = "parley"
	e.monitor.Start()
	return e, tr
}

func textMsg(content string) *channel.Message {
	return &channel.Message{
		Source:     "fake",
		ID:         "m1",
		SenderID:   "alice",
		SenderName: "Alice",
		Individual: true,
		Kind:       channel.KindText,
		Content:    content,
		Timestamp:  time.Now().UnixMilli(),
	}
}

func TestDispatchNormalText(t *testing.T) {
	model := &fakeModel{reply: "answer"}
	e, tr := testEngine(t, model)

	e.HandleMessage(context.Background(), textMsg("what is the weather"))

	if len(model.calls) != 1 || model.calls[0] != "what is the weather" {
		t.Fatalf("model calls = %v", model.calls)
	}
	if !model.lockedDuring[0] {
		t.Fatal("conversation must be locked while the model runs")
	}
	if e.monitor.IsLocked(ConversationID("", "alice")) {
		t.Fatal("lock must be released after the call")
	}
	if tr.lastText() != "answer" {
		t.Fatalf("reply = %q, want answer", tr.lastText())
	}
	if got := e.monitor.Stats.Success.Load(); got != 1 {
		t.Fatalf("success counter = %d, want 1", got)
	}
	if got := e.monitor.Stats.Message.Load(); got != 1 {
		t.Fatalf("message counter = %d, want 1", got)
	}
}

func TestDispatchIgnoredWhenNotRunning(t *testing.T) {
	model := &fakeModel{}
	e, tr := testEngine(t, model)
	e.monitor.Stop()

	e.HandleMessage(context.Background(), textMsg("hello"))

	if len(model.calls) != 0 || len(tr.sent) != 0 {
		t.Fatal("stopped engine must ignore messages")
	}
	if got := e.monitor.Stats.Message.Load(); got != 0 {
		t.Fatalf("message counter = %d, want 0", got)
	}
}

func TestDispatchOutdatedFiltered(t *testing.T) {
	model := &fakeModel{}
	e, tr := testEngine(t, model)

	msg := textMsg("old news")
	msg.Timestamp = e.monitor.StartupTime().UnixMilli() - 1000
	e.HandleMessage(context.Background(), msg)

	if len(model.calls) != 0 || len(tr.sent) != 0 {
		t.Fatal("backlog messages must be ignored")
	}
}

func TestDispatchOutdatedFilterDisabled(t *testing.T) {
	model := &fakeModel{reply: "answer"}
	e, _ := testEngine(t, model)
	e.opts.DisableOutdatedFilter = true

	msg := textMsg("old news")
	msg.Timestamp = e.monitor.StartupTime().UnixMilli() - 1000
	e.HandleMessage(context.Background(), msg)

	if len(model.calls) != 1 {
		t.Fatal("disabled filter must let backlog through")
	}
}

func TestDispatchSelfIgnored(t *testing.T) {
	model := &fakeModel{}
	e, tr := testEngine(t, model)

	msg := textMsg("echo")
	msg.Self = true
	e.HandleMessage(context.Background(), msg)

	if len(model.calls) != 0 || len(tr.sent) != 0 {
		t.Fatal("own messages must be ignored")
	}
}

func TestDispatchNonIndividualIgnored(t *testing.T) {
	model := &fakeModel{}
	e, tr := testEngine(t, model)

	msg := textMsg("hello")
	msg.Individual = false
	e.HandleMessage(context.Background(), msg)

	if len(model.calls) != 0 || len(tr.sent) != 0 {
		t.Fatal("service-account messages must be ignored")
	}
}

func TestDispatchRoomWithoutMentionSilent(t *testing.T) {
	model := &fakeModel{}
	e, tr := testEngine(t, model)

	msg := textMsg("just chatting")
	msg.RoomID = "room-1"
	msg.MentionsSelf = false
	e.HandleMessage(context.Background(), msg)

	if len(model.calls) != 0 || len(tr.sent) != 0 {
		t.Fatal("unaddressed room chatter must stay unanswered")
	}
}

func TestDispatchRoomMentionStripped(t *testing.T) {
	model := &fakeModel{reply: "answer"}
	e, _ := testEngine(t, model)

	msg := textMsg("@parley what time is it")
	msg.RoomID = "room-1"
	msg.MentionsSelf = true
	e.HandleMessage(context.Background(), msg)

	if len(model.calls) != 1 || model.calls[0] != "what time is it" {
		t.Fatalf("mention not stripped, model saw %v", model.calls)
	}
}

func TestDispatchEmptyTextNoLock(t *testing.T) {
	model := &fakeModel{}
	e, tr := testEngine(t, model)

	msg := textMsg("@parley")
	msg.RoomID = "room-1"
	msg.MentionsSelf = true
	e.HandleMessage(context.Background(), msg)

	if len(model.calls) != 0 {
		t.Fatal("empty prompt must not reach the model")
	}
	if len(tr.sent) != 1 {
		t.Fatalf("expected a hint reply, got %d messages", len(tr.sent))
	}
	if e.monitor.IsLocked(ConversationID("room-1", "alice")) {
		t.Fatal("empty prompt must not take the lock")
	}
	if got := e.monitor.Stats.Success.Load(); got != 0 {
		t.Fatalf("success counter = %d, want 0 for a validation reply", got)
	}
	if got := e.monitor.Stats.Skipped.Load(); got != 0 {
		t.Fatalf("skipped counter = %d, want 0", got)
	}
	if got := e.monitor.Stats.Message.Load(); got != 1 {
		t.Fatalf("message counter = %d, want 1", got)
	}
}

func TestDispatchNewConversationClearsSession(t *testing.T) {
	model := &fakeModel{}
	e, tr := testEngine(t, model)
	ctx := context.Background()

	convID := ConversationID("", "alice")
	if err := e.opts.Cache.Set(ctx, "session:"+convID, `{"parent-id":"t-1"}`, 0); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	e.HandleMessage(ctx, textMsg("新对话"))

	if len(model.calls) != 0 {
		t.Fatal("keyword must not reach the model")
	}
	if _, ok, _ := e.opts.Cache.Get(ctx, "session:"+convID); ok {
		t.Fatal("session must be cleared")
	}
	if len(tr.sent) != 1 {
		t.Fatalf("expected a confirmation reply, got %d", len(tr.sent))
	}
	if got := e.monitor.Stats.Skipped.Load(); got != 0 {
		t.Fatalf("skipped counter = %d, want 0 without an in-flight turn", got)
	}
}

func TestDispatchNewConversationAbortsInFlightLock(t *testing.T) {
	model := &fakeModel{}
	e, tr := testEngine(t, model)

	lock := e.monitor.AcquireLock(ConversationID("", "alice"), nil)
	e.HandleMessage(context.Background(), textMsg("新对话"))

	if !lock.Aborted() {
		t.Fatal("new conversation must abort the in-flight lock")
	}
	if e.monitor.IsLocked(ConversationID("", "alice")) {
		t.Fatal("lock must be released")
	}
	if !strings.Contains(tr.lastText(), "new conversation") {
		t.Fatalf("reply = %q", tr.lastText())
	}
	if got := e.monitor.Stats.Skipped.Load(); got != 1 {
		t.Fatalf("skipped counter = %d, want 1 for the aborted turn", got)
	}
}

func TestDispatchUnknownKindGetsNotice(t *testing.T) {
	model := &fakeModel{}
	e, tr := testEngine(t, model)

	msg := textMsg("")
	msg.Kind = channel.KindUnknown
	e.HandleMessage(context.Background(), msg)

	if len(model.calls) != 0 {
		t.Fatal("unknown kinds must not reach the model")
	}
	if !strings.Contains(tr.lastText(), "cannot handle") {
		t.Fatalf("reply = %q, want an unsupported notice", tr.lastText())
	}
	if got := e.monitor.Stats.Success.Load(); got != 0 {
		t.Fatalf("success counter = %d, want 0 for a kind notice", got)
	}
	if got := e.monitor.Stats.Skipped.Load(); got != 0 {
		t.Fatalf("skipped counter = %d, want 0", got)
	}
}

func TestDispatchCommandBypassesLock(t *testing.T) {
	model := &fakeModel{}
	cmds := &fakeCommands{}
	e, tr := testEngine(t, model)
	e.SetCommands(cmds)

	// Simulate an in-flight turn holding the lock.
	e.monitor.AcquireLock(ConversationID("", "alice"), nil)

	e.HandleMessage(context.Background(), textMsg("/ping now"))

	if len(cmds.lines) != 1 || cmds.lines[0] != "ping now" {
		t.Fatalf("command lines = %v", cmds.lines)
	}
	if len(model.calls) != 0 {
		t.Fatal("commands must not reach the model")
	}
	if tr.lastText() != "done" {
		t.Fatalf("command reply = %q", tr.lastText())
	}
	if got := e.monitor.Stats.Command.Load(); got != 1 {
		t.Fatalf("command counter = %d, want 1", got)
	}
}

func TestDispatchLockedConversation(t *testing.T) {
	model := &fakeModel{}
	e, tr := testEngine(t, model)

	e.monitor.AcquireLock(ConversationID("", "alice"), nil)
	e.HandleMessage(context.Background(), textMsg("another question"))

	if len(model.calls) != 0 {
		t.Fatal("locked conversation must not reach the model")
	}
	if !strings.Contains(tr.lastText(), "Still thinking") {
		t.Fatalf("expected busy reply, got %q", tr.lastText())
	}
}

func TestDispatchStopKeyword(t *testing.T) {
	model := &fakeModel{}
	e, tr := testEngine(t, model)

	lock := e.monitor.AcquireLock(ConversationID("", "alice"), nil)
	e.HandleMessage(context.Background(), textMsg("停止"))

	if !lock.Aborted() {
		t.Fatal("stop keyword must abort the in-flight lock")
	}
	if e.monitor.IsLocked(ConversationID("", "alice")) {
		t.Fatal("lock must be released after stop")
	}
	if !strings.Contains(tr.lastText(), "Stopped") {
		t.Fatalf("expected stop confirmation, got %q", tr.lastText())
	}
	if got := e.monitor.Stats.Skipped.Load(); got != 1 {
		t.Fatalf("skipped counter = %d, want 1 for the aborted turn", got)
	}
}

func TestDispatchStopWithNothingInFlight(t *testing.T) {
	model := &fakeModel{}
	e, tr := testEngine(t, model)

	e.HandleMessage(context.Background(), textMsg("stop"))

	if len(model.calls) != 0 {
		t.Fatal("keyword must not reach the model")
	}
	if !strings.Contains(tr.lastText(), "Nothing in progress") {
		t.Fatalf("reply = %q", tr.lastText())
	}
	if got := e.monitor.Stats.Skipped.Load(); got != 0 {
		t.Fatalf("skipped counter = %d, want 0 without an in-flight turn", got)
	}
}

func TestDispatchModelFailure(t *testing.T) {
	model := &fakeModel{fail: errors.New("upstream exploded")}
	e, tr := testEngine(t, model)

	e.HandleMessage(context.Background(), textMsg("hello"))

	if got := e.monitor.Stats.Failure.Load(); got != 1 {
		t.Fatalf("failure counter = %d, want 1", got)
	}
	if !strings.Contains(tr.lastText(), "Something went wrong") {
		t.Fatalf("expected generic error reply, got %q", tr.lastText())
	}
	if e.monitor.IsLocked(ConversationID("", "alice")) {
		t.Fatal("lock must be released after a failure")
	}
}

func TestDispatchAbortedTurnNoErrorReply(t *testing.T) {
	model := &fakeModel{abortTurn: true}
	e, tr := testEngine(t, model)

	e.HandleMessage(context.Background(), textMsg("hello"))

	if len(tr.sent) != 0 {
		t.Fatalf("aborted turn must not get an error reply, got %v", tr.sent)
	}
	if got := e.monitor.Stats.Failure.Load(); got != 0 {
		t.Fatalf("failure counter = %d, want 0", got)
	}
}

func TestDispatchQuotedReferenceRewritten(t *testing.T) {
	model := &fakeModel{reply: "answer"}
	e, _ := testEngine(t, model)

	text := "\"the original claim\"\n" + refMsgSep + "\nis that true?"
	e.HandleMessage(context.Background(), textMsg(text))

	if len(model.calls) != 1 {
		t.Fatalf("model calls = %d, want 1", len(model.calls))
	}
	got := model.calls[0]
	if !strings.HasPrefix(got, "is that true?") || !strings.Contains(got, "the original claim") {
		t.Fatalf("quote not folded into prompt: %q", got)
	}
	if strings.Contains(got, refMsgSep) {
		t.Fatalf("separator must not leak into the prompt: %q", got)
	}
}

func TestDispatchHelpKeyword(t *testing.T) {
	model := &fakeModel{}
	e, tr := testEngine(t, model)

	e.HandleMessage(context.Background(), textMsg("help"))

	if len(model.calls) != 0 {
		t.Fatal("help must not reach the model")
	}
	if !strings.Contains(tr.lastText(), "parley") {
		t.Fatalf("help reply = %q", tr.lastText())
	}
}

func TestDispatchPrepareHookAbort(t *testing.T) {
	model := &fakeModel{}
	e, tr := testEngine(t, model)

	e.hooks.OnPrepareTextMessage.Add("filter", func(cxl *Canceller, tn *Turn) (any, error) {
		if strings.Contains(tn.Text, "forbidden") {
			cxl.Abort(nil)
		}
		return nil, nil
	})

	e.HandleMessage(context.Background(), textMsg("forbidden topic"))

	if len(model.calls) != 0 {
		t.Fatal("aborted preparation must not reach the model")
	}
	if len(tr.sent) != 0 {
		t.Fatal("no reply expected")
	}
	if got := e.monitor.Stats.Skipped.Load(); got != 0 {
		t.Fatalf("skipped counter = %d, want 0", got)
	}
}

func TestKeywordDefaultsFillUnsetSurfacesOnly(t *testing.T) {
	e, err := New(Options{
		Name:     "parley",
		Cache:    cache.NewMemory(0),
		Model:    &fakeModel{},
		Keywords: Keywords{StopConversation: []string{"halt"}},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	kw := e.opts.Keywords
	if len(kw.StopConversation) != 1 || kw.StopConversation[0] != "halt" {
		t.Fatalf("stop surfaces = %v, want the custom one kept", kw.StopConversation)
	}
	def := DefaultKeywords()
	if len(kw.NewConversation) != len(def.NewConversation) {
		t.Fatalf("new-conversation surfaces = %v, want defaults", kw.NewConversation)
	}
	if len(kw.Help) == 0 || len(kw.SourceCode) == 0 || len(kw.ShowModels) == 0 || len(kw.SwitchModel) == 0 {
		t.Fatalf("unset surfaces must fall back to defaults: %+v", kw)
	}
}
