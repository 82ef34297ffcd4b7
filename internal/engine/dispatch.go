package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/parley-labs/parley/pkg/channel"
	"github.com/parley-labs/parley/pkg/events"
)

// refMsgSep separates a quoted message from the new text in transports
// that inline quotes into the body.
const refMsgSep = "- - - - - - - - - - - - - - -"

var errStopped = errors.New("conversation stopped")

// HandleMessage is the inbound entry point. It filters, classifies, and
// dispatches one message, keeping the counters and firing the hook
// queues. Every accepted message gets a Turn that is disposed on exit.
func (e *Engine) HandleMessage(ctx context.Context, msg *channel.Message) {
	if !e.monitor.Running() {
		slog.Debug("message ignored, engine not running", "message", msg.ID)
		return
	}
	if !e.opts.DisableOutdatedFilter && msg.Timestamp < e.monitor.StartupTime().UnixMilli() {
		slog.Debug("message ignored, predates startup", "message", msg.ID)
		return
	}
	if msg.Self {
		return
	}
	if !msg.Individual {
		slog.Debug("message ignored, non-individual sender", "message", msg.ID, "sender", msg.SenderID)
		return
	}

	cxl := NewCanceller(ctx)
	defer cxl.Abort(nil)

	e.hooks.OnMessage.Process(cxl, msg)
	if cxl.Aborted() {
		return
	}

	if msg.InRoom() {
		e.hooks.OnRoomMessage.Process(cxl, msg)
		if cxl.Aborted() {
			return
		}
		if !msg.MentionsSelf {
			// Unaddressed room chatter stays unanswered.
			return
		}
		e.hooks.OnRoomMentionSelfMessage.Process(cxl, msg)
	} else {
		e.hooks.OnIndividualMessage.Process(cxl, msg)
	}
	if cxl.Aborted() {
		return
	}

	e.monitor.Stats.Message.Add(1)
	e.bus.Publish(events.Event{
		Type:           events.TypeMessage,
		ConversationID: ConversationID(msg.RoomID, msg.SenderID),
		SenderID:       msg.SenderID,
		Message:        msg.Content,
	})

	turn, err := e.newTurn(ctx, msg)
	if err != nil {
		slog.Error("turn setup failed", "message", msg.ID, "error", err)
		e.monitor.Stats.Failure.Add(1)
		return
	}
	defer turn.Dispose(ctx, cxl)

	e.hooks.OnContextCreated.Process(cxl, turn)
	if cxl.Aborted() || turn.Aborted() {
		return
	}

	var answered bool
	switch msg.Kind {
	case channel.KindText:
		answered, err = e.processText(ctx, turn)
	case channel.KindImage, channel.KindAudio, channel.KindVideo, channel.KindFile:
		answered, err = e.processFile(ctx, turn)
	default:
		err = e.processUnknown(ctx, turn)
	}

	if err != nil {
		if turn.Aborted() {
			// A stopped conversation is not a failure and gets no
			// error reply.
			slog.Debug("turn aborted", "conversation", turn.ConversationID, "cause", turn.lock.Cause())
			return
		}
		e.monitor.Stats.Failure.Add(1)
		slog.Error("turn failed",
			"conversation", turn.ConversationID,
			"sender", turn.SenderID,
			"error", err,
		)
		e.bus.Publish(events.Event{
			Type:           events.TypeFailure,
			ConversationID: turn.ConversationID,
			SenderID:       turn.SenderID,
			Err:            err,
		})
		if e.opts.Notifier != nil {
			e.opts.Notifier.Notify(ctx, turn, err)
		}
		if rerr := turn.Reply(ctx, "Something went wrong, please try again later."); rerr != nil {
			slog.Error("error reply failed", "conversation", turn.ConversationID, "error", rerr)
		}
		return
	}

	// Only turns the model actually answered count as successes; keyword
	// surfaces, commands, and validation notices do not.
	if answered {
		e.monitor.Stats.Success.Add(1)
	}
}

// newTurn loads the durable state handles and assembles the Turn. Session
// and user config load concurrently.
func (e *Engine) newTurn(ctx context.Context, msg *channel.Message) (*Turn, error) {
	convID := ConversationID(msg.RoomID, msg.SenderID)

	var session, userConfig *StateHandle
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		session, err = LoadState(gctx, e.opts.Cache, "session:"+convID, e.opts.SessionTTL)
		return err
	})
	g.Go(func() error {
		var err error
		userConfig, err = LoadState(gctx, e.opts.Cache, "user-config:"+msg.SenderID, 0)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	return NewTurn(TurnParams{
		Message:    msg,
		Monitor:    e.monitor,
		Transport:  e.transport,
		Hooks:      e.hooks,
		Session:    session,
		UserConfig: userConfig,
		BotName:    e.botName,
		IsAdmin:    e.isMaintainer(msg.SenderID),
		Debug:      e.opts.Debug,
	}), nil
}

func (e *Engine) isMaintainer(senderID string) bool {
	for _, m := range e.opts.Maintainers {
		if m == senderID {
			return true
		}
	}
	return false
}

// processText runs the text sub-machine: mention stripping, commands,
// keyword surfaces, prepare hooks, the lock gate, and finally the model.
// The bool reports whether the model answered the turn.
func (e *Engine) processText(ctx context.Context, t *Turn) (bool, error) {
	t.Text = stripMentions(t.Text, t.BotName)

	if strings.TrimSpace(t.Text) == "" {
		return false, t.Reply(ctx, "Say something and I will answer.")
	}

	// Commands bypass the conversation lock entirely.
	if strings.HasPrefix(t.Text, e.opts.CommandPrefix) {
		e.monitor.Stats.Command.Add(1)
		line := strings.TrimPrefix(t.Text, e.opts.CommandPrefix)
		if e.opts.Commands == nil {
			return false, t.Reply(ctx, "Commands are not available.")
		}
		return false, e.opts.Commands.Run(ctx, t, line)
	}

	kw := e.opts.Keywords
	switch {
	case MatchKeyword(t.Text, kw.Help):
		return false, t.Reply(ctx, e.helpText())

	case MatchKeyword(t.Text, kw.SourceCode):
		if e.opts.SourcePointer == "" {
			return false, t.Reply(ctx, "No source pointer configured.")
		}
		return false, t.Reply(ctx, e.opts.SourcePointer)

	case MatchKeyword(t.Text, kw.StopConversation):
		if !t.Locked() {
			return false, t.Reply(ctx, "Nothing in progress to stop.")
		}
		e.skip(t, "stop")
		if err := t.Reply(ctx, "Stopped."); err != nil {
			return false, err
		}
		t.Abort(errStopped)
		return false, nil

	case MatchKeyword(t.Text, kw.NewConversation):
		if err := t.Session.Clear(ctx); err != nil {
			return false, fmt.Errorf("clear session: %w", err)
		}
		if err := t.Reply(ctx, "Started a new conversation. Earlier context is forgotten."); err != nil {
			return false, err
		}
		// An in-flight turn belongs to the old conversation now.
		if t.Locked() {
			e.skip(t, "new conversation")
			t.Abort(errStopped)
		}
		return false, nil
	}

	cxl := NewCanceller(ctx)
	defer cxl.Abort(nil)
	e.hooks.OnPrepareTextMessage.Process(cxl, t)
	if cxl.Aborted() || t.Aborted() {
		return false, nil
	}

	if t.Locked() {
		return false, t.Reply(ctx, "Still thinking about your last message, hold on.")
	}

	t.CreateLock()
	defer t.ReleaseLock()

	t.Text = rewriteQuoted(t.Text)

	if err := e.opts.Model.Call(ctx, t); err != nil {
		return false, err
	}
	return true, nil
}

// processFile handles attachment kinds. The model decides whether it can
// consume the kind; unsupported kinds surface through its fallback chain.
func (e *Engine) processFile(ctx context.Context, t *Turn) (bool, error) {
	cxl := NewCanceller(ctx)
	defer cxl.Abort(nil)
	e.hooks.OnPrepareFileMessage.Process(cxl, t)
	if cxl.Aborted() || t.Aborted() {
		return false, nil
	}

	if t.Locked() {
		return false, t.Reply(ctx, "Still thinking about your last message, hold on.")
	}

	t.CreateLock()
	defer t.ReleaseLock()

	if err := e.opts.Model.Call(ctx, t); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) processUnknown(ctx context.Context, t *Turn) error {
	slog.Debug("unsupported message kind",
		"conversation", t.ConversationID,
		"kind", t.Kind,
	)
	return t.Reply(ctx, fmt.Sprintf("Sorry, I cannot handle %s messages.", t.Kind))
}

// skip records an in-flight turn cancelled by a newer message in the
// same conversation.
func (e *Engine) skip(t *Turn, reason string) {
	e.monitor.Stats.Skipped.Add(1)
	e.bus.Publish(events.Event{
		Type:           events.TypeSkipped,
		ConversationID: t.ConversationID,
		SenderID:       t.SenderID,
		Message:        reason,
	})
}

// stripMentions removes @botName references so keyword matching and
// prompts see the bare text.
func stripMentions(text, botName string) string {
	if botName == "" {
		return strings.TrimSpace(text)
	}
	text = strings.ReplaceAll(text, "@"+botName, "")
	return strings.TrimSpace(text)
}

// rewriteQuoted folds an inlined quote into the prompt so the model sees
// the referenced message as context rather than as the question.
func rewriteQuoted(text string) string {
	idx := strings.Index(text, refMsgSep)
	if idx < 0 {
		return text
	}
	quote := strings.TrimSpace(text[:idx])
	quote = strings.Trim(quote, "\"“”「」")
	body := strings.TrimSpace(text[idx+len(refMsgSep):])
	if quote == "" || body == "" {
		return text
	}
	return fmt.Sprintf("%s\n\nRegarding this earlier message:\n%s", body, quote)
}
