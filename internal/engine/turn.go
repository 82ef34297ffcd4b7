package engine

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/parley-labs/parley/pkg/channel"
)

// fileSendPause is the delay after sending a file, to respect transport
// rate limits.
const fileSendPause = 460 * time.Millisecond

// ConversationID derives the opaque conversation identifier. Room and
// private conversations for the same sender never alias: the room id is
// mixed in whenever present.
func ConversationID(roomID, senderID string) string {
	input := senderID
	if roomID != "" {
		input = roomID + ":" + senderID
	}
	sum := md5.Sum([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Turn is the per-message conversation context: identity, durable state
// handles, the current lock reference, and reply behavior. Created once
// per inbound message, disposed when the turn finishes.
type Turn struct {
	ConversationID    string
	ConversationTitle string
	SenderID          string
	SenderName        string
	BotName           string
	IsAdmin           bool

	Kind    channel.Kind
	Message *channel.Message

	// Text is the working copy of the message text. The dispatcher
	// rewrites it (mention stripping, quoted-reference expansion) before
	// providers read it.
	Text string

	Session    *StateHandle
	UserConfig *StateHandle

	monitor   *Monitor
	transport channel.Transport
	hooks     *Hooks
	lock      *Lock
	debug     bool
}

// TurnParams collects everything needed to build a Turn.
type TurnParams struct {
	Message    *channel.Message
	Monitor    *Monitor
	Transport  channel.Transport
	Hooks      *Hooks
	Session    *StateHandle
	UserConfig *StateHandle
	BotName    string
	IsAdmin    bool
	Debug      bool
}

// NewTurn builds a Turn from already-loaded state. The engine's dispatcher
// is the usual caller; it loads the state handles first and runs the
// context-created hook afterwards.
func NewTurn(p TurnParams) *Turn {
	msg := p.Message
	return &Turn{
		ConversationID:    ConversationID(msg.RoomID, msg.SenderID),
		ConversationTitle: msg.RoomName,
		SenderID:          msg.SenderID,
		SenderName:        msg.SenderName,
		BotName:           p.BotName,
		IsAdmin:           p.IsAdmin,
		Kind:              msg.Kind,
		Message:           msg,
		Text:              msg.Content,
		Session:           p.Session,
		UserConfig:        p.UserConfig,
		monitor:           p.Monitor,
		transport:         p.Transport,
		hooks:             p.Hooks,
		debug:             p.Debug,
	}
}

// InRoom reports whether this turn came from a group room.
func (t *Turn) InRoom() bool { return t.Message.InRoom() }

// Reply sends text back to the conversation, addressing the sender when
// in a room. No-op once the turn's lock has been aborted.
func (t *Turn) Reply(ctx context.Context, text string) error {
	return t.send(ctx, text, false, false)
}

// ReplyPlain sends text without addressing the sender (bubble mode).
func (t *Turn) ReplyPlain(ctx context.Context, text string) error {
	return t.send(ctx, text, true, false)
}

// ReplyFinal sends text and logs the turn as answered. The flag only
// affects diagnostics.
func (t *Turn) ReplyFinal(ctx context.Context, text string) error {
	return t.send(ctx, text, false, true)
}

func (t *Turn) send(ctx context.Context, text string, bubble, final bool) error {
	// An aborted turn must stay silent; the provider call is not
	// interrupted, its eventual reply is suppressed here.
	if t.Aborted() {
		return nil
	}

	content := text
	if t.InRoom() && !bubble {
		content = fmt.Sprintf("\n\n@%s %s", t.SenderName, text)
	}

	err := t.transport.Send(ctx, channel.Response{
		RoomID:   t.Message.RoomID,
		SenderID: t.SenderID,
		Content:  content,
	})
	if err != nil {
		return fmt.Errorf("reply: %w", err)
	}

	if final && t.debug {
		slog.Info("turn answered",
			"message", t.Message.ID,
			"conversation", t.ConversationID,
			"sender", t.SenderID,
		)
	}
	return nil
}

// SendFile delivers a file to the conversation, then pauses briefly to
// respect transport rate limits. Falls back to replying with the URL if
// the transfer fails and a URL is known.
func (t *Turn) SendFile(ctx context.Context, file channel.File) error {
	if t.Aborted() {
		return nil
	}

	file.RoomID = t.Message.RoomID
	file.SenderID = t.SenderID

	if err := t.transport.SendFile(ctx, file); err != nil {
		if file.URL != "" {
			return t.Reply(ctx, file.URL)
		}
		return fmt.Errorf("send file: %w", err)
	}

	time.Sleep(fileSendPause)
	return nil
}

// CreateLock acquires (or re-references) the conversation's lock.
func (t *Turn) CreateLock() *Lock {
	t.lock = t.monitor.AcquireLock(t.ConversationID, map[string]string{
		"message":      t.Message.ID,
		"conversation": t.ConversationTitle,
		"sender":       t.SenderID,
		"senderName":   t.SenderName,
	})
	return t.lock
}

// ReleaseLock removes the conversation's lock from the registry.
func (t *Turn) ReleaseLock() {
	t.monitor.ReleaseLock(t.ConversationID)
}

// Locked reports whether a live lock exists for this conversation.
func (t *Turn) Locked() bool {
	return t.monitor.IsLocked(t.ConversationID)
}

// Lock returns the turn's lock reference, nil before CreateLock.
func (t *Turn) Lock() *Lock { return t.lock }

// Abort cancels the conversation's lock token, creating the lock first if
// this turn does not hold one yet.
func (t *Turn) Abort(reason error) {
	t.CreateLock().Abort(reason)
}

// Aborted reports whether the turn's lock token has been cancelled.
// False when no lock was ever referenced.
func (t *Turn) Aborted() bool {
	return t.lock != nil && t.lock.Aborted()
}

// Dispose finishes the turn: runs the context-destroyed hook, then writes
// session and user-config state back to the cache. Runs on every exit
// path, success or failure.
func (t *Turn) Dispose(ctx context.Context, cxl *Canceller) {
	// Teardown hooks run even when the processing pass was aborted.
	if cxl == nil || cxl.Aborted() {
		cxl = NewCanceller(ctx)
	}
	if t.hooks != nil {
		t.hooks.OnContextDestroyed.Process(cxl, t)
	}

	if err := t.Session.Restore(ctx); err != nil {
		slog.Warn("session restore failed", "conversation", t.ConversationID, "error", err)
	}
	if err := t.UserConfig.Restore(ctx); err != nil {
		slog.Warn("user config restore failed", "sender", t.SenderID, "error", err)
	}
}
