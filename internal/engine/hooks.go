package engine

import (
	"log/slog"

	"github.com/parley-labs/parley/pkg/channel"
)

// HookFunc is a single handler in a hook queue. Returning a non-nil value
// adds it to the pass results; returning an error logs it with owner
// attribution and continues the pass.
type HookFunc[T any] func(cxl *Canceller, arg T) (any, error)

type hookItem[T any] struct {
	owner string
	fn    HookFunc[T]
}

// HookQueue is an ordered list of named handlers for one lifecycle event.
// Handlers run in registration order; a handler may abort the shared
// canceller, which skips the remaining handlers of the same pass.
type HookQueue[T any] struct {
	name  string
	items []hookItem[T]
}

// NewHookQueue creates an empty queue for the named lifecycle event.
func NewHookQueue[T any](name string) *HookQueue[T] {
	return &HookQueue[T]{name: name}
}

// Name returns the lifecycle event name.
func (q *HookQueue[T]) Name() string { return q.name }

// Add appends a handler attributed to owner.
func (q *HookQueue[T]) Add(owner string, fn HookFunc[T]) {
	q.items = append(q.items, hookItem[T]{owner: owner, fn: fn})
}

// Len returns the number of registered handlers.
func (q *HookQueue[T]) Len() int { return len(q.items) }

// Process runs the handlers in order against arg. The canceller is checked
// before each handler; once aborted the rest of the pass is skipped.
// Handler errors are logged and swallowed. Results collected before an
// abort are still returned.
func (q *HookQueue[T]) Process(cxl *Canceller, arg T) []any {
	var results []any

	for _, item := range q.items {
		if cxl.Aborted() {
			break
		}

		res, err := item.fn(cxl, arg)
		if err != nil {
			slog.Error("hook handler failed",
				"hook", q.name,
				"owner", item.owner,
				"error", err,
			)
			continue
		}
		if res != nil {
			results = append(results, res)
		}
	}

	return results
}

// Hooks is the full set of lifecycle hook queues. This is the engine's
// only extension point for cross-cutting behavior.
type Hooks struct {
	OnMessage                *HookQueue[*channel.Message]
	OnRoomMessage            *HookQueue[*channel.Message]
	OnRoomMentionSelfMessage *HookQueue[*channel.Message]
	OnIndividualMessage      *HookQueue[*channel.Message]

	OnContextCreated   *HookQueue[*Turn]
	OnContextDestroyed *HookQueue[*Turn]

	OnPrepareTextMessage *HookQueue[*Turn]
	OnPrepareFileMessage *HookQueue[*Turn]
}

// NewHooks creates the empty hook set.
func NewHooks() *Hooks {
	return &Hooks{
		OnMessage:                NewHookQueue[*channel.Message]("onMessage"),
		OnRoomMessage:            NewHookQueue[*channel.Message]("onRoomMessage"),
		OnRoomMentionSelfMessage: NewHookQueue[*channel.Message]("onRoomMentionSelfMessage"),
		OnIndividualMessage:      NewHookQueue[*channel.Message]("onIndividualMessage"),
		OnContextCreated:         NewHookQueue[*Turn]("onContextCreated"),
		OnContextDestroyed:       NewHookQueue[*Turn]("onContextDestroyed"),
		OnPrepareTextMessage:     NewHookQueue[*Turn]("onPrepareTextMessage"),
		OnPrepareFileMessage:     NewHookQueue[*Turn]("onPrepareFileMessage"),
	}
}

// Capability interfaces for hook auto-registration. A collaborator
// implements the interfaces for the hooks it wants; RegisterPlugin wires
// only what is actually implemented.

type MessageHook interface {
	OnMessage(cxl *Canceller, msg *channel.Message) (any, error)
}

type RoomMessageHook interface {
	OnRoomMessage(cxl *Canceller, msg *channel.Message) (any, error)
}

type RoomMentionSelfHook interface {
	OnRoomMentionSelfMessage(cxl *Canceller, msg *channel.Message) (any, error)
}

type IndividualMessageHook interface {
	OnIndividualMessage(cxl *Canceller, msg *channel.Message) (any, error)
}

type ContextCreatedHook interface {
	OnContextCreated(cxl *Canceller, turn *Turn) (any, error)
}

type ContextDestroyedHook interface {
	OnContextDestroyed(cxl *Canceller, turn *Turn) (any, error)
}

type TextPrepareHook interface {
	OnPrepareTextMessage(cxl *Canceller, turn *Turn) (any, error)
}

type FilePrepareHook interface {
	OnPrepareFileMessage(cxl *Canceller, turn *Turn) (any, error)
}

// named lets plugins override the owner attribution used in logs.
type named interface {
	Name() string
}

// RegisterPlugin inspects plugin for hook capabilities and registers each
// implemented hook into the matching queue under the given owner name.
// Plugins exposing Name() use it as the owner instead.
func (h *Hooks) RegisterPlugin(owner string, plugin any) {
	if n, ok := plugin.(named); ok && n.Name() != "" {
		owner = n.Name()
	}

	if p, ok := plugin.(MessageHook); ok {
		h.OnMessage.Add(owner, p.OnMessage)
	}
	if p, ok := plugin.(RoomMessageHook); ok {
		h.OnRoomMessage.Add(owner, p.OnRoomMessage)
	}
	if p, ok := plugin.(RoomMentionSelfHook); ok {
		h.OnRoomMentionSelfMessage.Add(owner, p.OnRoomMentionSelfMessage)
	}
	if p, ok := plugin.(IndividualMessageHook); ok {
		h.OnIndividualMessage.Add(owner, p.OnIndividualMessage)
	}
	if p, ok := plugin.(ContextCreatedHook); ok {
		h.OnContextCreated.Add(owner, p.OnContextCreated)
	}
	if p, ok := plugin.(ContextDestroyedHook); ok {
		h.OnContextDestroyed.Add(owner, p.OnContextDestroyed)
	}
	if p, ok := plugin.(TextPrepareHook); ok {
		h.OnPrepareTextMessage.Add(owner, p.OnPrepareTextMessage)
	}
	if p, ok := plugin.(FilePrepareHook); ok {
		h.OnPrepareFileMessage.Add(owner, p.OnPrepareFileMessage)
	}
}
