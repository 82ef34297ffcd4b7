// Package channel defines the boundary between Parley's turn engine and
// the message transports it sits behind. Matrix is the only transport
// today; the types here are what a second one would implement.
package channel

import "context"

// Kind classifies an inbound message payload.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindImage
	KindAudio
	KindVideo
	KindFile
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindImage:
		return "image"
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Message represents an inbound event from a transport.
type Message struct {
	// Source identifies the transport (e.g., "matrix").
	Source string

	// ID is the transport-specific message identifier.
	ID string

	// SenderID and SenderName identify the author.
	SenderID   string
	SenderName string

	// RoomID/RoomName are set when the message arrived in a group room.
	// Both empty means a direct (one-to-one) conversation.
	RoomID   string
	RoomName string

	// Self is true when the message was authored by the bot itself.
	Self bool

	// Individual is true when the sender is a real individual account,
	// false for system/service accounts.
	Individual bool

	// MentionsSelf is true when a room message mentions the bot.
	// Meaningless outside rooms.
	MentionsSelf bool

	// Kind tags the payload type.
	Kind Kind

	// Content is the message text (empty for non-text kinds).
	Content string

	// Timestamp is the message timestamp in milliseconds.
	Timestamp int64
}

// InRoom reports whether the message arrived in a group room.
func (m *Message) InRoom() bool { return m.RoomID != "" }

// Response represents an outgoing message.
type Response struct {
	// RoomID is the target room; empty means reply directly to SenderID.
	RoomID string

	// SenderID is the direct-message target when RoomID is empty.
	SenderID string

	// Content is the text to send.
	Content string
}

// File is an outgoing file payload.
type File struct {
	Name string

	// URL to fetch the file from, or inline Data. One of the two is set.
	URL  string
	Data []byte

	RoomID   string
	SenderID string
}

// Handler is called for every inbound message. Failures are handled by
// the engine, including user-facing error replies.
type Handler func(ctx context.Context, msg *Message)

// Events carries the engine callbacks a transport drives.
type Events struct {
	// Message is called for each inbound message.
	Message Handler

	// Login is called when the transport authenticates; botName is the
	// bot's display name on that transport.
	Login func(botName string)

	// Logout is called when the transport loses its session.
	Logout func()
}

// Transport is a message source/sink the engine can be attached to.
type Transport interface {
	// Name returns the transport identifier (e.g., "matrix").
	Name() string

	// Start begins listening. Blocks until ctx is cancelled.
	Start(ctx context.Context, events Events) error

	// Send delivers a response.
	Send(ctx context.Context, resp Response) error

	// SendFile delivers a file payload.
	SendFile(ctx context.Context, file File) error

	// Stop gracefully shuts the transport down.
	Stop() error
}
