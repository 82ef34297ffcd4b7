// Package matrix implements the Matrix transport using mautrix-go.
package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/parley-labs/parley/pkg/channel"
)

// Config holds Matrix transport configuration.
type Config struct {
	Homeserver   string
	UserID       string // localpart, e.g., "parley"
	Password     string
	ServerName   string // e.g., "matrix.example.com"
	AllowedUsers []string
	DataDir      string
}

// Transport implements channel.Transport for Matrix.
type Transport struct {
	config Config
	client *mautrix.Client
	events channel.Events

	mu      sync.Mutex
	direct  map[id.RoomID]bool      // room id -> is a two-member DM
	dmRooms map[id.UserID]id.RoomID // sender -> DM room

	botName  string
	credFile string
}

// credentials holds saved Matrix login state.
type credentials struct {
	AccessToken string `json:"access_token"`
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
}

// New creates a Matrix transport.
func New(cfg Config) *Transport {
	return &Transport{
		config:   cfg,
		direct:   map[id.RoomID]bool{},
		dmRooms:  map[id.UserID]id.RoomID{},
		credFile: filepath.Join(cfg.DataDir, "matrix_credentials.json"),
	}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "matrix" }

// Start connects to Matrix and runs the sync loop until ctx is
// cancelled. Login retries with exponential backoff.
func (t *Transport) Start(ctx context.Context, events channel.Events) error {
	t.events = events

	os.MkdirAll(t.config.DataDir, 0o755)

	fullUserID := fmt.Sprintf("@%s:%s", t.config.UserID, t.config.ServerName)

	client, err := mautrix.NewClient(t.config.Homeserver, id.UserID(fullUserID), "")
	if err != nil {
		return fmt.Errorf("create matrix client: %w", err)
	}
	t.client = client

	// In-memory sync store; resyncing on restart is fine.
	client.Store = mautrix.NewMemorySyncStore()

	if err := t.login(ctx, fullUserID); err != nil {
		return err
	}

	t.botName = t.displayName(ctx)

	syncer := client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		t.onMessage(ctx, evt)
	})
	syncer.OnEventType(event.StateMember, func(ctx context.Context, evt *event.Event) {
		t.onMemberEvent(ctx, evt)
	})

	if events.Login != nil {
		events.Login(t.botName)
	}
	defer func() {
		if events.Logout != nil {
			events.Logout()
		}
	}()

	slog.Info("matrix transport ready, starting sync", "bot", t.botName)

	// Sync loop with reconnection
	for {
		err := client.SyncWithContext(ctx)
		if ctx.Err() != nil {
			return nil // graceful shutdown
		}
		if err != nil {
			slog.Warn("matrix sync error, reconnecting in 15s", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(15 * time.Second):
			}
		}
	}
}

// login tries saved credentials first, then password login with
// exponential backoff. Auth failures are permanent and abort the retry.
func (t *Transport) login(ctx context.Context, fullUserID string) error {
	if err := t.loadCredentials(); err == nil {
		slog.Info("loaded saved Matrix credentials", "user", fullUserID)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxInterval = 2 * time.Minute
	policy.MaxElapsedTime = 10 * time.Minute

	attempt := 0
	op := func() error {
		attempt++
		slog.Info("logging into Matrix",
			"user", fullUserID,
			"homeserver", t.config.Homeserver,
			"attempt", attempt,
		)

		resp, err := t.client.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: t.config.UserID,
			},
			Password:         t.config.Password,
			StoreCredentials: true,
		})
		if err != nil {
			errStr := err.Error()
			if strings.Contains(errStr, "M_FORBIDDEN") ||
				strings.Contains(errStr, "M_UNKNOWN_TOKEN") ||
				strings.Contains(errStr, "M_INVALID_PARAM") {
				return backoff.Permanent(err)
			}
			slog.Warn("matrix login failed, retrying", "error", err, "attempt", attempt)
			return err
		}

		slog.Info("logged into Matrix", "user", resp.UserID, "device", resp.DeviceID)
		t.saveCredentials(credentials{
			AccessToken: resp.AccessToken,
			UserID:      string(resp.UserID),
			DeviceID:    string(resp.DeviceID),
		})
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}
	return nil
}

// Send delivers a response, splitting long messages. An empty RoomID
// targets the sender's DM room, created on demand.
func (t *Transport) Send(ctx context.Context, resp channel.Response) error {
	const maxLen = 4000

	roomID, err := t.targetRoom(ctx, resp.RoomID, resp.SenderID)
	if err != nil {
		return err
	}

	content := resp.Content
	if len(content) <= maxLen {
		_, err := t.client.SendText(ctx, roomID, content)
		if err != nil {
			slog.Error("matrix send failed", "room", roomID, "len", len(content), "error", err)
		}
		return err
	}

	chunks := splitMessage(content, maxLen)
	for i, chunk := range chunks {
		prefix := fmt.Sprintf("[%d/%d] ", i+1, len(chunks))
		if _, err := t.client.SendText(ctx, roomID, prefix+chunk); err != nil {
			slog.Error("matrix send failed", "room", roomID, "chunk", i+1, "error", err)
			return err
		}
		if i < len(chunks)-1 {
			time.Sleep(500 * time.Millisecond)
		}
	}
	return nil
}

// SendFile uploads the payload and posts it to the room. Inline data is
// used when present, otherwise the URL is fetched first.
func (t *Transport) SendFile(ctx context.Context, file channel.File) error {
	roomID, err := t.targetRoom(ctx, file.RoomID, file.SenderID)
	if err != nil {
		return err
	}

	data := file.Data
	if len(data) == 0 {
		if file.URL == "" {
			return fmt.Errorf("send file %s: no data or URL", file.Name)
		}
		data, err = fetchURL(ctx, file.URL)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", file.URL, err)
		}
	}

	upload, err := t.client.UploadBytes(ctx, data, http.DetectContentType(data))
	if err != nil {
		return fmt.Errorf("upload %s: %w", file.Name, err)
	}

	_, err = t.client.SendMessageEvent(ctx, roomID, event.EventMessage, &event.MessageEventContent{
		MsgType: event.MsgFile,
		Body:    file.Name,
		URL:     upload.ContentURI.CUString(),
	})
	if err != nil {
		return fmt.Errorf("send file %s: %w", file.Name, err)
	}
	return nil
}

// Stop shuts the sync loop down.
func (t *Transport) Stop() error {
	if t.client != nil {
		t.client.StopSync()
	}
	return nil
}

func (t *Transport) onMessage(ctx context.Context, evt *event.Event) {
	if !t.isAllowed(evt.Sender) {
		return
	}

	msgContent := evt.Content.AsMessage()
	if msgContent == nil {
		return
	}

	direct := t.isDirectRoom(ctx, evt.RoomID)

	msg := &channel.Message{
		Source:     "matrix",
		ID:         string(evt.ID),
		SenderID:   string(evt.Sender),
		SenderName: localpart(evt.Sender),
		Self:       evt.Sender == t.client.UserID,
		Individual: isIndividual(evt.Sender),
		Kind:       kindOf(msgContent.MsgType),
		Content:    msgContent.Body,
		Timestamp:  evt.Timestamp,
	}

	if direct {
		t.mu.Lock()
		t.dmRooms[evt.Sender] = evt.RoomID
		t.mu.Unlock()
	} else {
		msg.RoomID = string(evt.RoomID)
		msg.RoomName = t.roomName(ctx, evt.RoomID)
		msg.MentionsSelf = t.mentionsSelf(msgContent)
	}

	if t.events.Message != nil {
		t.events.Message(ctx, msg)
	}
}

func (t *Transport) onMemberEvent(ctx context.Context, evt *event.Event) {
	// Only handle invites for us
	if evt.GetStateKey() != string(t.client.UserID) {
		return
	}

	memberContent := evt.Content.AsMember()
	if memberContent == nil || memberContent.Membership != event.MembershipInvite {
		return
	}

	if !t.isAllowed(evt.Sender) {
		slog.Warn("rejecting invite from unauthorized user", "sender", evt.Sender)
		return
	}

	slog.Info("accepting room invite", "room", evt.RoomID, "from", evt.Sender)
	if _, err := t.client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		slog.Error("failed to join room", "room", evt.RoomID, "error", err)
	}
	// Membership changed, re-resolve on next message.
	t.mu.Lock()
	delete(t.direct, evt.RoomID)
	t.mu.Unlock()
}

// targetRoom resolves the destination: the given room, or the sender's
// DM room, creating one when none is known.
func (t *Transport) targetRoom(ctx context.Context, roomID, senderID string) (id.RoomID, error) {
	if roomID != "" {
		return id.RoomID(roomID), nil
	}

	sender := id.UserID(senderID)
	t.mu.Lock()
	known, ok := t.dmRooms[sender]
	t.mu.Unlock()
	if ok {
		return known, nil
	}

	resp, err := t.client.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Invite:   []id.UserID{sender},
		IsDirect: true,
		Preset:   "trusted_private_chat",
	})
	if err != nil {
		return "", fmt.Errorf("create DM room for %s: %w", senderID, err)
	}

	t.mu.Lock()
	t.dmRooms[sender] = resp.RoomID
	t.direct[resp.RoomID] = true
	t.mu.Unlock()
	return resp.RoomID, nil
}

// isDirectRoom reports whether the room is a two-member DM. Results are
// cached per room.
func (t *Transport) isDirectRoom(ctx context.Context, roomID id.RoomID) bool {
	t.mu.Lock()
	direct, ok := t.direct[roomID]
	t.mu.Unlock()
	if ok {
		return direct
	}

	members, err := t.client.JoinedMembers(ctx, roomID)
	if err != nil {
		slog.Warn("joined members lookup failed", "room", roomID, "error", err)
		return false
	}
	direct = len(members.Joined) <= 2

	t.mu.Lock()
	t.direct[roomID] = direct
	t.mu.Unlock()
	return direct
}

func (t *Transport) roomName(ctx context.Context, roomID id.RoomID) string {
	var content struct {
		Name string `json:"name"`
	}
	if err := t.client.StateEvent(ctx, roomID, event.StateRoomName, "", &content); err != nil {
		return string(roomID)
	}
	if content.Name == "" {
		return string(roomID)
	}
	return content.Name
}

// mentionsSelf checks the structured mentions first, then falls back to
// a body scan for the bot's name.
func (t *Transport) mentionsSelf(msg *event.MessageEventContent) bool {
	if msg.Mentions != nil {
		for _, uid := range msg.Mentions.UserIDs {
			if uid == t.client.UserID {
				return true
			}
		}
	}
	body := strings.ToLower(msg.Body)
	return strings.Contains(body, strings.ToLower("@"+t.botName)) ||
		strings.Contains(body, strings.ToLower(t.client.UserID.String()))
}

func (t *Transport) displayName(ctx context.Context) string {
	resp, err := t.client.GetDisplayName(ctx, t.client.UserID)
	if err == nil && resp.DisplayName != "" {
		return resp.DisplayName
	}
	return localpart(t.client.UserID)
}

func (t *Transport) isAllowed(sender id.UserID) bool {
	if sender == t.client.UserID {
		return true
	}
	if len(t.config.AllowedUsers) == 0 || t.config.AllowedUsers[0] == "" {
		return true // no restriction
	}
	for _, allowed := range t.config.AllowedUsers {
		if string(sender) == allowed {
			return true
		}
	}
	return false
}

func (t *Transport) loadCredentials() error {
	data, err := os.ReadFile(t.credFile)
	if err != nil {
		return err
	}
	var creds credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return err
	}
	t.client.AccessToken = creds.AccessToken
	t.client.UserID = id.UserID(creds.UserID)
	t.client.DeviceID = id.DeviceID(creds.DeviceID)
	return nil
}

func (t *Transport) saveCredentials(creds credentials) {
	data, _ := json.MarshalIndent(creds, "", "  ")
	os.WriteFile(t.credFile, data, 0o600)
}

// kindOf maps Matrix message types onto payload kinds.
func kindOf(msgType event.MessageType) channel.Kind {
	switch msgType {
	case event.MsgText, event.MsgNotice, event.MsgEmote:
		return channel.KindText
	case event.MsgImage:
		return channel.KindImage
	case event.MsgAudio:
		return channel.KindAudio
	case event.MsgVideo:
		return channel.KindVideo
	case event.MsgFile:
		return channel.KindFile
	default:
		return channel.KindUnknown
	}
}

// isIndividual filters out appservice and bridge accounts, which by
// convention have an underscore-prefixed localpart.
func isIndividual(sender id.UserID) bool {
	return !strings.HasPrefix(localpart(sender), "_")
}

func localpart(uid id.UserID) string {
	s := string(uid)
	s = strings.TrimPrefix(s, "@")
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	return s
}

func fetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func splitMessage(s string, maxLen int) []string {
	var chunks []string
	for len(s) > maxLen {
		chunks = append(chunks, s[:maxLen])
		s = s[maxLen:]
	}
	if len(s) > 0 {
		chunks = append(chunks, s)
	}
	return chunks
}
