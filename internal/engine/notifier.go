package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/parley-labs/parley/pkg/channel"
)

// maintainerNotifier sends turn failures to the configured maintainers as
// direct messages. Installed automatically when no custom Notifier is
// given and maintainers are configured.
type maintainerNotifier struct {
	transport   channel.Transport
	maintainers []string
}

func (n *maintainerNotifier) Notify(ctx context.Context, t *Turn, err error) {
	text := fmt.Sprintf("Turn failed\nconversation: %s\nsender: %s\nerror: %v",
		t.ConversationID, t.SenderID, err)
	for _, m := range n.maintainers {
		// Don't echo the failure back to the sender it already reached.
		if m == t.SenderID {
			continue
		}
		if serr := n.transport.Send(ctx, channel.Response{SenderID: m, Content: text}); serr != nil {
			slog.Warn("maintainer notification failed", "maintainer", m, "error", serr)
		}
	}
}
