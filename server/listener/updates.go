package listener

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/glowingkitty/openmates-core/server/ws"
	"github.com/glowingkitty/openmates-core/store/kv"
)

// NewChatUpdates forwards worker-published chat update events (title
// updates, metadata changes) to every device of the user. The event's
// data and versions travel verbatim; the "_event" suffix workers use
// internally is dropped from the client-facing type.
func NewChatUpdates(manager *ws.Manager) *Listener {
	return &Listener{
		Name:    "chat_updates",
		Pattern: kv.ChatUpdatesChannel("*"),
		Handle: func(_ context.Context, channel string, event *kv.Event) {
			userID := channelSuffix(channel, kv.ChatUpdatesChannel(""))
			if userID == "" || event.Type == "" {
				return
			}
			broadcast(manager, userID, strings.TrimSuffix(event.Type, "_event"), event.Payload)
		},
	}
}

// NewUserUpdates forwards arbitrary user-scoped events. The payload
// names its own client-facing frame type.
func NewUserUpdates(manager *ws.Manager) *Listener {
	return &Listener{
		Name:    "user_updates",
		Pattern: kv.UserUpdatesChannel("*"),
		Handle: func(_ context.Context, channel string, event *kv.Event) {
			userID := channelSuffix(channel, kv.UserUpdatesChannel(""))
			if userID == "" {
				return
			}
			var wrapped struct {
				EventForClient string          `json:"event_for_client"`
				Payload        json.RawMessage `json:"payload"`
			}
			if err := json.Unmarshal(event.Payload, &wrapped); err != nil || wrapped.EventForClient == "" {
				slog.Warn("malformed user update event",
					slog.String("user_id", userID), slog.Any("error", err))
				return
			}
			broadcast(manager, userID, wrapped.EventForClient, wrapped.Payload)
		},
	}
}
