package listener

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/glowingkitty/openmates-core/server/ws"
	"github.com/glowingkitty/openmates-core/store/kv"
)

// NewPersisted rebroadcasts worker-persisted AI messages to every
// device as chat_message_added. The nested message text gets the same
// error-sentinel rewrite as the streaming path, so a failed generation
// never leaks raw error text through the persistence side either.
func NewPersisted(manager *ws.Manager) *Listener {
	return &Listener{
		Name:    "persisted",
		Pattern: kv.MessagePersistedChannel("*"),
		Handle: func(_ context.Context, channel string, event *kv.Event) {
			userID := channelSuffix(channel, kv.MessagePersistedChannel(""))
			if userID == "" {
				return
			}

			var payload map[string]json.RawMessage
			if err := json.Unmarshal(event.Payload, &payload); err != nil {
				slog.Warn("malformed persisted message event",
					slog.String("user_id", userID), slog.Any("error", err))
				return
			}
			if raw, ok := payload["message"]; ok {
				payload["message"] = rewriteMessageContent(raw)
			}
			broadcast(manager, userID, ws.TypeChatMessageAdded, payload)
		},
	}
}

// rewriteMessageContent applies the error-sentinel rewrite to a nested
// message object's content field, leaving everything else untouched.
func rewriteMessageContent(raw json.RawMessage) json.RawMessage {
	var message map[string]any
	if err := json.Unmarshal(raw, &message); err != nil {
		return raw
	}
	content, ok := message["content"].(string)
	if !ok {
		return raw
	}
	rewritten := rewriteErrorSentinel(content)
	if rewritten == content {
		return raw
	}
	message["content"] = rewritten
	out, err := json.Marshal(message)
	if err != nil {
		return raw
	}
	return out
}
