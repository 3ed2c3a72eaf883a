package listener

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/glowingkitty/openmates-core/server/dispatch"
	"github.com/glowingkitty/openmates-core/server/ws"
	"github.com/glowingkitty/openmates-core/store/kv"
)

// NewCacheEvents forwards cache-priming progress and permission
// requests from the user's cache-events channel to their devices.
// Priming events go to every device; a permission request goes to one
// device only, preferably the one viewing the chat.
func NewCacheEvents(manager *ws.Manager) *Listener {
	return &Listener{
		Name:    "cache_events",
		Pattern: kv.UserCacheEventsChannel("*"),
		Handle: func(_ context.Context, channel string, event *kv.Event) {
			userID := channelSuffix(channel, kv.UserCacheEventsChannel(""))
			if userID == "" {
				return
			}

			if event.Type == dispatch.EventPermissionRequest {
				sendPermissionRequest(manager, userID, event)
				return
			}
			broadcast(manager, userID, event.Type, event.Payload)
		},
	}
}

func sendPermissionRequest(manager *ws.Manager, userID string, event *kv.Event) {
	var req struct {
		ChatID string `json:"chat_id"`
	}
	if err := json.Unmarshal(event.Payload, &req); err != nil || req.ChatID == "" {
		slog.Warn("malformed permission request event",
			slog.String("user_id", userID), slog.Any("error", err))
		return
	}

	devices := manager.DevicesViewingChat(userID, req.ChatID)
	if len(devices) == 0 {
		// Nobody is viewing the chat; fall back to any live device so
		// the request is not silently lost.
		devices = manager.DevicesForUser(userID)
	}
	if len(devices) == 0 {
		slog.Info("no device online for permission request",
			slog.String("user_id", userID),
			slog.String("chat_id", req.ChatID))
		return
	}
	manager.SendPersonal(userID, devices[0], &ws.Outbound{
		Type:    ws.TypeRequestAppSettingsMemories,
		Payload: event.Payload,
	})
}
