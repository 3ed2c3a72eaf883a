package listener

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/glowingkitty/openmates-core/server/dispatch"
	"github.com/glowingkitty/openmates-core/server/ws"
	"github.com/glowingkitty/openmates-core/store/kv"
)

// errorSentinel marks worker-side failures embedded in streamed content.
// Clients must never see the raw text behind it; it is rewritten to a
// fixed translation key before fan-out.
const (
	errorSentinel = "[ERROR"
	errorKey      = "chat.an_error_occured.text"
)

// StreamChunk is one ai_message_chunk event published by a worker while
// streaming a response.
type StreamChunk struct {
	ChatID                         string `json:"chat_id"`
	UserID                         string `json:"user_id_uuid"`
	MessageID                      string `json:"message_id"`
	UserMessageID                  string `json:"user_message_id"`
	TaskID                         string `json:"task_id"`
	FullContentSoFar               string `json:"full_content_so_far"`
	IsFinalChunk                   bool   `json:"is_final_chunk"`
	InterruptedByRevocation        bool   `json:"interrupted_by_revocation,omitempty"`
	InterruptedByPermissionRequest bool   `json:"interrupted_by_permission_request,omitempty"`
}

// backgroundCompleted is the payload of ai_background_response_completed
// sent to devices not viewing the chat. The completed text travels as
// full_content; the per-chunk field name is a streaming-only concern.
type backgroundCompleted struct {
	ChatID                  string `json:"chat_id"`
	MessageID               string `json:"message_id"`
	UserMessageID           string `json:"user_message_id,omitempty"`
	TaskID                  string `json:"task_id"`
	FullContent             string `json:"full_content"`
	InterruptedByRevocation bool   `json:"interrupted_by_revocation,omitempty"`
}

// rewriteErrorSentinel replaces streamed content carrying the error
// sentinel with the fixed translation key.
func rewriteErrorSentinel(content string) string {
	if strings.Contains(content, errorSentinel) {
		return errorKey
	}
	return content
}

// NewStream fans streamed AI chunks out to the user's devices. A device
// viewing the chat gets every chunk as ai_message_update; other devices
// only learn about the final chunk, as ai_background_response_completed
// plus ai_typing_ended, so inactive UIs settle without rendering
// intermediate tokens. The final chunk also releases the chat's
// single-flight claim.
func NewStream(manager *ws.Manager, dispatcher *dispatch.Dispatcher) *Listener {
	return &Listener{
		Name:    "stream",
		Pattern: kv.ChatStreamChannel("*"),
		Handle: func(ctx context.Context, channel string, event *kv.Event) {
			var chunk StreamChunk
			if err := json.Unmarshal(event.Payload, &chunk); err != nil {
				slog.Warn("malformed stream chunk",
					slog.String("channel", channel), slog.Any("error", err))
				return
			}
			if chunk.ChatID == "" || chunk.UserID == "" {
				return
			}
			chunk.FullContentSoFar = rewriteErrorSentinel(chunk.FullContentSoFar)

			for _, device := range manager.DevicesForUser(chunk.UserID) {
				if manager.ActiveChat(chunk.UserID, device) == chunk.ChatID {
					manager.SendPersonal(chunk.UserID, device, &ws.Outbound{
						Type:    ws.TypeAIMessageUpdate,
						Payload: &chunk,
					})
					continue
				}
				if !chunk.IsFinalChunk {
					continue
				}
				manager.SendPersonal(chunk.UserID, device, &ws.Outbound{
					Type: ws.TypeAIBackgroundResponseCompleted,
					Payload: &backgroundCompleted{
						ChatID:                  chunk.ChatID,
						MessageID:               chunk.MessageID,
						UserMessageID:           chunk.UserMessageID,
						TaskID:                  chunk.TaskID,
						FullContent:             chunk.FullContentSoFar,
						InterruptedByRevocation: chunk.InterruptedByRevocation,
					},
				})
				manager.SendPersonal(chunk.UserID, device, &ws.Outbound{
					Type: ws.TypeAITypingEnded,
					Payload: map[string]any{
						"chat_id":    chunk.ChatID,
						"message_id": chunk.MessageID,
					},
				})
			}

			// A task paused for permission keeps its claim; the
			// continuation reuses it.
			if chunk.IsFinalChunk && !chunk.InterruptedByPermissionRequest {
				dispatcher.FinishTask(ctx, chunk.ChatID, chunk.TaskID)
			}
		},
	}
}
