package listener

import (
	"context"
	"log/slog"

	"github.com/glowingkitty/openmates-core/server/ws"
	"github.com/glowingkitty/openmates-core/store/kv"
)

// Worker-side event names on the typing-indicator channel.
const (
	eventProcessingStarted     = "ai_processing_started_event"
	eventPostProcessingDone    = "post_processing_completed"
	eventSkillExecutionStatus  = "skill_execution_status"
)

// NewTyping rebroadcasts typing and processing-progress events to every
// device of the user. The typing indicator renders on all devices
// regardless of which chat is active.
func NewTyping(manager *ws.Manager) *Listener {
	return &Listener{
		Name:    "typing",
		Pattern: kv.TypingIndicatorChannel("*"),
		Handle: func(_ context.Context, channel string, event *kv.Event) {
			userID := channelSuffix(channel, kv.TypingIndicatorChannel(""))
			if userID == "" {
				return
			}
			switch event.Type {
			case eventProcessingStarted:
				broadcast(manager, userID, ws.TypeAITypingStarted, event.Payload)
			case eventPostProcessingDone:
				broadcast(manager, userID, ws.TypePostProcessingCompleted, event.Payload)
			case eventSkillExecutionStatus:
				broadcast(manager, userID, ws.TypeSkillExecutionStatus, event.Payload)
			default:
				slog.Warn("unknown typing event",
					slog.String("type", event.Type),
					slog.String("user_id", userID))
			}
		},
	}
}
