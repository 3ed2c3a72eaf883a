// Package listener runs the event-bus subscribers that bridge worker
// pub/sub events onto websocket frames. Each listener owns one channel
// pattern; all of them share the rule that the receive loop never exits:
// decode failures are logged and skipped, handler panics are counted,
// slept on, and survived.
package listener

import (
	"context"
	"encoding/json"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/glowingkitty/openmates-core/server/metrics"
	"github.com/glowingkitty/openmates-core/server/ws"
	"github.com/glowingkitty/openmates-core/store/kv"
)

// recoverSleep is the pause after a handler panic before the loop
// resumes consuming.
const recoverSleep = time.Second

// HandlerFunc processes one decoded event from a channel.
type HandlerFunc func(ctx context.Context, channel string, event *kv.Event)

// Listener binds a channel pattern to a handler.
type Listener struct {
	Name    string
	Pattern string
	Handle  HandlerFunc
}

// Run consumes the listener's pattern subscription until ctx is
// cancelled. It returns only on cancellation or when the subscription
// channel is closed underneath it.
func Run(ctx context.Context, engine *kv.Engine, l *Listener) error {
	sub := engine.PSubscribe(ctx, l.Pattern)
	defer func() { _ = sub.Close() }()

	slog.Info("event listener started",
		slog.String("listener", l.Name),
		slog.String("pattern", l.Pattern))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event kv.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.Warn("drop non-json event",
					slog.String("listener", l.Name),
					slog.String("channel", msg.Channel),
					slog.Any("error", err))
				continue
			}
			l.safeHandle(ctx, msg.Channel, &event)
		}
	}
}

func (l *Listener) safeHandle(ctx context.Context, channel string, event *kv.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.ListenerRestarts.WithLabelValues(l.Name).Inc()
			slog.Error("event handler panic",
				slog.String("listener", l.Name),
				slog.String("channel", channel),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			time.Sleep(recoverSleep)
		}
	}()
	l.Handle(ctx, channel, event)
}

// channelSuffix returns the id a channel name carries after its prefix,
// or "" when the channel does not match.
func channelSuffix(channel, prefix string) string {
	if !strings.HasPrefix(channel, prefix) {
		return ""
	}
	return strings.TrimPrefix(channel, prefix)
}

// broadcast fans an event out to every device of a user as-is.
func broadcast(manager *ws.Manager, userID, frameType string, payload any) {
	manager.BroadcastToUser(userID, &ws.Outbound{Type: frameType, Payload: payload}, "")
}
