package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/glowingkitty/openmates-core/store"
	"github.com/glowingkitty/openmates-core/store/kv"
)

// Chats delivered by each priming phase.
const (
	phase1Count = 1
	phase2Count = 10
	phase3Count = 100
)

// phaseTimeout bounds one background priming run.
const phaseTimeout = 2 * time.Minute

// handlePhasedSync kicks off cache priming in the background. Each phase
// publishes its completion event on the user's cache-events channel so
// every instance's listener can notify the user's devices.
func (r *Router) handlePhasedSync(_ context.Context, c *Client, payload json.RawMessage) error {
	var req PhasedSyncRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.New("malformed payload")
	}
	switch req.Phase {
	case PhaseOne, PhaseTwo, PhaseThree, PhaseAll:
	default:
		return errors.Errorf("unknown phase %q", req.Phase)
	}

	go r.runPhases(c, req)
	return nil
}

func (r *Router) runPhases(c *Client, req PhasedSyncRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), phaseTimeout)
	defer cancel()

	run := func(phase string) {
		if err := r.runPhase(ctx, c, phase, req.ImmediateViewChatID); err != nil {
			slog.Error("cache priming phase failed",
				slog.String("phase", phase),
				slog.String("user_id", c.UserID),
				slog.Any("error", err))
		}
	}

	switch req.Phase {
	case PhaseAll:
		run(PhaseOne)
		run(PhaseTwo)
		run(PhaseThree)
		r.publishUserEvent(ctx, c, TypeCachePrimed, nil)
	default:
		run(req.Phase)
		r.publishUserEvent(ctx, c, TypePhasedSyncComplete, map[string]any{"phase": req.Phase})
	}
}

func (r *Router) runPhase(ctx context.Context, c *Client, phase, immediateViewChatID string) error {
	switch phase {
	case PhaseOne:
		// "new" means the client opened an unsaved chat; there is
		// nothing to prime but the phase still completes.
		if immediateViewChatID != "new" {
			target := immediateViewChatID
			if target == "" {
				if last, err := r.kv.LastOpenedChat(ctx, c.UserID); err == nil {
					target = last
				}
			}
			if err := r.primeChats(ctx, c, phase1Count, target); err != nil {
				return err
			}
		}
		r.publishUserEvent(ctx, c, TypePhase1LastChatReady, nil)
	case PhaseTwo:
		if err := r.primeChats(ctx, c, phase2Count, ""); err != nil {
			return err
		}
		r.publishUserEvent(ctx, c, TypePhase2Last20ChatsReady, nil)
	case PhaseThree:
		if err := r.primeChats(ctx, c, phase3Count, ""); err != nil {
			return err
		}
		// Stale per-chat sync history predates this full pass; drop it
		// wholesale, then rebuild only for the AI-hot chats.
		if err := r.kv.ClearSyncMessages(ctx, c.UserID); err != nil {
			slog.Warn("clear sync history",
				slog.String("user_id", c.UserID), slog.Any("error", err))
		}
		if err := r.primeHotMessages(ctx, c); err != nil {
			slog.Warn("prime hot chat messages",
				slog.String("user_id", c.UserID), slog.Any("error", err))
		}
		r.publishUserEvent(ctx, c, TypePhase3Last100ChatsReady, nil)
	}
	return nil
}

// primeChats warms list-item data and versions for the top n chats,
// plus the immediate-view chat when given.
func (r *Router) primeChats(ctx context.Context, c *Client, n int, immediateViewChatID string) error {
	chatIDs, err := r.kv.TopChats(ctx, c.UserID, int64(n))
	if err != nil {
		return err
	}
	if len(chatIDs) == 0 {
		// Cold sorted set; fall back to the Records order, which also
		// reseeds the set.
		chatIDs, err = r.serverChatOrder(ctx, c)
		if err != nil {
			return err
		}
		if len(chatIDs) > n {
			chatIDs = chatIDs[:n]
		}
	}
	if immediateViewChatID != "" {
		chatIDs = append([]string{immediateViewChatID}, chatIDs...)
	}

	for _, chatID := range chatIDs {
		if _, err := r.kv.EnsureListItem(ctx, c.UserID, c.UserIDHash, chatID); err != nil {
			slog.Warn("skip unprimeable chat",
				slog.String("chat_id", chatID),
				slog.String("user_id", c.UserID),
				slog.Any("error", err))
		}
	}
	return nil
}

// primeHotMessages rebuilds the sync message lists for the chats in the
// AI hot set from the Records store.
func (r *Router) primeHotMessages(ctx context.Context, c *Client) error {
	hot, err := r.kv.AIHotChats(ctx, c.UserID)
	if err != nil {
		return err
	}
	for _, chatID := range hot {
		stored, err := r.records.ListMessages(ctx, &store.FindMessage{ChatID: &chatID})
		if err != nil {
			slog.Warn("load messages for hot chat",
				slog.String("chat_id", chatID), slog.Any("error", err))
			continue
		}
		for _, msg := range stored {
			cached := &kv.CachedMessage{
				ID:               msg.ID,
				ChatID:           msg.ChatID,
				Role:             msg.Role,
				EncryptedContent: msg.EncryptedContent,
				CreatedAt:        msg.CreatedTs,
				Status:           msg.Status,
				EncryptedSender:  msg.EncryptedSender,
				EncryptedModel:   msg.EncryptedModel,
			}
			if err := r.kv.AppendSyncMessage(ctx, c.UserID, chatID, cached); err != nil {
				slog.Warn("warm sync message",
					slog.String("chat_id", chatID), slog.Any("error", err))
				break
			}
		}
	}
	return nil
}

// publishUserEvent fans a cache event out over the user's channel; the
// listener on each instance forwards it to connected devices.
func (r *Router) publishUserEvent(ctx context.Context, c *Client, eventType string, payload any) {
	if err := r.kv.PublishEvent(ctx, kv.UserCacheEventsChannel(c.UserID), eventType, payload); err != nil {
		slog.Error("publish cache event",
			slog.String("event", eventType),
			slog.String("user_id", c.UserID),
			slog.Any("error", err))
	}
}

// handleSyncStatus reports whether the user's cache is primed.
func (r *Router) handleSyncStatus(ctx context.Context, c *Client, _ json.RawMessage) error {
	count, err := r.kv.ChatCount(ctx, c.UserID)
	if err != nil {
		return err
	}
	r.send(c, TypeSyncStatusResponse, &SyncStatusResponse{
		Primed:    count > 0,
		ChatCount: count,
	})
	return nil
}
