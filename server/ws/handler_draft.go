package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/glowingkitty/openmates-core/store"
	"github.com/glowingkitty/openmates-core/worker"
)

// draftTombstone is the literal a client sends to blank a draft without
// deleting it.
const draftTombstone = "null"

// checkChatAccess verifies the chat belongs to the caller. A chat absent
// from Records is new/local and access is granted (the draft special
// rule); a chat owned by someone else is denied.
func (r *Router) checkChatAccess(ctx context.Context, c *Client, chatID string) error {
	chat, err := r.records.GetChat(ctx, &store.FindChat{ID: &chatID})
	if err != nil {
		return err
	}
	if chat != nil && chat.UserIDHash != c.UserIDHash {
		return errors.New("permission denied for chat")
	}
	return nil
}

func (r *Router) handleUpdateDraft(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req UpdateDraftRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.ChatID == "" {
		return errors.New("chat_id is required")
	}
	if err := r.checkChatAccess(ctx, c, req.ChatID); err != nil {
		return err
	}

	content := draftTombstone
	if req.EncryptedDraftMD != nil {
		content = *req.EncryptedDraftMD
	}
	newV, err := r.kv.SetDraft(ctx, c.UserID, req.ChatID, c.UserID, content)
	if err != nil {
		return err
	}

	if err := r.runner.Enqueue(ctx, worker.QueuePersistence, worker.JobPersistDraft, map[string]any{
		"user_id_hash":       c.UserIDHash,
		"chat_id":            req.ChatID,
		"encrypted_draft_md": content,
		"draft_v":            newV,
	}); err != nil {
		slog.Error("enqueue draft persistence",
			slog.String("chat_id", req.ChatID), slog.Any("error", err))
	}

	r.manager.BroadcastToUser(c.UserID, &Outbound{
		Type: TypeDraftUpdated,
		Payload: map[string]any{
			"chat_id":                       req.ChatID,
			"encrypted_draft_md":            content,
			"draft_v":                       newV,
			"last_edited_overall_timestamp": time.Now().Unix(),
		},
	}, c.DeviceHash)
	return nil
}

// handleDeleteDraft removes the draft from cache and Records. The
// receipt goes to the caller and draft_deleted is always broadcast to
// siblings, even when there was nothing to delete, so every device
// converges on the same state.
func (r *Router) handleDeleteDraft(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req DeleteDraftRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.ChatID == "" {
		return errors.New("chatId is required")
	}
	if err := r.checkChatAccess(ctx, c, req.ChatID); err != nil {
		return err
	}

	if err := r.kv.DeleteDraft(ctx, c.UserID, req.ChatID, c.UserID); err != nil {
		slog.Error("delete cached draft",
			slog.String("chat_id", req.ChatID), slog.Any("error", err))
	}
	if err := r.runner.Enqueue(ctx, worker.QueuePersistence, worker.JobDeleteDraft, map[string]any{
		"user_id_hash": c.UserIDHash,
		"chat_id":      req.ChatID,
	}); err != nil {
		slog.Error("enqueue draft deletion",
			slog.String("chat_id", req.ChatID), slog.Any("error", err))
	}

	r.send(c, TypeDraftDeleteReceipt, map[string]any{"chat_id": req.ChatID})
	r.manager.BroadcastToUser(c.UserID, &Outbound{
		Type:    TypeDraftDeleted,
		Payload: map[string]any{"chat_id": req.ChatID},
	}, c.DeviceHash)
	return nil
}
