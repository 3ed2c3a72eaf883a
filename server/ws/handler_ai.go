package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/glowingkitty/openmates-core/server/dispatch"
	"github.com/glowingkitty/openmates-core/store"
	"github.com/glowingkitty/openmates-core/store/kv"
	"github.com/glowingkitty/openmates-core/worker"
)

// handleAIResponseCompleted persists the client-encrypted assistant turn
// after the client re-encrypted the streamed response under its own key.
func (r *Router) handleAIResponseCompleted(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req AIResponseCompletedRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.New("malformed payload")
	}
	if req.ChatID == "" || req.Message == nil || req.Message.MessageID == "" || req.Message.EncryptedContent == "" {
		return errors.New("chat_id and message are required")
	}
	if req.Message.Role != store.RoleAssistant {
		return errors.Errorf("unexpected role %q", req.Message.Role)
	}
	if err := r.checkChatAccess(ctx, c, req.ChatID); err != nil {
		return err
	}
	if req.Message.Content != "" {
		slog.Warn("plaintext content stripped from ai response",
			slog.String("chat_id", req.ChatID), slog.String("user_id", c.UserID))
		req.Message.Content = ""
	}

	cached := &kv.CachedMessage{
		ID:               req.Message.MessageID,
		ChatID:           req.ChatID,
		Role:             store.RoleAssistant,
		EncryptedContent: req.Message.EncryptedContent,
		CreatedAt:        req.Message.CreatedAt,
		Status:           store.StatusSynced,
		EncryptedModel:   req.Message.EncryptedModel,
	}
	if err := r.kv.AppendSyncMessage(ctx, c.UserID, req.ChatID, cached); err != nil {
		return err
	}

	var messagesV int64
	var err error
	if req.Versions != nil && req.Versions.MessagesV > 0 {
		messagesV, err = r.kv.SetVersion(ctx, c.UserID, req.ChatID, kv.FieldMessagesV, req.Versions.MessagesV, req.Message.CreatedAt)
	} else {
		messagesV, err = r.kv.BumpVersion(ctx, c.UserID, req.ChatID, kv.FieldMessagesV, req.Message.CreatedAt)
	}
	if err != nil {
		return err
	}

	if err := r.runner.Enqueue(ctx, worker.QueuePersistence, worker.JobPersistMessage, map[string]any{
		"user_id_hash":      c.UserIDHash,
		"chat_id":           req.ChatID,
		"message_id":        req.Message.MessageID,
		"role":              store.RoleAssistant,
		"encrypted_content": req.Message.EncryptedContent,
		"encrypted_model":   req.Message.EncryptedModel,
		"created_at":        req.Message.CreatedAt,
		"messages_v":        messagesV,
	}); err != nil {
		slog.Error("enqueue ai response persistence",
			slog.String("chat_id", req.ChatID), slog.Any("error", err))
	}

	r.send(c, TypeAIResponseStorageConfirmed, map[string]any{
		"chat_id":    req.ChatID,
		"message_id": req.Message.MessageID,
		"task_id":    req.TaskID,
		"messages_v": messagesV,
	})
	return nil
}

func (r *Router) handleCancelAITask(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req CancelAITaskRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.TaskID == "" {
		return errors.New("task_id is required")
	}
	return r.dispatcher.Cancel(ctx, req.TaskID)
}

// handleAppSettingsMemoriesConfirmed releases (or rejects) the settings
// and memories a paused AI task asked for and resumes it.
func (r *Router) handleAppSettingsMemoriesConfirmed(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req AppSettingsMemoriesConfirmed
	if err := json.Unmarshal(payload, &req); err != nil || req.ChatID == "" {
		return errors.New("chat_id is required")
	}
	if err := r.checkChatAccess(ctx, c, req.ChatID); err != nil {
		return err
	}

	entries := make([]dispatch.ConfirmedEntry, 0, len(req.AppSettingsMemories))
	for _, entry := range req.AppSettingsMemories {
		if entry.AppID == "" || entry.ItemKey == "" {
			return errors.New("app_id and item_key are required on every entry")
		}
		entries = append(entries, dispatch.ConfirmedEntry{
			AppID:     entry.AppID,
			ItemKey:   entry.ItemKey,
			Plaintext: entry.Plaintext,
		})
	}
	return r.dispatcher.ContinuePendingPermission(ctx, req.ChatID, req.Rejected, entries)
}
