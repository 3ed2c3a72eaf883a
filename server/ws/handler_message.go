package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/glowingkitty/openmates-core/store"
	"github.com/glowingkitty/openmates-core/store/kv"
	"github.com/glowingkitty/openmates-core/worker"
)

// handleChatMessageAdded stores a client-encrypted user message and
// rebroadcasts it to sibling devices. The AI pipeline is fed through its
// own vault-encrypted path, not from here.
func (r *Router) handleChatMessageAdded(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req ChatMessageAddedRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.New("malformed payload")
	}
	if req.ChatID == "" || req.MessageID == "" || req.EncryptedContent == "" {
		return errors.New("chatId, message_id and encrypted_content are required")
	}
	if err := r.checkChatAccess(ctx, c, req.ChatID); err != nil {
		return err
	}
	if req.Content != "" {
		slog.Warn("plaintext content stripped from chat message",
			slog.String("chat_id", req.ChatID), slog.String("user_id", c.UserID))
		req.Content = ""
	}

	cached := &kv.CachedMessage{
		ID:               req.MessageID,
		ChatID:           req.ChatID,
		Role:             store.RoleUser,
		EncryptedContent: req.EncryptedContent,
		CreatedAt:        req.CreatedAt,
		Status:           store.StatusSent,
		EncryptedSender:  req.SenderName,
	}
	if err := r.kv.AppendSyncMessage(ctx, c.UserID, req.ChatID, cached); err != nil {
		return err
	}
	newV, err := r.kv.BumpVersion(ctx, c.UserID, req.ChatID, kv.FieldMessagesV, req.CreatedAt)
	if err != nil {
		return err
	}

	if err := r.runner.Enqueue(ctx, worker.QueuePersistence, worker.JobPersistMessage, map[string]any{
		"user_id_hash":      c.UserIDHash,
		"chat_id":           req.ChatID,
		"message_id":        req.MessageID,
		"role":              store.RoleUser,
		"encrypted_content": req.EncryptedContent,
		"encrypted_sender":  req.SenderName,
		"created_at":        req.CreatedAt,
		"messages_v":        newV,
	}); err != nil {
		slog.Error("enqueue message persistence",
			slog.String("chat_id", req.ChatID), slog.Any("error", err))
	}

	r.send(c, TypeChatMessageConfirmed, map[string]any{
		"chat_id":    req.ChatID,
		"message_id": req.MessageID,
		"messages_v": newV,
	})
	r.manager.BroadcastToUser(c.UserID, &Outbound{
		Type:    TypeChatMessageAdded,
		Payload: payload,
	}, c.DeviceHash)
	return nil
}

func (r *Router) handleGetChatMessages(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req GetChatMessagesRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.ChatID == "" {
		return errors.New("chat_id is required")
	}
	if err := r.checkChatAccess(ctx, c, req.ChatID); err != nil {
		return err
	}

	messages, err := r.chatMessages(ctx, c, req.ChatID)
	if err != nil {
		return err
	}
	r.send(c, TypeChatMessagesResponse, map[string]any{
		"chat_id":  req.ChatID,
		"messages": messages,
	})
	return nil
}

// handleRequestChatContentBatch fetches messages and versions for many
// chats in one round. Per-chat failures set partial_error and the batch
// continues; effective_messages_v masks the window where Records has
// messages the versions hash has not counted yet.
func (r *Router) handleRequestChatContentBatch(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req RequestChatContentBatch
	if err := json.Unmarshal(payload, &req); err != nil || req.ChatIDs == nil {
		return errors.New("chat_ids is required")
	}

	resp := ChatContentBatchResponse{
		MessagesByChatID: make(map[string][]json.RawMessage, len(req.ChatIDs)),
		VersionsByChatID: make(map[string]ChatContentBatchVersions, len(req.ChatIDs)),
	}
	for _, chatID := range req.ChatIDs {
		messages, err := r.chatMessages(ctx, c, chatID)
		if err != nil {
			slog.Warn("batch fetch failed for chat",
				slog.String("chat_id", chatID), slog.Any("error", err))
			resp.PartialError = true
			continue
		}
		messagesV, err := r.kv.Version(ctx, c.UserID, chatID, kv.FieldMessagesV)
		if err != nil {
			slog.Warn("batch version read failed for chat",
				slog.String("chat_id", chatID), slog.Any("error", err))
			resp.PartialError = true
			continue
		}
		if n := int64(len(messages)); n > messagesV {
			messagesV = n
		}
		resp.MessagesByChatID[chatID] = messages
		resp.VersionsByChatID[chatID] = ChatContentBatchVersions{
			MessagesV:          messagesV,
			ServerMessageCount: int64(len(messages)),
		}
	}

	r.send(c, TypeChatContentBatchResponse, &resp)
	return nil
}
