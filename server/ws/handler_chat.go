package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/glowingkitty/openmates-core/store/kv"
	"github.com/glowingkitty/openmates-core/worker"
)

func (r *Router) handleUpdateTitle(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req UpdateTitleRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.ChatID == "" || req.EncryptedTitle == "" {
		return errors.New("chat_id and encrypted_title are required")
	}
	if err := r.checkChatAccess(ctx, c, req.ChatID); err != nil {
		return err
	}

	now := time.Now().Unix()
	newV, err := r.kv.BumpVersion(ctx, c.UserID, req.ChatID, kv.FieldTitleV, now)
	if err != nil {
		return err
	}
	if err := r.kv.SetListItemFields(ctx, c.UserID, req.ChatID, map[string]string{
		kv.ItemEncryptedTitle: req.EncryptedTitle,
	}); err != nil {
		return err
	}

	if err := r.runner.Enqueue(ctx, worker.QueuePersistence, worker.JobPersistChat, map[string]any{
		"user_id_hash":                  c.UserIDHash,
		"chat_id":                       req.ChatID,
		"encrypted_title":               req.EncryptedTitle,
		"title_v":                       newV,
		"last_edited_overall_timestamp": now,
	}); err != nil {
		slog.Error("enqueue title persistence",
			slog.String("chat_id", req.ChatID), slog.Any("error", err))
	}

	r.manager.BroadcastToUser(c.UserID, &Outbound{
		Type: TypeChatTitleUpdated,
		Payload: map[string]any{
			"chat_id": req.ChatID,
			"data": map[string]any{
				"encrypted_title": req.EncryptedTitle,
			},
			"versions": map[string]any{
				"title_v":                       newV,
				"last_edited_overall_timestamp": now,
			},
		},
	}, c.DeviceHash)
	return nil
}

// handleDeleteChat tombstones the chat's cache footprint and broadcasts
// chat_deleted. Both happen even when the Records deletion cannot be
// enqueued; the worker queue is retried out of band, the devices must
// converge now.
func (r *Router) handleDeleteChat(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req DeleteChatRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.ChatID == "" {
		return errors.New("chatId is required")
	}
	if err := r.checkChatAccess(ctx, c, req.ChatID); err != nil {
		return err
	}

	r.kv.TombstoneChat(ctx, c.UserID, req.ChatID)

	if err := r.runner.Enqueue(ctx, worker.QueuePersistence, worker.JobDeleteChat, map[string]any{
		"user_id_hash": c.UserIDHash,
		"chat_id":      req.ChatID,
	}); err != nil {
		slog.Error("enqueue chat deletion",
			slog.String("chat_id", req.ChatID), slog.Any("error", err))
	}

	r.manager.BroadcastToUser(c.UserID, &Outbound{
		Type:    TypeChatDeleted,
		Payload: map[string]any{"chat_id": req.ChatID},
	}, "")
	return nil
}

// handleEncryptedChatMetadata is the zero-knowledge write path for chat
// metadata and user messages. Plaintext riding along is stripped, never
// stored.
func (r *Router) handleEncryptedChatMetadata(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req EncryptedChatMetadataRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.ChatID == "" {
		return errors.New("chat_id is required")
	}
	if req.Versions == nil || req.Versions.MessagesV == nil || req.Versions.LastEditedOverallTimestamp == nil {
		return errors.New("versions.messages_v and versions.last_edited_overall_timestamp are required")
	}
	if err := r.checkChatAccess(ctx, c, req.ChatID); err != nil {
		return err
	}
	if req.Content != "" {
		slog.Warn("plaintext content stripped from metadata write",
			slog.String("chat_id", req.ChatID), slog.String("user_id", c.UserID))
		req.Content = ""
	}

	lastEdited := *req.Versions.LastEditedOverallTimestamp
	fields := map[string]string{}
	if req.EncryptedTitle != nil {
		fields[kv.ItemEncryptedTitle] = *req.EncryptedTitle
	}
	if req.EncryptedIcon != nil {
		fields[kv.ItemEncryptedIcon] = *req.EncryptedIcon
	}
	if req.EncryptedCategory != nil {
		fields[kv.ItemEncryptedCategory] = *req.EncryptedCategory
	}
	if req.EncryptedChatKey != nil {
		fields[kv.ItemEncryptedChatKey] = *req.EncryptedChatKey
	}
	if err := r.kv.SetListItemFields(ctx, c.UserID, req.ChatID, fields); err != nil {
		return err
	}

	if req.EncryptedMessage != nil {
		var cached kv.CachedMessage
		if err := json.Unmarshal(*req.EncryptedMessage, &cached); err != nil {
			return errors.Wrap(err, "decode encrypted message")
		}
		cached.ChatID = req.ChatID
		if err := r.kv.AppendSyncMessage(ctx, c.UserID, req.ChatID, &cached); err != nil {
			return err
		}
	}
	if _, err := r.kv.SetVersion(ctx, c.UserID, req.ChatID, kv.FieldMessagesV, *req.Versions.MessagesV, lastEdited); err != nil {
		return err
	}

	if err := r.runner.Enqueue(ctx, worker.QueuePersistence, worker.JobPersistChat, &req); err != nil {
		slog.Error("enqueue metadata persistence",
			slog.String("chat_id", req.ChatID), slog.Any("error", err))
	}

	r.send(c, TypeEncryptedMetadataStored, map[string]any{
		"chat_id":    req.ChatID,
		"messages_v": *req.Versions.MessagesV,
	})

	// A new or rotated chat key must reach sibling devices right away;
	// without it they cannot decrypt anything else about the chat.
	if req.EncryptedChatKey != nil {
		r.manager.BroadcastToUser(c.UserID, &Outbound{
			Type: TypeEncryptedChatMetadata,
			Payload: map[string]any{
				"chat_id":            req.ChatID,
				"encrypted_chat_key": *req.EncryptedChatKey,
			},
		}, c.DeviceHash)
	}
	return nil
}

// handleUpdatePostProcessingMetadata stores worker-produced encrypted
// summaries, tags and suggestions. Unlike the other handlers its errors
// propagate as-is: a failure here means the post-processing pipeline is
// misconfigured, which must surface loudly.
func (r *Router) handleUpdatePostProcessingMetadata(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req UpdatePostProcessingMetadataRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.ChatID == "" {
		return errors.New("chat_id is required")
	}
	if err := r.checkChatAccess(ctx, c, req.ChatID); err != nil {
		return err
	}

	fields := map[string]string{}
	if req.EncryptedChatSummary != nil {
		fields[kv.ItemEncryptedSummary] = *req.EncryptedChatSummary
	}
	if req.EncryptedChatTags != nil {
		fields[kv.ItemEncryptedTags] = *req.EncryptedChatTags
	}
	if req.EncryptedFollowUpSuggestions != nil {
		fields[kv.ItemEncryptedSuggestions] = *req.EncryptedFollowUpSuggestions
	}
	if err := r.kv.SetListItemFields(ctx, c.UserID, req.ChatID, fields); err != nil {
		return err
	}
	if err := r.runner.Enqueue(ctx, worker.QueuePersistence, worker.JobPostProcessing, &req); err != nil {
		return err
	}

	r.send(c, TypePostProcessingMetadataStored, map[string]any{"chat_id": req.ChatID})
	return nil
}

func (r *Router) handleScrollPositionUpdate(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req ScrollPositionUpdate
	if err := json.Unmarshal(payload, &req); err != nil || req.ChatID == "" || req.MessageID == "" {
		return errors.New("chat_id and message_id are required")
	}
	if err := r.kv.SetListItemFields(ctx, c.UserID, req.ChatID, map[string]string{
		kv.ItemScrollAnchorID: req.MessageID,
	}); err != nil {
		return err
	}
	if err := r.runner.Enqueue(ctx, worker.QueuePersistence, worker.JobUpdateReadState, map[string]any{
		"user_id_hash":             c.UserIDHash,
		"chat_id":                  req.ChatID,
		"scroll_anchor_message_id": req.MessageID,
	}); err != nil {
		slog.Error("enqueue scroll position",
			slog.String("chat_id", req.ChatID), slog.Any("error", err))
	}
	return nil
}

func (r *Router) handleChatReadStatusUpdate(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req ChatReadStatusUpdate
	if err := json.Unmarshal(payload, &req); err != nil || req.ChatID == "" {
		return errors.New("chat_id is required")
	}
	if err := r.kv.SetListItemFields(ctx, c.UserID, req.ChatID, map[string]string{
		kv.ItemUnreadCount: strconv.FormatInt(req.UnreadCount, 10),
	}); err != nil {
		return err
	}
	if err := r.runner.Enqueue(ctx, worker.QueuePersistence, worker.JobUpdateReadState, map[string]any{
		"user_id_hash": c.UserIDHash,
		"chat_id":      req.ChatID,
		"unread_count": req.UnreadCount,
	}); err != nil {
		slog.Error("enqueue read status",
			slog.String("chat_id", req.ChatID), slog.Any("error", err))
	}

	r.manager.BroadcastToUser(c.UserID, &Outbound{
		Type: TypeChatReadStatusUpdate,
		Payload: map[string]any{
			"chat_id":      req.ChatID,
			"unread_count": req.UnreadCount,
		},
	}, c.DeviceHash)
	return nil
}

// handleSetActiveChat updates the device's focus and the user's
// last-opened chat. Empty chat_id clears the focus.
func (r *Router) handleSetActiveChat(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req SetActiveChatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errors.New("malformed payload")
	}

	r.manager.SetActiveChat(c.UserID, c.DeviceHash, req.ChatID)
	if req.ChatID != "" {
		if err := r.kv.SetLastOpenedChat(ctx, c.UserID, req.ChatID); err != nil {
			slog.Warn("record last opened chat",
				slog.String("chat_id", req.ChatID), slog.Any("error", err))
		}
	}
	r.send(c, TypeActiveChatSetAck, map[string]any{"chat_id": req.ChatID})
	return nil
}
