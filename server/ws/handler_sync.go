package ws

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/glowingkitty/openmates-core/store"
	"github.com/glowingkitty/openmates-core/store/kv"
)

// syncNewChat / syncUpdate tag entries of chats_to_add_or_update.
const (
	syncNewChat = "new_chat"
	syncUpdate  = "update"
)

// handleInitialSync computes the delta between the client's local state
// and the server's chat list. Missing required fields produce
// initial_sync_error and no cache mutation.
func (r *Router) handleInitialSync(ctx context.Context, c *Client, payload json.RawMessage) error {
	var req InitialSyncRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		r.send(c, TypeInitialSyncError, &ErrorPayload{Message: "malformed payload"})
		return nil
	}
	if req.ChatIDs == nil || req.ChatCount == nil {
		r.send(c, TypeInitialSyncError, &ErrorPayload{Message: "chat_ids and chat_count are required"})
		return nil
	}

	serverOrder, err := r.serverChatOrder(ctx, c)
	if err != nil {
		return err
	}
	serverSet := make(map[string]struct{}, len(serverOrder))
	for _, id := range serverOrder {
		serverSet[id] = struct{}{}
	}
	clientSet := make(map[string]struct{}, len(req.ChatIDs))
	for _, id := range req.ChatIDs {
		clientSet[id] = struct{}{}
	}

	resp := InitialSyncResponse{
		ChatIDsToDelete:    []string{},
		ChatsToAddOrUpdate: []ChatSyncData{},
		ServerChatOrder:    serverOrder,
		ServerChatCount:    int64(len(serverOrder)),
	}
	for _, id := range req.ChatIDs {
		if _, ok := serverSet[id]; !ok {
			resp.ChatIDsToDelete = append(resp.ChatIDsToDelete, id)
		}
	}

	for _, chatID := range serverOrder {
		_, seen := clientSet[chatID]
		clientVersions := req.ChatVersions[chatID]
		entry, err := r.chatDelta(ctx, c, chatID, seen, clientVersions, chatID == req.ImmediateViewChatID)
		if err != nil {
			slog.Warn("skip chat in sync delta",
				slog.String("chat_id", chatID),
				slog.String("user_id", c.UserID),
				slog.Any("error", err))
			continue
		}
		if entry == nil {
			continue
		}
		if chatID == req.ImmediateViewChatID {
			resp.ChatsToAddOrUpdate = append([]ChatSyncData{*entry}, resp.ChatsToAddOrUpdate...)
		} else {
			resp.ChatsToAddOrUpdate = append(resp.ChatsToAddOrUpdate, *entry)
		}
	}

	r.send(c, TypeInitialSyncResponse, &resp)
	return nil
}

// serverChatOrder returns the user's chat ids newest-edited first,
// rebuilding the cache's sorted set from the Records store when cold.
func (r *Router) serverChatOrder(ctx context.Context, c *Client) ([]string, error) {
	order, err := r.kv.ChatOrder(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	if len(order) > 0 {
		return order, nil
	}

	chats, err := r.records.ListChats(ctx, &store.FindChat{
		UserIDHash:        &c.UserIDHash,
		OrderByLastEdited: true,
	})
	if err != nil {
		return nil, err
	}
	order = make([]string, 0, len(chats))
	for _, chat := range chats {
		order = append(order, chat.ID)
		// EnsureListItem seeds the versions hash and the sorted-set
		// entry as a side effect.
		if _, err := r.kv.EnsureListItem(ctx, c.UserID, c.UserIDHash, chat.ID); err != nil {
			slog.Warn("warm chat cache",
				slog.String("chat_id", chat.ID), slog.Any("error", err))
		}
	}
	return order, nil
}

// chatDelta builds the chats_to_add_or_update entry for one chat, or
// nil when the client is already current. An unreconstructable chat
// returns an error and is skipped by the caller.
func (r *Router) chatDelta(ctx context.Context, c *Client, chatID string, seen bool, clientVersions ChatVersionsPayload, immediateView bool) (*ChatSyncData, error) {
	item, err := r.kv.EnsureListItem(ctx, c.UserID, c.UserIDHash, chatID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		slog.Warn("chat listed but unreconstructable",
			slog.String("chat_id", chatID), slog.String("user_id", c.UserID))
		return nil, nil
	}

	versions, err := r.kv.Versions(ctx, c.UserID, chatID)
	if err != nil {
		return nil, err
	}
	serverVersions := ChatVersionsPayload{
		MessagesV: versions[kv.FieldMessagesV],
		TitleV:    versions[kv.FieldTitleV],
		DraftV:    versions[kv.DraftVersionField(c.UserID)],
	}
	lastEdited := versions[kv.FieldLastEditedTs]

	entry := &ChatSyncData{
		Type:         syncUpdate,
		ChatID:       chatID,
		Versions:     serverVersions,
		ListItem:     item,
		LastEditedTs: lastEdited,
	}

	if !seen {
		entry.Type = syncNewChat
		entry.Title = item[kv.ItemEncryptedTitle]
		if draft, err := r.kv.Draft(ctx, c.UserID, chatID); err == nil && draft != nil {
			entry.Draft = draft.EncryptedDraftMD
		}
		if immediateView {
			entry.Messages, err = r.chatMessages(ctx, c, chatID)
			if err != nil {
				return nil, err
			}
		}
		return entry, nil
	}

	changed := false
	if serverVersions.TitleV != clientVersions.TitleV {
		entry.Title = item[kv.ItemEncryptedTitle]
		changed = true
	}
	if serverVersions.DraftV != clientVersions.DraftV {
		if draft, err := r.kv.Draft(ctx, c.UserID, chatID); err == nil && draft != nil {
			entry.Draft = draft.EncryptedDraftMD
		}
		changed = true
	}
	if serverVersions.MessagesV != clientVersions.MessagesV {
		if immediateView {
			entry.Messages, err = r.chatMessages(ctx, c, chatID)
			if err != nil {
				return nil, err
			}
		}
		changed = true
	}
	if !changed {
		return nil, nil
	}
	return entry, nil
}

// chatMessages returns the chat's client-encrypted history,
// chronological, preferring the sync cache and falling back to Records.
func (r *Router) chatMessages(ctx context.Context, c *Client, chatID string) ([]json.RawMessage, error) {
	cached, err := r.kv.SyncMessages(ctx, c.UserID, chatID)
	if err != nil {
		return nil, err
	}
	if len(cached) > 0 {
		return marshalCached(cached), nil
	}

	stored, err := r.records.ListMessages(ctx, &store.FindMessage{ChatID: &chatID})
	if err != nil {
		return nil, err
	}
	out := make([]*kv.CachedMessage, 0, len(stored))
	for _, msg := range stored {
		out = append(out, &kv.CachedMessage{
			ID:               msg.ID,
			ChatID:           msg.ChatID,
			Role:             msg.Role,
			EncryptedContent: msg.EncryptedContent,
			CreatedAt:        msg.CreatedTs,
			Status:           msg.Status,
			EncryptedSender:  msg.EncryptedSender,
			EncryptedModel:   msg.EncryptedModel,
		})
	}
	return marshalCached(out), nil
}

func marshalCached(msgs []*kv.CachedMessage) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(msgs))
	for _, msg := range msgs {
		raw, err := json.Marshal(msg)
		if err != nil {
			slog.Warn("skip unmarshallable cached message", slog.String("id", msg.ID))
			continue
		}
		out = append(out, json.RawMessage(raw))
	}
	return out
}
