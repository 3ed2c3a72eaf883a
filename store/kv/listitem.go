package kv

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/glowingkitty/openmates-core/store"
)

// List-item hash field names.
const (
	ItemEncryptedTitle       = "encrypted_title"
	ItemEncryptedIcon        = "encrypted_icon"
	ItemEncryptedCategory    = "encrypted_category"
	ItemEncryptedChatKey     = "encrypted_chat_key"
	ItemEncryptedTags        = "encrypted_tags"
	ItemEncryptedSummary     = "encrypted_summary"
	ItemEncryptedSuggestions = "encrypted_suggestions"
	ItemEncryptedFocusID     = "encrypted_active_focus_id"
	ItemUnreadCount          = "unread_count"
	ItemPinned               = "pinned"
	ItemLastMessageTs        = "last_message_timestamp"
	ItemScrollAnchorID       = "scroll_anchor_message_id"
)

// SetListItemFields writes the given list-item fields and refreshes the
// key's TTL.
func (e *Engine) SetListItemFields(ctx context.Context, userID, chatID string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	key := ListItemDataKey(userID, chatID)
	flat := make([]any, 0, len(fields)*2)
	for field, v := range fields {
		flat = append(flat, field, v)
	}
	_, err := e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, flat...)
		pipe.Expire(ctx, key, e.cfg.TTL.ChatListItemData)
		return nil
	})
	return errors.Wrapf(err, "set list item fields for chat %s", chatID)
}

// ListItem returns the chat's list-item hash; empty map when cold.
func (e *Engine) ListItem(ctx context.Context, userID, chatID string) (map[string]string, error) {
	item, err := e.rdb.HGetAll(ctx, ListItemDataKey(userID, chatID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "read list item for chat %s", chatID)
	}
	return item, nil
}

// EnsureListItem returns the chat's list-item data, lazily reconstructing
// it (and the versions hash) from the Records store when the cache is
// cold. A chat that cannot be reconstructed returns (nil, nil); the
// caller skips it with a warning instead of aborting.
func (e *Engine) EnsureListItem(ctx context.Context, userID, userIDHash, chatID string) (map[string]string, error) {
	item, err := e.ListItem(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	if len(item) > 0 {
		return item, nil
	}
	if e.records == nil {
		return nil, nil
	}

	chat, err := e.records.GetChat(ctx, &store.FindChat{ID: &chatID, UserIDHash: &userIDHash})
	if err != nil {
		return nil, errors.Wrapf(err, "reconstruct chat %s", chatID)
	}
	if chat == nil {
		return nil, nil
	}

	item = map[string]string{
		ItemEncryptedTitle:       chat.EncryptedTitle,
		ItemEncryptedIcon:        chat.EncryptedIcon,
		ItemEncryptedCategory:    chat.EncryptedCategory,
		ItemEncryptedChatKey:     chat.EncryptedChatKey,
		ItemEncryptedTags:        chat.EncryptedTags,
		ItemEncryptedSummary:     chat.EncryptedSummary,
		ItemEncryptedSuggestions: chat.EncryptedSuggestions,
		ItemEncryptedFocusID:     chat.EncryptedFocusID,
		ItemUnreadCount:          strconv.FormatInt(chat.UnreadCount, 10),
		ItemPinned:               strconv.FormatBool(chat.Pinned),
		ItemLastMessageTs:        strconv.FormatInt(chat.LastMessageTs, 10),
		ItemScrollAnchorID:       chat.ScrollAnchorID,
	}
	if chat.EncryptedChatKey == "" {
		slog.Warn("reconstructed chat has no encrypted chat key", "chat_id", chatID)
	}
	if err := e.SetListItemFields(ctx, userID, chatID, item); err != nil {
		return nil, err
	}

	// Seed the versions hash alongside so every listed chat has one.
	if _, err := e.SetVersion(ctx, userID, chatID, FieldMessagesV, chat.MessagesV, chat.LastEditedTs); err != nil {
		return nil, err
	}
	if _, err := e.SetVersion(ctx, userID, chatID, FieldTitleV, chat.TitleV, chat.LastEditedTs); err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteListItem removes the chat's list-item hash.
func (e *Engine) DeleteListItem(ctx context.Context, userID, chatID string) error {
	return errors.Wrap(
		e.rdb.Del(ctx, ListItemDataKey(userID, chatID)).Err(),
		"delete list item")
}
