package kv

import (
	"context"
	"log/slog"
)

// TombstoneChat clears every cache key of a chat: sorted-set entry,
// versions, list-item, draft, both message lists, embeds, app-settings
// and the LRU entry. Each step is best effort; a transient failure is
// logged and the remaining steps still run so a partial tombstone never
// blocks the delete broadcast.
func (e *Engine) TombstoneChat(ctx context.Context, userID, chatID string) {
	steps := []struct {
		name string
		run  func() error
	}{
		{"remove from chat list", func() error { return e.RemoveChatFromList(ctx, userID, chatID) }},
		{"delete versions", func() error { return e.DeleteVersions(ctx, userID, chatID) }},
		{"delete list item", func() error { return e.DeleteListItem(ctx, userID, chatID) }},
		{"delete draft", func() error { return e.DeleteDraft(ctx, userID, chatID, userID) }},
		{"delete ai messages", func() error { return e.DeleteAIMessages(ctx, userID, chatID) }},
		{"delete sync messages", func() error { return e.rdb.Del(ctx, SyncMessagesKey(userID, chatID)).Err() }},
		{"delete embeds", func() error { return e.DeleteChatEmbeds(ctx, chatID) }},
		{"delete app settings", func() error { return e.DeleteAppSettings(ctx, chatID) }},
		{"delete pending permission", func() error { return e.DeletePendingPermission(ctx, chatID) }},
		{"remove from ai cache", func() error { return e.RemoveFromAICache(ctx, userID, chatID) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			slog.Warn("tombstone step failed", "step", step.name, "chat_id", chatID, logFieldErr(err))
		}
	}
}
