package kv

import "fmt"

// Version hash field names. The draft version field is dynamic, one per
// user holding a draft in the chat.
const (
	FieldMessagesV    = "messages_v"
	FieldTitleV       = "title_v"
	FieldLastEditedTs = "last_edited_overall_timestamp"
)

// DraftVersionField returns the dynamic per-user draft version field.
func DraftVersionField(userID string) string {
	return "user_draft_v:" + userID
}

// Key formatters. Keys under "u:{user}" are owned by exactly one user;
// chat-scoped task/queue/embed keys are global because workers address
// them without user context.

func ChatIDsVersionsKey(userID string) string {
	return fmt.Sprintf("u:%s:chat_ids_versions", userID)
}

func ChatVersionsKey(userID, chatID string) string {
	return fmt.Sprintf("u:%s:chat:%s:versions", userID, chatID)
}

func ListItemDataKey(userID, chatID string) string {
	return fmt.Sprintf("u:%s:chat:%s:list_item_data", userID, chatID)
}

func DraftKey(userID, chatID string) string {
	return fmt.Sprintf("u:%s:chat:%s:draft", userID, chatID)
}

// AIMessagesKey addresses the vault-encrypted AI-inference list
// (newest first). It must never be read where client-encrypted entries
// are expected; use SyncMessagesKey for those.
func AIMessagesKey(userID, chatID string) string {
	return fmt.Sprintf("u:%s:chat:%s:messages:ai", userID, chatID)
}

// SyncMessagesKey addresses the client-encrypted sync-history list
// (chronological), replayed verbatim to sibling devices.
func SyncMessagesKey(userID, chatID string) string {
	return fmt.Sprintf("u:%s:chat:%s:messages:sync", userID, chatID)
}

// syncMessagesPattern matches every sync list of a user, for wholesale
// clearing after phase 3.
func syncMessagesPattern(userID string) string {
	return fmt.Sprintf("u:%s:chat:*:messages:sync", userID)
}

func AICacheLRUKey(userID string) string {
	return fmt.Sprintf("u:%s:ai_cache_lru", userID)
}

func LastOpenedChatKey(userID string) string {
	return fmt.Sprintf("u:%s:last_opened_chat", userID)
}

func ActiveTaskKey(chatID string) string {
	return fmt.Sprintf("chat:%s:active_ai_task", chatID)
}

func TaskChatKey(taskID string) string {
	return fmt.Sprintf("active_task:%s:chat_id", taskID)
}

func MessageQueueKey(chatID string) string {
	return fmt.Sprintf("chat:%s:message_queue", chatID)
}

func EmbedIndexKey(chatID string) string {
	return fmt.Sprintf("chat:%s:embed_ids", chatID)
}

func EmbedKey(embedID string) string {
	return fmt.Sprintf("embed:%s", embedID)
}

func AppSettingKey(chatID, appID, itemKey string) string {
	return fmt.Sprintf("chat:%s:app_settings_memories:%s:%s", chatID, appID, itemKey)
}

func AppSettingsIndexKey(chatID string) string {
	return fmt.Sprintf("chat:%s:app_settings_memories_index", chatID)
}

func PendingPermissionKey(chatID string) string {
	return fmt.Sprintf("pending_app_settings_memories_request:%s", chatID)
}

// Pub/sub channel names. The separator inconsistency (":" vs "::") is
// part of the wire contract with workers.

func UserCacheEventsChannel(userID string) string {
	return "user_cache_events:" + userID
}

func ChatStreamChannel(chatID string) string {
	return "chat_stream::" + chatID
}

func TypingIndicatorChannel(userID string) string {
	return "ai_typing_indicator_events::" + userID
}

func ChatUpdatesChannel(userID string) string {
	return "chat_updates::" + userID
}

func MessagePersistedChannel(userID string) string {
	return "ai_message_persisted::" + userID
}

func UserUpdatesChannel(userID string) string {
	return "user_updates::" + userID
}
