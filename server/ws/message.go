package ws

import "encoding/json"

// Frame is the envelope of every websocket exchange, both directions:
// {"type": string, "payload": object}.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound is a frame under construction; Payload is marshalled as-is.
type Outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Client -> server message types.
const (
	TypeInitialSyncRequest            = "initial_sync_request"
	TypeUpdateDraft                   = "update_draft"
	TypeUpdateTitle                   = "update_title"
	TypeChatMessageAdded              = "chat_message_added"
	TypeDeleteChat                    = "delete_chat"
	TypeDeleteDraft                   = "delete_draft"
	TypeGetChatMessages               = "get_chat_messages"
	TypeRequestChatContentBatch       = "request_chat_content_batch"
	TypeSetActiveChat                 = "set_active_chat"
	TypeCancelAITask                  = "cancel_ai_task"
	TypeAIResponseCompleted           = "ai_response_completed"
	TypeEncryptedChatMetadata         = "encrypted_chat_metadata"
	TypeUpdatePostProcessingMetadata  = "update_post_processing_metadata"
	TypePhasedSyncRequest             = "phased_sync_request"
	TypeSyncStatusRequest             = "sync_status_request"
	TypeAppSettingsMemoriesConfirmed  = "app_settings_memories_confirmed"
	TypeScrollPositionUpdate          = "scroll_position_update"
	TypeChatReadStatusUpdate          = "chat_read_status_update"
	TypePing                          = "ping"
)

// Server -> client message types.
const (
	TypeInitialSyncResponse             = "initial_sync_response"
	TypeInitialSyncError                = "initial_sync_error"
	TypeChatMessagesResponse            = "chat_messages_response"
	TypeChatContentBatchResponse        = "chat_content_batch_response"
	TypeActiveChatSetAck                = "active_chat_set_ack"
	TypeAIResponseStorageConfirmed      = "ai_response_storage_confirmed"
	TypeEncryptedMetadataStored         = "encrypted_metadata_stored"
	TypePostProcessingMetadataStored    = "post_processing_metadata_stored"
	TypeChatMessageConfirmed            = "chat_message_confirmed"
	TypeDraftDeleteReceipt              = "draft_delete_receipt"
	TypeDraftUpdated                    = "draft_updated"
	TypeDraftDeleted                    = "draft_deleted"
	TypeChatDeleted                     = "chat_deleted"
	TypeChatTitleUpdated                = "chat_title_updated"
	TypeAIMessageUpdate                 = "ai_message_update"
	TypeAIBackgroundResponseCompleted   = "ai_background_response_completed"
	TypeAITypingStarted                 = "ai_typing_started"
	TypeAITypingEnded                   = "ai_typing_ended"
	TypePostProcessingCompleted         = "post_processing_completed"
	TypeSkillExecutionStatus            = "skill_execution_status"
	TypeSyncStatusResponse              = "sync_status_response"
	TypePhase1LastChatReady             = "phase_1_last_chat_ready"
	TypePhase2Last20ChatsReady          = "phase_2_last_20_chats_ready"
	TypePhase3Last100ChatsReady         = "phase_3_last_100_chats_ready"
	TypeCachePrimed                     = "cache_primed"
	TypeRequestAppSettingsMemories      = "request_app_settings_memories"
	TypePhasedSyncComplete              = "phased_sync_complete"
	TypePong                            = "pong"
	TypeError                           = "error"
)

// ErrorPayload is the uniform error frame payload.
type ErrorPayload struct {
	Message string `json:"message"`
	ChatID  string `json:"chat_id,omitempty"`
}

// ChatVersionsPayload carries a chat's component versions on the wire.
type ChatVersionsPayload struct {
	MessagesV int64 `json:"messages_v"`
	TitleV    int64 `json:"title_v"`
	DraftV    int64 `json:"draft_v,omitempty"`
}

// InitialSyncRequest seeds delta computation against client state.
// ChatIDs and ChatCount are required; pointer fields distinguish absent
// from empty.
type InitialSyncRequest struct {
	ChatIDs             []string                       `json:"chat_ids"`
	ChatCount           *int                           `json:"chat_count"`
	ChatVersions        map[string]ChatVersionsPayload `json:"chat_versions,omitempty"`
	ImmediateViewChatID string                         `json:"immediate_view_chat_id,omitempty"`
	PendingMessageIDs   []string                       `json:"pending_message_ids,omitempty"`
}

// ChatSyncData is one entry of chats_to_add_or_update.
type ChatSyncData struct {
	Type           string              `json:"type"` // "new_chat" or "update"
	ChatID         string              `json:"chat_id"`
	Versions       ChatVersionsPayload `json:"versions"`
	Title          string              `json:"title,omitempty"`
	Draft          string              `json:"draft,omitempty"`
	ListItem       map[string]string   `json:"list_item,omitempty"`
	Messages       []json.RawMessage   `json:"messages,omitempty"`
	LastEditedTs   int64               `json:"last_edited_overall_timestamp"`
}

// InitialSyncResponse is the delta against the client's local state.
type InitialSyncResponse struct {
	ChatIDsToDelete     []string       `json:"chat_ids_to_delete"`
	ChatsToAddOrUpdate  []ChatSyncData `json:"chats_to_add_or_update"`
	ServerChatOrder     []string       `json:"server_chat_order"`
	ServerChatCount     int64          `json:"server_chat_count"`
}

// UpdateDraftRequest updates or blanks a per-chat draft.
type UpdateDraftRequest struct {
	ChatID           string  `json:"chat_id"`
	EncryptedDraftMD *string `json:"encrypted_draft_md,omitempty"`
}

// UpdateTitleRequest replaces the encrypted chat title.
type UpdateTitleRequest struct {
	ChatID         string `json:"chat_id"`
	EncryptedTitle string `json:"encrypted_title"`
}

// ChatMessageAddedRequest persists a client-encrypted user message.
// The field casing follows the established wire contract.
type ChatMessageAddedRequest struct {
	ChatID           string `json:"chatId"`
	MessageID        string `json:"message_id"`
	EncryptedContent string `json:"encrypted_content"`
	SenderName       string `json:"sender_name"`
	CreatedAt        int64  `json:"created_at"`
	// Plaintext content is never accepted; the handler strips it.
	Content string `json:"content,omitempty"`
}

// DeleteChatRequest tombstones a chat.
type DeleteChatRequest struct {
	ChatID string `json:"chatId"`
}

// DeleteDraftRequest removes a draft everywhere.
type DeleteDraftRequest struct {
	ChatID string `json:"chatId"`
}

// GetChatMessagesRequest fetches one chat's sync history.
type GetChatMessagesRequest struct {
	ChatID string `json:"chat_id"`
}

// RequestChatContentBatch fetches messages and versions for many chats.
type RequestChatContentBatch struct {
	ChatIDs []string `json:"chat_ids"`
}

// ChatContentBatchVersions carries per-chat version info in the batch
// response.
type ChatContentBatchVersions struct {
	MessagesV          int64 `json:"messages_v"`
	ServerMessageCount int64 `json:"server_message_count"`
}

// ChatContentBatchResponse is the batch fetch reply.
type ChatContentBatchResponse struct {
	MessagesByChatID map[string][]json.RawMessage        `json:"messages_by_chat_id"`
	VersionsByChatID map[string]ChatContentBatchVersions `json:"versions_by_chat_id"`
	PartialError     bool                                `json:"partial_error,omitempty"`
}

// SetActiveChatRequest updates the device's focused chat. Empty ChatID
// clears it.
type SetActiveChatRequest struct {
	ChatID string `json:"chat_id,omitempty"`
}

// CancelAITaskRequest revokes a running AI task.
type CancelAITaskRequest struct {
	TaskID string `json:"task_id"`
}

// AIResponseMessage is the client-encrypted assistant message the client
// sends back for persistence.
type AIResponseMessage struct {
	MessageID        string `json:"message_id"`
	Role             string `json:"role"`
	EncryptedContent string `json:"encrypted_content"`
	CreatedAt        int64  `json:"created_at"`
	EncryptedModel   string `json:"encrypted_model,omitempty"`
	Content          string `json:"content,omitempty"`
}

// AIResponseCompletedRequest persists the assistant turn.
type AIResponseCompletedRequest struct {
	ChatID   string               `json:"chat_id"`
	TaskID   string               `json:"task_id,omitempty"`
	Message  *AIResponseMessage   `json:"message"`
	Versions *ChatVersionsPayload `json:"versions,omitempty"`
}

// EncryptedChatMetadataVersions is the required versions block of the
// metadata write path.
type EncryptedChatMetadataVersions struct {
	MessagesV                  *int64 `json:"messages_v"`
	LastEditedOverallTimestamp *int64 `json:"last_edited_overall_timestamp"`
}

// EncryptedChatMetadataRequest is the zero-knowledge write path for user
// messages and per-chat metadata.
type EncryptedChatMetadataRequest struct {
	ChatID            string                         `json:"chat_id"`
	EncryptedTitle    *string                        `json:"encrypted_title,omitempty"`
	EncryptedIcon     *string                        `json:"encrypted_icon,omitempty"`
	EncryptedCategory *string                        `json:"encrypted_category,omitempty"`
	EncryptedChatKey  *string                        `json:"encrypted_chat_key,omitempty"`
	EncryptedMessage  *json.RawMessage               `json:"encrypted_message,omitempty"`
	Versions          *EncryptedChatMetadataVersions `json:"versions"`
	Content           string                         `json:"content,omitempty"`
}

// UpdatePostProcessingMetadataRequest stores worker-produced encrypted
// summaries, tags and suggestions.
type UpdatePostProcessingMetadataRequest struct {
	ChatID                        string   `json:"chat_id"`
	EncryptedFollowUpSuggestions  *string  `json:"encrypted_follow_up_suggestions,omitempty"`
	EncryptedNewChatSuggestions   []string `json:"encrypted_new_chat_suggestions,omitempty"`
	EncryptedChatSummary          *string  `json:"encrypted_chat_summary,omitempty"`
	EncryptedChatTags             *string  `json:"encrypted_chat_tags,omitempty"`
}

// Phased sync phases.
const (
	PhaseOne   = "phase1"
	PhaseTwo   = "phase2"
	PhaseThree = "phase3"
	PhaseAll   = "all"
)

// PhasedSyncRequest triggers background cache priming phases.
type PhasedSyncRequest struct {
	Phase               string `json:"phase"`
	ImmediateViewChatID string `json:"immediate_view_chat_id,omitempty"`
}

// SyncStatusResponse reports priming state.
type SyncStatusResponse struct {
	Primed    bool  `json:"primed"`
	ChatCount int64 `json:"chat_count"`
}

// AppSettingsMemoryEntry is one user-confirmed settings/memories item.
type AppSettingsMemoryEntry struct {
	AppID     string `json:"app_id"`
	ItemKey   string `json:"item_key"`
	Plaintext string `json:"plaintext"`
}

// AppSettingsMemoriesConfirmed releases requested settings/memories to
// the AI pipeline.
type AppSettingsMemoriesConfirmed struct {
	ChatID             string                   `json:"chat_id"`
	RequestID          string                   `json:"request_id,omitempty"`
	Rejected           bool                     `json:"rejected,omitempty"`
	AppSettingsMemories []AppSettingsMemoryEntry `json:"app_settings_memories"`
}

// ScrollPositionUpdate persists the device's scroll anchor.
type ScrollPositionUpdate struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
}

// ChatReadStatusUpdate persists the unread counter.
type ChatReadStatusUpdate struct {
	ChatID      string `json:"chat_id"`
	UnreadCount int64  `json:"unread_count"`
}
