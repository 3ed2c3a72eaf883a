package worker

// AskSkillRequest is the job payload that starts (or continues) an AI
// task for a chat. Message content travels as ciphertext only; the user
// id travels as its hash.
type AskSkillRequest struct {
	ChatID           string `json:"chat_id"`
	MessageID        string `json:"message_id"`
	UserID           string `json:"user_id"`
	UserIDHash       string `json:"user_id_hash"`
	MateID           string `json:"mate_id,omitempty"`
	TaskID           string `json:"task_id"`
	EncryptedContent string `json:"encrypted_content,omitempty"`
	ActiveFocusID    string `json:"active_focus_id,omitempty"`
	ChatHasTitle     bool   `json:"chat_has_title"`
	IsIncognito      bool   `json:"is_incognito"`

	// Continuation after a granted permission request. RequestedKeys
	// tells the preprocessor which app-settings entries are already
	// staged in the cache.
	IsAppSettingsMemoriesContinuation bool     `json:"is_app_settings_memories_continuation,omitempty"`
	RequestedKeys                     []string `json:"requested_keys,omitempty"`
}

// RevokeTaskRequest asks the runner to cancel a running AI task. The
// worker acknowledges by publishing a final stream chunk with
// interrupted_by_revocation set.
type RevokeTaskRequest struct {
	TaskID string `json:"task_id"`
	ChatID string `json:"chat_id"`
}

// PendingPermissionRequest is the minimal context stored while the AI
// waits for the user to release settings or memories. It deliberately
// excludes message history.
type PendingPermissionRequest struct {
	RequestID     string   `json:"request_id"`
	ChatID        string   `json:"chat_id"`
	MessageID     string   `json:"message_id"`
	UserID        string   `json:"user_id"`
	UserIDHash    string   `json:"user_id_hash"`
	MateID        string   `json:"mate_id,omitempty"`
	ActiveFocusID string   `json:"active_focus_id,omitempty"`
	ChatHasTitle  bool     `json:"chat_has_title"`
	IsIncognito   bool     `json:"is_incognito"`
	RequestedKeys []string `json:"requested_keys"`
	TaskID        string   `json:"task_id"`
}
