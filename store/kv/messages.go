package kv

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// CachedMessage is the opaque message record held in the AI and sync
// lists. Role is the only semantic field the core inspects; content is
// ciphertext (vault-encrypted in the AI list, client-encrypted in the
// sync list).
type CachedMessage struct {
	ID                string `json:"id"`
	ChatID            string `json:"chat_id"`
	Role              string `json:"role"`
	EncryptedContent  string `json:"encrypted_content"`
	CreatedAt         int64  `json:"created_at"`
	Status            string `json:"status"`
	EncryptedSender   string `json:"encrypted_sender,omitempty"`
	EncryptedCategory string `json:"encrypted_category,omitempty"`
	EncryptedModel    string `json:"encrypted_model,omitempty"`
	// Embed blobs the message references; indexed per chat so cascade
	// eviction can drop blobs no surviving chat still uses.
	EmbedIDs []string `json:"embed_ids,omitempty"`
}

// SaveMessageAndBumpVersions implements the atomic save contract for the
// AI cache: serialize the message, prepend it to the AI list, trim the
// list, set messages_v (explicitly when Records-sourced, by increment
// otherwise), move the sorted-set score to the message timestamp, and
// refresh TTLs. On any failure the whole operation is treated as failed
// and (0, err) is returned. A successful save also touches the AI LRU,
// which may cascade-evict the oldest chats.
//
// explicitMessagesV <= 0 means "increment".
func (e *Engine) SaveMessageAndBumpVersions(ctx context.Context, userID, chatID string, msg *CachedMessage, explicitMessagesV int64) (int64, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return 0, errors.Wrap(err, "serialize message")
	}

	listKey := AIMessagesKey(userID, chatID)
	_, err = e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, listKey, raw)
		pipe.LTrim(ctx, listKey, 0, e.cfg.AIListMaxLen-1)
		pipe.Expire(ctx, listKey, e.cfg.TTL.ChatMessages)
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "save ai message for chat %s", chatID)
	}

	var newV int64
	if explicitMessagesV > 0 {
		newV, err = e.SetVersion(ctx, userID, chatID, FieldMessagesV, explicitMessagesV, msg.CreatedAt)
	} else {
		newV, err = e.BumpVersion(ctx, userID, chatID, FieldMessagesV, msg.CreatedAt)
	}
	if err != nil {
		return 0, err
	}

	if len(msg.EmbedIDs) > 0 {
		if err := e.TrackEmbeds(ctx, chatID, msg.EmbedIDs); err != nil {
			slog.Warn("embed index update failed", "chat_id", chatID, logFieldErr(err))
		}
	}
	if err := e.TouchAICache(ctx, userID, chatID); err != nil {
		// The message is saved and versioned; a failed LRU touch only
		// delays eviction.
		slog.Warn("ai cache lru touch failed", "chat_id", chatID, logFieldErr(err))
	}
	return newV, nil
}

// AIMessages returns the chat's AI cache entries, newest first.
// Undecodable entries are skipped with a warning.
func (e *Engine) AIMessages(ctx context.Context, userID, chatID string) ([]*CachedMessage, error) {
	raws, err := e.rdb.LRange(ctx, AIMessagesKey(userID, chatID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "read ai messages for chat %s", chatID)
	}
	return decodeMessages(raws, chatID), nil
}

// AppendSyncMessage appends a client-encrypted entry to the chat's sync
// history, to be replayed verbatim to other devices.
func (e *Engine) AppendSyncMessage(ctx context.Context, userID, chatID string, msg *CachedMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "serialize sync message")
	}
	key := SyncMessagesKey(userID, chatID)
	_, err = e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, raw)
		pipe.Expire(ctx, key, e.cfg.TTL.SyncCache)
		return nil
	})
	return errors.Wrapf(err, "append sync message for chat %s", chatID)
}

// SyncMessages returns the chat's sync history in chronological order.
func (e *Engine) SyncMessages(ctx context.Context, userID, chatID string) ([]*CachedMessage, error) {
	raws, err := e.rdb.LRange(ctx, SyncMessagesKey(userID, chatID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "read sync messages for chat %s", chatID)
	}
	return decodeMessages(raws, chatID), nil
}

// ClearSyncMessages deletes every sync list of the user. Called after
// phase 3 completes; the sync cache only seeds cold clients.
func (e *Engine) ClearSyncMessages(ctx context.Context, userID string) error {
	var cursor uint64
	for {
		keys, next, err := e.rdb.Scan(ctx, cursor, syncMessagesPattern(userID), 100).Result()
		if err != nil {
			return errors.Wrap(err, "scan sync lists")
		}
		if len(keys) > 0 {
			if err := e.rdb.Del(ctx, keys...).Err(); err != nil {
				return errors.Wrap(err, "delete sync lists")
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// DeleteAIMessages removes a chat's AI cache list.
func (e *Engine) DeleteAIMessages(ctx context.Context, userID, chatID string) error {
	return errors.Wrap(
		e.rdb.Del(ctx, AIMessagesKey(userID, chatID)).Err(),
		"delete ai messages")
}

func decodeMessages(raws []string, chatID string) []*CachedMessage {
	out := make([]*CachedMessage, 0, len(raws))
	for _, raw := range raws {
		msg := &CachedMessage{}
		if err := json.Unmarshal([]byte(raw), msg); err != nil {
			slog.Warn("skipping undecodable cached message", "chat_id", chatID, logFieldErr(err))
			continue
		}
		out = append(out, msg)
	}
	return out
}
