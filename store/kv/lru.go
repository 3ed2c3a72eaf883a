package kv

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// TouchAICache marks a chat as the most recently active AI chat and
// enforces the LRU bound, cascade-evicting chats pushed past it.
func (e *Engine) TouchAICache(ctx context.Context, userID, chatID string) error {
	lruKey := AICacheLRUKey(userID)
	_, err := e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, lruKey, redis.Z{Score: float64(time.Now().Unix()), Member: chatID})
		pipe.Expire(ctx, lruKey, e.cfg.TTL.ChatMessages)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "touch ai cache lru")
	}
	return e.enforceLRUBound(ctx, userID)
}

// AIHotChats returns the chats currently in the AI hot set, most recent
// first.
func (e *Engine) AIHotChats(ctx context.Context, userID string) ([]string, error) {
	ids, err := e.rdb.ZRevRange(ctx, AICacheLRUKey(userID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read ai hot set")
	}
	return ids, nil
}

// enforceLRUBound evicts from the oldest end until the LRU holds at most
// TopNMessages chats. Each evicted chat loses its AI list, the embeds
// used only by it, its embed index and its app-settings entries.
func (e *Engine) enforceLRUBound(ctx context.Context, userID string) error {
	lruKey := AICacheLRUKey(userID)
	size, err := e.rdb.ZCard(ctx, lruKey).Result()
	if err != nil {
		return errors.Wrap(err, "read lru size")
	}
	excess := size - e.cfg.TopNMessages
	if excess <= 0 {
		return nil
	}

	// Oldest entries sit at the low-score end.
	evicted, err := e.rdb.ZRange(ctx, lruKey, 0, excess-1).Result()
	if err != nil {
		return errors.Wrap(err, "read lru overflow")
	}

	survivors, err := e.rdb.ZRange(ctx, lruKey, excess, -1).Result()
	if err != nil {
		return errors.Wrap(err, "read lru survivors")
	}

	for _, chatID := range evicted {
		if err := e.evictChat(ctx, userID, chatID, survivors); err != nil {
			// Eviction is best effort per chat; a failure leaves a
			// stale entry that the next touch retries.
			slog.Warn("ai cache eviction failed", "chat_id", chatID, logFieldErr(err))
			continue
		}
		if err := e.rdb.ZRem(ctx, lruKey, chatID).Err(); err != nil {
			slog.Warn("lru entry removal failed", "chat_id", chatID, logFieldErr(err))
		}
	}
	return nil
}

// evictChat deletes a chat's AI list and cascades to embeds that no
// surviving chat references, then drops its app-settings entries.
func (e *Engine) evictChat(ctx context.Context, userID, chatID string, survivors []string) error {
	if err := e.DeleteAIMessages(ctx, userID, chatID); err != nil {
		return err
	}

	orphans, err := e.embedsUniqueTo(ctx, chatID, survivors)
	if err != nil {
		return err
	}
	if len(orphans) > 0 {
		keys := make([]string, 0, len(orphans))
		for _, embedID := range orphans {
			keys = append(keys, EmbedKey(embedID))
		}
		if err := e.rdb.Del(ctx, keys...).Err(); err != nil {
			return errors.Wrap(err, "delete orphan embeds")
		}
	}
	if err := e.rdb.Del(ctx, EmbedIndexKey(chatID)).Err(); err != nil {
		return errors.Wrap(err, "delete embed index")
	}

	return e.DeleteAppSettings(ctx, chatID)
}

// embedsUniqueTo computes the embed ids referenced by chatID and by no
// chat in others, via a set difference against the union of the
// remaining index sets.
func (e *Engine) embedsUniqueTo(ctx context.Context, chatID string, others []string) ([]string, error) {
	keys := make([]string, 0, len(others)+1)
	keys = append(keys, EmbedIndexKey(chatID))
	for _, other := range others {
		if other == chatID {
			continue
		}
		keys = append(keys, EmbedIndexKey(other))
	}
	ids, err := e.rdb.SDiff(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "diff embed sets")
	}
	return ids, nil
}

// RemoveFromAICache drops a chat from the LRU without cascade; used by
// the tombstone path which deletes the dependent keys itself.
func (e *Engine) RemoveFromAICache(ctx context.Context, userID, chatID string) error {
	return errors.Wrap(
		e.rdb.ZRem(ctx, AICacheLRUKey(userID), chatID).Err(),
		"remove chat from ai cache lru")
}
