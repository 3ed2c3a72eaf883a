package kv

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// setVersionScript sets a version field only if the new value is greater
// than the current one, returning the authoritative value. Explicit sets
// come from Records-sourced state and must never lower a version a
// concurrent handler already bumped past.
var setVersionScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local val = tonumber(ARGV[2])
if val > cur then
	redis.call('HSET', KEYS[1], ARGV[1], val)
	return val
end
return cur
`)

// BumpVersion increments a component version and moves the chat's
// sorted-set score to editedTs in one round trip. It returns the new
// version value. The score update and the version bump ride the same
// pipeline so a reader never observes a new score without the version
// hash having been touched; readers that observe a new score but stale
// content may retry after a bounded delay.
func (e *Engine) BumpVersion(ctx context.Context, userID, chatID, field string, editedTs int64) (int64, error) {
	versionsKey := ChatVersionsKey(userID, chatID)
	listKey := ChatIDsVersionsKey(userID)

	var incr *redis.IntCmd
	_, err := e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.HIncrBy(ctx, versionsKey, field, 1)
		pipe.HSet(ctx, versionsKey, FieldLastEditedTs, editedTs)
		pipe.ZAdd(ctx, listKey, redis.Z{Score: float64(editedTs), Member: chatID})
		pipe.Expire(ctx, versionsKey, e.cfg.TTL.ChatVersions)
		pipe.Expire(ctx, listKey, e.cfg.TTL.ChatIDsVersions)
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "bump %s for chat %s", field, chatID)
	}
	return incr.Val(), nil
}

// SetVersion sets a component version to an explicit (Records-sourced)
// value. Monotonicity is enforced server-side: the stored value never
// decreases. The returned value is the authoritative version.
func (e *Engine) SetVersion(ctx context.Context, userID, chatID, field string, value, editedTs int64) (int64, error) {
	versionsKey := ChatVersionsKey(userID, chatID)
	listKey := ChatIDsVersionsKey(userID)

	res, err := setVersionScript.Run(ctx, e.rdb, []string{versionsKey}, field, value).Int64()
	if err != nil {
		return 0, errors.Wrapf(err, "set %s for chat %s", field, chatID)
	}

	_, err = e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, versionsKey, FieldLastEditedTs, editedTs)
		pipe.ZAdd(ctx, listKey, redis.Z{Score: float64(editedTs), Member: chatID})
		pipe.Expire(ctx, versionsKey, e.cfg.TTL.ChatVersions)
		pipe.Expire(ctx, listKey, e.cfg.TTL.ChatIDsVersions)
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "update score for chat %s", chatID)
	}
	return res, nil
}

// Versions returns every version field of a chat as int64 values.
// Missing hash yields an empty map.
func (e *Engine) Versions(ctx context.Context, userID, chatID string) (map[string]int64, error) {
	raw, err := e.rdb.HGetAll(ctx, ChatVersionsKey(userID, chatID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "read versions for chat %s", chatID)
	}
	out := make(map[string]int64, len(raw))
	for field, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[field] = n
	}
	return out, nil
}

// Version returns a single version field, 0 when absent.
func (e *Engine) Version(ctx context.Context, userID, chatID, field string) (int64, error) {
	v, err := e.rdb.HGet(ctx, ChatVersionsKey(userID, chatID), field).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "read version %s for chat %s", field, chatID)
	}
	return v, nil
}

// DeleteDraftVersion removes a user's dynamic draft version field.
func (e *Engine) DeleteDraftVersion(ctx context.Context, userID, chatID, draftUserID string) error {
	return errors.Wrap(
		e.rdb.HDel(ctx, ChatVersionsKey(userID, chatID), DraftVersionField(draftUserID)).Err(),
		"delete draft version")
}

// ChatOrder returns the user's chat ids in recency order (most recently
// edited first).
func (e *Engine) ChatOrder(ctx context.Context, userID string) ([]string, error) {
	ids, err := e.rdb.ZRevRange(ctx, ChatIDsVersionsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read chat order")
	}
	return ids, nil
}

// TopChats returns the n most recently edited chat ids.
func (e *Engine) TopChats(ctx context.Context, userID string, n int64) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	ids, err := e.rdb.ZRevRange(ctx, ChatIDsVersionsKey(userID), 0, n-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "read top chats")
	}
	return ids, nil
}

// ChatCount returns the number of chats in the user's sorted set.
func (e *Engine) ChatCount(ctx context.Context, userID string) (int64, error) {
	n, err := e.rdb.ZCard(ctx, ChatIDsVersionsKey(userID)).Result()
	if err != nil {
		return 0, errors.Wrap(err, "count chats")
	}
	return n, nil
}

// ChatScore returns the ordering score of a chat, with ok=false when the
// chat is not in the sorted set.
func (e *Engine) ChatScore(ctx context.Context, userID, chatID string) (int64, bool, error) {
	score, err := e.rdb.ZScore(ctx, ChatIDsVersionsKey(userID), chatID).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrapf(err, "read score for chat %s", chatID)
	}
	return int64(score), true, nil
}

// RemoveChatFromList removes a chat from the user's sorted set.
func (e *Engine) RemoveChatFromList(ctx context.Context, userID, chatID string) error {
	return errors.Wrap(
		e.rdb.ZRem(ctx, ChatIDsVersionsKey(userID), chatID).Err(),
		"remove chat from list")
}

// SetLastOpenedChat records the chat the user most recently focused;
// phase-1 priming reads it back.
func (e *Engine) SetLastOpenedChat(ctx context.Context, userID, chatID string) error {
	return errors.Wrap(
		e.rdb.Set(ctx, LastOpenedChatKey(userID), chatID, e.cfg.TTL.ChatIDsVersions).Err(),
		"set last opened chat")
}

// LastOpenedChat returns the user's last focused chat id, or "".
func (e *Engine) LastOpenedChat(ctx context.Context, userID string) (string, error) {
	v, err := e.rdb.Get(ctx, LastOpenedChatKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "read last opened chat")
	}
	return v, nil
}

// DeleteVersions removes a chat's versions hash.
func (e *Engine) DeleteVersions(ctx context.Context, userID, chatID string) error {
	return errors.Wrap(
		e.rdb.Del(ctx, ChatVersionsKey(userID, chatID)).Err(),
		"delete versions")
}
