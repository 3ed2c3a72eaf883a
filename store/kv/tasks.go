package kv

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// drainQueueScript atomically reads and deletes a chat's queued AI
// requests so two finishing tasks can never both claim the queue.
var drainQueueScript = redis.NewScript(`
local items = redis.call('LRANGE', KEYS[1], 0, -1)
redis.call('DEL', KEYS[1])
return items
`)

// clearTaskScript deletes the forward mapping only when it still points
// at the finishing task, plus the reverse mapping. A newer task that
// already claimed the chat is left untouched.
var clearTaskScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
	redis.call('DEL', KEYS[1])
end
redis.call('DEL', KEYS[2])
return current
`)

// SetActiveTask records the single-flight mapping chat -> task and the
// reverse task -> chat, both TTL-bounded. It returns false without
// writing when the chat already has a live task.
func (e *Engine) SetActiveTask(ctx context.Context, chatID, taskID string) (bool, error) {
	ok, err := e.rdb.SetNX(ctx, ActiveTaskKey(chatID), taskID, e.cfg.TTL.TaskMapping).Result()
	if err != nil {
		return false, errors.Wrapf(err, "claim active task for chat %s", chatID)
	}
	if !ok {
		return false, nil
	}
	if err := e.rdb.Set(ctx, TaskChatKey(taskID), chatID, e.cfg.TTL.TaskMapping).Err(); err != nil {
		return false, errors.Wrapf(err, "store reverse mapping for task %s", taskID)
	}
	return true, nil
}

// ActiveTask returns the task currently running for the chat, "" when idle.
func (e *Engine) ActiveTask(ctx context.Context, chatID string) (string, error) {
	taskID, err := e.rdb.Get(ctx, ActiveTaskKey(chatID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "read active task for chat %s", chatID)
	}
	return taskID, nil
}

// ChatForTask resolves the reverse mapping, "" when unknown.
func (e *Engine) ChatForTask(ctx context.Context, taskID string) (string, error) {
	chatID, err := e.rdb.Get(ctx, TaskChatKey(taskID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "resolve chat for task %s", taskID)
	}
	return chatID, nil
}

// ClearActiveTask removes both mappings for a finished or revoked task.
func (e *Engine) ClearActiveTask(ctx context.Context, chatID, taskID string) error {
	err := clearTaskScript.Run(ctx, e.rdb,
		[]string{ActiveTaskKey(chatID), TaskChatKey(taskID)}, taskID).Err()
	if err != nil && err != redis.Nil {
		return errors.Wrapf(err, "clear active task for chat %s", chatID)
	}
	return nil
}

// EnqueueRequest appends a serialized AI request to the chat's queue
// while a task is active.
func (e *Engine) EnqueueRequest(ctx context.Context, chatID string, raw []byte) error {
	key := MessageQueueKey(chatID)
	_, err := e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, raw)
		pipe.Expire(ctx, key, e.cfg.TTL.MessageQueue)
		return nil
	})
	return errors.Wrapf(err, "enqueue request for chat %s", chatID)
}

// DrainQueue atomically removes and returns every queued request for the
// chat, oldest first.
func (e *Engine) DrainQueue(ctx context.Context, chatID string) ([][]byte, error) {
	res, err := drainQueueScript.Run(ctx, e.rdb, []string{MessageQueueKey(chatID)}).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrapf(err, "drain queue for chat %s", chatID)
	}
	items, _ := res.([]any)
	out := make([][]byte, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, []byte(s))
		}
	}
	return out, nil
}

// QueueLength returns the number of queued requests for the chat.
func (e *Engine) QueueLength(ctx context.Context, chatID string) (int64, error) {
	n, err := e.rdb.LLen(ctx, MessageQueueKey(chatID)).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "read queue length for chat %s", chatID)
	}
	return n, nil
}

// StorePendingPermission saves the minimal continuation context while
// the AI waits for the user to release settings or memories.
func (e *Engine) StorePendingPermission(ctx context.Context, chatID string, blob []byte) error {
	return errors.Wrapf(
		e.rdb.Set(ctx, PendingPermissionKey(chatID), blob, e.cfg.TTL.PendingPermission).Err(),
		"store pending permission for chat %s", chatID)
}

// PendingPermission returns the stored continuation context, nil when
// absent or expired.
func (e *Engine) PendingPermission(ctx context.Context, chatID string) ([]byte, error) {
	raw, err := e.rdb.Get(ctx, PendingPermissionKey(chatID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read pending permission for chat %s", chatID)
	}
	return raw, nil
}

// DeletePendingPermission removes the continuation context.
func (e *Engine) DeletePendingPermission(ctx context.Context, chatID string) error {
	return errors.Wrapf(
		e.rdb.Del(ctx, PendingPermissionKey(chatID)).Err(),
		"delete pending permission for chat %s", chatID)
}
