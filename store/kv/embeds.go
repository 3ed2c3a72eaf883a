package kv

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// StoreEmbed caches a vault-encrypted auxiliary blob and indexes it for
// the chat so cascade eviction can reference-count it.
func (e *Engine) StoreEmbed(ctx context.Context, chatID, embedID string, blob []byte) error {
	_, err := e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, EmbedKey(embedID), blob, e.cfg.TTL.Embed)
		pipe.SAdd(ctx, EmbedIndexKey(chatID), embedID)
		pipe.Expire(ctx, EmbedIndexKey(chatID), e.cfg.TTL.Embed)
		return nil
	})
	return errors.Wrapf(err, "store embed %s", embedID)
}

// TrackEmbeds adds embed references to a chat's index without storing
// blobs (the blobs may already exist via another chat).
func (e *Engine) TrackEmbeds(ctx context.Context, chatID string, embedIDs []string) error {
	if len(embedIDs) == 0 {
		return nil
	}
	members := make([]any, len(embedIDs))
	for i, id := range embedIDs {
		members[i] = id
	}
	_, err := e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, EmbedIndexKey(chatID), members...)
		pipe.Expire(ctx, EmbedIndexKey(chatID), e.cfg.TTL.Embed)
		return nil
	})
	return errors.Wrapf(err, "track embeds for chat %s", chatID)
}

// Embed returns a cached embed blob, nil when absent.
func (e *Engine) Embed(ctx context.Context, embedID string) ([]byte, error) {
	raw, err := e.rdb.Get(ctx, EmbedKey(embedID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read embed %s", embedID)
	}
	return raw, nil
}

// ChatEmbeds returns the embed ids referenced by the chat.
func (e *Engine) ChatEmbeds(ctx context.Context, chatID string) ([]string, error) {
	ids, err := e.rdb.SMembers(ctx, EmbedIndexKey(chatID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "read embed index for chat %s", chatID)
	}
	return ids, nil
}

// DeleteChatEmbeds removes every embed referenced by the chat plus the
// index itself. Used by the tombstone path, which does not need the
// reference-counted cascade.
func (e *Engine) DeleteChatEmbeds(ctx context.Context, chatID string) error {
	ids, err := e.ChatEmbeds(ctx, chatID)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, EmbedKey(id))
	}
	keys = append(keys, EmbedIndexKey(chatID))
	return errors.Wrapf(e.rdb.Del(ctx, keys...).Err(), "delete embeds for chat %s", chatID)
}
