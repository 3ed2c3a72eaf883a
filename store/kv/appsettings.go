package kv

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// CacheAppSetting stores a confirmed app-settings/memories entry
// (re-encrypted under the vault key) and indexes it for the chat.
func (e *Engine) CacheAppSetting(ctx context.Context, chatID, appID, itemKey string, blob []byte) error {
	key := AppSettingKey(chatID, appID, itemKey)
	_, err := e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, blob, e.cfg.TTL.AppSettings)
		pipe.SAdd(ctx, AppSettingsIndexKey(chatID), key)
		pipe.Expire(ctx, AppSettingsIndexKey(chatID), e.cfg.TTL.AppSettings)
		return nil
	})
	return errors.Wrapf(err, "cache app setting %s/%s", appID, itemKey)
}

// AppSetting returns a cached entry, nil when absent.
func (e *Engine) AppSetting(ctx context.Context, chatID, appID, itemKey string) ([]byte, error) {
	raw, err := e.rdb.Get(ctx, AppSettingKey(chatID, appID, itemKey)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read app setting %s/%s", appID, itemKey)
	}
	return raw, nil
}

// DeleteAppSettings removes every cached app-settings entry of the chat
// plus the chat index.
func (e *Engine) DeleteAppSettings(ctx context.Context, chatID string) error {
	indexKey := AppSettingsIndexKey(chatID)
	keys, err := e.rdb.SMembers(ctx, indexKey).Result()
	if err != nil {
		return errors.Wrapf(err, "read app settings index for chat %s", chatID)
	}
	keys = append(keys, indexKey)
	return errors.Wrapf(
		e.rdb.Del(ctx, keys...).Err(),
		"delete app settings for chat %s", chatID)
}
