package kv

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Draft hash field names. EncryptedDraftMD holds ciphertext or the
// literal "null" tombstone the client uses to blank a draft.
const (
	draftFieldContent = "encrypted_draft_md"
	draftFieldVersion = "draft_v"
)

// Draft is a per-(user, chat) draft cache entry.
type Draft struct {
	EncryptedDraftMD string
	DraftV           int64
}

// SetDraft stores the draft content, bumps the user's dynamic draft
// version in the chat's versions hash, and returns the new version.
func (e *Engine) SetDraft(ctx context.Context, userID, chatID, draftUserID, encryptedDraftMD string) (int64, error) {
	newV, err := e.BumpVersion(ctx, userID, chatID, DraftVersionField(draftUserID), time.Now().Unix())
	if err != nil {
		return 0, err
	}

	key := DraftKey(userID, chatID)
	_, err = e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, draftFieldContent, encryptedDraftMD, draftFieldVersion, newV)
		pipe.Expire(ctx, key, e.cfg.TTL.UserDraft)
		return nil
	})
	if err != nil {
		return 0, errors.Wrapf(err, "store draft for chat %s", chatID)
	}
	return newV, nil
}

// Draft returns the cached draft, or nil when absent.
func (e *Engine) Draft(ctx context.Context, userID, chatID string) (*Draft, error) {
	raw, err := e.rdb.HGetAll(ctx, DraftKey(userID, chatID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "read draft for chat %s", chatID)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	draft := &Draft{EncryptedDraftMD: raw[draftFieldContent]}
	if v, err := strconv.ParseInt(raw[draftFieldVersion], 10, 64); err == nil {
		draft.DraftV = v
	}
	return draft, nil
}

// DeleteDraft removes the dedicated draft key and the user's dynamic
// draft version field from the chat's versions hash.
func (e *Engine) DeleteDraft(ctx context.Context, userID, chatID, draftUserID string) error {
	_, err := e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, DraftKey(userID, chatID))
		pipe.HDel(ctx, ChatVersionsKey(userID, chatID), DraftVersionField(draftUserID))
		return nil
	})
	return errors.Wrapf(err, "delete draft for chat %s", chatID)
}
