package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func aiMessage(id, chatID string, createdAt int64) *CachedMessage {
	return &CachedMessage{
		ID:               id,
		ChatID:           chatID,
		Role:             "assistant",
		EncryptedContent: "v1:ciphertext-" + id,
		CreatedAt:        createdAt,
		Status:           "synced",
	}
}

func TestSaveMessageAndBumpVersions(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)
	ctx := context.Background()

	v, err := engine.SaveMessageAndBumpVersions(ctx, "u1", "c1", aiMessage("m1", "c1", 1000), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// An explicit Records-sourced version wins over increment.
	v, err = engine.SaveMessageAndBumpVersions(ctx, "u1", "c1", aiMessage("m2", "c1", 2000), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	// Score tracks the newest message timestamp.
	score, ok, err := engine.ChatScore(ctx, "u1", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2000), score)

	// AI list is newest first.
	msgs, err := engine.AIMessages(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m2", msgs[0].ID)
	assert.Equal(t, "m1", msgs[1].ID)

	// The save also entered the chat into the AI hot set.
	hot, err := engine.AIHotChats(ctx, "u1")
	require.NoError(t, err)
	assert.Contains(t, hot, "c1")
}

func TestSaveMessageRespectsListBound(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AIListMaxLen = 2
	engine := newTestEngine(t, cfg, nil)
	ctx := context.Background()

	for i, id := range []string{"m1", "m2", "m3"} {
		_, err := engine.SaveMessageAndBumpVersions(ctx, "u1", "c1", aiMessage(id, "c1", int64(1000+i)), 0)
		require.NoError(t, err)
	}

	msgs, err := engine.AIMessages(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m3", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestSyncMessagesAreChronological(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)
	ctx := context.Background()

	require.NoError(t, engine.AppendSyncMessage(ctx, "u1", "c1", aiMessage("m1", "c1", 1000)))
	require.NoError(t, engine.AppendSyncMessage(ctx, "u1", "c1", aiMessage("m2", "c1", 2000)))

	msgs, err := engine.SyncMessages(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestDecodeSkipsBadEntries(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)
	ctx := context.Background()

	require.NoError(t, engine.AppendSyncMessage(ctx, "u1", "c1", aiMessage("m1", "c1", 1000)))
	require.NoError(t, engine.Client().RPush(ctx, SyncMessagesKey("u1", "c1"), "not json").Err())

	msgs, err := engine.SyncMessages(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestClearSyncMessages(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)
	ctx := context.Background()

	require.NoError(t, engine.AppendSyncMessage(ctx, "u1", "c1", aiMessage("m1", "c1", 1000)))
	require.NoError(t, engine.AppendSyncMessage(ctx, "u1", "c2", aiMessage("m2", "c2", 2000)))
	// Another user's list must survive.
	require.NoError(t, engine.AppendSyncMessage(ctx, "u2", "c1", aiMessage("m3", "c1", 3000)))

	require.NoError(t, engine.ClearSyncMessages(ctx, "u1"))

	for _, chatID := range []string{"c1", "c2"} {
		msgs, err := engine.SyncMessages(ctx, "u1", chatID)
		require.NoError(t, err)
		assert.Empty(t, msgs)
	}
	other, err := engine.SyncMessages(ctx, "u2", "c1")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}
