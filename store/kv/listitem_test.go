package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowingkitty/openmates-core/store"
)

func TestEnsureListItemReconstructsFromRecords(t *testing.T) {
	loader := &fakeChatLoader{chats: map[string]*store.Chat{
		"c1": {
			ID:               "c1",
			UserIDHash:       "hash-u1",
			MessagesV:        4,
			TitleV:           2,
			LastEditedTs:     5000,
			EncryptedTitle:   "enc-title",
			EncryptedChatKey: "enc-key",
			UnreadCount:      3,
		},
	}}
	engine := newTestEngine(t, DefaultConfig(), loader)
	ctx := context.Background()

	item, err := engine.EnsureListItem(ctx, "u1", "hash-u1", "c1")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "enc-title", item[ItemEncryptedTitle])
	assert.Equal(t, "enc-key", item[ItemEncryptedChatKey])
	assert.Equal(t, "3", item[ItemUnreadCount])

	// Reconstruction seeds the versions hash and the ordering score.
	versions, err := engine.Versions(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), versions[FieldMessagesV])
	assert.Equal(t, int64(2), versions[FieldTitleV])

	score, ok, err := engine.ChatScore(ctx, "u1", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5000), score)

	// Second call is a plain cache hit.
	item, err = engine.EnsureListItem(ctx, "u1", "hash-u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "enc-title", item[ItemEncryptedTitle])
}

func TestEnsureListItemUnknownChat(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), &fakeChatLoader{chats: map[string]*store.Chat{}})

	item, err := engine.EnsureListItem(context.Background(), "u1", "hash-u1", "missing")
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestEnsureListItemMissingChatKeyStillIncluded(t *testing.T) {
	loader := &fakeChatLoader{chats: map[string]*store.Chat{
		"c1": {ID: "c1", UserIDHash: "hash-u1", EncryptedTitle: "enc-title"},
	}}
	engine := newTestEngine(t, DefaultConfig(), loader)

	// A missing encrypted_chat_key is logged, never fatal: the chat is
	// still served so sibling devices can at least list it.
	item, err := engine.EnsureListItem(context.Background(), "u1", "hash-u1", "c1")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "enc-title", item[ItemEncryptedTitle])
	assert.Empty(t, item[ItemEncryptedChatKey])
}
