package kv

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBumpVersionUpdatesScore(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)
	ctx := context.Background()

	v, err := engine.BumpVersion(ctx, "u1", "c1", FieldMessagesV, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = engine.BumpVersion(ctx, "u1", "c1", FieldMessagesV, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	// Ordering score always equals the last-edited timestamp.
	score, ok, err := engine.ChatScore(ctx, "u1", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2000), score)

	versions, err := engine.Versions(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), versions[FieldMessagesV])
	assert.Equal(t, int64(2000), versions[FieldLastEditedTs])
}

func TestSetVersionIsMonotonic(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)
	ctx := context.Background()

	v, err := engine.SetVersion(ctx, "u1", "c1", FieldTitleV, 5, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	// An explicit set to a lower value keeps the stored value.
	v, err = engine.SetVersion(ctx, "u1", "c1", FieldTitleV, 3, 1100)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	v, err = engine.SetVersion(ctx, "u1", "c1", FieldTitleV, 9, 1200)
	require.NoError(t, err)
	assert.Equal(t, int64(9), v)

	stored, err := engine.Version(ctx, "u1", "c1", FieldTitleV)
	require.NoError(t, err)
	assert.Equal(t, int64(9), stored)
}

func TestChatOrderIsRecencyFirst(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)
	ctx := context.Background()

	for _, chat := range []struct {
		id string
		ts int64
	}{
		{"old", 100},
		{"newest", 300},
		{"middle", 200},
	} {
		_, err := engine.BumpVersion(ctx, "u1", chat.id, FieldMessagesV, chat.ts)
		require.NoError(t, err)
	}

	order, err := engine.ChatOrder(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"newest", "middle", "old"}, order)

	top, err := engine.TopChats(ctx, "u1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"newest", "middle"}, top)

	count, err := engine.ChatCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestRemoveChatFromList(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)
	ctx := context.Background()

	_, err := engine.BumpVersion(ctx, "u1", "c1", FieldMessagesV, 100)
	require.NoError(t, err)
	require.NoError(t, engine.RemoveChatFromList(ctx, "u1", "c1"))

	_, ok, err := engine.ChatScore(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDraftVersionLifecycle(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)
	ctx := context.Background()

	v, err := engine.SetDraft(ctx, "u1", "c1", "u1", "ciphertext")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	draft, err := engine.Draft(ctx, "u1", "c1")
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, "ciphertext", draft.EncryptedDraftMD)
	assert.Equal(t, int64(1), draft.DraftV)

	versions, err := engine.Versions(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), versions[DraftVersionField("u1")])

	require.NoError(t, engine.DeleteDraft(ctx, "u1", "c1", "u1"))

	draft, err = engine.Draft(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Nil(t, draft)

	versions, err = engine.Versions(ctx, "u1", "c1")
	require.NoError(t, err)
	_, has := versions[DraftVersionField("u1")]
	assert.False(t, has)
}

func TestLastOpenedChat(t *testing.T) {
	engine := newTestEngine(t, DefaultConfig(), nil)
	ctx := context.Background()

	last, err := engine.LastOpenedChat(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, last)

	require.NoError(t, engine.SetLastOpenedChat(ctx, "u1", "c7"))
	last, err = engine.LastOpenedChat(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "c7", last)
}
