package ws

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowingkitty/openmates-core/crypto"
	"github.com/glowingkitty/openmates-core/internal/profile"
	"github.com/glowingkitty/openmates-core/server/auth"
	"github.com/glowingkitty/openmates-core/server/dispatch"
	"github.com/glowingkitty/openmates-core/store"
	"github.com/glowingkitty/openmates-core/store/kv"
)

// fakeDriver is an in-memory Records store for handler tests.
type fakeDriver struct {
	chats    map[string]*store.Chat
	messages map[string][]*store.Message
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		chats:    make(map[string]*store.Chat),
		messages: make(map[string][]*store.Message),
	}
}

func (d *fakeDriver) Migrate(context.Context) error { return nil }
func (d *fakeDriver) Close() error                  { return nil }

func (d *fakeDriver) GetUser(context.Context, *store.FindUser) (*store.User, error) {
	return nil, nil
}

func (d *fakeDriver) UpsertUser(_ context.Context, upsert *store.User) (*store.User, error) {
	return upsert, nil
}

func (d *fakeDriver) CreateChat(_ context.Context, create *store.Chat) (*store.Chat, error) {
	d.chats[create.ID] = create
	return create, nil
}

func (d *fakeDriver) ListChats(_ context.Context, find *store.FindChat) ([]*store.Chat, error) {
	var out []*store.Chat
	for _, chat := range d.chats {
		if find.UserIDHash != nil && chat.UserIDHash != *find.UserIDHash {
			continue
		}
		out = append(out, chat)
	}
	if find.OrderByLastEdited {
		sort.Slice(out, func(i, j int) bool { return out[i].LastEditedTs > out[j].LastEditedTs })
	}
	return out, nil
}

func (d *fakeDriver) GetChat(_ context.Context, find *store.FindChat) (*store.Chat, error) {
	if find.ID == nil {
		return nil, nil
	}
	chat, ok := d.chats[*find.ID]
	if !ok {
		return nil, nil
	}
	if find.UserIDHash != nil && chat.UserIDHash != *find.UserIDHash {
		return nil, nil
	}
	return chat, nil
}

func (d *fakeDriver) UpdateChat(_ context.Context, update *store.UpdateChat) (*store.Chat, error) {
	return d.chats[update.ID], nil
}

func (d *fakeDriver) DeleteChat(_ context.Context, del *store.DeleteChat) error {
	delete(d.chats, del.ID)
	return nil
}

func (d *fakeDriver) CreateMessage(_ context.Context, create *store.Message) (*store.Message, error) {
	d.messages[create.ChatID] = append(d.messages[create.ChatID], create)
	return create, nil
}

func (d *fakeDriver) ListMessages(_ context.Context, find *store.FindMessage) ([]*store.Message, error) {
	if find.ChatID == nil {
		return nil, nil
	}
	return d.messages[*find.ChatID], nil
}

func (d *fakeDriver) CountMessages(_ context.Context, chatID string) (int64, error) {
	return int64(len(d.messages[chatID])), nil
}

func (d *fakeDriver) DeleteMessages(_ context.Context, chatID string) error {
	delete(d.messages, chatID)
	return nil
}

func (d *fakeDriver) GetDraft(context.Context, *store.FindDraft) (*store.Draft, error) {
	return nil, nil
}

func (d *fakeDriver) UpsertDraft(_ context.Context, upsert *store.Draft) (*store.Draft, error) {
	return upsert, nil
}

func (d *fakeDriver) DeleteDraft(context.Context, *store.DeleteDraft) error { return nil }

// recordingRunner captures enqueued jobs.
type recordingRunner struct {
	jobs []string
}

func (r *recordingRunner) Enqueue(_ context.Context, _ string, name string, _ any) error {
	r.jobs = append(r.jobs, name)
	return nil
}

type testEnv struct {
	router  *Router
	manager *Manager
	engine  *kv.Engine
	driver  *fakeDriver
	runner  *recordingRunner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	driver := newFakeDriver()
	records := store.New(driver, &profile.Profile{Mode: "dev"})
	engine := kv.NewEngine(rdb, kv.DefaultConfig(), records)

	vault, err := crypto.NewVault("0000000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	runner := &recordingRunner{}
	manager := NewManager()
	dispatcher := dispatch.New(engine, runner, vault)
	router := NewRouter(manager, engine, records, runner, dispatcher, auth.New("secret"))

	return &testEnv{router: router, manager: manager, engine: engine, driver: driver, runner: runner}
}

func (env *testEnv) connect(t *testing.T, userID, deviceHash string) *Client {
	t.Helper()
	c := testClient(userID, deviceHash)
	env.manager.Register(c)
	return c
}

// sendFrame pushes one client frame through the dispatcher.
func (env *testEnv) sendFrame(t *testing.T, c *Client, frameType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(&Frame{Type: frameType, Payload: raw})
	require.NoError(t, err)
	env.router.dispatch(c, frame)
}

func TestUnknownFrameType(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, "u1", "d1")

	env.sendFrame(t, c, "definitely_not_a_thing", map[string]any{})

	frame := receiveFrame(t, c)
	assert.Equal(t, TypeError, frame.Type)
}

func TestPingPong(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, "u1", "d1")

	env.sendFrame(t, c, TypePing, nil)
	frame := receiveFrame(t, c)
	assert.Equal(t, TypePong, frame.Type)
}

func TestInitialSyncRequiresFields(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, "u1", "d1")

	env.sendFrame(t, c, TypeInitialSyncRequest, map[string]any{"chat_ids": []string{}})

	frame := receiveFrame(t, c)
	assert.Equal(t, TypeInitialSyncError, frame.Type)

	// No cache mutation happened.
	count, err := env.engine.ChatCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpdateTitleThenStaleSyncReturnsNewTitle(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, "u1", "d1")
	sibling := env.connect(t, "u1", "d2")
	env.driver.chats["c1"] = &store.Chat{
		ID:               "c1",
		UserIDHash:       c.UserIDHash,
		TitleV:           1,
		LastEditedTs:     1000,
		EncryptedTitle:   "old-title",
		EncryptedChatKey: "chat-key",
	}
	// Warm the cache so the bump moves past the client's known version.
	_, err := env.engine.EnsureListItem(context.Background(), "u1", c.UserIDHash, "c1")
	require.NoError(t, err)

	env.sendFrame(t, c, TypeUpdateTitle, map[string]any{
		"chat_id":         "c1",
		"encrypted_title": "new-title",
	})

	// The broadcast skips the originator and nests the title under
	// "data" and the version under "versions".
	assertNoFrame(t, c)
	frame := receiveFrame(t, sibling)
	require.Equal(t, TypeChatTitleUpdated, frame.Type)
	var broadcast struct {
		ChatID string `json:"chat_id"`
		Data   struct {
			EncryptedTitle string `json:"encrypted_title"`
		} `json:"data"`
		Versions struct {
			TitleV     int64 `json:"title_v"`
			LastEdited int64 `json:"last_edited_overall_timestamp"`
		} `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(frame.Payload, &broadcast))
	assert.Equal(t, "c1", broadcast.ChatID)
	assert.Equal(t, "new-title", broadcast.Data.EncryptedTitle)
	assert.Equal(t, int64(2), broadcast.Versions.TitleV)
	assert.NotZero(t, broadcast.Versions.LastEdited)

	// A device that still holds title_v=1 gets the new encrypted title.
	env.sendFrame(t, c, TypeInitialSyncRequest, map[string]any{
		"chat_ids":   []string{"c1"},
		"chat_count": 1,
		"chat_versions": map[string]any{
			"c1": map[string]any{"messages_v": 0, "title_v": 1},
		},
	})
	frame = receiveFrame(t, c)
	require.Equal(t, TypeInitialSyncResponse, frame.Type)

	var resp InitialSyncResponse
	require.NoError(t, json.Unmarshal(frame.Payload, &resp))
	require.Len(t, resp.ChatsToAddOrUpdate, 1)
	entry := resp.ChatsToAddOrUpdate[0]
	assert.Equal(t, "new-title", entry.Title)
	assert.Greater(t, entry.Versions.TitleV, int64(1))
	assert.Empty(t, resp.ChatIDsToDelete)
	assert.Equal(t, []string{"c1"}, resp.ServerChatOrder)
}

func TestInitialSyncDeletesUnknownLocalChats(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, "u1", "d1")

	env.sendFrame(t, c, TypeInitialSyncRequest, map[string]any{
		"chat_ids":   []string{"gone"},
		"chat_count": 1,
	})
	frame := receiveFrame(t, c)
	require.Equal(t, TypeInitialSyncResponse, frame.Type)

	var resp InitialSyncResponse
	require.NoError(t, json.Unmarshal(frame.Payload, &resp))
	assert.Equal(t, []string{"gone"}, resp.ChatIDsToDelete)
	assert.Empty(t, resp.ChatsToAddOrUpdate)
}

func TestDraftRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	origin := env.connect(t, "u1", "d1")
	sibling := env.connect(t, "u1", "d2")

	env.sendFrame(t, origin, TypeUpdateDraft, map[string]any{
		"chat_id":            "c1",
		"encrypted_draft_md": "enc-draft",
	})

	frame := receiveFrame(t, sibling)
	require.Equal(t, TypeDraftUpdated, frame.Type)
	assertNoFrame(t, origin)

	draft, err := env.engine.Draft(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.NotNil(t, draft)
	assert.Equal(t, "enc-draft", draft.EncryptedDraftMD)
	assert.Contains(t, env.runner.jobs, "persist_draft")

	// Deleting always broadcasts, even right after.
	env.sendFrame(t, origin, TypeDeleteDraft, map[string]any{"chatId": "c1"})
	frame = receiveFrame(t, origin)
	assert.Equal(t, TypeDraftDeleteReceipt, frame.Type)
	frame = receiveFrame(t, sibling)
	assert.Equal(t, TypeDraftDeleted, frame.Type)

	draft, err = env.engine.Draft(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.Nil(t, draft)
}

func TestDraftOnForeignChatDenied(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, "u1", "d1")
	env.driver.chats["c1"] = &store.Chat{ID: "c1", UserIDHash: "someone-else"}

	env.sendFrame(t, c, TypeUpdateDraft, map[string]any{
		"chat_id":            "c1",
		"encrypted_draft_md": "enc-draft",
	})

	frame := receiveFrame(t, c)
	assert.Equal(t, TypeError, frame.Type)

	draft, err := env.engine.Draft(context.Background(), "u1", "c1")
	require.NoError(t, err)
	assert.Nil(t, draft)
}

func TestChatMessageAddedStripsPlaintext(t *testing.T) {
	env := newTestEnv(t)
	origin := env.connect(t, "u1", "d1")
	sibling := env.connect(t, "u1", "d2")

	env.sendFrame(t, origin, TypeChatMessageAdded, map[string]any{
		"chatId":            "c1",
		"message_id":        "m1",
		"encrypted_content": "ciphertext",
		"sender_name":       "enc-sender",
		"created_at":        1000,
		"content":           "SECRET PLAINTEXT",
	})

	frame := receiveFrame(t, origin)
	require.Equal(t, TypeChatMessageConfirmed, frame.Type)

	frame = receiveFrame(t, sibling)
	require.Equal(t, TypeChatMessageAdded, frame.Type)

	// The cache holds ciphertext only.
	msgs, err := env.engine.SyncMessages(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ciphertext", msgs[0].EncryptedContent)
	raw, err := json.Marshal(msgs[0])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "SECRET PLAINTEXT")
	assert.Contains(t, env.runner.jobs, "persist_message")
}

func TestAIResponseCompleted(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, "u1", "d1")

	env.sendFrame(t, c, TypeAIResponseCompleted, map[string]any{
		"chat_id": "c1",
		"task_id": "t1",
		"message": map[string]any{
			"message_id":        "m1",
			"role":              "assistant",
			"encrypted_content": "ciphertext",
			"created_at":        2000,
			"content":           "LEAKED",
		},
		"versions": map[string]any{"messages_v": 4, "title_v": 0},
	})

	frame := receiveFrame(t, c)
	require.Equal(t, TypeAIResponseStorageConfirmed, frame.Type)
	var confirmed map[string]any
	require.NoError(t, json.Unmarshal(frame.Payload, &confirmed))
	assert.Equal(t, "t1", confirmed["task_id"])
	assert.Equal(t, "m1", confirmed["message_id"])

	v, err := env.engine.Version(context.Background(), "u1", "c1", kv.FieldMessagesV)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)

	msgs, err := env.engine.SyncMessages(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	raw, err := json.Marshal(msgs[0])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "LEAKED")
}

func TestAIResponseRejectsNonAssistantRole(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, "u1", "d1")

	env.sendFrame(t, c, TypeAIResponseCompleted, map[string]any{
		"chat_id": "c1",
		"message": map[string]any{
			"message_id":        "m1",
			"role":              "user",
			"encrypted_content": "ciphertext",
		},
	})
	frame := receiveFrame(t, c)
	assert.Equal(t, TypeError, frame.Type)
}

func TestDeleteChatBroadcastsAndTombstones(t *testing.T) {
	env := newTestEnv(t)
	origin := env.connect(t, "u1", "d1")
	sibling := env.connect(t, "u1", "d2")
	ctx := context.Background()

	_, err := env.engine.BumpVersion(ctx, "u1", "c1", kv.FieldMessagesV, 1000)
	require.NoError(t, err)

	env.sendFrame(t, origin, TypeDeleteChat, map[string]any{"chatId": "c1"})

	// chat_deleted reaches every device, originator included.
	frame := receiveFrame(t, origin)
	assert.Equal(t, TypeChatDeleted, frame.Type)
	frame = receiveFrame(t, sibling)
	assert.Equal(t, TypeChatDeleted, frame.Type)

	_, ok, err := env.engine.ChatScore(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, env.runner.jobs, "delete_chat")
}

func TestEncryptedChatMetadataBroadcastsChatKey(t *testing.T) {
	env := newTestEnv(t)
	origin := env.connect(t, "u1", "d1")
	sibling := env.connect(t, "u1", "d2")

	env.sendFrame(t, origin, TypeEncryptedChatMetadata, map[string]any{
		"chat_id":            "c1",
		"encrypted_chat_key": "new-key",
		"versions": map[string]any{
			"messages_v":                    2,
			"last_edited_overall_timestamp": 5000,
		},
	})

	frame := receiveFrame(t, origin)
	require.Equal(t, TypeEncryptedMetadataStored, frame.Type)

	frame = receiveFrame(t, sibling)
	require.Equal(t, TypeEncryptedChatMetadata, frame.Type)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(frame.Payload, &payload))
	assert.Equal(t, "new-key", payload["encrypted_chat_key"])
}

func TestEncryptedChatMetadataRequiresVersions(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, "u1", "d1")

	env.sendFrame(t, c, TypeEncryptedChatMetadata, map[string]any{
		"chat_id":         "c1",
		"encrypted_title": "enc-title",
	})
	frame := receiveFrame(t, c)
	assert.Equal(t, TypeError, frame.Type)
}

func TestBatchFetchMasksVersionGap(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, "u1", "d1")
	ctx := context.Background()

	// Three messages cached but the versions hash only counted one.
	for i, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, env.engine.AppendSyncMessage(ctx, "u1", "c1", &kv.CachedMessage{
			ID: id, ChatID: "c1", Role: "user", EncryptedContent: "x", CreatedAt: int64(i),
		}))
	}
	_, err := env.engine.SetVersion(ctx, "u1", "c1", kv.FieldMessagesV, 1, 1000)
	require.NoError(t, err)

	env.sendFrame(t, c, TypeRequestChatContentBatch, map[string]any{"chat_ids": []string{"c1"}})

	frame := receiveFrame(t, c)
	require.Equal(t, TypeChatContentBatchResponse, frame.Type)
	var resp ChatContentBatchResponse
	require.NoError(t, json.Unmarshal(frame.Payload, &resp))
	require.Contains(t, resp.VersionsByChatID, "c1")
	assert.Equal(t, int64(3), resp.VersionsByChatID["c1"].MessagesV)
	assert.Equal(t, int64(3), resp.VersionsByChatID["c1"].ServerMessageCount)
	assert.Len(t, resp.MessagesByChatID["c1"], 3)
	assert.False(t, resp.PartialError)
}

func TestSetActiveChatAck(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, "u1", "d1")

	env.sendFrame(t, c, TypeSetActiveChat, map[string]any{"chat_id": "c1"})
	frame := receiveFrame(t, c)
	assert.Equal(t, TypeActiveChatSetAck, frame.Type)
	assert.Equal(t, "c1", env.manager.ActiveChat("u1", "d1"))

	last, err := env.engine.LastOpenedChat(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "c1", last)
}

func TestSyncStatus(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect(t, "u1", "d1")
	ctx := context.Background()

	env.sendFrame(t, c, TypeSyncStatusRequest, nil)
	frame := receiveFrame(t, c)
	require.Equal(t, TypeSyncStatusResponse, frame.Type)
	var status SyncStatusResponse
	require.NoError(t, json.Unmarshal(frame.Payload, &status))
	assert.False(t, status.Primed)

	_, err := env.engine.BumpVersion(ctx, "u1", "c1", kv.FieldMessagesV, 1000)
	require.NoError(t, err)

	env.sendFrame(t, c, TypeSyncStatusRequest, nil)
	frame = receiveFrame(t, c)
	require.NoError(t, json.Unmarshal(frame.Payload, &status))
	assert.True(t, status.Primed)
	assert.Equal(t, int64(1), status.ChatCount)
}
