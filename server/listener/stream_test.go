package listener

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowingkitty/openmates-core/crypto"
	"github.com/glowingkitty/openmates-core/internal/profile"
	"github.com/glowingkitty/openmates-core/server/auth"
	"github.com/glowingkitty/openmates-core/server/dispatch"
	"github.com/glowingkitty/openmates-core/server/ws"
	"github.com/glowingkitty/openmates-core/store"
	"github.com/glowingkitty/openmates-core/store/kv"
)

const streamTestSecret = "stream-test-secret"

// newStreamServer wires a real websocket endpoint so routing can be
// observed on live device connections.
func newStreamServer(t *testing.T) (*Listener, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	engine := kv.NewEngine(rdb, kv.DefaultConfig(), nil)
	vault, err := crypto.NewVault("0000000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	manager := ws.NewManager()
	dispatcher := dispatch.New(engine, nullRunner{}, vault)
	records := store.New(nil, &profile.Profile{Mode: "dev"})
	router := ws.NewRouter(manager, engine, records, nullRunner{}, dispatcher, auth.New(streamTestSecret))

	e := echo.New()
	e.HideBanner = true
	e.GET("/ws", router.Serve)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return NewStream(manager, dispatcher), srv.URL
}

func dialDevice(t *testing.T, baseURL, userID, deviceHash string) *websocket.Conn {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"dfp": deviceHash,
	}).SignedString([]byte(streamTestSecret))
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readDeviceFrame(t *testing.T, conn *websocket.Conn) *ws.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame ws.Frame
	require.NoError(t, json.Unmarshal(raw, &frame))
	return &frame
}

// assertDeviceSilent must be the last read on a connection; a timed-out
// read poisons the gorilla read loop.
func assertDeviceSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

// focusChat drives set_active_chat through the socket; the ack doubles
// as a registration barrier.
func focusChat(t *testing.T, conn *websocket.Conn, chatID string) {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"chat_id": chatID})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(&ws.Frame{Type: ws.TypeSetActiveChat, Payload: payload}))
	frame := readDeviceFrame(t, conn)
	require.Equal(t, ws.TypeActiveChatSetAck, frame.Type)
}

func TestStreamFinalChunkRouting(t *testing.T) {
	l, baseURL := newStreamServer(t)
	viewing := dialDevice(t, baseURL, "u1", "d1")
	elsewhere := dialDevice(t, baseURL, "u1", "d2")
	focusChat(t, viewing, "c1")
	focusChat(t, elsewhere, "c2")

	l.Handle(context.Background(), kv.ChatStreamChannel("c1"), streamEvent(t, &StreamChunk{
		ChatID:           "c1",
		UserID:           "u1",
		MessageID:        "m1",
		TaskID:           "t1",
		FullContentSoFar: "the full answer",
		IsFinalChunk:     true,
	}))

	// The device viewing the chat gets the chunk as ai_message_update.
	frame := readDeviceFrame(t, viewing)
	require.Equal(t, ws.TypeAIMessageUpdate, frame.Type)
	var chunk StreamChunk
	require.NoError(t, json.Unmarshal(frame.Payload, &chunk))
	assert.Equal(t, "the full answer", chunk.FullContentSoFar)

	// The device on another chat gets the completed text under
	// full_content, then the typing-ended notice.
	frame = readDeviceFrame(t, elsewhere)
	require.Equal(t, ws.TypeAIBackgroundResponseCompleted, frame.Type)
	var completed map[string]any
	require.NoError(t, json.Unmarshal(frame.Payload, &completed))
	assert.Equal(t, "the full answer", completed["full_content"])
	assert.Equal(t, "t1", completed["task_id"])

	frame = readDeviceFrame(t, elsewhere)
	assert.Equal(t, ws.TypeAITypingEnded, frame.Type)
}

func TestStreamIntermediateChunkRouting(t *testing.T) {
	l, baseURL := newStreamServer(t)
	viewing := dialDevice(t, baseURL, "u1", "d1")
	elsewhere := dialDevice(t, baseURL, "u1", "d2")
	focusChat(t, viewing, "c1")
	focusChat(t, elsewhere, "c2")

	l.Handle(context.Background(), kv.ChatStreamChannel("c1"), streamEvent(t, &StreamChunk{
		ChatID:           "c1",
		UserID:           "u1",
		MessageID:        "m1",
		TaskID:           "t1",
		FullContentSoFar: "partial",
	}))

	frame := readDeviceFrame(t, viewing)
	require.Equal(t, ws.TypeAIMessageUpdate, frame.Type)

	// Intermediate tokens never reach devices not viewing the chat.
	assertDeviceSilent(t, elsewhere)
}
