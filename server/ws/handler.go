package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/glowingkitty/openmates-core/internal/util"
	"github.com/glowingkitty/openmates-core/server/auth"
	"github.com/glowingkitty/openmates-core/server/dispatch"
	"github.com/glowingkitty/openmates-core/server/metrics"
	"github.com/glowingkitty/openmates-core/store"
	"github.com/glowingkitty/openmates-core/store/kv"
	"github.com/glowingkitty/openmates-core/worker"
)

// handleTimeout bounds a single frame handler. Slow KV or store calls
// must not pin the read loop's goroutines forever.
const handleTimeout = 30 * time.Second

type handlerFunc func(ctx context.Context, c *Client, payload json.RawMessage) error

// Router owns the frame registry and the dependencies handlers need.
type Router struct {
	manager    *Manager
	kv         *kv.Engine
	records    *store.Store
	runner     worker.Runner
	dispatcher *dispatch.Dispatcher
	auth       *auth.Authenticator

	upgrader websocket.Upgrader
	handlers map[string]handlerFunc
}

func NewRouter(manager *Manager, engine *kv.Engine, records *store.Store, runner worker.Runner, dispatcher *dispatch.Dispatcher, authenticator *auth.Authenticator) *Router {
	r := &Router{
		manager:    manager,
		kv:         engine,
		records:    records,
		runner:     runner,
		dispatcher: dispatcher,
		auth:       authenticator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Token auth gates the upgrade; origin policy is enforced at
			// the reverse proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	r.handlers = map[string]handlerFunc{
		TypeInitialSyncRequest:           r.handleInitialSync,
		TypePhasedSyncRequest:            r.handlePhasedSync,
		TypeSyncStatusRequest:            r.handleSyncStatus,
		TypeUpdateDraft:                  r.handleUpdateDraft,
		TypeDeleteDraft:                  r.handleDeleteDraft,
		TypeUpdateTitle:                  r.handleUpdateTitle,
		TypeDeleteChat:                   r.handleDeleteChat,
		TypeEncryptedChatMetadata:        r.handleEncryptedChatMetadata,
		TypeUpdatePostProcessingMetadata: r.handleUpdatePostProcessingMetadata,
		TypeScrollPositionUpdate:         r.handleScrollPositionUpdate,
		TypeChatReadStatusUpdate:         r.handleChatReadStatusUpdate,
		TypeSetActiveChat:                r.handleSetActiveChat,
		TypeChatMessageAdded:             r.handleChatMessageAdded,
		TypeGetChatMessages:              r.handleGetChatMessages,
		TypeRequestChatContentBatch:      r.handleRequestChatContentBatch,
		TypeAIResponseCompleted:          r.handleAIResponseCompleted,
		TypeCancelAITask:                 r.handleCancelAITask,
		TypeAppSettingsMemoriesConfirmed: r.handleAppSettingsMemoriesConfirmed,
		TypePing:                         r.handlePing,
	}
	return r
}

// Serve is the echo handler for the websocket endpoint. Failed auth
// rejects the upgrade with 401 before any socket state exists.
func (r *Router) Serve(c echo.Context) error {
	claims, err := r.auth.Authenticate(c.Request())
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing token")
	}

	conn, err := r.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return nil
	}

	client := newClient(conn, claims.UserID, util.HashUserID(claims.UserID), claims.DeviceFingerprintHash)
	r.manager.Register(client)

	go client.writePump()
	go client.readPump(r)
	return nil
}

// dispatch decodes one inbound frame and runs its handler. Handler
// panics are contained per frame; the connection survives.
func (r *Router) dispatch(c *Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.sendError(c, "", "malformed frame")
		return
	}
	metrics.FramesReceived.WithLabelValues(frame.Type).Inc()

	handler, ok := r.handlers[frame.Type]
	if !ok {
		slog.Warn("unknown frame type",
			slog.String("type", frame.Type),
			slog.String("user_id", c.UserID))
		r.sendError(c, "", "unknown message type: "+frame.Type)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("frame handler panic",
				slog.String("type", frame.Type),
				slog.String("user_id", c.UserID),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			r.sendError(c, "", "internal error")
		}
	}()

	if err := handler(ctx, c, frame.Payload); err != nil {
		slog.Warn("frame handler failed",
			slog.String("type", frame.Type),
			slog.String("user_id", c.UserID),
			slog.Any("error", err))
		r.sendError(c, "", err.Error())
	}
}

// send delivers a frame to the originating device.
func (r *Router) send(c *Client, frameType string, payload any) {
	r.manager.SendPersonal(c.UserID, c.DeviceHash, &Outbound{Type: frameType, Payload: payload})
}

func (r *Router) sendError(c *Client, chatID, message string) {
	r.send(c, TypeError, &ErrorPayload{Message: message, ChatID: chatID})
}

func (r *Router) handlePing(_ context.Context, c *Client, _ json.RawMessage) error {
	r.send(c, TypePong, nil)
	return nil
}
