package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/glowingkitty/openmates-core/server/metrics"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong before the socket is dead.
	pongWait = 60 * time.Second

	// Ping interval; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size.
	maxFrameSize = 512 * 1024

	// Outbound backlog per device before frames are dropped.
	sendBuffer = 64
)

// Inbound frames per second a single device may produce, with a small
// burst for sync batches.
var inboundLimit = rate.Limit(30)

const inboundBurst = 60

// Client is one authenticated device connection.
type Client struct {
	UserID     string
	UserIDHash string
	DeviceHash string

	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, userID, userIDHash, deviceHash string) *Client {
	return &Client{
		UserID:     userID,
		UserIDHash: userIDHash,
		DeviceHash: deviceHash,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
		limiter:    rate.NewLimiter(inboundLimit, inboundBurst),
	}
}

// enqueue hands a marshalled frame to the write pump. It fails instead
// of blocking when the device's backlog is full or the connection is
// shutting down.
func (c *Client) enqueue(raw []byte) (err error) {
	defer func() {
		if recover() != nil {
			err = errors.New("connection closed")
		}
	}()
	select {
	case c.send <- raw:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// closeSend terminates the write pump, which in turn closes the socket.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readPump consumes frames until the socket dies, dispatching each one
// through the router. It owns all reads on the connection.
func (c *Client) readPump(router *Router) {
	defer func() {
		router.manager.Unregister(c)
		c.closeSend()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed",
					slog.String("user_id", c.UserID),
					slog.String("device", c.DeviceHash),
					slog.Any("error", err))
			}
			return
		}
		if !c.limiter.Allow() {
			slog.Warn("inbound rate limit exceeded",
				slog.String("user_id", c.UserID),
				slog.String("device", c.DeviceHash))
			continue
		}
		router.dispatch(c, raw)
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings. It owns all writes on the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				metrics.SendFailures.Inc()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
