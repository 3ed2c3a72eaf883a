// Package ws implements the realtime sync surface: the websocket
// connection registry, the frame protocol, and the per-frame handlers.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/glowingkitty/openmates-core/server/metrics"
)

// disconnectGrace is how long a device's registry entry survives after
// its socket drops. Reconnects within the window keep the entry (and
// the device's active-chat focus) alive, so brief network blips do not
// reset delivery targeting.
const disconnectGrace = 3 * time.Second

// Manager is the in-memory device registry. All state is process-local;
// cross-instance fan-out happens over the KV pub/sub channels, never
// through this registry.
type Manager struct {
	mu sync.RWMutex

	// conns[userID][deviceHash] -> live connection
	conns map[string]map[string]*Client

	// activeChat[userID][deviceHash] -> chat id the device is viewing
	activeChat map[string]map[string]string

	// graceTimers[userID|deviceHash] -> pending removal after disconnect
	graceTimers map[string]*time.Timer
}

func NewManager() *Manager {
	return &Manager{
		conns:       make(map[string]map[string]*Client),
		activeChat:  make(map[string]map[string]string),
		graceTimers: make(map[string]*time.Timer),
	}
}

func graceKey(userID, deviceHash string) string {
	return userID + "|" + deviceHash
}

// Register adds a device connection. A reconnect within the grace
// window cancels the pending removal; an existing live connection for
// the same device is closed and replaced.
func (m *Manager) Register(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timer, ok := m.graceTimers[graceKey(c.UserID, c.DeviceHash)]; ok {
		timer.Stop()
		delete(m.graceTimers, graceKey(c.UserID, c.DeviceHash))
	}

	devices, ok := m.conns[c.UserID]
	if !ok {
		devices = make(map[string]*Client)
		m.conns[c.UserID] = devices
	}
	if prev, ok := devices[c.DeviceHash]; ok && prev != c {
		prev.closeSend()
		// The replaced connection's Unregister will see a foreign entry
		// and skip its decrement; settle its count here.
		metrics.ConnectionsGauge.Dec()
	}
	devices[c.DeviceHash] = c
	metrics.ConnectionsGauge.Inc()

	slog.Info("device connected",
		slog.String("user_id", c.UserID),
		slog.String("device", c.DeviceHash),
		slog.Int("user_devices", len(devices)))
}

// Unregister schedules removal of the device entry after the grace
// window. If the device reconnected in the meantime (a newer connection
// occupies the slot) nothing is removed.
func (m *Manager) Unregister(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices, ok := m.conns[c.UserID]
	if !ok || devices[c.DeviceHash] != c {
		return
	}
	metrics.ConnectionsGauge.Dec()

	key := graceKey(c.UserID, c.DeviceHash)
	if timer, ok := m.graceTimers[key]; ok {
		timer.Stop()
	}
	m.graceTimers[key] = time.AfterFunc(disconnectGrace, func() {
		m.expire(c)
	})
}

// expire finalizes a disconnect after the grace window.
func (m *Manager) expire(c *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.graceTimers, graceKey(c.UserID, c.DeviceHash))
	devices, ok := m.conns[c.UserID]
	if !ok || devices[c.DeviceHash] != c {
		// Reconnected during the grace window.
		return
	}
	delete(devices, c.DeviceHash)
	if len(devices) == 0 {
		delete(m.conns, c.UserID)
	}
	if chats, ok := m.activeChat[c.UserID]; ok {
		delete(chats, c.DeviceHash)
		if len(chats) == 0 {
			delete(m.activeChat, c.UserID)
		}
	}
	slog.Info("device disconnected",
		slog.String("user_id", c.UserID),
		slog.String("device", c.DeviceHash))
}

// SetActiveChat records which chat a device is viewing. Empty chatID
// clears the focus.
func (m *Manager) SetActiveChat(userID, deviceHash, chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if chatID == "" {
		if chats, ok := m.activeChat[userID]; ok {
			delete(chats, deviceHash)
			if len(chats) == 0 {
				delete(m.activeChat, userID)
			}
		}
		return
	}
	chats, ok := m.activeChat[userID]
	if !ok {
		chats = make(map[string]string)
		m.activeChat[userID] = chats
	}
	chats[deviceHash] = chatID
}

// ActiveChat returns the chat a device is viewing, or "".
func (m *Manager) ActiveChat(userID, deviceHash string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeChat[userID][deviceHash]
}

// DevicesForUser returns the device hashes with a live connection.
func (m *Manager) DevicesForUser(userID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	devices := make([]string, 0, len(m.conns[userID]))
	for hash := range m.conns[userID] {
		devices = append(devices, hash)
	}
	return devices
}

// DevicesViewingChat returns the user's devices whose active chat is
// chatID.
func (m *Manager) DevicesViewingChat(userID, chatID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var devices []string
	for hash, active := range m.activeChat[userID] {
		if active == chatID {
			if _, live := m.conns[userID][hash]; live {
				devices = append(devices, hash)
			}
		}
	}
	return devices
}

// SendPersonal delivers one frame to one device. A dead or backlogged
// device is logged and counted, never fatal to the caller.
func (m *Manager) SendPersonal(userID, deviceHash string, out *Outbound) {
	raw, err := json.Marshal(out)
	if err != nil {
		slog.Error("marshal outbound frame", slog.String("type", out.Type), slog.Any("error", err))
		return
	}
	m.mu.RLock()
	c, ok := m.conns[userID][deviceHash]
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.deliver(c, out.Type, raw)
}

// BroadcastToUser delivers one frame to every device of a user, minus
// the excluded device (typically the originator of the change). Each
// send is independent; one failing device never blocks the rest.
func (m *Manager) BroadcastToUser(userID string, out *Outbound, excludeDevice string) {
	raw, err := json.Marshal(out)
	if err != nil {
		slog.Error("marshal outbound frame", slog.String("type", out.Type), slog.Any("error", err))
		return
	}

	m.mu.RLock()
	targets := make([]*Client, 0, len(m.conns[userID]))
	for hash, c := range m.conns[userID] {
		if hash == excludeDevice {
			continue
		}
		targets = append(targets, c)
	}
	m.mu.RUnlock()

	for _, c := range targets {
		m.deliver(c, out.Type, raw)
	}
}

func (m *Manager) deliver(c *Client, frameType string, raw []byte) {
	if err := c.enqueue(raw); err != nil {
		metrics.SendFailures.Inc()
		slog.Warn("drop frame for device",
			slog.String("user_id", c.UserID),
			slog.String("device", c.DeviceHash),
			slog.String("type", frameType),
			slog.Any("error", err))
		return
	}
	metrics.FramesSent.WithLabelValues(frameType).Inc()
}
