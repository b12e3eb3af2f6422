package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/pkg/logger"
	"github.com/freightlane/notify-api/pkg/metrics"
)

const writeWait = 10 * time.Second

type Config struct {
	HeartbeatInterval time.Duration
	StaleTimeout      time.Duration
}

// Client is one registered live socket.
type Client struct {
	conn     *websocket.Conn
	UserID   string
	UserType model.UserType

	writeMu      sync.Mutex
	lastActivity atomic.Int64
	closeOnce    sync.Once
}

func newClient(conn *websocket.Conn, userID string, userType model.UserType, now time.Time) *Client {
	c := &Client{conn: conn, UserID: userID, UserType: userType}
	c.touch(now)
	return c
}

func (c *Client) touch(at time.Time) {
	c.lastActivity.Store(at.UnixNano())
}

func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Send writes one frame. gorilla allows a single concurrent writer per socket.
func (c *Client) Send(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

func (c *Client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

// Hub indexes live sockets by user id and by user type. All index mutation happens
// under one mutex; socket writes happen outside it.
type Hub struct {
	mu     sync.Mutex
	byUser map[string]*Client
	byType map[model.UserType]map[*Client]struct{}

	config  Config
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewHub(cfg Config, logger *logger.Logger, metrics *metrics.Metrics) *Hub {
	return newHub(cfg, logger, metrics, time.Now)
}

func newHub(cfg Config, logger *logger.Logger, metrics *metrics.Metrics, now func() time.Time) *Hub {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.StaleTimeout <= 0 {
		cfg.StaleTimeout = 120 * time.Second
	}
	return &Hub{
		byUser:  make(map[string]*Client),
		byType:  make(map[model.UserType]map[*Client]struct{}),
		config:  cfg,
		logger:  logger.With("realtime"),
		metrics: metrics,
		now:     now,
	}
}

func (h *Hub) HeartbeatInterval() time.Duration {
	return h.config.HeartbeatInterval
}

// Register indexes c. A newer socket for the same user id replaces the user entry;
// the older socket stays open and stays in its type set until it closes.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.byUser[c.UserID] = c
	set, ok := h.byType[c.UserType]
	if !ok {
		set = make(map[*Client]struct{})
		h.byType[c.UserType] = set
	}
	set[c] = struct{}{}
	h.updateGauge()
	h.mu.Unlock()

	h.logger.Info("Live connection registered", "user_id", c.UserID, "user_type", string(c.UserType))
}

// Unregister drops c from both indexes. Safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	removed := h.remove(c)
	h.updateGauge()
	h.mu.Unlock()

	if removed {
		h.logger.Info("Live connection closed", "user_id", c.UserID, "user_type", string(c.UserType))
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(c *Client) bool {
	removed := false
	if h.byUser[c.UserID] == c {
		delete(h.byUser, c.UserID)
		removed = true
	}
	if set, ok := h.byType[c.UserType]; ok {
		if _, in := set[c]; in {
			delete(set, c)
			removed = true
		}
		if len(set) == 0 {
			delete(h.byType, c.UserType)
		}
	}
	return removed
}

// updateGauge must be called with h.mu held.
func (h *Hub) updateGauge() {
	total := 0
	for _, set := range h.byType {
		total += len(set)
	}
	h.metrics.LiveConnections.Set(float64(total))
}

// Lookup returns the active socket for userID.
func (h *Hub) Lookup(userID string) (*Client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.byUser[userID]
	return c, ok
}

// CountByType reports how many sockets of userType are registered.
func (h *Hub) CountByType(userType model.UserType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byType[userType])
}

// SendToUser writes f to the user's active socket. A failed write deregisters it.
func (h *Hub) SendToUser(userID string, f Frame) bool {
	c, ok := h.Lookup(userID)
	if !ok {
		return false
	}
	if err := c.Send(f); err != nil {
		h.logger.Warn("Live write failed, dropping connection", "user_id", userID, "error", err.Error())
		h.metrics.LivePushes.WithLabelValues("error").Inc()
		h.Unregister(c)
		c.close(websocket.CloseGoingAway, "write failed")
		return false
	}
	return true
}

// Broadcast pushes n to the recipient's live socket. No socket is not an error.
func (h *Hub) Broadcast(_ context.Context, n *model.Notification) (bool, error) {
	c, ok := h.Lookup(n.UserID)
	if !ok || (n.UserType != "" && c.UserType != n.UserType) {
		h.metrics.LivePushes.WithLabelValues("offline").Inc()
		return false, nil
	}
	if !h.SendToUser(n.UserID, Frame{Type: TypeNotification, Data: n}) {
		return false, nil
	}
	h.metrics.LivePushes.WithLabelValues("delivered").Inc()
	return true, nil
}

// Sweep terminates sockets idle past the stale timeout and pings the rest. It
// returns how many sockets were evicted.
func (h *Hub) Sweep() int {
	now := h.now()
	var stale, live []*Client

	h.mu.Lock()
	for _, set := range h.byType {
		for c := range set {
			if now.Sub(c.LastActivity()) > h.config.StaleTimeout {
				stale = append(stale, c)
				h.remove(c)
				continue
			}
			live = append(live, c)
		}
	}
	h.updateGauge()
	h.mu.Unlock()

	for _, c := range stale {
		h.logger.Info("Evicting stale connection", "user_id", c.UserID, "idle", now.Sub(c.LastActivity()).String())
		h.metrics.HeartbeatEvictions.Inc()
		c.close(websocket.CloseGoingAway, "heartbeat timeout")
	}
	for _, c := range live {
		if err := c.Send(Frame{Type: TypePing}); err != nil {
			h.logger.Debug("Ping failed", "user_id", c.UserID, "error", err.Error())
		}
	}
	return len(stale)
}

// Shutdown closes every registered socket.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	var all []*Client
	for _, set := range h.byType {
		for c := range set {
			all = append(all, c)
		}
	}
	h.byUser = make(map[string]*Client)
	h.byType = make(map[model.UserType]map[*Client]struct{})
	h.updateGauge()
	h.mu.Unlock()

	for _, c := range all {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}
