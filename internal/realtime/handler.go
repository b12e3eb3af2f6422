package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/freightlane/notify-api/internal/model"
	"github.com/freightlane/notify-api/pkg/auth"
	"github.com/freightlane/notify-api/pkg/logger"
)

const maxMessageSize = 4096

// Inbox is the read path the socket protocol drives.
type Inbox interface {
	List(ctx context.Context, filter model.NotificationFilter) ([]*model.Notification, int64, error)
	MarkAsRead(ctx context.Context, id uuid.UUID, userID string, userType model.UserType) (*model.Notification, error)
	MarkAllAsRead(ctx context.Context, userID string, userType model.UserType) (int64, error)
	UnreadCount(ctx context.Context, userID string, userType model.UserType) (int64, error)
}

type Handler struct {
	hub      *Hub
	inbox    Inbox
	tokens   auth.JWTService
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

func NewHandler(hub *Hub, inbox Inbox, tokens auth.JWTService, logger *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		inbox:  inbox,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With("realtime"),
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ws", h.Connect)
}

// Connect upgrades the request, then verifies the token against the claimed
// identity. A rejected socket is closed with 1008 and never registered.
func (h *Handler) Connect(c *gin.Context) {
	token := c.Query("token")
	userID := c.Query("userId")
	userType := model.UserType(c.Query("userType"))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", "error", err.Error())
		return
	}

	claims, err := h.tokens.ValidateToken(token)
	switch {
	case err != nil:
		h.reject(conn, "invalid token", userID)
		return
	case userID == "" || claims.UserID != userID:
		h.reject(conn, "identity mismatch", userID)
		return
	case userType != "" && claims.UserType != "" && string(userType) != claims.UserType:
		h.reject(conn, "identity mismatch", userID)
		return
	}
	if userType == "" {
		userType = model.UserType(claims.UserType)
	}
	if !userType.Valid() {
		h.reject(conn, "unknown user type", userID)
		return
	}

	client := newClient(conn, userID, userType, h.hub.now())
	h.hub.Register(client)
	defer func() {
		h.hub.Unregister(client)
		client.close(websocket.CloseNormalClosure, "")
	}()

	ctx := c.Request.Context()
	h.sendUnreadCount(ctx, client)
	h.readLoop(ctx, client)
}

func (h *Handler) reject(conn *websocket.Conn, reason, userID string) {
	h.logger.Warn("Rejecting live connection", "reason", reason, "user_id", userID)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
	_ = conn.Close()
}

func (h *Handler) readLoop(ctx context.Context, client *Client) {
	conn := client.conn
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		client.touch(h.hub.now())
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Live connection read failed", "user_id", client.UserID, "error", err.Error())
			}
			return
		}
		client.touch(h.hub.now())
		h.handleMessage(ctx, client, raw)
	}
}

func (h *Handler) handleMessage(ctx context.Context, client *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		h.sendError(client, "malformed message")
		return
	}

	switch env.Type {
	case TypePong:
	case TypeGetNotifications:
		var req getNotificationsData
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &req); err != nil {
				h.sendError(client, "malformed getNotifications data")
				return
			}
		}
		filter := model.NotificationFilter{
			UserID:     client.UserID,
			UserType:   client.UserType,
			Read:       req.Read,
			Pagination: model.Pagination{Page: req.Page, PageSize: req.PageSize}.Normalize(),
		}
		items, total, err := h.inbox.List(ctx, filter)
		if err != nil {
			h.logger.Error(err, "Failed to list notifications", "user_id", client.UserID)
			h.sendError(client, "failed to list notifications")
			return
		}
		h.send(client, Frame{Type: TypeNotifications, Data: notificationsPage{
			Items: items, Total: total, Page: filter.Page, PageSize: filter.PageSize,
		}})
	case TypeMarkAsRead:
		var req markAsReadData
		if err := json.Unmarshal(env.Data, &req); err != nil || req.ID == uuid.Nil {
			h.sendError(client, "markAsRead needs an id")
			return
		}
		n, err := h.inbox.MarkAsRead(ctx, req.ID, client.UserID, client.UserType)
		if err != nil {
			h.sendError(client, "notification not found")
			return
		}
		h.hub.SendToUser(client.UserID, Frame{Type: TypeNotificationUpdated, Data: n})
		h.sendUnreadCount(ctx, client)
	case TypeMarkAllAsRead:
		if _, err := h.inbox.MarkAllAsRead(ctx, client.UserID, client.UserType); err != nil {
			h.logger.Error(err, "Failed to mark all read", "user_id", client.UserID)
			h.sendError(client, "failed to mark notifications read")
			return
		}
		h.sendUnreadCount(ctx, client)
	default:
		h.logger.Debug("Ignoring unknown message type", "type", env.Type, "user_id", client.UserID)
	}
}

func (h *Handler) sendUnreadCount(ctx context.Context, client *Client) {
	count, err := h.inbox.UnreadCount(ctx, client.UserID, client.UserType)
	if err != nil {
		h.logger.Error(err, "Failed to count unread", "user_id", client.UserID)
		return
	}
	h.send(client, Frame{Type: TypeUnreadCount, Data: unreadCount{Count: count}})
}

func (h *Handler) sendError(client *Client, msg string) {
	h.send(client, Frame{Type: TypeError, Data: errorData{Message: msg}})
}

func (h *Handler) send(client *Client, f Frame) {
	if err := client.Send(f); err != nil {
		h.logger.Debug("Live write failed", "user_id", client.UserID, "error", err.Error())
	}
}
