package notification

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/freightlane/notify-api/internal/handler"
	"github.com/freightlane/notify-api/internal/middleware"
	"github.com/freightlane/notify-api/internal/model"
	notificationService "github.com/freightlane/notify-api/internal/service/notification"
	apperrors "github.com/freightlane/notify-api/pkg/errors"
	"github.com/freightlane/notify-api/pkg/httputil"
)

type Handler struct {
	service notificationService.Service
	// senders guards the routes that create or dispatch notifications.
	senders gin.HandlerFunc
}

func NewHandler(service notificationService.Service, senders gin.HandlerFunc) *Handler {
	return &Handler{service: service, senders: senders}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	notifications := r.Group("/notifications")
	{
		notifications.GET("", h.List)
		notifications.GET("/unread-count", h.UnreadCount)
		notifications.GET("/stats", h.Statistics)
		notifications.POST("/read-all", h.MarkAllAsRead)
		notifications.GET("/:id", h.Get)
		notifications.PATCH("/:id/read", h.MarkAsRead)
		notifications.DELETE("/:id", h.Delete)
	}

	senders := notifications.Group("", h.senders)
	{
		senders.POST("", h.Create)
		senders.POST("/send", h.Send)
		senders.POST("/send/bulk", h.SendBulk)
		senders.POST("/send/topic", h.SendTopic)
		senders.POST("/schedule", h.Schedule)
		senders.POST("/:id/cancel", h.CancelScheduled)
	}
}

// owner returns the identity reads are scoped to. Admins see everything.
func owner(c *gin.Context) (string, model.UserType) {
	if middleware.UserType(c) == model.UserTypeAdmin {
		return "", ""
	}
	return middleware.UserID(c), middleware.UserType(c)
}

type listQuery struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size"`
	Status   string `form:"status"`
	Kind     string `form:"kind"`
	Read     *bool  `form:"read"`
	UserID   string `form:"user_id"`
	UserType string `form:"user_type"`
}

func (h *Handler) List(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httputil.RespondWithError(c, apperrors.BadRequest("invalid query", err))
		return
	}

	userID, userType := owner(c)
	if userID == "" {
		userID, userType = q.UserID, model.UserType(q.UserType)
	}
	filter := model.NotificationFilter{
		UserID:           userID,
		UserType:         userType,
		NotificationKind: model.NotificationKind(q.Kind),
		Status:           model.NotificationStatus(q.Status),
		Read:             q.Read,
		Pagination:       model.Pagination{Page: q.Page, PageSize: q.PageSize}.Normalize(),
	}

	items, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithPagination(c, items, filter.Page, filter.PageSize, int(total))
}

func (h *Handler) Get(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	n, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if userID, userType := owner(c); userID != "" && (n.UserID != userID || n.UserType != userType) {
		httputil.RespondWithError(c, apperrors.NotFound("notification", nil))
		return
	}
	httputil.RespondWithSuccess(c, n)
}

func (h *Handler) MarkAsRead(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	userID, userType := owner(c)
	n, err := h.service.MarkAsRead(c.Request.Context(), id, userID, userType)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, n)
}

func (h *Handler) MarkAllAsRead(c *gin.Context) {
	count, err := h.service.MarkAllAsRead(c.Request.Context(), middleware.UserID(c), middleware.UserType(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"updated": count})
}

func (h *Handler) Delete(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	userID, userType := owner(c)
	if err := h.service.Delete(c.Request.Context(), id, userID, userType); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) UnreadCount(c *gin.Context) {
	count, err := h.service.UnreadCount(c.Request.Context(), middleware.UserID(c), middleware.UserType(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, gin.H{"count": count})
}

func (h *Handler) Statistics(c *gin.Context) {
	userID, userType := owner(c)
	stats, err := h.service.Statistics(c.Request.Context(), userID, userType)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, stats)
}

func (h *Handler) Create(c *gin.Context) {
	var req notificationService.CreateRequest
	if err := handler.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	n, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondCreated(c, n)
}

// Send answers 202: channel failures show up on the record, not as request errors.
func (h *Handler) Send(c *gin.Context) {
	var req notificationService.SendRequest
	if err := handler.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	res, err := h.service.Send(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, httputil.Response{Success: true, Data: res})
}

func (h *Handler) SendBulk(c *gin.Context) {
	var req notificationService.BulkRequest
	if err := handler.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	res, err := h.service.SendBulk(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, httputil.Response{Success: true, Data: res})
}

func (h *Handler) SendTopic(c *gin.Context) {
	var req notificationService.TopicRequest
	if err := handler.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	ok, err := h.service.SendTopic(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, httputil.Response{Success: true, Data: gin.H{"sent": ok}})
}

func (h *Handler) Schedule(c *gin.Context) {
	var req notificationService.ScheduleRequest
	if err := handler.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	n, err := h.service.Schedule(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondCreated(c, n)
}

func (h *Handler) CancelScheduled(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	n, err := h.service.CancelScheduled(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, n)
}
