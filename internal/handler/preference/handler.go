package preference

import (
	"github.com/gin-gonic/gin"

	"github.com/freightlane/notify-api/internal/handler"
	"github.com/freightlane/notify-api/internal/middleware"
	"github.com/freightlane/notify-api/internal/model"
	preferenceService "github.com/freightlane/notify-api/internal/service/preference"
	apperrors "github.com/freightlane/notify-api/pkg/errors"
	"github.com/freightlane/notify-api/pkg/httputil"
)

type Handler struct {
	service preferenceService.Service
}

func NewHandler(service preferenceService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	prefs := r.Group("/preferences")
	{
		prefs.GET("", h.List)
		prefs.GET("/:kind", h.Get)
		prefs.PUT("/:kind", h.Update)
	}
}

func (h *Handler) List(c *gin.Context) {
	prefs, err := h.service.List(c.Request.Context(), middleware.UserID(c), middleware.UserType(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, prefs)
}

// Get resolves the preference, creating the default one on first access.
func (h *Handler) Get(c *gin.Context) {
	kind := model.NotificationKind(c.Param("kind"))
	pref, err := h.service.Resolve(c.Request.Context(), middleware.UserID(c), middleware.UserType(c), kind)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, pref)
}

func (h *Handler) Update(c *gin.Context) {
	var req preferenceService.UpdateRequest
	if err := handler.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if req.TimeWindow != nil && req.ClearTimeWindow {
		httputil.RespondWithError(c, apperrors.BadRequest("time_window and clear_time_window are exclusive", nil))
		return
	}
	// the caller can only edit their own preferences
	req.UserID = middleware.UserID(c)
	req.UserType = middleware.UserType(c)
	req.NotificationKind = model.NotificationKind(c.Param("kind"))

	pref, err := h.service.Update(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, pref)
}
