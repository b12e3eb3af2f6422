package contact

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/freightlane/notify-api/internal/handler"
	"github.com/freightlane/notify-api/internal/middleware"
	contactService "github.com/freightlane/notify-api/internal/service/contact"
	"github.com/freightlane/notify-api/pkg/httputil"
)

type Handler struct {
	service contactService.Service
}

func NewHandler(service contactService.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	me := r.Group("/contacts/me")
	{
		me.GET("", h.Get)
		me.PUT("", h.Upsert)
		me.POST("/devices", h.AddDevice)
		me.DELETE("/devices/:token", h.RemoveDevice)
	}
}

type deviceRequest struct {
	Token string `json:"token"`
}

func (h *Handler) Get(c *gin.Context) {
	contact, err := h.service.Get(c.Request.Context(), middleware.UserID(c), middleware.UserType(c))
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, contact)
}

func (h *Handler) Upsert(c *gin.Context) {
	var req contactService.UpsertRequest
	if err := handler.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	req.UserID = middleware.UserID(c)
	req.UserType = middleware.UserType(c)

	contact, err := h.service.Upsert(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, contact)
}

func (h *Handler) AddDevice(c *gin.Context) {
	var req deviceRequest
	if err := handler.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if err := h.service.AddDevice(c.Request.Context(), middleware.UserID(c), middleware.UserType(c), req.Token); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) RemoveDevice(c *gin.Context) {
	if err := h.service.RemoveDevice(c.Request.Context(), middleware.UserID(c), middleware.UserType(c), c.Param("token")); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
