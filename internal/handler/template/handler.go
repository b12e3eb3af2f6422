package template

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/freightlane/notify-api/internal/handler"
	"github.com/freightlane/notify-api/internal/model"
	templateService "github.com/freightlane/notify-api/internal/service/template"
	"github.com/freightlane/notify-api/pkg/httputil"
)

type Handler struct {
	service templateService.Service
	guard   gin.HandlerFunc
}

func NewHandler(service templateService.Service, guard gin.HandlerFunc) *Handler {
	return &Handler{service: service, guard: guard}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	templates := r.Group("/templates", h.guard)
	{
		templates.POST("", h.Create)
		templates.GET("", h.List)
		templates.GET("/:id", h.Get)
		templates.PUT("/:id", h.Update)
		templates.DELETE("/:id", h.Delete)
		templates.POST("/:id/default", h.SetDefault)
		templates.POST("/:id/render", h.Render)
	}
}

type listQuery struct {
	Kind       string `form:"kind"`
	Channel    string `form:"channel"`
	Locale     string `form:"locale"`
	ActiveOnly bool   `form:"active_only"`
}

type renderRequest struct {
	Variables map[string]interface{} `json:"variables"`
}

func (h *Handler) Create(c *gin.Context) {
	var req templateService.CreateRequest
	if err := handler.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	tpl, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondCreated(c, tpl)
}

func (h *Handler) List(c *gin.Context) {
	var q listQuery
	_ = c.ShouldBindQuery(&q)
	templates, err := h.service.List(c.Request.Context(), model.TemplateFilter{
		NotificationKind: model.NotificationKind(q.Kind),
		Channel:          model.Channel(q.Channel),
		Locale:           q.Locale,
		ActiveOnly:       q.ActiveOnly,
	})
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, templates)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	tpl, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, tpl)
}

func (h *Handler) Update(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	var req templateService.UpdateRequest
	if err := handler.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	tpl, err := h.service.Update(c.Request.Context(), id, &req)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, tpl)
}

func (h *Handler) Delete(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) SetDefault(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	tpl, err := h.service.SetDefault(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, tpl)
}

// Render previews a template against the given variables.
func (h *Handler) Render(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	var req renderRequest
	if err := handler.BindJSON(c, &req); err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	tpl, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		httputil.RespondWithError(c, err)
		return
	}
	httputil.RespondWithSuccess(c, h.service.Render(tpl, req.Variables))
}
