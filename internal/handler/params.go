package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/freightlane/notify-api/pkg/errors"
)

// Route registers its routes on a group.
type Route interface {
	RegisterRoutes(*gin.RouterGroup)
}

// ParseID reads a uuid path parameter.
func ParseID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apperrors.BadRequest("invalid "+name, err)
	}
	return id, nil
}

// BindJSON decodes the body into obj, mapping decode failures to BadRequest.
func BindJSON(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil {
		return apperrors.BadRequest("invalid request body", err)
	}
	return nil
}
