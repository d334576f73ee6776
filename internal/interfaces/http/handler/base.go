// Package handler serves the ops HTTP endpoints
package handler

import (
	"net/http"

	"github.com/delivery/backend/internal/infrastructure/logger"
	"github.com/delivery/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

func getRequestID(c *gin.Context) string {
	if id := logger.GetRequestID(c.Request.Context()); id != "" {
		return id
	}
	return c.GetHeader(logger.RequestIDHeader)
}

// Success sends a 200 response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// Error sends an error response with the status derived from code
func (h *BaseHandler) Error(c *gin.Context, code, message string) {
	c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponse(code, message, getRequestID(c)))
}

// NoRoute answers unknown paths with the standard envelope
func (h *BaseHandler) NoRoute(c *gin.Context) {
	h.Error(c, dto.ErrCodeNotFound, "No route for "+c.Request.Method+" "+c.Request.URL.Path)
}
