package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/menta2k/blur-background/internal/service"
	"github.com/menta2k/blur-background/pkg/types"
)

type RenderHandler struct {
	render *service.RenderService
	logger *zap.Logger
}

func NewRenderHandler(render *service.RenderService, logger *zap.Logger) *RenderHandler {
	return &RenderHandler{render: render, logger: logger}
}

// Composite handles POST /api/composite and streams back the encoded image
func (h *RenderHandler) Composite(c *gin.Context) {
	var req types.CompositeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	out, err := h.render.Render(c.Request.Context(), req)
	if err != nil {
		fail(c, h.logger, "composite", err)
		return
	}

	c.Header("X-Image-Width", strconv.Itoa(out.Width))
	c.Header("X-Image-Height", strconv.Itoa(out.Height))
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, out.ContentType, out.Data)
}
