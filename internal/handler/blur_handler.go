package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/menta2k/blur-background/internal/service"
	"github.com/menta2k/blur-background/pkg/validation"
)

type BlurHandler struct {
	blur    *service.BlurService
	maxSize int64
	logger  *zap.Logger
}

func NewBlurHandler(blur *service.BlurService, maxSize int64, logger *zap.Logger) *BlurHandler {
	return &BlurHandler{blur: blur, maxSize: maxSize, logger: logger}
}

// Upload handles POST /api/blur-background with a multipart "image" field
func (h *BlurHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		h.logger.Info("missing upload", zap.Error(err))
		respondError(c, http.StatusBadRequest, validation.ErrEmptyFile.Error())
		return
	}

	up := service.Upload{
		Filename:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Size:        file.Size,
	}

	// Oversized files are rejected by the service from Size alone
	if h.maxSize <= 0 || file.Size <= h.maxSize {
		f, err := file.Open()
		if err != nil {
			fail(c, h.logger, "open upload", err)
			return
		}
		defer f.Close()

		up.Data, err = io.ReadAll(io.LimitReader(f, file.Size))
		if err != nil {
			fail(c, h.logger, "read upload", err)
			return
		}
	}

	result, err := h.blur.Process(c.Request.Context(), up)
	if err != nil {
		fail(c, h.logger, "blur background", err)
		return
	}

	c.JSON(http.StatusOK, result)
}
