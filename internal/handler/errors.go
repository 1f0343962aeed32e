package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/menta2k/blur-background/internal/service"
	"github.com/menta2k/blur-background/pkg/chat"
	"github.com/menta2k/blur-background/pkg/compositor"
	"github.com/menta2k/blur-background/pkg/imageio"
	"github.com/menta2k/blur-background/pkg/segmentation"
	"github.com/menta2k/blur-background/pkg/types"
	"github.com/menta2k/blur-background/pkg/validation"
)

// User-facing messages for failures the client cannot fix
const (
	msgDownloadFailed = "failed to download image, please check the network connection"
	msgMisconfigured  = "AI service is misconfigured, please contact the administrator"
	msgModelTimeout   = "the model took too long, please try again later"
	msgRenderFailed   = "image processing failed, please try another image"
	msgGeneric        = "failed to process image, please try again later"
)

var validationErrors = []error{
	validation.ErrEmptyFile,
	validation.ErrNotImage,
	validation.ErrUnsupportedType,
	validation.ErrTooLarge,
	validation.ErrBadDimensions,
}

// classify maps an error onto an HTTP status and the message shown to the user
func classify(err error) (int, string) {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest, target.Error()
		}
	}

	switch {
	case errors.Is(err, service.ErrInvalidRender),
		errors.Is(err, compositor.ErrInvalidOptions),
		errors.Is(err, chat.ErrPromptTooLong):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrBusy):
		return http.StatusServiceUnavailable, service.ErrBusy.Error()
	case errors.Is(err, chat.ErrNoBackend):
		return http.StatusServiceUnavailable, "chat is not enabled on this server"
	case errors.Is(err, imageio.ErrDownload), errors.Is(err, imageio.ErrNotAnImage):
		return http.StatusInternalServerError, msgDownloadFailed
	case errors.Is(err, segmentation.ErrMissingToken):
		return http.StatusInternalServerError, msgMisconfigured
	case errors.Is(err, segmentation.ErrPredictionPending), errors.Is(err, context.DeadlineExceeded):
		return http.StatusInternalServerError, msgModelTimeout
	case errors.Is(err, service.ErrRender), errors.Is(err, compositor.ErrEmptyImage):
		return http.StatusInternalServerError, msgRenderFailed
	default:
		return http.StatusInternalServerError, msgGeneric
	}
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, types.ErrorResponse{Success: false, Error: message})
}

// fail logs err and answers with its classified status
func fail(c *gin.Context, logger *zap.Logger, op string, err error) {
	status, message := classify(err)
	_ = c.Error(err)
	if status >= http.StatusInternalServerError {
		logger.Error(op+" failed", zap.Error(err))
	} else {
		logger.Info(op+" rejected", zap.Error(err))
	}
	respondError(c, status, message)
}
