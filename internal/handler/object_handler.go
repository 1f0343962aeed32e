package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/menta2k/blur-background/pkg/storage"
)

// ObjectHandler serves relayed objects when the store has no public endpoint
// of its own (the in-memory backend)
type ObjectHandler struct {
	store  storage.ObjectStore
	logger *zap.Logger
}

func NewObjectHandler(store storage.ObjectStore, logger *zap.Logger) *ObjectHandler {
	return &ObjectHandler{store: store, logger: logger}
}

// Get handles GET /objects/*key
func (h *ObjectHandler) Get(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")

	rc, err := h.store.Get(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidKey) {
			respondError(c, http.StatusNotFound, "object not found")
			return
		}
		h.logger.Error("failed to read object", zap.String("key", key), zap.Error(err))
		respondError(c, http.StatusInternalServerError, msgGeneric)
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		h.logger.Error("failed to read object", zap.String("key", key), zap.Error(err))
		respondError(c, http.StatusInternalServerError, msgGeneric)
		return
	}

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, contentType, data)
}
