package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/menta2k/blur-background/internal/service"
	"github.com/menta2k/blur-background/pkg/types"
)

type ChatHandler struct {
	chat   *service.ChatService
	logger *zap.Logger
}

func NewChatHandler(chat *service.ChatService, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, logger: logger}
}

// Chat handles POST /api/chat. An empty body uses the default prompt.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req types.ChatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid request: "+err.Error())
			return
		}
	}

	resp, err := h.chat.Reply(c.Request.Context(), req)
	if err != nil {
		fail(c, h.logger, "chat", err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
