package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/blur-background/pkg/chat"
	"github.com/menta2k/blur-background/pkg/types"
)

// ChatService runs the chat demo with a per-request timeout
type ChatService struct {
	assistant *chat.Assistant
	timeout   time.Duration
	logger    *zap.Logger
}

func NewChatService(assistant *chat.Assistant, timeout time.Duration, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{assistant: assistant, timeout: timeout, logger: logger}
}

// Enabled reports whether a model backend is configured
func (s *ChatService) Enabled() bool {
	return s.assistant.Enabled()
}

func (s *ChatService) Reply(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := s.assistant.Reply(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logger.Info("chat reply",
		zap.String("model", resp.Model),
		zap.Int("reply_len", len(resp.Reply)),
		zap.Duration("cost", time.Since(start)))
	return resp, nil
}
