package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/menta2k/blur-background/pkg/client"
	"github.com/menta2k/blur-background/pkg/types"
)

// DefaultPrompt is sent when the request carries no prompt
const DefaultPrompt = "Write a one-sentence bedtime story about a unicorn."

// MaxPromptLength caps prompts in runes
const MaxPromptLength = 4000

var (
	ErrNoBackend     = errors.New("chat: no model backend configured")
	ErrPromptTooLong = errors.New("chat: prompt is too long")
	ErrEmptyReply    = errors.New("chat: model returned an empty reply")
)

// Assistant answers single-turn prompts through a ChatClient
type Assistant struct {
	client       client.ChatClient
	defaultModel string
}

// NewAssistant creates an assistant. client may be nil, in which case
// every call fails with ErrNoBackend.
func NewAssistant(client client.ChatClient, defaultModel string) *Assistant {
	return &Assistant{client: client, defaultModel: defaultModel}
}

// Enabled reports whether a backend is configured
func (a *Assistant) Enabled() bool {
	return a != nil && a.client != nil
}

// Reply runs the request against the backend
func (a *Assistant) Reply(ctx context.Context, req types.ChatRequest) (*types.ChatResponse, error) {
	if !a.Enabled() {
		return nil, ErrNoBackend
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		prompt = DefaultPrompt
	}
	if utf8.RuneCountInString(prompt) > MaxPromptLength {
		return nil, ErrPromptTooLong
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = a.defaultModel
	}

	raw, err := a.client.Complete(ctx, model, prompt)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	reply := cleanReply(raw)
	if reply == "" {
		return nil, ErrEmptyReply
	}

	return &types.ChatResponse{
		Success: true,
		Reply:   reply,
		Model:   model,
	}, nil
}

// cleanReply strips code fences and surrounding quotes that small models
// like to wrap short answers in
func cleanReply(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		} else {
			raw = strings.TrimPrefix(raw, "```")
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)

	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = strings.TrimSpace(raw[1 : len(raw)-1])
	}
	return raw
}
