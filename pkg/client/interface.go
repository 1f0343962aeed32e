package client

import (
	"context"
)

// ChatClient sends a single-turn prompt to a language model backend
type ChatClient interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
}
