package storage

import (
	"context"
	"errors"
	"io"
	"strings"
)

var (
	ErrNotFound      = errors.New("storage: object not found")
	ErrInvalidKey    = errors.New("storage: invalid object key")
	ErrNotConfigured = errors.New("storage: object store is not configured")
)

// ObjectStore is the relay used to make uploads reachable by URL.
// Objects are written once and never listed.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// JoinURL builds the public URL of key under base
func JoinURL(base, key string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(key, "/")
}

func checkKey(key string) error {
	if strings.TrimSpace(key) == "" || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}
