package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultExtension is used when the upload name has none
const DefaultExtension = "png"

// GenerateObjectKey builds "<prefix><unixMillis>-<8 hex>.<ext>" from the
// uploaded file name
func GenerateObjectKey(originalName, prefix string) string {
	return generateObjectKey(originalName, prefix, time.Now())
}

func generateObjectKey(originalName, prefix string, now time.Time) string {
	ext := SanitizeExtension(GetFileExtension(originalName))
	if ext == "" {
		ext = DefaultExtension
	}
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%d-%s.%s", prefix, now.UnixMilli(), random, ext)
}

// MaskKey derives the mask object key from the original's key
func MaskKey(originalKey string) string {
	base := strings.TrimSuffix(originalKey, "."+GetFileExtension(originalKey))
	base = strings.TrimPrefix(base, "original-")
	return "mask-" + base + ".png"
}
