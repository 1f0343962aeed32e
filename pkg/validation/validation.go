package validation

import (
	"errors"
	"fmt"
	"image"
	"strings"
)

var (
	ErrEmptyFile       = errors.New("please upload an image file")
	ErrNotImage        = errors.New("please upload a valid image file")
	ErrUnsupportedType = errors.New("only JPEG, PNG and WebP images are supported")
	ErrTooLarge        = errors.New("image is too large")
	ErrBadDimensions   = errors.New("image dimensions out of range")
)

// Validator checks uploads before they are relayed to the model
type Validator struct {
	config Config
}

// Config holds upload limits
type Config struct {
	MaxSize      int64
	AllowedTypes []string
	MinDimension int
	MaxDimension int
}

// DefaultConfig matches the limits of the web tool: 5 MB, JPEG/PNG/WebP
func DefaultConfig() Config {
	return Config{
		MaxSize:      5 * 1024 * 1024,
		AllowedTypes: []string{"image/jpeg", "image/jpg", "image/png", "image/webp"},
		MinDimension: 1,
		MaxDimension: 8192,
	}
}

// New creates a Validator with default configuration
func New() *Validator {
	return &Validator{config: DefaultConfig()}
}

// NewWithConfig creates a Validator with custom configuration
func NewWithConfig(config Config) *Validator {
	return &Validator{config: config}
}

// Config returns the active limits
func (v *Validator) Config() Config {
	return v.config
}

// ValidateUpload checks the declared content type and size of an upload
func (v *Validator) ValidateUpload(contentType string, size int64) error {
	if size <= 0 {
		return ErrEmptyFile
	}

	// Drop parameters such as "; charset=binary"
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(contentType)

	if !strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return ErrNotImage
	}
	if !v.isTypeAllowed(contentType) {
		return ErrUnsupportedType
	}
	if v.config.MaxSize > 0 && size > v.config.MaxSize {
		return fmt.Errorf("%w: %d bytes (maximum: %d MB)", ErrTooLarge, size, v.config.MaxSize/(1024*1024))
	}
	return nil
}

// ValidateImage checks the decoded dimensions
func (v *Validator) ValidateImage(img image.Image) error {
	bounds := img.Bounds()
	return v.ValidateDimensions(bounds.Dx(), bounds.Dy())
}

// ValidateDimensions checks dimensions read from an image header, before the
// pixels are decoded
func (v *Validator) ValidateDimensions(w, h int) error {
	if w < v.config.MinDimension || h < v.config.MinDimension {
		return fmt.Errorf("%w: %dx%d (minimum: %d)", ErrBadDimensions, w, h, v.config.MinDimension)
	}
	if v.config.MaxDimension > 0 && (w > v.config.MaxDimension || h > v.config.MaxDimension) {
		return fmt.Errorf("%w: %dx%d (maximum: %d)", ErrBadDimensions, w, h, v.config.MaxDimension)
	}
	return nil
}

// IsUserError reports whether err is a validation failure the client caused
func IsUserError(err error) bool {
	return errors.Is(err, ErrEmptyFile) ||
		errors.Is(err, ErrNotImage) ||
		errors.Is(err, ErrUnsupportedType) ||
		errors.Is(err, ErrTooLarge) ||
		errors.Is(err, ErrBadDimensions)
}

func (v *Validator) isTypeAllowed(contentType string) bool {
	for _, allowed := range v.config.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}
