package validation

import (
	"errors"
	"image"
	"testing"
)

func TestNew(t *testing.T) {
	v := New()
	if v == nil {
		t.Fatal("New() returned nil")
	}
	if v.config.MaxSize != 5*1024*1024 {
		t.Errorf("Expected max size 5MB, got %d", v.config.MaxSize)
	}
}

func TestValidateUpload(t *testing.T) {
	v := New()

	valid := []string{"image/jpeg", "image/jpg", "image/png", "image/webp", "IMAGE/PNG", "image/png; charset=binary"}
	for _, ct := range valid {
		if err := v.ValidateUpload(ct, 1024); err != nil {
			t.Errorf("%s should pass validation: %v", ct, err)
		}
	}

	if err := v.ValidateUpload("text/plain", 1024); !errors.Is(err, ErrNotImage) {
		t.Errorf("Expected ErrNotImage, got %v", err)
	}
	if err := v.ValidateUpload("image/gif", 1024); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("Expected ErrUnsupportedType, got %v", err)
	}
	if err := v.ValidateUpload("image/png", 5*1024*1024+1); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge, got %v", err)
	}
	if err := v.ValidateUpload("image/png", 5*1024*1024); err != nil {
		t.Errorf("Exactly 5MB should be accepted: %v", err)
	}
	if err := v.ValidateUpload("image/png", 0); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("Expected ErrEmptyFile, got %v", err)
	}
}

func TestValidateImage(t *testing.T) {
	v := NewWithConfig(Config{MinDimension: 10, MaxDimension: 100})

	if err := v.ValidateImage(image.NewGray(image.Rect(0, 0, 50, 50))); err != nil {
		t.Errorf("Valid image should pass validation: %v", err)
	}
	if err := v.ValidateImage(image.NewGray(image.Rect(0, 0, 5, 50))); !errors.Is(err, ErrBadDimensions) {
		t.Errorf("Small image should fail validation, got %v", err)
	}
	if err := v.ValidateImage(image.NewGray(image.Rect(0, 0, 50, 101))); !errors.Is(err, ErrBadDimensions) {
		t.Errorf("Large image should fail validation, got %v", err)
	}
}

func TestValidateDimensions(t *testing.T) {
	v := New()
	if err := v.ValidateDimensions(8192, 1); err != nil {
		t.Errorf("8192 pixels should pass validation: %v", err)
	}
	if err := v.ValidateDimensions(12000, 12000); !errors.Is(err, ErrBadDimensions) {
		t.Errorf("Expected ErrBadDimensions, got %v", err)
	}
	if err := v.ValidateDimensions(0, 10); !errors.Is(err, ErrBadDimensions) {
		t.Errorf("Expected ErrBadDimensions for zero width, got %v", err)
	}
}

func TestIsUserError(t *testing.T) {
	v := New()
	if !IsUserError(v.ValidateUpload("image/png", 10<<20)) {
		t.Error("Expected size error to be a user error")
	}
	if IsUserError(errors.New("boom")) {
		t.Error("Arbitrary error should not be a user error")
	}
}

func BenchmarkValidateUpload(b *testing.B) {
	v := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = v.ValidateUpload("image/png", 2048)
	}
}
