// Package blurbackground blurs the background of photos behind a foreground
// subject.
//
// A foreground mask (white subject on black, or an alpha matte) is produced
// by a segmentation model, or estimated locally from saliency, and the photo
// is composited over a blurred copy of itself so only the background is soft.
//
// Basic usage:
//
//	package main
//
//	import (
//		"log"
//
//		blurbackground "github.com/menta2k/blur-background"
//	)
//
//	func main() {
//		b := blurbackground.New()
//
//		img, err := b.LoadImage("photo.jpg")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		mask, err := b.LoadImage("mask.png")
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		out, err := b.Composite(img, mask)
//		if err != nil {
//			log.Fatal(err)
//		}
//
//		if err := b.SaveImage(out, "photo_blurred.png"); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The package consists of these components:
//
//  1. Compositor (pkg/compositor): mask alpha, feathering and background blur
//  2. Saliency (pkg/saliency): local foreground mask estimation
//  3. Segmentation (pkg/segmentation): remote matting model client
//  4. Image I/O (pkg/imageio): decoding, encoding and downloads
//
// The HTTP service in cmd/blurbg relays uploads to object storage, asks the
// segmentation model for a mask and returns both URLs to the browser, which
// composites them; the same compositing is available server-side.
package blurbackground

import (
	"context"
	"fmt"
	"image"
	"io"
	"path/filepath"
	"strings"

	"github.com/menta2k/blur-background/pkg/compositor"
	"github.com/menta2k/blur-background/pkg/imageio"
	"github.com/menta2k/blur-background/pkg/saliency"
	"github.com/menta2k/blur-background/pkg/types"
	"github.com/menta2k/blur-background/pkg/validation"
)

// Version of the blur-background library
const Version = "1.0.0"

// Blurrer provides a high-level interface for local background blurring
type Blurrer struct {
	compositor *compositor.Compositor
	encode     types.EncodeOptions
	masks      *saliency.MaskGenerator
	validator  *validation.Validator
}

// New creates a Blurrer with default configuration
func New() *Blurrer {
	return &Blurrer{
		compositor: compositor.New(),
		encode:     types.EncodeOptions{Format: imageio.FormatPNG, Quality: 90},
		masks:      saliency.New(),
		validator:  validation.New(),
	}
}

// NewWithConfig creates a Blurrer with custom configuration
func NewWithConfig(options compositor.Options, saliencyConfig saliency.Config, validationConfig validation.Config) *Blurrer {
	b := New()
	b.compositor = compositor.NewWithOptions(options)
	b.masks = saliency.NewWithConfig(saliencyConfig)
	b.validator = validation.NewWithConfig(validationConfig)
	return b
}

// Options returns the compositing options
func (b *Blurrer) Options() compositor.Options {
	return b.compositor.Defaults()
}

// SetEncodeOptions sets the quality and lossless flag used by SaveImage
func (b *Blurrer) SetEncodeOptions(opts types.EncodeOptions) {
	b.encode = opts
}

// LoadImage loads an image from file
func (b *Blurrer) LoadImage(path string) (image.Image, error) {
	return imageio.Load(path)
}

// LoadImageFromReader loads an image from an io.Reader
func (b *Blurrer) LoadImageFromReader(reader io.Reader) (image.Image, error) {
	img, _, err := imageio.DecodeReader(reader)
	return img, err
}

// SaveImage saves an image, choosing the format from the file extension
func (b *Blurrer) SaveImage(img image.Image, path string) error {
	opts := b.encode
	opts.Format = imageio.FormatFromPath(path)
	return imageio.Save(img, path, opts)
}

// GenerateMask estimates a foreground mask without a segmentation model
func (b *Blurrer) GenerateMask(img image.Image) (*saliency.Result, error) {
	return b.masks.Generate(img)
}

// Composite blurs the background of img using mask
func (b *Blurrer) Composite(img, mask image.Image) (*image.NRGBA, error) {
	return b.compositor.Composite(context.Background(), img, mask)
}

// Blur estimates a mask locally and composites with it
func (b *Blurrer) Blur(img image.Image) (*image.NRGBA, error) {
	if err := b.validator.ValidateImage(img); err != nil {
		return nil, fmt.Errorf("image validation failed: %w", err)
	}
	res, err := b.GenerateMask(img)
	if err != nil {
		return nil, fmt.Errorf("mask estimation failed: %w", err)
	}
	return b.Composite(img, res.Mask)
}

// ProcessImageFile is a convenience function that loads, blurs and saves an
// image. An empty maskPath estimates the mask locally.
func (b *Blurrer) ProcessImageFile(inputPath, maskPath, outputDir string) (string, error) {
	img, err := b.LoadImage(inputPath)
	if err != nil {
		return "", fmt.Errorf("failed to load image: %w", err)
	}

	var out *image.NRGBA
	if maskPath == "" {
		out, err = b.Blur(img)
	} else {
		var mask image.Image
		mask, err = b.LoadImage(maskPath)
		if err != nil {
			return "", fmt.Errorf("failed to load mask: %w", err)
		}
		out, err = b.Composite(img, mask)
	}
	if err != nil {
		return "", err
	}

	outputPath := filepath.Join(outputDir, getBaseName(inputPath)+"_blurred."+b.extension())
	if err := b.SaveImage(out, outputPath); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", outputPath, err)
	}
	return outputPath, nil
}

func (b *Blurrer) extension() string {
	if f, err := imageio.NormalizeFormat(b.encode.Format); err == nil {
		return f
	}
	return imageio.FormatPNG
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}

// getBaseName extracts the base filename without extension
func getBaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
