package imageio

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/blur-background/pkg/types"
)

// Output formats
const (
	FormatPNG  = "png"
	FormatJPEG = "jpg"
	FormatWebP = "webp"
)

// DefaultQuality is used for lossy formats when none is given
const DefaultQuality = 90

// DefaultMaxDimension bounds either side of a decoded image
const DefaultMaxDimension = 8192

var (
	ErrUnsupportedFormat = errors.New("image: unknown or unsupported format")
	ErrDimensions        = errors.New("image dimensions exceed the limit")
	ErrInvalidQuality    = errors.New("quality must be between 1 and 100")
)

// Decode decodes an image from bytes with WebP support
func Decode(data []byte) (image.Image, string, error) {
	// Try standard image.Decode first
	if img, format, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, format, nil
	}

	// Try WebP decode
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, "webp", nil
	}

	return nil, "", ErrUnsupportedFormat
}

// DecodeConfig reads only the header and returns the dimensions and format
func DecodeConfig(data []byte) (image.Config, string, error) {
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return cfg, format, nil
	}
	if cfg, err := webp.DecodeConfig(bytes.NewReader(data)); err == nil {
		return cfg, "webp", nil
	}
	return image.Config{}, "", ErrUnsupportedFormat
}

// DecodeLimited checks the header before decoding so oversized images are
// rejected without allocating their pixels. maxSide <= 0 disables the check.
func DecodeLimited(data []byte, maxSide int) (image.Image, string, error) {
	cfg, _, err := DecodeConfig(data)
	if err != nil {
		return nil, "", err
	}
	if maxSide > 0 && (cfg.Width > maxSide || cfg.Height > maxSide) {
		return nil, "", fmt.Errorf("%w: %dx%d (maximum: %d)", ErrDimensions, cfg.Width, cfg.Height, maxSide)
	}
	return Decode(data)
}

// DecodeReader reads r fully and decodes it
func DecodeReader(r io.Reader) (image.Image, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %w", err)
	}
	return Decode(data)
}

// Load loads an image from a file path with WebP support
func Load(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, _, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, path)
	}
	return img, nil
}

// NormalizeFormat maps user input to one of the output formats
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "", "png", "image/png":
		return FormatPNG, nil
	case "jpg", "jpeg", "image/jpeg", "image/jpg":
		return FormatJPEG, nil
	case "webp", "image/webp":
		return FormatWebP, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// ContentType returns the MIME type of an output format
func ContentType(format string) string {
	switch format {
	case FormatJPEG:
		return "image/jpeg"
	case FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// Encode writes img to w in the requested format
func Encode(w io.Writer, img image.Image, opts types.EncodeOptions) error {
	format, err := NormalizeFormat(opts.Format)
	if err != nil {
		return err
	}
	quality := opts.Quality
	if quality == 0 {
		quality = DefaultQuality
	}
	if quality < 1 || quality > 100 {
		return fmt.Errorf("%w, got %d", ErrInvalidQuality, quality)
	}

	switch format {
	case FormatWebP:
		return webp.Encode(w, img, &webp.Options{Lossless: opts.Lossless, Quality: float32(quality)})
	case FormatJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	default:
		enc := png.Encoder{CompressionLevel: png.DefaultCompression}
		return enc.Encode(w, img)
	}
}

// EncodeBytes encodes img and returns the bytes with their content type
func EncodeBytes(img image.Image, opts types.EncodeOptions) ([]byte, string, error) {
	format, err := NormalizeFormat(opts.Format)
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, img, opts); err != nil {
		return nil, "", fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), ContentType(format), nil
}

// Save saves an image to a file with the specified format and quality
func Save(img image.Image, path string, opts types.EncodeOptions) error {
	if _, err := NormalizeFormat(opts.Format); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, img, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// FormatFromPath infers the output format from a file extension
func FormatFromPath(path string) string {
	i := strings.LastIndex(path, ".")
	if i < 0 {
		return FormatPNG
	}
	if f, err := NormalizeFormat(path[i+1:]); err == nil {
		return f
	}
	return FormatPNG
}
