package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/anthonynsimon/bild/blur"
	"github.com/disintegration/imaging"
)

// Blur methods for the background layer
const (
	BlurGaussian = "gaussian"
	BlurBox      = "box"
)

// Limits accepted by Options.Validate
const (
	MaxBlurRadius   = 100.0
	MaxFeatherSigma = 50.0
)

var (
	ErrEmptyImage     = errors.New("image is empty")
	ErrInvalidOptions = errors.New("invalid composite options")
)

// Options controls a single composite pass
type Options struct {
	// BlurRadius is the standard deviation of the background blur in pixels,
	// the same unit as the CSS blur() filter. Zero disables the blur.
	BlurRadius float64
	// Feather softens the mask edge with a Gaussian of FeatherSigma.
	Feather      bool
	FeatherSigma float64
	// BlurMethod is BlurGaussian (default) or BlurBox.
	BlurMethod string
}

// DefaultOptions returns the settings used by the web tool
func DefaultOptions() Options {
	return Options{
		BlurRadius:   15,
		Feather:      false,
		FeatherSigma: 3,
		BlurMethod:   BlurGaussian,
	}
}

// Validate checks that the options are within usable ranges
func (o Options) Validate() error {
	if o.BlurRadius < 0 || o.BlurRadius > MaxBlurRadius {
		return fmt.Errorf("%w: blur radius must be between 0 and %.0f", ErrInvalidOptions, MaxBlurRadius)
	}
	if o.Feather && (o.FeatherSigma <= 0 || o.FeatherSigma > MaxFeatherSigma) {
		return fmt.Errorf("%w: feather sigma must be in (0, %.0f]", ErrInvalidOptions, MaxFeatherSigma)
	}
	switch strings.ToLower(o.BlurMethod) {
	case "", BlurGaussian, BlurBox:
	default:
		return fmt.Errorf("%w: unknown blur method %q", ErrInvalidOptions, o.BlurMethod)
	}
	return nil
}

// Compositor blends a sharp foreground over a blurred copy of the same image
type Compositor struct {
	defaults Options
}

// New creates a Compositor with DefaultOptions
func New() *Compositor {
	return &Compositor{defaults: DefaultOptions()}
}

// NewWithOptions creates a Compositor with custom default options
func NewWithOptions(opts Options) *Compositor {
	return &Compositor{defaults: opts}
}

// Defaults returns the options used by Composite
func (c *Compositor) Defaults() Options {
	return c.defaults
}

// Composite runs the pipeline with the compositor's default options
func (c *Compositor) Composite(ctx context.Context, original, mask image.Image) (*image.NRGBA, error) {
	return Composite(ctx, original, mask, c.defaults)
}

// CompositeWithOptions runs the pipeline with explicit options
func (c *Compositor) CompositeWithOptions(ctx context.Context, original, mask image.Image, opts Options) (*image.NRGBA, error) {
	return Composite(ctx, original, mask, opts)
}

// Composite produces an opaque image the size of original where white mask
// pixels keep the original and black mask pixels take the blurred background.
// Grey values interpolate linearly between the two.
func Composite(ctx context.Context, original, mask image.Image, opts Options) (*image.NRGBA, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if original == nil || original.Bounds().Empty() {
		return nil, fmt.Errorf("original: %w", ErrEmptyImage)
	}
	if mask == nil || mask.Bounds().Empty() {
		return nil, fmt.Errorf("mask: %w", ErrEmptyImage)
	}

	sharp := imaging.Clone(original)
	w, h := sharp.Bounds().Dx(), sharp.Bounds().Dy()

	alpha := MaskAlpha(mask, w, h)
	if opts.Feather {
		alpha = BlurAlpha(alpha, w, h, opts.FeatherSigma)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blurred := blurBackground(sharp, opts)

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		so := y * sharp.Stride
		bo := y * blurred.Stride
		do := y * out.Stride
		ao := y * w
		for x := 0; x < w; x++ {
			a := float64(alpha[ao+x])
			s := sharp.Pix[so+x*4 : so+x*4+3 : so+x*4+3]
			b := blurred.Pix[bo+x*4 : bo+x*4+3 : bo+x*4+3]
			d := out.Pix[do+x*4 : do+x*4+4 : do+x*4+4]
			d[0] = lerp(b[0], s[0], a)
			d[1] = lerp(b[1], s[1], a)
			d[2] = lerp(b[2], s[2], a)
			d[3] = 0xff
		}
	}

	return out, nil
}

// blurBackground returns the blurred layer as NRGBA with origin at 0,0
func blurBackground(src *image.NRGBA, opts Options) *image.NRGBA {
	if opts.BlurRadius <= 0 {
		return src
	}
	if strings.EqualFold(opts.BlurMethod, BlurBox) {
		return imaging.Clone(blur.Box(src, opts.BlurRadius))
	}
	return imaging.Blur(src, opts.BlurRadius)
}

// lerp mixes background and foreground by a in [0,1]
func lerp(bg, fg uint8, a float64) uint8 {
	v := a*float64(fg) + (1-a)*float64(bg) + 0.5
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
