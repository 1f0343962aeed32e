// Package saliency builds a rough foreground mask without a segmentation
// model. It scores pixels by edge strength, distance from the mean colour and
// closeness to the image centre, then thresholds a smoothed score map.
package saliency

import (
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

var ErrEmptyImage = errors.New("saliency: empty image")

// MaskGenerator produces grayscale subject masks from image statistics
type MaskGenerator struct {
	config Config
}

// Config holds configuration for mask generation
type Config struct {
	EdgeWeight     float64
	ContrastWeight float64
	CenterBias     float64
	// Threshold is relative to the strongest smoothed score, in [0,1]
	Threshold float64
	// Smoothing is the blur sigma as a fraction of the working image's shorter side
	Smoothing float64
	// MaxSide bounds the working resolution
	MaxSide int
}

// Region represents the bounding box of the detected subject
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
	Score  float64
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

// Result is a generated mask plus the subject bounds in original pixels
type Result struct {
	Mask    *image.Gray
	Subject Region
}

// New creates a MaskGenerator with default configuration
func New() *MaskGenerator {
	return &MaskGenerator{
		config: Config{
			EdgeWeight:     0.3,
			ContrastWeight: 0.7,
			CenterBias:     0.5,
			Threshold:      0.45,
			Smoothing:      0.03,
			MaxSide:        256,
		},
	}
}

// NewWithConfig creates a MaskGenerator with custom configuration
func NewWithConfig(config Config) *MaskGenerator {
	return &MaskGenerator{config: config}
}

// Generate returns a white-on-black mask the same size as img
func (g *MaskGenerator) Generate(img image.Image) (*Result, error) {
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, ErrEmptyImage
	}
	width, height := bounds.Dx(), bounds.Dy()

	work := imaging.Clone(img)
	if g.config.MaxSide > 0 && (width > g.config.MaxSide || height > g.config.MaxSide) {
		work = imaging.Fit(work, g.config.MaxSide, g.config.MaxSide, imaging.Box)
	}
	ww, wh := work.Bounds().Dx(), work.Bounds().Dy()

	scores := g.calculateSaliencyMap(work)

	// Smooth the score map into blobs before thresholding
	sigma := g.config.Smoothing * float64(minInt(ww, wh))
	if sigma > 0.5 {
		scores = imaging.Blur(scores, sigma)
	}

	maxScore := 0
	for i := 0; i < len(scores.Pix); i += 4 {
		if int(scores.Pix[i]) > maxScore {
			maxScore = int(scores.Pix[i])
		}
	}

	small := image.NewGray(image.Rect(0, 0, ww, wh))
	cut := uint8(math.Round(g.config.Threshold * float64(maxScore)))
	minX, minY, maxX, maxY := ww, wh, -1, -1
	var sum float64
	count := 0
	for y := 0; y < wh; y++ {
		for x := 0; x < ww; x++ {
			v := scores.Pix[y*scores.Stride+x*4]
			if maxScore == 0 || v < cut {
				continue
			}
			small.Pix[y*small.Stride+x] = 255
			sum += float64(v) / 255
			count++
			minX, minY = minInt(minX, x), minInt(minY, y)
			maxX, maxY = maxInt(maxX, x), maxInt(maxY, y)
		}
	}

	mask := small
	if ww != width || wh != height {
		mask = toGray(imaging.Resize(small, width, height, imaging.Linear))
	}

	result := &Result{Mask: mask}
	if count > 0 {
		sx := float64(width) / float64(ww)
		sy := float64(height) / float64(wh)
		result.Subject = Region{
			X:      int(float64(minX) * sx),
			Y:      int(float64(minY) * sy),
			Width:  int(math.Ceil(float64(maxX-minX+1) * sx)),
			Height: int(math.Ceil(float64(maxY-minY+1) * sy)),
			Score:  sum / float64(count),
		}
	}
	return result, nil
}

// calculateSaliencyMap scores every pixel and returns the scores as a grey NRGBA image
func (g *MaskGenerator) calculateSaliencyMap(img *image.NRGBA) *image.NRGBA {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()

	// Mean colour for global contrast
	var mr, mg, mb float64
	for i := 0; i < len(img.Pix); i += 4 {
		mr += float64(img.Pix[i])
		mg += float64(img.Pix[i+1])
		mb += float64(img.Pix[i+2])
	}
	n := float64(width * height)
	mr, mg, mb = mr/n, mg/n, mb/n

	raw := make([]float64, width*height)
	maxEdge, maxContrast := 0.0, 0.0
	edges := make([]float64, width*height)
	contrasts := make([]float64, width*height)

	neighbors := [][2]int{{-1, -1}, {-1, 0}, {-1, 1}, {0, -1}, {0, 1}, {1, -1}, {1, 0}, {1, 1}}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r1, g1, b1 := pixel(img, x, y)

			// Edge strength against the 8 neighbours
			var edgeStrength float64
			for _, offset := range neighbors {
				nx, ny := x+offset[0], y+offset[1]
				if nx < 0 || ny < 0 || nx >= width || ny >= height {
					continue
				}
				r2, g2, b2 := pixel(img, nx, ny)
				edgeStrength += colorDistance(r1, g1, b1, r2, g2, b2)
			}
			edges[y*width+x] = edgeStrength
			maxEdge = math.Max(maxEdge, edgeStrength)

			c := colorDistance(r1, g1, b1, mr, mg, mb)
			contrasts[y*width+x] = c
			maxContrast = math.Max(maxContrast, c)
		}
	}

	cx, cy := float64(width-1)/2, float64(height-1)/2
	maxD := math.Hypot(cx, cy)
	maxRaw := 0.0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			var e, c float64
			if maxEdge > 0 {
				e = edges[i] / maxEdge
			}
			if maxContrast > 0 {
				c = contrasts[i] / maxContrast
			}
			s := g.config.EdgeWeight*e + g.config.ContrastWeight*c
			if maxD > 0 {
				d := math.Hypot(float64(x)-cx, float64(y)-cy) / maxD
				s *= 1 - g.config.CenterBias*d*d
			}
			raw[i] = s
			maxRaw = math.Max(maxRaw, s)
		}
	}

	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i, s := range raw {
		var v uint8
		if maxRaw > 0 {
			v = uint8(math.Round(s / maxRaw * 255))
		}
		o := i * 4
		out.Pix[o], out.Pix[o+1], out.Pix[o+2], out.Pix[o+3] = v, v, v, 255
	}
	return out
}

func pixel(img *image.NRGBA, x, y int) (float64, float64, float64) {
	i := y*img.Stride + x*4
	return float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
}

func colorDistance(r1, g1, b1, r2, g2, b2 float64) float64 {
	dr, dg, db := r1-r2, g1-g2, b1-b2
	return math.Sqrt(dr*dr + dg*dg + db*db)
}

func toGray(img *image.NRGBA) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := img.NRGBAAt(b.Min.X+x, b.Min.Y+y)
			out.SetGray(x, y, color.Gray{Y: c.R})
		}
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
