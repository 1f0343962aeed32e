package compositor

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// MaskAlpha converts a mask into a row-major plane of foreground weights in
// [0,1], resized to w x h when the mask has other dimensions. Brightness is
// the weight; transparent mask pixels count as background.
func MaskAlpha(mask image.Image, w, h int) []float32 {
	var m *image.NRGBA
	b := mask.Bounds()
	if b.Dx() != w || b.Dy() != h {
		m = imaging.Resize(mask, w, h, imaging.Linear)
	} else {
		m = imaging.Clone(mask)
	}

	plane := make([]float32, w*h)
	for y := 0; y < h; y++ {
		row := m.Pix[y*m.Stride : y*m.Stride+w*4]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+4 : x*4+4]
			plane[y*w+x] = float32(luma(p[0], p[1], p[2]) / 255 * float64(p[3]) / 255)
		}
	}
	return plane
}

// luma uses the Rec. 601 weights; grey pixels return their value unchanged
func luma(r, g, b uint8) float64 {
	if r == g && g == b {
		return float64(r)
	}
	return 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
}

// GaussianKernel1D returns a normalized, odd-length kernel covering three
// standard deviations on each side.
func GaussianKernel1D(sigma float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	radius := int(math.Ceil(sigma * 3))
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := range kernel {
		x := float64(i - radius)
		kernel[i] = math.Exp(-(x * x) / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// BlurAlpha applies a separable Gaussian to an alpha plane. Edges are clamped.
func BlurAlpha(plane []float32, w, h int, sigma float64) []float32 {
	kernel := GaussianKernel1D(sigma)
	if len(kernel) == 1 || w == 0 || h == 0 {
		return plane
	}
	radius := len(kernel) / 2

	tmp := make([]float32, len(plane))
	for y := 0; y < h; y++ {
		row := plane[y*w : y*w+w]
		for x := 0; x < w; x++ {
			var sum float64
			for k, weight := range kernel {
				sx := clampInt(x+k-radius, 0, w-1)
				sum += float64(row[sx]) * weight
			}
			tmp[y*w+x] = float32(sum)
		}
	}

	out := make([]float32, len(plane))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for k, weight := range kernel {
				sy := clampInt(y+k-radius, 0, h-1)
				sum += float64(tmp[sy*w+x]) * weight
			}
			out[y*w+x] = clamp01(float32(sum))
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
