package imageio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"

	"github.com/menta2k/blur-background/pkg/types"
)

func createTestImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{uint8(x * 10), uint8(y * 10), 128, 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

// headerPNG returns a grayscale PNG whose header declares width x height but
// which carries the pixel data of a 1x1 image
func headerPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	data := encodePNG(t, image.NewGray(image.Rect(0, 0, 1, 1)))
	binary.BigEndian.PutUint32(data[16:20], uint32(width))
	binary.BigEndian.PutUint32(data[20:24], uint32(height))
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestDecodeRoundTripFormats(t *testing.T) {
	img := createTestImage(16, 12)
	for _, format := range []string{"png", "jpg", "webp"} {
		data, contentType, err := EncodeBytes(img, types.EncodeOptions{Format: format, Quality: 90})
		if err != nil {
			t.Fatalf("%s: encode failed: %v", format, err)
		}
		if contentType != ContentType(FormatFromPath("x."+format)) {
			t.Errorf("%s: unexpected content type %s", format, contentType)
		}
		decoded, _, err := Decode(data)
		if err != nil {
			t.Fatalf("%s: decode failed: %v", format, err)
		}
		if decoded.Bounds().Dx() != 16 || decoded.Bounds().Dy() != 12 {
			t.Errorf("%s: expected 16x12, got %v", format, decoded.Bounds())
		}
	}
}

func TestDecodeGarbage(t *testing.T) {
	if _, _, err := Decode([]byte("definitely not an image")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestNormalizeFormat(t *testing.T) {
	cases := map[string]string{
		"":           FormatPNG,
		"PNG":        FormatPNG,
		".jpeg":      FormatJPEG,
		"image/jpeg": FormatJPEG,
		"webp":       FormatWebP,
	}
	for in, want := range cases {
		got, err := NormalizeFormat(in)
		if err != nil || got != want {
			t.Errorf("NormalizeFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := NormalizeFormat("tiff"); err == nil {
		t.Error("Expected tiff output to be rejected")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.png")
	if err := Save(createTestImage(10, 10), path, types.EncodeOptions{Format: FormatFromPath(path)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	img, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if img.Bounds().Dx() != 10 {
		t.Errorf("Expected width 10, got %d", img.Bounds().Dx())
	}
}

func TestFetch(t *testing.T) {
	payload := encodePNG(t, createTestImage(8, 8))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mask.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(payload)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcherWithClient(srv.Client())
	img, err := f.Fetch(context.Background(), srv.URL+"/mask.png")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if img.Bounds().Dx() != 8 {
		t.Errorf("Expected width 8, got %d", img.Bounds().Dx())
	}

	if _, err := f.Fetch(context.Background(), srv.URL+"/missing"); !errors.Is(err, ErrDownload) {
		t.Errorf("Expected ErrDownload for 404, got %v", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/page"); !errors.Is(err, ErrNotAnImage) {
		t.Errorf("Expected ErrNotAnImage for html, got %v", err)
	}
	if _, err := f.Fetch(context.Background(), "ftp://example.com/a.png"); err == nil {
		t.Error("Expected unsupported scheme error")
	}

	f.SetMaxBytes(10)
	if _, err := f.Fetch(context.Background(), srv.URL+"/mask.png"); !errors.Is(err, ErrDownload) {
		t.Errorf("Expected size limit error, got %v", err)
	}
}

func TestDecodeConfig(t *testing.T) {
	for _, format := range []string{"png", "jpg", "webp"} {
		data, _, err := EncodeBytes(createTestImage(20, 10), types.EncodeOptions{Format: format})
		if err != nil {
			t.Fatalf("%s: encode failed: %v", format, err)
		}
		cfg, _, err := DecodeConfig(data)
		if err != nil {
			t.Fatalf("%s: DecodeConfig failed: %v", format, err)
		}
		if cfg.Width != 20 || cfg.Height != 10 {
			t.Errorf("%s: expected 20x10, got %dx%d", format, cfg.Width, cfg.Height)
		}
	}

	if _, _, err := DecodeConfig([]byte("not an image")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestDecodeLimitedRejectsFromHeader(t *testing.T) {
	data := headerPNG(t, 12000, 12000)

	cfg, _, err := DecodeConfig(data)
	if err != nil || cfg.Width != 12000 {
		t.Fatalf("Expected header to declare 12000 pixels, got %+v, %v", cfg, err)
	}

	// The pixel data is missing, so only a header check can produce ErrDimensions
	if _, _, err := DecodeLimited(data, DefaultMaxDimension); !errors.Is(err, ErrDimensions) {
		t.Errorf("Expected ErrDimensions, got %v", err)
	}

	img, _, err := DecodeLimited(encodePNG(t, createTestImage(30, 5)), 30)
	if err != nil {
		t.Fatalf("DecodeLimited failed at the limit: %v", err)
	}
	if img.Bounds().Dx() != 30 {
		t.Errorf("Expected width 30, got %d", img.Bounds().Dx())
	}
}

func TestEncodeQuality(t *testing.T) {
	img := createTestImage(4, 4)
	var buf bytes.Buffer
	if err := Encode(&buf, img, types.EncodeOptions{Format: "jpg"}); err != nil {
		t.Errorf("Zero quality should use the default, got %v", err)
	}
	for _, q := range []int{-1, 101} {
		if err := Encode(&buf, img, types.EncodeOptions{Format: "jpg", Quality: q}); !errors.Is(err, ErrInvalidQuality) {
			t.Errorf("Quality %d: expected ErrInvalidQuality, got %v", q, err)
		}
	}
}

func TestFetchRejectsLargeImages(t *testing.T) {
	huge := headerPNG(t, 9000, 40)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(huge)
	}))
	defer srv.Close()

	f := NewFetcherWithClient(srv.Client())
	if _, err := f.Fetch(context.Background(), srv.URL+"/wide.png"); !errors.Is(err, ErrDimensions) {
		t.Errorf("Expected ErrDimensions, got %v", err)
	}

	f.SetMaxDimension(100)
	small := encodePNG(t, createTestImage(120, 10))
	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(small)
	}))
	defer srv2.Close()
	if _, err := f.Fetch(context.Background(), srv2.URL+"/a.png"); !errors.Is(err, ErrDimensions) {
		t.Errorf("Expected ErrDimensions above a custom limit, got %v", err)
	}
}

func TestFetchAllowedHosts(t *testing.T) {
	payload := encodePNG(t, createTestImage(8, 8))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/redirect" {
			http.Redirect(w, r, "http://169.254.169.254/latest/meta-data", http.StatusFound)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	f := NewFetcherWithClient(srv.Client())
	f.SetAllowedHosts([]string{"cdn.example.com"})
	if _, err := f.Fetch(context.Background(), srv.URL+"/a.png"); !errors.Is(err, ErrHostNotAllowed) {
		t.Errorf("Expected ErrHostNotAllowed, got %v", err)
	}

	f.SetAllowedHosts([]string{HostOf(srv.URL)})
	if _, err := f.Fetch(context.Background(), srv.URL+"/a.png"); err != nil {
		t.Errorf("Fetch from allowed host failed: %v", err)
	}
	if _, err := f.Fetch(context.Background(), srv.URL+"/redirect"); !errors.Is(err, ErrHostNotAllowed) {
		t.Errorf("Expected redirect to a disallowed host to fail, got %v", err)
	}
}

func TestHostListAllows(t *testing.T) {
	l := NewHostList([]string{" pub.example.r2.dev ", "*.replicate.delivery", "localhost:8080", ""})
	cases := map[string]bool{
		"https://pub.example.r2.dev/original-1.png":  true,
		"https://PUB.example.r2.dev:443/a.png":       true,
		"https://pbxt.replicate.delivery/mask.png":   true,
		"https://replicate.delivery.evil.com/a.png":  false,
		"http://localhost:8080/objects/a.png":        true,
		"http://localhost:9000/objects/a.png":        false,
		"http://169.254.169.254/latest/meta-data":    false,
		"http://127.0.0.1:8080/objects/original.png": false,
	}
	for raw, want := range cases {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatal(err)
		}
		if got := l.Allows(u); got != want {
			t.Errorf("Allows(%s) = %v, want %v", raw, got, want)
		}
	}
	if len(l) != 3 {
		t.Errorf("Expected blanks to be dropped, got %v", l)
	}
}
