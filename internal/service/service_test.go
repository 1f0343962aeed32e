package service

import (
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/menta2k/blur-background/pkg/cache"
	"github.com/menta2k/blur-background/pkg/chat"
	"github.com/menta2k/blur-background/pkg/compositor"
	"github.com/menta2k/blur-background/pkg/imageio"
	"github.com/menta2k/blur-background/pkg/segmentation"
	"github.com/menta2k/blur-background/pkg/storage"
	"github.com/menta2k/blur-background/pkg/types"
	"github.com/menta2k/blur-background/pkg/validation"
)

// createTestImage creates a test image with a bright square in the middle
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/3 && x < 2*width/3 && y > height/3 && y < 2*height/3 {
				img.Set(x, y, color.RGBA{240, 200, 160, 255})
			} else {
				img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 4), 90, 255})
			}
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	data, _, err := imageio.EncodeBytes(img, types.EncodeOptions{Format: imageio.FormatPNG})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return data
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

type fakeSegmenter struct {
	calls   int32
	result  *segmentation.Result
	err     error
	lastURL string
}

func (f *fakeSegmenter) Name() string { return "fake" }

func (f *fakeSegmenter) Segment(ctx context.Context, req segmentation.Request) (*segmentation.Result, error) {
	atomic.AddInt32(&f.calls, 1)
	f.lastURL = req.ImageURL
	return f.result, f.err
}

func newBlurService(seg segmentation.Segmenter, store *storage.MemoryStore, withCache bool) *BlurService {
	var results *cache.ResultCache
	if withCache {
		results = cache.NewResultCache(cache.NewMemoryStore(), time.Hour)
	}
	return NewBlurService(validation.New(), store, seg, results, "original-", nil)
}

func TestBlurServiceProcess(t *testing.T) {
	store := storage.NewMemoryStore("https://cdn.example.com")
	seg := &fakeSegmenter{result: &segmentation.Result{MaskURL: "https://replicate.delivery/mask.png"}}
	svc := newBlurService(seg, store, true)

	data := encodePNG(t, createTestImage(40, 30))
	res, err := svc.Process(context.Background(), Upload{Filename: "me.png", ContentType: "image/png", Data: data})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !res.Success || res.MaskURL != "https://replicate.delivery/mask.png" {
		t.Errorf("Unexpected result %+v", res)
	}
	if !strings.HasPrefix(res.OriginalURL, "https://cdn.example.com/original-") || !strings.HasSuffix(res.OriginalURL, ".png") {
		t.Errorf("Unexpected original URL %s", res.OriginalURL)
	}
	if seg.lastURL != res.OriginalURL {
		t.Errorf("Segmenter should receive the relayed URL, got %s", seg.lastURL)
	}
	if store.Len() != 1 {
		t.Errorf("Expected 1 stored object, got %d", store.Len())
	}
}

func TestBlurServiceCacheHit(t *testing.T) {
	store := storage.NewMemoryStore("https://cdn.example.com")
	seg := &fakeSegmenter{result: &segmentation.Result{MaskURL: "https://replicate.delivery/mask.png"}}
	svc := newBlurService(seg, store, true)

	up := Upload{Filename: "me.png", ContentType: "image/png", Data: encodePNG(t, createTestImage(40, 30))}
	first, err := svc.Process(context.Background(), up)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	second, err := svc.Process(context.Background(), up)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if !second.Cached || second.OriginalURL != first.OriginalURL || second.MaskURL != first.MaskURL {
		t.Errorf("Expected cached copy of %+v, got %+v", first, second)
	}
	if n := atomic.LoadInt32(&seg.calls); n != 1 {
		t.Errorf("Expected one segmentation call, got %d", n)
	}
	if store.Len() != 1 {
		t.Errorf("Cache hit should not upload again, got %d objects", store.Len())
	}
}

func TestBlurServiceValidation(t *testing.T) {
	seg := &fakeSegmenter{}
	svc := newBlurService(seg, storage.NewMemoryStore(""), false)
	ctx := context.Background()

	if _, err := svc.Process(ctx, Upload{Filename: "a.txt", ContentType: "text/plain", Data: []byte("hi")}); !errors.Is(err, validation.ErrNotImage) {
		t.Errorf("Expected ErrNotImage, got %v", err)
	}
	if _, err := svc.Process(ctx, Upload{Filename: "a.gif", ContentType: "image/gif", Data: []byte("GIF89a")}); !errors.Is(err, validation.ErrUnsupportedType) {
		t.Errorf("Expected ErrUnsupportedType, got %v", err)
	}
	if _, err := svc.Process(ctx, Upload{Filename: "a.png", ContentType: "image/png", Size: 6 << 20, Data: []byte("x")}); !errors.Is(err, validation.ErrTooLarge) {
		t.Errorf("Expected ErrTooLarge, got %v", err)
	}
	if _, err := svc.Process(ctx, Upload{Filename: "a.png", ContentType: "image/png", Data: []byte("not a png")}); !errors.Is(err, validation.ErrNotImage) {
		t.Errorf("Expected ErrNotImage for undecodable bytes, got %v", err)
	}
	if seg.calls != 0 {
		t.Error("Invalid uploads must not reach the segmenter")
	}
}

func TestBlurServiceRejectsLargeImageFromHeader(t *testing.T) {
	seg := &fakeSegmenter{result: &segmentation.Result{MaskURL: "https://replicate.delivery/m.png"}}
	store := storage.NewMemoryStore("")
	svc := newBlurService(seg, store, false)

	// Decoding the pixels would fail with ErrNotImage; the header check must win
	_, err := svc.Process(context.Background(), Upload{Filename: "big.png", ContentType: "image/png", Data: headerPNG(t, 12000, 12000)})
	if !errors.Is(err, validation.ErrBadDimensions) {
		t.Errorf("Expected ErrBadDimensions, got %v", err)
	}
	if store.Len() != 0 || atomic.LoadInt32(&seg.calls) != 0 {
		t.Error("Oversized uploads must not be stored or segmented")
	}
}

func TestBlurServiceSegmentationError(t *testing.T) {
	seg := &fakeSegmenter{err: segmentation.ErrPredictionPending}
	svc := newBlurService(seg, storage.NewMemoryStore(""), true)

	_, err := svc.Process(context.Background(), Upload{Filename: "me.jpg", ContentType: "image/png", Data: encodePNG(t, createTestImage(20, 20))})
	if !errors.Is(err, ErrSegmentation) || !errors.Is(err, segmentation.ErrPredictionPending) {
		t.Errorf("Expected wrapped pending error, got %v", err)
	}
}

func TestBlurServiceStoresLocalMask(t *testing.T) {
	store := storage.NewMemoryStore("http://localhost:8080/objects")
	svc := newBlurService(segmentation.NewLocalSegmenter(nil), store, false)

	res, err := svc.Process(context.Background(), Upload{Filename: "me.png", ContentType: "image/png", Data: encodePNG(t, createTestImage(60, 60))})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !strings.HasPrefix(res.MaskURL, "http://localhost:8080/objects/mask-") {
		t.Errorf("Expected stored mask URL, got %s", res.MaskURL)
	}
	if store.Len() != 2 {
		t.Errorf("Expected original and mask to be stored, got %d", store.Len())
	}
}

func newImageServer(t *testing.T, original, mask image.Image) *httptest.Server {
	t.Helper()
	orig := encodePNG(t, original)
	m := encodePNG(t, mask)
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		switch r.URL.Path {
		case "/original.png":
			w.Write(orig)
		case "/mask.png":
			w.Write(m)
		default:
			http.NotFound(w, r)
		}
	}))
}

func whiteMask(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func TestRenderService(t *testing.T) {
	srv := newImageServer(t, createTestImage(32, 24), whiteMask(16, 12))
	defer srv.Close()

	svc := NewRenderService(RenderConfig{MaxConcurrent: 2, AllowedHosts: []string{imageio.HostOf(srv.URL)}, Defaults: compositor.DefaultOptions()}, nil, nil)
	out, err := svc.Render(context.Background(), types.CompositeRequest{
		OriginalURL: srv.URL + "/original.png",
		MaskURL:     srv.URL + "/mask.png",
		Format:      "jpeg",
		Quality:     80,
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if out.ContentType != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %s", out.ContentType)
	}
	if out.Width != 32 || out.Height != 24 {
		t.Errorf("Output should match the original size, got %dx%d", out.Width, out.Height)
	}
	if _, format, err := imageio.Decode(out.Data); err != nil || format != "jpeg" {
		t.Errorf("Output should decode as jpeg, got %s %v", format, err)
	}
}

func TestRenderServiceOptions(t *testing.T) {
	svc := NewRenderService(RenderConfig{Defaults: compositor.DefaultOptions()}, nil, nil)
	zero := 0.0
	on := true
	opts := svc.Options(types.CompositeRequest{BlurRadius: &zero, Feather: &on, FeatherSigma: 5})
	if opts.BlurRadius != 0 || !opts.Feather || opts.FeatherSigma != 5 {
		t.Errorf("Unexpected merged options %+v", opts)
	}
	if def := svc.Options(types.CompositeRequest{}); def.BlurRadius != 15 {
		t.Errorf("Expected default radius 15, got %v", def.BlurRadius)
	}
}

func TestRenderServiceFeatherOff(t *testing.T) {
	defaults := compositor.DefaultOptions()
	defaults.Feather = true
	svc := NewRenderService(RenderConfig{Defaults: defaults}, nil, nil)

	if opts := svc.Options(types.CompositeRequest{}); !opts.Feather {
		t.Error("Omitted feather should keep the configured default")
	}
	off := false
	if opts := svc.Options(types.CompositeRequest{Feather: &off}); opts.Feather {
		t.Error("Explicit feather=false should disable feathering")
	}
}

func TestRenderServiceInvalidRequest(t *testing.T) {
	svc := NewRenderService(RenderConfig{AllowedHosts: []string{"x"}, Defaults: compositor.DefaultOptions()}, nil, nil)
	big := 500.0
	if _, err := svc.Render(context.Background(), types.CompositeRequest{OriginalURL: "http://x/a.png", MaskURL: "http://x/b.png", BlurRadius: &big}); !errors.Is(err, ErrInvalidRender) {
		t.Errorf("Expected ErrInvalidRender, got %v", err)
	}
	if _, err := svc.Render(context.Background(), types.CompositeRequest{OriginalURL: "http://x/a.png", MaskURL: "http://x/b.png", Format: "bmp"}); !errors.Is(err, ErrInvalidRender) {
		t.Errorf("Expected ErrInvalidRender for unknown format, got %v", err)
	}
	for _, q := range []int{-5, 101} {
		_, err := svc.Render(context.Background(), types.CompositeRequest{OriginalURL: "http://x/a.png", MaskURL: "http://x/b.png", Quality: q})
		if !errors.Is(err, ErrInvalidRender) || !errors.Is(err, imageio.ErrInvalidQuality) {
			t.Errorf("Quality %d: expected ErrInvalidRender, got %v", q, err)
		}
	}
}

func TestRenderServiceRejectsHosts(t *testing.T) {
	var hits int32
	payload := encodePNG(t, createTestImage(8, 8))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write(payload)
	}))
	defer srv.Close()

	svc := NewRenderService(RenderConfig{AllowedHosts: []string{"pub.example.r2.dev", "replicate.delivery"}, Defaults: compositor.DefaultOptions()}, nil, nil)
	requests := []types.CompositeRequest{
		{OriginalURL: srv.URL + "/a.png", MaskURL: "https://replicate.delivery/m.png"},
		{OriginalURL: "https://pub.example.r2.dev/a.png", MaskURL: "http://169.254.169.254/latest/meta-data"},
		{OriginalURL: "file:///etc/passwd", MaskURL: "https://replicate.delivery/m.png"},
	}
	for _, req := range requests {
		_, err := svc.Render(context.Background(), req)
		if !errors.Is(err, ErrInvalidRender) {
			t.Errorf("%s + %s: expected ErrInvalidRender, got %v", req.OriginalURL, req.MaskURL, err)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Errorf("Disallowed hosts must not be contacted, got %d requests", n)
	}

	closed := NewRenderService(RenderConfig{Defaults: compositor.DefaultOptions()}, nil, nil)
	if _, err := closed.Render(context.Background(), types.CompositeRequest{OriginalURL: "https://pub.example.r2.dev/a.png", MaskURL: "https://pub.example.r2.dev/m.png"}); !errors.Is(err, ErrInvalidRender) {
		t.Errorf("Expected every host to be rejected without an allow list, got %v", err)
	}
}

func TestRenderServiceRejectsLargeImages(t *testing.T) {
	wide := headerPNG(t, 9000, 40)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(wide)
	}))
	defer srv.Close()

	svc := NewRenderService(RenderConfig{
		AllowedHosts: []string{imageio.HostOf(srv.URL)},
		MaxDimension: 8192,
		Defaults:     compositor.DefaultOptions(),
	}, nil, nil)
	_, err := svc.Render(context.Background(), types.CompositeRequest{OriginalURL: srv.URL + "/wide.png", MaskURL: srv.URL + "/mask.png"})
	if !errors.Is(err, ErrInvalidRender) || !errors.Is(err, imageio.ErrDimensions) {
		t.Errorf("Expected ErrInvalidRender wrapping ErrDimensions, got %v", err)
	}
}

func TestRenderServiceDownloadError(t *testing.T) {
	srv := newImageServer(t, createTestImage(8, 8), whiteMask(8, 8))
	defer srv.Close()

	svc := NewRenderService(RenderConfig{AllowedHosts: []string{imageio.HostOf(srv.URL)}, Defaults: compositor.DefaultOptions()}, nil, nil)
	_, err := svc.Render(context.Background(), types.CompositeRequest{
		OriginalURL: srv.URL + "/original.png",
		MaskURL:     srv.URL + "/missing.png",
	})
	if !errors.Is(err, imageio.ErrDownload) {
		t.Errorf("Expected ErrDownload, got %v", err)
	}
}

func TestRenderServiceBusy(t *testing.T) {
	svc := NewRenderService(RenderConfig{MaxConcurrent: 1, QueueTimeout: 20 * time.Millisecond, AllowedHosts: []string{"x"}, Defaults: compositor.DefaultOptions()}, nil, nil)
	svc.semaphore <- struct{}{}

	_, err := svc.Render(context.Background(), types.CompositeRequest{OriginalURL: "http://x/a.png", MaskURL: "http://x/b.png"})
	if !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}
}

type stubChat struct{ reply string }

func (s stubChat) Complete(ctx context.Context, model, prompt string) (string, error) {
	return s.reply, nil
}

func TestChatService(t *testing.T) {
	svc := NewChatService(chat.NewAssistant(stubChat{reply: "A sleepy unicorn."}, "llama3.2"), time.Second, nil)
	if !svc.Enabled() {
		t.Fatal("Expected chat to be enabled")
	}
	resp, err := svc.Reply(context.Background(), types.ChatRequest{})
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if resp.Reply != "A sleepy unicorn." {
		t.Errorf("Unexpected reply %q", resp.Reply)
	}

	disabled := NewChatService(chat.NewAssistant(nil, ""), 0, nil)
	if _, err := disabled.Reply(context.Background(), types.ChatRequest{}); !errors.Is(err, chat.ErrNoBackend) {
		t.Errorf("Expected ErrNoBackend, got %v", err)
	}
}
