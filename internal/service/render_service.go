package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/blur-background/pkg/compositor"
	"github.com/menta2k/blur-background/pkg/imageio"
	"github.com/menta2k/blur-background/pkg/types"
)

// RenderConfig bounds server-side compositing. Only URLs on AllowedHosts are
// fetched; an empty list rejects every request.
type RenderConfig struct {
	MaxConcurrent int
	QueueTimeout  time.Duration
	MaxDimension  int
	AllowedHosts  []string
	Defaults      compositor.Options
	Encode        types.EncodeOptions
}

// Rendered is an encoded composite
type Rendered struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// RenderService downloads an original and its mask and composites them
type RenderService struct {
	fetcher      *imageio.Fetcher
	allowed      imageio.HostList
	semaphore    chan struct{}
	queueTimeout time.Duration
	defaults     compositor.Options
	encode       types.EncodeOptions
	logger       *zap.Logger
}

// NewRenderService creates the service. At most cfg.MaxConcurrent composites
// run at once. The fetcher is configured with the allowed hosts and the
// dimension limit.
func NewRenderService(cfg RenderConfig, fetcher *imageio.Fetcher, logger *zap.Logger) *RenderService {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = 30 * time.Second
	}
	if fetcher == nil {
		fetcher = imageio.NewFetcher()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := imageio.NewHostList(cfg.AllowedHosts)
	fetcher.SetAllowedHosts(allowed)
	fetcher.SetMaxDimension(cfg.MaxDimension)

	return &RenderService{
		fetcher:      fetcher,
		allowed:      allowed,
		semaphore:    make(chan struct{}, cfg.MaxConcurrent),
		queueTimeout: cfg.QueueTimeout,
		defaults:     cfg.Defaults,
		encode:       cfg.Encode,
		logger:       logger,
	}
}

// Options merges a request over the configured defaults
func (s *RenderService) Options(req types.CompositeRequest) compositor.Options {
	opts := s.defaults
	if req.BlurRadius != nil {
		opts.BlurRadius = *req.BlurRadius
	}
	if req.Feather != nil {
		opts.Feather = *req.Feather
	}
	if req.FeatherSigma > 0 {
		opts.FeatherSigma = req.FeatherSigma
	}
	return opts
}

// Render fetches both images concurrently, composites and encodes the result
func (s *RenderService) Render(ctx context.Context, req types.CompositeRequest) (*Rendered, error) {
	opts := s.Options(req)
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRender, err)
	}

	enc := s.encode
	if req.Format != "" {
		enc.Format = req.Format
	}
	if req.Quality != 0 {
		if req.Quality < 1 || req.Quality > 100 {
			return nil, fmt.Errorf("%w: %w, got %d", ErrInvalidRender, imageio.ErrInvalidQuality, req.Quality)
		}
		enc.Quality = req.Quality
	}
	if _, err := imageio.NormalizeFormat(enc.Format); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRender, err)
	}
	for _, u := range []string{req.OriginalURL, req.MaskURL} {
		if err := s.checkURL(u); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRender, err)
		}
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	original, mask, err := s.fetchPair(ctx, req.OriginalURL, req.MaskURL)
	if err != nil {
		if errors.Is(err, imageio.ErrDimensions) || errors.Is(err, imageio.ErrHostNotAllowed) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRender, err)
		}
		return nil, err
	}

	out, err := compositor.Composite(ctx, original, mask, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	data, contentType, err := imageio.EncodeBytes(out, enc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}

	b := out.Bounds()
	s.logger.Info("composite rendered",
		zap.Int("width", b.Dx()),
		zap.Int("height", b.Dy()),
		zap.Float64("blur_radius", opts.BlurRadius),
		zap.Bool("feather", opts.Feather),
		zap.String("content_type", contentType),
		zap.Duration("cost", time.Since(start)))

	return &Rendered{
		Data:        data,
		ContentType: contentType,
		Width:       b.Dx(),
		Height:      b.Dy(),
	}, nil
}

func (s *RenderService) checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", imageio.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", imageio.ErrInvalidURL, u.Scheme)
	}
	if !s.allowed.Allows(u) {
		return fmt.Errorf("%w: %s", imageio.ErrHostNotAllowed, u.Host)
	}
	return nil
}

// acquire takes a render slot, waiting at most queueTimeout
func (s *RenderService) acquire(ctx context.Context) (func(), error) {
	timer := time.NewTimer(s.queueTimeout)
	defer timer.Stop()

	select {
	case s.semaphore <- struct{}{}:
		return func() { <-s.semaphore }, nil
	case <-timer.C:
		s.logger.Warn("render queue full", zap.Int("capacity", cap(s.semaphore)))
		return nil, ErrBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *RenderService) fetchPair(ctx context.Context, originalURL, maskURL string) (image.Image, image.Image, error) {
	var original, mask image.Image

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		img, err := s.fetcher.Fetch(gctx, originalURL)
		if err != nil {
			return fmt.Errorf("original: %w", err)
		}
		original = img
		return nil
	})
	g.Go(func() error {
		img, err := s.fetcher.Fetch(gctx, maskURL)
		if err != nil {
			return fmt.Errorf("mask: %w", err)
		}
		mask = img
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return original, mask, nil
}
