package service

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/menta2k/blur-background/internal/utils"
	"github.com/menta2k/blur-background/pkg/cache"
	"github.com/menta2k/blur-background/pkg/imageio"
	"github.com/menta2k/blur-background/pkg/segmentation"
	"github.com/menta2k/blur-background/pkg/storage"
	"github.com/menta2k/blur-background/pkg/types"
	"github.com/menta2k/blur-background/pkg/validation"
)

// Upload is a photo received from a client
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// BlurService relays an upload to object storage and asks the segmentation
// model for a foreground mask
type BlurService struct {
	validator *validation.Validator
	store     storage.ObjectStore
	segmenter segmentation.Segmenter
	cache     *cache.ResultCache
	keyPrefix string
	logger    *zap.Logger
}

// NewBlurService wires the pipeline. results may be nil to disable caching.
func NewBlurService(
	validator *validation.Validator,
	store storage.ObjectStore,
	segmenter segmentation.Segmenter,
	results *cache.ResultCache,
	keyPrefix string,
	logger *zap.Logger,
) *BlurService {
	if validator == nil {
		validator = validation.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlurService{
		validator: validator,
		store:     store,
		segmenter: segmenter,
		cache:     results,
		keyPrefix: keyPrefix,
		logger:    logger,
	}
}

// Process validates the upload and returns the original and mask URLs
func (s *BlurService) Process(ctx context.Context, up Upload) (*types.SegmentationResult, error) {
	size := up.Size
	if size <= 0 {
		size = int64(len(up.Data))
	}
	if err := s.validator.ValidateUpload(up.ContentType, size); err != nil {
		return nil, err
	}
	if len(up.Data) == 0 {
		return nil, validation.ErrEmptyFile
	}

	header, _, err := imageio.DecodeConfig(up.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", validation.ErrNotImage, err)
	}
	if err := s.validator.ValidateDimensions(header.Width, header.Height); err != nil {
		return nil, err
	}
	img, _, err := imageio.Decode(up.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", validation.ErrNotImage, err)
	}

	md5 := utils.BytesMD5(up.Data)
	if cached := s.lookup(ctx, md5); cached != nil {
		return cached, nil
	}

	s.logger.Info("processing image",
		zap.String("filename", up.Filename),
		zap.String("md5", md5),
		zap.String("size", utils.FormatFileSize(int64(len(up.Data)))),
		zap.String("segmenter", s.segmenter.Name()))

	key := utils.GenerateObjectKey(up.Filename, s.keyPrefix)
	originalURL, err := s.store.Put(ctx, key, bytes.NewReader(up.Data), int64(len(up.Data)), up.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	s.logger.Debug("original uploaded", zap.String("key", key), zap.String("url", originalURL))

	seg, err := s.segmenter.Segment(ctx, segmentation.Request{ImageURL: originalURL, Image: img})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSegmentation, err)
	}

	maskURL := seg.MaskURL
	if maskURL == "" {
		maskURL, err = s.storeMask(ctx, key, seg)
		if err != nil {
			return nil, err
		}
	}

	result := &types.SegmentationResult{
		Success:     true,
		OriginalURL: originalURL,
		MaskURL:     maskURL,
		ObjectKey:   key,
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, md5, result); err != nil {
			s.logger.Warn("failed to set cache", zap.String("md5", md5), zap.Error(err))
		}
	}

	s.logger.Info("segmentation completed", zap.String("key", key), zap.String("mask_url", maskURL))
	return result, nil
}

func (s *BlurService) lookup(ctx context.Context, md5 string) *types.SegmentationResult {
	if s.cache == nil {
		return nil
	}
	cached, err := s.cache.Get(ctx, md5)
	if err != nil {
		s.logger.Warn("failed to get cache", zap.String("md5", md5), zap.Error(err))
		return nil
	}
	if cached == nil {
		return nil
	}
	s.logger.Info("cache hit", zap.String("md5", md5))
	cached.Cached = true
	return cached
}

// storeMask uploads an in-memory mask so the client can fetch it like a model output
func (s *BlurService) storeMask(ctx context.Context, originalKey string, seg *segmentation.Result) (string, error) {
	if seg.Mask == nil {
		return "", fmt.Errorf("%w: %w", ErrSegmentation, segmentation.ErrNoOutput)
	}
	data, contentType, err := imageio.EncodeBytes(seg.Mask, types.EncodeOptions{Format: imageio.FormatPNG})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSegmentation, err)
	}
	key := utils.MaskKey(originalKey)
	url, err := s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return url, nil
}
