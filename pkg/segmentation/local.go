package segmentation

import (
	"context"

	"github.com/menta2k/blur-background/pkg/saliency"
)

// LocalSegmenter builds masks in-process from a saliency map. It needs no
// network access and is meant for development and offline use.
type LocalSegmenter struct {
	generator *saliency.MaskGenerator
}

// NewLocalSegmenter wraps a saliency mask generator
func NewLocalSegmenter(generator *saliency.MaskGenerator) *LocalSegmenter {
	if generator == nil {
		generator = saliency.New()
	}
	return &LocalSegmenter{generator: generator}
}

// Name implements Segmenter
func (s *LocalSegmenter) Name() string {
	return "saliency"
}

// Segment implements Segmenter
func (s *LocalSegmenter) Segment(ctx context.Context, req Request) (*Result, error) {
	if req.Image == nil {
		return nil, ErrNoImage
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := s.generator.Generate(req.Image)
	if err != nil {
		return nil, err
	}
	return &Result{Mask: res.Mask}, nil
}
