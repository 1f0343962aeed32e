package segmentation

import (
	"context"
	"errors"
	"image"
)

var (
	ErrMissingToken      = errors.New("segmentation: REPLICATE_API_TOKEN is not configured")
	ErrUpstream          = errors.New("segmentation: model API call failed")
	ErrPredictionPending = errors.New("segmentation: model took too long, please try again later")
	ErrPredictionFailed  = errors.New("segmentation: model returned an error")
	ErrNoOutput          = errors.New("segmentation: no mask in model response")
	ErrNoImage           = errors.New("segmentation: request has no image")
)

// Request describes the image to segment. Remote backends need ImageURL,
// local backends need Image.
type Request struct {
	ImageURL string
	Image    image.Image
}

// Result is either a fetchable mask URL or an in-memory mask
type Result struct {
	MaskURL string
	Mask    image.Image
}

// Segmenter separates foreground from background.
// White mask pixels are subject, black pixels are background.
type Segmenter interface {
	Segment(ctx context.Context, req Request) (*Result, error)
	Name() string
}

// Unavailable is a Segmenter that always fails with err. It stands in for a
// backend that could not be configured so the error surfaces per request.
type Unavailable struct {
	Err error
}

// Name implements Segmenter
func (u Unavailable) Name() string {
	return "unavailable"
}

// Segment implements Segmenter
func (u Unavailable) Segment(context.Context, Request) (*Result, error) {
	return nil, u.Err
}
