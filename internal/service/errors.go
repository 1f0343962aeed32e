package service

import "errors"

var (
	ErrBusy          = errors.New("server is busy, please try again later")
	ErrStorage       = errors.New("failed to store image")
	ErrSegmentation  = errors.New("background segmentation failed")
	ErrRender        = errors.New("failed to render image")
	ErrInvalidRender = errors.New("invalid render request")
)
