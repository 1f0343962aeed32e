package main

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/menta2k/blur-background/internal/utils"
	"github.com/menta2k/blur-background/pkg/compositor"
	"github.com/menta2k/blur-background/pkg/imageio"
	"github.com/menta2k/blur-background/pkg/saliency"
	"github.com/menta2k/blur-background/pkg/types"
)

type compositeFlags struct {
	in           string
	mask         string
	out          string
	radius       float64
	feather      bool
	featherSigma float64
	method       string
	ext          string
	quality      int
	lossless     bool
}

func newCompositeCmd() *cobra.Command {
	f := compositeFlags{}
	defaults := compositor.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "composite",
		Short: "Blur the background of a photo using a mask",
		Example: "  blurbg composite --in photo.jpg --mask mask.png --out out.png --radius 15 --feather\n" +
			"  blurbg composite --in https://cdn.example.com/original.jpg --mask https://cdn.example.com/mask.png --out out.webp",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComposite(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.in, "in", "", "Input photo path or URL (required)")
	fl.StringVar(&f.mask, "mask", "", "Foreground mask path or URL (required)")
	fl.StringVar(&f.out, "out", "", "Output path (required)")
	fl.Float64Var(&f.radius, "radius", defaults.BlurRadius, "Background blur radius in pixels")
	fl.BoolVar(&f.feather, "feather", defaults.Feather, "Soften the mask edge")
	fl.Float64Var(&f.featherSigma, "feather-sigma", defaults.FeatherSigma, "Mask feather sigma in pixels")
	fl.StringVar(&f.method, "method", defaults.BlurMethod, "Background blur: gaussian or box")
	fl.StringVar(&f.ext, "ext", "", "Output format: png, jpg, webp (default from --out extension)")
	fl.IntVar(&f.quality, "quality", 90, "JPEG/WebP quality 1-100")
	fl.BoolVar(&f.lossless, "lossless", false, "Use lossless WebP")
	for _, name := range []string{"in", "mask", "out"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func runComposite(cmd *cobra.Command, f compositeFlags) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	format := f.ext
	if format == "" {
		format = imageio.FormatFromPath(f.out)
	}
	format, err := imageio.NormalizeFormat(format)
	if err != nil {
		return err
	}

	fetcher := imageio.NewFetcher()
	original, err := loadSource(ctx, fetcher, f.in)
	if err != nil {
		return fmt.Errorf("failed to load photo: %w", err)
	}
	mask, err := loadSource(ctx, fetcher, f.mask)
	if err != nil {
		return fmt.Errorf("failed to load mask: %w", err)
	}

	start := time.Now()
	out, err := compositor.Composite(ctx, original, mask, compositor.Options{
		BlurRadius:   f.radius,
		Feather:      f.feather,
		FeatherSigma: f.featherSigma,
		BlurMethod:   f.method,
	})
	if err != nil {
		return err
	}

	if err := utils.EnsureDir(f.out); err != nil {
		return err
	}
	opts := types.EncodeOptions{Format: format, Quality: f.quality, Lossless: f.lossless}
	if err := imageio.Save(out, f.out, opts); err != nil {
		return fmt.Errorf("failed to save %s: %w", f.out, err)
	}

	b := out.Bounds()
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%dx%d, %s) in %s\n", f.out, b.Dx(), b.Dy(), format, time.Since(start).Round(time.Millisecond))
	return nil
}

func newSegmentCmd() *cobra.Command {
	var in, out string

	cmd := &cobra.Command{
		Use:   "segment",
		Short: "Estimate a foreground mask locally without the remote model",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			img, err := loadSource(ctx, imageio.NewFetcher(), in)
			if err != nil {
				return fmt.Errorf("failed to load photo: %w", err)
			}
			res, err := saliency.New().Generate(img)
			if err != nil {
				return err
			}
			if err := utils.EnsureDir(out); err != nil {
				return err
			}
			if err := imageio.Save(res.Mask, out, types.EncodeOptions{Format: imageio.FormatPNG}); err != nil {
				return fmt.Errorf("failed to save %s: %w", out, err)
			}

			s := res.Subject
			fmt.Fprintf(cmd.OutOrStdout(), "Saved mask %s (subject %dx%d at %d,%d, score %.2f)\n", out, s.Width, s.Height, s.X, s.Y, s.Score)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "Input photo path or URL (required)")
	cmd.Flags().StringVar(&out, "out", "mask.png", "Output mask path")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

// loadSource reads a local file or downloads an http(s) URL
func loadSource(ctx context.Context, fetcher *imageio.Fetcher, src string) (image.Image, error) {
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return fetcher.Fetch(ctx, src)
	}
	return imageio.Load(src)
}
