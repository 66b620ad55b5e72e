package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/starford/segmark/internal/bundle"
	"github.com/starford/segmark/internal/imaging"
	"github.com/starford/segmark/internal/render"
)

type classifyRequest struct {
	Classifier string
	Image      string
	Out        string
	Labels     string
	Workers    int
}

// runClassify applies a classifier bundle to one image and writes the
// colored result, plus the raw labels when requested.
func runClassify(ctx context.Context, req classifyRequest) error {
	f, err := os.Open(req.Classifier)
	if err != nil {
		return err
	}
	b, err := bundle.Decode(f)
	_ = f.Close()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(req.Image)
	if err != nil {
		return err
	}
	img, _, err := imaging.Decode(data)
	if err != nil {
		return err
	}

	labels, colors, err := b.Apply(ctx, img, req.Workers)
	if err != nil {
		return err
	}

	if err := writeFile(req.Out, func(f *os.File) error { return render.EncodePNG(f, colors) }); err != nil {
		return err
	}
	if req.Labels != "" {
		if err := writeFile(req.Labels, func(f *os.File) error { return render.EncodeLabelPNG(f, labels) }); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, encode func(*os.File) error) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := encode(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
