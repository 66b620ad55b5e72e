// Package raster turns annotation shapes into pixel masks.
//
// Coordinates are in image pixel space: (0,0) is the top-left corner of the
// top-left pixel and y grows downwards, matching image.Image rows.
package raster

import (
	"context"
	"fmt"
	"image"
	"runtime"

	"golang.org/x/image/vector"
	"golang.org/x/sync/errgroup"

	"github.com/starford/segmark/internal/models"
)

// ShapeToMask renders s into a w×h coverage mask. Rectangles are filled;
// paths are stroked at their line width. Alpha 0 marks pixels outside the
// shape.
func ShapeToMask(s models.Shape, w, h int) *image.Alpha {
	dst := image.NewAlpha(image.Rect(0, 0, w, h))
	if w <= 0 || h <= 0 {
		return dst
	}

	z := vector.NewRasterizer(w, h)
	drawn := false
	switch s.Kind {
	case models.KindRect:
		minX, minY, maxX, maxY := s.Rect.Bounds()
		if maxX > minX && maxY > minY {
			z.MoveTo(float32(minX), float32(minY))
			z.LineTo(float32(maxX), float32(minY))
			z.LineTo(float32(maxX), float32(maxY))
			z.LineTo(float32(minX), float32(maxY))
			z.ClosePath()
			drawn = true
		}
	case models.KindPath:
		if s.Line.Width <= 0 {
			break
		}
		for _, poly := range strokeOutline(s.Path, s.Line.Width) {
			if len(poly) < 3 {
				continue
			}
			z.MoveTo(float32(poly[0].X), float32(poly[0].Y))
			for _, p := range poly[1:] {
				z.LineTo(float32(p.X), float32(p.Y))
			}
			z.ClosePath()
			drawn = true
		}
	}
	if drawn {
		z.Draw(dst, dst.Bounds(), image.Opaque, image.Point{})
	}
	return dst
}

// Composite rasterizes shapes in order and writes layers[i] wherever shape
// i covers a pixel, so later shapes win on overlap. A nil layers slice means
// position+1 for every shape.
func Composite(ctx context.Context, shapes []models.Shape, w, h int, layers []uint16) (*models.LabelMap, error) {
	if layers == nil {
		layers = make([]uint16, len(shapes))
		for i := range layers {
			layers[i] = uint16(i + 1)
		}
	}
	if len(layers) != len(shapes) {
		return nil, fmt.Errorf("raster: %d layer values for %d shapes", len(layers), len(shapes))
	}

	out := models.NewLabelMap(w, h)
	batch := runtime.GOMAXPROCS(0)
	masks := make([]*image.Alpha, batch)

	for start := 0; start < len(shapes); start += batch {
		end := min(start+batch, len(shapes))

		g, gCtx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				if err := gCtx.Err(); err != nil {
					return err
				}
				masks[i-start] = ShapeToMask(shapes[i], w, h)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for i := start; i < end; i++ {
			mask, v := masks[i-start], layers[i]
			for p, a := range mask.Pix {
				if a != 0 {
					out.Pix[p] = v
				}
			}
		}
	}
	return out, nil
}
