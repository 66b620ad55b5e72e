package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/starford/segmark/internal/apperr"
	"github.com/starford/segmark/internal/descriptor"
)

// ImportResult reports an annotation import, keyed by image id.
type ImportResult struct {
	Applied  []string                           `json:"applied"`
	Skipped  []string                           `json:"skipped"`
	Rejected map[string][]descriptor.ShapeError `json:"rejected"`
}

// ExportAnnotations returns the shapes of every catalogued image in axis.
func (s *Service) ExportAnnotations(_ context.Context, axis descriptor.Axis) ([]byte, error) {
	images, err := s.db.ListImages()
	if err != nil {
		return nil, err
	}
	e := descriptor.Export{Axis: axis, Images: make(map[string][]descriptor.Descriptor, len(images))}
	for _, img := range images {
		ss := s.shapes(img.ID)
		if len(ss) == 0 {
			continue
		}
		e.Images[img.ID] = descriptor.FromShapes(ss, axis, img.Height)
	}
	return descriptor.EncodeExport(e)
}

// ImportAnnotations replaces the shape list of every image named in data.
// Images missing from the catalog are skipped.
func (s *Service) ImportAnnotations(ctx context.Context, data []byte) (*ImportResult, error) {
	e, err := descriptor.DecodeExport(data)
	if err != nil {
		return nil, fmt.Errorf("session: import: %w: %w", apperr.ErrMalformedGeometry, err)
	}
	res := &ImportResult{
		Applied:  []string{},
		Skipped:  []string{},
		Rejected: map[string][]descriptor.ShapeError{},
	}
	for _, id := range slices.Sorted(maps.Keys(e.Images)) {
		r, err := s.ReplaceShapes(ctx, id, e.Images[id], e.Axis)
		if errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn("session: import skipped unknown image", slog.String("image", id))
			res.Skipped = append(res.Skipped, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		res.Applied = append(res.Applied, id)
		if len(r.Rejected) > 0 {
			res.Rejected[id] = r.Rejected
		}
	}
	return res, nil
}

