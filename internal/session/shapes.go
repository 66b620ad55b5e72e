package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/starford/segmark/internal/annotation"
	"github.com/starford/segmark/internal/apperr"
	"github.com/starford/segmark/internal/descriptor"
	"github.com/starford/segmark/internal/models"
	"github.com/starford/segmark/internal/sse"
)

// ShapesResult is the current shape list of an image in one axis convention.
type ShapesResult struct {
	ImageID string                  `json:"image_id"`
	Axis    descriptor.Axis         `json:"axis"`
	Shapes  []descriptor.Descriptor `json:"shapes"`
}

// ReplaceResult reports a full replace.
type ReplaceResult struct {
	ShapesResult
	Rejected []descriptor.ShapeError `json:"rejected"`
	Changed  bool                    `json:"changed"`
}

// UpdateResult reports a partial update. Applied is false when the update
// referred to a shape that no longer exists.
type UpdateResult struct {
	Applied bool                   `json:"applied"`
	Shape   *descriptor.Descriptor `json:"shape,omitempty"`
	Count   int                    `json:"count"`
}

// shapes returns the canonical set for id. Caller must not hold mu.
func (s *Service) shapes(id string) models.ShapeSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, _ := s.state.Shapes(id)
	return ss
}

// Shapes returns the shapes of id converted to axis.
func (s *Service) Shapes(ctx context.Context, id string, axis descriptor.Axis) (*ShapesResult, error) {
	img, err := s.Image(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ShapesResult{
		ImageID: id,
		Axis:    axis,
		Shapes:  descriptor.FromShapes(s.shapes(id), axis, img.Height),
	}, nil
}

// ReplaceShapes replaces the whole shape list of id. Descriptors that fail
// to convert are reported in Rejected and left out; the rest are applied.
func (s *Service) ReplaceShapes(ctx context.Context, id string, ds []descriptor.Descriptor, axis descriptor.Axis) (*ReplaceResult, error) {
	img, err := s.Image(ctx, id)
	if err != nil {
		return nil, err
	}
	shapes, rejected := descriptor.ToShapes(ds, s.codec, axis, img.Height)
	for _, r := range rejected {
		s.logger.Warn("session: shape rejected",
			slog.String("image", id), slog.Int("index", r.Index), slog.String("error", r.Error))
	}

	s.mu.Lock()
	prev := s.state.WithImage(id)
	before, _ := prev.Shapes(id)
	next, err := annotation.Reduce(prev, annotation.FullReplace{ImageID: id, Shapes: shapes, At: s.now()})
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	after, _ := next.Shapes(id)
	changed := !models.EqualSets(before, after)
	s.state = next
	if changed {
		s.cache.Supersede(id)
	}
	s.mu.Unlock()

	if changed {
		s.notifier.Publish(sse.Event{Type: sse.TypeShapesUpdated, Image: id, Data: map[string]any{"id": id, "count": len(after)}})
	}
	if rejected == nil {
		rejected = []descriptor.ShapeError{}
	}
	return &ReplaceResult{
		ShapesResult: ShapesResult{ImageID: id, Axis: axis, Shapes: descriptor.FromShapes(after, axis, img.Height)},
		Rejected:     rejected,
		Changed:      changed,
	}, nil
}

// UpdateShape applies a partial edit to shape index of id. An index that no
// longer exists is logged and dropped without error.
func (s *Service) UpdateShape(ctx context.Context, id string, index int, patch descriptor.Patch, axis descriptor.Axis) (*UpdateResult, error) {
	img, err := s.Image(ctx, id)
	if err != nil {
		return nil, err
	}
	sp, err := patch.Resolve(s.codec, axis, img.Height)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	prev := s.state.WithImage(id)
	before, _ := prev.Shapes(id)
	next, err := annotation.Reduce(prev, annotation.PartialUpdate{ImageID: id, Index: index, Patch: sp, At: s.now()})
	if errors.Is(err, apperr.ErrIndexOutOfRange) {
		s.mu.Unlock()
		s.logger.Warn("session: stale partial update dropped",
			slog.String("image", id), slog.Int("index", index), slog.String("error", err.Error()))
		return &UpdateResult{Applied: false, Count: len(s.shapes(id))}, nil
	}
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.state = next
	after, _ := next.Shapes(id)
	if !models.EqualSets(before, after) {
		s.cache.Supersede(id)
	}
	s.mu.Unlock()

	s.notifier.Publish(sse.Event{Type: sse.TypeShapesUpdated, Image: id, Data: map[string]any{"id": id, "count": len(after)}})
	res := &UpdateResult{Applied: true, Count: len(after)}
	// A merged shape has no index of its own any more.
	if len(after) == len(before) {
		d := descriptor.FromShape(after[index], axis, img.Height)
		res.Shape = &d
	}
	return res, nil
}
