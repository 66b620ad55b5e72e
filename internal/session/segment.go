package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/starford/segmark/internal/apperr"
	"github.com/starford/segmark/internal/bundle"
	"github.com/starford/segmark/internal/engine"
	"github.com/starford/segmark/internal/imaging"
	"github.com/starford/segmark/internal/models"
	"github.com/starford/segmark/internal/raster"
	"github.com/starford/segmark/internal/render"
	"github.com/starford/segmark/internal/segcache"
	"github.com/starford/segmark/internal/sse"
)

// Segmentation is one cached segmentation result.
type Segmentation struct {
	ImageID    string
	Key        string
	Labels     *models.LabelMap
	Classifier *engine.Classifier
	Shapes     int
	CreatedAt  time.Time
	Elapsed    time.Duration
}

// SegmentationInfo summarises a cached result.
type SegmentationInfo struct {
	ImageID   string    `json:"image_id"`
	Key       string    `json:"key"`
	Shapes    int       `json:"shapes"`
	Labels    []uint16  `json:"labels"`
	CreatedAt time.Time `json:"created_at"`
	ElapsedMS int64     `json:"elapsed_ms"`
}

// Info returns the summary of seg.
func (seg *Segmentation) Info() SegmentationInfo {
	return SegmentationInfo{
		ImageID:   seg.ImageID,
		Key:       seg.Key,
		Shapes:    seg.Shapes,
		Labels:    seg.Labels.Labels(),
		CreatedAt: seg.CreatedAt,
		ElapsedMS: seg.Elapsed.Milliseconds(),
	}
}

// layers maps each shape to its class id + 1, so the composited mask is
// directly usable as a training label raster.
func (s *Service) layers(shapes models.ShapeSet) ([]uint16, int, error) {
	out := make([]uint16, len(shapes))
	seen := make(map[int]struct{})
	for i, sh := range shapes {
		class, err := s.codec.ColorToClass(sh.Line.Color)
		if err != nil {
			return nil, 0, err
		}
		out[i] = uint16(class + 1)
		seen[class] = struct{}{}
	}
	return out, len(seen), nil
}

// Segment returns the segmentation of id for its current shapes, computing
// it at most once per distinct input. With fewer than two label classes it
// fails with apperr.ErrInsufficientLabels. If the shapes change while the
// computation runs, the result is discarded and apperr.ErrConflict is
// returned.
func (s *Service) Segment(ctx context.Context, id string) (*Segmentation, error) {
	img, err := s.Image(ctx, id)
	if err != nil {
		return nil, err
	}
	shapes := s.shapes(id)
	layers, classes, err := s.layers(shapes)
	if err != nil {
		return nil, err
	}
	if classes < 2 {
		s.unavailable(id, classes)
		return nil, fmt.Errorf("session: %d label classes on %q: %w", classes, id, apperr.ErrInsufficientLabels)
	}

	key := segcache.Key(id, img.Checksum, shapes)
	seg, err := s.cache.GetOrCompute(ctx, id, key, func(cctx context.Context) (*Segmentation, error) {
		return s.compute(cctx, img, key, shapes, layers)
	})
	switch {
	case errors.Is(err, segcache.ErrSuperseded):
		return nil, fmt.Errorf("session: %q: %w: %w", id, apperr.ErrConflict, err)
	case errors.Is(err, apperr.ErrInsufficientLabels):
		s.unavailable(id, classes)
		return nil, err
	case err != nil:
		return nil, err
	}
	s.notifier.Publish(sse.Event{Type: sse.TypeSegmentationReady, Image: seg.ImageID, Data: seg.Info()})
	return seg, nil
}

func (s *Service) unavailable(id string, classes int) {
	s.notifier.Publish(sse.Event{Type: sse.TypeSegmentationUnavailable, Image: id, Data: map[string]any{"id": id, "classes": classes}})
}

func (s *Service) compute(ctx context.Context, img *models.Image, key string, shapes models.ShapeSet, layers []uint16) (*Segmentation, error) {
	start := time.Now()
	src, err := s.decode(img.ID)
	if err != nil {
		return nil, err
	}
	b := src.Bounds()
	mask, err := raster.Composite(ctx, shapes, b.Dx(), b.Dy(), layers)
	if err != nil {
		return nil, err
	}
	labels, clf, err := s.engine.Segment(ctx, src, mask, nil)
	if err != nil {
		return nil, err
	}
	seg := &Segmentation{
		ImageID:    img.ID,
		Key:        key,
		Labels:     labels,
		Classifier: clf,
		Shapes:     len(shapes),
		CreatedAt:  s.now(),
		Elapsed:    time.Since(start),
	}
	s.logger.Info("session: segmentation computed",
		slog.String("image", img.ID), slog.String("key", key[:12]),
		slog.Int("shapes", len(shapes)), slog.Duration("elapsed", seg.Elapsed))
	return seg, nil
}

func (s *Service) decode(id string) (image.Image, error) {
	data, err := s.store.Read(id)
	if err != nil {
		return nil, err
	}
	src, _, err := imaging.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("session: %q: %w: %w", id, apperr.ErrInvalidImage, err)
	}
	return src, nil
}

// Segmentation returns a cached result by key.
func (s *Service) Segmentation(id, key string) (*Segmentation, error) {
	seg, ok := s.cache.Peek(id, key)
	if !ok {
		return nil, fmt.Errorf("session: segmentation %s of %q: %w", key, id, apperr.ErrNotFound)
	}
	return seg, nil
}

// History lists the cached results of id, most recently used first.
func (s *Service) History(id string) []SegmentationInfo {
	keys := s.cache.Keys(id)
	out := make([]SegmentationInfo, 0, len(keys))
	for _, k := range keys {
		if seg, ok := s.cache.Peek(id, k); ok {
			out = append(out, seg.Info())
		}
	}
	return out
}

// latest resolves an empty key to the most recently used result.
func (s *Service) latest(id, key string) (*Segmentation, error) {
	if key != "" {
		return s.Segmentation(id, key)
	}
	keys := s.cache.Keys(id)
	if len(keys) == 0 {
		return nil, fmt.Errorf("session: no segmentation for %q: %w", id, apperr.ErrNotFound)
	}
	return s.Segmentation(id, keys[0])
}

// ColorImage renders seg with the session palette.
func (s *Service) ColorImage(seg *Segmentation) *image.NRGBA {
	return render.LabelsToColors(seg.Labels, s.codec, s.render)
}

// OverlayImage draws the colored labels of seg over the source image.
func (s *Service) OverlayImage(_ context.Context, seg *Segmentation) (image.Image, error) {
	src, err := s.decode(seg.ImageID)
	if err != nil {
		return nil, err
	}
	return render.Overlay(src, s.ColorImage(seg)), nil
}

// ExportClassifier bundles the classifier of a cached result. An empty key
// selects the most recent one.
func (s *Service) ExportClassifier(id, key string) (*bundle.Bundle, error) {
	seg, err := s.latest(id, key)
	if err != nil {
		return nil, err
	}
	return bundle.New(seg.Classifier, s.codec, s.render), nil
}
