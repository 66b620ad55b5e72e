package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/segmark/internal/apperr"
	"github.com/starford/segmark/internal/catalog"
	"github.com/starford/segmark/internal/descriptor"
	"github.com/starford/segmark/internal/engine"
	"github.com/starford/segmark/internal/features"
	"github.com/starford/segmark/internal/models"
	"github.com/starford/segmark/internal/sse"
	"github.com/starford/segmark/internal/testutil"
)

const (
	carColor  = "#FD3216" // class 0
	treeColor = "#00FE35" // class 1
	imageID   = "board.png"
)

type recorder struct {
	mu     sync.Mutex
	events []sse.Event
}

func (r *recorder) Publish(ev sse.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func f(v float64) *float64 { return &v }

func rect(x0, y0, x1, y1 float64, col string) descriptor.Descriptor {
	return descriptor.Descriptor{
		Type: "rect", X0: f(x0), Y0: f(y0), X1: f(x1), Y1: f(y1),
		Line: descriptor.Line{Color: col, Width: 2},
	}
}

func newTestService(t *testing.T) (*Service, *recorder) {
	t.Helper()
	_, store := testutil.TestImages(t)
	db := testutil.TestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, store.Write(imageID, testutil.PNG(t, testutil.Checkerboard(64, 64, 16))))
	require.NoError(t, catalog.Sync(db, store, logger))

	cfg := engine.DefaultConfig()
	cfg.Features = features.Config{SigmaMin: 0.5, SigmaMax: 2, Intensity: true, Edges: true, Texture: true}
	cfg.Forest.Trees = 10

	rec := &recorder{}
	s, err := New(store, db, Options{
		Engine:        engine.New(cfg, logger),
		CacheCapacity: 4,
		Logger:        logger,
		Notifier:      rec,
	})
	require.NoError(t, err)
	return s, rec
}

func twoClasses() []descriptor.Descriptor {
	return []descriptor.Descriptor{
		rect(4, 4, 12, 12, carColor),
		rect(20, 4, 28, 12, treeColor),
	}
}

func TestListImages(t *testing.T) {
	s, _ := newTestService(t)
	images, err := s.ListImages(context.Background())
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, imageID, images[0].ID)
	assert.Equal(t, 64, images[0].Width)
	assert.Equal(t, 0, images[0].Shapes)
}

func TestReplaceShapesIsIdempotent(t *testing.T) {
	s, rec := newTestService(t)
	ctx := context.Background()

	first, err := s.ReplaceShapes(ctx, imageID, twoClasses(), descriptor.AxisTrace)
	require.NoError(t, err)
	assert.True(t, first.Changed)
	require.Len(t, first.Shapes, 2)

	second, err := s.ReplaceShapes(ctx, imageID, twoClasses(), descriptor.AxisTrace)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, first.Shapes, second.Shapes, "timestamps survive an identical replace")
	assert.Equal(t, []string{sse.TypeShapesUpdated}, rec.types())
}

func TestReplaceShapesReportsRejected(t *testing.T) {
	s, _ := newTestService(t)
	ds := append(twoClasses(), rect(0, 0, 1, 1, "#123456"))

	res, err := s.ReplaceShapes(context.Background(), imageID, ds, descriptor.AxisTrace)
	require.NoError(t, err)
	assert.Len(t, res.Shapes, 2)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 2, res.Rejected[0].Index)
	assert.ErrorIs(t, res.Rejected[0].Err, apperr.ErrUnknownColor)
}

func TestReplaceShapesUnknownImage(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.ReplaceShapes(context.Background(), "missing.png", twoClasses(), descriptor.AxisTrace)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestShapesLayoutAxis(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	_, err := s.ReplaceShapes(ctx, imageID, []descriptor.Descriptor{rect(0, 0, 10, 10, carColor)}, descriptor.AxisTrace)
	require.NoError(t, err)

	res, err := s.Shapes(ctx, imageID, descriptor.AxisLayout)
	require.NoError(t, err)
	require.Len(t, res.Shapes, 1)
	assert.Equal(t, 64.0, *res.Shapes[0].Y0)
	assert.Equal(t, 54.0, *res.Shapes[0].Y1)
}

func TestLayoutResubmitKeepsTimestamps(t *testing.T) {
	s, rec := newTestService(t)
	ctx := context.Background()
	ds := []descriptor.Descriptor{
		rect(4.1, 3.3, 12.7, 11.9, carColor),
		{Type: "path", Path: "M20.1,2.3L27.7,9.9L21.3,10.77Z", Line: descriptor.Line{Color: treeColor, Width: 2}},
	}
	_, err := s.ReplaceShapes(ctx, imageID, ds, descriptor.AxisTrace)
	require.NoError(t, err)
	before := s.shapes(imageID)

	got, err := s.Shapes(ctx, imageID, descriptor.AxisLayout)
	require.NoError(t, err)
	for i := range got.Shapes {
		got.Shapes[i].Timestamp = descriptor.Timestamp{}
	}
	res, err := s.ReplaceShapes(ctx, imageID, got.Shapes, descriptor.AxisLayout)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	after := s.shapes(imageID)
	require.Len(t, after, 2)
	for i := range after {
		assert.Equal(t, before[i].Timestamp, after[i].Timestamp)
	}
	assert.True(t, models.EqualSets(before, after))
	assert.Equal(t, []string{sse.TypeShapesUpdated}, rec.types())
}

func TestUpdateShapeEditableOnlyKeepsGeneration(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	_, err := s.ReplaceShapes(ctx, imageID, twoClasses(), descriptor.AxisTrace)
	require.NoError(t, err)
	gen := s.cache.Generation(imageID)

	locked := false
	res, err := s.UpdateShape(ctx, imageID, 0, descriptor.Patch{Editable: &locked}, descriptor.AxisTrace)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.False(t, *res.Shape.Editable)
	assert.Equal(t, gen, s.cache.Generation(imageID), "flag-only edits keep in-flight segmentations")

	_, err = s.UpdateShape(ctx, imageID, 0, descriptor.Patch{X1: f(13)}, descriptor.AxisTrace)
	require.NoError(t, err)
	assert.Greater(t, s.cache.Generation(imageID), gen)
}

func TestUpdateShape(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	_, err := s.ReplaceShapes(ctx, imageID, twoClasses(), descriptor.AxisTrace)
	require.NoError(t, err)

	res, err := s.UpdateShape(ctx, imageID, 1, descriptor.Patch{X1: f(30)}, descriptor.AxisTrace)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	require.NotNil(t, res.Shape)
	assert.Equal(t, 30.0, *res.Shape.X1)
	assert.Equal(t, 2, res.Count)
}

func TestUpdateShapeStaleIndexIsDropped(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	_, err := s.ReplaceShapes(ctx, imageID, twoClasses(), descriptor.AxisTrace)
	require.NoError(t, err)
	before, err := s.Shapes(ctx, imageID, descriptor.AxisTrace)
	require.NoError(t, err)

	res, err := s.UpdateShape(ctx, imageID, 5, descriptor.Patch{X1: f(30)}, descriptor.AxisTrace)
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Nil(t, res.Shape)

	after, err := s.Shapes(ctx, imageID, descriptor.AxisTrace)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUpdateShapeMerge(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	ds := []descriptor.Descriptor{rect(4, 4, 12, 12, carColor), rect(4, 4, 12, 14, carColor)}
	_, err := s.ReplaceShapes(ctx, imageID, ds, descriptor.AxisTrace)
	require.NoError(t, err)

	res, err := s.UpdateShape(ctx, imageID, 1, descriptor.Patch{Y1: f(12)}, descriptor.AxisTrace)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Nil(t, res.Shape)
	assert.Equal(t, 1, res.Count)
}

func TestSegmentInsufficientLabels(t *testing.T) {
	s, rec := newTestService(t)
	ctx := context.Background()
	_, err := s.ReplaceShapes(ctx, imageID, []descriptor.Descriptor{rect(4, 4, 12, 12, carColor)}, descriptor.AxisTrace)
	require.NoError(t, err)

	_, err = s.Segment(ctx, imageID)
	assert.ErrorIs(t, err, apperr.ErrInsufficientLabels)
	assert.Contains(t, rec.types(), sse.TypeSegmentationUnavailable)
}

func TestSegmentCachesResult(t *testing.T) {
	s, rec := newTestService(t)
	ctx := context.Background()
	_, err := s.ReplaceShapes(ctx, imageID, twoClasses(), descriptor.AxisTrace)
	require.NoError(t, err)

	seg, err := s.Segment(ctx, imageID)
	require.NoError(t, err)
	assert.Equal(t, 64, seg.Labels.Width)
	assert.Equal(t, []uint16{1, 2}, seg.Labels.Labels())
	// The labelled car rectangle lies on a dark tile and comes back as class 0.
	assert.Equal(t, uint16(1), seg.Labels.At(8, 8))
	assert.Contains(t, rec.types(), sse.TypeSegmentationReady)

	again, err := s.Segment(ctx, imageID)
	require.NoError(t, err)
	assert.Same(t, seg, again)

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)

	history := s.History(imageID)
	require.Len(t, history, 1)
	assert.Equal(t, seg.Key, history[0].Key)

	got, err := s.Segmentation(imageID, seg.Key)
	require.NoError(t, err)
	assert.Same(t, seg, got)

	_, err = s.Segmentation(imageID, "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	colors := s.ColorImage(seg)
	assert.Equal(t, 64, colors.Bounds().Dx())
	overlay, err := s.OverlayImage(ctx, seg)
	require.NoError(t, err)
	assert.Equal(t, 64, overlay.Bounds().Dy())
}

func TestSegmentTimestampInsensitiveKey(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	_, err := s.ReplaceShapes(ctx, imageID, twoClasses(), descriptor.AxisTrace)
	require.NoError(t, err)
	seg, err := s.Segment(ctx, imageID)
	require.NoError(t, err)

	// Removing and re-adding the tree gives it a new timestamp but the same
	// geometry, so the cached result is reused.
	_, err = s.ReplaceShapes(ctx, imageID, twoClasses()[:1], descriptor.AxisTrace)
	require.NoError(t, err)
	_, err = s.ReplaceShapes(ctx, imageID, twoClasses(), descriptor.AxisTrace)
	require.NoError(t, err)

	again, err := s.Segment(ctx, imageID)
	require.NoError(t, err)
	assert.Equal(t, seg.Key, again.Key)
	assert.Same(t, seg, again)
}

func TestExportClassifier(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.ExportClassifier(imageID, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = s.ReplaceShapes(ctx, imageID, twoClasses(), descriptor.AxisTrace)
	require.NoError(t, err)
	seg, err := s.Segment(ctx, imageID)
	require.NoError(t, err)

	b, err := s.ExportClassifier(imageID, "")
	require.NoError(t, err)
	src, err := s.decode(imageID)
	require.NoError(t, err)
	labels, _, err := b.Apply(ctx, src, 1)
	require.NoError(t, err)
	assert.True(t, seg.Labels.Equal(labels))
}

func TestExportImportAnnotations(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	_, err := s.ReplaceShapes(ctx, imageID, twoClasses(), descriptor.AxisTrace)
	require.NoError(t, err)
	want := s.shapes(imageID)

	data, err := s.ExportAnnotations(ctx, descriptor.AxisLayout)
	require.NoError(t, err)
	var e descriptor.Export
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, descriptor.AxisLayout, e.Axis)
	require.Len(t, e.Images[imageID], 2)

	other, _ := newTestService(t)
	e.Images["ghost.png"] = e.Images[imageID]
	data, err = descriptor.EncodeExport(e)
	require.NoError(t, err)

	res, err := other.ImportAnnotations(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, []string{imageID}, res.Applied)
	assert.Equal(t, []string{"ghost.png"}, res.Skipped)
	assert.True(t, models.EqualSets(want, other.shapes(imageID)))

	_, err = other.ImportAnnotations(ctx, []byte("{"))
	assert.ErrorIs(t, err, apperr.ErrMalformedGeometry)
}

func TestAddAndDeleteImage(t *testing.T) {
	s, rec := newTestService(t)
	ctx := context.Background()
	data := testutil.PNG(t, testutil.Checkerboard(8, 4, 2))

	img, err := s.AddImage(ctx, "sub/small.png", data)
	require.NoError(t, err)
	assert.Equal(t, 8, img.Width)
	assert.Equal(t, 4, img.Height)
	assert.Equal(t, "png", img.Format)

	_, err = s.AddImage(ctx, "sub/small.png", data)
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
	_, err = s.AddImage(ctx, "notes.md", data)
	assert.ErrorIs(t, err, apperr.ErrInvalidImage)
	_, err = s.AddImage(ctx, "broken.png", []byte("nope"))
	assert.ErrorIs(t, err, apperr.ErrInvalidImage)

	_, err = s.ReplaceShapes(ctx, img.ID, []descriptor.Descriptor{rect(0, 0, 2, 2, carColor)}, descriptor.AxisTrace)
	require.NoError(t, err)

	require.NoError(t, s.DeleteImage(ctx, img.ID))
	_, err = s.Image(ctx, img.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, s.shapes(img.ID))
	assert.NotEmpty(t, rec.types())

	err = s.DeleteImage(ctx, img.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestHandleImageEventPurgesCache(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	_, err := s.ReplaceShapes(ctx, imageID, twoClasses(), descriptor.AxisTrace)
	require.NoError(t, err)
	_, err = s.Segment(ctx, imageID)
	require.NoError(t, err)
	require.Len(t, s.History(imageID), 1)

	s.HandleImageEvent("updated", imageID)
	assert.Empty(t, s.History(imageID))
	assert.Len(t, s.shapes(imageID), 2, "an updated file keeps its shapes")

	s.HandleImageEvent("deleted", imageID)
	assert.Empty(t, s.shapes(imageID))
}

func TestPalette(t *testing.T) {
	s, _ := newTestService(t)
	p := s.Palette()
	assert.Len(t, p.Classes, 15)
	assert.Equal(t, carColor, p.Classes[0].Color)
	assert.Equal(t, 8.0, p.StrokeWidth)
	assert.Equal(t, descriptor.AxisTrace, p.Axis)
}
