package raster

import (
	"context"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/segmark/internal/models"
)

var line = models.Line{Color: color.RGBA{R: 0xfd, G: 0x32, B: 0x16, A: 0xff}, Width: 4}

func covered(t *testing.T, s models.Shape, w, h, x, y int) bool {
	t.Helper()
	return ShapeToMask(s, w, h).AlphaAt(x, y).A != 0
}

func TestRectIsTopLeftOrigin(t *testing.T) {
	m := ShapeToMask(models.NewRect(0, 0, 4, 2, line), 8, 8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			want := x < 4 && y < 2
			assert.Equal(t, want, m.AlphaAt(x, y).A != 0, "pixel (%d,%d)", x, y)
		}
	}
	// Row 0 of the mask is the first row of the pixel slice.
	assert.Equal(t, uint8(0xff), m.Pix[0])
	assert.Equal(t, uint8(0), m.Pix[7*m.Stride])
}

func TestRectCornersAnyOrder(t *testing.T) {
	a := ShapeToMask(models.NewRect(10, 10, 20, 20, line), 32, 32)
	b := ShapeToMask(models.NewRect(20, 20, 10, 10, line), 32, 32)
	assert.Equal(t, a.Pix, b.Pix)
	assert.NotZero(t, a.AlphaAt(15, 15).A)
	assert.Zero(t, a.AlphaAt(9, 15).A)
	assert.Zero(t, a.AlphaAt(20, 15).A)
}

func TestRectClippedToCanvas(t *testing.T) {
	m := ShapeToMask(models.NewRect(-10, -10, 3, 3, line), 8, 8)
	assert.NotZero(t, m.AlphaAt(0, 0).A)
	assert.Zero(t, m.AlphaAt(5, 5).A)
}

func TestOpenPathStroke(t *testing.T) {
	s := models.NewPath([]models.Subpath{{Points: []models.Point{{X: 4, Y: 10}, {X: 24, Y: 10}}}}, line)
	assert.True(t, covered(t, s, 32, 32, 12, 10))
	assert.True(t, covered(t, s, 32, 32, 12, 8))
	assert.False(t, covered(t, s, 32, 32, 12, 14))
	assert.False(t, covered(t, s, 32, 32, 12, 2))
	// Round cap reaches one radius past the end point.
	assert.True(t, covered(t, s, 32, 32, 25, 10))
	assert.False(t, covered(t, s, 32, 32, 28, 10))
}

func TestClosedPathStrokesOnlyTheRing(t *testing.T) {
	square := []models.Point{{X: 4, Y: 4}, {X: 28, Y: 4}, {X: 28, Y: 28}, {X: 4, Y: 28}}
	thin := models.Line{Color: line.Color, Width: 2}
	closed := models.NewPath([]models.Subpath{{Points: square, Closed: true}}, thin)
	open := models.NewPath([]models.Subpath{{Points: square}}, thin)

	assert.True(t, covered(t, closed, 32, 32, 16, 4))
	assert.False(t, covered(t, closed, 32, 32, 16, 16), "interior of a stroked ring stays empty")
	assert.True(t, covered(t, closed, 32, 32, 4, 16), "closing edge is stroked")
	assert.False(t, covered(t, open, 32, 32, 4, 16), "open path has no closing edge")
}

func TestSinglePointDot(t *testing.T) {
	s := models.NewPath([]models.Subpath{{Points: []models.Point{{X: 5, Y: 5}}}}, line)
	assert.True(t, covered(t, s, 16, 16, 5, 5))
	assert.False(t, covered(t, s, 16, 16, 12, 12))
}

func TestZeroAreaAndZeroSize(t *testing.T) {
	m := ShapeToMask(models.NewRect(3, 3, 3, 9, line), 16, 16)
	for _, a := range m.Pix {
		require.Zero(t, a)
	}
	empty := ShapeToMask(models.NewRect(0, 0, 1, 1, line), 0, 0)
	assert.Empty(t, empty.Pix)
}

func TestCompositeLaterWins(t *testing.T) {
	shapes := []models.Shape{
		models.NewRect(0, 0, 6, 6, line),
		models.NewRect(4, 4, 8, 8, line),
	}
	lm, err := Composite(context.Background(), shapes, 8, 8, nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), lm.At(1, 1))
	assert.Equal(t, uint16(2), lm.At(5, 5), "overlap belongs to the later shape")
	assert.Equal(t, uint16(2), lm.At(7, 7))
	assert.Equal(t, uint16(0), lm.At(7, 0))
}

func TestCompositeExplicitLayers(t *testing.T) {
	shapes := []models.Shape{models.NewRect(0, 0, 2, 2, line), models.NewRect(2, 2, 4, 4, line)}
	lm, err := Composite(context.Background(), shapes, 4, 4, []uint16{7, 3})
	require.NoError(t, err)
	assert.Equal(t, []uint16{3, 7}, lm.Labels())

	_, err = Composite(context.Background(), shapes, 4, 4, []uint16{1})
	assert.Error(t, err)
}

func TestCompositeDuplicateIsNoOp(t *testing.T) {
	s := models.NewPath([]models.Subpath{{Points: []models.Point{{X: 1, Y: 1}, {X: 14, Y: 9}}}}, line)
	alone, err := Composite(context.Background(), []models.Shape{s}, 16, 16, []uint16{5})
	require.NoError(t, err)
	twice, err := Composite(context.Background(), []models.Shape{s, s}, 16, 16, []uint16{5, 5})
	require.NoError(t, err)
	assert.True(t, alone.Equal(twice))
}

func TestCompositeManyShapesKeepsOrder(t *testing.T) {
	// More shapes than one render batch, all covering the same pixel.
	var shapes []models.Shape
	for i := 0; i < 40; i++ {
		shapes = append(shapes, models.NewRect(0, 0, 3, 3, line))
	}
	lm, err := Composite(context.Background(), shapes, 4, 4, nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(40), lm.At(1, 1))
}

func TestCompositeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Composite(ctx, []models.Shape{models.NewRect(0, 0, 1, 1, line)}, 4, 4, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
