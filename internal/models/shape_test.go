package models

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

var red = Line{Color: color.RGBA{R: 0xfd, G: 0x32, B: 0x16, A: 0xff}, Width: 8}

func TestEqualIgnoresTimestampAndEditable(t *testing.T) {
	a := NewRect(10, 10, 20, 20, red)
	b := a
	b.Timestamp = 999
	b.Editable = false
	assert.True(t, Equal(a, b))

	c := a
	c.Rect.X1 = 21
	assert.False(t, Equal(a, c))

	d := a
	d.Line.Color.G = 0
	assert.False(t, Equal(a, d))

	e := a
	e.Line.Width = 2
	assert.False(t, Equal(a, e))
}

func TestEqualPaths(t *testing.T) {
	sp := []Subpath{{Points: []Point{{1, 2}, {3, 4}}}}
	a := NewPath(sp, red)
	b := a.Clone()
	b.Timestamp = 5
	assert.True(t, Equal(a, b))

	b.Path[0].Closed = true
	assert.False(t, Equal(a, b))
	assert.False(t, a.Path[0].Closed, "clone must not alias")

	r := NewRect(1, 2, 3, 4, red)
	assert.False(t, Equal(a, r))
}

func TestCanonicalIgnoresTimestamps(t *testing.T) {
	s1 := ShapeSet{NewRect(10, 10, 20, 20, red), NewPath([]Subpath{{Points: []Point{{0, 0}, {5, 5}}}}, red)}
	s2 := s1.Clone()
	s2[0].Timestamp = 42
	s2[1].Timestamp = 43
	s2[1].Editable = false
	assert.Equal(t, Canonical(s1), Canonical(s2))

	s3 := ShapeSet{s1[1], s1[0]}
	assert.NotEqual(t, Canonical(s1), Canonical(s3), "order is part of the content")
}

func TestCanonicalFoldsNegativeZero(t *testing.T) {
	negZero := 0.0
	negZero = -negZero
	a := NewRect(0, 0, 1, 1, red)
	b := NewRect(negZero, 0, 1, 1, red)
	assert.True(t, Equal(a, b))
	assert.Equal(t, Canonical([]Shape{a}), Canonical([]Shape{b}))
}

func TestShapeSetIndexOf(t *testing.T) {
	ss := ShapeSet{NewRect(0, 0, 1, 1, red), NewRect(2, 2, 3, 3, red)}
	probe := NewRect(2, 2, 3, 3, red)
	probe.Timestamp = 7
	assert.Equal(t, 1, ss.IndexOf(probe))
	assert.Equal(t, -1, ss.IndexOf(NewRect(9, 9, 9, 9, red)))
}

func TestLabelMapLabels(t *testing.T) {
	m := NewLabelMap(3, 2)
	m.Set(0, 0, 3)
	m.Set(2, 1, 1)
	m.Set(1, 1, 3)
	assert.Equal(t, []uint16{1, 3}, m.Labels())
	assert.Equal(t, uint16(3), m.Max())
	assert.Equal(t, uint16(1), m.At(2, 1))
}

func TestShapePatchApply(t *testing.T) {
	r := NewRect(0, 0, 10, 10, red)
	x1 := 20.0
	w := 2.0
	got, err := ShapePatch{X1: &x1, Width: &w}.Apply(r)
	assert.NoError(t, err)
	assert.Equal(t, Rect{X0: 0, Y0: 0, X1: 20, Y1: 10}, got.Rect)
	assert.Equal(t, 2.0, got.Line.Width)
	assert.Equal(t, 10.0, r.Rect.X1, "source shape untouched")

	_, err = ShapePatch{Path: []Subpath{{Points: []Point{{1, 1}}}}}.Apply(r)
	assert.Error(t, err)

	p := NewPath([]Subpath{{Points: []Point{{0, 0}, {1, 1}}}}, red)
	_, err = ShapePatch{X0: &x1}.Apply(p)
	assert.Error(t, err)
	assert.True(t, ShapePatch{}.Empty())
}
