// Package models defines the domain types for segmark.
package models

import (
	"encoding/binary"
	"image/color"
	"math"
)

// Kind tags the geometry variant of a Shape.
type Kind string

// Shape kinds.
const (
	KindRect Kind = "rect"
	KindPath Kind = "path"
)

// Point is a 2-D coordinate in image pixel space (origin top-left, y down).
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect holds two opposite corners. Corners are kept as drawn, not normalised.
type Rect struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Bounds returns the rectangle with min/max ordered corners.
func (r Rect) Bounds() (minX, minY, maxX, maxY float64) {
	return math.Min(r.X0, r.X1), math.Min(r.Y0, r.Y1), math.Max(r.X0, r.X1), math.Max(r.Y0, r.Y1)
}

// Subpath is one move-to run of a path.
type Subpath struct {
	Points []Point `json:"points"`
	Closed bool    `json:"closed"`
}

// Line is the stroke style. Color is always a palette entry.
type Line struct {
	Color color.RGBA `json:"color"`
	Width float64    `json:"width"`
}

// Shape is a single annotation. Exactly one of Rect or Path is meaningful,
// selected by Kind.
type Shape struct {
	Kind      Kind      `json:"kind"`
	Rect      Rect      `json:"rect,omitzero"`
	Path      []Subpath `json:"path,omitempty"`
	Line      Line      `json:"line"`
	Editable  bool      `json:"editable"`
	Timestamp int64     `json:"timestamp"`
}

// NewRect builds a rectangle shape.
func NewRect(x0, y0, x1, y1 float64, line Line) Shape {
	return Shape{Kind: KindRect, Rect: Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}, Line: line, Editable: true}
}

// NewPath builds a path shape.
func NewPath(subpaths []Subpath, line Line) Shape {
	return Shape{Kind: KindPath, Path: subpaths, Line: line, Editable: true}
}

// Equal reports whether a and b have the same geometry and class.
// Timestamp and Editable are ignored. Stroke width is compared as part of
// the geometry since it changes the rasterized footprint.
func Equal(a, b Shape) bool {
	if a.Kind != b.Kind || a.Line != b.Line {
		return false
	}
	switch a.Kind {
	case KindRect:
		return a.Rect == b.Rect
	case KindPath:
		if len(a.Path) != len(b.Path) {
			return false
		}
		for i := range a.Path {
			pa, pb := a.Path[i], b.Path[i]
			if pa.Closed != pb.Closed || len(pa.Points) != len(pb.Points) {
				return false
			}
			for j := range pa.Points {
				if pa.Points[j] != pb.Points[j] {
					return false
				}
			}
		}
		return true
	}
	return false
}

// Clone returns a deep copy of s.
func (s Shape) Clone() Shape {
	out := s
	if s.Path != nil {
		out.Path = make([]Subpath, len(s.Path))
		for i, sp := range s.Path {
			out.Path[i] = Subpath{Points: append([]Point(nil), sp.Points...), Closed: sp.Closed}
		}
	}
	return out
}

// ShapeSet is the ordered shape list of one image. Order is layer order.
type ShapeSet []Shape

// IndexOf returns the position of the first shape equal to s, or -1.
func (ss ShapeSet) IndexOf(s Shape) int {
	for i := range ss {
		if Equal(ss[i], s) {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the set.
func (ss ShapeSet) Clone() ShapeSet {
	if ss == nil {
		return nil
	}
	out := make(ShapeSet, len(ss))
	for i, s := range ss {
		out[i] = s.Clone()
	}
	return out
}

// EqualSets reports element-wise equality of two sets.
func EqualSets(a, b ShapeSet) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Canonical encodes the geometry and class fields of shapes into a stable
// byte form. Sets that are Equal element-wise encode identically.
func Canonical(shapes []Shape) []byte {
	buf := make([]byte, 0, 64*len(shapes))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(shapes)))
	for _, s := range shapes {
		buf = append(buf, s.Kind...)
		buf = append(buf, 0, s.Line.Color.R, s.Line.Color.G, s.Line.Color.B, s.Line.Color.A)
		buf = appendFloat(buf, s.Line.Width)
		switch s.Kind {
		case KindRect:
			buf = appendFloat(buf, s.Rect.X0)
			buf = appendFloat(buf, s.Rect.Y0)
			buf = appendFloat(buf, s.Rect.X1)
			buf = appendFloat(buf, s.Rect.Y1)
		case KindPath:
			buf = binary.BigEndian.AppendUint32(buf, uint32(len(s.Path)))
			for _, sp := range s.Path {
				if sp.Closed {
					buf = append(buf, 1)
				} else {
					buf = append(buf, 0)
				}
				buf = binary.BigEndian.AppendUint32(buf, uint32(len(sp.Points)))
				for _, p := range sp.Points {
					buf = appendFloat(buf, p.X)
					buf = appendFloat(buf, p.Y)
				}
			}
		}
	}
	return buf
}

func appendFloat(buf []byte, f float64) []byte {
	if f == 0 {
		f = 0 // fold -0 into +0
	}
	return binary.BigEndian.AppendUint64(buf, math.Float64bits(f))
}
