package models

import (
	"fmt"
	"image/color"

	"github.com/starford/segmark/internal/apperr"
)

// ShapePatch carries the fields of a partial update. Nil fields are left as is.
type ShapePatch struct {
	X0       *float64
	Y0       *float64
	X1       *float64
	Y1       *float64
	Path     []Subpath
	Color    *color.RGBA
	Width    *float64
	Editable *bool
}

// Empty reports whether the patch changes nothing.
func (p ShapePatch) Empty() bool {
	return p.X0 == nil && p.Y0 == nil && p.X1 == nil && p.Y1 == nil &&
		p.Path == nil && p.Color == nil && p.Width == nil && p.Editable == nil
}

// Apply returns a copy of s with the patch fields replaced. Rectangle
// corners on a path, or path data on a rectangle, are rejected.
func (p ShapePatch) Apply(s Shape) (Shape, error) {
	out := s.Clone()
	hasCorners := p.X0 != nil || p.Y0 != nil || p.X1 != nil || p.Y1 != nil
	switch {
	case hasCorners && s.Kind != KindRect:
		return s, fmt.Errorf("models: corner update on %s shape: %w", s.Kind, apperr.ErrMalformedGeometry)
	case p.Path != nil && s.Kind != KindPath:
		return s, fmt.Errorf("models: path update on %s shape: %w", s.Kind, apperr.ErrMalformedGeometry)
	}
	if p.X0 != nil {
		out.Rect.X0 = *p.X0
	}
	if p.Y0 != nil {
		out.Rect.Y0 = *p.Y0
	}
	if p.X1 != nil {
		out.Rect.X1 = *p.X1
	}
	if p.Y1 != nil {
		out.Rect.Y1 = *p.Y1
	}
	if p.Path != nil {
		out.Path = Shape{Path: p.Path}.Clone().Path
	}
	if p.Color != nil {
		out.Line.Color = *p.Color
	}
	if p.Width != nil {
		out.Line.Width = *p.Width
	}
	if p.Editable != nil {
		out.Editable = *p.Editable
	}
	return out, nil
}
