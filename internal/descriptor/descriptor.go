// Package descriptor converts between the JSON shape records exchanged with
// drawing clients and the canonical shape model.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/segmark/internal/apperr"
	"github.com/starford/segmark/internal/models"
	"github.com/starford/segmark/internal/palette"
	"github.com/starford/segmark/internal/parser"
)

// Axis is the y-axis convention of client coordinates.
type Axis string

// Axis conventions. Trace is y-down like the image itself. Layout is y-up
// with the image spanning (0, height), as used by layout-image figures.
const (
	AxisTrace  Axis = "trace"
	AxisLayout Axis = "layout"
)

// ParseAxis validates s, falling back to def when s is empty.
func ParseAxis(s string, def Axis) (Axis, error) {
	switch Axis(s) {
	case "":
		return def, nil
	case AxisTrace, AxisLayout:
		return Axis(s), nil
	}
	return "", fmt.Errorf("descriptor: unknown axis %q", s)
}

// gridScale is the number of coordinate steps per pixel. Coordinates on a
// power-of-two grid subtract from an integer height without rounding, so
// the layout flip is an exact involution.
const gridScale = 1024

// Snap rounds v to the coordinate grid.
func Snap(v float64) float64 {
	return math.Round(v*gridScale) / gridScale
}

// y maps a coordinate between client and canonical space. The mapping is
// its own inverse on snapped values.
func (a Axis) y(v float64, height int) float64 {
	v = Snap(v)
	if a == AxisLayout {
		return float64(height) - v
	}
	return v
}

// Line is the stroke part of a descriptor.
type Line struct {
	Color string  `json:"color"`
	Width float64 `json:"width"`
}

// Descriptor is the boundary form of a shape.
type Descriptor struct {
	Type      string    `json:"type"`
	X0        *float64  `json:"x0,omitempty"`
	Y0        *float64  `json:"y0,omitempty"`
	X1        *float64  `json:"x1,omitempty"`
	Y1        *float64  `json:"y1,omitempty"`
	Path      string    `json:"path,omitempty"`
	Line      Line      `json:"line"`
	Editable  *bool     `json:"editable,omitempty"`
	Timestamp Timestamp `json:"timestamp,omitzero"`
}

var finite = validation.By(func(v any) error {
	var f float64
	switch x := v.(type) {
	case *float64:
		if x == nil {
			return nil
		}
		f = *x
	case float64:
		f = x
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return errors.New("must be a finite number")
	}
	return nil
})

// Validate checks the structural rules of the descriptor.
func (d *Descriptor) Validate() error {
	isRect := d.Type == string(models.KindRect)
	isPath := d.Type == string(models.KindPath)
	if err := validation.ValidateStruct(d,
		validation.Field(&d.Type, validation.Required, validation.In(string(models.KindRect), string(models.KindPath))),
		validation.Field(&d.X0, validation.When(isRect, validation.NotNil), finite),
		validation.Field(&d.Y0, validation.When(isRect, validation.NotNil), finite),
		validation.Field(&d.X1, validation.When(isRect, validation.NotNil), finite),
		validation.Field(&d.Y1, validation.When(isRect, validation.NotNil), finite),
		validation.Field(&d.Path, validation.When(isPath, validation.Required)),
	); err != nil {
		return err
	}
	return validation.ValidateStruct(&d.Line,
		validation.Field(&d.Line.Color, validation.Required),
		validation.Field(&d.Line.Width, validation.Required, validation.Min(0.0).Exclusive(), validation.Max(4096.0)),
	)
}

// ToShape validates d and converts it to canonical coordinates. Geometry
// problems wrap apperr.ErrMalformedGeometry; colors outside the palette wrap
// apperr.ErrUnknownColor.
func ToShape(d Descriptor, codec *palette.Codec, axis Axis, height int) (models.Shape, error) {
	if err := d.Validate(); err != nil {
		return models.Shape{}, fmt.Errorf("descriptor: %v: %w", err, apperr.ErrMalformedGeometry)
	}
	col, err := palette.ParseHex(d.Line.Color)
	if err != nil {
		return models.Shape{}, err
	}
	if _, err := codec.ColorToClass(col); err != nil {
		return models.Shape{}, err
	}
	line := models.Line{Color: col, Width: d.Line.Width}

	var s models.Shape
	switch models.Kind(d.Type) {
	case models.KindRect:
		s = models.NewRect(Snap(*d.X0), axis.y(*d.Y0, height), Snap(*d.X1), axis.y(*d.Y1, height), line)
	case models.KindPath:
		subpaths, err := parser.Parse(d.Path)
		if err != nil {
			return models.Shape{}, err
		}
		for i := range subpaths {
			for j := range subpaths[i].Points {
				p := &subpaths[i].Points[j]
				if math.IsNaN(p.X) || math.IsInf(p.X, 0) || math.IsNaN(p.Y) || math.IsInf(p.Y, 0) {
					return models.Shape{}, fmt.Errorf("descriptor: non-finite path point: %w", apperr.ErrMalformedGeometry)
				}
				p.X, p.Y = Snap(p.X), axis.y(p.Y, height)
			}
		}
		s = models.NewPath(subpaths, line)
	}
	if d.Editable != nil {
		s.Editable = *d.Editable
	}
	if d.Timestamp.Set {
		s.Timestamp = d.Timestamp.Value
	}
	return s, nil
}

// FromShape renders s in the requested axis convention.
func FromShape(s models.Shape, axis Axis, height int) Descriptor {
	editable := s.Editable
	d := Descriptor{
		Type:      string(s.Kind),
		Line:      Line{Color: palette.Hex(s.Line.Color), Width: s.Line.Width},
		Editable:  &editable,
		Timestamp: Timestamp{Value: s.Timestamp, Set: true},
	}
	switch s.Kind {
	case models.KindRect:
		x0, y0 := Snap(s.Rect.X0), axis.y(s.Rect.Y0, height)
		x1, y1 := Snap(s.Rect.X1), axis.y(s.Rect.Y1, height)
		d.X0, d.Y0, d.X1, d.Y1 = &x0, &y0, &x1, &y1
	case models.KindPath:
		subpaths := s.Clone().Path
		for i := range subpaths {
			for j := range subpaths[i].Points {
				pt := &subpaths[i].Points[j]
				pt.X, pt.Y = Snap(pt.X), axis.y(pt.Y, height)
			}
		}
		d.Path = parser.Format(subpaths)
	}
	return d
}

// ShapeError reports a descriptor rejected during a batch conversion.
type ShapeError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
	Err   error  `json:"-"`
}

// ToShapes converts a batch, isolating per-shape failures. The returned
// shapes keep the relative order of the accepted descriptors.
func ToShapes(ds []Descriptor, codec *palette.Codec, axis Axis, height int) ([]models.Shape, []ShapeError) {
	shapes := make([]models.Shape, 0, len(ds))
	var rejected []ShapeError
	for i, d := range ds {
		s, err := ToShape(d, codec, axis, height)
		if err != nil {
			rejected = append(rejected, ShapeError{Index: i, Error: err.Error(), Err: err})
			continue
		}
		shapes = append(shapes, s)
	}
	return shapes, rejected
}

// FromShapes renders a whole set.
func FromShapes(ss models.ShapeSet, axis Axis, height int) []Descriptor {
	out := make([]Descriptor, len(ss))
	for i, s := range ss {
		out[i] = FromShape(s, axis, height)
	}
	return out
}

// Timestamp accepts a JSON integer or a numeric string. Non-numeric strings
// are treated as absent.
type Timestamp struct {
	Value int64
	Set   bool
}

// IsZero reports whether the timestamp was absent.
func (t Timestamp) IsZero() bool { return !t.Set }

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(t.Value, 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	*t = Timestamp{}
	if string(b) == "null" {
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			*t = Timestamp{Value: v, Set: true}
			return nil
		}
		if f, err := n.Float64(); err == nil {
			*t = Timestamp{Value: int64(f), Set: true}
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("descriptor: timestamp must be a string or integer")
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		*t = Timestamp{Value: v, Set: true}
	}
	return nil
}
