package descriptor

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"

	"github.com/starford/segmark/internal/apperr"
	"github.com/starford/segmark/internal/models"
	"github.com/starford/segmark/internal/palette"
	"github.com/starford/segmark/internal/parser"
)

// relayoutPrefixRe strips the "shapes[3]." prefix of relayout-style keys.
var relayoutPrefixRe = regexp.MustCompile(`^shapes\[\d+\]\.`)

// Patch is the boundary form of a partial update. It accepts both flat
// relayout keys ("x0", "line.color", "shapes[2].y1") and a nested "line"
// object.
type Patch struct {
	X0        *float64 `json:"x0,omitempty"`
	Y0        *float64 `json:"y0,omitempty"`
	X1        *float64 `json:"x1,omitempty"`
	Y1        *float64 `json:"y1,omitempty"`
	Path      *string  `json:"path,omitempty"`
	LineColor *string  `json:"line.color,omitempty"`
	LineWidth *float64 `json:"line.width,omitempty"`
	Editable  *bool    `json:"editable,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Patch) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = Patch{}
	for key, val := range raw {
		key = relayoutPrefixRe.ReplaceAllString(key, "")
		var err error
		switch key {
		case "x0":
			err = json.Unmarshal(val, &p.X0)
		case "y0":
			err = json.Unmarshal(val, &p.Y0)
		case "x1":
			err = json.Unmarshal(val, &p.X1)
		case "y1":
			err = json.Unmarshal(val, &p.Y1)
		case "path":
			err = json.Unmarshal(val, &p.Path)
		case "line.color":
			err = json.Unmarshal(val, &p.LineColor)
		case "line.width":
			err = json.Unmarshal(val, &p.LineWidth)
		case "editable":
			err = json.Unmarshal(val, &p.Editable)
		case "line":
			var l struct {
				Color *string  `json:"color"`
				Width *float64 `json:"width"`
			}
			err = json.Unmarshal(val, &l)
			if l.Color != nil {
				p.LineColor = l.Color
			}
			if l.Width != nil {
				p.LineWidth = l.Width
			}
		}
		if err != nil {
			return fmt.Errorf("descriptor: field %q: %w", key, err)
		}
	}
	return nil
}

// Resolve converts the patch to canonical coordinates and palette colors.
func (p Patch) Resolve(codec *palette.Codec, axis Axis, height int) (models.ShapePatch, error) {
	var out models.ShapePatch
	for _, f := range []*float64{p.X0, p.Y0, p.X1, p.Y1, p.LineWidth} {
		if f != nil && (math.IsNaN(*f) || math.IsInf(*f, 0)) {
			return out, fmt.Errorf("descriptor: non-finite patch value: %w", apperr.ErrMalformedGeometry)
		}
	}
	if p.X0 != nil {
		x := Snap(*p.X0)
		out.X0 = &x
	}
	if p.X1 != nil {
		x := Snap(*p.X1)
		out.X1 = &x
	}
	if p.Y0 != nil {
		y := axis.y(*p.Y0, height)
		out.Y0 = &y
	}
	if p.Y1 != nil {
		y := axis.y(*p.Y1, height)
		out.Y1 = &y
	}
	if p.Path != nil {
		subpaths, err := parser.Parse(*p.Path)
		if err != nil {
			return out, err
		}
		for i := range subpaths {
			for j := range subpaths[i].Points {
				pt := &subpaths[i].Points[j]
				pt.X, pt.Y = Snap(pt.X), axis.y(pt.Y, height)
			}
		}
		out.Path = subpaths
	}
	if p.LineColor != nil {
		col, err := palette.ParseHex(*p.LineColor)
		if err != nil {
			return out, err
		}
		if _, err := codec.ColorToClass(col); err != nil {
			return out, err
		}
		out.Color = &col
	}
	if p.LineWidth != nil {
		if *p.LineWidth <= 0 {
			return out, fmt.Errorf("descriptor: line width must be positive: %w", apperr.ErrMalformedGeometry)
		}
		out.Width = p.LineWidth
	}
	out.Editable = p.Editable
	return out, nil
}
