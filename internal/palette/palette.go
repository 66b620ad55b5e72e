// Package palette maps label classes to stroke colors and back.
package palette

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/starford/segmark/internal/apperr"
)

// Light24 is the Plotly "Light24" qualitative palette.
var Light24 = []string{
	"#FD3216", "#00FE35", "#6A76FC", "#FED4C4", "#FE00CE", "#0DF9FF",
	"#F6F926", "#FF9616", "#479B55", "#EEA6FB", "#DC587D", "#D626FF",
	"#6E899C", "#00B5F7", "#B68E00", "#C9FBE5", "#FF0092", "#22FFA7",
	"#E3EE9E", "#86CE00", "#BC7196", "#7E7DCD", "#FC6955", "#E48F72",
}

// Named palettes selectable from configuration.
var Named = map[string][]string{
	"light24": Light24,
}

// Entry pairs a class with its color.
type Entry struct {
	Class int    `json:"class"`
	Color string `json:"color"`
}

// Codec is a bijection between class ids [0, Classes) and the first Classes
// palette colors. The full palette stays available for rendering so label
// offsets can wrap around it.
type Codec struct {
	colors  []color.RGBA
	index   map[color.RGBA]int
	classes int
}

// New builds a codec from hex colors. classes must not exceed len(hexes).
func New(hexes []string, classes int) (*Codec, error) {
	if len(hexes) == 0 {
		return nil, fmt.Errorf("palette: empty palette")
	}
	if classes <= 0 || classes > len(hexes) {
		return nil, fmt.Errorf("palette: %d classes do not fit a palette of %d colors", classes, len(hexes))
	}
	c := &Codec{
		colors:  make([]color.RGBA, len(hexes)),
		index:   make(map[color.RGBA]int, len(hexes)),
		classes: classes,
	}
	for i, h := range hexes {
		rgba, err := ParseHex(h)
		if err != nil {
			return nil, err
		}
		if _, dup := c.index[rgba]; dup {
			return nil, fmt.Errorf("palette: duplicate color %s", h)
		}
		c.colors[i] = rgba
		c.index[rgba] = i
	}
	return c, nil
}

// Default returns the Light24 codec with 15 classes.
func Default() *Codec {
	c, err := New(Light24, 15)
	if err != nil {
		panic(err)
	}
	return c
}

// Classes returns the number of label classes.
func (c *Codec) Classes() int { return c.classes }

// Len returns the palette size.
func (c *Codec) Len() int { return len(c.colors) }

// ClassToColor returns the color of classID.
func (c *Codec) ClassToColor(classID int) (color.RGBA, error) {
	if classID < 0 || classID >= c.classes {
		return color.RGBA{}, fmt.Errorf("palette: class %d: %w", classID, apperr.ErrIndexOutOfRange)
	}
	return c.colors[classID], nil
}

// ColorToClass returns the class whose color is col.
func (c *Codec) ColorToClass(col color.RGBA) (int, error) {
	i, ok := c.index[col]
	if !ok || i >= c.classes {
		return 0, fmt.Errorf("palette: %s: %w", Hex(col), apperr.ErrUnknownColor)
	}
	return i, nil
}

// Wrap returns the palette color at i modulo the palette size.
func (c *Codec) Wrap(i int) color.RGBA {
	n := len(c.colors)
	return c.colors[((i%n)+n)%n]
}

// Hexes returns the full palette as hex strings.
func (c *Codec) Hexes() []string {
	out := make([]string, len(c.colors))
	for i, col := range c.colors {
		out[i] = Hex(col)
	}
	return out
}

// Entries lists the enabled classes.
func (c *Codec) Entries() []Entry {
	out := make([]Entry, c.classes)
	for i := range out {
		out[i] = Entry{Class: i, Color: Hex(c.colors[i])}
	}
	return out
}

// Hex formats col as "#RRGGBB".
func Hex(col color.RGBA) string {
	return fmt.Sprintf("#%02X%02X%02X", col.R, col.G, col.B)
}

// ParseHex parses "#rrggbb", "#rgb" or "rgb(r, g, b)" into an opaque color.
func ParseHex(s string) (color.RGBA, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if strings.HasPrefix(s, "rgb(") && strings.HasSuffix(s, ")") {
		parts := strings.Split(s[4:len(s)-1], ",")
		if len(parts) != 3 {
			return color.RGBA{}, fmt.Errorf("palette: bad color %q: %w", s, apperr.ErrUnknownColor)
		}
		var v [3]uint8
		for i, p := range parts {
			n, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
			if err != nil {
				return color.RGBA{}, fmt.Errorf("palette: bad color %q: %w", s, apperr.ErrUnknownColor)
			}
			v[i] = uint8(n)
		}
		return color.RGBA{R: v[0], G: v[1], B: v[2], A: 0xff}, nil
	}
	s = strings.TrimPrefix(s, "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return color.RGBA{}, fmt.Errorf("palette: bad color %q: %w", s, apperr.ErrUnknownColor)
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("palette: bad color %q: %w", s, apperr.ErrUnknownColor)
	}
	return color.RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 0xff}, nil
}
