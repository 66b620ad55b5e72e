package models

import "slices"

// LabelMap is a row-major integer raster. As a labeled mask, 0 means
// unlabeled and positive values are layer values. As a segmentation, every
// pixel carries the predicted label.
type LabelMap struct {
	Width  int      `json:"width"`
	Height int      `json:"height"`
	Pix    []uint16 `json:"-"`
}

// NewLabelMap allocates a zeroed map.
func NewLabelMap(w, h int) *LabelMap {
	return &LabelMap{Width: w, Height: h, Pix: make([]uint16, w*h)}
}

// At returns the label at (x, y).
func (m *LabelMap) At(x, y int) uint16 {
	return m.Pix[y*m.Width+x]
}

// Set writes the label at (x, y).
func (m *LabelMap) Set(x, y int, v uint16) {
	m.Pix[y*m.Width+x] = v
}

// Labels returns the distinct non-zero labels in ascending order.
func (m *LabelMap) Labels() []uint16 {
	var seen [1 << 16]bool
	var out []uint16
	for _, v := range m.Pix {
		if v != 0 && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return out
}

// Max returns the largest label.
func (m *LabelMap) Max() uint16 {
	if len(m.Pix) == 0 {
		return 0
	}
	return slices.Max(m.Pix)
}

// Equal reports whether two maps have identical size and contents.
func (m *LabelMap) Equal(o *LabelMap) bool {
	return m.Width == o.Width && m.Height == o.Height && slices.Equal(m.Pix, o.Pix)
}
