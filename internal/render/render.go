// Package render turns label maps into color images and PNG files.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"

	"golang.org/x/image/draw"

	"github.com/starford/segmark/internal/models"
	"github.com/starford/segmark/internal/palette"
)

// DefaultAlpha is the overlay opacity of rendered labels.
const DefaultAlpha = 128

// Options controls LabelsToColors. Label L is drawn with the palette color
// at (L+Offset) modulo the palette size.
type Options struct {
	Offset int   `json:"color_class_offset"`
	Alpha  uint8 `json:"alpha"`
}

// DefaultOptions maps label L back to class L-1.
func DefaultOptions() Options {
	return Options{Offset: -1, Alpha: DefaultAlpha}
}

// LabelsToColors renders lm with one palette color per label. Label 0 is
// fully transparent.
func LabelsToColors(lm *models.LabelMap, codec *palette.Codec, opts Options) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, lm.Width, lm.Height))
	cache := make(map[uint16]color.NRGBA)
	for p, l := range lm.Pix {
		if l == 0 {
			continue
		}
		c, ok := cache[l]
		if !ok {
			rgb := codec.Wrap(int(l) + opts.Offset)
			c = color.NRGBA{R: rgb.R, G: rgb.G, B: rgb.B, A: opts.Alpha}
			cache[l] = c
		}
		i := p * 4
		out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return out
}

// Overlay draws colors over base and returns the composite.
func Overlay(base image.Image, colors image.Image) *image.RGBA {
	b := base.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), base, b.Min, draw.Src)
	draw.Draw(out, out.Bounds(), colors, colors.Bounds().Min, draw.Over)
	return out
}

// Thumbnail scales src so its longer side is at most maxSide pixels.
// Images that already fit are copied unscaled.
func Thumbnail(src image.Image, maxSide int) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxSide > 0 && (w > maxSide || h > maxSide) {
		if w >= h {
			h = max(1, h*maxSide/w)
			w = maxSide
		} else {
			w = max(1, w*maxSide/h)
			h = maxSide
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// LabelImage converts lm to a gray image holding the raw label values:
// 8-bit when every label fits, 16-bit otherwise.
func LabelImage(lm *models.LabelMap) image.Image {
	r := image.Rect(0, 0, lm.Width, lm.Height)
	if lm.Max() < 256 {
		img := image.NewGray(r)
		for p, l := range lm.Pix {
			img.Pix[p] = uint8(l)
		}
		return img
	}
	img := image.NewGray16(r)
	for p, l := range lm.Pix {
		img.Pix[2*p] = uint8(l >> 8)
		img.Pix[2*p+1] = uint8(l)
	}
	return img
}

// EncodeLabelPNG writes lm as a gray PNG.
func EncodeLabelPNG(w io.Writer, lm *models.LabelMap) error {
	return png.Encode(w, LabelImage(lm))
}

// DecodeLabelPNG reads a label PNG written by EncodeLabelPNG.
func DecodeLabelPNG(r io.Reader) (*models.LabelMap, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("render: decode labels: %w", err)
	}
	b := img.Bounds()
	lm := models.NewLabelMap(b.Dx(), b.Dy())
	switch g := img.(type) {
	case *image.Gray:
		for y := 0; y < lm.Height; y++ {
			for x := 0; x < lm.Width; x++ {
				lm.Set(x, y, uint16(g.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
	case *image.Gray16:
		for y := 0; y < lm.Height; y++ {
			for x := 0; x < lm.Width; x++ {
				lm.Set(x, y, g.Gray16At(b.Min.X+x, b.Min.Y+y).Y)
			}
		}
	default:
		return nil, fmt.Errorf("render: label png has color model %T, want gray", img.ColorModel())
	}
	return lm, nil
}

// EncodePNG writes img as PNG with default compression.
func EncodePNG(w io.Writer, img image.Image) error {
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	return enc.Encode(w, img)
}
