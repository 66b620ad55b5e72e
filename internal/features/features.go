// Package features computes multiscale per-pixel feature planes used to
// train and apply the pixel classifier.
package features

import (
	"context"
	"fmt"
	"image"
	"math"
	"runtime"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/sync/errgroup"
)

// Config selects the feature families and scales. Training and prediction
// must use the same Config.
type Config struct {
	SigmaMin  float64 `json:"sigma_min" yaml:"sigma_min"`
	SigmaMax  float64 `json:"sigma_max" yaml:"sigma_max"`
	NumSigma  int     `json:"num_sigma,omitempty" yaml:"num_sigma"`
	Intensity bool    `json:"intensity" yaml:"intensity"`
	Edges     bool    `json:"edges" yaml:"edges"`
	Texture   bool    `json:"texture" yaml:"texture"`
}

// DefaultConfig mirrors the usual multiscale setup: sigmas 0.5..16 with
// all three families enabled.
func DefaultConfig() Config {
	return Config{SigmaMin: 0.5, SigmaMax: 16, Intensity: true, Edges: true, Texture: true}
}

// Validate validates the feature configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.SigmaMin, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&c.SigmaMax, validation.Required, validation.Min(c.SigmaMin), validation.Max(64.0)),
		validation.Field(&c.NumSigma, validation.Min(0), validation.Max(32)),
	); err != nil {
		return err
	}
	if !c.Intensity && !c.Edges && !c.Texture {
		return fmt.Errorf("features: at least one of intensity, edges, texture must be enabled")
	}
	return nil
}

// Sigmas returns the log2-spaced smoothing scales.
func (c Config) Sigmas() []float64 {
	n := c.NumSigma
	if n <= 0 {
		n = int(math.Log2(c.SigmaMax)-math.Log2(c.SigmaMin)) + 1
	}
	if n <= 1 || c.SigmaMax == c.SigmaMin {
		return []float64{c.SigmaMin}
	}
	lo, hi := math.Log2(c.SigmaMin), math.Log2(c.SigmaMax)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Exp2(lo + (hi-lo)*float64(i)/float64(n-1))
	}
	return out
}

// perScale is the number of planes produced for one channel at one sigma.
func (c Config) perScale() int {
	n := 0
	if c.Intensity {
		n++
	}
	if c.Edges {
		n++
	}
	if c.Texture {
		n += 2
	}
	return n
}

// Count returns the number of feature planes for an image with the given
// channel count.
func (c Config) Count(channels int) int {
	return channels * len(c.Sigmas()) * c.perScale()
}

// Stack holds one float32 plane per feature, each Width*Height long.
type Stack struct {
	Width  int
	Height int
	Planes [][]float32
}

// NumFeatures returns the number of planes.
func (s *Stack) NumFeatures() int { return len(s.Planes) }

// Pixel copies the feature vector of pixel p into dst and returns it.
func (s *Stack) Pixel(p int, dst []float32) []float32 {
	dst = dst[:0]
	for _, plane := range s.Planes {
		dst = append(dst, plane[p])
	}
	return dst
}

// Extract computes the feature stack of img. Work is split per
// (channel, sigma) pair across at most workers goroutines; workers <= 0
// uses GOMAXPROCS. The output does not depend on scheduling.
func Extract(ctx context.Context, img image.Image, cfg Config, workers int) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	channels := Channels(img)
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	sigmas := cfg.Sigmas()
	per := cfg.perScale()

	stack := &Stack{Width: w, Height: h, Planes: make([][]float32, len(channels)*len(sigmas)*per)}
	if w == 0 || h == 0 {
		for i := range stack.Planes {
			stack.Planes[i] = []float32{}
		}
		return stack, nil
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for ci, ch := range channels {
		for si, sigma := range sigmas {
			base := (ci*len(sigmas) + si) * per
			g.Go(func() error {
				if err := gCtx.Err(); err != nil {
					return err
				}
				smoothed := gaussian(ch, w, h, sigma)
				k := base
				if cfg.Intensity {
					stack.Planes[k] = smoothed
					k++
				}
				if cfg.Edges {
					stack.Planes[k] = sobel(smoothed, w, h)
					k++
				}
				if cfg.Texture {
					stack.Planes[k], stack.Planes[k+1] = hessianEigen(smoothed, w, h)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stack, nil
}

// Channels converts img to float planes in [0,1]. Gray images yield one
// plane; everything else yields R, G and B. Alpha is ignored.
func Channels(img image.Image) [][]float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch src := img.(type) {
	case *image.Gray:
		out := make([]float32, w*h)
		for y := 0; y < h; y++ {
			off := src.PixOffset(b.Min.X, b.Min.Y+y)
			row := src.Pix[off : off+w]
			for x, v := range row {
				out[y*w+x] = float32(v) / 255
			}
		}
		return [][]float32{out}
	case *image.Gray16:
		out := make([]float32, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out[y*w+x] = float32(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y) / 65535
			}
		}
		return [][]float32{out}
	}
	r := make([]float32, w*h)
	g := make([]float32, w*h)
	bl := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			cr, cg, cb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			p := y*w + x
			r[p] = float32(cr) / 65535
			g[p] = float32(cg) / 65535
			bl[p] = float32(cb) / 65535
		}
	}
	return [][]float32{r, g, bl}
}
