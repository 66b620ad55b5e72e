// Package engine trains a per-pixel classifier from a partial label map
// and predicts a dense label map for the whole image.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/segmark/internal/apperr"
	"github.com/starford/segmark/internal/features"
	"github.com/starford/segmark/internal/forest"
	"github.com/starford/segmark/internal/models"
)

// Config bundles the feature and forest settings of a session.
type Config struct {
	Features features.Config `yaml:"features"`
	Forest   forest.Config   `yaml:"forest"`
	Workers  int             `yaml:"workers"`
}

// DefaultConfig returns the default multiscale features and forest.
func DefaultConfig() Config {
	return Config{Features: features.DefaultConfig(), Forest: forest.DefaultConfig()}
}

// Classifier is a trained model together with the feature settings it was
// trained on.
type Classifier struct {
	Features features.Config `json:"features"`
	Forest   *forest.Forest  `json:"forest"`
}

// Check validates a decoded classifier.
func (c *Classifier) Check() error {
	if c == nil || c.Forest == nil {
		return errors.New("engine: classifier has no forest")
	}
	if err := c.Features.Validate(); err != nil {
		return fmt.Errorf("engine: classifier features: %w", err)
	}
	return c.Forest.Check()
}

// Engine runs segmentations. It is safe for concurrent use.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an engine.
func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Segment trains a fresh classifier on the non-zero pixels of mask and
// labels every pixel of img. With a nil mask the previous classifier is
// applied as is.
func (e *Engine) Segment(ctx context.Context, img image.Image, mask *models.LabelMap, prev *Classifier) (*models.LabelMap, *Classifier, error) {
	if mask == nil {
		if prev == nil {
			return nil, nil, fmt.Errorf("engine: no labels and no classifier: %w", apperr.ErrInsufficientLabels)
		}
		out, err := e.Predict(ctx, img, prev)
		return out, prev, err
	}

	b := img.Bounds()
	if mask.Width != b.Dx() || mask.Height != b.Dy() {
		return nil, nil, fmt.Errorf("engine: mask %dx%d does not match image %dx%d",
			mask.Width, mask.Height, b.Dx(), b.Dy())
	}
	if n := len(mask.Labels()); n < 2 {
		return nil, nil, fmt.Errorf("engine: %d distinct labels: %w", n, apperr.ErrInsufficientLabels)
	}

	start := time.Now()
	stack, err := features.Extract(ctx, img, e.cfg.Features, e.cfg.Workers)
	if err != nil {
		return nil, nil, err
	}

	nf := stack.NumFeatures()
	var x []float32
	var y []uint16
	row := make([]float32, 0, nf)
	for p, l := range mask.Pix {
		if l == 0 {
			continue
		}
		x = append(x, stack.Pixel(p, row)...)
		y = append(y, l)
	}

	fcfg := e.cfg.Forest
	if fcfg.Workers == 0 {
		fcfg.Workers = e.cfg.Workers
	}
	f, err := forest.Train(ctx, x, nf, y, fcfg)
	if err != nil {
		return nil, nil, err
	}
	clf := &Classifier{Features: e.cfg.Features, Forest: f}

	out, err := e.predictStack(ctx, stack, f)
	if err != nil {
		return nil, nil, err
	}
	e.logger.Debug("engine: segmentation trained",
		slog.Int("width", stack.Width), slog.Int("height", stack.Height),
		slog.Int("features", nf), slog.Int("samples", len(y)), slog.Int("classes", len(f.Classes)),
		slog.Duration("elapsed", time.Since(start)))
	return out, clf, nil
}

// Predict labels every pixel of img with clf, using the feature settings
// stored in clf.
func (e *Engine) Predict(ctx context.Context, img image.Image, clf *Classifier) (*models.LabelMap, error) {
	if err := clf.Check(); err != nil {
		return nil, err
	}
	stack, err := features.Extract(ctx, img, clf.Features, e.cfg.Workers)
	if err != nil {
		return nil, err
	}
	if stack.NumFeatures() != clf.Forest.NumFeatures {
		return nil, fmt.Errorf("engine: image yields %d features, classifier expects %d",
			stack.NumFeatures(), clf.Forest.NumFeatures)
	}
	return e.predictStack(ctx, stack, clf.Forest)
}

// predictStack classifies pixels in row bands, one band per worker.
func (e *Engine) predictStack(ctx context.Context, stack *features.Stack, f *forest.Forest) (*models.LabelMap, error) {
	out := models.NewLabelMap(stack.Width, stack.Height)
	workers := e.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	band := max(1, (stack.Height+workers-1)/workers)

	g, gCtx := errgroup.WithContext(ctx)
	for y0 := 0; y0 < stack.Height; y0 += band {
		y1 := min(y0+band, stack.Height)
		g.Go(func() error {
			row := make([]float32, 0, stack.NumFeatures())
			acc := make([]float64, len(f.Classes))
			for y := y0; y < y1; y++ {
				if err := gCtx.Err(); err != nil {
					return err
				}
				for x := 0; x < stack.Width; x++ {
					p := y*stack.Width + x
					out.Pix[p] = f.Predict(stack.Pixel(p, row), acc)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
