// Package bundle exports a trained classifier with everything needed to
// reapply it outside a session.
package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"

	"github.com/starford/segmark/internal/engine"
	"github.com/starford/segmark/internal/features"
	"github.com/starford/segmark/internal/forest"
	"github.com/starford/segmark/internal/models"
	"github.com/starford/segmark/internal/palette"
	"github.com/starford/segmark/internal/render"
)

// Version is the current bundle format version.
const Version = 1

// ColorArgs are the rendering settings stored with a classifier.
// Classes is the number of enabled classes at training time; zero means
// every colormap entry.
type ColorArgs struct {
	Colormap []string `json:"colormap"`
	Classes  int      `json:"classes,omitempty"`
	render.Options
}

// Bundle is the on-disk classifier format.
type Bundle struct {
	Version           int             `json:"version"`
	Classifier        *forest.Forest  `json:"classifier"`
	SegmenterArgs     features.Config `json:"segmenter_args"`
	LabelToColorsArgs ColorArgs       `json:"label_to_colors_args"`
}

// New bundles clf with the palette and rendering options of the session.
func New(clf *engine.Classifier, codec *palette.Codec, opts render.Options) *Bundle {
	return &Bundle{
		Version:           Version,
		Classifier:        clf.Forest,
		SegmenterArgs:     clf.Features,
		LabelToColorsArgs: ColorArgs{Colormap: codec.Hexes(), Classes: codec.Classes(), Options: opts},
	}
}

// Encode writes b as indented JSON.
func Encode(w io.Writer, b *Bundle) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}

// Decode reads and checks a bundle.
func Decode(r io.Reader) (*Bundle, error) {
	var b Bundle
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("bundle: decode: %w", err)
	}
	if b.Version != Version {
		return nil, fmt.Errorf("bundle: unsupported version %d", b.Version)
	}
	if err := b.EngineClassifier().Check(); err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}
	if _, err := b.Codec(); err != nil {
		return nil, err
	}
	return &b, nil
}

// EngineClassifier returns the classifier in the form the engine uses.
func (b *Bundle) EngineClassifier() *engine.Classifier {
	return &engine.Classifier{Features: b.SegmenterArgs, Forest: b.Classifier}
}

// Codec rebuilds the palette stored in the bundle.
func (b *Bundle) Codec() (*palette.Codec, error) {
	classes := b.LabelToColorsArgs.Classes
	if classes == 0 {
		classes = len(b.LabelToColorsArgs.Colormap)
	}
	codec, err := palette.New(b.LabelToColorsArgs.Colormap, classes)
	if err != nil {
		return nil, fmt.Errorf("bundle: colormap: %w", err)
	}
	return codec, nil
}

// Apply classifies img and renders the result with the stored colors.
func (b *Bundle) Apply(ctx context.Context, img image.Image, workers int) (*models.LabelMap, *image.NRGBA, error) {
	codec, err := b.Codec()
	if err != nil {
		return nil, nil, err
	}
	lm, err := engine.New(engine.Config{Workers: workers}, nil).Predict(ctx, img, b.EngineClassifier())
	if err != nil {
		return nil, nil, err
	}
	return lm, render.LabelsToColors(lm, codec, b.LabelToColorsArgs.Options), nil
}
