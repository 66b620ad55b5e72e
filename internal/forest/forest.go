// Package forest implements a deterministic random-forest classifier over
// dense float32 feature rows.
package forest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"slices"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gonum.org/v1/gonum/floats"
	"golang.org/x/sync/errgroup"
)

// Config controls training. Two runs with the same Config and data produce
// identical forests regardless of Workers.
type Config struct {
	Trees          int     `json:"trees" yaml:"trees"`
	MaxDepth       int     `json:"max_depth" yaml:"max_depth"`
	MaxSamples     float64 `json:"max_samples" yaml:"max_samples"`
	MinSamplesLeaf int     `json:"min_samples_leaf" yaml:"min_samples_leaf"`
	MaxFeatures    int     `json:"max_features,omitempty" yaml:"max_features"`
	Seed           uint64  `json:"seed" yaml:"seed"`
	Workers        int     `json:"-" yaml:"workers"`
}

// DefaultConfig returns 50 trees of depth 8 trained on 5% bootstraps.
func DefaultConfig() Config {
	return Config{Trees: 50, MaxDepth: 8, MaxSamples: 0.05, MinSamplesLeaf: 1}
}

// Validate validates the training configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Trees, validation.Required, validation.Min(1), validation.Max(1000)),
		validation.Field(&c.MaxDepth, validation.Required, validation.Min(1), validation.Max(32)),
		validation.Field(&c.MaxSamples, validation.Required, validation.Min(0.0).Exclusive(), validation.Max(1.0)),
		validation.Field(&c.MinSamplesLeaf, validation.Min(0)),
		validation.Field(&c.MaxFeatures, validation.Min(0)),
	)
}

// minBootstrap is the bootstrap size floor for small training sets.
const minBootstrap = 1000

// ErrSingleClass is returned when the training labels hold fewer than two
// distinct values.
var ErrSingleClass = errors.New("forest: need at least two classes")

// Node is one node of a flattened tree. Leaves have Feature == -1 and carry
// the class distribution in Dist.
type Node struct {
	Feature   int       `json:"f"`
	Threshold float32   `json:"t,omitempty"`
	Left      int32     `json:"l,omitempty"`
	Right     int32     `json:"r,omitempty"`
	Dist      []float64 `json:"d,omitempty"`
}

// Tree is a flattened decision tree rooted at Nodes[0].
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) leaf(row []float32) []float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature < 0 {
			return n.Dist
		}
		if row[n.Feature] <= n.Threshold {
			i = int(n.Left)
		} else {
			i = int(n.Right)
		}
	}
}

// Forest is a trained classifier. Classes maps distribution slots back to
// the caller's labels.
type Forest struct {
	Classes     []uint16 `json:"classes"`
	NumFeatures int      `json:"num_features"`
	Trees       []Tree   `json:"trees"`
}

// Train fits a forest on x, a row-major matrix of len(y) rows with nf
// features each.
func Train(ctx context.Context, x []float32, nf int, y []uint16, cfg Config) (*Forest, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("forest: %w", err)
	}
	if nf <= 0 || len(x) != len(y)*nf {
		return nil, fmt.Errorf("forest: %d values for %d rows of %d features", len(x), len(y), nf)
	}

	classes := distinct(y)
	if len(classes) < 2 {
		return nil, ErrSingleClass
	}
	slot := make(map[uint16]int, len(classes))
	for i, c := range classes {
		slot[c] = i
	}
	yi := make([]int, len(y))
	for i, v := range y {
		yi[i] = slot[v]
	}

	n := len(y)
	m := max(int(math.Ceil(cfg.MaxSamples*float64(n))), min(n, minBootstrap))
	mtry := cfg.MaxFeatures
	if mtry <= 0 || mtry > nf {
		mtry = max(1, int(math.Sqrt(float64(nf))))
	}
	minLeaf := max(cfg.MinSamplesLeaf, 1)

	f := &Forest{Classes: classes, NumFeatures: nf, Trees: make([]Tree, cfg.Trees)}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for t := range f.Trees {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			b := &builder{
				x: x, y: yi, nf: nf, nc: len(classes),
				mtry: mtry, minLeaf: minLeaf, maxDepth: cfg.MaxDepth,
				rng: rand.New(rand.NewPCG(cfg.Seed, uint64(t))),
			}
			idx := make([]int, m)
			for i := range idx {
				idx[i] = b.rng.IntN(n)
			}
			b.grow(idx, 0)
			f.Trees[t] = Tree{Nodes: b.nodes}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return f, nil
}

// Predict returns the label with the highest mean probability for row.
// acc is scratch space of at least len(Classes); nil allocates.
func (f *Forest) Predict(row []float32, acc []float64) uint16 {
	if cap(acc) < len(f.Classes) {
		acc = make([]float64, len(f.Classes))
	}
	acc = acc[:len(f.Classes)]
	clear(acc)
	for i := range f.Trees {
		floats.Add(acc, f.Trees[i].leaf(row))
	}
	return f.Classes[floats.MaxIdx(acc)]
}

// Check verifies the structural integrity of a decoded forest.
func (f *Forest) Check() error {
	if len(f.Classes) < 2 {
		return ErrSingleClass
	}
	if len(f.Trees) == 0 {
		return errors.New("forest: no trees")
	}
	for ti, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("forest: tree %d is empty", ti)
		}
		for ni, n := range t.Nodes {
			switch {
			case n.Feature < 0:
				if len(n.Dist) != len(f.Classes) {
					return fmt.Errorf("forest: tree %d node %d: distribution has %d slots, want %d", ti, ni, len(n.Dist), len(f.Classes))
				}
			case n.Feature >= f.NumFeatures:
				return fmt.Errorf("forest: tree %d node %d: feature %d out of range", ti, ni, n.Feature)
			case int(n.Left) <= ni || int(n.Right) <= ni || int(n.Left) >= len(t.Nodes) || int(n.Right) >= len(t.Nodes):
				return fmt.Errorf("forest: tree %d node %d: bad children", ti, ni)
			}
		}
	}
	return nil
}

func distinct(y []uint16) []uint16 {
	out := slices.Clone(y)
	slices.Sort(out)
	return slices.Compact(out)
}
