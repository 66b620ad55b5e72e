package forest

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// builder grows one tree with Gini splits over a random feature subset.
type builder struct {
	x        []float32
	y        []int
	nf, nc   int
	mtry     int
	minLeaf  int
	maxDepth int
	rng      *rand.Rand
	nodes    []Node
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	s := 1.0
	for _, c := range counts {
		p := c / n
		s -= p * p
	}
	return s
}

func pure(counts []float64) bool {
	nonzero := 0
	for _, c := range counts {
		if c > 0 {
			nonzero++
		}
	}
	return nonzero <= 1
}

func (b *builder) leafNode(counts []float64, n int) Node {
	dist := make([]float64, len(counts))
	copy(dist, counts)
	floats.Scale(1/float64(n), dist)
	return Node{Feature: -1, Dist: dist}
}

// grow appends the subtree for the samples idx and returns its root.
func (b *builder) grow(idx []int, depth int) int32 {
	counts := make([]float64, b.nc)
	for _, i := range idx {
		counts[b.y[i]]++
	}
	self := int32(len(b.nodes))
	b.nodes = append(b.nodes, Node{})

	n := len(idx)
	if depth >= b.maxDepth || n < 2*b.minLeaf || pure(counts) {
		b.nodes[self] = b.leafNode(counts, n)
		return self
	}

	feature, thr, imp := b.bestSplit(idx, counts)
	if feature < 0 || gini(counts, float64(n))-imp < 1e-12 {
		b.nodes[self] = b.leafNode(counts, n)
		return self
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i*b.nf+feature] <= thr {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self] = Node{Feature: feature, Threshold: thr, Left: l, Right: r}
	return self
}

// bestSplit scans features in random order until mtry non-constant ones
// have been tried. It returns feature -1 when no valid split exists.
func (b *builder) bestSplit(idx []int, counts []float64) (int, float32, float64) {
	n := len(idx)
	vals := make([]float64, n)
	order := make([]int, n)
	left := make([]float64, b.nc)
	right := make([]float64, b.nc)

	bestF, bestThr, bestImp := -1, float32(0), math.Inf(1)
	tried := 0
	for _, f := range b.rng.Perm(b.nf) {
		if tried >= b.mtry {
			break
		}
		for k, i := range idx {
			vals[k] = float64(b.x[i*b.nf+f])
			order[k] = k
		}
		floats.Argsort(vals, order)
		if vals[0] == vals[n-1] {
			continue
		}
		tried++

		clear(left)
		copy(right, counts)
		for k := 0; k < n-1; k++ {
			c := b.y[idx[order[k]]]
			left[c]++
			right[c]--
			if vals[k] == vals[k+1] {
				continue
			}
			nl, nr := k+1, n-k-1
			if nl < b.minLeaf || nr < b.minLeaf {
				continue
			}
			imp := (float64(nl)*gini(left, float64(nl)) + float64(nr)*gini(right, float64(nr))) / float64(n)
			if imp < bestImp {
				bestImp = imp
				bestF = f
				bestThr = float32((vals[k] + vals[k+1]) / 2)
				if bestThr == float32(vals[k+1]) {
					bestThr = float32(vals[k])
				}
			}
		}
	}
	return bestF, bestThr, bestImp
}
