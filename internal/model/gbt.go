package model

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// GBTName is the registry name of the tree-ensemble backend.
const GBTName = "gbt"

// Node is one node of a flattened regression tree.
type Node struct {
	Leaf      bool    `json:"leaf"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
	Value     float64 `json:"value"`
}

// Tree is a regression tree; node 0 is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t Tree) predict(x []float64) float64 {
	i := 0
	for !t.Nodes[i].Leaf {
		n := t.Nodes[i]
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return t.Nodes[i].Value
}

// GBT is a squared-loss gradient-boosted ensemble of regression trees.
type GBT struct {
	NumTrees       int     `json:"num_trees"`
	LearningRate   float64 `json:"learning_rate"`
	MaxDepth       int     `json:"max_depth"`
	MinSamplesLeaf int     `json:"min_samples_leaf"`
	Subsample      float64 `json:"subsample"`
	Seed           int64   `json:"seed"`
	Width          int     `json:"width"`
	Base           float64 `json:"base"`
	Trees          []Tree  `json:"trees"`
}

var _ Regressor = (*GBT)(nil)

// NewGBTFromParams reads num_trees, learning_rate, max_depth, min_samples_leaf and subsample.
func NewGBTFromParams(params map[string]float64, seed int64) (Regressor, error) {
	g := &GBT{
		NumTrees:       int(param(params, "num_trees", 200)),
		LearningRate:   param(params, "learning_rate", 0.1),
		MaxDepth:       int(param(params, "max_depth", 4)),
		MinSamplesLeaf: int(param(params, "min_samples_leaf", 5)),
		Subsample:      param(params, "subsample", 0.8),
		Seed:           seed,
	}
	switch {
	case g.NumTrees < 1:
		return nil, fmt.Errorf("gbt: num_trees must be >= 1")
	case g.LearningRate <= 0 || g.LearningRate > 1:
		return nil, fmt.Errorf("gbt: learning_rate must be within (0, 1]")
	case g.MaxDepth < 1:
		return nil, fmt.Errorf("gbt: max_depth must be >= 1")
	case g.MinSamplesLeaf < 1:
		return nil, fmt.Errorf("gbt: min_samples_leaf must be >= 1")
	case g.Subsample <= 0 || g.Subsample > 1:
		return nil, fmt.Errorf("gbt: subsample must be within (0, 1]")
	}
	return g, nil
}

func (g *GBT) Name() string { return GBTName }

func (g *GBT) Params() map[string]float64 {
	return map[string]float64{
		"num_trees":        float64(g.NumTrees),
		"learning_rate":    g.LearningRate,
		"max_depth":        float64(g.MaxDepth),
		"min_samples_leaf": float64(g.MinSamplesLeaf),
		"subsample":        g.Subsample,
	}
}

func (g *GBT) Fit(X [][]float64, y []float64) error {
	width, err := checkMatrix(X, y)
	if err != nil {
		return fmt.Errorf("gbt: %w", err)
	}
	n := len(X)
	g.Width = width
	g.Trees = make([]Tree, 0, g.NumTrees)

	var sum float64
	for _, v := range y {
		sum += v
	}
	g.Base = sum / float64(n)

	pred := make([]float64, n)
	for i := range pred {
		pred[i] = g.Base
	}
	resid := make([]float64, n)
	rng := rand.New(rand.NewPCG(uint64(g.Seed), uint64(g.Seed)^0x9e3779b97f4a7c15))
	sampleSize := max(1, int(math.Round(g.Subsample*float64(n))))

	for m := 0; m < g.NumTrees; m++ {
		for i := range resid {
			resid[i] = y[i] - pred[i]
		}

		var idx []int
		if sampleSize < n {
			idx = rng.Perm(n)[:sampleSize]
			sort.Ints(idx)
		} else {
			idx = make([]int, n)
			for i := range idx {
				idx[i] = i
			}
		}

		b := treeBuilder{x: X, r: resid, maxDepth: g.MaxDepth, minLeaf: g.MinSamplesLeaf, width: width}
		b.grow(idx, 0)
		tree := Tree{Nodes: b.nodes}
		g.Trees = append(g.Trees, tree)

		for i := range pred {
			pred[i] += g.LearningRate * tree.predict(X[i])
		}
	}
	return nil
}

func (g *GBT) Predict(X [][]float64) ([]float64, error) {
	if g.Trees == nil {
		return nil, fmt.Errorf("gbt: model is not fitted")
	}
	out := make([]float64, len(X))
	for i, row := range X {
		if len(row) != g.Width {
			return nil, fmt.Errorf("gbt: row %d has %d features, want %d", i, len(row), g.Width)
		}
		v := g.Base
		for _, t := range g.Trees {
			v += g.LearningRate * t.predict(row)
		}
		out[i] = v
	}
	return out, nil
}

type treeBuilder struct {
	x        [][]float64
	r        []float64
	maxDepth int
	minLeaf  int
	width    int
	nodes    []Node
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	var sum float64
	for _, i := range idx {
		sum += b.r[i]
	}
	self := len(b.nodes)
	b.nodes = append(b.nodes, Node{Leaf: true, Value: sum / float64(len(idx))})

	if depth >= b.maxDepth || len(idx) < 2*b.minLeaf {
		return self
	}

	feature, threshold, left, right, ok := b.bestSplit(idx, sum)
	if !ok {
		return self
	}

	b.nodes[self].Leaf = false
	b.nodes[self].Feature = feature
	b.nodes[self].Threshold = threshold
	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[self].Left = l
	b.nodes[self].Right = r
	return self
}

// bestSplit scans every feature for the split with the largest squared-error reduction.
func (b *treeBuilder) bestSplit(idx []int, total float64) (int, float64, []int, []int, bool) {
	n := len(idx)
	base := total * total / float64(n)
	bestGain := 1e-12
	bestFeature, bestK := -1, 0
	var bestOrder []int

	order := make([]int, n)
	for f := 0; f < b.width; f++ {
		copy(order, idx)
		sort.Slice(order, func(i, j int) bool {
			vi, vj := b.x[order[i]][f], b.x[order[j]][f]
			if vi != vj {
				return vi < vj
			}
			return order[i] < order[j]
		})

		var leftSum float64
		for k := 1; k < n; k++ {
			leftSum += b.r[order[k-1]]
			if k < b.minLeaf || n-k < b.minLeaf {
				continue
			}
			if b.x[order[k-1]][f] == b.x[order[k]][f] {
				continue
			}
			rightSum := total - leftSum
			gain := leftSum*leftSum/float64(k) + rightSum*rightSum/float64(n-k) - base
			if gain > bestGain {
				bestGain, bestFeature, bestK = gain, f, k
				bestOrder = append(bestOrder[:0], order...)
			}
		}
	}
	if bestFeature < 0 {
		return 0, 0, nil, nil, false
	}

	threshold := (b.x[bestOrder[bestK-1]][bestFeature] + b.x[bestOrder[bestK]][bestFeature]) / 2
	left := append([]int(nil), bestOrder[:bestK]...)
	right := append([]int(nil), bestOrder[bestK:]...)
	return bestFeature, threshold, left, right, true
}
