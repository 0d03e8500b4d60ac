package tree

import (
	"math"
	"math/rand/v2"
)

// Node is a single node of a fitted tree. Leaves have Left == Right == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Depth     int

	// Value is the weighted class distribution of the training samples that
	// reached this node, normalized to sum to 1.
	Value []float64

	Impurity        float64
	NSamples        int
	WeightedSamples float64
}

// IsLeaf returns true if the node has no children.
func (n *Node) IsLeaf() bool {
	return n.Left < 0
}

// growParams carries the stopping rules for a single tree.
type growParams struct {
	criterion           string
	maxDepth            int // 0 means unlimited
	minSamplesSplit     int
	minSamplesLeaf      int
	maxFeatures         int
	minImpurityDecrease float64
}

// builder grows one tree over a BinnedMatrix. Samples with zero weight are
// excluded up front; bootstrap duplicates are expressed as weights.
type builder struct {
	data     *BinnedMatrix
	y        []int32
	weight   []float64
	nClasses int
	params   growParams
	rng      *rand.Rand

	samples     []int32
	nodes       []Node
	importances []float64

	// scratch buffers reused across nodes
	hist     []float64
	counts   []int
	features []int
}

type splitCandidate struct {
	feature     int
	bin         int
	improvement float64
	valid       bool
}

func newBuilder(data *BinnedMatrix, y []int32, weight []float64, nClasses int, params growParams, rng *rand.Rand) *builder {
	b := &builder{
		data:        data,
		y:           y,
		weight:      weight,
		nClasses:    nClasses,
		params:      params,
		rng:         rng,
		importances: make([]float64, data.NFeatures),
		hist:        make([]float64, MaxBinLimit*nClasses),
		counts:      make([]int, MaxBinLimit),
		features:    make([]int, data.NFeatures),
	}
	b.samples = make([]int32, 0, data.NSamples)
	for i := 0; i < data.NSamples; i++ {
		if weight[i] > 0 {
			b.samples = append(b.samples, int32(i))
		}
	}
	for j := range b.features {
		b.features[j] = j
	}
	return b
}

func (b *builder) build() []Node {
	if len(b.samples) > 0 {
		b.grow(0, len(b.samples), 0)
	}
	return b.nodes
}

// grow builds the subtree over samples[start:end] and returns its node index.
func (b *builder) grow(start, end, depth int) int {
	dist := make([]float64, b.nClasses)
	var total float64
	for _, s := range b.samples[start:end] {
		w := b.weight[s]
		dist[b.y[s]] += w
		total += w
	}
	impurity := b.impurity(dist, total)

	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Feature:         -1,
		Left:            -1,
		Right:           -1,
		Depth:           depth,
		Value:           normalize(dist, total),
		Impurity:        impurity,
		NSamples:        end - start,
		WeightedSamples: total,
	})

	n := end - start
	if (b.params.maxDepth > 0 && depth >= b.params.maxDepth) ||
		n < b.params.minSamplesSplit ||
		n < 2*b.params.minSamplesLeaf ||
		impurity <= 1e-12 {
		return idx
	}

	split := b.findBestSplit(start, end, dist, total, impurity)
	if !split.valid || split.improvement+1e-12 < b.params.minImpurityDecrease {
		return idx
	}

	mid := b.partition(start, end, split.feature, split.bin)
	b.importances[split.feature] += split.improvement * total

	b.nodes[idx].Feature = split.feature
	b.nodes[idx].Threshold = b.data.Upper[split.feature][split.bin]

	left := b.grow(start, mid, depth+1)
	right := b.grow(mid, end, depth+1)
	b.nodes[idx].Left = left
	b.nodes[idx].Right = right
	return idx
}

// findBestSplit draws features in random order and evaluates the first
// maxFeatures of them. When none of those yields a valid split, the search
// continues through the remaining features.
func (b *builder) findBestSplit(start, end int, parent []float64, total, impurity float64) splitCandidate {
	p := b.data.NFeatures
	if b.params.maxFeatures < p {
		b.rng.Shuffle(p, func(i, j int) {
			b.features[i], b.features[j] = b.features[j], b.features[i]
		})
	} else {
		for j := range b.features {
			b.features[j] = j
		}
	}

	best := splitCandidate{improvement: math.Inf(-1)}
	for visited, j := range b.features {
		if visited >= b.params.maxFeatures && best.valid {
			break
		}
		cand := b.evaluateFeature(j, start, end, parent, total, impurity)
		if cand.valid && cand.improvement > best.improvement {
			best = cand
		}
	}
	return best
}

// evaluateFeature builds the class histogram of feature j over the node and
// sweeps the bin boundaries.
func (b *builder) evaluateFeature(j, start, end int, parent []float64, total, impurity float64) splitCandidate {
	nBins := b.data.NBins(j)
	k := b.nClasses
	hist := b.hist[:nBins*k]
	counts := b.counts[:nBins]
	for i := range hist {
		hist[i] = 0
	}
	for i := range counts {
		counts[i] = 0
	}

	bins := b.data.Bins[j]
	for _, s := range b.samples[start:end] {
		bin := int(bins[s])
		hist[bin*k+int(b.y[s])] += b.weight[s]
		counts[bin]++
	}

	n := end - start
	left := make([]float64, k)
	right := make([]float64, k)
	var leftW float64
	leftN := 0

	best := splitCandidate{feature: j, improvement: math.Inf(-1)}
	for bin := 0; bin < nBins-1; bin++ {
		if counts[bin] == 0 {
			continue
		}
		for c := 0; c < k; c++ {
			left[c] += hist[bin*k+c]
			leftW += hist[bin*k+c]
		}
		leftN += counts[bin]
		rightN := n - leftN
		if rightN == 0 {
			break
		}
		if leftN < b.params.minSamplesLeaf || rightN < b.params.minSamplesLeaf {
			continue
		}

		rightW := total - leftW
		for c := 0; c < k; c++ {
			right[c] = parent[c] - left[c]
		}
		children := (leftW/total)*b.impurity(left, leftW) + (rightW/total)*b.impurity(right, rightW)
		improvement := impurity - children
		if improvement > best.improvement {
			best.improvement = improvement
			best.bin = bin
			best.valid = true
		}
	}
	return best
}

// partition reorders samples[start:end] so that rows with bin <= splitBin
// come first, and returns the boundary.
func (b *builder) partition(start, end, feature, splitBin int) int {
	bins := b.data.Bins[feature]
	i, j := start, end-1
	for i <= j {
		if int(bins[b.samples[i]]) <= splitBin {
			i++
			continue
		}
		b.samples[i], b.samples[j] = b.samples[j], b.samples[i]
		j--
	}
	return i
}

func (b *builder) impurity(dist []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	switch b.params.criterion {
	case "entropy", "log_loss":
		var h float64
		for _, w := range dist {
			if w > 0 {
				p := w / total
				h -= p * math.Log2(p)
			}
		}
		return h
	default:
		sumSq := 0.0
		for _, w := range dist {
			p := w / total
			sumSq += p * p
		}
		return 1 - sumSq
	}
}

func normalize(dist []float64, total float64) []float64 {
	out := make([]float64, len(dist))
	if total <= 0 {
		return out
	}
	for i, w := range dist {
		out[i] = w / total
	}
	return out
}
