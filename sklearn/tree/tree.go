// Package tree implements a CART decision tree classifier compatible with
// scikit-learn's DecisionTreeClassifier.
//
// Features are discretized into at most 255 bins before growing (histogram
// splitting), which keeps fitting linear in the number of samples per level.
// With few distinct values per feature the result is identical to exact CART.
package tree

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"

	"github.com/YuminosukeSato/fraudml/core/model"
	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// DecisionTreeClassifier is a binary or multiclass decision tree.
type DecisionTreeClassifier struct {
	state *model.StateManager

	// Hyperparameters
	criterion           string  // "gini" or "entropy"
	maxDepth            int     // 0 means unlimited
	minSamplesSplit     int     // Minimum samples required to split an internal node
	minSamplesLeaf      int     // Minimum samples required at a leaf
	maxFeatures         string  // "none", "sqrt", "log2", an integer or a fraction
	maxBins             int     // Histogram bins per feature
	classWeight         string  // "none" or "balanced"
	minImpurityDecrease float64 // Required weighted impurity decrease
	randomState         int64   // Seed for feature sampling; -1 draws a random seed

	// Fitted attributes
	classes_            []int
	nClasses_           int
	nFeatures_          int
	nodes_              []Node
	featureImportances_ []float64
}

// DecisionTreeOption is a functional option for DecisionTreeClassifier
type DecisionTreeOption func(*DecisionTreeClassifier)

// NewDecisionTreeClassifier creates a new DecisionTreeClassifier
func NewDecisionTreeClassifier(opts ...DecisionTreeOption) *DecisionTreeClassifier {
	dt := &DecisionTreeClassifier{
		state:           model.NewStateManager(),
		criterion:       "gini",
		maxDepth:        0,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     "none",
		maxBins:         MaxBinLimit,
		classWeight:     "none",
		randomState:     -1,
	}
	for _, opt := range opts {
		opt(dt)
	}
	return dt
}

// WithCriterion sets the split quality measure: "gini" or "entropy"
func WithCriterion(criterion string) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.criterion = criterion
	}
}

// WithMaxDepth sets the maximum depth of the tree (0 for unlimited)
func WithMaxDepth(depth int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.maxDepth = depth
	}
}

// WithMinSamplesSplit sets the minimum number of samples required to split
func WithMinSamplesSplit(n int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesSplit = n
	}
}

// WithMinSamplesLeaf sets the minimum number of samples at a leaf
func WithMinSamplesLeaf(n int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.minSamplesLeaf = n
	}
}

// WithMaxFeatures sets how many features are considered per split
func WithMaxFeatures(maxFeatures string) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.maxFeatures = maxFeatures
	}
}

// WithMaxBins sets the number of histogram bins per feature (2..255)
func WithMaxBins(n int) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.maxBins = n
	}
}

// WithClassWeight sets the class weighting: "none" or "balanced"
func WithClassWeight(classWeight string) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.classWeight = classWeight
	}
}

// WithRandomState sets the random seed
func WithRandomState(seed int64) DecisionTreeOption {
	return func(dt *DecisionTreeClassifier) {
		dt.randomState = seed
	}
}

// Fit builds the tree from the training set (X, y).
func (dt *DecisionTreeClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "DecisionTreeClassifier.Fit")

	labels, err := ExtractLabels("DecisionTreeClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	if err := dt.validate(); err != nil {
		return err
	}

	data, err := NewBinnedMatrix(X, dt.maxBins)
	if err != nil {
		return err
	}

	classes, yIdx := EncodeClasses(labels)
	weights, err := ClassSampleWeights(dt.classWeight, yIdx, len(classes))
	if err != nil {
		return err
	}

	rng := NewRand(dt.randomState)
	return dt.FitBinned(data, yIdx, classes, weights, rng)
}

// FitBinned grows the tree on pre-binned data. yIdx holds class indices into
// classes and weight holds per-sample weights (zero excludes a sample).
// Forests call this directly so the binning is shared across trees.
func (dt *DecisionTreeClassifier) FitBinned(data *BinnedMatrix, yIdx []int32, classes []int, weight []float64, rng *rand.Rand) error {
	if err := dt.validate(); err != nil {
		return err
	}
	if len(yIdx) != data.NSamples || len(weight) != data.NSamples {
		return errors.NewDimensionError("DecisionTreeClassifier.FitBinned", data.NSamples, len(yIdx), 0)
	}
	maxFeatures, err := ResolveMaxFeatures(dt.maxFeatures, data.NFeatures)
	if err != nil {
		return err
	}

	b := newBuilder(data, yIdx, weight, len(classes), growParams{
		criterion:           dt.criterion,
		maxDepth:            dt.maxDepth,
		minSamplesSplit:     dt.minSamplesSplit,
		minSamplesLeaf:      dt.minSamplesLeaf,
		maxFeatures:         maxFeatures,
		minImpurityDecrease: dt.minImpurityDecrease,
	}, rng)
	nodes := b.build()
	if len(nodes) == 0 {
		return errors.NewValueError("DecisionTreeClassifier.Fit", "all sample weights are zero")
	}

	dt.classes_ = append([]int(nil), classes...)
	dt.nClasses_ = len(classes)
	dt.nFeatures_ = data.NFeatures
	dt.nodes_ = nodes
	dt.featureImportances_ = normalizeImportances(b.importances)

	dt.state.SetDimensions(data.NFeatures, data.NSamples)
	dt.state.SetFitted()
	return nil
}

func (dt *DecisionTreeClassifier) validate() error {
	switch dt.criterion {
	case "gini", "entropy", "log_loss":
	default:
		return errors.NewValidationError("criterion", "must be 'gini' or 'entropy'", dt.criterion)
	}
	if dt.maxDepth < 0 {
		return errors.NewValidationError("max_depth", "must be >= 0 (0 for unlimited)", dt.maxDepth)
	}
	if dt.minSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be >= 2", dt.minSamplesSplit)
	}
	if dt.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be >= 1", dt.minSamplesLeaf)
	}
	if dt.minImpurityDecrease < 0 {
		return errors.NewValidationError("min_impurity_decrease", "must be >= 0", dt.minImpurityDecrease)
	}
	return nil
}

// PredictProba returns an n×nClasses matrix of class probabilities.
func (dt *DecisionTreeClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := dt.state.RequireFitted("DecisionTreeClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	n, p := X.Dims()
	if n == 0 {
		return nil, errors.NewModelError("DecisionTreeClassifier.PredictProba", "empty data", errors.ErrEmptyData)
	}
	if err := dt.state.RequireFeatures("DecisionTreeClassifier.PredictProba", p); err != nil {
		return nil, err
	}

	proba := mat.NewDense(n, dt.nClasses_, nil)
	row := make([]float64, p)
	for i := 0; i < n; i++ {
		mat.Row(row, i, X)
		proba.SetRow(i, dt.nodes_[dt.Apply(row)].Value)
	}
	return proba, nil
}

// Predict returns an n×1 matrix of predicted class labels.
func (dt *DecisionTreeClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := dt.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return ArgmaxLabels(proba, dt.classes_), nil
}

// Apply returns the index of the leaf that the sample falls into.
func (dt *DecisionTreeClassifier) Apply(row []float64) int {
	idx := 0
	for {
		node := &dt.nodes_[idx]
		if node.IsLeaf() {
			return idx
		}
		if row[node.Feature] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
}

// Score returns the mean accuracy on the given data. It returns 0 when
// prediction fails.
func (dt *DecisionTreeClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := dt.Predict(X)
	if err != nil {
		return 0
	}
	return MeanAccuracy(pred, y)
}

// Classes returns the class labels seen during fitting.
func (dt *DecisionTreeClassifier) Classes() []int {
	return append([]int(nil), dt.classes_...)
}

// GetFeatureImportances returns the normalized impurity-based importances.
func (dt *DecisionTreeClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), dt.featureImportances_...)
}

// GetDepth returns the depth of the deepest leaf (the root has depth 0).
func (dt *DecisionTreeClassifier) GetDepth() int {
	depth := 0
	for i := range dt.nodes_ {
		if dt.nodes_[i].Depth > depth {
			depth = dt.nodes_[i].Depth
		}
	}
	return depth
}

// GetNLeaves returns the number of leaves.
func (dt *DecisionTreeClassifier) GetNLeaves() int {
	leaves := 0
	for i := range dt.nodes_ {
		if dt.nodes_[i].IsLeaf() {
			leaves++
		}
	}
	return leaves
}

// Nodes returns the fitted nodes in depth-first order.
func (dt *DecisionTreeClassifier) Nodes() []Node {
	return dt.nodes_
}

// IsFitted returns whether the tree has been fitted.
func (dt *DecisionTreeClassifier) IsFitted() bool {
	return dt.state.IsFitted()
}

// GetParams returns the hyperparameters
func (dt *DecisionTreeClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":             dt.criterion,
		"max_depth":             dt.maxDepth,
		"min_samples_split":     dt.minSamplesSplit,
		"min_samples_leaf":      dt.minSamplesLeaf,
		"max_features":          dt.maxFeatures,
		"max_bins":              dt.maxBins,
		"class_weight":          dt.classWeight,
		"min_impurity_decrease": dt.minImpurityDecrease,
		"random_state":          dt.randomState,
	}
}

// SetParams sets the hyperparameters. Numeric values may be given as int,
// int64, float64 or json.Number.
func (dt *DecisionTreeClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "criterion":
			dt.criterion, err = model.StringParam(key, value)
		case "max_depth":
			if value == nil {
				dt.maxDepth = 0
			} else {
				dt.maxDepth, err = model.IntParam(key, value)
			}
		case "min_samples_split":
			dt.minSamplesSplit, err = model.IntParam(key, value)
		case "min_samples_leaf":
			dt.minSamplesLeaf, err = model.IntParam(key, value)
		case "max_features":
			dt.maxFeatures, err = MaxFeaturesParam(key, value)
		case "max_bins":
			dt.maxBins, err = model.IntParam(key, value)
		case "class_weight":
			dt.classWeight, err = model.StringParam(key, value)
		case "min_impurity_decrease":
			dt.minImpurityDecrease, err = model.FloatParam(key, value)
		case "random_state":
			var seed int
			seed, err = model.IntParam(key, value)
			dt.randomState = int64(seed)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ===========================================================================
//
//	Helpers shared with ensembles
//
// ===========================================================================

// ExtractLabels validates X and y and returns y as a slice.
// y may be an n×1 matrix or a vector.
func ExtractLabels(op string, X, y mat.Matrix) ([]float64, error) {
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return nil, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	ry, cy := y.Dims()
	if ry != n {
		return nil, errors.NewDimensionError(op, n, ry, 0)
	}
	if cy != 1 {
		return nil, errors.NewValueError(op, fmt.Sprintf("y must be a column vector, got %d columns", cy))
	}
	if err := errors.CheckMatrix(op, X, n, p); err != nil {
		return nil, err
	}
	labels := make([]float64, n)
	for i := 0; i < n; i++ {
		v := y.At(i, 0)
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return nil, errors.NewValueError(op, fmt.Sprintf("class labels must be integers, got %v at row %d", v, i))
		}
		labels[i] = v
	}
	return labels, nil
}

// EncodeClasses returns the sorted distinct labels and each sample's index
// into them.
func EncodeClasses(labels []float64) ([]int, []int32) {
	seen := make(map[int]struct{})
	for _, v := range labels {
		seen[int(v)] = struct{}{}
	}
	classes := make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	pos := make(map[int]int32, len(classes))
	for i, c := range classes {
		pos[c] = int32(i)
	}
	yIdx := make([]int32, len(labels))
	for i, v := range labels {
		yIdx[i] = pos[int(v)]
	}
	return classes, yIdx
}

// ClassSampleWeights returns per-sample weights for the class weighting mode.
// "balanced" weights class c by n / (nClasses * count(c)).
func ClassSampleWeights(mode string, yIdx []int32, nClasses int) ([]float64, error) {
	weights := make([]float64, len(yIdx))
	switch mode {
	case "", "none":
		for i := range weights {
			weights[i] = 1
		}
	case "balanced":
		counts := make([]float64, nClasses)
		for _, c := range yIdx {
			counts[c]++
		}
		perClass := make([]float64, nClasses)
		for c, cnt := range counts {
			if cnt > 0 {
				perClass[c] = float64(len(yIdx)) / (float64(nClasses) * cnt)
			}
		}
		for i, c := range yIdx {
			weights[i] = perClass[c]
		}
	default:
		return nil, errors.NewValidationError("class_weight", "must be 'none' or 'balanced'", mode)
	}
	return weights, nil
}

// MaxFeaturesParam converts a max_features value (string, int or fraction)
// to its string form.
func MaxFeaturesParam(name string, value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "none", nil
	case string:
		return v, nil
	case float64:
		if v == math.Trunc(v) && v >= 1 {
			return strconv.Itoa(int(v)), nil
		}
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	default:
		n, err := model.IntParam(name, value)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(n), nil
	}
}

// ResolveMaxFeatures returns the number of features to draw per split.
func ResolveMaxFeatures(spec string, nFeatures int) (int, error) {
	var k int
	switch spec {
	case "", "none", "None", "auto_all":
		k = nFeatures
	case "sqrt", "auto":
		k = int(math.Sqrt(float64(nFeatures)))
	case "log2":
		k = int(math.Log2(float64(nFeatures)))
	default:
		if i, err := strconv.Atoi(spec); err == nil {
			k = i
		} else if f, err := strconv.ParseFloat(spec, 64); err == nil && f > 0 && f <= 1 {
			k = int(f * float64(nFeatures))
		} else {
			return 0, errors.NewValidationError("max_features", "must be 'sqrt', 'log2', an integer or a fraction in (0, 1]", spec)
		}
	}
	if k < 1 {
		k = 1
	}
	if k > nFeatures {
		k = nFeatures
	}
	return k, nil
}

// NewRand returns a PCG generator. A negative seed draws a random one.
func NewRand(seed int64) *rand.Rand {
	if seed < 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
}

// ArgmaxLabels maps each probability row to the label of its largest column.
// Ties resolve to the lowest class.
func ArgmaxLabels(proba mat.Matrix, classes []int) *mat.Dense {
	n, k := proba.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		best := 0
		for j := 1; j < k; j++ {
			if proba.At(i, j) > proba.At(i, best) {
				best = j
			}
		}
		out.Set(i, 0, float64(classes[best]))
	}
	return out
}

// MeanAccuracy returns the fraction of rows where pred equals y.
func MeanAccuracy(pred, y mat.Matrix) float64 {
	n, _ := pred.Dims()
	ry, _ := y.Dims()
	if n == 0 || n != ry {
		return 0
	}
	correct := 0
	for i := 0; i < n; i++ {
		if pred.At(i, 0) == y.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

func normalizeImportances(raw []float64) []float64 {
	out := make([]float64, len(raw))
	var total float64
	for _, v := range raw {
		total += v
	}
	if total <= 0 {
		return out
	}
	for i, v := range raw {
		out[i] = v / total
	}
	return out
}

// ===========================================================================
//
//	Persistence
//
// ===========================================================================

// treeSnapshot is the gob form of a DecisionTreeClassifier.
type treeSnapshot struct {
	Criterion           string
	MaxDepth            int
	MinSamplesSplit     int
	MinSamplesLeaf      int
	MaxFeatures         string
	MaxBins             int
	ClassWeight         string
	MinImpurityDecrease float64
	RandomState         int64

	Classes            []int
	NFeatures          int
	Nodes              []Node
	FeatureImportances []float64
	State              model.ModelState
}

// GobEncode implements gob.GobEncoder.
func (dt *DecisionTreeClassifier) GobEncode() ([]byte, error) {
	snap := treeSnapshot{
		Criterion:           dt.criterion,
		MaxDepth:            dt.maxDepth,
		MinSamplesSplit:     dt.minSamplesSplit,
		MinSamplesLeaf:      dt.minSamplesLeaf,
		MaxFeatures:         dt.maxFeatures,
		MaxBins:             dt.maxBins,
		ClassWeight:         dt.classWeight,
		MinImpurityDecrease: dt.minImpurityDecrease,
		RandomState:         dt.randomState,
		Classes:             dt.classes_,
		NFeatures:           dt.nFeatures_,
		Nodes:               dt.nodes_,
		FeatureImportances:  dt.featureImportances_,
		State:               dt.state.GetState(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, errors.Wrap(err, "encode decision tree")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (dt *DecisionTreeClassifier) GobDecode(data []byte) error {
	var snap treeSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode decision tree")
	}
	dt.state = model.NewStateManager()
	dt.state.SetState(snap.State)
	dt.criterion = snap.Criterion
	dt.maxDepth = snap.MaxDepth
	dt.minSamplesSplit = snap.MinSamplesSplit
	dt.minSamplesLeaf = snap.MinSamplesLeaf
	dt.maxFeatures = snap.MaxFeatures
	dt.maxBins = snap.MaxBins
	dt.classWeight = snap.ClassWeight
	dt.minImpurityDecrease = snap.MinImpurityDecrease
	dt.randomState = snap.RandomState
	dt.classes_ = snap.Classes
	dt.nClasses_ = len(snap.Classes)
	dt.nFeatures_ = snap.NFeatures
	dt.nodes_ = snap.Nodes
	dt.featureImportances_ = snap.FeatureImportances
	return nil
}
