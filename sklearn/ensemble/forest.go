// Package ensemble implements a random forest classifier compatible with
// scikit-learn's RandomForestClassifier.
package ensemble

import (
	"bytes"
	"encoding/gob"
	"math/rand/v2"

	"github.com/YuminosukeSato/fraudml/core/model"
	"github.com/YuminosukeSato/fraudml/core/parallel"
	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/sklearn/tree"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// RandomForestClassifier averages the class probabilities of bootstrapped
// decision trees.
//
// Each tree i draws its bootstrap sample and feature subsets from a PCG
// stream seeded with (random_state, i), so a fixed random_state gives the
// same forest regardless of how many goroutines fit it.
type RandomForestClassifier struct {
	state *model.StateManager

	// Hyperparameters
	nEstimators     int
	criterion       string
	maxDepth        int // 0 means unlimited
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     string
	maxBins         int
	bootstrap       bool
	classWeight     string // "none", "balanced" or "balanced_subsample"
	randomState     int64  // -1 draws a random seed
	nJobs           int    // <= 0 uses all CPUs

	// Fitted attributes
	classes_            []int
	nFeatures_          int
	estimators_         []*tree.DecisionTreeClassifier
	featureImportances_ []float64
}

// RandomForestOption is a functional option for RandomForestClassifier
type RandomForestOption func(*RandomForestClassifier)

// NewRandomForestClassifier creates a new RandomForestClassifier
func NewRandomForestClassifier(opts ...RandomForestOption) *RandomForestClassifier {
	rf := &RandomForestClassifier{
		state:           model.NewStateManager(),
		nEstimators:     100,
		criterion:       "gini",
		maxDepth:        0,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     "sqrt",
		maxBins:         tree.MaxBinLimit,
		bootstrap:       true,
		classWeight:     "none",
		randomState:     -1,
		nJobs:           0,
	}
	for _, opt := range opts {
		opt(rf)
	}
	return rf
}

// WithNEstimators sets the number of trees
func WithNEstimators(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.nEstimators = n
	}
}

// WithForestMaxDepth sets the maximum depth of each tree (0 for unlimited)
func WithForestMaxDepth(depth int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.maxDepth = depth
	}
}

// WithForestMinSamplesLeaf sets the minimum number of samples at a leaf
func WithForestMinSamplesLeaf(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.minSamplesLeaf = n
	}
}

// WithForestMaxFeatures sets the features drawn per split
func WithForestMaxFeatures(maxFeatures string) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.maxFeatures = maxFeatures
	}
}

// WithForestClassWeight sets the class weighting
func WithForestClassWeight(classWeight string) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.classWeight = classWeight
	}
}

// WithForestRandomState sets the random seed
func WithForestRandomState(seed int64) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.randomState = seed
	}
}

// WithBootstrap sets whether trees are fit on bootstrap samples
func WithBootstrap(bootstrap bool) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.bootstrap = bootstrap
	}
}

// WithNJobs sets the number of goroutines used for fitting and prediction
func WithNJobs(n int) RandomForestOption {
	return func(rf *RandomForestClassifier) {
		rf.nJobs = n
	}
}

func (rf *RandomForestClassifier) validate() error {
	if rf.nEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be >= 1", rf.nEstimators)
	}
	switch rf.classWeight {
	case "", "none", "balanced", "balanced_subsample":
	default:
		return errors.NewValidationError("class_weight", "must be 'none', 'balanced' or 'balanced_subsample'", rf.classWeight)
	}
	if rf.maxDepth < 0 {
		return errors.NewValidationError("max_depth", "must be >= 0 (0 for unlimited)", rf.maxDepth)
	}
	if rf.minSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be >= 1", rf.minSamplesLeaf)
	}
	if _, err := tree.ResolveMaxFeatures(rf.maxFeatures, 1); err != nil {
		return err
	}
	return nil
}

func (rf *RandomForestClassifier) newTree() *tree.DecisionTreeClassifier {
	return tree.NewDecisionTreeClassifier(
		tree.WithCriterion(rf.criterion),
		tree.WithMaxDepth(rf.maxDepth),
		tree.WithMinSamplesSplit(rf.minSamplesSplit),
		tree.WithMinSamplesLeaf(rf.minSamplesLeaf),
		tree.WithMaxFeatures(rf.maxFeatures),
		tree.WithMaxBins(rf.maxBins),
	)
}

// Fit builds the forest from the training set (X, y).
func (rf *RandomForestClassifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "RandomForestClassifier.Fit")

	if err := rf.validate(); err != nil {
		return err
	}
	labels, err := tree.ExtractLabels("RandomForestClassifier.Fit", X, y)
	if err != nil {
		return err
	}
	data, err := tree.NewBinnedMatrix(X, rf.maxBins)
	if err != nil {
		return err
	}

	classes, yIdx := tree.EncodeClasses(labels)
	baseMode := rf.classWeight
	if baseMode == "balanced_subsample" {
		baseMode = "none"
	}
	classWeights, err := tree.ClassSampleWeights(baseMode, yIdx, len(classes))
	if err != nil {
		return err
	}

	baseSeed := uint64(rf.randomState)
	if rf.randomState < 0 {
		baseSeed = rand.Uint64()
	}

	n := data.NSamples
	trees := make([]*tree.DecisionTreeClassifier, rf.nEstimators)
	err = parallel.ParallelizeErr(rf.nEstimators, rf.nJobs, func(start, end int) error {
		weight := make([]float64, n)
		for i := start; i < end; i++ {
			rng := rand.New(rand.NewPCG(baseSeed, uint64(i)))

			if rf.bootstrap {
				for k := range weight {
					weight[k] = 0
				}
				for k := 0; k < n; k++ {
					weight[rng.IntN(n)]++
				}
			} else {
				for k := range weight {
					weight[k] = 1
				}
			}

			if rf.classWeight == "balanced_subsample" {
				applySubsampleWeights(weight, yIdx, len(classes))
			} else {
				for k := range weight {
					weight[k] *= classWeights[k]
				}
			}

			t := rf.newTree()
			if err := t.FitBinned(data, yIdx, classes, weight, rng); err != nil {
				return errors.Wrapf(err, "fit tree %d", i)
			}
			trees[i] = t
		}
		return nil
	})
	if err != nil {
		return err
	}

	rf.classes_ = classes
	rf.nFeatures_ = data.NFeatures
	rf.estimators_ = trees
	rf.featureImportances_ = averageImportances(trees, data.NFeatures)

	rf.state.SetDimensions(data.NFeatures, n)
	rf.state.SetFitted()
	return nil
}

// applySubsampleWeights multiplies bootstrap counts by balanced class
// weights computed on the bootstrap sample itself.
func applySubsampleWeights(weight []float64, yIdx []int32, nClasses int) {
	counts := make([]float64, nClasses)
	var total float64
	for k, w := range weight {
		counts[yIdx[k]] += w
		total += w
	}
	for k := range weight {
		c := counts[yIdx[k]]
		if c > 0 {
			weight[k] *= total / (float64(nClasses) * c)
		}
	}
}

func averageImportances(trees []*tree.DecisionTreeClassifier, nFeatures int) []float64 {
	out := make([]float64, nFeatures)
	for _, t := range trees {
		floats.Add(out, t.GetFeatureImportances())
	}
	if total := floats.Sum(out); total > 0 {
		floats.Scale(1/total, out)
	}
	return out
}

// PredictProba returns the mean class probabilities of the trees, an
// n×len(Classes()) matrix.
func (rf *RandomForestClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := rf.state.RequireFitted("RandomForestClassifier", "PredictProba"); err != nil {
		return nil, err
	}
	n, p := X.Dims()
	if n == 0 {
		return nil, errors.NewModelError("RandomForestClassifier.PredictProba", "empty data", errors.ErrEmptyData)
	}
	if err := rf.state.RequireFeatures("RandomForestClassifier.PredictProba", p); err != nil {
		return nil, err
	}

	k := len(rf.classes_)
	proba := mat.NewDense(n, k, nil)
	scale := 1 / float64(len(rf.estimators_))

	err := parallel.ParallelizeErr(n, rf.nJobs, func(start, end int) error {
		row := make([]float64, p)
		acc := make([]float64, k)
		for i := start; i < end; i++ {
			mat.Row(row, i, X)
			for c := range acc {
				acc[c] = 0
			}
			for _, t := range rf.estimators_ {
				leaf := t.Nodes()[t.Apply(row)]
				for c, v := range leaf.Value {
					acc[c] += v
				}
			}
			for c := range acc {
				acc[c] *= scale
			}
			proba.SetRow(i, acc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return proba, nil
}

// Predict returns an n×1 matrix of predicted class labels.
func (rf *RandomForestClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := rf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return tree.ArgmaxLabels(proba, rf.classes_), nil
}

// Score returns the mean accuracy on the given data.
func (rf *RandomForestClassifier) Score(X, y mat.Matrix) float64 {
	pred, err := rf.Predict(X)
	if err != nil {
		return 0
	}
	return tree.MeanAccuracy(pred, y)
}

// Classes returns the class labels seen during fitting.
func (rf *RandomForestClassifier) Classes() []int {
	return append([]int(nil), rf.classes_...)
}

// Estimators returns the fitted trees.
func (rf *RandomForestClassifier) Estimators() []*tree.DecisionTreeClassifier {
	return rf.estimators_
}

// GetFeatureImportances returns the mean impurity-based importances.
func (rf *RandomForestClassifier) GetFeatureImportances() []float64 {
	return append([]float64(nil), rf.featureImportances_...)
}

// IsFitted returns whether the forest has been fitted.
func (rf *RandomForestClassifier) IsFitted() bool {
	return rf.state.IsFitted()
}

// GetParams returns the hyperparameters
func (rf *RandomForestClassifier) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.nEstimators,
		"criterion":         rf.criterion,
		"max_depth":         rf.maxDepth,
		"min_samples_split": rf.minSamplesSplit,
		"min_samples_leaf":  rf.minSamplesLeaf,
		"max_features":      rf.maxFeatures,
		"max_bins":          rf.maxBins,
		"bootstrap":         rf.bootstrap,
		"class_weight":      rf.classWeight,
		"random_state":      rf.randomState,
		"n_jobs":            rf.nJobs,
	}
}

// SetParams sets the hyperparameters. Numeric values may be given as int,
// int64, float64 or json.Number.
func (rf *RandomForestClassifier) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var err error
		switch key {
		case "n_estimators":
			rf.nEstimators, err = model.IntParam(key, value)
		case "criterion":
			rf.criterion, err = model.StringParam(key, value)
		case "max_depth":
			if value == nil {
				rf.maxDepth = 0
			} else {
				rf.maxDepth, err = model.IntParam(key, value)
			}
		case "min_samples_split":
			rf.minSamplesSplit, err = model.IntParam(key, value)
		case "min_samples_leaf":
			rf.minSamplesLeaf, err = model.IntParam(key, value)
		case "max_features":
			rf.maxFeatures, err = tree.MaxFeaturesParam(key, value)
		case "max_bins":
			rf.maxBins, err = model.IntParam(key, value)
		case "bootstrap":
			rf.bootstrap, err = model.BoolParam(key, value)
		case "class_weight":
			rf.classWeight, err = model.StringParam(key, value)
		case "random_state":
			if value == nil {
				rf.randomState = -1
			} else {
				var seed int
				seed, err = model.IntParam(key, value)
				rf.randomState = int64(seed)
			}
		case "n_jobs":
			rf.nJobs, err = model.IntParam(key, value)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ModelCard describes the fitted forest for tracking.
func (rf *RandomForestClassifier) ModelCard(featureNames []string) *model.ModelCard {
	card := &model.ModelCard{
		ModelType:       "RandomForestClassifier",
		Version:         model.CardVersion,
		Features:        featureNames,
		Classes:         rf.Classes(),
		Hyperparameters: rf.GetParams(),
		IsFitted:        rf.IsFitted(),
	}
	if rf.IsFitted() {
		card.FeatureImportances = rf.GetFeatureImportances()
		state := rf.state.GetState()
		card.Metadata = map[string]interface{}{
			"n_samples":  state.NSamples,
			"n_features": state.NFeatures,
			"n_leaves":   rf.totalLeaves(),
		}
	}
	return card
}

func (rf *RandomForestClassifier) totalLeaves() int {
	total := 0
	for _, t := range rf.estimators_ {
		total += t.GetNLeaves()
	}
	return total
}

// ===========================================================================
//
//	Persistence
//
// ===========================================================================

type forestSnapshot struct {
	Params   map[string]string
	Classes  []int
	Trees    []*tree.DecisionTreeClassifier
	Imp      []float64
	State    model.ModelState
	NFeature int
}

// GobEncode implements gob.GobEncoder.
func (rf *RandomForestClassifier) GobEncode() ([]byte, error) {
	params := make(map[string]string)
	for k, v := range rf.GetParams() {
		params[k] = model.FormatParam(v)
	}
	snap := forestSnapshot{
		Params:   params,
		Classes:  rf.classes_,
		Trees:    rf.estimators_,
		Imp:      rf.featureImportances_,
		State:    rf.state.GetState(),
		NFeature: rf.nFeatures_,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, errors.Wrap(err, "encode random forest")
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (rf *RandomForestClassifier) GobDecode(data []byte) error {
	var snap forestSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode random forest")
	}
	*rf = *NewRandomForestClassifier()

	params := make(map[string]interface{}, len(snap.Params))
	for k, v := range snap.Params {
		params[k] = v
	}
	// FormatParam renders booleans as "True"/"False"
	if b, ok := snap.Params["bootstrap"]; ok {
		params["bootstrap"] = b == "True"
	}
	if err := rf.SetParams(params); err != nil {
		return errors.Wrap(err, "restore random forest parameters")
	}

	rf.classes_ = snap.Classes
	rf.estimators_ = snap.Trees
	rf.featureImportances_ = snap.Imp
	rf.nFeatures_ = snap.NFeature
	rf.state.SetState(snap.State)
	return nil
}
