// Package evaluation turns predicted probabilities into thresholded
// decisions and a metrics snapshot.
//
// A row is predicted fraud when its positive-class probability is greater
// than or equal to the threshold. Precision, recall, F1 and accuracy are
// computed from those decisions; ROC AUC uses the raw probabilities and does
// not depend on the threshold.
package evaluation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/fraudml/core/model"
	"github.com/YuminosukeSato/fraudml/metrics"
	"github.com/YuminosukeSato/fraudml/pkg/errors"
)

// PositiveLabel is the class label treated as fraud.
const PositiveLabel = 1

// DefaultThreshold is the decision threshold when none is configured.
const DefaultThreshold = 0.5

// Metric names as recorded in the tracking store.
const (
	MetricPrecision = "precision"
	MetricRecall    = "recall"
	MetricF1        = "f1_score"
	MetricAccuracy  = "accuracy"
	MetricAUCROC    = "auc_roc"
)

// Snapshot is the result of evaluating one model at one threshold. Every
// score lies in [0, 1].
type Snapshot struct {
	Precision float64
	Recall    float64
	F1        float64
	Accuracy  float64
	AUCROC    float64
	Threshold float64
	Confusion metrics.Confusion
}

// Metric is a named score.
type Metric struct {
	Name  string
	Value float64
}

// Metrics returns the scores in logging order.
func (s Snapshot) Metrics() []Metric {
	return []Metric{
		{MetricPrecision, s.Precision},
		{MetricRecall, s.Recall},
		{MetricF1, s.F1},
		{MetricAccuracy, s.Accuracy},
		{MetricAUCROC, s.AUCROC},
	}
}

// String formats the snapshot on one line.
func (s Snapshot) String() string {
	return fmt.Sprintf("Precision: %.4f, Recall: %.4f, F1: %.4f, Accuracy: %.4f, AUC: %.4f (threshold %.2f)",
		s.Precision, s.Recall, s.F1, s.Accuracy, s.AUCROC, s.Threshold)
}

// ValidateThreshold checks that τ lies in [0, 1].
func ValidateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return errors.NewValidationError("threshold", "must be in [0, 1]", threshold)
	}
	return nil
}

// PositiveProbabilities extracts the probability of PositiveLabel from a
// classifier's PredictProba output. A model that never saw the positive
// class yields all zeros.
func PositiveProbabilities(clf model.ProbabilisticClassifier, X mat.Matrix) (*mat.VecDense, error) {
	proba, err := clf.PredictProba(X)
	if err != nil {
		return nil, err
	}
	n, k := proba.Dims()

	col := -1
	for i, c := range clf.Classes() {
		if c == PositiveLabel {
			col = i
			break
		}
	}
	out := mat.NewVecDense(n, nil)
	if col < 0 {
		return out, nil
	}
	if col >= k {
		return nil, errors.NewDimensionError("PositiveProbabilities", col+1, k, 1)
	}
	for i := 0; i < n; i++ {
		out.SetVec(i, proba.At(i, col))
	}
	return out, nil
}

// ApplyThreshold returns 1 where proba >= threshold and 0 elsewhere.
func ApplyThreshold(proba *mat.VecDense, threshold float64) (*mat.VecDense, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return nil, err
	}
	n := proba.Len()
	pred := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		if proba.AtVec(i) >= threshold {
			pred.SetVec(i, 1)
		}
	}
	return pred, nil
}

// Score computes a snapshot from labels and positive-class probabilities.
func Score(yTrue, proba *mat.VecDense, threshold float64) (Snapshot, error) {
	if yTrue == nil || proba == nil || yTrue.Len() == 0 {
		return Snapshot{}, errors.NewModelError("evaluation.Score", "empty data", errors.ErrEmptyData)
	}
	if yTrue.Len() != proba.Len() {
		return Snapshot{}, errors.NewDimensionError("evaluation.Score", yTrue.Len(), proba.Len(), 0)
	}
	pred, err := ApplyThreshold(proba, threshold)
	if err != nil {
		return Snapshot{}, err
	}

	c, err := metrics.ConfusionMatrix(yTrue, pred)
	if err != nil {
		return Snapshot{}, err
	}
	precision := metrics.PrecisionFromConfusion(c)
	recall := metrics.RecallFromConfusion(c)
	accuracy := float64(c.TP+c.TN) / float64(c.Total())

	auc, err := metrics.ROCAUC(yTrue, proba)
	if err != nil {
		if !errors.Is(err, errors.ErrUndefinedMetric) {
			return Snapshot{}, err
		}
		errors.Warn(errors.NewUndefinedMetricWarning("auc_roc", "only one class present in y_true", 0))
		auc = 0
	}

	return Snapshot{
		Precision: precision,
		Recall:    recall,
		F1:        metrics.F1FromPrecisionRecall(precision, recall),
		Accuracy:  accuracy,
		AUCROC:    auc,
		Threshold: threshold,
		Confusion: c,
	}, nil
}

// Evaluate predicts X with clf and scores the result against y at threshold.
// The result depends only on (clf, X, y, threshold).
func Evaluate(clf model.ProbabilisticClassifier, X mat.Matrix, y *mat.VecDense, threshold float64) (Snapshot, error) {
	if err := ValidateThreshold(threshold); err != nil {
		return Snapshot{}, err
	}
	proba, err := PositiveProbabilities(clf, X)
	if err != nil {
		return Snapshot{}, err
	}
	return Score(y, proba, threshold)
}
