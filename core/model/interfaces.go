// Package model provides the estimator interfaces, fitted-state tracking and
// persistence helpers shared by the tree models.
package model

import (
	"gonum.org/v1/gonum/mat"
)

// Scorer is the interface for models that can compute a score.
type Scorer interface {
	// Score returns the mean accuracy on the given test data and labels.
	Score(X mat.Matrix, y mat.Matrix) float64
}

// Classifier combines the interfaces a trainable classifier offers.
type Classifier interface {
	Fitter
	ProbabilisticClassifier
	ParameterGetter
	ParameterSetter
}

// ParameterGetter is the interface for models that expose their parameters.
type ParameterGetter interface {
	// GetParams returns the model's hyperparameters.
	GetParams() map[string]interface{}
}

// ParameterSetter is the interface for models that allow parameter modification.
type ParameterSetter interface {
	// SetParams sets the model's hyperparameters.
	SetParams(params map[string]interface{}) error
}
