// Package features turns a transaction frame into a stratified train/test
// split of a feature matrix and a binary label vector.
package features

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/fraudml/config"
	"github.com/YuminosukeSato/fraudml/dataset"
	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/pkg/log"
	"github.com/YuminosukeSato/fraudml/preprocessing"
)

// Split holds the prepared training and evaluation data.
//
// TrainIndex and TestIndex are row positions in the input frame; together
// they cover every row exactly once.
type Split struct {
	XTrain, XTest *mat.Dense
	YTrain, YTest *mat.VecDense

	FeatureNames []string
	TrainIndex   []int
	TestIndex    []int

	// PositiveRate is the fraction of positive labels before splitting.
	PositiveRate float64
}

// Preparer drops excluded columns, one-hot encodes the categorical column and
// splits the result.
type Preparer struct {
	cfg    config.FeatureConfig
	logger log.Logger
}

// NewPreparer creates a Preparer.
func NewPreparer(cfg config.FeatureConfig, logger log.Logger) *Preparer {
	if logger == nil {
		logger = log.GetLoggerWithName("features")
	}
	return &Preparer{cfg: cfg, logger: logger}
}

// Prepare builds the split. It fails with an InputError when the frame is
// empty, the target is missing or not binary, or a feature is not usable.
func (p *Preparer) Prepare(frame *dataset.Frame, target string) (*Split, error) {
	const op = "Preparer.Prepare"

	if frame.Empty() {
		return nil, errors.NewInputError(op, "empty record set")
	}
	labels, ok := frame.Numeric(target)
	if !ok {
		if frame.Has(target) {
			return nil, errors.NewInputError(op, fmt.Sprintf("target column %q is not numeric", target))
		}
		return nil, errors.NewInputError(op, fmt.Sprintf("target column %q not found", target))
	}
	for i, v := range labels {
		if v != 0 && v != 1 {
			return nil, errors.NewInputError(op, fmt.Sprintf("target column %q must be 0/1, got %v at row %d", target, v, i))
		}
	}

	frame = frame.Drop(p.cfg.DropColumns...)

	X, names, err := p.featureMatrix(frame, target)
	if err != nil {
		return nil, err
	}
	n, d := X.Dims()
	if err := errors.CheckMatrix(op, X, n, d); err != nil {
		return nil, errors.NewInputError(op, err.Error())
	}

	y := mat.NewVecDense(n, append([]float64(nil), labels...))
	rate := stat.Mean(labels, nil)
	p.logger.Info("Fraud rate computed",
		log.SamplesKey, n,
		log.FeaturesKey, d,
		log.PositiveRateKey, rate,
	)

	res, err := preprocessing.TrainTestSplit(X, y,
		preprocessing.WithTestSize(p.cfg.TestSize),
		preprocessing.WithRandomState(p.cfg.RandomState),
		preprocessing.WithStratify(p.cfg.Stratify),
	)
	if err != nil {
		return nil, errors.NewInputError(op, err.Error())
	}

	p.logger.Info("Data split",
		"train.samples", len(res.TrainIndex),
		"test.samples", len(res.TestIndex),
	)

	return &Split{
		XTrain:       res.XTrain,
		XTest:        res.XTest,
		YTrain:       res.YTrain,
		YTest:        res.YTest,
		FeatureNames: names,
		TrainIndex:   res.TrainIndex,
		TestIndex:    res.TestIndex,
		PositiveRate: rate,
	}, nil
}

// featureMatrix assembles the numeric columns (in frame order) followed by
// the one-hot columns of the categorical column.
func (p *Preparer) featureMatrix(frame *dataset.Frame, target string) (*mat.Dense, []string, error) {
	const op = "Preparer.Prepare"

	var (
		numeric [][]float64
		names   []string
		encoded *mat.Dense
		encName []string
	)
	for _, col := range frame.Columns() {
		if col == target {
			continue
		}
		if values, ok := frame.Numeric(col); ok {
			numeric = append(numeric, values)
			names = append(names, col)
			continue
		}
		if col != p.cfg.CategoricalColumn {
			return nil, nil, errors.NewInputError(op, fmt.Sprintf("column %q is not numeric and is not the categorical column", col))
		}
		values, _ := frame.Strings(col)
		enc := preprocessing.NewOneHotEncoder(preprocessing.WithDrop("first"))
		out, err := enc.FitTransform(values)
		if err != nil {
			return nil, nil, errors.NewInputError(op, err.Error())
		}
		encoded = out
		encName = enc.FeatureNames(col)
	}

	n := frame.Len()
	d := len(numeric) + len(encName)
	if d == 0 {
		return nil, nil, errors.NewInputError(op, "no feature columns left after dropping")
	}

	X := mat.NewDense(n, d, nil)
	for j, values := range numeric {
		X.SetCol(j, values)
	}
	if encoded != nil {
		off := len(numeric)
		for j := range encName {
			for i := 0; i < n; i++ {
				X.Set(i, off+j, encoded.At(i, j))
			}
		}
	}
	return X, append(names, encName...), nil
}
