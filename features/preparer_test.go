package features

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/fraudml/config"
	"github.com/YuminosukeSato/fraudml/dataset"
	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/pkg/log"
)

func newTestPreparer(t *testing.T) (*Preparer, *log.TestLogger) {
	t.Helper()
	logger, _ := log.NewTestLogger(log.LevelDebug)
	return NewPreparer(config.Default().Features, logger), logger
}

func positives(v *mat.VecDense) int {
	n := 0
	for i := 0; i < v.Len(); i++ {
		if v.AtVec(i) == 1 {
			n++
		}
	}
	return n
}

func TestPreparer_SyntheticSplit(t *testing.T) {
	frame, err := dataset.GenerateTransactions(1000, 0.01, 42)
	if err != nil {
		t.Fatalf("GenerateTransactions failed: %v", err)
	}
	p, logger := newTestPreparer(t)

	split, err := p.Prepare(frame, "isFraud")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	nTrain, dTrain := split.XTrain.Dims()
	nTest, dTest := split.XTest.Dims()
	if nTrain+nTest != 1000 {
		t.Errorf("train+test = %d, want 1000", nTrain+nTest)
	}
	if nTest != 200 {
		t.Errorf("test rows = %d, want 200", nTest)
	}
	if dTrain != dTest || dTrain != len(split.FeatureNames) {
		t.Errorf("feature count mismatch: train %d, test %d, names %d", dTrain, dTest, len(split.FeatureNames))
	}
	if split.YTrain.Len() != nTrain || split.YTest.Len() != nTest {
		t.Error("label vectors must align with the matrices")
	}

	seen := make(map[int]bool)
	for _, i := range split.TrainIndex {
		seen[i] = true
	}
	for _, i := range split.TestIndex {
		if seen[i] {
			t.Fatalf("row %d is in both train and test", i)
		}
		seen[i] = true
	}
	if len(seen) != 1000 {
		t.Errorf("train and test cover %d rows, want 1000", len(seen))
	}

	if got := positives(split.YTest); got != 2 {
		t.Errorf("test positives = %d, want 2", got)
	}
	if got := positives(split.YTrain); got != 8 {
		t.Errorf("train positives = %d, want 8", got)
	}
	if math.Abs(split.PositiveRate-0.01) > 1e-12 {
		t.Errorf("positive rate = %v, want 0.01", split.PositiveRate)
	}
	if !logger.ContainsMessage("Fraud rate computed") {
		t.Error("expected the positive rate to be logged")
	}
}

func TestPreparer_Columns(t *testing.T) {
	frame, _ := dataset.GenerateTransactions(200, 0.05, 1)
	p, _ := newTestPreparer(t)

	split, err := p.Prepare(frame, "isFraud")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	want := []string{
		"step", "amount", "oldbalanceOrg", "newbalanceOrig", "oldbalanceDest", "newbalanceDest",
		"type_CASH_OUT", "type_DEBIT", "type_PAYMENT", "type_TRANSFER",
	}
	if len(split.FeatureNames) != len(want) {
		t.Fatalf("feature names = %v, want %v", split.FeatureNames, want)
	}
	for i := range want {
		if split.FeatureNames[i] != want[i] {
			t.Errorf("feature %d = %q, want %q", i, split.FeatureNames[i], want[i])
		}
	}

	// 1 つの取引は高々 1 つのダミー列が 1 になる
	n, d := split.XTrain.Dims()
	for i := 0; i < n; i++ {
		sum := 0.0
		for j := d - 4; j < d; j++ {
			sum += split.XTrain.At(i, j)
		}
		if sum > 1 {
			t.Fatalf("row %d has %v active type columns", i, sum)
		}
	}
}

func TestPreparer_ToleratesMissingColumns(t *testing.T) {
	frame := dataset.NewFrame()
	_ = frame.AddNumeric("amount", []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	_ = frame.AddNumeric("isFraud", []float64{0, 0, 0, 0, 1, 0, 0, 0, 0, 1})

	p, _ := newTestPreparer(t)
	split, err := p.Prepare(frame, "isFraud")
	if err != nil {
		t.Fatalf("frame without identifiers or type should be accepted: %v", err)
	}
	if len(split.FeatureNames) != 1 || split.FeatureNames[0] != "amount" {
		t.Errorf("unexpected features %v", split.FeatureNames)
	}
}

func TestPreparer_InputErrors(t *testing.T) {
	withStrings := dataset.NewFrame()
	_ = withStrings.AddNumeric("isFraud", []float64{0, 1, 0, 1})
	_ = withStrings.AddStrings("merchant", []string{"a", "b", "c", "d"})

	nonBinary := dataset.NewFrame()
	_ = nonBinary.AddNumeric("amount", []float64{1, 2, 3})
	_ = nonBinary.AddNumeric("isFraud", []float64{0, 1, 2})

	noTarget := dataset.NewFrame()
	_ = noTarget.AddNumeric("amount", []float64{1, 2, 3})

	withNaN := dataset.NewFrame()
	_ = withNaN.AddNumeric("amount", []float64{1, math.NaN(), 3, 4})
	_ = withNaN.AddNumeric("isFraud", []float64{0, 1, 0, 1})

	tests := []struct {
		name  string
		frame *dataset.Frame
	}{
		{"nil frame", nil},
		{"empty frame", dataset.NewFrame()},
		{"missing target", noTarget},
		{"non-binary target", nonBinary},
		{"unexpected string column", withStrings},
		{"NaN feature", withNaN},
	}

	p, _ := newTestPreparer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Prepare(tt.frame, "isFraud")
			var ie *errors.InputError
			if !errors.As(err, &ie) {
				t.Errorf("expected InputError, got %v", err)
			}
		})
	}
}
