package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name     string
		op       string
		kind     string
		err      error
		wantMsg  string
		hasStack bool
	}{
		{
			name:     "with original error",
			op:       "Fit",
			kind:     "invalid input",
			err:      fmt.Errorf("test error"),
			wantMsg:  "fraudml: Fit: invalid input: test error",
			hasStack: true,
		},
		{
			name:     "without original error",
			op:       "Predict",
			kind:     "not fitted",
			err:      nil,
			wantMsg:  "fraudml: Predict: not fitted",
			hasStack: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			// 基本的なエラーメッセージの確認
			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}

			// スタックトレースの存在確認
			if tt.hasStack {
				formatted := fmt.Sprintf("%+v", err)
				if !strings.Contains(formatted, "errors_test.go") {
					t.Error("Expected stack trace to contain test file name")
				}
			}

			var modelErr *ModelError
			if !As(err, &modelErr) {
				t.Error("Error should be castable to *ModelError")
			}
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("Predict", 10, 7, 1)

	want := "fraudml: Predict: dimension mismatch on axis 1 (features). Expected 10, got 7"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var dimErr *DimensionError
	if !As(err, &dimErr) {
		t.Error("Error should be castable to *DimensionError")
	}
}

func TestNewNotFittedError(t *testing.T) {
	err := NewNotFittedError("RandomForestClassifier", "PredictProba")

	want := "fraudml: RandomForestClassifier: this model is not fitted yet. Call Fit() before using PredictProba()"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var notFittedErr *NotFittedError
	if !As(err, &notFittedErr) {
		t.Error("Error should be castable to *NotFittedError")
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("threshold", "must be in [0, 1]", 1.5)

	want := "fraudml: validation failed for parameter 'threshold': must be in [0, 1] (got: 1.5)"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var valErr *ValidationError
	if !As(err, &valErr) {
		t.Fatal("Error should be castable to *ValidationError")
	}
	if valErr.ParamName != "threshold" {
		t.Errorf("ParamName = %q, want threshold", valErr.ParamName)
	}
}

func TestPipelineErrors(t *testing.T) {
	cause := fmt.Errorf("connection refused")

	tests := []struct {
		name    string
		err     error
		wantMsg string
		check   func(error) bool
	}{
		{
			name:    "data unavailable with cause",
			err:     NewDataUnavailableError("hub", cause),
			wantMsg: "fraudml: data unavailable from hub: connection refused",
			check: func(err error) bool {
				var target *DataUnavailableError
				return As(err, &target) && Is(err, cause)
			},
		},
		{
			name:    "data unavailable empty",
			err:     NewDataUnavailableError("csv", nil),
			wantMsg: "fraudml: data unavailable from csv: empty result",
			check: func(err error) bool {
				var target *DataUnavailableError
				return As(err, &target) && target.Err == nil
			},
		},
		{
			name:    "input error",
			err:     NewInputError("Prepare", "target column \"isFraud\" not found"),
			wantMsg: "fraudml: Prepare: invalid input: target column \"isFraud\" not found",
			check: func(err error) bool {
				var target *InputError
				return As(err, &target)
			},
		},
		{
			name:    "training error",
			err:     NewTrainingError("abc123", "Run_1", "fit", cause),
			wantMsg: "fraudml: run \"Run_1\" (abc123) failed during fit: connection refused",
			check: func(err error) bool {
				var target *TrainingError
				return As(err, &target) && target.RunID == "abc123" && Is(err, cause)
			},
		},
		{
			name:    "run state error",
			err:     NewRunStateError("StartRun", "active", "abc123"),
			wantMsg: "fraudml: StartRun: run abc123 is already active",
			check: func(err error) bool {
				var target *RunStateError
				return As(err, &target)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", tt.err.Error(), tt.wantMsg)
			}
			if !tt.check(tt.err) {
				t.Errorf("type check failed for %T", tt.err)
			}
		})
	}
}

func TestUndefinedMetricWarning(t *testing.T) {
	var got []error
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(func(w error) {})

	Warn(NewUndefinedMetricWarning("precision", "no predicted samples", 0))

	if len(got) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(got))
	}
	want := "'precision' is ill-defined and being set to 0.000000 due to no predicted samples."
	if got[0].Error() != want {
		t.Errorf("Error() = %v, want %v", got[0].Error(), want)
	}
}

func TestWrapAndIs(t *testing.T) {
	wrapped := Wrap(ErrNotFound, "experiment \"baseline\"")

	if !Is(wrapped, ErrNotFound) {
		t.Error("Expected Is(wrapped, ErrNotFound) to be true")
	}
	if !strings.Contains(wrapped.Error(), "experiment \"baseline\"") {
		t.Error("Expected wrapped error to contain wrapping message")
	}
}

func TestWrapf(t *testing.T) {
	wrapped := Wrapf(ErrEmptyData, "in %s: expected %d, got %d", "Prepare", 10, 0)

	if !Is(wrapped, ErrEmptyData) {
		t.Error("Expected Is(wrapped, ErrEmptyData) to be true")
	}

	expectedMsg := "in Prepare: expected 10, got 0"
	if !strings.Contains(wrapped.Error(), expectedMsg) {
		t.Errorf("Expected wrapped error to contain %q", expectedMsg)
	}
}

func TestErrorChaining(t *testing.T) {
	err1 := fmt.Errorf("base error")
	err2 := Wrap(err1, "wrapped once")
	err3 := NewModelError("Operation", "failed", err2)

	if !strings.Contains(err3.Error(), "base error") {
		t.Error("Expected error chain to contain base error")
	}

	// スタックトレースの確認（詳細表示）
	formatted := fmt.Sprintf("%+v", err3)
	if !strings.Contains(formatted, "errors_test.go") {
		t.Error("Expected detailed error to contain stack trace")
	}
}

func TestNumericalChecks(t *testing.T) {
	if err := CheckScalar("op", 1.5); err != nil {
		t.Errorf("CheckScalar(1.5) = %v, want nil", err)
	}
	if err := CheckScalar("op", nanValue()); err == nil {
		t.Error("CheckScalar(NaN) should fail")
	}
	if got := SafeDivide(1, 0); got != 0 {
		t.Errorf("SafeDivide(1, 0) = %v, want 0", got)
	}
	if got := ClipValue(1.2, 0, 1); got != 1 {
		t.Errorf("ClipValue(1.2, 0, 1) = %v, want 1", got)
	}
}

func nanValue() float64 {
	zero := 0.0
	return zero / zero
}
