package metrics

import (
	"math"
	"testing"

	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func vec(v []float64) *mat.VecDense {
	if len(v) == 0 {
		return nil
	}
	return mat.NewVecDense(len(v), v)
}

func TestROCAUC(t *testing.T) {
	tests := []struct {
		name      string
		yTrue     []float64
		yScore    []float64
		want      float64
		wantErr   bool
		undefined bool
	}{
		{
			name:   "Perfect classifier",
			yTrue:  []float64{0, 0, 0, 1, 1, 1},
			yScore: []float64{0.1, 0.2, 0.3, 0.7, 0.8, 0.9},
			want:   1.0,
		},
		{
			name:   "Worst classifier",
			yTrue:  []float64{0, 0, 0, 1, 1, 1},
			yScore: []float64{0.9, 0.8, 0.7, 0.3, 0.2, 0.1},
			want:   0.0,
		},
		{
			name:   "All scores tied",
			yTrue:  []float64{0, 1, 0, 1},
			yScore: []float64{0.5, 0.5, 0.5, 0.5},
			want:   0.5,
		},
		{
			name:   "Typical case",
			yTrue:  []float64{0, 0, 1, 1},
			yScore: []float64{0.1, 0.4, 0.35, 0.8},
			want:   0.75,
		},
		{
			name:   "Partial ties",
			yTrue:  []float64{0, 1, 1, 0},
			yScore: []float64{0.2, 0.2, 0.9, 0.1},
			want:   0.875,
		},
		{
			name:      "All positive labels",
			yTrue:     []float64{1, 1, 1, 1},
			yScore:    []float64{0.1, 0.4, 0.35, 0.8},
			wantErr:   true,
			undefined: true,
		},
		{
			name:      "All negative labels",
			yTrue:     []float64{0, 0, 0, 0},
			yScore:    []float64{0.1, 0.4, 0.35, 0.8},
			wantErr:   true,
			undefined: true,
		},
		{
			name:    "Non-binary labels",
			yTrue:   []float64{0, 0.5, 1},
			yScore:  []float64{0.1, 0.5, 0.9},
			wantErr: true,
		},
		{
			name:    "Length mismatch",
			yTrue:   []float64{0, 1},
			yScore:  []float64{0.1, 0.5, 0.9},
			wantErr: true,
		},
		{
			name:    "Empty",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ROCAUC(vec(tt.yTrue), vec(tt.yScore))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ROCAUC() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.undefined && !errors.Is(err, errors.ErrUndefinedMetric) {
				t.Errorf("ROCAUC() error = %v, want ErrUndefinedMetric", err)
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ROCAUC() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConfusionMatrix(t *testing.T) {
	yTrue := vec([]float64{1, 1, 0, 0, 1, 0})
	yPred := vec([]float64{1, 0, 1, 0, 1, 0})

	c, err := ConfusionMatrix(yTrue, yPred)
	if err != nil {
		t.Fatal(err)
	}
	want := Confusion{TP: 2, FP: 1, TN: 2, FN: 1}
	if c != want {
		t.Errorf("ConfusionMatrix() = %v, want %v", c, want)
	}
	if c.Total() != 6 {
		t.Errorf("Total() = %d, want 6", c.Total())
	}

	if _, err := ConfusionMatrix(vec([]float64{0, 2}), vec([]float64{0, 1})); err == nil {
		t.Error("expected error for non-binary labels")
	}
}

func TestPrecisionRecallF1(t *testing.T) {
	tests := []struct {
		name          string
		yTrue         []float64
		yPred         []float64
		wantPrecision float64
		wantRecall    float64
		wantF1        float64
		wantWarnings  int
	}{
		{
			name:          "Typical case",
			yTrue:         []float64{1, 1, 0, 0, 1, 0},
			yPred:         []float64{1, 0, 1, 0, 1, 0},
			wantPrecision: 2.0 / 3.0,
			wantRecall:    2.0 / 3.0,
			wantF1:        2.0 / 3.0,
		},
		{
			name:          "No positive predictions",
			yTrue:         []float64{1, 0, 0},
			yPred:         []float64{0, 0, 0},
			wantPrecision: 0,
			wantRecall:    0,
			wantF1:        0,
			wantWarnings:  1,
		},
		{
			name:          "No positive labels",
			yTrue:         []float64{0, 0, 0},
			yPred:         []float64{1, 0, 0},
			wantPrecision: 0,
			wantRecall:    0,
			wantF1:        0,
			wantWarnings:  1,
		},
		{
			name:          "Perfect",
			yTrue:         []float64{1, 0, 1},
			yPred:         []float64{1, 0, 1},
			wantPrecision: 1,
			wantRecall:    1,
			wantF1:        1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var warnings int
			errors.SetWarningHandler(func(error) { warnings++ })
			defer errors.SetWarningHandler(func(error) {})

			c, err := ConfusionMatrix(vec(tt.yTrue), vec(tt.yPred))
			if err != nil {
				t.Fatal(err)
			}
			p := PrecisionFromConfusion(c)
			r := RecallFromConfusion(c)
			f := F1FromPrecisionRecall(p, r)

			if math.Abs(p-tt.wantPrecision) > 1e-9 {
				t.Errorf("precision = %v, want %v", p, tt.wantPrecision)
			}
			if math.Abs(r-tt.wantRecall) > 1e-9 {
				t.Errorf("recall = %v, want %v", r, tt.wantRecall)
			}
			if math.Abs(f-tt.wantF1) > 1e-9 {
				t.Errorf("f1 = %v, want %v", f, tt.wantF1)
			}
			if warnings != tt.wantWarnings {
				t.Errorf("warnings = %d, want %d", warnings, tt.wantWarnings)
			}

			// The vector-level helpers agree with the confusion-based ones
			gotF1, err := F1Score(vec(tt.yTrue), vec(tt.yPred))
			if err != nil {
				t.Fatal(err)
			}
			if math.Abs(gotF1-tt.wantF1) > 1e-9 {
				t.Errorf("F1Score() = %v, want %v", gotF1, tt.wantF1)
			}
		})
	}
}

func TestAccuracy(t *testing.T) {
	tests := []struct {
		name    string
		yTrue   []float64
		yPred   []float64
		want    float64
		wantErr bool
	}{
		{
			name:  "Perfect accuracy",
			yTrue: []float64{0, 1, 2, 1, 0},
			yPred: []float64{0, 1, 2, 1, 0},
			want:  1.0,
		},
		{
			name:  "80% accuracy",
			yTrue: []float64{0, 1, 2, 1, 0},
			yPred: []float64{0, 1, 1, 1, 0},
			want:  0.8,
		},
		{
			name:  "Zero accuracy",
			yTrue: []float64{0, 0, 0},
			yPred: []float64{1, 1, 1},
			want:  0.0,
		},
		{
			name:    "Empty vectors",
			yTrue:   []float64{},
			yPred:   []float64{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Accuracy(vec(tt.yTrue), vec(tt.yPred))
			if (err != nil) != tt.wantErr {
				t.Errorf("Accuracy() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("Accuracy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func BenchmarkROCAUC(b *testing.B) {
	n := 100000
	yTrue := make([]float64, n)
	yScore := make([]float64, n)
	for i := 0; i < n; i++ {
		if i%50 == 0 {
			yTrue[i] = 1
		}
		yScore[i] = float64((i*7919)%n) / float64(n)
	}
	yTrueVec := mat.NewVecDense(n, yTrue)
	yScoreVec := mat.NewVecDense(n, yScore)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ROCAUC(yTrueVec, yScoreVec)
	}
}
