// Package report renders the precision/recall comparison of all runs of an
// experiment.
package report

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/fraudml/evaluation"
	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/pkg/log"
	"github.com/YuminosukeSato/fraudml/tracking"
)

const (
	// DefaultPath is the image written by the report command.
	DefaultPath = "precision_vs_recall_tradeoff.png"

	title  = "Trade-off Precision vs. Recall (Tamanho = F1-Score)"
	width  = 10 * vg.Inch
	height = 8 * vg.Inch
	alpha  = 0.7
)

// Point is one run on the chart.
type Point struct {
	RunName   string
	Precision float64
	Recall    float64
	F1        float64
}

// Reporter reads runs back from the tracking store and draws them.
type Reporter struct {
	tracker    *tracking.Client
	experiment string
	logger     log.Logger
	out        io.Writer
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(r *Reporter) { r.logger = logger }
}

// WithOutput sets where progress lines are printed. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(r *Reporter) { r.out = w }
}

// NewReporter creates a Reporter for experiment.
func NewReporter(tracker *tracking.Client, experiment string, opts ...Option) *Reporter {
	r := &Reporter{tracker: tracker, experiment: experiment, out: os.Stdout}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.GetLoggerWithName("report")
	}
	return r
}

// Render writes the chart to path and returns its absolute path. When the
// experiment does not exist nothing is written and Render returns "", nil.
func (r *Reporter) Render(ctx context.Context, path string) (string, error) {
	if path == "" {
		path = DefaultPath
	}
	logger := r.logger.With(log.ExperimentNameKey, r.experiment)

	if _, err := r.tracker.GetExperimentByName(ctx, r.experiment); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			logger.Warn("Experiment not found, nothing to render")
			fmt.Fprintf(r.out, "Erro: Experimento '%s' não encontrado.\n", r.experiment)
			return "", nil
		}
		return "", err
	}

	records, err := r.tracker.SearchRuns(ctx, r.experiment)
	if err != nil {
		return "", err
	}
	points := Points(records)
	if skipped := len(records) - len(points); skipped > 0 {
		logger.Debug("Skipped runs without precision/recall", "runs.skipped", skipped)
	}
	fmt.Fprintf(r.out, "--- Gerando gráfico para %d runs no experimento: %s ---\n", len(points), r.experiment)

	p, err := NewPlot(points)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrapf(err, "resolve %s", path)
	}
	if err := p.Save(width, height, abs); err != nil {
		return "", errors.Wrapf(err, "save chart %s", abs)
	}

	logger.Info("Chart saved", "report.path", abs, "runs.count", len(points))
	fmt.Fprintf(r.out, "Gráfico salvo localmente em: %s\n", abs)
	return abs, nil
}

// Points keeps the runs that logged both precision and recall. A missing F1
// counts as 0.
func Points(records []tracking.Record) []Point {
	points := make([]Point, 0, len(records))
	for _, rec := range records {
		precision, okP := rec.Metric(evaluation.MetricPrecision)
		recall, okR := rec.Metric(evaluation.MetricRecall)
		if !okP || !okR {
			continue
		}
		f1, _ := rec.Metric(evaluation.MetricF1)
		name := rec.Info.RunName
		if name == "" {
			name = rec.Tags[tracking.RunNameTag]
		}
		points = append(points, Point{RunName: name, Precision: precision, Recall: recall, F1: f1})
	}
	return points
}

// NewPlot draws precision against recall. Glyph color and size follow F1.
func NewPlot(points []Point) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Precision"
	p.Y.Label.Text = "Recall"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Add(plotter.NewGrid())

	if len(points) == 0 {
		return p, nil
	}

	xys := make(plotter.XYs, len(points))
	names := make([]string, len(points))
	for i, pt := range points {
		xys[i].X = pt.Precision
		xys[i].Y = pt.Recall
		names[i] = " " + pt.RunName
	}

	cmap := moreland.SmoothBlueRed()
	cmap.SetMin(0)
	cmap.SetMax(1)

	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		return nil, errors.Wrap(err, "build scatter")
	}
	scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		return draw.GlyphStyle{
			Color:  glyphColor(cmap, points[i].F1),
			Radius: glyphRadius(points[i].F1),
			Shape:  draw.CircleGlyph{},
		}
	}

	labels, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: names})
	if err != nil {
		return nil, errors.Wrap(err, "build labels")
	}
	labels.Offset = vg.Point{X: vg.Points(6)}

	p.Add(scatter, labels)
	return p, nil
}

// glyphRadius maps F1 to a marker area of 50..250 pt².
func glyphRadius(f1 float64) vg.Length {
	area := clamp01(f1)*200 + 50
	return vg.Points(math.Sqrt(area) / 2)
}

func glyphColor(cmap palette.ColorMap, f1 float64) color.Color {
	c, err := cmap.At(clamp01(f1))
	if err != nil {
		return color.Gray{Y: 128}
	}
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	n.A = uint8(math.Round(alpha * 255))
	return n
}

func clamp01(v float64) float64 {
	if errors.CheckScalar("report", v) != nil {
		return 0
	}
	return errors.ClipValue(v, 0, 1)
}
