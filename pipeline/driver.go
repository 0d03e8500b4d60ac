// Package pipeline loads the dataset once, prepares a single split and runs
// every configured training run on it in order.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/YuminosukeSato/fraudml/config"
	"github.com/YuminosukeSato/fraudml/dataset"
	"github.com/YuminosukeSato/fraudml/evaluation"
	"github.com/YuminosukeSato/fraudml/features"
	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/pkg/log"
	"github.com/YuminosukeSato/fraudml/training"
	"github.com/YuminosukeSato/fraudml/tracking"
)

var tracer = otel.Tracer("github.com/YuminosukeSato/fraudml/pipeline")

// Driver wires a provider, the feature preparer and the run orchestrator.
type Driver struct {
	cfg          *config.Config
	provider     dataset.Provider
	tracker      *tracking.Client
	preparer     *features.Preparer
	orchestrator *training.Orchestrator
	runs         []training.RunConfig

	logger log.Logger
	out    io.Writer
	opts   []training.Option
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithOutput sets where progress lines are printed. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(d *Driver) { d.out = w }
}

// WithTrainingOptions passes options to the run orchestrator.
func WithTrainingOptions(opts ...training.Option) Option {
	return func(d *Driver) { d.opts = append(d.opts, opts...) }
}

// NewDriver creates a Driver for cfg.
func NewDriver(cfg *config.Config, provider dataset.Provider, tracker *tracking.Client, opts ...Option) *Driver {
	d := &Driver{
		cfg:      cfg,
		provider: provider,
		tracker:  tracker,
		runs:     training.FromSpecs(cfg.Runs),
		out:      os.Stdout,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = log.GetLoggerWithName("pipeline")
	}
	d.preparer = features.NewPreparer(cfg.Features, d.logger)
	trainingOpts := append([]training.Option{
		training.WithLogger(d.logger),
		training.WithOutput(d.out),
	}, d.opts...)
	d.orchestrator = training.NewOrchestrator(tracker, trainingOpts...)
	return d
}

// Run executes the pipeline.
//
// A data source that fails or returns no rows stops the pipeline before any
// run and is not an error. A preprocessing or run failure stops the sequence
// and is returned.
func (d *Driver) Run(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String(log.ExperimentNameKey, d.cfg.Experiment),
		attribute.Int("runs.count", len(d.runs)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	fmt.Fprintln(d.out, "Iniciando pipeline de detecção de fraudes...")

	frame, ok := d.load(ctx)
	if !ok {
		fmt.Fprintln(d.out, "Execução abortada devido a erro no carregamento dos dados.")
		return nil
	}

	split, err := d.prepare(ctx, frame)
	if err != nil {
		d.logger.Error("Preprocessing failed", err)
		fmt.Fprintf(d.out, "Erro na fase de carregamento/pré-processamento: %v\n", err)
		return err
	}
	fmt.Fprintln(d.out, "Dados carregados e pré-processados com sucesso!")

	if _, err := d.tracker.SetExperiment(ctx, d.cfg.Experiment); err != nil {
		d.logger.Error("Failed to set experiment", err, log.ExperimentNameKey, d.cfg.Experiment)
		return err
	}

	for i, run := range d.runs {
		rec, err := d.orchestrator.Execute(ctx, run, split)
		if err != nil {
			d.logger.Error("Run failed, stopping", err,
				log.RunNameKey, run.Name,
				"runs.completed", i,
			)
			return err
		}
		fmt.Fprintln(d.out, metricsLine(i+1, rec.Metrics))
	}

	fmt.Fprintln(d.out, "Pipeline de detecção de fraudes executado com sucesso!")
	return nil
}

// load reports false when the source failed or returned no rows.
func (d *Driver) load(ctx context.Context) (*dataset.Frame, bool) {
	ctx, span := tracer.Start(ctx, "pipeline.load", trace.WithAttributes(
		attribute.String(log.DatasetKey, d.cfg.Dataset.Name),
		attribute.String(log.SourceKey, d.cfg.Dataset.Source),
	))
	defer span.End()

	frame, err := d.provider.Load(ctx, d.cfg.Dataset.Name, d.cfg.Dataset.Limit)
	if err != nil || frame.Empty() {
		unavailable := errors.NewDataUnavailableError(d.cfg.Dataset.Source, err)
		reason := "empty result"
		if err != nil {
			reason = err.Error()
		}
		d.logger.Warn("Data unavailable, no runs executed", unavailable,
			log.DatasetKey, d.cfg.Dataset.Name,
			log.ReasonKey, reason,
		)
		span.SetStatus(codes.Error, reason)
		return nil, false
	}
	span.SetAttributes(attribute.Int(log.SamplesKey, frame.Len()))
	return frame, true
}

func (d *Driver) prepare(ctx context.Context, frame *dataset.Frame) (*features.Split, error) {
	_, span := tracer.Start(ctx, "pipeline.prepare")
	defer span.End()

	split, err := d.preparer.Prepare(frame, d.cfg.Dataset.Target)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(d.out, "Taxa de Fraude (Target): %.4f%%\n", split.PositiveRate*100)
	fmt.Fprintf(d.out, "Dados prontos - Treino: %d amostras, Teste: %d amostras.\n",
		len(split.TrainIndex), len(split.TestIndex))
	return split, nil
}

// metricsLine formats the summary of run n. Runs with a non-default
// threshold also show the threshold and AUC.
func metricsLine(n int, s evaluation.Snapshot) string {
	if s.Threshold != config.DefaultThreshold {
		return fmt.Sprintf("Run %d - Métricas (Threshold %g): Precision: %.4f, Recall: %.4f, F1: %.4f, AUC: %.4f",
			n, s.Threshold, s.Precision, s.Recall, s.F1, s.AUCROC)
	}
	return fmt.Sprintf("Run %d - Métricas: Precision: %.4f, Recall: %.4f, F1: %.4f",
		n, s.Precision, s.Recall, s.F1)
}
