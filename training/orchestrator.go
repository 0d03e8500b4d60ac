// Package training runs one tracked training configuration: it opens a run,
// fits a random forest, evaluates it at the configured threshold and records
// params, metrics and the serialized model.
package training

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/YuminosukeSato/fraudml/core/model"
	"github.com/YuminosukeSato/fraudml/evaluation"
	"github.com/YuminosukeSato/fraudml/features"
	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/pkg/log"
	"github.com/YuminosukeSato/fraudml/sklearn/ensemble"
	"github.com/YuminosukeSato/fraudml/tracking"
)

const (
	// ModelArtifact is the artifact name of the serialized model.
	ModelArtifact = "random_forest_model"
	// CardArtifact describes the fitted model in JSON.
	CardArtifact = "model_card.json"
	// ThresholdParam is the param recording the evaluation threshold.
	ThresholdParam = "evaluation_threshold"
)

// ignoredParams are logged but not passed to the model.
// max_iter は旧ロジスティック回帰設定の名残
var ignoredParams = []string{"max_iter"}

// Training stages reported in a TrainingError.
const (
	StageFit      = "fit"
	StageEvaluate = "evaluate"
	StageLog      = "log"
	StageRun      = "run"
)

var tracer = otel.Tracer("github.com/YuminosukeSato/fraudml/training")

// ModelFactory builds an unfitted classifier from hyperparameters.
type ModelFactory func(params Params) (model.Classifier, error)

// NewRandomForest is the default ModelFactory.
func NewRandomForest(params Params) (model.Classifier, error) {
	rf := ensemble.NewRandomForestClassifier()
	if err := rf.SetParams(params.Map()); err != nil {
		return nil, err
	}
	return rf, nil
}

// carder is implemented by models that can describe themselves.
type carder interface {
	ModelCard(featureNames []string) *model.ModelCard
}

// RunRecord is the outcome of a successful run.
type RunRecord struct {
	RunID   string
	Config  RunConfig
	Model   model.Classifier
	Metrics evaluation.Snapshot
	Status  tracking.RunStatus
}

// Orchestrator executes run configurations against a tracking client.
type Orchestrator struct {
	tracker  *tracking.Client
	logger   log.Logger
	out      io.Writer
	newModel ModelFactory
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithOutput sets where progress lines are printed. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(o *Orchestrator) { o.out = w }
}

// WithModelFactory replaces the random forest factory.
func WithModelFactory(f ModelFactory) Option {
	return func(o *Orchestrator) { o.newModel = f }
}

// NewOrchestrator creates an Orchestrator. The tracker must have an
// experiment set before Execute is called.
func NewOrchestrator(tracker *tracking.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tracker:  tracker,
		out:      os.Stdout,
		newModel: NewRandomForest,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = log.GetLoggerWithName("training")
	}
	return o
}

// Execute runs cfg on split inside a tracked run. The run is closed on
// every exit path: FINISHED on success, FAILED otherwise. Failures after the
// run opened are returned as a TrainingError once the run is closed.
func (o *Orchestrator) Execute(ctx context.Context, cfg RunConfig, split *features.Split) (rec *RunRecord, err error) {
	ctx, span := tracer.Start(ctx, "training.Execute", trace.WithAttributes(
		attribute.String(log.RunNameKey, cfg.Name),
		attribute.Float64(log.ThresholdKey, cfg.Threshold),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := evaluation.ValidateThreshold(cfg.Threshold); err != nil {
		return nil, err
	}
	if split == nil || split.XTrain == nil || split.YTrain == nil || split.XTest == nil || split.YTest == nil {
		return nil, errors.NewInputError("Orchestrator.Execute", "split is incomplete")
	}

	run, err := o.tracker.StartRun(ctx, cfg.Name, cfg.Params.Tracking()...)
	if err != nil {
		return nil, err
	}
	experiment := ""
	if exp := o.tracker.Experiment(); exp != nil {
		experiment = exp.Name
	}
	fmt.Fprintf(o.out, "\n--- MLflow Run Iniciada ---\nExperimento: %s\nRun ID: %s\n", experiment, run.ID())
	span.SetAttributes(attribute.String(log.RunIDKey, run.ID()))

	logger := o.logger.With(log.RunIDKey, run.ID(), log.RunNameKey, cfg.Name)
	record := &RunRecord{RunID: run.ID(), Config: cfg, Status: tracking.StatusRunning}

	defer func() {
		if err != nil {
			var te *errors.TrainingError
			if !errors.As(err, &te) {
				err = errors.NewTrainingError(run.ID(), cfg.Name, StageRun, err)
			}
		}
		status := tracking.StatusFinished
		if err != nil {
			status = tracking.StatusFailed
		}
		endErr := run.End(ctx, status)
		fmt.Fprintln(o.out, "--- MLflow Run Finalizada ---")
		fmt.Fprintln(o.out)

		if err == nil && endErr != nil {
			err = endErr
		}
		if err != nil {
			logger.Error("Run failed", err, log.RunStatusKey, string(status))
			rec = nil
			return
		}
		record.Status = status
		rec = record
	}()
	defer errors.Recover(&err, "Orchestrator.Execute")

	err = o.train(ctx, run, cfg, split, record, logger)
	return record, err
}

func (o *Orchestrator) train(ctx context.Context, run *tracking.Run, cfg RunConfig, split *features.Split, rec *RunRecord, logger log.Logger) error {
	fail := func(stage string, err error) error {
		return errors.NewTrainingError(run.ID(), cfg.Name, stage, err)
	}

	params := cfg.Params
	for _, name := range ignoredParams {
		params = params.Without(name)
	}
	clf, err := o.newModel(params)
	if err != nil {
		return fail(StageFit, err)
	}

	fmt.Fprintln(o.out, "Iniciando treinamento do modelo (RandomForestClassifier)...")
	start := time.Now()
	if err := clf.Fit(split.XTrain, split.YTrain); err != nil {
		return fail(StageFit, err)
	}
	nTrain, _ := split.XTrain.Dims()
	logger.Info("Model fitted",
		log.SamplesKey, nTrain,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)

	snap, err := evaluation.Evaluate(clf, split.XTest, split.YTest, cfg.Threshold)
	if err != nil {
		return fail(StageEvaluate, err)
	}

	for _, m := range snap.Metrics() {
		if err := run.LogMetric(ctx, m.Name, m.Value); err != nil {
			return fail(StageLog, err)
		}
	}
	if err := run.LogParam(ctx, ThresholdParam, model.FormatParam(cfg.Threshold)); err != nil {
		return fail(StageLog, err)
	}
	blob, err := model.Encode(clf)
	if err != nil {
		return fail(StageLog, err)
	}
	if _, err := run.LogArtifact(ctx, ModelArtifact, blob); err != nil {
		return fail(StageLog, err)
	}
	if c, ok := clf.(carder); ok {
		card, err := c.ModelCard(split.FeatureNames).ToJSON()
		if err != nil {
			return fail(StageLog, err)
		}
		if _, err := run.LogArtifact(ctx, CardArtifact, card); err != nil {
			return fail(StageLog, err)
		}
	}

	rec.Model = clf
	rec.Metrics = snap
	logger.Info("Run evaluated",
		log.PrecisionKey, snap.Precision,
		log.RecallKey, snap.Recall,
		log.F1ScoreKey, snap.F1,
		log.AUCROCKey, snap.AUCROC,
		log.ThresholdKey, cfg.Threshold,
	)
	fmt.Fprintf(o.out, "Treinamento e logging do modelo finalizados. Run ID: %s\n", run.ID())
	return nil
}
