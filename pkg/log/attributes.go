// Standard attribute keys for pipeline, tracking and model logs.
//
// Keys follow a dotted naming convention ("run.id", "data.samples") so that
// log lines from different components can be filtered together.

package log

// Run and experiment context
const (
	// ExperimentNameKey is the tracking experiment a run belongs to.
	ExperimentNameKey = "experiment.name"

	// ExperimentIDKey is the store-assigned experiment identifier.
	ExperimentIDKey = "experiment.id"

	// RunIDKey is the tracking run identifier.
	RunIDKey = "run.id"

	// RunNameKey is the human-readable run name, e.g. "Run_1_RF_Baseline".
	RunNameKey = "run.name"

	// RunStatusKey is the terminal status of a run: "FINISHED" or "FAILED".
	RunStatusKey = "run.status"

	// TrackingURIKey is the tracking backend location.
	TrackingURIKey = "tracking.uri"
)

// Model and operation context
const (
	// ModelNameKey identifies the type of machine learning model.
	// Examples: "RandomForestClassifier", "DecisionTreeClassifier"
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "predict_proba", "evaluate"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component or package is logging.
	// Examples: "dataset", "features", "training", "tracking"
	ComponentKey = "ml.component"

	// EstimatorsKey is the number of trees in a forest.
	EstimatorsKey = "model.n_estimators"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Data shape and source
const (
	// DatasetKey names the dataset being loaded.
	DatasetKey = "data.name"

	// SourceKey identifies the data provider ("hub", "csv", "cache", "synthetic").
	SourceKey = "data.source"

	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// PositiveRateKey is the fraction of rows labeled as fraud.
	PositiveRateKey = "data.positive_rate"

	// ReasonKey explains why data or a step was unavailable.
	ReasonKey = "reason"
)

// Evaluation metrics
const (
	PrecisionKey = "metrics.precision"
	RecallKey    = "metrics.recall"
	F1ScoreKey   = "metrics.f1_score"
	AccuracyKey  = "metrics.accuracy"
	AUCROCKey    = "metrics.auc_roc"

	// ThresholdKey records the decision threshold used for classification.
	ThresholdKey = "preds.threshold"

	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"
)

// Error context
const (
	// ErrorTypeKey categorizes the type of error encountered.
	// Examples: "InputError", "TrainingError", "DataUnavailableError"
	ErrorTypeKey = "error.type"
)

// Standard attribute values.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationPredictProba = "predict_proba"
	OperationEvaluate     = "evaluate"
	OperationLoad         = "load"
	OperationPrepare      = "prepare"
)
