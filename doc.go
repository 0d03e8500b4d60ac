// Package fraudml trains and tracks random forest fraud detectors on
// PaySim-style transaction data.
//
// A pipeline invocation loads a capped sample of labeled transactions,
// prepares one stratified train/test split and runs each configured
// training run on it. Every run is recorded in a tracking store: its
// hyperparameters, the evaluation threshold, precision, recall, F1,
// accuracy, ROC AUC and the gob-encoded model. A separate report command
// reads the runs back and draws a precision/recall comparison chart.
//
// # Quick Start
//
//	go run ./cmd/fraudml          // train and track the three default runs
//	go run ./cmd/fraudml-report   // write precision_vs_recall_tradeoff.png
//
// Offline, with generated data and a local SQLite store:
//
//	FRAUDML_DATASET_SOURCE=synthetic go run ./cmd/fraudml
//
// # Packages
//
//   - config: defaults, JSON file and FRAUDML_* environment overrides
//   - dataset: Hugging Face rows API, CSV and synthetic providers, Redis cache
//   - features: column dropping, one-hot encoding and the stratified split
//   - sklearn/ensemble, sklearn/tree: the random forest
//   - evaluation: thresholded metrics and ROC AUC
//   - training: one tracked run
//   - pipeline: load, prepare and run every configuration in order
//   - tracking: the single-slot run client, SQL and MLflow REST stores
//   - report: the comparison chart
//   - pkg/errors, pkg/log: error types and zerolog-backed logging
//
// # Tracking backends
//
// The tracking URI selects the store:
//
//	sqlite://./mlruns.db            SQLite (default)
//	postgres://user@host/db         PostgreSQL
//	http://localhost:5000           MLflow tracking server
//
// Runs are named through the mlflow.runName tag so that either backend
// can be browsed with the MLflow UI conventions.
package fraudml
