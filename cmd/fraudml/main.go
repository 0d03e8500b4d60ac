// Command fraudml trains and tracks the configured fraud detection runs.
//
// Configuration comes from config.Default, the JSON file named by
// FRAUDML_CONFIG and FRAUDML_* environment overrides.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/YuminosukeSato/fraudml/config"
	"github.com/YuminosukeSato/fraudml/dataset"
	"github.com/YuminosukeSato/fraudml/pipeline"
	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/pkg/log"
	"github.com/YuminosukeSato/fraudml/tracking"
	"github.com/YuminosukeSato/fraudml/tracking/backend"
)

func main() {
	if err := run(); err != nil {
		log.GetLogger().Error("fraudml failed", err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return err
	}
	if err := log.SetupLogger(cfg.Logging.Level, cfg.Logging.Pretty); err != nil {
		return err
	}
	logger := log.GetLoggerWithName("fraudml")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := backend.Open(cfg.Tracking, logger)
	if err != nil {
		return errors.Wrap(err, "open tracking store")
	}
	client := tracking.NewClient(store, tracking.WithClientLogger(logger))
	defer func() {
		err = errors.CombineErrors(err, client.Close())
	}()

	provider, closeProvider, err := dataset.NewProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.CombineErrors(err, closeProvider())
	}()

	logger.Info("Pipeline starting",
		log.ExperimentNameKey, cfg.Experiment,
		log.TrackingURIKey, cfg.Tracking.URI,
		log.SourceKey, cfg.Dataset.Source,
	)
	return pipeline.NewDriver(cfg, provider, client, pipeline.WithLogger(logger)).Run(ctx)
}
