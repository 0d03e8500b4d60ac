// Command fraudml-report renders the precision/recall comparison of every
// run in the configured experiment.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/YuminosukeSato/fraudml/config"
	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/pkg/log"
	"github.com/YuminosukeSato/fraudml/report"
	"github.com/YuminosukeSato/fraudml/tracking"
	"github.com/YuminosukeSato/fraudml/tracking/backend"
)

func main() {
	if err := run(); err != nil {
		log.GetLogger().Error("fraudml-report failed", err)
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
	logger := log.GetLoggerWithName("report")

	store, err := backend.Open(cfg.Tracking, logger)
	if err != nil {
		return errors.Wrap(err, "open tracking store")
	}
	client := tracking.NewClient(store, tracking.WithClientLogger(logger))
	defer func() {
		err = errors.CombineErrors(err, client.Close())
	}()

	_, err = report.NewReporter(client, cfg.Experiment, report.WithLogger(logger)).
		Render(context.Background(), cfg.Report.Path)
	return err
}
