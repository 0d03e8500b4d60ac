// Package backend selects a tracking.Store from a tracking URI.
package backend

import (
	"strings"

	"github.com/YuminosukeSato/fraudml/config"
	"github.com/YuminosukeSato/fraudml/pkg/log"
	"github.com/YuminosukeSato/fraudml/tracking"
	"github.com/YuminosukeSato/fraudml/tracking/mlflow"
	"github.com/YuminosukeSato/fraudml/tracking/sqlstore"
)

// Open returns the store for cfg.URI:
//
//	http://, https://                 MLflow tracking server
//	sqlite://, postgres://, file path SQL store with artifacts under cfg.ArtifactDir
func Open(cfg config.TrackingConfig, logger log.Logger) (tracking.Store, error) {
	if logger == nil {
		logger = log.GetLoggerWithName("tracking")
	}
	uri := cfg.URI
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		logger.Debug("Using MLflow tracking server", log.TrackingURIKey, uri)
		return mlflow.New(uri, mlflow.WithLogger(logger)), nil
	}
	logger.Debug("Using SQL tracking store", log.TrackingURIKey, uri, "artifact.dir", cfg.ArtifactDir)
	return sqlstore.Open(uri, cfg.ArtifactDir)
}
