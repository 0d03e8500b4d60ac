package dataset

import (
	"context"
	"net/http"
	"time"

	"github.com/YuminosukeSato/fraudml/config"
	"github.com/YuminosukeSato/fraudml/pkg/errors"
	"github.com/YuminosukeSato/fraudml/pkg/log"
)

// NewProvider builds the provider selected by cfg.Dataset, wrapped in a Redis
// cache when cfg.Cache.Addr is set. An unreachable Redis only disables the
// cache. The returned close function releases the cache connection.
func NewProvider(ctx context.Context, cfg *config.Config, logger log.Logger) (Provider, func() error, error) {
	if logger == nil {
		logger = log.GetLoggerWithName("dataset")
	}
	noop := func() error { return nil }

	var inner Provider
	switch cfg.Dataset.Source {
	case "hub":
		inner = NewHubProvider(cfg.Dataset.HubURL,
			WithHubClient(&http.Client{Timeout: time.Duration(cfg.Dataset.Timeout) * time.Second}),
			WithHubLogger(logger),
		)
	case "csv":
		inner = NewCSVProvider(cfg.Dataset.CSVPath, logger)
	case "synthetic":
		p, err := NewSyntheticProvider(cfg.Dataset.Synthetic.FraudRate, cfg.Dataset.Synthetic.Seed, logger)
		if err != nil {
			return nil, noop, err
		}
		inner = p
	default:
		return nil, noop, errors.NewValidationError("dataset.source", "must be 'hub', 'csv' or 'synthetic'", cfg.Dataset.Source)
	}

	if !cfg.Cache.Enabled() {
		return inner, noop, nil
	}
	cache, err := NewRedisFrameCache(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
	if err != nil {
		logger.Warn("Frame cache unavailable, loading without cache", err)
		return inner, noop, nil
	}
	return NewCachedProvider(inner, cache, cfg.Cache.TTLDuration(), logger), cache.Close, nil
}
