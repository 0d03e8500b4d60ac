package dataset

import (
	"context"
)

// Provider fetches a labeled dataset capped to limit rows.
//
// Implementations return the underlying cause on failure. Callers that only
// care about availability treat an error and an empty frame the same way.
type Provider interface {
	Load(ctx context.Context, name string, limit int) (*Frame, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, name string, limit int) (*Frame, error)

// Load calls f.
func (f ProviderFunc) Load(ctx context.Context, name string, limit int) (*Frame, error) {
	return f(ctx, name, limit)
}
