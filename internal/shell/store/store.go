package store

import (
	"context"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for stackctl entities.
type Store interface {
	// Environment operations
	CreateEnvironment(ctx context.Context, env *EnvironmentRecord) error
	GetEnvironment(ctx context.Context, id string) (*EnvironmentRecord, error)
	GetEnvironmentByName(ctx context.Context, name string) (*EnvironmentRecord, error)
	UpdateEnvironment(ctx context.Context, env *EnvironmentRecord) error
	DeleteEnvironment(ctx context.Context, id string) error
	ListEnvironments(ctx context.Context, opts ListOptions) ([]EnvironmentRecord, error)

	// Render history operations
	CreateRender(ctx context.Context, render *RenderRecord) error
	GetRender(ctx context.Context, id string) (*RenderRecord, error)
	ListRendersByEnvironment(ctx context.Context, environmentID string, opts ListOptions) ([]RenderRecord, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
