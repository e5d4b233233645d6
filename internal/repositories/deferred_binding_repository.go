package repositories

import (
	"context"
	"time"

	"github.com/asakaida/relmanager/internal/entities"
)

// DeferredBindingFilter defines filter criteria for querying deferred bindings
type DeferredBindingFilter struct {
	SessionKey  string // Required
	MasterType  string // Filter by parent model (optional)
	MasterField string // Filter by relation field (optional)
	SlaveType   string // Filter by related model (optional)
	SlaveID     int64  // Filter by related id (optional)
}

// DeferredBindingRepository defines the interface for deferred binding data access
type DeferredBindingRepository interface {
	// Write stores a binding and assigns its ID
	Write(ctx context.Context, binding *entities.DeferredBinding) error

	// Update replaces the pivot data of a binding
	Update(ctx context.Context, binding *entities.DeferredBinding) error

	// Delete removes a binding by id
	Delete(ctx context.Context, id int64) error

	// Read retrieves bindings matching the filter, oldest first
	Read(ctx context.Context, filter *DeferredBindingFilter) ([]*entities.DeferredBinding, error)

	// Count counts bindings matching the filter
	Count(ctx context.Context, filter *DeferredBindingFilter) (int, error)

	// DeleteOlderThan removes bindings created before t and returns them
	DeleteOlderThan(ctx context.Context, t time.Time) ([]*entities.DeferredBinding, error)
}
