package repositories

import (
	"context"

	"github.com/asakaida/relmanager/internal/entities"
)

// PivotKey addresses one side of a join table.
type PivotKey struct {
	Table     string // Join table name (e.g., "post_tag")
	MorphType string // Polymorphic owner type; empty for plain belongsToMany
	Inverse   bool   // Owner is stored in related_id (morphedByMany)
}

// PivotRepository defines the interface for join-table data access
type PivotRepository interface {
	// Read retrieves all rows owned by ownerID
	Read(ctx context.Context, key PivotKey, ownerID int64) ([]*entities.PivotRow, error)

	// Find retrieves one row; returns entities.ErrRecordNotFound when missing
	Find(ctx context.Context, key PivotKey, ownerID, relatedID int64) (*entities.PivotRow, error)

	// Attach inserts rows, leaving existing rows untouched
	Attach(ctx context.Context, key PivotKey, rows []*entities.PivotRow) error

	// Update replaces the data of an existing row
	Update(ctx context.Context, key PivotKey, row *entities.PivotRow) error

	// Detach removes the rows of ownerID pointing at relatedIDs
	Detach(ctx context.Context, key PivotKey, ownerID int64, relatedIDs []int64) error
}
