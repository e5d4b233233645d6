package memory

import (
	"context"
	"fmt"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/repositories"
)

// PivotRepository implements repositories.PivotRepository on the memory store
type PivotRepository struct {
	store *Store
}

var _ repositories.PivotRepository = (*PivotRepository)(nil)

func columns(key repositories.PivotKey, ownerID, relatedID int64) (parentID, relID int64) {
	if key.Inverse {
		return relatedID, ownerID
	}
	return ownerID, relatedID
}

func toRow(key repositories.PivotKey, p *pivotRecord) *entities.PivotRow {
	row := &entities.PivotRow{Data: cloneMap(p.data), CreatedAt: p.createdAt}
	if key.Inverse {
		row.OwnerID, row.RelatedID = p.relatedID, p.parentID
	} else {
		row.OwnerID, row.RelatedID = p.parentID, p.relatedID
	}
	if row.Data == nil {
		row.Data = make(map[string]any)
	}
	return row
}

func (r *PivotRepository) owns(key repositories.PivotKey, p *pivotRecord, ownerID int64) bool {
	if p.table != key.Table || p.parentType != key.MorphType {
		return false
	}
	if key.Inverse {
		return p.relatedID == ownerID
	}
	return p.parentID == ownerID
}

func (r *PivotRepository) find(key repositories.PivotKey, ownerID, relatedID int64) *pivotRecord {
	parentID, relID := columns(key, ownerID, relatedID)
	for _, p := range r.store.s.pivots {
		if p.table == key.Table && p.parentType == key.MorphType && p.parentID == parentID && p.relatedID == relID {
			return p
		}
	}
	return nil
}

// Read retrieves all rows owned by ownerID in insertion order
func (r *PivotRepository) Read(ctx context.Context, key repositories.PivotKey, ownerID int64) ([]*entities.PivotRow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var rows []*entities.PivotRow
	for _, p := range r.store.s.pivots {
		if r.owns(key, p, ownerID) {
			rows = append(rows, toRow(key, p))
		}
	}
	return rows, nil
}

// Find retrieves one row
func (r *PivotRepository) Find(ctx context.Context, key repositories.PivotKey, ownerID, relatedID int64) (*entities.PivotRow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	p := r.find(key, ownerID, relatedID)
	if p == nil {
		return nil, fmt.Errorf("pivot %s %d->%d: %w", key.Table, ownerID, relatedID, entities.ErrRecordNotFound)
	}
	return toRow(key, p), nil
}

// Attach inserts rows, leaving existing rows untouched
func (r *PivotRepository) Attach(ctx context.Context, key repositories.PivotKey, rows []*entities.PivotRow) error {
	for _, row := range rows {
		if err := row.Validate(); err != nil {
			return fmt.Errorf("invalid pivot row: %w", err)
		}
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := r.store.now()
	for _, row := range rows {
		if r.find(key, row.OwnerID, row.RelatedID) != nil {
			continue
		}
		parentID, relID := columns(key, row.OwnerID, row.RelatedID)
		r.store.s.pivots = append(r.store.s.pivots, &pivotRecord{
			table:      key.Table,
			parentType: key.MorphType,
			parentID:   parentID,
			relatedID:  relID,
			data:       cloneMap(row.Data),
			createdAt:  now,
		})
		row.CreatedAt = now
	}
	return nil
}

// Update replaces the data of an existing row
func (r *PivotRepository) Update(ctx context.Context, key repositories.PivotKey, row *entities.PivotRow) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	p := r.find(key, row.OwnerID, row.RelatedID)
	if p == nil {
		return fmt.Errorf("pivot %s %d->%d: %w", key.Table, row.OwnerID, row.RelatedID, entities.ErrRecordNotFound)
	}
	p.data = cloneMap(row.Data)
	return nil
}

// Detach removes the rows of ownerID pointing at relatedIDs
func (r *PivotRepository) Detach(ctx context.Context, key repositories.PivotKey, ownerID int64, relatedIDs []int64) error {
	if len(relatedIDs) == 0 {
		return nil
	}
	remove := make(map[int64]bool, len(relatedIDs))
	for _, id := range relatedIDs {
		remove[id] = true
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	kept := make([]*pivotRecord, 0, len(r.store.s.pivots))
	for _, p := range r.store.s.pivots {
		if r.owns(key, p, ownerID) {
			row := toRow(key, p)
			if remove[row.RelatedID] {
				continue
			}
		}
		kept = append(kept, p)
	}
	r.store.s.pivots = kept
	return nil
}
