package entities

import (
	"fmt"
	"time"
)

// DeferredBinding is one staged relation mutation waiting for its parent to be saved.
// Example: comment:12 bound to post.comments under session "3f2a..."
type DeferredBinding struct {
	ID          int64
	MasterType  string // Parent model (e.g., "post")
	MasterField string // Relation field (e.g., "comments")
	SlaveType   string // Related model (e.g., "comment")
	SlaveID     int64
	PivotData   map[string]any
	SessionKey  string
	IsBind      bool // true for add, false for remove
	CreatedAt   time.Time
}

// String returns a string representation of the binding
// Format: [+|-]master.field@slave_type:slave_id#session
func (b *DeferredBinding) String() string {
	op := "+"
	if !b.IsBind {
		op = "-"
	}
	return fmt.Sprintf("%s%s.%s@%s:%d#%s", op, b.MasterType, b.MasterField, b.SlaveType, b.SlaveID, b.SessionKey)
}

// Validate checks if the binding is valid
func (b *DeferredBinding) Validate() error {
	if b.MasterType == "" {
		return fmt.Errorf("master type is required")
	}
	if b.MasterField == "" {
		return fmt.Errorf("master field is required")
	}
	if b.SlaveType == "" {
		return fmt.Errorf("slave type is required")
	}
	if b.SlaveID == 0 {
		return fmt.Errorf("slave ID is required")
	}
	if b.SessionKey == "" {
		return fmt.Errorf("session key is required")
	}
	return nil
}

// PivotRow is one join-table row seen from the owning side of a many-to-many relation.
type PivotRow struct {
	OwnerID   int64
	RelatedID int64
	Data      map[string]any
	CreatedAt time.Time
}

// Validate checks if the pivot row is valid
func (p *PivotRow) Validate() error {
	if p.OwnerID == 0 {
		return fmt.Errorf("owner ID is required")
	}
	if p.RelatedID == 0 {
		return fmt.Errorf("related ID is required")
	}
	return nil
}
