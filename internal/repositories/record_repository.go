package repositories

import (
	"context"
	"strings"

	"github.com/asakaida/relmanager/internal/entities"
)

// Sort orders records by an attribute. "id", "created_at" and "updated_at" address
// the record columns, everything else an attribute.
type Sort struct {
	Column string
	Desc   bool
}

// RecordFilter defines filter criteria for querying records of one model
type RecordFilter struct {
	IDs           []int64        // Restrict to these ids; nil means no restriction, empty matches nothing
	ExcludeIDs    []int64        // Exclude these ids
	Where         map[string]any // Attribute equality; a nil value matches a missing/null attribute
	Conditions    []string       // Raw SQL fragments over the records table (postgres only)
	Search        string         // Case-insensitive substring over SearchColumns
	SearchColumns []string
	SearchMode    string // all (every word must match), any, exact
	OrderBy       []Sort
	Limit         int
	Offset        int
}

// Clone returns a copy that can be modified independently.
func (f *RecordFilter) Clone() *RecordFilter {
	if f == nil {
		return &RecordFilter{}
	}
	c := *f
	if f.IDs != nil {
		c.IDs = append([]int64{}, f.IDs...)
	}
	c.ExcludeIDs = append([]int64(nil), f.ExcludeIDs...)
	if f.Where != nil {
		c.Where = make(map[string]any, len(f.Where))
		for k, v := range f.Where {
			c.Where[k] = v
		}
	}
	c.Conditions = append([]string(nil), f.Conditions...)
	c.SearchColumns = append([]string(nil), f.SearchColumns...)
	c.OrderBy = append([]Sort(nil), f.OrderBy...)
	return &c
}

// SetWhere adds an attribute equality constraint.
func (f *RecordFilter) SetWhere(attribute string, value any) {
	if f.Where == nil {
		f.Where = make(map[string]any)
	}
	f.Where[attribute] = value
}

// RestrictIDs intersects the id restriction with ids.
func (f *RecordFilter) RestrictIDs(ids []int64) {
	if f.IDs == nil {
		f.IDs = append([]int64{}, ids...)
		return
	}
	allowed := make(map[int64]bool, len(ids))
	for _, id := range ids {
		allowed[id] = true
	}
	kept := []int64{}
	for _, id := range f.IDs {
		if allowed[id] {
			kept = append(kept, id)
		}
	}
	f.IDs = kept
}

// RecordRepository defines the interface for record data access
type RecordRepository interface {
	// Find retrieves a record by id; returns entities.ErrRecordNotFound when missing
	Find(ctx context.Context, model string, id int64) (*entities.Record, error)

	// FindMany retrieves the records that exist among ids; missing ids are skipped
	FindMany(ctx context.Context, model string, ids []int64) ([]*entities.Record, error)

	// List retrieves records matching the filter
	List(ctx context.Context, model string, filter *RecordFilter) ([]*entities.Record, error)

	// Count counts records matching the filter, ignoring Limit and Offset
	Count(ctx context.Context, model string, filter *RecordFilter) (int, error)

	// Create inserts a record and assigns its ID
	Create(ctx context.Context, record *entities.Record) error

	// Update persists the attributes of an existing record
	Update(ctx context.Context, record *entities.Record) error

	// Delete removes a record; pivot rows referencing it are removed too
	Delete(ctx context.Context, model string, id int64) error
}

// SearchTerms splits a search string according to the search mode. Exact mode
// keeps the whole string as a single term.
func SearchTerms(search, mode string) []string {
	search = strings.TrimSpace(search)
	if search == "" {
		return nil
	}
	if mode == "exact" {
		return []string{search}
	}
	return strings.Fields(search)
}
