package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/repositories"
)

// RecordRepository implements repositories.RecordRepository on the memory store
type RecordRepository struct {
	store *Store
}

var _ repositories.RecordRepository = (*RecordRepository)(nil)

// Find retrieves a record by id
func (r *RecordRepository) Find(ctx context.Context, model string, id int64) (*entities.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	rec, ok := r.store.s.records[model][id]
	if !ok {
		return nil, fmt.Errorf("%s:%d: %w", model, id, entities.ErrRecordNotFound)
	}
	return rec.Clone(), nil
}

// FindMany retrieves the records that exist among ids, in the order of ids
func (r *RecordRepository) FindMany(ctx context.Context, model string, ids []int64) ([]*entities.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	records := make([]*entities.Record, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if rec, ok := r.store.s.records[model][id]; ok {
			records = append(records, rec.Clone())
		}
	}
	return records, nil
}

// List retrieves records matching the filter
func (r *RecordRepository) List(ctx context.Context, model string, filter *repositories.RecordFilter) ([]*entities.Record, error) {
	matched, err := r.match(model, filter)
	if err != nil {
		return nil, err
	}

	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(matched) {
				return []*entities.Record{}, nil
			}
			matched = matched[filter.Offset:]
		}
		if filter.Limit > 0 && len(matched) > filter.Limit {
			matched = matched[:filter.Limit]
		}
	}
	return matched, nil
}

// Count counts records matching the filter
func (r *RecordRepository) Count(ctx context.Context, model string, filter *repositories.RecordFilter) (int, error) {
	matched, err := r.match(model, filter)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

// Create inserts a record and assigns its ID
func (r *RecordRepository) Create(ctx context.Context, record *entities.Record) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	st := r.store.s
	st.nextRecordID++
	now := r.store.now()
	record.ID = st.nextRecordID
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Attributes == nil {
		record.Attributes = make(map[string]any)
	}

	if st.records[record.Model] == nil {
		st.records[record.Model] = make(map[int64]*entities.Record)
	}
	st.records[record.Model][record.ID] = record.Clone()
	return nil
}

// Update persists the attributes of an existing record
func (r *RecordRepository) Update(ctx context.Context, record *entities.Record) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	existing, ok := r.store.s.records[record.Model][record.ID]
	if !ok {
		return fmt.Errorf("%s: %w", record, entities.ErrRecordNotFound)
	}
	record.CreatedAt = existing.CreatedAt
	record.UpdatedAt = r.store.now()
	r.store.s.records[record.Model][record.ID] = record.Clone()
	return nil
}

// Delete removes a record and the pivot rows referencing it
func (r *RecordRepository) Delete(ctx context.Context, model string, id int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	st := r.store.s
	if _, ok := st.records[model][id]; !ok {
		return fmt.Errorf("%s:%d: %w", model, id, entities.ErrRecordNotFound)
	}
	delete(st.records[model], id)

	kept := st.pivots[:0]
	for _, p := range st.pivots {
		if p.parentID == id || p.relatedID == id {
			continue
		}
		kept = append(kept, p)
	}
	st.pivots = kept
	return nil
}

func (r *RecordRepository) match(model string, filter *repositories.RecordFilter) ([]*entities.Record, error) {
	if filter == nil {
		filter = &repositories.RecordFilter{}
	}
	if len(filter.Conditions) > 0 {
		return nil, ErrConditionsUnsupported
	}

	var allowed map[int64]bool
	if filter.IDs != nil {
		allowed = make(map[int64]bool, len(filter.IDs))
		for _, id := range filter.IDs {
			allowed[id] = true
		}
	}
	excluded := make(map[int64]bool, len(filter.ExcludeIDs))
	for _, id := range filter.ExcludeIDs {
		excluded[id] = true
	}
	terms := repositories.SearchTerms(filter.Search, filter.SearchMode)

	r.store.mu.RLock()
	var matched []*entities.Record
	for id, rec := range r.store.s.records[model] {
		if allowed != nil && !allowed[id] {
			continue
		}
		if excluded[id] {
			continue
		}
		if !matchWhere(rec, filter.Where) {
			continue
		}
		if !matchSearch(rec, terms, filter.SearchColumns, filter.SearchMode) {
			continue
		}
		matched = append(matched, rec.Clone())
	}
	r.store.mu.RUnlock()

	sortRecords(matched, filter.OrderBy)
	return matched, nil
}

func matchWhere(rec *entities.Record, where map[string]any) bool {
	for attr, want := range where {
		got := rec.Get(attr)
		if want == nil {
			if got != nil {
				return false
			}
			continue
		}
		if got == nil || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func matchSearch(rec *entities.Record, terms, columns []string, mode string) bool {
	if len(terms) == 0 {
		return true
	}
	if len(columns) == 0 {
		return false
	}
	termMatches := func(term string) bool {
		term = strings.ToLower(term)
		for _, col := range columns {
			if v := rec.Get(col); v != nil && strings.Contains(strings.ToLower(fmt.Sprint(v)), term) {
				return true
			}
		}
		return false
	}
	if mode == "any" {
		for _, term := range terms {
			if termMatches(term) {
				return true
			}
		}
		return false
	}
	for _, term := range terms {
		if !termMatches(term) {
			return false
		}
	}
	return true
}

func sortRecords(records []*entities.Record, order []repositories.Sort) {
	sort.SliceStable(records, func(i, j int) bool {
		for _, o := range order {
			c := compareValues(columnValue(records[i], o.Column), columnValue(records[j], o.Column))
			if c == 0 {
				continue
			}
			if o.Desc {
				return c > 0
			}
			return c < 0
		}
		return records[i].ID < records[j].ID
	})
}

func columnValue(rec *entities.Record, column string) any {
	switch column {
	case "id":
		return rec.ID
	case "created_at":
		return rec.CreatedAt.UnixNano()
	case "updated_at":
		return rec.UpdatedAt.UnixNano()
	default:
		return rec.Get(column)
	}
}

func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
