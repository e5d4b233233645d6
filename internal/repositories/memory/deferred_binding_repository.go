package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/repositories"
)

// DeferredBindingRepository implements repositories.DeferredBindingRepository on the memory store
type DeferredBindingRepository struct {
	store *Store
}

var _ repositories.DeferredBindingRepository = (*DeferredBindingRepository)(nil)

// Write stores a binding and assigns its ID
func (r *DeferredBindingRepository) Write(ctx context.Context, binding *entities.DeferredBinding) error {
	if err := binding.Validate(); err != nil {
		return fmt.Errorf("invalid deferred binding: %w", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	st := r.store.s
	st.nextBindingID++
	binding.ID = st.nextBindingID
	binding.CreatedAt = r.store.now()

	stored := *binding
	stored.PivotData = cloneMap(binding.PivotData)
	st.bindings[binding.ID] = &stored
	return nil
}

// Update replaces the pivot data of a binding
func (r *DeferredBindingRepository) Update(ctx context.Context, binding *entities.DeferredBinding) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, ok := r.store.s.bindings[binding.ID]
	if !ok {
		return fmt.Errorf("deferred binding %d: %w", binding.ID, entities.ErrRecordNotFound)
	}
	stored.PivotData = cloneMap(binding.PivotData)
	return nil
}

// Delete removes a binding by id
func (r *DeferredBindingRepository) Delete(ctx context.Context, id int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	delete(r.store.s.bindings, id)
	return nil
}

// Read retrieves bindings matching the filter, oldest first
func (r *DeferredBindingRepository) Read(ctx context.Context, filter *repositories.DeferredBindingFilter) ([]*entities.DeferredBinding, error) {
	if filter == nil || filter.SessionKey == "" {
		return nil, fmt.Errorf("session key is required")
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []*entities.DeferredBinding
	for _, b := range r.store.s.bindings {
		if !matchBinding(b, filter) {
			continue
		}
		c := *b
		c.PivotData = cloneMap(b.PivotData)
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Count counts bindings matching the filter
func (r *DeferredBindingRepository) Count(ctx context.Context, filter *repositories.DeferredBindingFilter) (int, error) {
	bindings, err := r.Read(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(bindings), nil
}

// DeleteOlderThan removes bindings created before t and returns them
func (r *DeferredBindingRepository) DeleteOlderThan(ctx context.Context, t time.Time) ([]*entities.DeferredBinding, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var removed []*entities.DeferredBinding
	for id, b := range r.store.s.bindings {
		if b.CreatedAt.Before(t) {
			removed = append(removed, b)
			delete(r.store.s.bindings, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed, nil
}

func matchBinding(b *entities.DeferredBinding, f *repositories.DeferredBindingFilter) bool {
	if b.SessionKey != f.SessionKey {
		return false
	}
	if f.MasterType != "" && b.MasterType != f.MasterType {
		return false
	}
	if f.MasterField != "" && b.MasterField != f.MasterField {
		return false
	}
	if f.SlaveType != "" && b.SlaveType != f.SlaveType {
		return false
	}
	if f.SlaveID != 0 && b.SlaveID != f.SlaveID {
		return false
	}
	return true
}
