// Package memory implements the repositories on in-process maps. It backs the
// development server (STORAGE_DRIVER=memory) and the behavioural tests.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/asakaida/relmanager/internal/entities"
)

// ErrConditionsUnsupported is returned for filters carrying raw SQL conditions.
var ErrConditionsUnsupported = errors.New("memory store: raw SQL conditions are not supported")

type pivotRecord struct {
	table      string
	parentType string
	parentID   int64
	relatedID  int64
	data       map[string]any
	createdAt  time.Time
}

type state struct {
	records       map[string]map[int64]*entities.Record
	pivots        []*pivotRecord
	bindings      map[int64]*entities.DeferredBinding
	nextRecordID  int64
	nextBindingID int64
}

// Store holds every table of the memory backend.
type Store struct {
	mu   sync.RWMutex
	txMu sync.Mutex
	s    *state
	now  func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		s: &state{
			records:  make(map[string]map[int64]*entities.Record),
			bindings: make(map[int64]*entities.DeferredBinding),
		},
		now: time.Now,
	}
}

// Records returns the record repository view of the store.
func (s *Store) Records() *RecordRepository {
	return &RecordRepository{store: s}
}

// Pivots returns the pivot repository view of the store.
func (s *Store) Pivots() *PivotRepository {
	return &PivotRepository{store: s}
}

// DeferredBindings returns the deferred binding repository view of the store.
func (s *Store) DeferredBindings() *DeferredBindingRepository {
	return &DeferredBindingRepository{store: s}
}

type txKey struct{}

// WithinTx snapshots the store, runs fn and restores the snapshot when fn fails.
// Transactions are serialised; writes made outside a transaction while one is
// running are lost if that transaction rolls back.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	snapshot := s.s.clone()
	s.mu.RUnlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.s = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (st *state) clone() *state {
	c := &state{
		records:       make(map[string]map[int64]*entities.Record, len(st.records)),
		pivots:        make([]*pivotRecord, 0, len(st.pivots)),
		bindings:      make(map[int64]*entities.DeferredBinding, len(st.bindings)),
		nextRecordID:  st.nextRecordID,
		nextBindingID: st.nextBindingID,
	}
	for model, rows := range st.records {
		m := make(map[int64]*entities.Record, len(rows))
		for id, r := range rows {
			m[id] = r.Clone()
		}
		c.records[model] = m
	}
	for _, p := range st.pivots {
		cp := *p
		cp.data = cloneMap(p.data)
		c.pivots = append(c.pivots, &cp)
	}
	for id, b := range st.bindings {
		cb := *b
		cb.PivotData = cloneMap(b.PivotData)
		c.bindings[id] = &cb
	}
	return c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
