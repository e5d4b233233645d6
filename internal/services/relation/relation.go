package relation

import (
	"context"
	"errors"
	"fmt"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/repositories"
)

// Repositories bundles the storage the relation services work on.
type Repositories struct {
	Records  repositories.RecordRepository
	Pivots   repositories.PivotRepository
	Bindings repositories.DeferredBindingRepository
	Tx       repositories.Transactor
}

// Relation links a parent record to the records of one relation field.
type Relation struct {
	def    *entities.RelationDefinition
	parent *entities.Record
	repos  Repositories
	binder *Binder
}

// NewRelation creates the relation object of def on parent. binder may be nil
// when mutations are never deferred.
func NewRelation(def *entities.RelationDefinition, parent *entities.Record, repos Repositories, binder *Binder) (*Relation, error) {
	if def == nil || parent == nil {
		return nil, fmt.Errorf("relation requires a definition and a parent record")
	}
	if !def.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", entities.ErrUnsupportedRelationType, def.Type)
	}
	if parent.Model != def.Model {
		return nil, fmt.Errorf("relation %s.%s cannot be used on a %s record", def.Model, def.Name, parent.Model)
	}
	return &Relation{def: def, parent: parent, repos: repos, binder: binder}, nil
}

// Definition returns the relation definition.
func (r *Relation) Definition() *entities.RelationDefinition { return r.def }

// Parent returns the parent record.
func (r *Relation) Parent() *entities.Record { return r.parent }

func (r *Relation) pivotKey() repositories.PivotKey {
	key := repositories.PivotKey{Table: r.def.Table}
	switch r.def.Type {
	case entities.RelationMorphToMany:
		key.MorphType = r.def.Model
	case entities.RelationMorphedByMany:
		key.MorphType = r.def.Related
		key.Inverse = true
	}
	return key
}

func (r *Relation) ownerWhere(filter *repositories.RecordFilter) {
	filter.SetWhere(r.def.Key, r.parent.ID)
	if col := r.def.MorphTypeColumn(); col != "" {
		filter.SetWhere(col, r.parent.Model)
	}
}

// RelatedIDs returns the ids currently linked in storage, ignoring deferred bindings.
func (r *Relation) RelatedIDs(ctx context.Context) ([]int64, error) {
	switch r.def.Type.Family() {
	case entities.FamilyParentKey:
		id, ok := r.parent.Int64(r.def.Key)
		if !ok || id == 0 {
			return []int64{}, nil
		}
		return []int64{id}, nil

	case entities.FamilyChildKey:
		if !r.parent.Exists() {
			return []int64{}, nil
		}
		filter := &repositories.RecordFilter{}
		r.ownerWhere(filter)
		records, err := r.repos.Records.List(ctx, r.def.Related, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", r.def.Name, err)
		}
		return entities.RecordIDs(records), nil

	case entities.FamilyPivot:
		if !r.parent.Exists() {
			return []int64{}, nil
		}
		rows, err := r.repos.Pivots.Read(ctx, r.pivotKey(), r.parent.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s pivots: %w", r.def.Name, err)
		}
		ids := make([]int64, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.RelatedID)
		}
		return ids, nil

	case entities.FamilyThrough:
		if !r.parent.Exists() {
			return []int64{}, nil
		}
		through, err := r.repos.Records.List(ctx, r.def.Through, &repositories.RecordFilter{
			Where: map[string]any{r.def.ThroughKey: r.parent.ID},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %s through %s: %w", r.def.Name, r.def.Through, err)
		}
		ids := []int64{}
		for _, t := range through {
			related, err := r.repos.Records.List(ctx, r.def.Related, &repositories.RecordFilter{
				Where: map[string]any{r.def.Key: t.ID},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to list %s: %w", r.def.Name, err)
			}
			ids = append(ids, entities.RecordIDs(related)...)
		}
		return ids, nil
	}
	return nil, fmt.Errorf("%w: %q", entities.ErrUnsupportedRelationType, r.def.Type)
}

// AddDefinedConstraints applies the built-in conditions and order of the relation.
func (r *Relation) AddDefinedConstraints(filter *repositories.RecordFilter) {
	if r.def.Conditions != "" {
		filter.Conditions = append(filter.Conditions, r.def.Conditions)
	}
	if sort := entities.ParseSortSpec(r.def.Order); !sort.IsZero() {
		filter.OrderBy = append(filter.OrderBy, repositories.Sort{Column: sort.Column, Desc: sort.Desc()})
	}
}

func (r *Relation) deferred(sessionKey string) bool {
	return sessionKey != ""
}

// Add links rec to the parent. With a session key the link is staged as a
// deferred binding instead. belongsTo only assigns the parent attribute; the
// caller persists the parent.
func (r *Relation) Add(ctx context.Context, rec *entities.Record, sessionKey string, pivotData map[string]any) error {
	if rec == nil || !rec.Exists() {
		return fmt.Errorf("cannot add an unsaved %s record to %s", r.def.Related, r.def.Name)
	}
	if r.def.Type.Family() == entities.FamilyThrough {
		return fmt.Errorf("%s: %w", r.def.Name, entities.ErrUnsupportedOperation)
	}
	if r.deferred(sessionKey) {
		if r.binder == nil {
			return fmt.Errorf("%s: deferred binding is not available", r.def.Name)
		}
		return r.binder.Bind(ctx, r.def, rec, sessionKey, pivotData)
	}

	switch r.def.Type.Family() {
	case entities.FamilyParentKey:
		r.parent.Set(r.def.Key, rec.ID)
		return nil

	case entities.FamilyChildKey:
		if !r.parent.Exists() {
			return fmt.Errorf("cannot add to %s of an unsaved %s", r.def.Name, r.def.Model)
		}
		if r.def.Type.IsSingular() {
			if err := r.clearSiblings(ctx, rec.ID); err != nil {
				return err
			}
		}
		rec.Set(r.def.Key, r.parent.ID)
		if col := r.def.MorphTypeColumn(); col != "" {
			rec.Set(col, r.parent.Model)
		}
		if err := r.repos.Records.Update(ctx, rec); err != nil {
			return fmt.Errorf("failed to add %s to %s: %w", rec, r.def.Name, err)
		}
		return nil

	case entities.FamilyPivot:
		if !r.parent.Exists() {
			return fmt.Errorf("cannot add to %s of an unsaved %s", r.def.Name, r.def.Model)
		}
		row := r.NewPivot(rec.ID, pivotData)
		if err := r.repos.Pivots.Attach(ctx, r.pivotKey(), []*entities.PivotRow{row}); err != nil {
			return fmt.Errorf("failed to attach %s to %s: %w", rec, r.def.Name, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", entities.ErrUnsupportedRelationType, r.def.Type)
}

// clearSiblings unlinks every other child of a singular relation.
func (r *Relation) clearSiblings(ctx context.Context, keepID int64) error {
	filter := &repositories.RecordFilter{ExcludeIDs: []int64{keepID}}
	r.ownerWhere(filter)
	siblings, err := r.repos.Records.List(ctx, r.def.Related, filter)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", r.def.Name, err)
	}
	for _, sibling := range siblings {
		r.unlinkChild(sibling)
		if err := r.repos.Records.Update(ctx, sibling); err != nil {
			return fmt.Errorf("failed to unlink %s from %s: %w", sibling, r.def.Name, err)
		}
	}
	return nil
}

func (r *Relation) unlinkChild(rec *entities.Record) {
	rec.Set(r.def.Key, nil)
	if col := r.def.MorphTypeColumn(); col != "" {
		rec.Set(col, nil)
	}
}

// Remove unlinks rec from the parent, or stages the removal under sessionKey.
func (r *Relation) Remove(ctx context.Context, rec *entities.Record, sessionKey string) error {
	if rec == nil || !rec.Exists() {
		return fmt.Errorf("cannot remove an unsaved %s record from %s", r.def.Related, r.def.Name)
	}
	if r.def.Type.Family() == entities.FamilyThrough {
		return fmt.Errorf("%s: %w", r.def.Name, entities.ErrUnsupportedOperation)
	}
	if r.deferred(sessionKey) {
		if r.binder == nil {
			return fmt.Errorf("%s: deferred binding is not available", r.def.Name)
		}
		return r.binder.Unbind(ctx, r.def, rec, sessionKey)
	}

	switch r.def.Type.Family() {
	case entities.FamilyParentKey:
		if id, ok := r.parent.Int64(r.def.Key); ok && id == rec.ID {
			r.parent.Set(r.def.Key, nil)
		}
		return nil

	case entities.FamilyChildKey:
		if id, ok := rec.Int64(r.def.Key); !ok || id != r.parent.ID {
			return nil
		}
		r.unlinkChild(rec)
		if err := r.repos.Records.Update(ctx, rec); err != nil {
			return fmt.Errorf("failed to remove %s from %s: %w", rec, r.def.Name, err)
		}
		return nil

	case entities.FamilyPivot:
		if err := r.repos.Pivots.Detach(ctx, r.pivotKey(), r.parent.ID, []int64{rec.ID}); err != nil {
			return fmt.Errorf("failed to detach %s from %s: %w", rec, r.def.Name, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", entities.ErrUnsupportedRelationType, r.def.Type)
}

// Dissociate clears the foreign key of a belongsTo relation on the parent.
func (r *Relation) Dissociate() error {
	if r.def.Type != entities.RelationBelongsTo {
		return fmt.Errorf("%s: dissociate needs belongsTo: %w", r.def.Name, entities.ErrUnsupportedOperation)
	}
	r.parent.Set(r.def.Key, nil)
	return nil
}

// Sync attaches ids that are not linked yet and, when detaching is set, detaches
// linked ids that are not in ids. It returns the newly attached ids.
func (r *Relation) Sync(ctx context.Context, ids []int64, detaching bool) ([]int64, error) {
	if r.def.Type.Family() != entities.FamilyPivot {
		return nil, fmt.Errorf("%s: sync needs a many-to-many relation: %w", r.def.Name, entities.ErrUnsupportedOperation)
	}
	if !r.parent.Exists() {
		return nil, fmt.Errorf("cannot sync %s of an unsaved %s", r.def.Name, r.def.Model)
	}

	current, err := r.RelatedIDs(ctx)
	if err != nil {
		return nil, err
	}
	linked := make(map[int64]bool, len(current))
	for _, id := range current {
		linked[id] = true
	}
	wanted := make(map[int64]bool, len(ids))

	var rows []*entities.PivotRow
	var attached []int64
	for _, id := range ids {
		if wanted[id] {
			continue
		}
		wanted[id] = true
		if !linked[id] {
			rows = append(rows, r.NewPivot(id, nil))
			attached = append(attached, id)
		}
	}
	if len(rows) > 0 {
		if err := r.repos.Pivots.Attach(ctx, r.pivotKey(), rows); err != nil {
			return nil, fmt.Errorf("failed to attach %s: %w", r.def.Name, err)
		}
	}

	if detaching {
		var stale []int64
		for _, id := range current {
			if !wanted[id] {
				stale = append(stale, id)
			}
		}
		if len(stale) > 0 {
			if err := r.repos.Pivots.Detach(ctx, r.pivotKey(), r.parent.ID, stale); err != nil {
				return nil, fmt.Errorf("failed to detach %s: %w", r.def.Name, err)
			}
		}
	}
	return attached, nil
}

// NewPivot returns an unsaved pivot row from the parent to relatedID.
func (r *Relation) NewPivot(relatedID int64, data map[string]any) *entities.PivotRow {
	return &entities.PivotRow{OwnerID: r.parent.ID, RelatedID: relatedID, Data: r.pivotColumns(data)}
}

// FindPivot loads the pivot row of relatedID.
func (r *Relation) FindPivot(ctx context.Context, relatedID int64) (*entities.PivotRow, error) {
	if r.def.Type.Family() != entities.FamilyPivot {
		return nil, fmt.Errorf("%s: %w", r.def.Name, entities.ErrUnsupportedOperation)
	}
	row, err := r.repos.Pivots.Find(ctx, r.pivotKey(), r.parent.ID, relatedID)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s pivot %d: %w", r.def.Name, relatedID, err)
	}
	return row, nil
}

// SavePivot persists the data of an existing pivot row.
func (r *Relation) SavePivot(ctx context.Context, row *entities.PivotRow) error {
	if r.def.Type.Family() != entities.FamilyPivot {
		return fmt.Errorf("%s: %w", r.def.Name, entities.ErrUnsupportedOperation)
	}
	row.Data = r.pivotColumns(row.Data)
	if err := r.repos.Pivots.Update(ctx, r.pivotKey(), row); err != nil {
		return fmt.Errorf("failed to save %s pivot %d: %w", r.def.Name, row.RelatedID, err)
	}
	return nil
}

// pivotColumns keeps the declared pivot columns of data. Without declared
// columns every value is kept.
func (r *Relation) pivotColumns(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	if len(r.def.PivotData) == 0 {
		out := make(map[string]any, len(data))
		for k, v := range data {
			out[k] = v
		}
		return out
	}
	out := make(map[string]any, len(r.def.PivotData))
	for _, col := range r.def.PivotData {
		if v, ok := data[col]; ok {
			out[col] = v
		}
	}
	return out
}

// isNotFound reports whether err means a record no longer exists.
func isNotFound(err error) bool {
	return errors.Is(err, entities.ErrRecordNotFound)
}
