package relation

import (
	"context"
	"fmt"
	"time"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/repositories"
	"go.uber.org/zap"
)

// DefinitionSource resolves relation definitions by parent model and field.
type DefinitionSource interface {
	Definition(ctx context.Context, model, field string) (*entities.RelationDefinition, error)
}

// Binder stages relation mutations of unsaved forms under a session key and
// replays them when the parent is saved.
type Binder struct {
	repos  Repositories
	defs   DefinitionSource
	logger *zap.Logger
}

// NewBinder creates a binder.
func NewBinder(repos Repositories, defs DefinitionSource, logger *zap.Logger) *Binder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binder{repos: repos, defs: defs, logger: logger}
}

func (b *Binder) pending(ctx context.Context, def *entities.RelationDefinition, slaveID int64, sessionKey string) ([]*entities.DeferredBinding, error) {
	bindings, err := b.repos.Bindings.Read(ctx, &repositories.DeferredBindingFilter{
		SessionKey:  sessionKey,
		MasterType:  def.Model,
		MasterField: def.Name,
		SlaveType:   def.Related,
		SlaveID:     slaveID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read deferred bindings: %w", err)
	}
	return bindings, nil
}

// Bind stages adding slave to the relation. A pending removal of the same
// record is cancelled instead; a pending add only has its pivot data refreshed.
func (b *Binder) Bind(ctx context.Context, def *entities.RelationDefinition, slave *entities.Record, sessionKey string, pivotData map[string]any) error {
	return b.stage(ctx, def, slave, sessionKey, true, pivotData)
}

// Unbind stages removing slave from the relation. A pending add of the same
// record is cancelled instead.
func (b *Binder) Unbind(ctx context.Context, def *entities.RelationDefinition, slave *entities.Record, sessionKey string) error {
	return b.stage(ctx, def, slave, sessionKey, false, nil)
}

func (b *Binder) stage(ctx context.Context, def *entities.RelationDefinition, slave *entities.Record, sessionKey string, bind bool, pivotData map[string]any) error {
	if sessionKey == "" {
		return fmt.Errorf("deferred binding requires a session key")
	}
	existing, err := b.pending(ctx, def, slave.ID, sessionKey)
	if err != nil {
		return err
	}

	for _, e := range existing {
		if e.IsBind == bind {
			if bind && pivotData != nil {
				e.PivotData = pivotData
				if err := b.repos.Bindings.Update(ctx, e); err != nil {
					return fmt.Errorf("failed to update deferred binding: %w", err)
				}
			}
			return nil
		}
	}
	for _, e := range existing {
		if err := b.repos.Bindings.Delete(ctx, e.ID); err != nil {
			return fmt.Errorf("failed to cancel deferred binding: %w", err)
		}
		b.logger.Debug("cancelled deferred binding", zap.Stringer("binding", e))
	}
	if len(existing) > 0 {
		return nil
	}

	// A singular relation holds one pending add at a time.
	if bind && def.Type.IsSingular() {
		binds, err := b.repos.Bindings.Read(ctx, &repositories.DeferredBindingFilter{
			SessionKey: sessionKey, MasterType: def.Model, MasterField: def.Name,
		})
		if err != nil {
			return fmt.Errorf("failed to read deferred bindings: %w", err)
		}
		for _, e := range binds {
			if e.IsBind {
				if err := b.repos.Bindings.Delete(ctx, e.ID); err != nil {
					return fmt.Errorf("failed to replace deferred binding: %w", err)
				}
			}
		}
	}

	binding := &entities.DeferredBinding{
		MasterType:  def.Model,
		MasterField: def.Name,
		SlaveType:   def.Related,
		SlaveID:     slave.ID,
		PivotData:   pivotData,
		SessionKey:  sessionKey,
		IsBind:      bind,
	}
	if err := b.repos.Bindings.Write(ctx, binding); err != nil {
		return fmt.Errorf("failed to write deferred binding: %w", err)
	}
	b.logger.Debug("staged deferred binding", zap.Stringer("binding", binding))
	return nil
}

// Count returns the number of pending bindings of one relation field.
func (b *Binder) Count(ctx context.Context, def *entities.RelationDefinition, sessionKey string) (int, error) {
	if sessionKey == "" {
		return 0, nil
	}
	n, err := b.repos.Bindings.Count(ctx, &repositories.DeferredBindingFilter{
		SessionKey: sessionKey, MasterType: def.Model, MasterField: def.Name,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count deferred bindings: %w", err)
	}
	return n, nil
}

// PendingPivotData returns the pivot data staged for slaveID, if any.
func (b *Binder) PendingPivotData(ctx context.Context, def *entities.RelationDefinition, slaveID int64, sessionKey string) (map[string]any, bool, error) {
	if sessionKey == "" {
		return nil, false, nil
	}
	existing, err := b.pending(ctx, def, slaveID, sessionKey)
	if err != nil {
		return nil, false, err
	}
	for _, e := range existing {
		if e.IsBind {
			return e.PivotData, true, nil
		}
	}
	return nil, false, nil
}

// WithDeferred applies the pending bindings of sessionKey to ids. Bindings of
// other sessions are never visible.
func (b *Binder) WithDeferred(ctx context.Context, ids []int64, def *entities.RelationDefinition, sessionKey string) ([]int64, error) {
	result := append([]int64{}, ids...)
	if sessionKey == "" {
		return result, nil
	}
	bindings, err := b.repos.Bindings.Read(ctx, &repositories.DeferredBindingFilter{
		SessionKey: sessionKey, MasterType: def.Model, MasterField: def.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read deferred bindings: %w", err)
	}

	for _, binding := range bindings {
		if binding.IsBind {
			if def.Type.IsSingular() {
				result = result[:0]
			}
			if !containsID(result, binding.SlaveID) {
				result = append(result, binding.SlaveID)
			}
			continue
		}
		result = removeID(result, binding.SlaveID)
	}
	return result, nil
}

// Commit replays the bindings of sessionKey on parent in creation order and
// deletes them. The parent must be saved; it is updated again when a
// belongsTo binding changed its attributes. Run it inside the parent save
// transaction.
func (b *Binder) Commit(ctx context.Context, parent *entities.Record, sessionKey string) error {
	if sessionKey == "" {
		return nil
	}
	if !parent.Exists() {
		return fmt.Errorf("cannot commit deferred bindings of an unsaved %s", parent.Model)
	}
	bindings, err := b.repos.Bindings.Read(ctx, &repositories.DeferredBindingFilter{
		SessionKey: sessionKey, MasterType: parent.Model,
	})
	if err != nil {
		return fmt.Errorf("failed to read deferred bindings: %w", err)
	}

	parentDirty := false
	relations := make(map[string]*Relation)
	for _, binding := range bindings {
		rel, ok := relations[binding.MasterField]
		if !ok {
			def, err := b.defs.Definition(ctx, parent.Model, binding.MasterField)
			if err != nil {
				return fmt.Errorf("failed to resolve %s: %w", binding, err)
			}
			rel, err = NewRelation(def, parent, b.repos, b)
			if err != nil {
				return err
			}
			relations[binding.MasterField] = rel
		}

		slave, err := b.repos.Records.Find(ctx, binding.SlaveType, binding.SlaveID)
		switch {
		case isNotFound(err):
			b.logger.Info("dropping deferred binding of a deleted record", zap.Stringer("binding", binding))
		case err != nil:
			return fmt.Errorf("failed to load %s: %w", binding, err)
		case binding.IsBind:
			if err := rel.Add(ctx, slave, "", binding.PivotData); err != nil {
				return fmt.Errorf("failed to commit %s: %w", binding, err)
			}
		default:
			if err := rel.Remove(ctx, slave, ""); err != nil {
				return fmt.Errorf("failed to commit %s: %w", binding, err)
			}
		}
		if rel.def.Type.Family() == entities.FamilyParentKey {
			parentDirty = true
		}

		if err := b.repos.Bindings.Delete(ctx, binding.ID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", binding, err)
		}
	}

	if parentDirty {
		if err := b.repos.Records.Update(ctx, parent); err != nil {
			return fmt.Errorf("failed to save %s: %w", parent, err)
		}
	}
	b.logger.Debug("committed deferred bindings",
		zap.Stringer("parent", parent),
		zap.Int("bindings", len(bindings)))
	return nil
}

// Cancel discards the bindings of sessionKey for masterType and deletes the
// records created for them that never got linked.
func (b *Binder) Cancel(ctx context.Context, masterType, sessionKey string) error {
	if sessionKey == "" {
		return nil
	}
	bindings, err := b.repos.Bindings.Read(ctx, &repositories.DeferredBindingFilter{
		SessionKey: sessionKey, MasterType: masterType,
	})
	if err != nil {
		return fmt.Errorf("failed to read deferred bindings: %w", err)
	}
	for _, binding := range bindings {
		if err := b.repos.Bindings.Delete(ctx, binding.ID); err != nil {
			return fmt.Errorf("failed to delete %s: %w", binding, err)
		}
		if err := b.discardOrphan(ctx, binding); err != nil {
			return err
		}
	}
	return nil
}

// CleanUp removes bindings created before olderThan along with their orphaned
// records and returns how many bindings were removed.
func (b *Binder) CleanUp(ctx context.Context, olderThan time.Time) (int, error) {
	removed, err := b.repos.Bindings.DeleteOlderThan(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale deferred bindings: %w", err)
	}
	for _, binding := range removed {
		if err := b.discardOrphan(ctx, binding); err != nil {
			return 0, err
		}
	}
	if len(removed) > 0 {
		b.logger.Info("cleaned up stale deferred bindings",
			zap.Int("count", len(removed)),
			zap.Time("older_than", olderThan))
	}
	return len(removed), nil
}

// discardOrphan deletes the slave of a pending add to a child-keyed relation
// when the slave is not linked to any parent.
func (b *Binder) discardOrphan(ctx context.Context, binding *entities.DeferredBinding) error {
	if !binding.IsBind {
		return nil
	}
	def, err := b.defs.Definition(ctx, binding.MasterType, binding.MasterField)
	if err != nil {
		b.logger.Warn("skipping orphan check of an undeclared relation", zap.Stringer("binding", binding), zap.Error(err))
		return nil
	}
	if def.Type.Family() != entities.FamilyChildKey {
		return nil
	}

	slave, err := b.repos.Records.Find(ctx, binding.SlaveType, binding.SlaveID)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", binding, err)
	}
	if id, ok := slave.Int64(def.Key); ok && id != 0 {
		return nil
	}
	if err := b.repos.Records.Delete(ctx, slave.Model, slave.ID); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete orphaned %s: %w", slave, err)
	}
	b.logger.Debug("deleted orphaned record", zap.Stringer("record", slave))
	return nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
