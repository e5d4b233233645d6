package relation

import (
	"context"
	"fmt"
	"strconv"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/services/widgets"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// manageHandler runs the manage popup actions.
type manageHandler struct {
	i    *Interaction
	ctx  *entities.ManageContext
	view *entities.ViewContext
}

func (m *manageHandler) form(ctx context.Context) (*Response, error) {
	if m.ctx.Mode == entities.ManageModePivot && m.ctx.HasID() {
		return m.i.pivot.form(ctx)
	}

	i := m.i
	i.relationSessionKey = uuid.NewString()

	w, err := i.c.factory.BuildManageWidget(ctx, i.widgetRequest())
	if err != nil {
		return nil, err
	}
	if w == nil {
		return &Response{}, nil
	}

	body, err := w.Render(ctx)
	if err != nil {
		return nil, err
	}
	vars := map[string]any{
		"container_id":         i.containerID(),
		"field":                i.def.Name,
		"relation_session_key": i.relationSessionKey,
		"session_key":          i.sessionKey,
		"label":                i.def.Label,
		"widget":               body,
	}

	partial := "manage_form"
	if surface, ok := w.(*ListSurface); ok {
		partial = "manage_list"
		if m.ctx.Mode == entities.ManageModePivot {
			partial = "manage_pivot"
		}
		vars["multi"] = m.ctx.Mode == entities.ManageModeList && m.view.Mode == entities.ViewModeMulti
		vars["search"], vars["filter"] = "", ""
		if surface.Search != nil {
			if vars["search"], err = surface.Search.Render(ctx); err != nil {
				return nil, err
			}
		}
		if surface.Filter != nil {
			if vars["filter"], err = surface.Filter.Render(ctx); err != nil {
				return nil, err
			}
		}
	} else if m.ctx.HasID() {
		vars["manage_id"] = strconv.FormatInt(m.ctx.ID, 10)
	}

	html, err := i.c.renderer.Render(partial, vars)
	if err != nil {
		return nil, err
	}
	return &Response{HTML: html}, nil
}

// formWidget forces form mode and builds the manage form.
func (m *manageHandler) formWidget(ctx context.Context) (*widgets.FormWidget, error) {
	if err := m.i.forceManageMode(entities.ManageModeForm); err != nil {
		return nil, err
	}
	w, err := m.i.c.factory.BuildManageWidget(ctx, m.i.widgetRequest())
	if err != nil {
		return nil, err
	}
	form, ok := w.(*widgets.FormWidget)
	if !ok {
		return nil, fmt.Errorf("%w: %q posted for a form action", entities.ErrInvalidManageMode, m.ctx.Mode)
	}
	return form, nil
}

func (m *manageHandler) create(ctx context.Context) (*Response, error) {
	i := m.i
	m.ctx.ID = 0
	form, err := m.formWidget(ctx)
	if err != nil {
		return nil, err
	}
	data, err := form.GetSaveData(i.req.Post)
	if err != nil {
		return nil, err
	}

	rec := form.Record()
	rec.Fill(data)
	key := i.deferredKey()
	err = i.withinTx(ctx, func(ctx context.Context) error {
		if err := i.c.repos.Records.Create(ctx, rec); err != nil {
			return fmt.Errorf("failed to create %s: %w", i.def.Related, err)
		}
		if err := i.rel.Add(ctx, rec, key, nil); err != nil {
			return err
		}
		return i.persistParent(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return i.refresh(ctx, i.def.Label+" created", true)
}

func (m *manageHandler) update(ctx context.Context) (*Response, error) {
	i := m.i
	if m.ctx.Mode == entities.ManageModePivot {
		return i.pivot.update(ctx)
	}
	if !m.ctx.HasID() {
		return nil, fmt.Errorf("no %s selected: %w", i.def.Related, entities.ErrRecordNotFound)
	}

	form, err := m.formWidget(ctx)
	if err != nil {
		return nil, err
	}
	data, err := form.GetSaveData(i.req.Post)
	if err != nil {
		return nil, err
	}

	rec := form.Record()
	rec.Fill(data)
	if err := i.c.repos.Records.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", rec, err)
	}
	return i.refresh(ctx, i.def.Label+" updated", true)
}

func (m *manageHandler) checkedIDs() []int64 {
	return postIDs(m.i.req.Post, "checked[]", "checked")
}

// batch runs fn for each record of ids that still exists. Ids that no longer
// resolve, or whose step fails, are skipped and returned.
func (m *manageHandler) batch(ctx context.Context, ids []int64, fn func(ctx context.Context, rec *entities.Record) error) []int64 {
	i := m.i
	var skipped []int64
	for _, id := range ids {
		err := i.withinTx(ctx, func(ctx context.Context) error {
			rec, err := i.c.repos.Records.Find(ctx, i.def.Related, id)
			if err != nil {
				return err
			}
			return fn(ctx, rec)
		})
		if err != nil {
			if !isNotFound(err) {
				i.c.logger.Warn("batch step failed",
					zap.String("field", i.def.Name),
					zap.Int64("id", id),
					zap.Error(err))
			}
			skipped = append(skipped, id)
		}
	}
	return skipped
}

func (m *manageHandler) delete(ctx context.Context) (*Response, error) {
	i := m.i
	key := i.deferredKey()

	if m.view.Mode == entities.ViewModeMulti {
		skipped := m.batch(ctx, m.checkedIDs(), func(ctx context.Context, rec *entities.Record) error {
			return i.c.repos.Records.Delete(ctx, rec.Model, rec.ID)
		})
		resp, err := i.refresh(ctx, "Deleted", false)
		if err != nil {
			return nil, err
		}
		resp.Skipped = skipped
		return resp, nil
	}

	rec, err := i.view.currentRecord(ctx)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		err = i.withinTx(ctx, func(ctx context.Context) error {
			if i.def.Type == entities.RelationBelongsTo {
				if err := i.rel.Remove(ctx, rec, key); err != nil {
					return err
				}
				if err := i.persistParent(ctx, key); err != nil {
					return err
				}
			}
			return i.c.repos.Records.Delete(ctx, rec.Model, rec.ID)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to delete %s: %w", rec, err)
		}
	}
	return i.refresh(ctx, "Deleted", false)
}

func (m *manageHandler) add(ctx context.Context) (*Response, error) {
	i := m.i
	key := i.deferredKey()

	if m.view.Mode == entities.ViewModeMulti {
		current, err := i.c.factory.CurrentIDs(ctx, i.widgetRequest())
		if err != nil {
			return nil, err
		}
		var ids []int64
		for _, id := range m.checkedIDs() {
			if !containsID(current, id) {
				ids = append(ids, id)
			}
		}
		skipped := m.batch(ctx, ids, func(ctx context.Context, rec *entities.Record) error {
			return i.rel.Add(ctx, rec, key, nil)
		})
		resp, err := i.refresh(ctx, "Added", true)
		if err != nil {
			return nil, err
		}
		resp.Skipped = skipped
		return resp, nil
	}

	id := postInt64(i.req.Post, FieldRecordID)
	if id == 0 {
		id = m.ctx.ID
	}
	if id == 0 {
		return nil, fmt.Errorf("no %s selected: %w", i.def.Related, entities.ErrRecordNotFound)
	}
	rec, err := i.c.repos.Records.Find(ctx, i.def.Related, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s %d: %w", i.def.Related, id, err)
	}
	err = i.withinTx(ctx, func(ctx context.Context) error {
		if err := i.rel.Add(ctx, rec, key, nil); err != nil {
			return err
		}
		return i.persistParent(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return i.refresh(ctx, "Linked", true)
}

func (m *manageHandler) remove(ctx context.Context) (*Response, error) {
	i := m.i
	key := i.deferredKey()

	if m.view.Mode == entities.ViewModeMulti {
		skipped := m.batch(ctx, m.checkedIDs(), func(ctx context.Context, rec *entities.Record) error {
			return i.rel.Remove(ctx, rec, key)
		})
		resp, err := i.refresh(ctx, "Removed", false)
		if err != nil {
			return nil, err
		}
		resp.Skipped = skipped
		return resp, nil
	}

	var rec *entities.Record
	if id := postInt64(i.req.Post, FieldRecordID); id != 0 && i.def.Type != entities.RelationBelongsTo {
		found, err := i.c.repos.Records.Find(ctx, i.def.Related, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s %d: %w", i.def.Related, id, err)
		}
		rec = found
	} else {
		current, err := i.view.currentRecord(ctx)
		if err != nil {
			return nil, err
		}
		rec = current
	}

	err := i.withinTx(ctx, func(ctx context.Context) error {
		if i.def.Type == entities.RelationBelongsTo && key == "" {
			if err := i.rel.Dissociate(); err != nil {
				return err
			}
			return i.persistParent(ctx, key)
		}
		if rec == nil {
			return nil
		}
		return i.rel.Remove(ctx, rec, key)
	})
	if err != nil {
		return nil, err
	}
	return i.refresh(ctx, "Unlinked", false)
}
