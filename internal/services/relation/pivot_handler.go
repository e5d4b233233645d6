package relation

import (
	"context"
	"fmt"
	"strconv"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/google/uuid"
)

// pivotHandler runs the pivot data actions of many-to-many relations.
type pivotHandler struct {
	i   *Interaction
	ctx *entities.ManageContext
}

func noSelection() error {
	verr := entities.NewValidationError()
	verr.Add(FieldForeignID, "Please select at least one record.")
	return verr
}

func (p *pivotHandler) form(ctx context.Context) (*Response, error) {
	i := p.i
	if !p.ctx.HasID() && len(p.ctx.ForeignIDs) == 0 {
		return nil, noSelection()
	}
	i.relationSessionKey = uuid.NewString()

	form, err := i.c.factory.BuildPivotWidget(ctx, i.widgetRequest())
	if err != nil {
		return nil, err
	}
	body, err := form.Render(ctx)
	if err != nil {
		return nil, err
	}

	vars := map[string]any{
		"container_id":         i.containerID(),
		"field":                i.def.Name,
		"relation_session_key": i.relationSessionKey,
		"label":                i.def.Label,
		"widget":               body,
		"foreign_ids":          p.ctx.ForeignIDs,
	}
	if p.ctx.HasID() {
		vars["manage_id"] = strconv.FormatInt(p.ctx.ID, 10)
	}
	html, err := i.c.renderer.Render("pivot_form", vars)
	if err != nil {
		return nil, err
	}
	return &Response{HTML: html}, nil
}

// create attaches the selected records and saves the posted pivot data on
// each new row. Every step runs in one transaction.
func (p *pivotHandler) create(ctx context.Context) (*Response, error) {
	i := p.i
	ids := p.ctx.ForeignIDs
	if len(ids) == 0 {
		return nil, noSelection()
	}

	p.ctx.ID = 0
	form, err := i.c.factory.BuildPivotWidget(ctx, i.widgetRequest())
	if err != nil {
		return nil, err
	}
	data, err := form.GetSaveData(i.req.Post)
	if err != nil {
		return nil, err
	}

	found, err := i.c.repos.Records.FindMany(ctx, i.def.Related, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", i.def.Related, err)
	}
	if len(found) != len(ids) {
		for _, id := range ids {
			if !containsID(entities.RecordIDs(found), id) {
				return nil, fmt.Errorf("%s %d: %w", i.def.Related, id, entities.ErrRecordNotFound)
			}
		}
	}

	key := i.deferredKey()
	err = i.withinTx(ctx, func(ctx context.Context) error {
		if key != "" {
			for _, rec := range found {
				if err := i.rel.Add(ctx, rec, key, data); err != nil {
					return err
				}
			}
			return nil
		}

		if _, err := i.rel.Sync(ctx, ids, false); err != nil {
			return err
		}
		for _, id := range ids {
			row, err := i.rel.FindPivot(ctx, id)
			if err != nil {
				return err
			}
			row.Data = mergeData(row.Data, data)
			if err := i.rel.SavePivot(ctx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return i.refresh(ctx, i.def.Label+" added", true)
}

func (p *pivotHandler) update(ctx context.Context) (*Response, error) {
	i := p.i
	if !p.ctx.HasID() {
		return nil, fmt.Errorf("no %s selected: %w", i.def.Related, entities.ErrRecordNotFound)
	}

	form, err := i.c.factory.BuildPivotWidget(ctx, i.widgetRequest())
	if err != nil {
		return nil, err
	}
	data, err := form.GetSaveData(i.req.Post)
	if err != nil {
		return nil, err
	}

	key := i.deferredKey()
	staged, ok, err := i.c.binder.PendingPivotData(ctx, i.def, p.ctx.ID, key)
	if err != nil {
		return nil, err
	}
	if ok {
		slave := &entities.Record{Model: i.def.Related, ID: p.ctx.ID}
		if err := i.c.binder.Bind(ctx, i.def, slave, key, mergeData(staged, data)); err != nil {
			return nil, err
		}
		return i.refresh(ctx, i.def.Label+" updated", true)
	}

	row, err := i.rel.FindPivot(ctx, p.ctx.ID)
	if err != nil {
		return nil, err
	}
	row.Data = mergeData(row.Data, data)
	if err := i.rel.SavePivot(ctx, row); err != nil {
		return nil, err
	}
	return i.refresh(ctx, i.def.Label+" updated", true)
}

func mergeData(base, changes map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(changes))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range changes {
		out[k] = v
	}
	return out
}
