package relation

import (
	"context"
	"fmt"

	"github.com/asakaida/relmanager/internal/entities"
)

// viewHandler renders the read side of a relation field.
type viewHandler struct {
	i   *Interaction
	ctx *entities.ViewContext
}

// toolbarButton is one toolbar entry; Handler completes "onRelationButton".
type toolbarButton struct {
	name         string
	handler      string
	label        string
	needsChecked bool
}

func defaultToolbarButtons(t entities.RelationType) []string {
	switch t {
	case entities.RelationHasMany, entities.RelationMorphMany:
		return []string{"create", "delete"}
	case entities.RelationBelongsToMany, entities.RelationMorphToMany, entities.RelationMorphedByMany:
		return []string{"create", "add", "remove"}
	case entities.RelationHasOne, entities.RelationMorphOne, entities.RelationBelongsTo:
		return []string{"create", "update", "link", "delete", "unlink"}
	default:
		return nil
	}
}

func (v *viewHandler) toolbar(ctx context.Context) ([]toolbarButton, error) {
	def := v.i.def
	if def.ReadOnly {
		return nil, nil
	}
	names := def.View.ToolbarButtons
	if len(names) == 0 {
		names = defaultToolbarButtons(def.Type)
	}

	hasRecord := false
	if v.ctx.Mode == entities.ViewModeSingle {
		rec, err := v.currentRecord(ctx)
		if err != nil {
			return nil, err
		}
		hasRecord = rec != nil
	}

	var buttons []toolbarButton
	for _, name := range names {
		if v.ctx.Mode == entities.ViewModeSingle {
			switch name {
			case "create", "link", "add":
				if hasRecord {
					continue
				}
			case "update", "delete", "unlink", "remove":
				if !hasRecord {
					continue
				}
			}
		}

		b := toolbarButton{name: name, handler: ArrayName(name)}
		switch name {
		case "create", "update", "add", "link":
			b.label = ArrayName(name) + " " + def.Label
		default:
			b.label = ArrayName(name)
			b.needsChecked = v.ctx.Mode == entities.ViewModeMulti
		}
		buttons = append(buttons, b)
	}
	return buttons, nil
}

// currentRecord returns the displayed record of a single view, or nil.
func (v *viewHandler) currentRecord(ctx context.Context) (*entities.Record, error) {
	ids, err := v.i.c.factory.CurrentIDs(ctx, v.i.widgetRequest())
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	found, err := v.i.c.repos.Records.FindMany(ctx, v.i.def.Related, ids[len(ids)-1:])
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", v.i.def.Name, err)
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}

// render renders the relation container: toolbar and view widget.
func (v *viewHandler) render(ctx context.Context) (string, error) {
	i := v.i
	buttons, err := v.toolbar(ctx)
	if err != nil {
		return "", err
	}
	buttonVars := make([]map[string]any, 0, len(buttons))
	for _, b := range buttons {
		buttonVars = append(buttonVars, map[string]any{
			"name":          b.name,
			"handler":       b.handler,
			"label":         b.label,
			"needs_checked": b.needsChecked,
		})
	}
	toolbar, err := i.c.renderer.Render("toolbar", map[string]any{
		"container_id": i.containerID(),
		"buttons":      buttonVars,
	})
	if err != nil {
		return "", err
	}

	w, err := i.c.factory.BuildViewWidget(ctx, i.widgetRequest())
	if err != nil {
		return "", err
	}
	body, err := w.Render(ctx)
	if err != nil {
		return "", err
	}
	if surface, ok := w.(*ListSurface); ok {
		body, err = prependToolbarWidgets(ctx, surface, body)
		if err != nil {
			return "", err
		}
	}

	return i.c.renderer.Render("container", map[string]any{
		"container_id":         i.containerID(),
		"field":                i.def.Name,
		"relation_session_key": i.relationSessionKey,
		"session_key":          i.sessionKey,
		"view_mode":            string(v.ctx.Mode),
		"toolbar":              toolbar,
		"view":                 body,
	})
}

func prependToolbarWidgets(ctx context.Context, surface *ListSurface, body string) (string, error) {
	prefix := ""
	if surface.Search != nil {
		html, err := surface.Search.Render(ctx)
		if err != nil {
			return "", err
		}
		prefix += html
	}
	if surface.Filter != nil {
		html, err := surface.Filter.Render(ctx)
		if err != nil {
			return "", err
		}
		prefix += html
	}
	return prefix + body, nil
}
