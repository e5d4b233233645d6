package widgets

import (
	"context"
	"fmt"
	"sort"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/repositories"
)

// FilterWidget toggles attribute scopes on a list.
type FilterWidget struct {
	alias    string
	scopes   []entities.FilterScope
	active   map[string]bool
	renderer Renderer
	update   []RefreshHook
}

var _ Widget = (*FilterWidget)(nil)

// NewFilterWidget creates a filter over the scopes of def.
func NewFilterWidget(alias string, def *entities.FilterDefinition, renderer Renderer) *FilterWidget {
	w := &FilterWidget{alias: alias, active: make(map[string]bool), renderer: renderer}
	if def != nil {
		w.scopes = append(w.scopes, def.Scopes...)
	}
	return w
}

// Alias returns the widget alias.
func (w *FilterWidget) Alias() string { return w.alias }

// BindEvent subscribes hook to filter.update.
func (w *FilterWidget) BindEvent(event string, hook RefreshHook) error {
	if event != EventFilterUpdate {
		return unknownEvent("filter", event)
	}
	w.update = append(w.update, hook)
	return nil
}

// SetScopeValue activates or clears a scope without notifying subscribers.
func (w *FilterWidget) SetScopeValue(name string, active bool) error {
	if _, ok := w.scope(name); !ok {
		return fmt.Errorf("unknown filter scope %q", name)
	}
	if active {
		w.active[name] = true
	} else {
		delete(w.active, name)
	}
	return nil
}

// Update changes a scope and notifies subscribers.
func (w *FilterWidget) Update(ctx context.Context, name string, active bool) error {
	if err := w.SetScopeValue(name, active); err != nil {
		return err
	}
	return fire(ctx, w.update)
}

// ActiveScopes returns the names of active scopes in sorted order.
func (w *FilterWidget) ActiveScopes() []string {
	names := make([]string, 0, len(w.active))
	for name := range w.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyScopes adds the constraints of every active scope to filter.
func (w *FilterWidget) ApplyScopes(filter *repositories.RecordFilter) {
	for _, s := range w.scopes {
		if w.active[s.Name] {
			filter.SetWhere(s.Attribute, s.Value)
		}
	}
}

func (w *FilterWidget) scope(name string) (entities.FilterScope, bool) {
	for _, s := range w.scopes {
		if s.Name == name {
			return s, true
		}
	}
	return entities.FilterScope{}, false
}

// Render renders the scope toggles.
func (w *FilterWidget) Render(ctx context.Context) (string, error) {
	scopes := make([]map[string]any, 0, len(w.scopes))
	for _, s := range w.scopes {
		label := s.Label
		if label == "" {
			label = s.Name
		}
		scopes = append(scopes, map[string]any{
			"name":   s.Name,
			"label":  label,
			"active": w.active[s.Name],
		})
	}
	return w.renderer.Render("widgets/filter", map[string]any{
		"alias":  w.alias,
		"scopes": scopes,
	})
}
