// Package widgets implements the presentation widgets a relation field is
// built from: a record grid, a record form, a search box and a scope filter.
package widgets

import (
	"context"
	"fmt"

	"github.com/asakaida/relmanager/internal/repositories"
)

// Event names accepted by BindEvent.
const (
	// EventListExtendQueryBefore runs before search and filter constraints are applied.
	EventListExtendQueryBefore = "list.extendQueryBefore"
	// EventListExtendQuery runs after every other constraint.
	EventListExtendQuery = "list.extendQuery"
	// EventSearchSubmit fires when a search term is submitted.
	EventSearchSubmit = "search.submit"
	// EventFilterUpdate fires when a filter scope changes.
	EventFilterUpdate = "filter.update"
)

// Renderer resolves a named partial to HTML.
type Renderer interface {
	Render(name string, vars map[string]any) (string, error)
}

// Widget is a renderable presentation surface.
type Widget interface {
	Alias() string
	Render(ctx context.Context) (string, error)
}

// QueryHook shapes the query of a list widget.
type QueryHook func(ctx context.Context, filter *repositories.RecordFilter) error

// RefreshHook is notified when a search or filter widget changes.
type RefreshHook func(ctx context.Context) error

func unknownEvent(widget, event string) error {
	return fmt.Errorf("%s widget does not emit %q", widget, event)
}

func fire(ctx context.Context, hooks []RefreshHook) error {
	for _, hook := range hooks {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	return nil
}
