package widgets

import (
	"context"
	"strings"
)

// SearchWidget holds the search term of a list.
type SearchWidget struct {
	alias    string
	prompt   string
	term     string
	renderer Renderer
	submit   []RefreshHook
}

var _ Widget = (*SearchWidget)(nil)

// NewSearchWidget creates a search box.
func NewSearchWidget(alias, prompt string, renderer Renderer) *SearchWidget {
	if prompt == "" {
		prompt = "Search..."
	}
	return &SearchWidget{alias: alias, prompt: prompt, renderer: renderer}
}

// Alias returns the widget alias.
func (w *SearchWidget) Alias() string { return w.alias }

// Term returns the active search term.
func (w *SearchWidget) Term() string { return w.term }

// SetActiveTerm restores a term without notifying subscribers.
func (w *SearchWidget) SetActiveTerm(term string) {
	w.term = strings.TrimSpace(term)
}

// BindEvent subscribes hook to search.submit.
func (w *SearchWidget) BindEvent(event string, hook RefreshHook) error {
	if event != EventSearchSubmit {
		return unknownEvent("search", event)
	}
	w.submit = append(w.submit, hook)
	return nil
}

// Submit sets the term and notifies subscribers.
func (w *SearchWidget) Submit(ctx context.Context, term string) error {
	w.SetActiveTerm(term)
	return fire(ctx, w.submit)
}

// Render renders the search box.
func (w *SearchWidget) Render(ctx context.Context) (string, error) {
	return w.renderer.Render("widgets/search", map[string]any{
		"alias":  w.alias,
		"term":   w.term,
		"prompt": w.prompt,
	})
}
