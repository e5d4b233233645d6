// Package view renders the named partials of relation fields and their widgets.
package view

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/flosch/pongo2/v6"
)

//go:embed partials
var embedded embed.FS

const extension = ".html"

// Engine resolves partial names to HTML using a pongo2 template set.
type Engine struct {
	set *pongo2.TemplateSet
}

// NewEngine loads the embedded partials.
func NewEngine() (*Engine, error) {
	sub, err := fs.Sub(embedded, "partials")
	if err != nil {
		return nil, fmt.Errorf("failed to open partials: %w", err)
	}
	return NewEngineFS(sub), nil
}

// NewEngineFS loads partials from files, used to override the embedded set.
func NewEngineFS(files fs.FS) *Engine {
	return &Engine{set: pongo2.NewSet("relmanager", pongo2.NewFSLoader(files))}
}

// Render executes the partial name (without extension) with vars.
func (e *Engine) Render(name string, vars map[string]any) (string, error) {
	path := strings.TrimPrefix(name, "_")
	if !strings.HasSuffix(path, extension) {
		path += extension
	}

	tmpl, err := e.set.FromCache(path)
	if err != nil {
		return "", fmt.Errorf("failed to load partial %q: %w", name, err)
	}

	if vars == nil {
		vars = map[string]any{}
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteWriter(pongo2.Context(vars), &buf); err != nil {
		return "", fmt.Errorf("failed to render partial %q: %w", name, err)
	}

	return buf.String(), nil
}
