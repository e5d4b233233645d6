package view

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_RenderEmbedded(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	html, err := engine.Render("search", nil)
	require.Error(t, err, "partials live under widgets/")
	assert.Empty(t, html)

	html, err = engine.Render("widgets/search", map[string]any{
		"alias": "relationCommentsManageSearch",
		"term":  `<b>x</b>`,
	})
	require.NoError(t, err)
	assert.Contains(t, html, `id="relationCommentsManageSearch"`)
	assert.Contains(t, html, "&lt;b&gt;x&lt;/b&gt;")
}

func TestEngine_RenderUnderscorePrefix(t *testing.T) {
	engine, err := NewEngine()
	require.NoError(t, err)

	html, err := engine.Render("_toolbar", map[string]any{
		"container_id": "RelationController-comments",
		"buttons": []map[string]any{
			{"name": "create", "handler": "Create", "label": "Create Comment"},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, html, `data-request="onRelationButtonCreate"`)
	assert.Contains(t, html, "_relation_event_target: 'button-create'")
}

func TestEngine_RenderFS(t *testing.T) {
	engine := NewEngineFS(fstest.MapFS{
		"hello.html": {Data: []byte("Hello {{ name }}")},
	})

	html, err := engine.Render("hello", map[string]any{"name": "post"})
	require.NoError(t, err)
	assert.Equal(t, "Hello post", html)

	_, err = engine.Render("missing", nil)
	assert.Error(t, err)
}
