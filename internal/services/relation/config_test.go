package relation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/pkg/cache/memorycache"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	def, err := f.config.Definition(ctx, "post", "tags")
	require.NoError(t, err)
	assert.Equal(t, entities.RelationBelongsToMany, def.Type)
	assert.Equal(t, "Tag", def.Label)
	assert.True(t, def.HasPivot())
	assert.Equal(t, []string{"weight"}, def.PivotData)

	// Manage and view surfaces default to the related model's fields and columns.
	require.NotNil(t, def.Manage.Form)
	assert.Equal(t, "name", def.Manage.Form.Fields[0].Name)
	require.NotNil(t, def.View.List)
	assert.True(t, def.View.List.Columns[0].Searchable)

	image, err := f.config.Definition(ctx, "post", "image")
	require.NoError(t, err)
	assert.Equal(t, "imageable_type", image.MorphTypeColumn())

	comments, err := f.config.Definition(ctx, "post", "comments")
	require.NoError(t, err)
	assert.True(t, comments.Manage.ShowSearch)
	assert.Equal(t, "body desc", comments.Order)
}

func TestConfigResolver_DefinitionReturnsCopies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.config.Definition(ctx, "post", "comments")
	require.NoError(t, err)
	second, err := f.config.Definition(ctx, "post", "comments")
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Definition() mismatch between calls (-first +second):\n%s", diff)
	}

	first.Type = entities.RelationBelongsTo
	first.Manage.Form.Fields[0].Name = "changed"

	third, err := f.config.Definition(ctx, "post", "comments")
	require.NoError(t, err)
	assert.Equal(t, entities.RelationHasMany, third.Type)
	assert.Equal(t, "body", third.Manage.Form.Fields[0].Name)
}

func TestConfigResolver_NotDefined(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.config.Definition(ctx, "post", "missing")
	assert.True(t, errors.Is(err, entities.ErrRelationNotDefined))

	_, err = f.config.Definition(ctx, "missing", "comments")
	assert.True(t, errors.Is(err, entities.ErrRelationNotDefined))

	fields, err := f.config.ModelFields("comment")
	require.NoError(t, err)
	assert.Len(t, fields, 2)
	assert.Equal(t, "checkbox", fields[1].Type)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "異常系: invalid YAML",
			yaml:    "models: [",
			wantErr: "failed to parse relation config",
		},
		{
			name:    "異常系: no models",
			yaml:    "models: {}",
			wantErr: "declares no models",
		},
		{
			name: "異常系: unknown relation type",
			yaml: `
models:
  post:
    relations:
      tags: {type: hasSome, related: tag}
  tag: {}`,
			wantErr: "post.tags",
		},
		{
			name: "異常系: pivot table missing",
			yaml: `
models:
  post:
    relations:
      tags: {type: belongsToMany, related: tag}
  tag: {}`,
			wantErr: "pivot table is required",
		},
		{
			name: "異常系: related model not declared",
			yaml: `
models:
  post:
    relations:
      comments: {type: hasMany, related: comment, key: post_id}`,
			wantErr: `related model "comment" is not declared`,
		},
		{
			name: "異常系: through model missing",
			yaml: `
models:
  country:
    relations:
      posts: {type: hasManyThrough, related: post, key: author_id}
  post: {}`,
			wantErr: "through, throughKey and key are required",
		},
		{
			name: "異常系: invalid search mode",
			yaml: `
models:
  post:
    relations:
      comments: {type: hasMany, related: comment, key: post_id, manage: {searchMode: fuzzy}}
  comment: {}`,
			wantErr: "invalid search mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig([]byte(tt.yaml), nil)
			if err == nil {
				t.Fatal("LoadConfig() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadConfig() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigResolver_ModeOptions(t *testing.T) {
	c, err := memorycache.New(&memorycache.Config{MaxSizeBytes: 1 << 20})
	require.NoError(t, err)
	config, err := LoadConfig([]byte(testConfig), c)
	require.NoError(t, err)

	def, err := config.Definition(context.Background(), "post", "tags")
	require.NoError(t, err)

	pivot, err := config.ModeOptions(def, OptionsPivot)
	require.NoError(t, err)
	assert.Equal(t, "weight", pivot.Form.Fields[0].Name)

	comments, err := config.Definition(context.Background(), "post", "comments")
	require.NoError(t, err)
	_, err = config.ModeOptions(comments, OptionsPivot)
	assert.Error(t, err)
	_, err = config.ModeOptions(comments, "other")
	assert.Error(t, err)
}

func TestArrayName(t *testing.T) {
	assert.Equal(t, "Comment", ArrayName("comment"))
	assert.Equal(t, "BlogPost", ArrayName("blog_post"))
	assert.Equal(t, "Create", ArrayName("create"))
}
