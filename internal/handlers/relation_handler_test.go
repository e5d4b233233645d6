package handlers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/infrastructure/metrics"
	"github.com/asakaida/relmanager/internal/repositories/memory"
	"github.com/asakaida/relmanager/internal/services/relation"
	"github.com/asakaida/relmanager/internal/services/view"
	"github.com/asakaida/relmanager/pkg/cache/memorycache"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const handlerConfig = `
models:
  post:
    fields:
      - {name: title}
    relations:
      comments:
        type: hasMany
        related: comment
        key: post_id
      categories:
        type: belongsToMany
        related: category
        table: post_category
  comment:
    fields:
      - {name: body, rules: required}
    columns:
      - {name: body}
  category:
    fields:
      - {name: name}
    columns:
      - {name: name}
`

type relationFixture struct {
	store     *memory.Store
	binder    *relation.Binder
	collector *metrics.Collector
	router    *gin.Engine
}

func newRelationFixture(t *testing.T) *relationFixture {
	t.Helper()

	c, err := memorycache.New(&memorycache.Config{MaxSizeBytes: 1 << 20, DefaultTTL: time.Hour})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	config, err := relation.LoadConfig([]byte(handlerConfig), c)
	require.NoError(t, err)
	engine, err := view.NewEngine()
	require.NoError(t, err)

	store := memory.NewStore()
	repos := relation.Repositories{
		Records:  store.Records(),
		Pivots:   store.Pivots(),
		Bindings: store.DeferredBindings(),
		Tx:       store,
	}
	binder := relation.NewBinder(repos, config, zap.NewNop())
	controller := relation.NewController(config, repos, binder, engine, relation.WithLogger(zap.NewNop()))

	collector := metrics.NewCollector()
	router := gin.New()
	router.Use(metrics.GinMiddleware(collector, nil))
	NewRelationHandler(controller, collector, nil, zap.NewNop()).Register(router)

	return &relationFixture{store: store, binder: binder, collector: collector, router: router}
}

func (f *relationFixture) create(t *testing.T, model string, attrs map[string]any) *entities.Record {
	t.Helper()
	rec := entities.NewRecord(model)
	rec.Fill(attrs)
	require.NoError(t, f.store.Records().Create(context.Background(), rec))
	return rec
}

func relationPath(id, field, handler string) string {
	return "/backend/post/" + id + "/relation/" + field + "/" + handler
}

func TestRelationHandler_ManageCreate(t *testing.T) {
	f := newRelationFixture(t)
	post := f.create(t, "post", map[string]any{"title": "Hello"})
	id := strconv.FormatInt(post.ID, 10)

	tests := []struct {
		name       string
		form       url.Values
		wantStatus int
		check      func(t *testing.T, body map[string]any)
	}{
		{
			name:       "正常系: the comment is created and the container refreshed",
			form:       url.Values{"Comment[body]": {"first!"}},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Contains(t, body["#RelationController-comments"], "first!")
				assert.Equal(t, true, body[keyClosePopup])
				require.IsType(t, map[string]any{}, body[keyFlashMessages])
				assert.Contains(t, body[keyFlashMessages].(map[string]any)["success"], "created")
			},
		},
		{
			name:       "異常系: a missing body is rejected with field errors",
			form:       url.Values{"Comment[body]": {""}},
			wantStatus: http.StatusUnprocessableEntity,
			check: func(t *testing.T, body map[string]any) {
				require.IsType(t, map[string]any{}, body[keyErrorFields])
				assert.Contains(t, body[keyErrorFields], "body")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postForm(f.router, relationPath(id, "comments", relation.HandlerManageCreate), tt.form, true)
			require.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			tt.check(t, decodeBody(t, w))
		})
	}
}

func TestRelationHandler_UnsavedParentStages(t *testing.T) {
	f := newRelationFixture(t)
	ctx := context.Background()

	w := postForm(f.router, relationPath("new", "comments", relation.HandlerManageCreate), url.Values{
		relation.FieldSessionKey: {"form-1"},
		"Comment[body]":          {"drafted"},
	}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	def := &entities.RelationDefinition{Model: "post", Name: "comments"}
	n, err := f.binder.Count(ctx, def, "form-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRelationHandler_SkippedIDs(t *testing.T) {
	f := newRelationFixture(t)
	post := f.create(t, "post", map[string]any{"title": "Hello"})
	cat := f.create(t, "category", map[string]any{"name": "go"})
	id := strconv.FormatInt(post.ID, 10)

	w := postForm(f.router, relationPath(id, "categories", relation.HandlerManageAdd), url.Values{
		"checked[]": {strconv.FormatInt(cat.ID, 10), "999"},
	}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decodeBody(t, w)
	assert.Equal(t, []any{float64(999)}, body[keySkipped])

	api := f.collector.GetAPIMetrics()
	assert.Equal(t, uint64(1), api.SkippedCounts[relation.HandlerManageAdd])
	assert.Equal(t, uint64(1), api.RequestCounts[relation.HandlerManageAdd])
}

func TestRelationHandler_EventTargetHeader(t *testing.T) {
	f := newRelationFixture(t)
	post := f.create(t, "post", map[string]any{"title": "Hello"})
	f.create(t, "category", map[string]any{"name": "go"})

	req := newAjaxRequest(relationPath(strconv.FormatInt(post.ID, 10), "categories", relation.HandlerManageForm), url.Values{})
	req.Header.Set(headerEventTarget, string(entities.EventButtonAdd))
	w := serve(f.router, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, decodeBody(t, w)[keyResult], "onRelationManageAdd")
}

func TestRelationHandler_Errors(t *testing.T) {
	f := newRelationFixture(t)
	post := f.create(t, "post", map[string]any{"title": "Hello"})
	id := strconv.FormatInt(post.ID, 10)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "異常系: unknown handler", path: relationPath(id, "comments", "onDropTables"), wantStatus: http.StatusNotFound},
		{name: "異常系: undefined field", path: relationPath(id, "likes", relation.HandlerRefresh), wantStatus: http.StatusNotFound},
		{name: "異常系: missing parent", path: relationPath("999", "comments", relation.HandlerRefresh), wantStatus: http.StatusNotFound},
		{name: "異常系: malformed parent id", path: relationPath("abc", "comments", relation.HandlerRefresh), wantStatus: http.StatusNotFound},
		{name: "異常系: filter on a view list", path: relationPath(id, "comments", relation.HandlerFilter), wantStatus: http.StatusBadRequest},
		{name: "異常系: unsaved parent without a session key", path: relationPath("new", "comments", relation.HandlerManageCreate), wantStatus: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postForm(f.router, tt.path, url.Values{}, true)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			assert.NotEmpty(t, decodeBody(t, w)[keyErrorMessage])
		})
	}
}
