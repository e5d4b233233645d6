package widgets

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/repositories"
	"github.com/asakaida/relmanager/internal/repositories/memory"
	"github.com/asakaida/relmanager/internal/services/view"
	"github.com/asakaida/relmanager/pkg/cache/memorycache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRenderer(t *testing.T) Renderer {
	t.Helper()
	engine, err := view.NewEngine()
	require.NoError(t, err)
	return engine
}

func seedComments(t *testing.T, store *memory.Store, bodies ...string) []int64 {
	t.Helper()
	var ids []int64
	for i, body := range bodies {
		rec := entities.NewRecord("comment")
		rec.Set("body", body)
		rec.Set("rank", len(bodies)-i)
		require.NoError(t, store.Records().Create(context.Background(), rec))
		ids = append(ids, rec.ID)
	}
	return ids
}

func TestListWidget_QueryOrder(t *testing.T) {
	store := memory.NewStore()
	ids := seedComments(t, store, "alpha", "beta", "gamma")
	ctx := context.Background()

	list := NewListWidget(ListConfig{
		Alias:       "list",
		Model:       "comment",
		Columns:     []entities.ColumnDefinition{{Name: "body", Searchable: true}},
		DefaultSort: entities.SortSpec{Column: "rank", Direction: "asc"},
	}, store.Records(), newRenderer(t))

	var calls []string
	require.NoError(t, list.BindEvent(EventListExtendQuery, func(ctx context.Context, f *repositories.RecordFilter) error {
		calls = append(calls, "extend")
		f.ExcludeIDs = append(f.ExcludeIDs, ids[0])
		return nil
	}))
	require.NoError(t, list.BindEvent(EventListExtendQueryBefore, func(ctx context.Context, f *repositories.RecordFilter) error {
		calls = append(calls, "before")
		return nil
	}))
	assert.Error(t, list.BindEvent("list.unknown", nil))

	page, err := list.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"before", "extend"}, calls)
	assert.Equal(t, []int64{ids[2], ids[1]}, entities.RecordIDs(page.Records))
	assert.Equal(t, 2, page.Total)

	list.SetSearchTerm("  bet ")
	page, err = list.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids[1]}, entities.RecordIDs(page.Records))
}

func TestListWidget_Paging(t *testing.T) {
	store := memory.NewStore()
	ids := seedComments(t, store, "a", "b", "c", "d", "e")

	list := NewListWidget(ListConfig{
		Alias:          "list",
		Model:          "comment",
		RecordsPerPage: 2,
		DefaultSort:    entities.SortSpec{Column: "id"},
	}, store.Records(), newRenderer(t))

	list.SetPage(3)
	page, err := list.Records(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, page.PageCount)
	assert.Equal(t, []int64{ids[4]}, entities.RecordIDs(page.Records))

	list.SetPage(9)
	page, err = list.Records(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, page.Page)
}

func TestListWidget_Sort(t *testing.T) {
	store := memory.NewStore()
	ids := seedComments(t, store, "b", "c", "a")
	columns := []entities.ColumnDefinition{{Name: "body", Sortable: true}, {Name: "rank"}}

	tests := []struct {
		name      string
		cfg       ListConfig
		column    string
		direction string
		want      []int64
		wantErr   bool
	}{
		{
			name:      "正常系: a chosen sort replaces the hook order",
			cfg:       ListConfig{ShowSorting: true, Columns: columns},
			column:    "body",
			direction: "DESC",
			want:      []int64{ids[1], ids[0], ids[2]},
		},
		{
			name:   "正常系: direction defaults to ascending",
			cfg:    ListConfig{ShowSorting: true, Columns: columns},
			column: "body",
			want:   []int64{ids[2], ids[0], ids[1]},
		},
		{
			name:    "異常系: sorting disabled",
			cfg:     ListConfig{Columns: columns},
			column:  "body",
			wantErr: true,
		},
		{
			name:    "異常系: column is not sortable",
			cfg:     ListConfig{ShowSorting: true, Columns: columns},
			column:  "rank",
			wantErr: true,
		},
		{
			name:      "異常系: invalid direction",
			cfg:       ListConfig{ShowSorting: true, Columns: columns},
			column:    "body",
			direction: "sideways",
			wantErr:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Alias = "list"
			tt.cfg.Model = "comment"
			list := NewListWidget(tt.cfg, store.Records(), newRenderer(t))
			require.NoError(t, list.BindEvent(EventListExtendQueryBefore, func(ctx context.Context, f *repositories.RecordFilter) error {
				f.OrderBy = []repositories.Sort{{Column: "rank"}}
				return nil
			}))

			err := list.SetSort(tt.column, tt.direction)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			page, err := list.Records(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, entities.RecordIDs(page.Records))
		})
	}
}

func TestListWidget_RenderPager(t *testing.T) {
	store := memory.NewStore()
	seedComments(t, store, "a", "b", "c", "d", "e")

	list := NewListWidget(ListConfig{
		Alias:          "list",
		Model:          "comment",
		Columns:        []entities.ColumnDefinition{{Name: "body", Sortable: true}},
		RecordsPerPage: 2,
		ShowSorting:    true,
		OnPaginate:     "onPaginate",
		OnSort:         "onSort",
	}, store.Records(), newRenderer(t))
	list.SetPage(2)

	html, err := list.Render(context.Background())
	require.NoError(t, err)
	assert.Contains(t, html, "Page 2 of 3")
	assert.Contains(t, html, "page: 1")
	assert.Contains(t, html, "page: 3")
	assert.Contains(t, html, `data-request="onSort"`)
	assert.NotContains(t, html, "page: 3, sort_column")

	require.NoError(t, list.SetSort("body", "asc"))
	html, err = list.Render(context.Background())
	require.NoError(t, err)
	assert.Contains(t, html, "page: 3, sort_column: 'body', sort_direction: 'asc'")
}

func TestListWidget_Render(t *testing.T) {
	store := memory.NewStore()
	ids := seedComments(t, store, "<script>x</script>")

	list := NewListWidget(ListConfig{
		Alias:          "relationCommentsManageList",
		Model:          "comment",
		Columns:        []entities.ColumnDefinition{{Name: "body", Label: "Body"}},
		ShowCheckboxes: true,
		RecordOnClick:  "$.oc.relationBehavior.clickManageListRecord(:id, 'comments')",
	}, store.Records(), newRenderer(t))

	html, err := list.Render(context.Background())
	require.NoError(t, err)
	assert.Contains(t, html, `name="checked[]"`)
	assert.Contains(t, html, "&lt;script&gt;")
	assert.Contains(t, html, "clickManageListRecord(1,")
	assert.Equal(t, int64(1), ids[0])
}

func TestFormWidget_GetSaveData(t *testing.T) {
	fields := []entities.FieldDefinition{
		{Name: "title", Label: "Title", Type: "text", Rules: "required,max=10"},
		{Name: "votes", Type: "number"},
		{Name: "published", Type: "checkbox"},
		{Name: "status", Type: "dropdown", Options: []string{"draft", "live"}},
		{Name: "content", Type: "richeditor"},
	}

	tests := []struct {
		name       string
		post       url.Values
		want       map[string]any
		wantFields []string
	}{
		{
			name: "valid post",
			post: url.Values{
				"Comment[title]":   {"Hello"},
				"Comment[votes]":   {"3"},
				"Comment[status]":  {"live"},
				"Comment[content]": {`<p onclick="x()">Hi</p><script>bad()</script>`},
			},
			want: map[string]any{
				"title":     "Hello",
				"votes":     int64(3),
				"published": false,
				"status":    "live",
				"content":   "<p>Hi</p>",
			},
		},
		{
			name:       "missing required title",
			post:       url.Values{"Comment[votes]": {"1"}},
			wantFields: []string{"title"},
		},
		{
			name: "several invalid values",
			post: url.Values{
				"Comment[title]":  {"far too long title"},
				"Comment[votes]":  {"many"},
				"Comment[status]": {"deleted"},
			},
			wantFields: []string{"status", "title", "votes"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := NewFormWidget(FormConfig{Alias: "form", ArrayName: "Comment", Fields: fields, Context: FormContextCreate},
				entities.NewRecord("comment"), newRenderer(t))

			data, err := form.GetSaveData(tt.post)
			if len(tt.wantFields) > 0 {
				var verr *entities.ValidationError
				require.ErrorAs(t, err, &verr)
				var got []string
				for name := range verr.Fields {
					got = append(got, name)
				}
				assert.ElementsMatch(t, tt.wantFields, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, data)
		})
	}
}

func TestFormWidget_FieldRules(t *testing.T) {
	tests := []struct {
		name    string
		field   entities.FieldDefinition
		post    url.Values
		want    any
		wantMsg string
	}{
		{
			name:  "正常系: zero satisfies required",
			field: entities.FieldDefinition{Name: "weight", Type: "number", Rules: "required"},
			post:  url.Values{"Pivot[weight]": {"0"}},
			want:  int64(0),
		},
		{
			name:  "正常系: an unchecked checkbox satisfies required",
			field: entities.FieldDefinition{Name: "approved", Type: "checkbox", Rules: "required"},
			post:  url.Values{},
			want:  false,
		},
		{
			name:  "正常系: a blank optional value skips the other rules",
			field: entities.FieldDefinition{Name: "email", Type: "text", Rules: "email"},
			post:  url.Values{"Pivot[email]": {""}},
			want:  "",
		},
		{
			name:    "異常系: a blank value fails required",
			field:   entities.FieldDefinition{Name: "weight", Type: "number", Rules: "required"},
			post:    url.Values{"Pivot[weight]": {" "}},
			wantMsg: "The weight field is required.",
		},
		{
			name:    "異常系: whitespace text fails required",
			field:   entities.FieldDefinition{Name: "note", Type: "text", Rules: "required"},
			post:    url.Values{"Pivot[note]": {"   "}},
			wantMsg: "The note field is required.",
		},
		{
			name:    "異常系: number bounds compare the value",
			field:   entities.FieldDefinition{Name: "weight", Type: "number", Rules: "required,max=10"},
			post:    url.Values{"Pivot[weight]": {"11"}},
			wantMsg: "The weight field may not be greater than 10.",
		},
		{
			name:    "異常系: number lower bound",
			field:   entities.FieldDefinition{Name: "weight", Type: "number", Rules: "min=1"},
			post:    url.Values{"Pivot[weight]": {"0"}},
			wantMsg: "The weight field must be at least 1.",
		},
		{
			name:    "異常系: text bounds count characters",
			field:   entities.FieldDefinition{Name: "code", Type: "text", Rules: "max=3"},
			post:    url.Values{"Pivot[code]": {"abcd"}},
			wantMsg: "The code field may not be greater than 3 characters.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := NewFormWidget(FormConfig{Alias: "pivot", ArrayName: "Pivot", Fields: []entities.FieldDefinition{tt.field}, Context: FormContextPivot},
				entities.NewRecord("post_tag"), newRenderer(t))

			data, err := form.GetSaveData(tt.post)
			if tt.wantMsg != "" {
				var verr *entities.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, []string{tt.wantMsg}, verr.Fields[tt.field.Name])
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, data[tt.field.Name])
		})
	}
}

func TestFormWidget_RequiredUsesExistingValue(t *testing.T) {
	rec := entities.NewRecord("comment")
	rec.ID = 7
	rec.Set("title", "kept")

	form := NewFormWidget(FormConfig{
		ArrayName: "Comment",
		Fields:    []entities.FieldDefinition{{Name: "title", Rules: "required"}, {Name: "body"}},
	}, rec, newRenderer(t))

	data, err := form.GetSaveData(url.Values{"Comment[body]": {"b"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"body": "b"}, data)
}

func TestFormWidget_RenderShowsErrorsAndDefaults(t *testing.T) {
	form := NewFormWidget(FormConfig{
		Alias:     "relationCommentsManageForm",
		ArrayName: "Comment",
		Fields: []entities.FieldDefinition{
			{Name: "title", Label: "Title", Rules: "required"},
			{Name: "status", Type: "dropdown", Options: []string{"draft", "live"}, Default: "draft"},
		},
		Context: FormContextCreate,
	}, entities.NewRecord("comment"), newRenderer(t))

	assert.Equal(t, "draft", form.Record().Get("status"))

	_, err := form.GetSaveData(url.Values{})
	require.Error(t, err)

	html, err := form.Render(context.Background())
	require.NoError(t, err)
	assert.Contains(t, html, `name="Comment[title]"`)
	assert.Contains(t, html, "The title field is required.")
	assert.Contains(t, html, `<option value="draft" selected>`)
}

func TestSearchAndFilterEvents(t *testing.T) {
	ctx := context.Background()
	renderer := newRenderer(t)

	search := NewSearchWidget("search", "", renderer)
	var refreshed int
	require.NoError(t, search.BindEvent(EventSearchSubmit, func(context.Context) error {
		refreshed++
		return nil
	}))
	assert.Error(t, search.BindEvent(EventFilterUpdate, nil))

	search.SetActiveTerm("quiet")
	assert.Equal(t, 0, refreshed)
	require.NoError(t, search.Submit(ctx, " loud "))
	assert.Equal(t, 1, refreshed)
	assert.Equal(t, "loud", search.Term())

	filter := NewFilterWidget("filter", &entities.FilterDefinition{Scopes: []entities.FilterScope{
		{Name: "approved", Attribute: "approved", Value: true},
		{Name: "flagged", Attribute: "flagged", Value: true},
	}}, renderer)
	require.NoError(t, filter.BindEvent(EventFilterUpdate, func(context.Context) error {
		refreshed++
		return nil
	}))

	require.NoError(t, filter.Update(ctx, "approved", true))
	assert.Equal(t, 2, refreshed)
	assert.Error(t, filter.Update(ctx, "missing", true))
	assert.Equal(t, []string{"approved"}, filter.ActiveScopes())

	f := &repositories.RecordFilter{}
	filter.ApplyScopes(f)
	assert.Equal(t, map[string]any{"approved": true}, f.Where)
}

func TestStateStore(t *testing.T) {
	c, err := memorycache.New(&memorycache.Config{MaxSizeBytes: 1 << 20, DefaultTTL: time.Minute})
	require.NoError(t, err)
	ctx := context.Background()
	state := NewStateStore(c, 0)

	require.NoError(t, state.Put(ctx, "s1", "search", "term", "abc"))
	require.NoError(t, state.Put(ctx, "s2", "search", "term", "xyz"))
	assert.Equal(t, "abc", state.GetString(ctx, "s1", "search", "term"))

	require.NoError(t, state.Reset(ctx, "s1", "search"))
	assert.Equal(t, "", state.GetString(ctx, "s1", "search", "term"))
	assert.Equal(t, "xyz", state.GetString(ctx, "s2", "search", "term"))

	require.NoError(t, state.Put(ctx, "", "search", "term", "ignored"))
	_, ok := state.Get(ctx, "", "search", "term")
	assert.False(t, ok)
}
