package widgets

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/repositories"
)

const defaultRecordsPerPage = 20

// ListConfig configures a ListWidget.
type ListConfig struct {
	Alias            string
	Model            string
	Columns          []entities.ColumnDefinition
	RecordsPerPage   int
	ShowCheckboxes   bool
	ShowSorting      bool
	DefaultSort      entities.SortSpec
	SearchMode       string
	RecordOnClick    string // JavaScript run on row click; ":id" is replaced by the row id
	NoRecordsMessage string

	// Ajax handlers of the pager and the sortable headers. Empty disables the control.
	OnPaginate string
	OnSort     string
}

// Page is one page of list results.
type Page struct {
	Records   []*entities.Record
	Total     int
	Page      int
	PerPage   int
	PageCount int
}

// ListWidget is a paged grid of records of one model.
type ListWidget struct {
	cfg      ListConfig
	records  repositories.RecordRepository
	renderer Renderer

	before []QueryHook
	extend []QueryHook

	searchTerm string
	page       int
	sort       entities.SortSpec
}

var _ Widget = (*ListWidget)(nil)

// NewListWidget creates a list widget over records.
func NewListWidget(cfg ListConfig, records repositories.RecordRepository, renderer Renderer) *ListWidget {
	if cfg.RecordsPerPage <= 0 {
		cfg.RecordsPerPage = defaultRecordsPerPage
	}
	if cfg.NoRecordsMessage == "" {
		cfg.NoRecordsMessage = "There are no records to display."
	}
	return &ListWidget{cfg: cfg, records: records, renderer: renderer, page: 1}
}

// Alias returns the widget alias.
func (w *ListWidget) Alias() string { return w.cfg.Alias }

// Config returns the widget configuration.
func (w *ListWidget) Config() ListConfig { return w.cfg }

// BindEvent subscribes hook to list.extendQueryBefore or list.extendQuery.
func (w *ListWidget) BindEvent(event string, hook QueryHook) error {
	switch event {
	case EventListExtendQueryBefore:
		w.before = append(w.before, hook)
	case EventListExtendQuery:
		w.extend = append(w.extend, hook)
	default:
		return unknownEvent("list", event)
	}
	return nil
}

// SetSearchTerm sets the term matched against searchable columns.
func (w *ListWidget) SetSearchTerm(term string) {
	w.searchTerm = strings.TrimSpace(term)
}

// SearchTerm returns the active search term.
func (w *ListWidget) SearchTerm() string { return w.searchTerm }

// SetPage selects the page to display, starting at 1.
func (w *ListWidget) SetPage(page int) {
	if page < 1 {
		page = 1
	}
	w.page = page
}

// Page returns the requested page.
func (w *ListWidget) Page() int { return w.page }

// SetSort orders the list by a sortable column. direction is asc or desc.
func (w *ListWidget) SetSort(column, direction string) error {
	if !w.cfg.ShowSorting {
		return fmt.Errorf("list %s is not sortable", w.cfg.Alias)
	}
	direction = strings.ToLower(direction)
	if direction == "" {
		direction = "asc"
	}
	if direction != "asc" && direction != "desc" {
		return fmt.Errorf("list %s: invalid sort direction %q", w.cfg.Alias, direction)
	}
	for _, col := range w.cfg.Columns {
		if col.Name == column && col.Sortable {
			w.sort = entities.SortSpec{Column: column, Direction: direction}
			return nil
		}
	}
	return fmt.Errorf("list %s: column %q is not sortable", w.cfg.Alias, column)
}

// ActiveSort returns the chosen sort, or the default one.
func (w *ListWidget) ActiveSort() entities.SortSpec {
	if !w.sort.IsZero() {
		return w.sort
	}
	return w.cfg.DefaultSort
}

// Query builds the record filter without paging.
func (w *ListWidget) Query(ctx context.Context) (*repositories.RecordFilter, error) {
	filter := &repositories.RecordFilter{}

	for _, hook := range w.before {
		if err := hook(ctx, filter); err != nil {
			return nil, err
		}
	}

	if w.searchTerm != "" {
		filter.Search = w.searchTerm
		filter.SearchColumns = (&entities.ListDefinition{Columns: w.cfg.Columns}).SearchableColumns()
		filter.SearchMode = w.cfg.SearchMode
	}

	if !w.sort.IsZero() {
		filter.OrderBy = []repositories.Sort{{Column: w.sort.Column, Desc: w.sort.Desc()}}
	} else if len(filter.OrderBy) == 0 && !w.cfg.DefaultSort.IsZero() {
		filter.OrderBy = []repositories.Sort{{Column: w.cfg.DefaultSort.Column, Desc: w.cfg.DefaultSort.Desc()}}
	}

	for _, hook := range w.extend {
		if err := hook(ctx, filter); err != nil {
			return nil, err
		}
	}

	return filter, nil
}

// Records loads the current page.
func (w *ListWidget) Records(ctx context.Context) (*Page, error) {
	filter, err := w.Query(ctx)
	if err != nil {
		return nil, err
	}

	total, err := w.records.Count(ctx, w.cfg.Model, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s records: %w", w.cfg.Model, err)
	}

	pageCount := (total + w.cfg.RecordsPerPage - 1) / w.cfg.RecordsPerPage
	page := w.page
	if pageCount > 0 && page > pageCount {
		page = pageCount
	}

	filter.Limit = w.cfg.RecordsPerPage
	filter.Offset = (page - 1) * w.cfg.RecordsPerPage
	records, err := w.records.List(ctx, w.cfg.Model, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", w.cfg.Model, err)
	}

	return &Page{
		Records:   records,
		Total:     total,
		Page:      page,
		PerPage:   w.cfg.RecordsPerPage,
		PageCount: pageCount,
	}, nil
}

// Render renders the current page.
func (w *ListWidget) Render(ctx context.Context) (string, error) {
	page, err := w.Records(ctx)
	if err != nil {
		return "", err
	}

	active := w.ActiveSort()
	sortDirection := "asc"
	if active.Desc() {
		sortDirection = "desc"
	}

	columns := make([]map[string]any, 0, len(w.cfg.Columns))
	for _, col := range w.cfg.Columns {
		next := "asc"
		if col.Name == active.Column && !active.Desc() {
			next = "desc"
		}
		columns = append(columns, map[string]any{
			"name":           col.Name,
			"label":          columnLabel(col),
			"sortable":       col.Sortable && w.cfg.OnSort != "",
			"next_direction": next,
		})
	}

	rows := make([]map[string]any, 0, len(page.Records))
	for _, rec := range page.Records {
		cells := make([]string, 0, len(w.cfg.Columns))
		for _, col := range w.cfg.Columns {
			cells = append(cells, cellValue(rec, col.Name))
		}
		rows = append(rows, map[string]any{
			"id":       rec.ID,
			"cells":    cells,
			"on_click": strings.ReplaceAll(w.cfg.RecordOnClick, ":id", strconv.FormatInt(rec.ID, 10)),
		})
	}

	columnCount := len(columns)
	if w.cfg.ShowCheckboxes {
		columnCount++
	}

	return w.renderer.Render("widgets/list", map[string]any{
		"alias":              w.cfg.Alias,
		"columns":            columns,
		"rows":               rows,
		"column_count":       columnCount,
		"show_checkboxes":    w.cfg.ShowCheckboxes,
		"show_sorting":       w.cfg.ShowSorting,
		"sort_column":        active.Column,
		"sort_direction":     sortDirection,
		"sorted":             !w.sort.IsZero(),
		"on_sort":            w.cfg.OnSort,
		"on_paginate":        w.cfg.OnPaginate,
		"record_on_click":    w.cfg.RecordOnClick != "",
		"no_records_message": w.cfg.NoRecordsMessage,
		"page":               page.Page,
		"prev_page":          page.Page - 1,
		"next_page":          page.Page + 1,
		"page_count":         page.PageCount,
		"total":              page.Total,
	})
}

func columnLabel(col entities.ColumnDefinition) string {
	if col.Label != "" {
		return col.Label
	}
	return col.Name
}

func cellValue(rec *entities.Record, column string) string {
	if column == "id" {
		return strconv.FormatInt(rec.ID, 10)
	}
	v := rec.Get(column)
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
