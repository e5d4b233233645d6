package relation

import (
	"context"
	"fmt"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/repositories"
	"github.com/asakaida/relmanager/internal/services/widgets"
	"go.uber.org/zap"
)

// Names of the widget state values kept between Ajax requests.
const (
	stateSearchTerm = "term"
	stateScopes     = "scopes"
)

// WidgetRequest carries the interaction state the factory builds widgets from.
type WidgetRequest struct {
	Relation   *Relation
	Manage     *entities.ManageContext
	View       *entities.ViewContext
	SessionKey string // deferred binding session of the parent form
	Ajax       bool

	// Posted list state. Surface names the list it belongs to; empty applies
	// it to whichever list is built.
	Surface string
	Page    int
	Sort    entities.SortSpec
}

func (req WidgetRequest) aliasPrefix() string {
	return "relation" + ArrayName(req.Relation.Definition().Name)
}

// ListSurface is a list with its optional search box and filter.
type ListSurface struct {
	*widgets.ListWidget
	Search *widgets.SearchWidget
	Filter *widgets.FilterWidget
}

// WidgetFactory builds the widgets of a relation field.
type WidgetFactory struct {
	records  repositories.RecordRepository
	binder   *Binder
	renderer widgets.Renderer
	state    *widgets.StateStore
	scopes   *ScopeRegistry
	logger   *zap.Logger
}

// NewWidgetFactory creates a widget factory. state and scopes may be nil.
func NewWidgetFactory(records repositories.RecordRepository, binder *Binder, renderer widgets.Renderer, state *widgets.StateStore, scopes *ScopeRegistry, logger *zap.Logger) *WidgetFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WidgetFactory{records: records, binder: binder, renderer: renderer, state: state, scopes: scopes, logger: logger}
}

// CurrentIDs returns the related ids including bindings staged under the session key.
func (f *WidgetFactory) CurrentIDs(ctx context.Context, req WidgetRequest) ([]int64, error) {
	ids, err := req.Relation.RelatedIDs(ctx)
	if err != nil {
		return nil, err
	}
	if f.binder == nil {
		return ids, nil
	}
	return f.binder.WithDeferred(ctx, ids, req.Relation.Definition(), req.SessionKey)
}

// BuildManageWidget builds the widget of the current manage mode: a list for
// list and pivot modes, a form for form mode. Any other mode yields nil.
func (f *WidgetFactory) BuildManageWidget(ctx context.Context, req WidgetRequest) (widgets.Widget, error) {
	switch req.Manage.Mode {
	case entities.ManageModeList, entities.ManageModePivot:
		surface, err := f.buildManageList(ctx, req)
		if err != nil {
			return nil, err
		}
		return surface, nil
	case entities.ManageModeForm:
		form, err := f.buildManageForm(ctx, req)
		if err != nil {
			return nil, err
		}
		return form, nil
	default:
		return nil, nil
	}
}

func (f *WidgetFactory) buildManageList(ctx context.Context, req WidgetRequest) (*ListSurface, error) {
	def := req.Relation.Definition()
	opts := def.Manage
	pivot := req.Manage.Mode == entities.ManageModePivot
	single := req.View.Mode == entities.ViewModeSingle

	var onClick string
	switch {
	case pivot:
		onClick = fmt.Sprintf("$.oc.relationBehavior.clickManagePivotListRecord(:id, '%s', '%s')", def.Name, req.SessionKey)
	case single:
		onClick = fmt.Sprintf("$.oc.relationBehavior.clickManageListRecord(:id, '%s', '%s')", def.Name, req.SessionKey)
	default:
		onClick = "$.oc.relationBehavior.toggleListCheckbox(this)"
	}

	showCheckboxes := !pivot && !single
	if showCheckboxes && opts.ShowCheckboxes != nil {
		showCheckboxes = *opts.ShowCheckboxes
	}

	list := widgets.NewListWidget(widgets.ListConfig{
		Alias:          req.aliasPrefix() + "ManageList",
		Model:          def.Related,
		Columns:        listColumns(opts),
		RecordsPerPage: opts.RecordsPerPage,
		ShowCheckboxes: showCheckboxes,
		ShowSorting:    opts.ShowSorting,
		DefaultSort:    opts.DefaultSort,
		SearchMode:     opts.SearchMode,
		RecordOnClick:  onClick,
		OnPaginate:     HandlerPaginate,
		OnSort:         HandlerSort,
	}, f.records, f.renderer)
	if err := applyListState(list, req, SurfaceManage); err != nil {
		return nil, err
	}

	if err := list.BindEvent(widgets.EventListExtendQueryBefore, func(ctx context.Context, filter *repositories.RecordFilter) error {
		return f.shapeQuery(req.Relation, opts, filter)
	}); err != nil {
		return nil, err
	}

	// Records already related, including pending adds, are not offered again.
	if err := list.BindEvent(widgets.EventListExtendQuery, func(ctx context.Context, filter *repositories.RecordFilter) error {
		ids, err := f.CurrentIDs(ctx, req)
		if err != nil {
			return err
		}
		filter.ExcludeIDs = append(filter.ExcludeIDs, ids...)
		return nil
	}); err != nil {
		return nil, err
	}

	surface := &ListSurface{ListWidget: list}
	if err := f.attachToolbar(ctx, req, surface, opts, "Manage"); err != nil {
		return nil, err
	}
	return surface, nil
}

// applyListState sets the posted page and sort on a list of the given surface.
func applyListState(list *widgets.ListWidget, req WidgetRequest, surface string) error {
	if req.Surface != "" && req.Surface != surface {
		return nil
	}
	if req.Page > 0 {
		list.SetPage(req.Page)
	}
	if !req.Sort.IsZero() {
		if err := list.SetSort(req.Sort.Column, req.Sort.Direction); err != nil {
			return fmt.Errorf("relation %s: %v: %w", req.Relation.Definition().Name, err, entities.ErrUnsupportedOperation)
		}
	}
	return nil
}

// shapeQuery narrows a manage list. The first configured option wins: raw
// conditions, a named scope, then the relation's own constraints.
func (f *WidgetFactory) shapeQuery(rel *Relation, opts entities.ModeOptions, filter *repositories.RecordFilter) error {
	switch {
	case opts.Conditions != "":
		filter.Conditions = append(filter.Conditions, opts.Conditions)
	case opts.Scope != "":
		fn, ok := f.scopes.Lookup(opts.Scope)
		if !ok {
			return fmt.Errorf("relation %s: scope %q is not registered", rel.Definition().Name, opts.Scope)
		}
		fn(filter, rel.Parent())
	default:
		rel.AddDefinedConstraints(filter)
		filter.OrderBy = nil
	}
	return nil
}

func (f *WidgetFactory) buildManageForm(ctx context.Context, req WidgetRequest) (*widgets.FormWidget, error) {
	def := req.Relation.Definition()

	record := entities.NewRecord(def.Related)
	formContext := widgets.FormContextCreate
	if req.Manage.HasID() {
		found, err := f.records.Find(ctx, def.Related, req.Manage.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s %d: %w", def.Related, req.Manage.ID, err)
		}
		record = found
		formContext = widgets.FormContextUpdate
	}

	return widgets.NewFormWidget(widgets.FormConfig{
		Alias:     req.aliasPrefix() + "ManageForm",
		ArrayName: ArrayName(def.Related),
		Fields:    formFields(def.Manage),
		Context:   formContext,
	}, record, f.renderer), nil
}

// BuildPivotWidget builds the pivot data form. With a manage id the form is
// filled from the stored or staged pivot row of that related record.
func (f *WidgetFactory) BuildPivotWidget(ctx context.Context, req WidgetRequest) (*widgets.FormWidget, error) {
	rel := req.Relation
	def := rel.Definition()
	if !def.HasPivot() {
		return nil, fmt.Errorf("relation %s has no pivot form: %w", def.Name, entities.ErrUnsupportedOperation)
	}

	record := entities.NewRecord(def.Table)
	if req.Manage.HasID() {
		data, err := f.pivotData(ctx, req, req.Manage.ID)
		if err != nil {
			return nil, err
		}
		record.ID = req.Manage.ID
		record.Fill(data)
	}

	return widgets.NewFormWidget(widgets.FormConfig{
		Alias:     req.aliasPrefix() + "PivotForm",
		ArrayName: "Pivot",
		Fields:    def.Pivot.Form.Fields,
		Context:   widgets.FormContextPivot,
	}, record, f.renderer), nil
}

func (f *WidgetFactory) pivotData(ctx context.Context, req WidgetRequest, relatedID int64) (map[string]any, error) {
	if f.binder != nil {
		data, ok, err := f.binder.PendingPivotData(ctx, req.Relation.Definition(), relatedID, req.SessionKey)
		if err != nil {
			return nil, err
		}
		if ok {
			return data, nil
		}
	}
	row, err := req.Relation.FindPivot(ctx, relatedID)
	if err != nil {
		return nil, err
	}
	return row.Data, nil
}

// BuildViewWidget builds the read side of the field: a list of the related
// records in multi view mode, a preview form of the related record in single
// view mode.
func (f *WidgetFactory) BuildViewWidget(ctx context.Context, req WidgetRequest) (widgets.Widget, error) {
	switch req.View.Mode {
	case entities.ViewModeMulti:
		surface, err := f.buildViewList(ctx, req)
		if err != nil {
			return nil, err
		}
		return surface, nil
	case entities.ViewModeSingle:
		form, err := f.buildViewForm(ctx, req)
		if err != nil {
			return nil, err
		}
		return form, nil
	default:
		return nil, fmt.Errorf("relation %s: unknown view mode %q", req.Relation.Definition().Name, req.View.Mode)
	}
}

func (f *WidgetFactory) buildViewList(ctx context.Context, req WidgetRequest) (*ListSurface, error) {
	rel := req.Relation
	def := rel.Definition()
	opts := def.View

	onClick := ""
	if !def.ReadOnly {
		onClick = fmt.Sprintf("$.oc.relationBehavior.clickViewListRecord(:id, '%s', '%s')", def.Name, req.SessionKey)
	}
	showCheckboxes := !def.ReadOnly
	if opts.ShowCheckboxes != nil {
		showCheckboxes = *opts.ShowCheckboxes
	}

	list := widgets.NewListWidget(widgets.ListConfig{
		Alias:          req.aliasPrefix() + "ViewList",
		Model:          def.Related,
		Columns:        listColumns(opts),
		RecordsPerPage: opts.RecordsPerPage,
		ShowCheckboxes: showCheckboxes,
		ShowSorting:    opts.ShowSorting,
		DefaultSort:    opts.DefaultSort,
		SearchMode:     opts.SearchMode,
		RecordOnClick:  onClick,
		OnPaginate:     HandlerPaginate,
		OnSort:         HandlerSort,
	}, f.records, f.renderer)
	if err := applyListState(list, req, SurfaceView); err != nil {
		return nil, err
	}

	if err := list.BindEvent(widgets.EventListExtendQueryBefore, func(ctx context.Context, filter *repositories.RecordFilter) error {
		ids, err := f.CurrentIDs(ctx, req)
		if err != nil {
			return err
		}
		filter.RestrictIDs(ids)

		switch {
		case opts.Conditions != "":
			filter.Conditions = append(filter.Conditions, opts.Conditions)
		case opts.Scope != "":
			fn, ok := f.scopes.Lookup(opts.Scope)
			if !ok {
				return fmt.Errorf("relation %s: scope %q is not registered", def.Name, opts.Scope)
			}
			fn(filter, rel.Parent())
		default:
			rel.AddDefinedConstraints(filter)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	surface := &ListSurface{ListWidget: list}
	if err := f.attachToolbar(ctx, req, surface, opts, "View"); err != nil {
		return nil, err
	}
	return surface, nil
}

func (f *WidgetFactory) buildViewForm(ctx context.Context, req WidgetRequest) (*widgets.FormWidget, error) {
	def := req.Relation.Definition()

	record := entities.NewRecord(def.Related)
	ids, err := f.CurrentIDs(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		found, err := f.records.FindMany(ctx, def.Related, ids[len(ids)-1:])
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", def.Name, err)
		}
		if len(found) > 0 {
			record = found[0]
		}
	}

	return widgets.NewFormWidget(widgets.FormConfig{
		Alias:     req.aliasPrefix() + "ViewForm",
		ArrayName: ArrayName(def.Related),
		Fields:    formFields(def.View),
		Context:   widgets.FormContextPreview,
	}, record, f.renderer), nil
}

// attachToolbar creates the search box and filter of a list and links them.
// Their state survives Ajax requests only; a full page load starts clean.
func (f *WidgetFactory) attachToolbar(ctx context.Context, req WidgetRequest, surface *ListSurface, opts entities.ModeOptions, side string) error {
	list := surface.ListWidget
	parent := req.Relation.Parent()

	if opts.ShowSearch {
		search := widgets.NewSearchWidget(req.aliasPrefix()+side+"Search", "", f.renderer)
		if req.Ajax {
			term := f.state.GetString(ctx, req.SessionKey, search.Alias(), stateSearchTerm)
			search.SetActiveTerm(term)
			list.SetSearchTerm(term)
		} else if err := f.state.Reset(ctx, req.SessionKey, search.Alias()); err != nil {
			return fmt.Errorf("failed to reset search state: %w", err)
		}

		if err := search.BindEvent(widgets.EventSearchSubmit, func(ctx context.Context) error {
			list.SetSearchTerm(search.Term())
			list.SetPage(1)
			if !req.Ajax {
				return nil
			}
			return f.state.Put(ctx, req.SessionKey, search.Alias(), stateSearchTerm, search.Term())
		}); err != nil {
			return err
		}

		if opts.SearchScope != "" {
			fn, ok := f.scopes.Lookup(opts.SearchScope)
			if !ok {
				return fmt.Errorf("relation %s: search scope %q is not registered", req.Relation.Definition().Name, opts.SearchScope)
			}
			if err := list.BindEvent(widgets.EventListExtendQuery, func(ctx context.Context, filter *repositories.RecordFilter) error {
				if filter.Search != "" {
					fn(filter, parent)
				}
				return nil
			}); err != nil {
				return err
			}
		}
		surface.Search = search
	}

	if opts.Filter != nil && len(opts.Filter.Scopes) > 0 {
		filterWidget := widgets.NewFilterWidget(req.aliasPrefix()+side+"Filter", opts.Filter, f.renderer)
		if req.Ajax {
			if v, ok := f.state.Get(ctx, req.SessionKey, filterWidget.Alias(), stateScopes); ok {
				if names, ok := v.([]string); ok {
					stale := false
					for _, name := range names {
						if err := filterWidget.SetScopeValue(name, true); err != nil {
							f.logger.Debug("dropping stale filter scope",
								zap.String("filter", filterWidget.Alias()),
								zap.Error(err))
							stale = true
						}
					}
					if stale {
						if err := f.state.Put(ctx, req.SessionKey, filterWidget.Alias(), stateScopes, filterWidget.ActiveScopes()); err != nil {
							return fmt.Errorf("failed to save filter state: %w", err)
						}
					}
				}
			}
		} else if err := f.state.Reset(ctx, req.SessionKey, filterWidget.Alias()); err != nil {
			return fmt.Errorf("failed to reset filter state: %w", err)
		}

		if err := filterWidget.BindEvent(widgets.EventFilterUpdate, func(ctx context.Context) error {
			list.SetPage(1)
			if !req.Ajax {
				return nil
			}
			return f.state.Put(ctx, req.SessionKey, filterWidget.Alias(), stateScopes, filterWidget.ActiveScopes())
		}); err != nil {
			return err
		}
		if err := list.BindEvent(widgets.EventListExtendQuery, func(ctx context.Context, filter *repositories.RecordFilter) error {
			filterWidget.ApplyScopes(filter)
			return nil
		}); err != nil {
			return err
		}
		surface.Filter = filterWidget
	}
	return nil
}

func listColumns(opts entities.ModeOptions) []entities.ColumnDefinition {
	if opts.List == nil {
		return nil
	}
	return opts.List.Columns
}

func formFields(opts entities.ModeOptions) []entities.FieldDefinition {
	if opts.Form == nil {
		return nil
	}
	return opts.Form.Fields
}
