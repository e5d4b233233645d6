package relation

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/services/widgets"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Ajax handler names.
const (
	HandlerManageForm        = "onRelationManageForm"
	HandlerManageCreate      = "onRelationManageCreate"
	HandlerManageUpdate      = "onRelationManageUpdate"
	HandlerManageDelete      = "onRelationManageDelete"
	HandlerManageAdd         = "onRelationManageAdd"
	HandlerManageRemove      = "onRelationManageRemove"
	HandlerManagePivotForm   = "onRelationManagePivotForm"
	HandlerManagePivotCreate = "onRelationManagePivotCreate"
	HandlerManagePivotUpdate = "onRelationManagePivotUpdate"
	HandlerClickViewList     = "onRelationClickViewList"
	HandlerButtonCreate      = "onRelationButtonCreate"
	HandlerButtonUpdate      = "onRelationButtonUpdate"
	HandlerButtonAdd         = "onRelationButtonAdd"
	HandlerButtonLink        = "onRelationButtonLink"
	HandlerButtonDelete      = "onRelationButtonDelete"
	HandlerButtonRemove      = "onRelationButtonRemove"
	HandlerButtonUnlink      = "onRelationButtonUnlink"
	HandlerSearch            = "onRelationSearch"
	HandlerFilter            = "onRelationFilter"
	HandlerPaginate          = "onRelationPaginate"
	HandlerSort              = "onRelationSort"
	HandlerRefresh           = "onRelationRefresh"
)

// Lists a search, filter, paginate or sort request can target.
const (
	SurfaceManage = "manage"
	SurfaceView   = "view"
)

// Post fields read by the controller.
const (
	FieldSessionKey         = "_session_key"
	FieldRelationSessionKey = "_relation_session_key"
	FieldRelationMode       = "_relation_mode"
	FieldEventTarget        = "_relation_event_target"
	FieldSurface            = "_relation_surface"
	FieldManageID           = "manage_id"
	FieldRecordID           = "record_id"
	FieldForeignID          = "foreign_id"
	FieldSearchTerm         = "search_term"
	FieldScopeName          = "scope_name"
	FieldScopeValue         = "scope_value"
	FieldPage               = "page"
	FieldSortColumn         = "sort_column"
	FieldSortDirection      = "sort_direction"
)

// RequestContext is one Ajax request against a relation field.
type RequestContext struct {
	Model       string
	ParentID    int64 // zero for a parent that is not saved yet
	Field       string
	Post        url.Values
	EventTarget entities.EventTarget // falls back to the posted _relation_event_target
	Ajax        bool
}

// Response is the outcome of an action.
type Response struct {
	HTML       string            // popup or container contents
	Partials   map[string]string // element selector to replacement HTML
	Flash      string
	ClosePopup bool
	Skipped    []int64 // batch ids that no longer resolved to a record
}

// Controller serves the Ajax handlers of relation fields.
type Controller struct {
	config   *ConfigResolver
	repos    Repositories
	binder   *Binder
	factory  *WidgetFactory
	renderer widgets.Renderer
	logger   *zap.Logger
	tracer   trace.Tracer
	state    *widgets.StateStore
	scopes   *ScopeRegistry
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithTracer sets the tracer used for action spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) { c.tracer = tracer }
}

// WithWidgetState keeps search and filter state between Ajax requests.
func WithWidgetState(state *widgets.StateStore) Option {
	return func(c *Controller) { c.state = state }
}

// WithScopes sets the registry of named query scopes.
func WithScopes(scopes *ScopeRegistry) Option {
	return func(c *Controller) { c.scopes = scopes }
}

// NewController creates a controller.
func NewController(config *ConfigResolver, repos Repositories, binder *Binder, renderer widgets.Renderer, opts ...Option) *Controller {
	c := &Controller{
		config:   config,
		repos:    repos,
		binder:   binder,
		renderer: renderer,
		logger:   zap.NewNop(),
		tracer:   noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.binder == nil {
		c.binder = NewBinder(repos, config, c.logger)
	}
	c.factory = NewWidgetFactory(repos.Records, c.binder, renderer, c.state, c.scopes, c.logger)
	return c
}

// Config returns the relation declarations the controller serves.
func (c *Controller) Config() *ConfigResolver { return c.config }

// Interaction is the state of one request against a relation field. It owns
// the manage and view contexts and shares them with the mode handlers.
type Interaction struct {
	c   *Controller
	req RequestContext

	def    *entities.RelationDefinition
	parent *entities.Record
	rel    *Relation

	sessionKey         string
	relationSessionKey string
	eventTarget        entities.EventTarget

	manageCtx *entities.ManageContext
	viewCtx   *entities.ViewContext

	manage *manageHandler
	view   *viewHandler
	pivot  *pivotHandler
}

// Init resolves the relation field, loads the parent and settles the modes.
func (c *Controller) Init(ctx context.Context, req RequestContext) (*Interaction, error) {
	if req.Post == nil {
		req.Post = url.Values{}
	}

	def, err := c.config.Definition(ctx, req.Model, req.Field)
	if err != nil {
		return nil, err
	}

	parent := entities.NewRecord(req.Model)
	if req.ParentID != 0 {
		parent, err = c.repos.Records.Find(ctx, req.Model, req.ParentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s %d: %w", req.Model, req.ParentID, err)
		}
	}

	rel, err := NewRelation(def, parent, c.repos, c.binder)
	if err != nil {
		return nil, err
	}

	viewMode, err := ResolveViewMode(def.Type, def.View.ForceViewMode)
	if err != nil {
		return nil, err
	}

	i := &Interaction{
		c:                  c,
		req:                req,
		def:                def,
		parent:             parent,
		rel:                rel,
		sessionKey:         req.Post.Get(FieldSessionKey),
		relationSessionKey: req.Post.Get(FieldRelationSessionKey),
		manageCtx: &entities.ManageContext{
			ID:         postInt64(req.Post, FieldManageID),
			ForeignIDs: postIDs(req.Post, FieldForeignID, FieldForeignID+"[]", "checked[]"),
		},
		viewCtx: &entities.ViewContext{Mode: viewMode, ForceMode: def.View.ForceViewMode},
	}
	if i.sessionKey == "" && !parent.Exists() {
		// Bindings staged without the form's key could never be committed.
		verr := entities.NewValidationError()
		verr.Add(FieldSessionKey, "The form session has expired. Please reload the page.")
		return nil, verr
	}
	if i.relationSessionKey == "" {
		i.relationSessionKey = uuid.NewString()
	}

	target := req.EventTarget
	if target == entities.EventNone {
		target = entities.EventTarget(req.Post.Get(FieldEventTarget))
	}
	if err := i.resolveManageMode(target, entities.ManageModeNone); err != nil {
		return nil, err
	}

	i.view = &viewHandler{i: i, ctx: i.viewCtx}
	i.manage = &manageHandler{i: i, ctx: i.manageCtx, view: i.viewCtx}
	i.pivot = &pivotHandler{i: i, ctx: i.manageCtx}
	return i, nil
}

func (i *Interaction) resolveManageMode(target entities.EventTarget, forced entities.ManageMode) error {
	mode, err := ResolveManageMode(ManageModeInput{
		Type:        i.def.Type,
		HasPivot:    i.def.HasPivot(),
		EventTarget: target,
		Posted:      i.req.Post.Get(FieldRelationMode),
		Forced:      forced,
	})
	if err != nil {
		return err
	}
	i.eventTarget = target
	i.manageCtx.Mode = mode
	i.manageCtx.ForceMode = forced
	return nil
}

// forceManageMode re-resolves the manage mode with a forced value. A posted
// mode still takes precedence.
func (i *Interaction) forceManageMode(mode entities.ManageMode) error {
	return i.resolveManageMode(i.eventTarget, mode)
}

func (i *Interaction) setEventTarget(target entities.EventTarget) error {
	return i.resolveManageMode(target, i.manageCtx.ForceMode)
}

// Definition returns the relation definition of the field.
func (i *Interaction) Definition() *entities.RelationDefinition { return i.def }

// Parent returns the parent record.
func (i *Interaction) Parent() *entities.Record { return i.parent }

// ManageContext returns the manage state of the interaction.
func (i *Interaction) ManageContext() *entities.ManageContext { return i.manageCtx }

// ViewContext returns the view state of the interaction.
func (i *Interaction) ViewContext() *entities.ViewContext { return i.viewCtx }

// SessionKey returns the deferred binding session of the parent form.
func (i *Interaction) SessionKey() string { return i.sessionKey }

// deferredKey returns the session key when mutations must be staged, or "".
func (i *Interaction) deferredKey() string {
	if i.def.DeferredBinding || !i.parent.Exists() {
		return i.sessionKey
	}
	return ""
}

func (i *Interaction) widgetRequest() WidgetRequest {
	return WidgetRequest{
		Relation:   i.rel,
		Manage:     i.manageCtx,
		View:       i.viewCtx,
		SessionKey: i.sessionKey,
		Ajax:       i.req.Ajax,
		Surface:    i.req.Post.Get(FieldSurface),
		Page:       int(postInt64(i.req.Post, FieldPage)),
		Sort: entities.SortSpec{
			Column:    i.req.Post.Get(FieldSortColumn),
			Direction: i.req.Post.Get(FieldSortDirection),
		},
	}
}

func (i *Interaction) containerID() string {
	return "RelationController-" + i.def.Name
}

// persistParent saves a belongsTo change made directly on a saved parent.
func (i *Interaction) persistParent(ctx context.Context, key string) error {
	if i.def.Type.Family() != entities.FamilyParentKey || key != "" || !i.parent.Exists() {
		return nil
	}
	if err := i.c.repos.Records.Update(ctx, i.parent); err != nil {
		return fmt.Errorf("failed to save %s: %w", i.parent, err)
	}
	return nil
}

func (i *Interaction) withinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if i.c.repos.Tx == nil {
		return fn(ctx)
	}
	return i.c.repos.Tx.WithinTx(ctx, fn)
}

// refresh re-renders the relation container after a mutation.
func (i *Interaction) refresh(ctx context.Context, flash string, closePopup bool) (*Response, error) {
	html, err := i.view.render(ctx)
	if err != nil {
		return nil, err
	}
	return &Response{
		Partials:   map[string]string{"#" + i.containerID(): html},
		Flash:      flash,
		ClosePopup: closePopup,
	}, nil
}

type action func(i *Interaction, ctx context.Context) (*Response, error)

var actions = map[string]action{
	HandlerManageForm:        (*Interaction).ManageForm,
	HandlerManageCreate:      (*Interaction).ManageCreate,
	HandlerManageUpdate:      (*Interaction).ManageUpdate,
	HandlerManageDelete:      (*Interaction).ManageDelete,
	HandlerManageAdd:         (*Interaction).ManageAdd,
	HandlerManageRemove:      (*Interaction).ManageRemove,
	HandlerManagePivotForm:   (*Interaction).ManagePivotForm,
	HandlerManagePivotCreate: (*Interaction).ManagePivotCreate,
	HandlerManagePivotUpdate: (*Interaction).ManagePivotUpdate,
	HandlerClickViewList:     (*Interaction).ClickViewList,
	HandlerButtonCreate:      (*Interaction).ButtonCreate,
	HandlerButtonUpdate:      (*Interaction).ButtonUpdate,
	HandlerButtonAdd:         (*Interaction).ButtonAdd,
	HandlerButtonLink:        (*Interaction).ButtonLink,
	HandlerButtonDelete:      (*Interaction).ButtonDelete,
	HandlerButtonRemove:      (*Interaction).ButtonRemove,
	HandlerButtonUnlink:      (*Interaction).ButtonUnlink,
	HandlerSearch:            (*Interaction).Search,
	HandlerFilter:            (*Interaction).Filter,
	HandlerPaginate:          (*Interaction).Paginate,
	HandlerSort:              (*Interaction).Sort,
	HandlerRefresh:           (*Interaction).Refresh,
}

// IsHandler reports whether name is a known Ajax handler.
func IsHandler(name string) bool {
	_, ok := actions[name]
	return ok
}

// Dispatch runs the named Ajax handler.
func (i *Interaction) Dispatch(ctx context.Context, handler string) (*Response, error) {
	run, ok := actions[handler]
	if !ok {
		return nil, fmt.Errorf("handler %q: %w", handler, entities.ErrUnsupportedOperation)
	}

	ctx, span := i.c.tracer.Start(ctx, "relation."+handler, trace.WithAttributes(
		attribute.String("relation.model", i.def.Model),
		attribute.String("relation.field", i.def.Name),
		attribute.String("relation.type", string(i.def.Type)),
	))
	defer span.End()

	i.c.logger.Debug("relation action",
		zap.String("field", i.def.Name),
		zap.String("handler", handler),
		zap.String("manage_mode", string(i.manageCtx.Mode)),
		zap.String("view_mode", string(i.viewCtx.Mode)))

	resp, err := run(i, ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(resp.Skipped) > 0 {
		i.c.logger.Info("skipped records that no longer exist",
			zap.String("field", i.def.Name),
			zap.String("handler", handler),
			zap.Int64s("skipped_ids", resp.Skipped))
		span.SetAttributes(attribute.Int64Slice("relation.skipped_ids", resp.Skipped))
	}
	return resp, nil
}

// Dispatch initializes an interaction for req and runs handler on it.
func (c *Controller) Dispatch(ctx context.Context, req RequestContext, handler string) (*Response, error) {
	if !IsHandler(handler) {
		return nil, fmt.Errorf("handler %q: %w", handler, entities.ErrUnsupportedOperation)
	}
	i, err := c.Init(ctx, req)
	if err != nil {
		return nil, err
	}
	return i.Dispatch(ctx, handler)
}

// ManageForm opens the manage popup of the current manage mode.
func (i *Interaction) ManageForm(ctx context.Context) (*Response, error) {
	return i.manage.form(ctx)
}

// ManageCreate creates a related record from the manage form and links it.
func (i *Interaction) ManageCreate(ctx context.Context) (*Response, error) {
	return i.manage.create(ctx)
}

// ManageUpdate saves the manage form of an existing related record.
func (i *Interaction) ManageUpdate(ctx context.Context) (*Response, error) {
	return i.manage.update(ctx)
}

// ManageDelete deletes the checked related records, or the displayed one.
func (i *Interaction) ManageDelete(ctx context.Context) (*Response, error) {
	return i.manage.delete(ctx)
}

// ManageAdd links existing records to the parent.
func (i *Interaction) ManageAdd(ctx context.Context) (*Response, error) {
	return i.manage.add(ctx)
}

// ManageRemove unlinks records from the parent without deleting them.
func (i *Interaction) ManageRemove(ctx context.Context) (*Response, error) {
	return i.manage.remove(ctx)
}

// ManagePivotForm opens the pivot data form for the selected records.
func (i *Interaction) ManagePivotForm(ctx context.Context) (*Response, error) {
	return i.pivot.form(ctx)
}

// ManagePivotCreate attaches the selected records with the posted pivot data.
func (i *Interaction) ManagePivotCreate(ctx context.Context) (*Response, error) {
	return i.pivot.create(ctx)
}

// ManagePivotUpdate saves the pivot data of one linked record.
func (i *Interaction) ManagePivotUpdate(ctx context.Context) (*Response, error) {
	return i.pivot.update(ctx)
}

// Render returns the relation container.
func (i *Interaction) Render(ctx context.Context) (*Response, error) {
	html, err := i.view.render(ctx)
	if err != nil {
		return nil, err
	}
	return &Response{HTML: html}, nil
}

// Refresh returns the relation container as a partial update.
func (i *Interaction) Refresh(ctx context.Context) (*Response, error) {
	return i.refresh(ctx, "", false)
}

// ClickViewList opens the manage popup for a row of the view list.
func (i *Interaction) ClickViewList(ctx context.Context) (*Response, error) {
	if err := i.setEventTarget(entities.EventList); err != nil {
		return nil, err
	}
	return i.manage.form(ctx)
}

// ButtonCreate opens an empty manage form.
func (i *Interaction) ButtonCreate(ctx context.Context) (*Response, error) {
	if err := i.setEventTarget(entities.EventButtonCreate); err != nil {
		return nil, err
	}
	i.manageCtx.ID = 0
	return i.manage.form(ctx)
}

// ButtonUpdate opens the manage form of the displayed record.
func (i *Interaction) ButtonUpdate(ctx context.Context) (*Response, error) {
	if err := i.setEventTarget(entities.EventButtonUpdate); err != nil {
		return nil, err
	}
	if !i.manageCtx.HasID() {
		rec, err := i.view.currentRecord(ctx)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("%s has no related record: %w", i.def.Name, entities.ErrRecordNotFound)
		}
		i.manageCtx.ID = rec.ID
	}
	return i.manage.form(ctx)
}

// ButtonAdd opens the list of records that can be added.
func (i *Interaction) ButtonAdd(ctx context.Context) (*Response, error) {
	if err := i.setEventTarget(entities.EventButtonAdd); err != nil {
		return nil, err
	}
	return i.manage.form(ctx)
}

// ButtonLink opens the list of records that can be linked.
func (i *Interaction) ButtonLink(ctx context.Context) (*Response, error) {
	if err := i.setEventTarget(entities.EventButtonLink); err != nil {
		return nil, err
	}
	return i.manage.form(ctx)
}

// ButtonDelete deletes the checked or displayed records.
func (i *Interaction) ButtonDelete(ctx context.Context) (*Response, error) {
	if err := i.setEventTarget(entities.EventButtonDelete); err != nil {
		return nil, err
	}
	return i.manage.delete(ctx)
}

// ButtonRemove unlinks the checked records.
func (i *Interaction) ButtonRemove(ctx context.Context) (*Response, error) {
	if err := i.setEventTarget(entities.EventButtonRemove); err != nil {
		return nil, err
	}
	return i.manage.remove(ctx)
}

// ButtonUnlink unlinks the displayed record.
func (i *Interaction) ButtonUnlink(ctx context.Context) (*Response, error) {
	if err := i.setEventTarget(entities.EventButtonUnlink); err != nil {
		return nil, err
	}
	return i.manage.remove(ctx)
}

// Search applies the posted search term to the manage or view list.
func (i *Interaction) Search(ctx context.Context) (*Response, error) {
	surface, err := i.surface(ctx)
	if err != nil {
		return nil, err
	}
	if surface.Search == nil {
		return nil, fmt.Errorf("%s has no search box: %w", i.def.Name, entities.ErrUnsupportedOperation)
	}
	if err := surface.Search.Submit(ctx, i.req.Post.Get(FieldSearchTerm)); err != nil {
		return nil, err
	}
	return i.renderSurface(ctx, surface)
}

// Filter toggles the posted filter scope of the manage or view list.
func (i *Interaction) Filter(ctx context.Context) (*Response, error) {
	surface, err := i.surface(ctx)
	if err != nil {
		return nil, err
	}
	if surface.Filter == nil {
		return nil, fmt.Errorf("%s has no filter: %w", i.def.Name, entities.ErrUnsupportedOperation)
	}
	active := postBool(i.req.Post, FieldScopeValue)
	if err := surface.Filter.Update(ctx, i.req.Post.Get(FieldScopeName), active); err != nil {
		return nil, fmt.Errorf("%w: %v", entities.ErrUnsupportedOperation, err)
	}
	return i.renderSurface(ctx, surface)
}

// Paginate shows the posted page of the manage or view list.
func (i *Interaction) Paginate(ctx context.Context) (*Response, error) {
	surface, err := i.surface(ctx)
	if err != nil {
		return nil, err
	}
	return i.renderSurface(ctx, surface)
}

// Sort orders the manage or view list by the posted column.
func (i *Interaction) Sort(ctx context.Context) (*Response, error) {
	if i.req.Post.Get(FieldSortColumn) == "" {
		return nil, fmt.Errorf("%s: no sort column posted: %w", i.def.Name, entities.ErrUnsupportedOperation)
	}
	surface, err := i.surface(ctx)
	if err != nil {
		return nil, err
	}
	return i.renderSurface(ctx, surface)
}

// surface builds the list targeted by a search, filter, paginate or sort request.
func (i *Interaction) surface(ctx context.Context) (*ListSurface, error) {
	var (
		w   widgets.Widget
		err error
	)
	if i.req.Post.Get(FieldSurface) == SurfaceManage {
		w, err = i.c.factory.BuildManageWidget(ctx, i.widgetRequest())
	} else {
		w, err = i.c.factory.BuildViewWidget(ctx, i.widgetRequest())
	}
	if err != nil {
		return nil, err
	}
	surface, ok := w.(*ListSurface)
	if !ok {
		return nil, fmt.Errorf("%s is not displayed as a list: %w", i.def.Name, entities.ErrUnsupportedOperation)
	}
	return surface, nil
}

func (i *Interaction) renderSurface(ctx context.Context, surface *ListSurface) (*Response, error) {
	html, err := surface.Render(ctx)
	if err != nil {
		return nil, err
	}
	return &Response{Partials: map[string]string{"#" + surface.Alias(): html}}, nil
}

func postInt64(post url.Values, key string) int64 {
	id, err := strconv.ParseInt(post.Get(key), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

// postIDs collects the positive ids posted under any of keys, without duplicates.
func postIDs(post url.Values, keys ...string) []int64 {
	var ids []int64
	seen := make(map[int64]bool)
	for _, key := range keys {
		for _, raw := range post[key] {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func postBool(post url.Values, key string) bool {
	switch post.Get(key) {
	case "1", "on", "true", "yes":
		return true
	}
	return false
}
