package services

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/services/relation"
	"github.com/asakaida/relmanager/internal/services/widgets"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordServiceInterface defines the parent record operations of the backend forms
type RecordServiceInterface interface {
	Find(ctx context.Context, model string, id int64) (*entities.Record, error)
	Create(ctx context.Context, model string, post url.Values, sessionKey string) (*entities.Record, error)
	Update(ctx context.Context, model string, id int64, post url.Values, sessionKey string) (*entities.Record, error)
	Cancel(ctx context.Context, model string, sessionKey string) error
	RenderPage(ctx context.Context, model string, id int64) (*Page, error)
}

// Page is a rendered backend form with its relation fields.
type Page struct {
	HTML       string
	SessionKey string
}

// RecordService saves parent records and commits the relation edits staged
// while their form was open
type RecordService struct {
	controller *relation.Controller
	repos      relation.Repositories
	binder     *relation.Binder
	renderer   widgets.Renderer
	logger     *zap.Logger
}

// NewRecordService creates a new RecordService
func NewRecordService(controller *relation.Controller, repos relation.Repositories, binder *relation.Binder, renderer widgets.Renderer, logger *zap.Logger) *RecordService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordService{
		controller: controller,
		repos:      repos,
		binder:     binder,
		renderer:   renderer,
		logger:     logger,
	}
}

func (s *RecordService) form(model string, record *entities.Record) (*widgets.FormWidget, error) {
	fields, err := s.controller.Config().ModelFields(model)
	if err != nil {
		return nil, err
	}
	formContext := widgets.FormContextCreate
	if record.Exists() {
		formContext = widgets.FormContextUpdate
	}
	return widgets.NewFormWidget(widgets.FormConfig{
		Alias:     "form",
		ArrayName: relation.ArrayName(model),
		Fields:    fields,
		Context:   formContext,
	}, record, s.renderer), nil
}

// Find retrieves a record of a declared model
func (s *RecordService) Find(ctx context.Context, model string, id int64) (*entities.Record, error) {
	if _, err := s.controller.Config().Model(model); err != nil {
		return nil, err
	}
	record, err := s.repos.Records.Find(ctx, model, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s %d: %w", model, id, err)
	}
	return record, nil
}

// Create validates the posted form, saves a new record and commits the
// bindings staged under sessionKey, all in one transaction
func (s *RecordService) Create(ctx context.Context, model string, post url.Values, sessionKey string) (*entities.Record, error) {
	record := entities.NewRecord(model)
	form, err := s.form(model, record)
	if err != nil {
		return nil, err
	}
	data, err := form.GetSaveData(post)
	if err != nil {
		return nil, err
	}
	record.Fill(data)

	err = s.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repos.Records.Create(ctx, record); err != nil {
			return fmt.Errorf("failed to create %s: %w", model, err)
		}
		return s.binder.Commit(ctx, record, sessionKey)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("record created", zap.Stringer("record", record), zap.String("session_key", sessionKey))
	return record, nil
}

// Update validates the posted form, saves an existing record and commits the
// bindings staged under sessionKey, all in one transaction
func (s *RecordService) Update(ctx context.Context, model string, id int64, post url.Values, sessionKey string) (*entities.Record, error) {
	record, err := s.Find(ctx, model, id)
	if err != nil {
		return nil, err
	}
	form, err := s.form(model, record)
	if err != nil {
		return nil, err
	}
	data, err := form.GetSaveData(post)
	if err != nil {
		return nil, err
	}
	record.Fill(data)

	err = s.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repos.Records.Update(ctx, record); err != nil {
			return fmt.Errorf("failed to update %s: %w", record, err)
		}
		return s.binder.Commit(ctx, record, sessionKey)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("record updated", zap.Stringer("record", record), zap.String("session_key", sessionKey))
	return record, nil
}

// Cancel discards the relation edits of an abandoned form
func (s *RecordService) Cancel(ctx context.Context, model string, sessionKey string) error {
	if sessionKey == "" {
		return fmt.Errorf("session key is required")
	}
	if err := s.binder.Cancel(ctx, model, sessionKey); err != nil {
		return fmt.Errorf("failed to cancel %s form: %w", model, err)
	}
	return nil
}

// RenderPage renders the create (id 0) or update form of a record with a
// container for every relation field. Each page load opens a new session key.
func (s *RecordService) RenderPage(ctx context.Context, model string, id int64) (*Page, error) {
	def, err := s.controller.Config().Model(model)
	if err != nil {
		return nil, err
	}

	record := entities.NewRecord(model)
	if id != 0 {
		if record, err = s.Find(ctx, model, id); err != nil {
			return nil, err
		}
	}
	form, err := s.form(model, record)
	if err != nil {
		return nil, err
	}
	formHTML, err := form.Render(ctx)
	if err != nil {
		return nil, err
	}

	sessionKey := uuid.NewString()
	relations := make([]map[string]any, 0, len(def.Relations))
	for _, field := range def.RelationNames() {
		i, err := s.controller.Init(ctx, relation.RequestContext{
			Model:    model,
			ParentID: record.ID,
			Field:    field,
			Post:     url.Values{relation.FieldSessionKey: {sessionKey}},
		})
		if err != nil {
			return nil, err
		}
		resp, err := i.Render(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s.%s: %w", model, field, err)
		}
		relations = append(relations, map[string]any{
			"field": field,
			"label": i.Definition().Label,
			"html":  resp.HTML,
		})
	}

	base := "/backend/" + model
	action := base
	title := "Create " + def.Label
	if record.Exists() {
		action = base + "/" + strconv.FormatInt(record.ID, 10)
		title = "Edit " + def.Label
	}
	html, err := s.renderer.Render("record_page", map[string]any{
		"title":         title,
		"model":         model,
		"action":        action,
		"cancel_action": base + "/cancel",
		"session_key":   sessionKey,
		"form":          formHTML,
		"relations":     relations,
	})
	if err != nil {
		return nil, err
	}
	return &Page{HTML: html, SessionKey: sessionKey}, nil
}
