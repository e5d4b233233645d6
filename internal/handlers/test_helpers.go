package handlers

import (
	"context"
	"net/url"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/services"
)

// Mock RecordService
type mockRecordService struct {
	findFunc       func(ctx context.Context, model string, id int64) (*entities.Record, error)
	createFunc     func(ctx context.Context, model string, post url.Values, sessionKey string) (*entities.Record, error)
	updateFunc     func(ctx context.Context, model string, id int64, post url.Values, sessionKey string) (*entities.Record, error)
	cancelFunc     func(ctx context.Context, model string, sessionKey string) error
	renderPageFunc func(ctx context.Context, model string, id int64) (*services.Page, error)
}

var _ services.RecordServiceInterface = (*mockRecordService)(nil)

func (m *mockRecordService) Find(ctx context.Context, model string, id int64) (*entities.Record, error) {
	if m.findFunc != nil {
		return m.findFunc(ctx, model, id)
	}
	return &entities.Record{Model: model, ID: id}, nil
}

func (m *mockRecordService) Create(ctx context.Context, model string, post url.Values, sessionKey string) (*entities.Record, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, model, post, sessionKey)
	}
	return &entities.Record{Model: model, ID: 1}, nil
}

func (m *mockRecordService) Update(ctx context.Context, model string, id int64, post url.Values, sessionKey string) (*entities.Record, error) {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, model, id, post, sessionKey)
	}
	return &entities.Record{Model: model, ID: id}, nil
}

func (m *mockRecordService) Cancel(ctx context.Context, model string, sessionKey string) error {
	if m.cancelFunc != nil {
		return m.cancelFunc(ctx, model, sessionKey)
	}
	return nil
}

func (m *mockRecordService) RenderPage(ctx context.Context, model string, id int64) (*services.Page, error) {
	if m.renderPageFunc != nil {
		return m.renderPageFunc(ctx, model, id)
	}
	return &services.Page{HTML: "<form></form>", SessionKey: "k"}, nil
}
