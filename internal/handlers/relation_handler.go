package handlers

import (
	"net/http"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/infrastructure/metrics"
	"github.com/asakaida/relmanager/internal/services/relation"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RelationHandler serves the onRelation* Ajax handlers of relation fields
type RelationHandler struct {
	controller *relation.Controller
	collector  *metrics.Collector
	exporter   *metrics.PrometheusExporter
	logger     *zap.Logger
}

// NewRelationHandler creates a new RelationHandler. collector and exporter may be nil.
func NewRelationHandler(controller *relation.Controller, collector *metrics.Collector, exporter *metrics.PrometheusExporter, logger *zap.Logger) *RelationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelationHandler{
		controller: controller,
		collector:  collector,
		exporter:   exporter,
		logger:     logger,
	}
}

// Register adds the relation routes to r
func (h *RelationHandler) Register(r gin.IRouter) {
	r.POST("/backend/:model/:id/relation/:field/:handler", h.Handle)
}

// Handle runs one relation Ajax handler
func (h *RelationHandler) Handle(c *gin.Context) {
	handler := c.Param("handler")
	if !relation.IsHandler(handler) {
		c.JSON(http.StatusNotFound, gin.H{keyErrorMessage: "Unknown handler " + handler})
		return
	}

	parentID, err := parseRecordID(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	post, err := postValues(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{keyErrorMessage: errorMessage(err)})
		return
	}

	resp, err := h.controller.Dispatch(c.Request.Context(), relation.RequestContext{
		Model:       c.Param("model"),
		ParentID:    parentID,
		Field:       c.Param("field"),
		Post:        post,
		EventTarget: entities.EventTarget(c.GetHeader(headerEventTarget)),
		Ajax:        isAjax(c),
	}, handler)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	if n := len(resp.Skipped); n > 0 {
		if h.collector != nil {
			h.collector.RecordSkipped(handler, n)
		}
		if h.exporter != nil {
			h.exporter.RecordSkipped(handler, n)
		}
	}
	c.JSON(http.StatusOK, responseBody(resp))
}

func responseBody(resp *relation.Response) gin.H {
	body := gin.H{}
	for selector, html := range resp.Partials {
		body[selector] = html
	}
	if resp.HTML != "" {
		body[keyResult] = resp.HTML
	}
	if resp.Flash != "" {
		body[keyFlashMessages] = flash(resp.Flash)
	}
	if resp.ClosePopup {
		body[keyClosePopup] = true
	}
	if len(resp.Skipped) > 0 {
		body[keySkipped] = resp.Skipped
	}
	return body
}
