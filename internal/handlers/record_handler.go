package handlers

import (
	"net/http"
	"strconv"

	"github.com/asakaida/relmanager/internal/services"
	"github.com/asakaida/relmanager/internal/services/relation"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RecordHandler serves the parent record pages and their save and cancel actions
type RecordHandler struct {
	records services.RecordServiceInterface
	logger  *zap.Logger
}

// NewRecordHandler creates a new RecordHandler
func NewRecordHandler(records services.RecordServiceInterface, logger *zap.Logger) *RecordHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordHandler{records: records, logger: logger}
}

// Register adds the record routes to r
func (h *RecordHandler) Register(r gin.IRouter) {
	r.GET("/backend/:model/create", h.CreatePage)
	r.GET("/backend/:model/:id", h.UpdatePage)
	r.POST("/backend/:model", h.Create)
	r.POST("/backend/:model/cancel", h.Cancel)
	r.POST("/backend/:model/:id", h.Update)
}

func recordURL(model string, id int64) string {
	return "/backend/" + model + "/" + strconv.FormatInt(id, 10)
}

// CreatePage renders the form of a new record
func (h *RecordHandler) CreatePage(c *gin.Context) {
	h.renderPage(c, 0)
}

// UpdatePage renders the form of an existing record
func (h *RecordHandler) UpdatePage(c *gin.Context) {
	id, err := parseRecordID(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.renderPage(c, id)
}

func (h *RecordHandler) renderPage(c *gin.Context, id int64) {
	page, err := h.records.RenderPage(c.Request.Context(), c.Param("model"), id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page.HTML))
}

// Create saves a new record and commits its staged relation edits
func (h *RecordHandler) Create(c *gin.Context) {
	post, err := postValues(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{keyErrorMessage: errorMessage(err)})
		return
	}
	model := c.Param("model")

	record, err := h.records.Create(c.Request.Context(), model, post, post.Get(relation.FieldSessionKey))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.saved(c, recordURL(model, record.ID), "Created")
}

// Update saves an existing record and commits its staged relation edits
func (h *RecordHandler) Update(c *gin.Context) {
	id, err := parseRecordID(c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if id == 0 {
		h.Create(c)
		return
	}
	post, err := postValues(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{keyErrorMessage: errorMessage(err)})
		return
	}
	model := c.Param("model")

	record, err := h.records.Update(c.Request.Context(), model, id, post, post.Get(relation.FieldSessionKey))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.saved(c, recordURL(model, record.ID), "Saved")
}

// Cancel discards the staged relation edits of an abandoned form
func (h *RecordHandler) Cancel(c *gin.Context) {
	post, err := postValues(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{keyErrorMessage: errorMessage(err)})
		return
	}
	model := c.Param("model")

	if err := h.records.Cancel(c.Request.Context(), model, post.Get(relation.FieldSessionKey)); err != nil {
		writeError(c, h.logger, err)
		return
	}
	h.saved(c, "/backend/"+model+"/create", "")
}

func (h *RecordHandler) saved(c *gin.Context, location, message string) {
	if !isAjax(c) {
		c.Redirect(http.StatusSeeOther, location)
		return
	}
	body := gin.H{keyRedirect: location}
	if message != "" {
		body[keyFlashMessages] = flash(message)
	}
	c.JSON(http.StatusOK, body)
}
