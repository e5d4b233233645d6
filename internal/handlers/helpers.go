package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// === Shared Helper Functions for all handlers ===

// Response keys understood by the backend Ajax framework.
const (
	keyResult        = "result"
	keyFlashMessages = "X_OCTOBER_FLASH_MESSAGES"
	keyErrorFields   = "X_OCTOBER_ERROR_FIELDS"
	keyErrorMessage  = "X_OCTOBER_ERROR_MESSAGE"
	keyRedirect      = "X_OCTOBER_REDIRECT"
	keyClosePopup    = "X_OCTOBER_CLOSE_POPUP"
	keySkipped       = "X_RELATION_SKIPPED"
)

// headerEventTarget carries the toolbar button that triggered a relation request.
const headerEventTarget = "X-Relation-Event-Target"

// isAjax reports whether the request came from the Ajax framework.
func isAjax(c *gin.Context) bool {
	return c.GetHeader("X-Requested-With") == "XMLHttpRequest"
}

// parseRecordID parses a record id path segment. "new" addresses a record
// that is not saved yet.
func parseRecordID(raw string) (int64, error) {
	if raw == "new" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid record id %q: %w", raw, entities.ErrRecordNotFound)
	}
	return id, nil
}

// postValues returns the posted form values of the request.
func postValues(c *gin.Context) (url.Values, error) {
	if err := c.Request.ParseForm(); err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}
	return c.Request.PostForm, nil
}

// errorStatus maps a service error to an HTTP status code.
func errorStatus(err error) int {
	var verr *entities.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, entities.ErrRecordNotFound), errors.Is(err, entities.ErrRelationNotDefined):
		return http.StatusNotFound
	case errors.Is(err, entities.ErrUnsupportedOperation),
		errors.Is(err, entities.ErrUnsupportedRelationType),
		errors.Is(err, entities.ErrInvalidManageMode):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err in the shape the Ajax framework expects. Internal
// errors are logged and hidden from the client.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status := errorStatus(err)
	body := gin.H{}

	var verr *entities.ValidationError
	switch {
	case errors.As(err, &verr):
		body[keyErrorFields] = verr.Fields
		body[keyErrorMessage] = verr.FirstMessage()
	case status == http.StatusInternalServerError:
		logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		body[keyErrorMessage] = "An internal error occurred."
		_ = c.Error(err)
	default:
		body[keyErrorMessage] = errorMessage(err)
	}
	c.JSON(status, body)
}

// errorMessage capitalises the outermost error text for display.
func errorMessage(err error) string {
	msg := err.Error()
	if msg == "" {
		return msg
	}
	return strings.ToUpper(msg[:1]) + msg[1:]
}

func flash(message string) gin.H {
	return gin.H{"success": message}
}
