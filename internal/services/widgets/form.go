package widgets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// Form contexts
const (
	FormContextCreate  = "create"
	FormContextUpdate  = "update"
	FormContextPreview = "preview"
	FormContextPivot   = "pivot"
)

var (
	validate     = validator.New()
	htmlPolicy   *bluemonday.Policy
	htmlPolicyMu sync.Once
)

func richTextPolicy() *bluemonday.Policy {
	htmlPolicyMu.Do(func() {
		htmlPolicy = bluemonday.UGCPolicy()
	})
	return htmlPolicy
}

// FormConfig configures a FormWidget.
type FormConfig struct {
	Alias     string
	ArrayName string // Post prefix; "Comment" reads Comment[body]
	Fields    []entities.FieldDefinition
	Context   string
}

// FormWidget edits the attributes of one record.
type FormWidget struct {
	cfg      FormConfig
	record   *entities.Record
	renderer Renderer
	errors   *entities.ValidationError
}

var _ Widget = (*FormWidget)(nil)

// NewFormWidget creates a form over record. New records get field defaults.
func NewFormWidget(cfg FormConfig, record *entities.Record, renderer Renderer) *FormWidget {
	if !record.Exists() {
		for _, f := range cfg.Fields {
			if f.Default != nil && record.Get(f.Name) == nil {
				record.Set(f.Name, f.Default)
			}
		}
	}
	return &FormWidget{cfg: cfg, record: record, renderer: renderer}
}

// Alias returns the widget alias.
func (w *FormWidget) Alias() string { return w.cfg.Alias }

// Config returns the widget configuration.
func (w *FormWidget) Config() FormConfig { return w.cfg }

// Record returns the record bound to the form.
func (w *FormWidget) Record() *entities.Record { return w.record }

// SetFormValues assigns data to the bound record.
func (w *FormWidget) SetFormValues(data map[string]any) {
	w.record.Fill(data)
}

// SetErrors attaches field messages shown on the next render.
func (w *FormWidget) SetErrors(errs *entities.ValidationError) {
	w.errors = errs
}

// inputName returns the post key of a field.
func (w *FormWidget) inputName(field string) string {
	if w.cfg.ArrayName == "" {
		return field
	}
	return w.cfg.ArrayName + "[" + field + "]"
}

// GetSaveData extracts, converts and validates the posted values of the form
// fields. Fields that were not posted keep their current value.
func (w *FormWidget) GetSaveData(post url.Values) (map[string]any, error) {
	data := make(map[string]any)
	verrs := entities.NewValidationError()

	for _, field := range w.cfg.Fields {
		raw, posted := post[w.inputName(field.Name)]

		var value any
		switch {
		case posted:
			converted, msg := convertField(field, lastValue(raw))
			if msg != "" {
				verrs.Add(field.Name, msg)
				continue
			}
			value = converted
			data[field.Name] = value
		case field.Type == "checkbox":
			value = false
			data[field.Name] = value
		default:
			value = w.record.Get(field.Name)
		}

		if field.Rules != "" {
			if msg := validateField(field, value); msg != "" {
				verrs.Add(field.Name, msg)
			}
		}
	}

	if verrs.HasErrors() {
		w.errors = verrs
		return nil, verrs
	}
	return data, nil
}

func lastValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}

// convertField converts a posted string to the field's type. A non-empty
// message reports an invalid value.
func convertField(field entities.FieldDefinition, raw string) (any, string) {
	switch field.Type {
	case "number":
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, ""
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, ""
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Sprintf("The %s field must be a number.", fieldLabel(field))
		}
		return f, ""
	case "checkbox":
		switch strings.ToLower(raw) {
		case "1", "true", "on", "yes":
			return true, ""
		}
		return false, ""
	case "dropdown":
		if raw == "" {
			return "", ""
		}
		for _, opt := range field.Options {
			if opt == raw {
				return raw, ""
			}
		}
		return nil, fmt.Sprintf("The selected %s is invalid.", fieldLabel(field))
	case "richeditor":
		return richTextPolicy().Sanitize(raw), ""
	default:
		return raw, ""
	}
}

// validateField checks value against the field rules. required only rejects a
// missing or blank value, so 0 and false count as given. The other rules run
// on the converted value and are skipped when it is blank.
func validateField(field entities.FieldDefinition, value any) string {
	required, rules := splitRules(field.Rules)
	label := fieldLabel(field)

	if !isFilled(value) {
		if required {
			return fmt.Sprintf("The %s field is required.", label)
		}
		return ""
	}
	if rules == "" {
		return ""
	}

	err := validate.Var(value, rules)
	if err == nil {
		return ""
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Sprintf("The %s field is invalid.", label)
	}

	fe := verrs[0]
	numeric := field.Type == "number"
	switch fe.Tag() {
	case "max":
		if numeric {
			return fmt.Sprintf("The %s field may not be greater than %s.", label, fe.Param())
		}
		return fmt.Sprintf("The %s field may not be greater than %s characters.", label, fe.Param())
	case "min":
		if numeric {
			return fmt.Sprintf("The %s field must be at least %s.", label, fe.Param())
		}
		return fmt.Sprintf("The %s field must be at least %s characters.", label, fe.Param())
	case "email":
		return fmt.Sprintf("The %s field must be a valid email address.", label)
	case "numeric", "number":
		return fmt.Sprintf("The %s field must be a number.", label)
	default:
		return fmt.Sprintf("The %s field is invalid.", label)
	}
}

// splitRules takes required and omitempty out of a validator tag.
func splitRules(rules string) (bool, string) {
	var (
		required bool
		rest     []string
	)
	for _, rule := range strings.Split(rules, ",") {
		switch strings.TrimSpace(rule) {
		case "required":
			required = true
		case "", "omitempty":
		default:
			rest = append(rest, rule)
		}
	}
	return required, strings.Join(rest, ",")
}

func isFilled(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	default:
		return true
	}
}

func fieldLabel(field entities.FieldDefinition) string {
	if field.Label != "" {
		return strings.ToLower(field.Label)
	}
	return strings.ReplaceAll(field.Name, "_", " ")
}

// Render renders the form fields with their current values.
func (w *FormWidget) Render(ctx context.Context) (string, error) {
	preview := w.cfg.Context == FormContextPreview

	fields := make([]map[string]any, 0, len(w.cfg.Fields))
	for _, field := range w.cfg.Fields {
		value := w.record.Get(field.Name)
		if value == nil {
			value = ""
		}
		if field.Type == "richeditor" {
			value = richTextPolicy().Sanitize(fmt.Sprint(value))
		}

		var message string
		if w.errors != nil {
			if msgs := w.errors.Fields[field.Name]; len(msgs) > 0 {
				message = msgs[0]
			}
		}

		label := field.Label
		if label == "" {
			label = field.Name
		}
		fields = append(fields, map[string]any{
			"name":       field.Name,
			"label":      label,
			"type":       field.Type,
			"input_name": w.inputName(field.Name),
			"value":      value,
			"options":    field.Options,
			"error":      message,
		})
	}

	return w.renderer.Render("widgets/form", map[string]any{
		"alias":   w.cfg.Alias,
		"context": w.cfg.Context,
		"preview": preview,
		"fields":  fields,
	})
}
