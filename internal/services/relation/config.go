package relation

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/asakaida/relmanager/internal/entities"
	"github.com/asakaida/relmanager/internal/repositories"
	"github.com/asakaida/relmanager/pkg/cache"
	"gopkg.in/yaml.v3"
)

// Mode option sets addressed by ConfigResolver.ModeOptions.
const (
	OptionsView   = "view"
	OptionsManage = "manage"
	OptionsPivot  = "pivot"
)

type fileConfig struct {
	Models map[string]modelConfig `yaml:"models"`
}

type modelConfig struct {
	Label     string                    `yaml:"label"`
	Fields    []fieldConfig             `yaml:"fields"`
	Columns   []columnConfig            `yaml:"columns"`
	Relations map[string]relationConfig `yaml:"relations"`
}

type fieldConfig struct {
	Name    string   `yaml:"name"`
	Label   string   `yaml:"label"`
	Type    string   `yaml:"type"`
	Rules   string   `yaml:"rules"`
	Options []string `yaml:"options"`
	Default any      `yaml:"default"`
}

type columnConfig struct {
	Name       string `yaml:"name"`
	Label      string `yaml:"label"`
	Type       string `yaml:"type"`
	Searchable bool   `yaml:"searchable"`
	Sortable   bool   `yaml:"sortable"`
}

type scopeConfig struct {
	Name      string `yaml:"name"`
	Label     string `yaml:"label"`
	Attribute string `yaml:"attribute"`
	Value     any    `yaml:"value"`
}

type modeConfig struct {
	Form           []fieldConfig  `yaml:"form"`
	List           []columnConfig `yaml:"list"`
	Filter         []scopeConfig  `yaml:"filter"`
	Conditions     string         `yaml:"conditions"`
	Scope          string         `yaml:"scope"`
	SearchMode     string         `yaml:"searchMode"`
	SearchScope    string         `yaml:"searchScope"`
	RecordsPerPage int            `yaml:"recordsPerPage"`
	ShowSearch     bool           `yaml:"showSearch"`
	ShowCheckboxes *bool          `yaml:"showCheckboxes"`
	ShowSorting    bool           `yaml:"showSorting"`
	DefaultSort    string         `yaml:"defaultSort"`
	ToolbarButtons []string       `yaml:"toolbarButtons"`
	ForceViewMode  string         `yaml:"viewMode"`
}

type relationConfig struct {
	Label           string      `yaml:"label"`
	Type            string      `yaml:"type"`
	Related         string      `yaml:"related"`
	Key             string      `yaml:"key"`
	OtherKey        string      `yaml:"otherKey"`
	Table           string      `yaml:"table"`
	Morph           string      `yaml:"name"`
	Through         string      `yaml:"through"`
	ThroughKey      string      `yaml:"throughKey"`
	Conditions      string      `yaml:"conditions"`
	Order           string      `yaml:"order"`
	PivotData       []string    `yaml:"pivotData"`
	DeferredBinding bool        `yaml:"deferredBinding"`
	ReadOnly        bool        `yaml:"readOnly"`
	View            modeConfig  `yaml:"view"`
	Manage          modeConfig  `yaml:"manage"`
	Pivot           *modeConfig `yaml:"pivot"`
}

// ModelDefinition is the declared shape of one model.
type ModelDefinition struct {
	Name      string
	Label     string
	Fields    []entities.FieldDefinition
	Columns   []entities.ColumnDefinition
	Relations map[string]*entities.RelationDefinition
}

// RelationNames returns the relation fields of the model in name order.
func (m *ModelDefinition) RelationNames() []string {
	names := make([]string, 0, len(m.Relations))
	for name := range m.Relations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConfigResolver hands out relation definitions loaded from the declaration file.
type ConfigResolver struct {
	models map[string]*ModelDefinition
	cache  cache.Cache
}

// LoadConfigFile reads and validates a relation declaration file.
func LoadConfigFile(path string, c cache.Cache) (*ConfigResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read relation config: %w", err)
	}
	return LoadConfig(data, c)
}

// LoadConfig parses and validates a relation declaration. c may be nil.
func LoadConfig(data []byte, c cache.Cache) (*ConfigResolver, error) {
	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse relation config: %w", err)
	}
	if len(raw.Models) == 0 {
		return nil, fmt.Errorf("relation config declares no models")
	}

	models := make(map[string]*ModelDefinition, len(raw.Models))
	for name, mc := range raw.Models {
		label := mc.Label
		if label == "" {
			label = titleCase(name)
		}
		models[name] = &ModelDefinition{
			Name:      name,
			Label:     label,
			Fields:    convertFields(mc.Fields),
			Columns:   convertColumns(mc.Columns),
			Relations: make(map[string]*entities.RelationDefinition, len(mc.Relations)),
		}
	}

	for name, mc := range raw.Models {
		for field, rc := range mc.Relations {
			def, err := convertRelation(name, field, rc)
			if err != nil {
				return nil, err
			}
			if _, ok := models[def.Related]; !ok {
				return nil, fmt.Errorf("relation %s.%s: related model %q is not declared", name, field, def.Related)
			}
			if def.Through != "" {
				if _, ok := models[def.Through]; !ok {
					return nil, fmt.Errorf("relation %s.%s: through model %q is not declared", name, field, def.Through)
				}
			}
			models[name].Relations[field] = def
		}
	}

	return &ConfigResolver{models: models, cache: c}, nil
}

func convertRelation(model, field string, rc relationConfig) (*entities.RelationDefinition, error) {
	relType, err := entities.ParseRelationType(rc.Type)
	if err != nil {
		return nil, fmt.Errorf("relation %s.%s: %w", model, field, err)
	}

	view, err := convertMode(rc.View)
	if err != nil {
		return nil, fmt.Errorf("relation %s.%s: %w", model, field, err)
	}
	manage, err := convertMode(rc.Manage)
	if err != nil {
		return nil, fmt.Errorf("relation %s.%s: %w", model, field, err)
	}

	def := &entities.RelationDefinition{
		Name:            field,
		Label:           rc.Label,
		Type:            relType,
		Model:           model,
		Related:         rc.Related,
		Key:             rc.Key,
		OtherKey:        rc.OtherKey,
		Table:           rc.Table,
		Morph:           rc.Morph,
		Through:         rc.Through,
		ThroughKey:      rc.ThroughKey,
		Conditions:      rc.Conditions,
		Order:           rc.Order,
		PivotData:       rc.PivotData,
		DeferredBinding: rc.DeferredBinding,
		ReadOnly:        rc.ReadOnly,
		View:            view,
		Manage:          manage,
	}
	if rc.Pivot != nil {
		def.Pivot = &entities.PivotOptions{Form: &entities.FormDefinition{Fields: convertFields(rc.Pivot.Form)}}
	}
	if def.Label == "" {
		def.Label = titleCase(rc.Related)
	}

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("model %s: %w", model, err)
	}
	return def, nil
}

func convertMode(mc modeConfig) (entities.ModeOptions, error) {
	forced, err := entities.ParseViewMode(mc.ForceViewMode)
	if err != nil {
		return entities.ModeOptions{}, err
	}
	switch mc.SearchMode {
	case "", "all", "any", "exact":
	default:
		return entities.ModeOptions{}, fmt.Errorf("invalid search mode %q", mc.SearchMode)
	}

	opts := entities.ModeOptions{
		Conditions:     mc.Conditions,
		Scope:          mc.Scope,
		SearchMode:     mc.SearchMode,
		SearchScope:    mc.SearchScope,
		RecordsPerPage: mc.RecordsPerPage,
		ShowSearch:     mc.ShowSearch,
		ShowCheckboxes: mc.ShowCheckboxes,
		ShowSorting:    mc.ShowSorting,
		DefaultSort:    entities.ParseSortSpec(mc.DefaultSort),
		ToolbarButtons: mc.ToolbarButtons,
		ForceViewMode:  forced,
	}
	if len(mc.Form) > 0 {
		opts.Form = &entities.FormDefinition{Fields: convertFields(mc.Form)}
	}
	if len(mc.List) > 0 {
		opts.List = &entities.ListDefinition{Columns: convertColumns(mc.List)}
	}
	if len(mc.Filter) > 0 {
		f := &entities.FilterDefinition{}
		for _, s := range mc.Filter {
			f.Scopes = append(f.Scopes, entities.FilterScope{Name: s.Name, Label: s.Label, Attribute: s.Attribute, Value: s.Value})
		}
		opts.Filter = f
	}
	return opts, nil
}

func convertFields(in []fieldConfig) []entities.FieldDefinition {
	out := make([]entities.FieldDefinition, 0, len(in))
	for _, f := range in {
		fieldType := f.Type
		if fieldType == "" {
			fieldType = "text"
		}
		out = append(out, entities.FieldDefinition{
			Name:    f.Name,
			Label:   f.Label,
			Type:    fieldType,
			Rules:   f.Rules,
			Options: f.Options,
			Default: f.Default,
		})
	}
	return out
}

func convertColumns(in []columnConfig) []entities.ColumnDefinition {
	out := make([]entities.ColumnDefinition, 0, len(in))
	for _, c := range in {
		out = append(out, entities.ColumnDefinition{
			Name:       c.Name,
			Label:      c.Label,
			Type:       c.Type,
			Searchable: c.Searchable,
			Sortable:   c.Sortable,
		})
	}
	return out
}

// Model returns the declared model.
func (r *ConfigResolver) Model(model string) (*ModelDefinition, error) {
	m, ok := r.models[model]
	if !ok {
		return nil, fmt.Errorf("model %q: %w", model, entities.ErrRelationNotDefined)
	}
	return m, nil
}

// ModelFields returns the form fields of a model.
func (r *ConfigResolver) ModelFields(model string) ([]entities.FieldDefinition, error) {
	m, err := r.Model(model)
	if err != nil {
		return nil, err
	}
	return append([]entities.FieldDefinition(nil), m.Fields...), nil
}

// Definition returns a copy of the relation definition with list and form
// defaults taken from the related model.
func (r *ConfigResolver) Definition(ctx context.Context, model, field string) (*entities.RelationDefinition, error) {
	key := "relation:" + model + "." + field
	if r.cache != nil {
		if v, ok := r.cache.Get(ctx, key); ok {
			if def, ok := v.(*entities.RelationDefinition); ok {
				return def.Clone(), nil
			}
		}
	}

	m, err := r.Model(model)
	if err != nil {
		return nil, err
	}
	declared, ok := m.Relations[field]
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", model, field, entities.ErrRelationNotDefined)
	}

	def := declared.Clone()
	related := r.models[def.Related]
	if def.View.List == nil {
		def.View.List = &entities.ListDefinition{Columns: append([]entities.ColumnDefinition(nil), related.Columns...)}
	}
	if def.View.Form == nil {
		def.View.Form = &entities.FormDefinition{Fields: append([]entities.FieldDefinition(nil), related.Fields...)}
	}
	if def.Manage.List == nil {
		def.Manage.List = &entities.ListDefinition{Columns: append([]entities.ColumnDefinition(nil), def.View.List.Columns...)}
	}
	if def.Manage.Form == nil {
		def.Manage.Form = &entities.FormDefinition{Fields: append([]entities.FieldDefinition(nil), def.View.Form.Fields...)}
	}

	if r.cache != nil {
		_ = r.cache.Set(ctx, key, def.Clone(), 0)
	}
	return def, nil
}

// ModeOptions returns the options of one presentation mode of def.
func (r *ConfigResolver) ModeOptions(def *entities.RelationDefinition, mode string) (entities.ModeOptions, error) {
	switch mode {
	case OptionsView:
		return def.View, nil
	case OptionsManage:
		return def.Manage, nil
	case OptionsPivot:
		if def.Pivot == nil {
			return entities.ModeOptions{}, fmt.Errorf("relation %s has no pivot form", def.Name)
		}
		return entities.ModeOptions{Form: def.Pivot.Form}, nil
	default:
		return entities.ModeOptions{}, fmt.Errorf("unknown option set %q", mode)
	}
}

// ScopeFunc narrows a related-record query using the parent record.
type ScopeFunc func(filter *repositories.RecordFilter, parent *entities.Record)

// ScopeRegistry maps scope names referenced by the declaration file to code.
type ScopeRegistry struct {
	mu     sync.RWMutex
	scopes map[string]ScopeFunc
}

// NewScopeRegistry creates an empty registry.
func NewScopeRegistry() *ScopeRegistry {
	return &ScopeRegistry{scopes: make(map[string]ScopeFunc)}
}

// Register adds or replaces a scope.
func (s *ScopeRegistry) Register(name string, fn ScopeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[name] = fn
}

// Lookup returns a registered scope.
func (s *ScopeRegistry) Lookup(name string) (ScopeFunc, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.scopes[name]
	return fn, ok
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' })
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// ArrayName returns the form post prefix of a model ("blog_post" posts BlogPost[...]).
func ArrayName(model string) string {
	return strings.ReplaceAll(titleCase(model), " ", "")
}
