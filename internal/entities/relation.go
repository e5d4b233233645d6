package entities

import (
	"fmt"
	"strings"
)

// RelationDefinition is the static configuration of one relation field on a model.
// Example: post.comments is a hasMany relation to comment keyed by comment.post_id.
type RelationDefinition struct {
	Name       string       // Field name on the parent model (e.g., "comments")
	Label      string       // Human readable label
	Type       RelationType // Relation shape, immutable after load
	Model      string       // Parent model name (e.g., "post")
	Related    string       // Related model name (e.g., "comment")
	Key        string       // Foreign key (on parent for belongsTo, on child otherwise, owner column of pivots)
	OtherKey   string       // Related key column of pivot tables
	Table      string       // Pivot table name for many-to-many relations
	Morph      string       // Morph name; "<morph>_id" and "<morph>_type" for polymorphic relations
	Through    string       // Intermediate model for hasManyThrough
	ThroughKey string       // Key on the intermediate model pointing at the parent
	Conditions string       // Built-in constraint of the relation (raw SQL over the related table)
	Order      string       // Built-in order of the relation (e.g., "name desc")
	PivotData  []string     // Extra columns carried on pivot rows

	DeferredBinding bool // Always stage mutations under the session key
	ReadOnly        bool // Hide mutating toolbar buttons

	View   ModeOptions
	Manage ModeOptions
	Pivot  *PivotOptions // nil means no pivot form is configured
}

// ModeOptions holds the per-mode presentation overrides.
type ModeOptions struct {
	Form           *FormDefinition
	List           *ListDefinition
	Filter         *FilterDefinition
	Conditions     string
	Scope          string
	SearchMode     string // all, any or exact
	SearchScope    string
	RecordsPerPage int
	ShowSearch     bool
	ShowCheckboxes *bool
	ShowSorting    bool
	DefaultSort    SortSpec
	ToolbarButtons []string
	ForceViewMode  ViewMode
}

// PivotOptions configures the pivot data form of many-to-many relations.
type PivotOptions struct {
	Form *FormDefinition
}

// SortSpec is a column and direction pair.
type SortSpec struct {
	Column    string
	Direction string // asc or desc
}

// Desc reports whether the sort is descending.
func (s SortSpec) Desc() bool {
	return strings.EqualFold(s.Direction, "desc")
}

// IsZero reports whether no sort column is configured.
func (s SortSpec) IsZero() bool {
	return s.Column == ""
}

// ParseSortSpec parses "column" or "column direction".
func ParseSortSpec(raw string) SortSpec {
	parts := strings.Fields(raw)
	switch len(parts) {
	case 0:
		return SortSpec{}
	case 1:
		return SortSpec{Column: parts[0], Direction: "asc"}
	default:
		return SortSpec{Column: parts[0], Direction: strings.ToLower(parts[1])}
	}
}

// FormDefinition lists the editable fields of a form.
type FormDefinition struct {
	Fields []FieldDefinition
}

// FieldDefinition describes one form field.
type FieldDefinition struct {
	Name    string
	Label   string
	Type    string // text, textarea, richeditor, number, checkbox, dropdown
	Rules   string // validator tags (e.g., "required,max=255")
	Options []string
	Default any
}

// ListDefinition lists the columns of a grid.
type ListDefinition struct {
	Columns []ColumnDefinition
}

// ColumnDefinition describes one grid column.
type ColumnDefinition struct {
	Name       string
	Label      string
	Type       string
	Searchable bool
	Sortable   bool
}

// SearchableColumns returns the names of columns included in search.
func (l *ListDefinition) SearchableColumns() []string {
	if l == nil {
		return nil
	}
	var cols []string
	for _, c := range l.Columns {
		if c.Searchable {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// FilterDefinition lists the scopes of a filter widget.
type FilterDefinition struct {
	Scopes []FilterScope
}

// FilterScope is one filter toggle; when active, Attribute must equal Value.
type FilterScope struct {
	Name      string
	Label     string
	Attribute string
	Value     any
}

// HasPivot reports whether a pivot form is configured.
func (d *RelationDefinition) HasPivot() bool {
	return d != nil && d.Pivot != nil
}

// MorphTypeColumn returns the polymorphic type column name, or "" for non-morph relations.
func (d *RelationDefinition) MorphTypeColumn() string {
	if !d.Type.IsMorph() || d.Morph == "" {
		return ""
	}
	return d.Morph + "_type"
}

// Clone returns a deep copy so callers cannot mutate the loaded configuration.
func (d *RelationDefinition) Clone() *RelationDefinition {
	if d == nil {
		return nil
	}
	c := *d
	c.PivotData = append([]string(nil), d.PivotData...)
	c.View = d.View.clone()
	c.Manage = d.Manage.clone()
	if d.Pivot != nil {
		p := PivotOptions{Form: d.Pivot.Form.clone()}
		c.Pivot = &p
	}
	return &c
}

func (o ModeOptions) clone() ModeOptions {
	c := o
	c.Form = o.Form.clone()
	if o.List != nil {
		l := ListDefinition{Columns: append([]ColumnDefinition(nil), o.List.Columns...)}
		c.List = &l
	}
	if o.Filter != nil {
		f := FilterDefinition{Scopes: append([]FilterScope(nil), o.Filter.Scopes...)}
		c.Filter = &f
	}
	if o.ShowCheckboxes != nil {
		v := *o.ShowCheckboxes
		c.ShowCheckboxes = &v
	}
	c.ToolbarButtons = append([]string(nil), o.ToolbarButtons...)
	return c
}

func (f *FormDefinition) clone() *FormDefinition {
	if f == nil {
		return nil
	}
	c := FormDefinition{Fields: make([]FieldDefinition, len(f.Fields))}
	for i, field := range f.Fields {
		field.Options = append([]string(nil), field.Options...)
		c.Fields[i] = field
	}
	return &c
}

// Validate checks that the definition is complete for its relation type.
func (d *RelationDefinition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("relation name is required")
	}
	if d.Model == "" {
		return fmt.Errorf("relation %s: parent model is required", d.Name)
	}
	if d.Related == "" {
		return fmt.Errorf("relation %s: related model is required", d.Name)
	}
	switch d.Type.Family() {
	case FamilyUnknown:
		return fmt.Errorf("relation %s: %w: %q", d.Name, ErrUnsupportedRelationType, d.Type)
	case FamilyParentKey, FamilyChildKey:
		if d.Key == "" {
			return fmt.Errorf("relation %s: key is required", d.Name)
		}
	case FamilyPivot:
		if d.Table == "" {
			return fmt.Errorf("relation %s: pivot table is required", d.Name)
		}
	case FamilyThrough:
		if d.Through == "" || d.ThroughKey == "" || d.Key == "" {
			return fmt.Errorf("relation %s: through, throughKey and key are required", d.Name)
		}
	}
	if d.Type.IsMorph() && d.Morph == "" {
		return fmt.Errorf("relation %s: morph name is required for %s", d.Name, d.Type)
	}
	if d.Pivot != nil && d.Type.Family() != FamilyPivot {
		return fmt.Errorf("relation %s: pivot form requires a many-to-many relation", d.Name)
	}
	return nil
}
