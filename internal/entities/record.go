package entities

import (
	"fmt"
	"strconv"
	"time"
)

// Record is a generic row of a model. An ID of zero means it is not persisted yet.
type Record struct {
	Model      string
	ID         int64
	Attributes map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewRecord returns an empty, unsaved record of the given model.
func NewRecord(model string) *Record {
	return &Record{Model: model, Attributes: make(map[string]any)}
}

// Exists reports whether the record has been persisted.
func (r *Record) Exists() bool {
	return r != nil && r.ID != 0
}

// Get returns an attribute value or nil.
func (r *Record) Get(key string) any {
	if r == nil || r.Attributes == nil {
		return nil
	}
	return r.Attributes[key]
}

// Set assigns an attribute value.
func (r *Record) Set(key string, value any) {
	if r.Attributes == nil {
		r.Attributes = make(map[string]any)
	}
	r.Attributes[key] = value
}

// Fill assigns every value of data.
func (r *Record) Fill(data map[string]any) {
	for k, v := range data {
		r.Set(k, v)
	}
}

// Int64 returns an attribute as an id. It accepts the numeric shapes produced
// by JSON decoding and by form posts.
func (r *Record) Int64(key string) (int64, bool) {
	return ToInt64(r.Get(key))
}

// String returns a string representation of the record
// Format: model:id
func (r *Record) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s:%d", r.Model, r.ID)
}

// Clone returns a copy with its own attribute map.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Attributes = make(map[string]any, len(r.Attributes))
	for k, v := range r.Attributes {
		c.Attributes[k] = v
	}
	return &c
}

// Validate checks if the record is valid for persistence.
func (r *Record) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("record model is required")
	}
	return nil
}

// ToInt64 converts id-like values to int64.
func ToInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), n == float64(int64(n))
	case string:
		id, err := strconv.ParseInt(n, 10, 64)
		return id, err == nil
	default:
		return 0, false
	}
}

// RecordIDs returns the ids of records in order.
func RecordIDs(records []*Record) []int64 {
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}
