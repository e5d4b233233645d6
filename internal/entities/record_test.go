package entities

import "testing"

func TestToInt64(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   int64
		wantOK bool
	}{
		{"int64", int64(7), 7, true},
		{"int", 7, 7, true},
		{"float64 whole", float64(7), 7, true},
		{"float64 fraction", 7.5, 7, false},
		{"string", "42", 42, true},
		{"bad string", "abc", 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToInt64(tt.in)
			if ok != tt.wantOK || (ok && got != tt.want) {
				t.Errorf("ToInt64(%v) = %d, %v, want %d, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRecord_Clone(t *testing.T) {
	r := &Record{Model: "post", ID: 3, Attributes: map[string]any{"title": "a"}}
	c := r.Clone()
	c.Set("title", "b")
	if r.Get("title") != "a" {
		t.Error("clone shares attribute map")
	}
	if c.String() != "post:3" {
		t.Errorf("String() = %s, want post:3", c.String())
	}
}

func TestRecord_Exists(t *testing.T) {
	var nilRecord *Record
	if nilRecord.Exists() {
		t.Error("nil record reported as existing")
	}
	if NewRecord("post").Exists() {
		t.Error("new record reported as existing")
	}
	if !(&Record{Model: "post", ID: 1}).Exists() {
		t.Error("persisted record reported as missing")
	}
}
