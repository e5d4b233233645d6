package entities

import (
	"errors"
	"testing"
)

func TestParseRelationType(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    RelationType
		wantErr bool
	}{
		{name: "exact", raw: "belongsToMany", want: RelationBelongsToMany},
		{name: "lower case", raw: "hasmany", want: RelationHasMany},
		{name: "surrounding spaces", raw: "  morphOne ", want: RelationMorphOne},
		{name: "unknown", raw: "hasOneThrough", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRelationType(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedRelationType) {
					t.Fatalf("ParseRelationType(%q) error = %v, want ErrUnsupportedRelationType", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRelationType(%q) unexpected error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseRelationType(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestRelationType_Family(t *testing.T) {
	want := map[RelationType]RelationFamily{
		RelationBelongsTo:      FamilyParentKey,
		RelationHasOne:         FamilyChildKey,
		RelationHasMany:        FamilyChildKey,
		RelationMorphOne:       FamilyChildKey,
		RelationMorphMany:      FamilyChildKey,
		RelationBelongsToMany:  FamilyPivot,
		RelationMorphToMany:    FamilyPivot,
		RelationMorphedByMany:  FamilyPivot,
		RelationHasManyThrough: FamilyThrough,
	}

	for _, rt := range AllRelationTypes() {
		if got := rt.Family(); got != want[rt] {
			t.Errorf("%s.Family() = %v, want %v", rt, got, want[rt])
		}
		if !rt.Valid() {
			t.Errorf("%s.Valid() = false", rt)
		}
	}

	if RelationType("hasOneThrough").Valid() {
		t.Error("unknown relation type reported as valid")
	}
}

func TestRelationType_IsMorph(t *testing.T) {
	morphs := map[RelationType]bool{
		RelationMorphOne:      true,
		RelationMorphMany:     true,
		RelationMorphToMany:   true,
		RelationMorphedByMany: true,
	}
	for _, rt := range AllRelationTypes() {
		if got := rt.IsMorph(); got != morphs[rt] {
			t.Errorf("%s.IsMorph() = %v, want %v", rt, got, morphs[rt])
		}
	}
}
