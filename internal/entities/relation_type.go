package entities

import (
	"fmt"
	"strings"
)

// RelationType is the closed set of relationship shapes between a parent record
// and its related record(s). It is declared per field and never derived from data.
type RelationType string

const (
	RelationBelongsTo      RelationType = "belongsTo"
	RelationHasOne         RelationType = "hasOne"
	RelationHasMany        RelationType = "hasMany"
	RelationMorphOne       RelationType = "morphOne"
	RelationMorphMany      RelationType = "morphMany"
	RelationBelongsToMany  RelationType = "belongsToMany"
	RelationMorphToMany    RelationType = "morphToMany"
	RelationMorphedByMany  RelationType = "morphedByMany"
	RelationHasManyThrough RelationType = "hasManyThrough"
)

// AllRelationTypes lists every supported relation type in declaration order.
func AllRelationTypes() []RelationType {
	return []RelationType{
		RelationBelongsTo,
		RelationHasOne,
		RelationHasMany,
		RelationMorphOne,
		RelationMorphMany,
		RelationBelongsToMany,
		RelationMorphToMany,
		RelationMorphedByMany,
		RelationHasManyThrough,
	}
}

// RelationFamily groups relation types by where the link is stored.
type RelationFamily int

const (
	FamilyUnknown RelationFamily = iota
	// FamilyParentKey stores the link on the parent record (belongsTo).
	FamilyParentKey
	// FamilyChildKey stores the link on the related record (hasOne, hasMany and morph variants).
	FamilyChildKey
	// FamilyPivot stores the link in a join table.
	FamilyPivot
	// FamilyThrough resolves the link across an intermediate model and is read only.
	FamilyThrough
)

// ParseRelationType converts a declared type tag into a RelationType.
// Matching is case-insensitive so YAML authors may write "belongsto".
func ParseRelationType(raw string) (RelationType, error) {
	trimmed := strings.TrimSpace(raw)
	for _, t := range AllRelationTypes() {
		if strings.EqualFold(string(t), trimmed) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedRelationType, raw)
}

// Valid reports whether t is one of the declared relation types.
func (t RelationType) Valid() bool {
	return t.Family() != FamilyUnknown
}

// Family returns the storage family of the relation type.
func (t RelationType) Family() RelationFamily {
	switch t {
	case RelationBelongsTo:
		return FamilyParentKey
	case RelationHasOne, RelationHasMany, RelationMorphOne, RelationMorphMany:
		return FamilyChildKey
	case RelationBelongsToMany, RelationMorphToMany, RelationMorphedByMany:
		return FamilyPivot
	case RelationHasManyThrough:
		return FamilyThrough
	default:
		return FamilyUnknown
	}
}

// IsMorph reports whether the relation carries a polymorphic type column.
func (t RelationType) IsMorph() bool {
	switch t {
	case RelationMorphOne, RelationMorphMany, RelationMorphToMany, RelationMorphedByMany:
		return true
	}
	return false
}

// IsSingular reports whether the relation links at most one record.
func (t RelationType) IsSingular() bool {
	switch t {
	case RelationBelongsTo, RelationHasOne, RelationMorphOne:
		return true
	}
	return false
}

func (t RelationType) String() string {
	return string(t)
}
