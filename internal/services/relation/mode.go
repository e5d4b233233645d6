package relation

import (
	"fmt"

	"github.com/asakaida/relmanager/internal/entities"
)

// ManageModeInput is everything the manage mode depends on.
type ManageModeInput struct {
	Type        entities.RelationType
	HasPivot    bool
	EventTarget entities.EventTarget
	Posted      string              // _relation_mode of the request
	Forced      entities.ManageMode // set by a handler before delegating
}

// ResolveManageMode picks the manage surface. The first rule that applies wins:
// posted mode, forced mode, the button that was pressed, then the relation type.
func ResolveManageMode(in ManageModeInput) (entities.ManageMode, error) {
	if in.Posted != "" {
		return entities.ParseManageMode(in.Posted)
	}

	if in.Forced != entities.ManageModeNone {
		return in.Forced, nil
	}

	switch in.EventTarget {
	case entities.EventButtonCreate, entities.EventButtonUpdate:
		return entities.ManageModeForm, nil
	case entities.EventButtonLink:
		// A many-to-many relation with pivot data is linked through the pivot surface.
		if !(in.Type.Family() == entities.FamilyPivot && in.HasPivot) {
			return entities.ManageModeList, nil
		}
	}

	switch in.Type.Family() {
	case entities.FamilyParentKey:
		return entities.ManageModeList, nil
	case entities.FamilyPivot:
		switch {
		case in.HasPivot:
			return entities.ManageModePivot, nil
		case in.EventTarget == entities.EventList:
			return entities.ManageModeForm, nil
		default:
			return entities.ManageModeList, nil
		}
	case entities.FamilyChildKey, entities.FamilyThrough:
		if in.EventTarget == entities.EventButtonAdd {
			return entities.ManageModeList, nil
		}
		return entities.ManageModeForm, nil
	default:
		return entities.ManageModeNone, fmt.Errorf("%w: %q", entities.ErrUnsupportedRelationType, in.Type)
	}
}

// ResolveViewMode picks between a single record preview and a list.
func ResolveViewMode(t entities.RelationType, forced entities.ViewMode) (entities.ViewMode, error) {
	if forced != entities.ViewModeNone {
		return forced, nil
	}
	if !t.Valid() {
		return entities.ViewModeNone, fmt.Errorf("%w: %q", entities.ErrUnsupportedRelationType, t)
	}
	if t.IsSingular() {
		return entities.ViewModeSingle, nil
	}
	return entities.ViewModeMulti, nil
}
