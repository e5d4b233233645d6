package entities

import "fmt"

// ManageMode selects the presentation surface used to edit a relation.
type ManageMode string

const (
	ManageModeNone  ManageMode = ""
	ManageModeList  ManageMode = "list"
	ManageModeForm  ManageMode = "form"
	ManageModePivot ManageMode = "pivot"
)

// ParseManageMode validates a posted manage mode. An empty string yields ManageModeNone.
func ParseManageMode(raw string) (ManageMode, error) {
	switch m := ManageMode(raw); m {
	case ManageModeNone, ManageModeList, ManageModeForm, ManageModePivot:
		return m, nil
	default:
		return ManageModeNone, fmt.Errorf("%w: %q", ErrInvalidManageMode, raw)
	}
}

// ViewMode selects whether a relation is displayed as one record or a collection.
type ViewMode string

const (
	ViewModeNone   ViewMode = ""
	ViewModeSingle ViewMode = "single"
	ViewModeMulti  ViewMode = "multi"
)

// ParseViewMode validates a configured view mode override.
func ParseViewMode(raw string) (ViewMode, error) {
	switch m := ViewMode(raw); m {
	case ViewModeNone, ViewModeSingle, ViewModeMulti:
		return m, nil
	default:
		return ViewModeNone, fmt.Errorf("invalid view mode %q", raw)
	}
}

// EventTarget names the UI element that initiated an Ajax request.
type EventTarget string

const (
	EventNone         EventTarget = ""
	EventButtonCreate EventTarget = "button-create"
	EventButtonUpdate EventTarget = "button-update"
	EventButtonLink   EventTarget = "button-link"
	EventButtonAdd    EventTarget = "button-add"
	EventButtonDelete EventTarget = "button-delete"
	EventButtonRemove EventTarget = "button-remove"
	EventButtonUnlink EventTarget = "button-unlink"
	// EventList is a row click inside the view list.
	EventList EventTarget = "list"
)

// ManageContext is the transient state of one "manage" popup interaction.
type ManageContext struct {
	Mode       ManageMode
	ID         int64   // record being edited; zero when creating
	ForeignIDs []int64 // candidates selected for pivot attach
	ForceMode  ManageMode
}

// HasID reports whether an existing record is being managed.
func (m *ManageContext) HasID() bool {
	return m != nil && m.ID != 0
}

// ViewContext is the transient state of the read-only side of a relation field.
type ViewContext struct {
	Mode      ViewMode
	ForceMode ViewMode
}
