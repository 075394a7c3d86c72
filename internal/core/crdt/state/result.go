package state

// StateResult describes what reconciliation did to the stored state.
type StateResult uint8

const (
	NoChanges StateResult = iota
	StateUpdatedTimestamp
	StateUpdatedData
	StateOutdatedTimestamp
	StateAppendedData
	ComponentDeleted
	EntityDeleted
)

func (r StateResult) String() string {
	switch r {
	case NoChanges:
		return "no_changes"
	case StateUpdatedTimestamp:
		return "updated_timestamp"
	case StateUpdatedData:
		return "updated_data"
	case StateOutdatedTimestamp:
		return "outdated_timestamp"
	case StateAppendedData:
		return "appended_data"
	case ComponentDeleted:
		return "component_deleted"
	case EntityDeleted:
		return "entity_deleted"
	default:
		return "unknown"
	}
}

// Effect is what the world outside the store has to do in response.
type Effect uint8

const (
	EffectNoChanges Effect = iota
	EffectComponentAdded
	EffectComponentModified
	EffectComponentDeleted
	EffectEntityDeleted
)

func (e Effect) String() string {
	switch e {
	case EffectNoChanges:
		return "no_changes"
	case EffectComponentAdded:
		return "component_added"
	case EffectComponentModified:
		return "component_modified"
	case EffectComponentDeleted:
		return "component_deleted"
	case EffectEntityDeleted:
		return "entity_deleted"
	default:
		return "unknown"
	}
}

// Result pairs the state change with its effect.
type Result struct {
	State  StateResult
	Effect Effect
}

// Changed reports whether the message altered the store.
func (r Result) Changed() bool {
	return r.Effect != EffectNoChanges
}
