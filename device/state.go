package device

import "maps"

// TraitState holds the state fields of a single trait, e.g. {"isRunning": true, "isPaused": false}.
type TraitState map[string]any

// State maps each trait of a device to its current fields.
type State map[Trait]TraitState

// DefaultState returns the initial state for a device declaring the given traits.
func DefaultState(traits []Trait) State {
	state := State{}
	for _, trait := range traits {
		if defaults, ok := traitDefaults[trait]; ok {
			state[trait] = defaults.clone()
		}
	}
	return state
}

// Merge returns a new state with the fields of partial applied on top of s.
// Fields are merged per trait; traits and fields missing from partial are kept.
func (s State) Merge(partial State) State {
	merged := s.Clone()
	for trait, fields := range partial {
		current, ok := merged[trait]
		if !ok {
			current = TraitState{}
			merged[trait] = current
		}
		for key, value := range fields {
			current[key] = cloneValue(value)
		}
	}
	return merged
}

// Only returns the traits of s that are accepted by keep.
func (s State) Only(keep func(Trait) bool) State {
	filtered := State{}
	for trait, fields := range s {
		if keep(trait) {
			filtered[trait] = fields.clone()
		}
	}
	return filtered
}

func (s State) Clone() State {
	if s == nil {
		return nil
	}
	clone := make(State, len(s))
	for trait, fields := range s {
		clone[trait] = fields.clone()
	}
	return clone
}

// Flatten merges all trait fields into the single object used on the wire.
func (s State) Flatten() map[string]any {
	flat := map[string]any{}
	for _, fields := range s {
		for key, value := range fields {
			flat[key] = cloneValue(value)
		}
	}
	return flat
}

func (t TraitState) clone() TraitState {
	clone := make(TraitState, len(t))
	for key, value := range t {
		clone[key] = cloneValue(value)
	}
	return clone
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		clone := maps.Clone(v)
		for key, nested := range clone {
			clone[key] = cloneValue(nested)
		}
		return clone
	case []any:
		clone := make([]any, len(v))
		for i, nested := range v {
			clone[i] = cloneValue(nested)
		}
		return clone
	default:
		return v
	}
}
