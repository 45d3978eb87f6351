package correlate

// UnknownActivity is returned when an entity's activity cannot be resolved.
const UnknownActivity = "Unknown"

// States tracks state names and the current state of every entity seen in
// a trace. The zero value is not usable; call NewStates.
type States struct {
	names   map[string]string // state id -> state name
	current map[string]string // entity id -> state id
}

// NewStates creates an empty state table.
func NewStates() *States {
	return &States{
		names:   make(map[string]string),
		current: make(map[string]string),
	}
}

// Define sets the name of a state id. Redefinitions overwrite.
func (s *States) Define(stateID, name string) {
	s.names[stateID] = name
}

// Push records stateID as the entity's current state. The id does not
// need to be defined yet; it is resolved on lookup.
func (s *States) Push(entity, stateID string) {
	s.current[entity] = stateID
}

// ActivityName resolves the name of the entity's current state, or
// UnknownActivity when the entity has no state or the state has no name.
func (s *States) ActivityName(entity string) string {
	stateID, ok := s.current[entity]
	if !ok {
		return UnknownActivity
	}
	name, ok := s.names[stateID]
	if !ok {
		return UnknownActivity
	}
	return name
}

// Entities returns the number of entities with a current state.
func (s *States) Entities() int {
	return len(s.current)
}

// Definitions returns the number of defined state ids.
func (s *States) Definitions() int {
	return len(s.names)
}
