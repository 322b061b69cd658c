package stepflow

// ContextKey declares a context entry the workflow cares about. Required keys
// without a value are filled from Default at creation time, and are the only
// values auto-repair is allowed to fabricate.
type ContextKey struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
}

// ActionDefinition is a named, guarded transition out of a step.
type ActionDefinition struct {
	Name                 string
	TargetStep           string
	Description          string
	ConfirmationRequired bool

	// Guard gates availability. A nil guard means the action is always
	// available from its step.
	Guard Guard
}

// StepDefinition is a named state in the workflow's step graph. A step with
// no actions is terminal: entering it completes the execution.
type StepDefinition struct {
	Name        string
	Description string

	// Requirements are human-readable preconditions, documentation only.
	Requirements []string

	// SafePoint marks the step as a designated rollback target for recovery.
	SafePoint bool

	// EntryConditions must all hold against the context before any action
	// may be performed from this step.
	EntryConditions []Guard

	actions       []*ActionDefinition
	actionsByName map[string]*ActionDefinition
}

// Actions returns the step's actions in declaration order.
func (s *StepDefinition) Actions() []*ActionDefinition {
	return s.actions
}

// Action returns an action by name.
func (s *StepDefinition) Action(name string) (*ActionDefinition, bool) {
	action, ok := s.actionsByName[name]
	return action, ok
}

// ActionNames returns the step's action names in declaration order.
func (s *StepDefinition) ActionNames() []string {
	names := make([]string, 0, len(s.actions))
	for _, action := range s.actions {
		names = append(names, action.Name)
	}
	return names
}

// Terminal reports whether the step has no outgoing actions.
func (s *StepDefinition) Terminal() bool {
	return len(s.actions) == 0
}
