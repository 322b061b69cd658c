package stepflow

import (
	"fmt"
	"os"

	"github.com/stepflow-io/stepflow/script"
	"gopkg.in/yaml.v3"
)

// ActionOptions configures one action in a declarative definition.
type ActionOptions struct {
	Name                 string `json:"name" yaml:"name"`
	To                   string `json:"to" yaml:"to"`
	Condition            string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Description          string `json:"description,omitempty" yaml:"description,omitempty"`
	ConfirmationRequired bool   `json:"confirmation_required,omitempty" yaml:"confirmation_required,omitempty"`
}

// StepOptions configures one step in a declarative definition.
type StepOptions struct {
	Name            string           `json:"name" yaml:"name"`
	Description     string           `json:"description,omitempty" yaml:"description,omitempty"`
	Requirements    []string         `json:"requirements,omitempty" yaml:"requirements,omitempty"`
	SafePoint       bool             `json:"safe_point,omitempty" yaml:"safe_point,omitempty"`
	EntryConditions []string         `json:"entry_conditions,omitempty" yaml:"entry_conditions,omitempty"`
	Actions         []*ActionOptions `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// Options are used to configure a workflow definition.
type Options struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []*StepOptions `json:"steps" yaml:"steps"`
	ContextKeys []*ContextKey  `json:"context,omitempty" yaml:"context,omitempty"`

	// Compiler compiles condition expressions. Defaults to the Risor engine.
	Compiler script.Compiler `json:"-" yaml:"-"`
}

// Definition is the immutable model of one workflow type: its steps, actions,
// guards, and metadata. Build it once at process start and share it read-only
// across all executions of that type.
type Definition struct {
	name        string
	description string
	steps       []*StepDefinition
	stepsByName map[string]*StepDefinition
	contextKeys []*ContextKey
}

// New returns a new Definition configured with the given options. The first
// declared step is the initial step. Condition strings are compiled once,
// here, so a malformed expression fails at build time rather than during a
// transition.
func New(opts Options) (*Definition, error) {
	if opts.Name == "" {
		return nil, NewDefinitionError("workflow name required")
	}
	if len(opts.Steps) == 0 {
		return nil, NewDefinitionError("workflow %q must have at least one step", opts.Name)
	}
	compiler := opts.Compiler
	if compiler == nil {
		compiler = script.NewRisorScriptingEngine(script.DefaultGuardGlobals())
	}

	def := &Definition{
		name:        opts.Name,
		description: opts.Description,
		stepsByName: make(map[string]*StepDefinition, len(opts.Steps)),
		contextKeys: opts.ContextKeys,
	}
	for _, stepOpts := range opts.Steps {
		if stepOpts.Name == "" {
			return nil, NewDefinitionError("workflow %q has a step with no name", opts.Name)
		}
		if _, exists := def.stepsByName[stepOpts.Name]; exists {
			return nil, NewDefinitionError("duplicate step name %q", stepOpts.Name)
		}
		step := &StepDefinition{
			Name:          stepOpts.Name,
			Description:   stepOpts.Description,
			Requirements:  stepOpts.Requirements,
			SafePoint:     stepOpts.SafePoint,
			actionsByName: make(map[string]*ActionDefinition, len(stepOpts.Actions)),
		}
		for _, expr := range stepOpts.EntryConditions {
			guard, err := compileGuard(compiler, expr)
			if err != nil {
				return nil, NewDefinitionError("step %q: %v", step.Name, err)
			}
			step.EntryConditions = append(step.EntryConditions, guard)
		}
		for _, actionOpts := range stepOpts.Actions {
			action := &ActionDefinition{
				Name:                 actionOpts.Name,
				TargetStep:           actionOpts.To,
				Description:          actionOpts.Description,
				ConfirmationRequired: actionOpts.ConfirmationRequired,
			}
			if actionOpts.Condition != "" {
				guard, err := compileGuard(compiler, actionOpts.Condition)
				if err != nil {
					return nil, NewDefinitionError("step %q action %q: %v", step.Name, action.Name, err)
				}
				action.Guard = guard
			}
			if err := step.addAction(action); err != nil {
				return nil, err
			}
		}
		def.steps = append(def.steps, step)
		def.stepsByName[step.Name] = step
	}

	if issues := ValidateDefinition(def); len(issues) > 0 {
		return nil, NewDefinitionErrorWithDetails("workflow validation failed", issues)
	}
	return def, nil
}

func (s *StepDefinition) addAction(action *ActionDefinition) error {
	if action.Name == "" {
		return NewDefinitionError("step %q has an action with no name", s.Name)
	}
	if action.TargetStep == "" {
		return NewDefinitionError("step %q action %q has no target step", s.Name, action.Name)
	}
	if _, exists := s.actionsByName[action.Name]; exists {
		return NewDefinitionError("duplicate action name %q in step %q", action.Name, s.Name)
	}
	s.actions = append(s.actions, action)
	s.actionsByName[action.Name] = action
	return nil
}

// Name returns the workflow name.
func (d *Definition) Name() string {
	return d.name
}

// Description returns the workflow description.
func (d *Definition) Description() string {
	return d.description
}

// Steps returns the workflow steps in declaration order.
func (d *Definition) Steps() []*StepDefinition {
	return d.steps
}

// Step returns a step by name.
func (d *Definition) Step(name string) (*StepDefinition, bool) {
	step, ok := d.stepsByName[name]
	return step, ok
}

// StepNames returns the names of all steps in declaration order.
func (d *Definition) StepNames() []string {
	names := make([]string, 0, len(d.steps))
	for _, step := range d.steps {
		names = append(names, step.Name)
	}
	return names
}

// InitialStep returns the first declared step.
func (d *Definition) InitialStep() *StepDefinition {
	return d.steps[0]
}

// FinalSteps returns all terminal steps in declaration order.
func (d *Definition) FinalSteps() []*StepDefinition {
	var finals []*StepDefinition
	for _, step := range d.steps {
		if step.Terminal() {
			finals = append(finals, step)
		}
	}
	return finals
}

// ContextKeys returns the declared context keys.
func (d *Definition) ContextKeys() []*ContextKey {
	return d.contextKeys
}

// LoadFile loads a workflow definition from a YAML file.
func LoadFile(path string) (*Definition, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return LoadString(string(yamlData))
}

// LoadString loads a workflow definition from a YAML string.
func LoadString(data string) (*Definition, error) {
	var opts Options
	if err := yaml.Unmarshal([]byte(data), &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow definition: %w", err)
	}
	return New(opts)
}
