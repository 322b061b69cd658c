package stepflow

import (
	"github.com/stepflow-io/stepflow/script"
)

// ActionOption configures an action declared through the builder.
type ActionOption func(*ActionDefinition, *builderErrors)

type builderErrors struct {
	errs []error
}

func (b *builderErrors) add(err error) {
	if err != nil {
		b.errs = append(b.errs, err)
	}
}

// WithGuard sets a Go predicate guard on the action.
func WithGuard(guard Guard) ActionOption {
	return func(a *ActionDefinition, _ *builderErrors) {
		a.Guard = guard
	}
}

// WithGuardFunc sets a plain function guard on the action.
func WithGuardFunc(fn func(data map[string]any) (bool, error)) ActionOption {
	return func(a *ActionDefinition, _ *builderErrors) {
		a.Guard = GuardFunc(fn)
	}
}

// WithCondition sets a script-expression guard on the action. The expression
// is compiled at build time; compile failures fail the build.
func WithCondition(expr string) ActionOption {
	return func(a *ActionDefinition, errs *builderErrors) {
		guard, err := compileGuard(builderCompiler, expr)
		if err != nil {
			errs.add(NewDefinitionError("action %q: %v", a.Name, err))
			return
		}
		a.Guard = guard
	}
}

// WithActionDescription sets the action description.
func WithActionDescription(description string) ActionOption {
	return func(a *ActionDefinition, _ *builderErrors) {
		a.Description = description
	}
}

// WithConfirmation marks the action as requiring confirmation before it is
// performed. This is a UI hint only; the engine does not enforce it.
func WithConfirmation() ActionOption {
	return func(a *ActionDefinition, _ *builderErrors) {
		a.ConfirmationRequired = true
	}
}

// builderCompiler compiles expression conditions declared through the
// builder DSL. Shared across builds; the Risor engine is stateless apart
// from its globals.
var builderCompiler script.Compiler = script.NewRisorScriptingEngine(script.DefaultGuardGlobals())

// WorkflowBuilder accumulates step declarations for a Definition. Obtain one
// through DefineWorkflow.
type WorkflowBuilder struct {
	name        string
	description string
	steps       []*StepDefinition
	stepsByName map[string]*StepDefinition
	contextKeys []*ContextKey
	errs        builderErrors
}

// DefineWorkflow evaluates the builder function and returns the resulting
// immutable Definition. Duplicate step names, duplicate action names within
// a step, dangling action targets, and unreachable steps are all rejected
// here, at build time.
func DefineWorkflow(name string, fn func(*WorkflowBuilder)) (*Definition, error) {
	b := &WorkflowBuilder{
		name:        name,
		stepsByName: map[string]*StepDefinition{},
	}
	if fn != nil {
		fn(b)
	}
	return b.build()
}

// Description sets the workflow description.
func (b *WorkflowBuilder) Description(description string) {
	b.description = description
}

// ContextKey declares a context entry. Required keys without a declared
// default must be supplied when an execution is created.
func (b *WorkflowBuilder) ContextKey(key ContextKey) {
	b.contextKeys = append(b.contextKeys, &key)
}

// Step declares a step and evaluates its block. Declaration order matters:
// the first declared step is the workflow's initial step.
func (b *WorkflowBuilder) Step(name string, fn func(*StepBuilder)) {
	if name == "" {
		b.errs.add(NewDefinitionError("workflow %q has a step with no name", b.name))
		return
	}
	if _, exists := b.stepsByName[name]; exists {
		b.errs.add(NewDefinitionError("duplicate step name %q", name))
		return
	}
	step := &StepDefinition{
		Name:          name,
		actionsByName: map[string]*ActionDefinition{},
	}
	b.steps = append(b.steps, step)
	b.stepsByName[name] = step
	if fn != nil {
		fn(&StepBuilder{step: step, errs: &b.errs})
	}
}

func (b *WorkflowBuilder) build() (*Definition, error) {
	if b.name == "" {
		return nil, NewDefinitionError("workflow name required")
	}
	if len(b.errs.errs) > 0 {
		return nil, b.errs.errs[0]
	}
	if len(b.steps) == 0 {
		return nil, NewDefinitionError("workflow %q must have at least one step", b.name)
	}
	def := &Definition{
		name:        b.name,
		description: b.description,
		steps:       b.steps,
		stepsByName: b.stepsByName,
		contextKeys: b.contextKeys,
	}
	if issues := ValidateDefinition(def); len(issues) > 0 {
		return nil, NewDefinitionErrorWithDetails("workflow validation failed", issues)
	}
	return def, nil
}

// StepBuilder declares the contents of one step block.
type StepBuilder struct {
	step *StepDefinition
	errs *builderErrors
}

// Description sets the step description.
func (s *StepBuilder) Description(description string) {
	s.step.Description = description
}

// Requires records a human-readable precondition. Requirements are
// documentation only and are never evaluated.
func (s *StepBuilder) Requires(requirements ...string) {
	s.step.Requirements = append(s.step.Requirements, requirements...)
}

// SafePoint marks the step as a designated rollback target.
func (s *StepBuilder) SafePoint() {
	s.step.SafePoint = true
}

// EntryCondition adds a guard that must hold before any action may be
// performed from this step.
func (s *StepBuilder) EntryCondition(guard Guard) {
	s.step.EntryConditions = append(s.step.EntryConditions, guard)
}

// EntryConditionExpr adds a script-expression entry condition.
func (s *StepBuilder) EntryConditionExpr(expr string) {
	guard, err := compileGuard(builderCompiler, expr)
	if err != nil {
		s.errs.add(NewDefinitionError("step %q: %v", s.step.Name, err))
		return
	}
	s.step.EntryConditions = append(s.step.EntryConditions, guard)
}

// Action registers a guarded transition from this step to the target step.
func (s *StepBuilder) Action(name, targetStep string, opts ...ActionOption) {
	action := &ActionDefinition{
		Name:       name,
		TargetStep: targetStep,
	}
	for _, opt := range opts {
		opt(action, s.errs)
	}
	s.errs.add(s.step.addAction(action))
}
