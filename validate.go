package stepflow

import "fmt"

// ValidateDefinition statically analyzes a definition for completeness and
// reachability. An empty result means the definition is valid. Catching
// dangling targets and orphaned steps here turns a class of runtime failures
// into load-time failures.
func ValidateDefinition(def *Definition) []string {
	var issues []string
	if def == nil || len(def.steps) == 0 {
		return append(issues, "workflow has no steps")
	}

	// Every action must target a declared step.
	for _, step := range def.steps {
		for _, action := range step.actions {
			if _, ok := def.stepsByName[action.TargetStep]; !ok {
				issues = append(issues, fmt.Sprintf(
					"Step '%s' action '%s' targets undefined step '%s'",
					step.Name, action.Name, action.TargetStep))
			}
		}
	}

	// Every non-initial step must be reachable from the initial step.
	reachable := map[string]bool{def.steps[0].Name: true}
	queue := []*StepDefinition{def.steps[0]}
	for len(queue) > 0 {
		step := queue[0]
		queue = queue[1:]
		for _, action := range step.actions {
			target, ok := def.stepsByName[action.TargetStep]
			if !ok || reachable[target.Name] {
				continue
			}
			reachable[target.Name] = true
			queue = append(queue, target)
		}
	}
	for _, step := range def.steps {
		if !reachable[step.Name] {
			issues = append(issues, fmt.Sprintf("Step '%s' is unreachable", step.Name))
		}
	}
	return issues
}
