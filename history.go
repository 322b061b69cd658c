package stepflow

import "fmt"

// historyChainIssues checks the append-only audit trail for gaps: the first
// record must start at the initial step, and each record's destination must
// be the next record's origin. Returns one issue string per violation.
func historyChainIssues(initialStep string, history []TransitionRecord) []string {
	var issues []string
	if len(history) == 0 {
		return issues
	}
	if history[0].FromStep != initialStep {
		issues = append(issues, fmt.Sprintf(
			"history begins at step '%s' instead of initial step '%s'",
			history[0].FromStep, initialStep))
	}
	for i := 0; i < len(history)-1; i++ {
		if history[i].ToStep != history[i+1].FromStep {
			issues = append(issues, fmt.Sprintf(
				"history has a gap at entry %d: transition ends at '%s' but the next begins at '%s'",
				i, history[i].ToStep, history[i+1].FromStep))
		}
	}
	return issues
}
