package routing

import (
	"strings"

	"threadline.app/processor/internal/analyzer"
	"threadline.app/processor/internal/model"
)

// Route returns the outputs a detected task should be created in. An output
// with no domain filter accepts every task; otherwise the task's domain must
// appear in the filter (case-insensitive). Outputs are independent, so one
// task may land in several destinations. Zero matches is a valid outcome,
// not an error.
func Route(task analyzer.Task, outputs []model.FlowOutput) []model.FlowOutput {
	var matched []model.FlowOutput
	for _, out := range outputs {
		if matches(task.Domain, out.DomainFilter) {
			matched = append(matched, out)
		}
	}
	return matched
}

func matches(domain string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if strings.EqualFold(f, domain) {
			return true
		}
	}
	return false
}
