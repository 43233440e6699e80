package engine

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// ConfigurationError reports invalid or missing input. It is raised before
// any attempt is made, so the attempt log is always empty when it occurs.
type ConfigurationError struct {
	Reason string
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

// ExhaustionError reports that every candidate flavor failed. It carries
// the full attempt log so each flavor's own diagnostic stays visible.
type ExhaustionError struct {
	Attempts []Attempt
}

func (e ExhaustionError) Error() string {
	diagnostics := lo.Map(e.Attempts, func(attempt Attempt, _ int) string {
		return fmt.Sprintf("%s: %s", attempt.Candidate.Flavor, attempt.Diagnostic)
	})
	return fmt.Sprintf("all %d flavors failed: %s", len(e.Attempts), strings.Join(diagnostics, "; "))
}
