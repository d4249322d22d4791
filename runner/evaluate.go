package runner

import (
	"fmt"
	"strings"

	"github.com/acarl005/stripansi"

	"github.com/Backseating-Committee-2k/test-runner/types"
)

// EvaluateOutcome decides whether a pipeline outcome satisfies the declared
// expectation. On failure the returned error carries the diagnostic shown to
// the user. Matching declared error messages is plain substring containment
// on the failing stage's stderr, deliberately loose so expectations tolerate
// surrounding context in real tool output.
func EvaluateOutcome(expectation types.ExpectedOutcome, outcome *types.PipelineOutcome) (types.TestStatus, error) {
	if outcome.Success() {
		if !expectation.ShouldFail {
			return types.TestStatusPass, nil
		}
		if len(expectation.Required) == 1 {
			return types.TestStatusFail, fmt.Errorf(
				"test execution finished, but error message %s was expected", expectation.QuotedRequired())
		}
		return types.TestStatusFail, fmt.Errorf(
			"test execution finished, but error messages %s were expected", expectation.QuotedRequired())
	}

	failed := outcome.FailedStage()
	stderrText := stripansi.Strip(failed.Stderr)

	if !expectation.ShouldFail {
		return types.TestStatusFail, fmt.Errorf("%s", formatUnexpectedFailure(failed, stderrText))
	}

	if containsAll(stderrText, expectation.Required) {
		return types.TestStatusPass, nil
	}
	return types.TestStatusFail, fmt.Errorf(
		"test aborted as expected, but with wrong error message:\n\texpected: %s\n\t     got: \"%s\"",
		expectation.QuotedRequired(), strings.TrimSpace(stderrText))
}

// formatUnexpectedFailure renders the failing stage's stderr with embedded
// newlines indented so multi line tool output stays readable under the
// per-test failure line.
func formatUnexpectedFailure(failed *types.StageResult, stderrText string) string {
	text := strings.TrimRight(stderrText, "\n")
	if strings.TrimSpace(text) == "" {
		return fmt.Sprintf("stage %s failed with exit code %d and no error output", failed.Name, failed.ExitCode)
	}
	return strings.ReplaceAll(text, "\n", "\n\t")
}

func containsAll(text string, required []string) bool {
	for _, msg := range required {
		if !strings.Contains(text, msg) {
			return false
		}
	}
	return true
}
