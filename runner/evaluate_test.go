package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Backseating-Committee-2k/test-runner/types"
)

func succeededOutcome() *types.PipelineOutcome {
	return &types.PipelineOutcome{
		Stages: []types.StageResult{
			{Name: "compile", Success: true, Stdout: []byte("jump main")},
			{Name: "execute", Success: true, Stdout: []byte("done")},
		},
		FailedIndex: -1,
	}
}

func failedOutcome(stderr string) *types.PipelineOutcome {
	return &types.PipelineOutcome{
		Stages: []types.StageResult{
			{Name: "compile", Success: true, Stdout: []byte("jump main")},
			{Name: "execute", Success: false, ExitCode: 1, Stderr: stderr},
		},
		FailedIndex: 1,
	}
}

func TestEvaluateOutcome_SuccessExpectedAndObserved(t *testing.T) {
	status, err := EvaluateOutcome(types.ExpectSuccess(), succeededOutcome())
	require.NoError(t, err)
	assert.Equal(t, types.TestStatusPass, status)
}

func TestEvaluateOutcome_ExpectedFailureObserved(t *testing.T) {
	status, err := EvaluateOutcome(
		types.ExpectFailure("assertion failed"),
		failedOutcome("runtime error: assertion failed at line 3\n"))
	require.NoError(t, err)
	assert.Equal(t, types.TestStatusPass, status)
}

func TestEvaluateOutcome_AllMessagesMustMatch(t *testing.T) {
	stderr := "error: type mismatch\nnote: expected U32\n"

	status, err := EvaluateOutcome(types.ExpectFailure("type mismatch", "expected U32"), failedOutcome(stderr))
	require.NoError(t, err)
	assert.Equal(t, types.TestStatusPass, status)

	status, err = EvaluateOutcome(types.ExpectFailure("type mismatch", "expected Bool"), failedOutcome(stderr))
	require.Error(t, err)
	assert.Equal(t, types.TestStatusFail, status)
}

func TestEvaluateOutcome_MessageOrderAndDuplicatesIrrelevant(t *testing.T) {
	stderr := "first problem, then second problem"

	status, err := EvaluateOutcome(
		types.ExpectFailure("second problem", "first problem", "second problem"),
		failedOutcome(stderr))
	require.NoError(t, err)
	assert.Equal(t, types.TestStatusPass, status)
}

func TestEvaluateOutcome_FinishedButFailureExpected(t *testing.T) {
	status, err := EvaluateOutcome(types.ExpectFailure("boom"), succeededOutcome())
	require.Error(t, err)
	assert.Equal(t, types.TestStatusFail, status)
	assert.Equal(t, `test execution finished, but error message "boom" was expected`, err.Error())
}

func TestEvaluateOutcome_FinishedButFailuresExpected(t *testing.T) {
	status, err := EvaluateOutcome(types.ExpectFailure("boom", "crash"), succeededOutcome())
	require.Error(t, err)
	assert.Equal(t, types.TestStatusFail, status)
	assert.Equal(t, `test execution finished, but error messages "boom", "crash" were expected`, err.Error())
}

func TestEvaluateOutcome_WrongErrorMessage(t *testing.T) {
	status, err := EvaluateOutcome(
		types.ExpectFailure("quux"),
		failedOutcome("runtime error: boom\n"))
	require.Error(t, err)
	assert.Equal(t, types.TestStatusFail, status)
	assert.Equal(t,
		"test aborted as expected, but with wrong error message:\n\texpected: \"quux\"\n\t     got: \"runtime error: boom\"",
		err.Error())
}

func TestEvaluateOutcome_UnexpectedFailure(t *testing.T) {
	status, err := EvaluateOutcome(
		types.ExpectSuccess(),
		failedOutcome("error: no main function\nhint: define main\n"))
	require.Error(t, err)
	assert.Equal(t, types.TestStatusFail, status)
	assert.Equal(t, "error: no main function\n\thint: define main", err.Error())
}

func TestEvaluateOutcome_UnexpectedFailureWithoutOutput(t *testing.T) {
	status, err := EvaluateOutcome(types.ExpectSuccess(), failedOutcome(""))
	require.Error(t, err)
	assert.Equal(t, types.TestStatusFail, status)
	assert.Equal(t, "stage execute failed with exit code 1 and no error output", err.Error())
}

func TestEvaluateOutcome_StripsANSIBeforeMatching(t *testing.T) {
	stderr := "\x1b[1m\x1b[31merror:\x1b[0m assertion \x1b[33mfailed\x1b[0m\n"

	status, err := EvaluateOutcome(types.ExpectFailure("error: assertion failed"), failedOutcome(stderr))
	require.NoError(t, err)
	assert.Equal(t, types.TestStatusPass, status)

	_, err = EvaluateOutcome(types.ExpectSuccess(), failedOutcome(stderr))
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "\x1b", "diagnostics must not carry ANSI escapes")
}

func TestEvaluateOutcome_MatchesOnlyFailingStageStderr(t *testing.T) {
	outcome := &types.PipelineOutcome{
		Stages: []types.StageResult{
			{Name: "compile", Success: true, Stderr: "warning: boom ahead\n"},
			{Name: "execute", Success: false, ExitCode: 1, Stderr: "something else\n"},
		},
		FailedIndex: 1,
	}

	status, err := EvaluateOutcome(types.ExpectFailure("boom"), outcome)
	require.Error(t, err)
	assert.Equal(t, types.TestStatusFail, status, "messages on earlier stages must not satisfy the expectation")
}
