package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Backseating-Committee-2k/test-runner/logging"
	"github.com/Backseating-Committee-2k/test-runner/pipeline"
	"github.com/Backseating-Committee-2k/test-runner/registry"
	"github.com/Backseating-Committee-2k/test-runner/types"
)

// The fake toolchain stands in for compiler and VM: the compile stage echoes
// the test file, the execute stage aborts with a fixed message whenever the
// piped source contains the word ABORT.
const fakeExecuteScript = `if grep -q ABORT; then echo "runtime error: boom" >&2; exit 1; fi; echo executed`

func fakeToolchain(t *testing.T) *pipeline.Executor {
	t.Helper()
	stages := []pipeline.Stage{
		{Name: "compile", Command: "sh", Args: []string{"-c", `cat "$0"`}, Input: pipeline.InputFile},
		{Name: "execute", Command: "sh", Args: []string{"-c", fakeExecuteScript}, Input: pipeline.InputPipe},
	}
	executor, err := pipeline.NewExecutor(stages, "", log.New())
	require.NoError(t, err)
	return executor
}

func brokenToolchain(t *testing.T) *pipeline.Executor {
	t.Helper()
	stages := []pipeline.Stage{
		{Name: "compile", Command: filepath.Join(t.TempDir(), "missing-seatbelt"), Input: pipeline.InputFile},
	}
	executor, err := pipeline.NewExecutor(stages, "", log.New())
	require.NoError(t, err)
	return executor
}

func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// writeCorpus lays out a small test suite covering every evaluation path.
// It returns the directory and the expected status per test ID.
func writeCorpus(t *testing.T) (string, map[string]types.TestStatus) {
	t.Helper()
	dir := t.TempDir()

	writeTestFile(t, dir, "test_print.bs", "// simple print test\nprint hello\n")
	writeTestFile(t, dir, "nested/test_ok.bs", "print nested\n")
	writeTestFile(t, dir, "test_declared_abort.bs", "// fails_with = \"boom\"\nABORT now\n")
	writeTestFile(t, dir, "test_multi.bs", "// fails_with = \"runtime error\", \"boom\"\nABORT\n")
	writeTestFile(t, dir, "test_wrong_msg.bs", "// fails_with = \"quux\"\nABORT\n")
	writeTestFile(t, dir, "test_unexpected.bs", "ABORT\n")
	writeTestFile(t, dir, "test_should_fail.bs", "// fails_with = \"boom\"\nprint fine\n")
	writeTestFile(t, dir, "test_bad_directive.bs", "// fails_with = \"unclosed\nABORT\n")

	// Not part of the suite: wrong name, wrong extension.
	writeTestFile(t, dir, "helper.bs", "ABORT\n")
	writeTestFile(t, dir, "notes/test_notes.txt", "ABORT\n")

	return dir, map[string]types.TestStatus{
		"test_print.bs":          types.TestStatusPass,
		"nested/test_ok.bs":      types.TestStatusPass,
		"test_declared_abort.bs": types.TestStatusPass,
		"test_multi.bs":          types.TestStatusPass,
		"test_wrong_msg.bs":      types.TestStatusFail,
		"test_unexpected.bs":     types.TestStatusFail,
		"test_should_fail.bs":    types.TestStatusFail,
		"test_bad_directive.bs":  types.TestStatusFail,
	}
}

func newRunnerForDir(t *testing.T, dir string, executor *pipeline.Executor, concurrency int, fileLogger *logging.FileLogger) TestRunner {
	t.Helper()
	reg, err := registry.NewRegistry(registry.Config{Log: log.New(), TestDir: dir})
	require.NoError(t, err)

	r, err := NewTestRunner(Config{
		Registry:    reg,
		Executor:    executor,
		Concurrency: concurrency,
		Log:         log.New(),
		FileLogger:  fileLogger,
	})
	require.NoError(t, err)
	return r
}

func TestRunAllTests(t *testing.T) {
	dir, want := writeCorpus(t)
	r := newRunnerForDir(t, dir, fakeToolchain(t), 4, nil)

	result, err := r.RunAllTests(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.TestStatusFail, result.Status)
	assert.Equal(t, 8, result.Stats.Total)
	assert.Equal(t, 4, result.Stats.Passed)
	assert.Equal(t, 4, result.Stats.Failed)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, "Tests run: 8, Tests successful: 4, Tests failed: 4", result.String())

	require.Len(t, result.Tests, len(want))
	for id, wantStatus := range want {
		res, ok := result.Tests[id]
		require.True(t, ok, "missing result for %s", id)
		assert.Equal(t, wantStatus, res.Status, "status of %s", id)
	}
}

func TestRunAllTests_Diagnostics(t *testing.T) {
	dir, _ := writeCorpus(t)
	r := newRunnerForDir(t, dir, fakeToolchain(t), 4, nil)

	result, err := r.RunAllTests(context.Background())
	require.NoError(t, err)

	wrongMsg := result.Tests["test_wrong_msg.bs"]
	require.NotNil(t, wrongMsg.Error)
	assert.Equal(t,
		"test aborted as expected, but with wrong error message:\n\texpected: \"quux\"\n\t     got: \"runtime error: boom\"",
		wrongMsg.Error.Error())

	unexpected := result.Tests["test_unexpected.bs"]
	require.NotNil(t, unexpected.Error)
	assert.Equal(t, "runtime error: boom", unexpected.Error.Error())

	shouldFail := result.Tests["test_should_fail.bs"]
	require.NotNil(t, shouldFail.Error)
	assert.Equal(t, `test execution finished, but error message "boom" was expected`, shouldFail.Error.Error())

	badDirective := result.Tests["test_bad_directive.bs"]
	require.NotNil(t, badDirective.Error)
	assert.Contains(t, badDirective.Error.Error(), "malformed fails_with directive")

	passed := result.Tests["test_declared_abort.bs"]
	assert.NoError(t, passed.Error)
	require.NotNil(t, passed.Outcome)
	assert.False(t, passed.Outcome.Success())
}

func TestRunAllTests_SerialMatchesParallel(t *testing.T) {
	dir, _ := writeCorpus(t)

	parallel, err := newRunnerForDir(t, dir, fakeToolchain(t), 8, nil).RunAllTests(context.Background())
	require.NoError(t, err)
	serial, err := newRunnerForDir(t, dir, fakeToolchain(t), 1, nil).RunAllTests(context.Background())
	require.NoError(t, err)

	assert.Equal(t, serial.Stats.Total, parallel.Stats.Total)
	assert.Equal(t, serial.Stats.Passed, parallel.Stats.Passed)
	assert.Equal(t, serial.Stats.Failed, parallel.Stats.Failed)
	assert.Equal(t, serial.Status, parallel.Status)

	require.Len(t, parallel.Tests, len(serial.Tests))
	for id, res := range serial.Tests {
		assert.Equal(t, res.Status, parallel.Tests[id].Status, "status of %s", id)
	}
}

func TestRunAllTests_CountersExactUnderConcurrency(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 15; i++ {
		writeTestFile(t, dir, filepath.Join("pass", "test_"+string(rune('a'+i))+".bs"), "print ok\n")
		writeTestFile(t, dir, filepath.Join("fail", "test_"+string(rune('a'+i))+".bs"), "ABORT\n")
	}

	r := newRunnerForDir(t, dir, fakeToolchain(t), 8, nil)
	result, err := r.RunAllTests(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 30, result.Stats.Total)
	assert.Equal(t, 15, result.Stats.Passed)
	assert.Equal(t, 15, result.Stats.Failed)
	assert.Len(t, result.Tests, 30)
}

func TestRunAllTests_EmptyDirectory(t *testing.T) {
	r := newRunnerForDir(t, t.TempDir(), fakeToolchain(t), 4, nil)

	result, err := r.RunAllTests(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.TestStatusPass, result.Status)
	assert.Equal(t, 0, result.Stats.Total)
	assert.Equal(t, "Tests run: 0, Tests successful: 0, Tests failed: 0", result.String())
}

func TestRunAllTests_SpawnErrorAbortsRun(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "test_anything.bs", "print ok\n")

	r := newRunnerForDir(t, dir, brokenToolchain(t), 4, nil)

	result, err := r.RunAllTests(context.Background())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "could not be executed")
	assert.Contains(t, err.Error(), "failed to spawn process")
}

func TestRunAllTests_WritesArtifacts(t *testing.T) {
	dir, _ := writeCorpus(t)

	fileLogger, err := logging.NewFileLogger(t.TempDir(), "artifact-run")
	require.NoError(t, err)

	r := newRunnerForDir(t, dir, fakeToolchain(t), 4, fileLogger)
	result, err := r.RunAllTests(context.Background())
	require.NoError(t, err)
	require.NoError(t, fileLogger.Complete(fileLogger.GetRunID()))

	assert.Equal(t, "artifact-run", result.RunID)

	assert.FileExists(t, filepath.Join(fileLogger.GetFailedDir(), "test_wrong_msg.bs.log"))
	assert.FileExists(t, filepath.Join(fileLogger.GetFailedDir(), "test_bad_directive.bs.log"))
	assert.FileExists(t, filepath.Join(fileLogger.GetPassedDir(), "test_print.bs.log"))
	assert.FileExists(t, filepath.Join(fileLogger.GetPassedDir(), "nested_test_ok.bs.log"))

	data, err := os.ReadFile(filepath.Join(fileLogger.GetFailedDir(), "test_wrong_msg.bs.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "test aborted as expected")
}

func TestRunTest_ParseErrorDoesNotRunPipeline(t *testing.T) {
	dir := t.TempDir()
	writeTestFile(t, dir, "test_broken.bs", "// fails_with = oops\n")

	// A broken toolchain would abort the run; a parse error must not get
	// that far.
	tr := newRunnerForDir(t, dir, brokenToolchain(t), 1, nil)
	r := tr.(*runner)

	md := types.TestMetadata{
		ID:         "test_broken.bs",
		Path:       filepath.Join(dir, "test_broken.bs"),
		ParseError: assert.AnError,
	}

	result, err := r.RunTest(context.Background(), md)
	require.NoError(t, err)
	assert.Equal(t, types.TestStatusFail, result.Status)
	assert.Equal(t, assert.AnError, result.Error)
	assert.Nil(t, result.Outcome)
}

func TestNewTestRunner_Validation(t *testing.T) {
	reg, err := registry.NewRegistry(registry.Config{Log: log.New(), TestDir: t.TempDir()})
	require.NoError(t, err)

	_, err = NewTestRunner(Config{Executor: fakeToolchain(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry is required")

	_, err = NewTestRunner(Config{Registry: reg})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline executor is required")
}
