// Package runner executes discovered test cases through the configured
// toolchain pipeline and aggregates their results.
package runner

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Backseating-Committee-2k/test-runner/logging"
	"github.com/Backseating-Committee-2k/test-runner/metrics"
	"github.com/Backseating-Committee-2k/test-runner/pipeline"
	"github.com/Backseating-Committee-2k/test-runner/registry"
	"github.com/Backseating-Committee-2k/test-runner/types"
)

// maxDefaultConcurrency caps the automatically chosen worker count on large
// machines. Explicit Config.Concurrency values are not capped.
const maxDefaultConcurrency = 32

// RunnerResult captures the complete test run results
type RunnerResult struct {
	Tests    map[string]*types.TestResult
	Status   types.TestStatus
	Duration time.Duration
	Stats    ResultStats
	RunID    string
}

// ResultStats tracks test statistics for a run
type ResultStats struct {
	Total     int
	Passed    int
	Failed    int
	StartTime time.Time
	EndTime   time.Time
}

// String renders the final summary line of a run. The format is a stable
// part of the command line interface; scripts parse it.
func (r *RunnerResult) String() string {
	return fmt.Sprintf("Tests run: %d, Tests successful: %d, Tests failed: %d",
		r.Stats.Total, r.Stats.Passed, r.Stats.Failed)
}

// TestRunner defines the interface for running conformance tests
type TestRunner interface {
	RunAllTests(ctx context.Context) (*RunnerResult, error)
	RunTest(ctx context.Context, metadata types.TestMetadata) (*types.TestResult, error)
	SetFileLogger(logger *logging.FileLogger)
}

// runner struct implements TestRunner interface
type runner struct {
	registry    *registry.Registry
	executor    *pipeline.Executor
	concurrency int
	log         log.Logger
	runID       string
	fileLogger  *logging.FileLogger // Logger for storing test artifacts
	progress    ProgressIndicator
	tracer      trace.Tracer

	// Shared across workers; the summary is computed from these, so they
	// must be exact regardless of interleaving.
	testsRun    atomic.Int64
	testsFailed atomic.Int64
}

// Config holds configuration for creating a new runner
type Config struct {
	Registry    *registry.Registry
	Executor    *pipeline.Executor
	Concurrency int // number of worker goroutines; 0 means one per CPU
	Log         log.Logger
	FileLogger  *logging.FileLogger
	Progress    ProgressIndicator
}

// NewTestRunner creates a new test runner instance
func NewTestRunner(cfg Config) (TestRunner, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("pipeline executor is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = min(runtime.NumCPU(), maxDefaultConcurrency)
	}
	if cfg.Progress == nil {
		cfg.Progress = NewNoOpProgressIndicator()
	}

	cfg.Log.Debug("NewTestRunner()", "concurrency", cfg.Concurrency,
		"stages", len(cfg.Executor.Stages()))

	return &runner{
		registry:    cfg.Registry,
		executor:    cfg.Executor,
		concurrency: cfg.Concurrency,
		log:         cfg.Log,
		fileLogger:  cfg.FileLogger,
		progress:    cfg.Progress,
		tracer:      otel.Tracer("test runner"),
	}, nil
}

// RunAllTests discovers the current test set and runs every test case once
// through the pipeline, in parallel across the worker pool.
func (r *runner) RunAllTests(ctx context.Context) (*RunnerResult, error) {
	// Use fileLogger's runID if available, otherwise generate new
	if r.fileLogger != nil {
		r.runID = r.fileLogger.GetRunID()
	} else {
		r.runID = uuid.New().String()
	}
	defer func() {
		r.runID = ""
	}()

	start := time.Now()
	r.log.Debug("Running all tests", "run_id", r.runID)

	ctx, span := r.tracer.Start(ctx, "run all tests")
	defer span.End()

	r.testsRun.Store(0)
	r.testsFailed.Store(0)

	tests, err := r.registry.DiscoverTests(ctx)
	if err != nil {
		return nil, err
	}

	executor := NewParallelExecutor(r, r.concurrency, r.progress)
	result, err := executor.ExecuteTests(ctx, tests)
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	result.Stats.Total = int(r.testsRun.Load())
	result.Stats.Failed = int(r.testsFailed.Load())
	result.Stats.Passed = result.Stats.Total - result.Stats.Failed
	result.Stats.EndTime = time.Now()
	result.Status = determineRunStatus(result.Stats)
	result.RunID = r.runID

	r.progress.CompleteRun()

	return result, nil
}

// RunTest runs a single test case through the pipeline and evaluates the
// outcome against the test's declared expectation. Failures that concern only
// this test (a malformed directive, broken pipe I/O, an outcome mismatch) are
// reported in the result; only a spawn failure is returned as an error, since
// a missing tool breaks every test and must abort the run.
func (r *runner) RunTest(ctx context.Context, metadata types.TestMetadata) (result *types.TestResult, err error) {
	// Catch panics so a bug in outcome handling cannot take down the worker pool silently
	defer func() {
		if rec := recover(); rec != nil {
			errMsg := fmt.Sprintf("runtime error: %v", rec)
			r.log.Error("Panic in RunTest", "error", errMsg, "test", metadata.ID)

			if result == nil {
				result = &types.TestResult{
					Metadata: metadata,
					Status:   types.TestStatusFail,
					Error:    fmt.Errorf("%s", errMsg),
				}
			} else {
				result.Status = types.TestStatusFail
				result.Error = fmt.Errorf("%s", errMsg)
			}

			err = fmt.Errorf("%s", errMsg)
		}
	}()

	r.log.Info("Running test", "test", metadata.ID, "expectation", metadata.Expectation)
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("test %s", metadata.ID))
	defer span.End()

	start := time.Now()
	result = &types.TestResult{Metadata: metadata}

	if metadata.ParseError != nil {
		result.Status = types.TestStatusFail
		result.Error = metadata.ParseError
	} else {
		outcome, runErr := r.executor.Run(ctx, metadata.Path)
		switch {
		case runErr != nil && pipeline.IsSpawnError(runErr):
			metrics.RecordErrorDetails("spawn", runErr)
			return nil, runErr
		case runErr != nil:
			result.Status = types.TestStatusFail
			result.Error = runErr
		default:
			result.Outcome = outcome
			result.Status, result.Error = EvaluateOutcome(metadata.Expectation, outcome)
		}
	}

	result.Duration = time.Since(start)

	r.testsRun.Add(1)
	if result.Status == types.TestStatusFail {
		r.testsFailed.Add(1)
	}

	metrics.RecordTest(r.runID, metadata.ID, result.Status)

	if r.fileLogger != nil {
		if logErr := r.fileLogger.LogTestResult(result, r.runID); logErr != nil {
			r.log.Error("Failed to write test artifact", "test", metadata.ID, "error", logErr)
		}
	}

	return result, nil
}

// SetFileLogger sets the file logger for the runner. The next run writes its
// artifacts through it and adopts its run ID.
func (r *runner) SetFileLogger(logger *logging.FileLogger) {
	r.fileLogger = logger
}

// determineRunStatus determines the overall status of the test run. A run
// without any test cases passes.
func determineRunStatus(stats ResultStats) types.TestStatus {
	if stats.Failed > 0 {
		return types.TestStatusFail
	}
	return types.TestStatusPass
}
