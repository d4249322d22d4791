// Package testrunner wires discovery, the toolchain pipeline and the worker
// pool into a long-lived service that runs a conformance test suite once or
// on a fixed interval.
package testrunner

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Backseating-Committee-2k/test-runner/logging"
	"github.com/Backseating-Committee-2k/test-runner/pipeline"
	"github.com/Backseating-Committee-2k/test-runner/registry"
	"github.com/Backseating-Committee-2k/test-runner/runner"
	"github.com/Backseating-Committee-2k/test-runner/stdlib"
	"github.com/Backseating-Committee-2k/test-runner/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// app implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &app{}

// app is the test runner service: it stages the standard library, builds the
// stage pipeline and hands test runs to the scheduler.
type app struct {
	ctx     context.Context
	config  *Config
	version string

	registry  *registry.Registry
	staging   *stdlib.Staging
	runner    runner.TestRunner
	progress  runner.ProgressIndicator
	scheduler TestScheduler
	formatter ResultFormatter
	reporter  MetricsReporter
	result    *runner.RunnerResult

	shutdownCallback func(error) // Callback to signal application shutdown
}

// New creates the service from a validated Config. The toolchain pipeline is
// not built here; that happens in Start, after the standard library has been
// staged.
func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*app, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating test runner service",
		"testDir", config.TestDir,
		"pattern", config.Pattern,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce)

	reg, err := registry.NewRegistry(registry.Config{
		Log:     config.Log,
		TestDir: config.TestDir,
		Pattern: config.Pattern,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	return &app{
		ctx:              ctx,
		config:           config,
		version:          version,
		registry:         reg,
		staging:          stdlib.New(config.StdlibDir, config.StdlibGitURL, config.Log),
		scheduler:        NewDefaultTestScheduler(config.RunInterval, config.Log),
		formatter:        NewConsoleResultFormatter(config.Log),
		reporter:         NewDefaultMetricsReporter(),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start stages the standard library, builds the pipeline and runs the first
// test suite. In continuous mode it returns once the periodic runner is up;
// in run-once mode it reports the run's outcome and triggers shutdown.
// Start implements the cliapp.Lifecycle interface.
func (a *app) Start(ctx context.Context) error {
	a.ctx = ctx

	if a.config.RunOnce {
		a.config.Log.Info("Starting test runner in run-once mode")
	} else {
		a.config.Log.Info("Starting test runner in continuous mode", "interval", a.config.RunInterval)
	}

	if err := a.initRunner(ctx); err != nil {
		return NewRuntimeError(err)
	}

	a.scheduler.RegisterCallback(a.runTests)
	if err := a.scheduler.Start(ctx); err != nil {
		a.config.Log.Error("Runtime error running tests", "error", err)
		return err
	}

	if a.config.RunOnce {
		a.config.Log.Info("Tests completed, exiting (run-once mode)")

		if a.result != nil && a.result.Status == types.TestStatusFail {
			a.config.Log.Warn("Run-once test run completed with failures, returning exit code 1")
			return NewTestFailureError(a.result.String())
		}

		// All tests passed; ask the application to shut down cleanly.
		go func() {
			a.shutdownCallback(nil)
		}()
	}
	return nil
}

// initRunner stages the standard library and builds the pipeline executor and
// test runner from it.
func (a *app) initRunner(ctx context.Context) error {
	libDir, err := a.staging.Ensure(ctx)
	if err != nil {
		return fmt.Errorf("failed to stage standard library: %w", err)
	}

	var stages []pipeline.Stage
	if a.config.PipelineConfig != "" {
		stages, err = pipeline.Load(a.config.PipelineConfig, map[string]string{
			"TEST_DIR":   a.config.TestDir,
			"STDLIB_DIR": libDir,
		})
		if err != nil {
			return fmt.Errorf("failed to load pipeline config: %w", err)
		}
	} else {
		stages = pipeline.Default(a.config.SeatbeltPath, a.config.UpholstererPath, a.config.BackseaterPath, libDir)
	}

	executor, err := pipeline.NewExecutor(stages, a.config.TestDir, a.config.Log)
	if err != nil {
		return fmt.Errorf("failed to create pipeline executor: %w", err)
	}

	if a.config.ShowProgress {
		a.progress = runner.NewConsoleProgressIndicator(a.config.Log, a.config.ProgressInterval)
	}

	testRunner, err := runner.NewTestRunner(runner.Config{
		Registry:    a.registry,
		Executor:    executor,
		Concurrency: a.config.Concurrency,
		Log:         a.config.Log,
		Progress:    a.progress,
	})
	if err != nil {
		return fmt.Errorf("failed to create test runner: %w", err)
	}
	a.runner = testRunner
	return nil
}

// runTests runs the whole suite once and reports the results.
func (a *app) runTests() error {
	a.config.Log.Info("Running all tests...")

	fileLogger, err := logging.NewFileLogger(a.config.LogDir, uuid.New().String())
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to create artifact directory: %w", err))
	}
	a.runner.SetFileLogger(fileLogger)

	result, err := a.runner.RunAllTests(a.ctx)
	if err != nil {
		// This is a runtime error (not a test failure)
		a.config.Log.Error("Runtime error running tests", "error", err)
		return NewRuntimeError(err)
	}
	a.result = result

	if err := a.formatter.FormatResults(result); err != nil {
		a.config.Log.Error("Failed to print results", "error", err)
	}
	a.reporter.ReportResults(result.RunID, result)

	if err := fileLogger.LogSummary(result.String(), result.RunID); err != nil {
		a.config.Log.Error("Failed to write summary artifact", "error", err)
	}
	if err := fileLogger.Complete(result.RunID); err != nil {
		a.config.Log.Error("Failed to finalize artifacts", "error", err)
	}

	a.config.Log.Info("Test run completed",
		"run_id", result.RunID,
		"status", result.Status,
		"artifacts", fileLogger.GetRunDir())
	return nil
}

// Stop stops the service and removes the staged standard library.
// Stop implements the cliapp.Lifecycle interface.
func (a *app) Stop(ctx context.Context) error {
	a.config.Log.Info("Stopping test runner")

	if a.scheduler.Stopped() {
		a.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}

	if err := a.scheduler.Stop(); err != nil {
		a.config.Log.Error("Failed to stop scheduler", "error", err)
	}

	if stopper, ok := a.progress.(interface{ Stop() }); ok {
		stopper.Stop()
	}

	if err := a.staging.Cleanup(); err != nil {
		a.config.Log.Error("Failed to remove staged standard library", "error", err)
	}

	a.config.Log.Info("Test runner stopped successfully")
	return nil
}

// Stopped returns true if the service is stopped.
// Stopped implements the cliapp.Lifecycle interface.
func (a *app) Stopped() bool {
	return a.scheduler.Stopped()
}

// WaitForShutdown blocks until all goroutines have terminated.
// This is useful in tests to ensure complete cleanup before moving to the next test.
func (a *app) WaitForShutdown(ctx context.Context) error {
	return a.scheduler.WaitForShutdown(ctx)
}
