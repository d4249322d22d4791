package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/Backseating-Committee-2k/test-runner/types"
)

// TestWorkResult contains the result of executing one test case
type TestWorkResult struct {
	Metadata types.TestMetadata
	Result   *types.TestResult
	Err      error
}

// ParallelExecutor manages parallel test execution across multiple workers
type ParallelExecutor struct {
	runner      *runner
	concurrency int
	log         log.Logger
	ui          ProgressIndicator
}

// NewParallelExecutor creates a new parallel test executor with validation
func NewParallelExecutor(runner *runner, concurrency int, ui ProgressIndicator) *ParallelExecutor {
	if runner == nil {
		panic("runner cannot be nil")
	}
	if concurrency <= 0 {
		panic("concurrency must be positive")
	}

	// Log a warning for unreasonable concurrency values
	if concurrency > 32 {
		runner.log.Warn("Very high concurrency requested", "concurrency", concurrency,
			"recommendation", "Consider using lower values to avoid resource exhaustion")
	}

	return &ParallelExecutor{
		runner:      runner,
		concurrency: concurrency,
		log:         runner.log.New("component", "parallel-executor"),
		ui:          ui,
	}
}

// ExecuteTests runs the provided test cases across the worker pool and
// collects one result per test. Test outcomes, including failures, arrive in
// the results; an error is returned only when a test could not be executed at
// all, which aborts the run.
func (pe *ParallelExecutor) ExecuteTests(ctx context.Context, tests []types.TestMetadata) (*RunnerResult, error) {
	start := time.Now()

	result := &RunnerResult{
		Tests: make(map[string]*types.TestResult, len(tests)),
		Stats: ResultStats{StartTime: start},
	}

	if len(tests) == 0 {
		pe.log.Debug("No test cases to execute")
		return result, nil
	}

	if pe.ui != nil {
		pe.ui.StartRun(len(tests))
	}

	// No point spinning up more workers than there are tests.
	workers := min(pe.concurrency, len(tests))

	pe.log.Info("Starting parallel test execution", "totalTests", len(tests), "concurrency", workers)

	// Conservative buffering regardless of test count
	bufferSize := min(workers*2, 100)
	workChan := make(chan types.TestMetadata, bufferSize)
	resultChan := make(chan TestWorkResult, bufferSize)

	// Start worker goroutines
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go pe.worker(ctx, i, &wg, workChan, resultChan)
	}

	// Send work to workers
	go func() {
		defer close(workChan)
		for _, md := range tests {
			select {
			case workChan <- md:
			case <-ctx.Done():
				pe.log.Debug("Context cancelled while sending work items")
				return
			}
		}
	}()

	// Close the result channel once all workers are done
	go func() {
		wg.Wait()
		close(resultChan)
	}()

	// Collect all errors for better error reporting
	var aggregationErrors []error
	executed := 0

	for workResult := range resultChan {
		if workResult.Err != nil {
			pe.log.Error("Test execution failed", "test", workResult.Metadata.ID, "error", workResult.Err)
			aggregationErrors = append(aggregationErrors, fmt.Errorf("test %s: %w", workResult.Metadata.ID, workResult.Err))
			continue
		}

		executed++
		result.Tests[workResult.Metadata.ID] = workResult.Result
	}

	if len(aggregationErrors) > 0 {
		pe.log.Error("Parallel execution completed with errors",
			"totalErrors", len(aggregationErrors),
			"executedTests", executed,
			"totalTests", len(tests))

		errorMsg := fmt.Sprintf("test execution failed: %d out of %d tests could not be executed", len(aggregationErrors), len(tests))
		if len(aggregationErrors) <= 3 {
			for i, err := range aggregationErrors {
				errorMsg += fmt.Sprintf("\n  %d. %v", i+1, err)
			}
		} else {
			// Just show first few errors to avoid overwhelming output
			for i := 0; i < 3; i++ {
				errorMsg += fmt.Sprintf("\n  %d. %v", i+1, aggregationErrors[i])
			}
			errorMsg += fmt.Sprintf("\n  ... and %d more errors", len(aggregationErrors)-3)
		}
		return nil, fmt.Errorf("%s", errorMsg)
	}

	pe.log.Info("Parallel test execution completed",
		"duration", time.Since(start),
		"totalTests", len(tests),
		"executed", executed)

	return result, nil
}

// worker is a goroutine that processes test cases from the work channel.
// It safely handles context cancellation and channel operations
func (pe *ParallelExecutor) worker(ctx context.Context, id int, wg *sync.WaitGroup, workChan <-chan types.TestMetadata, resultChan chan<- TestWorkResult) {
	defer wg.Done()

	workerID := fmt.Sprintf("worker-%d", id)
	pe.log.Debug("Worker starting", "workerID", workerID)
	defer pe.log.Debug("Worker exiting", "workerID", workerID)

	for {
		select {
		case md, ok := <-workChan:
			if !ok {
				return // Channel closed, worker should exit
			}

			pe.log.Debug("Worker processing test", "workerID", workerID, "test", md.ID)

			if pe.ui != nil {
				pe.ui.StartTest(md.ID)
			}

			testResult, err := pe.runner.RunTest(ctx, md)
			if err != nil {
				pe.log.Error("Test execution failed in worker", "workerID", workerID, "test", md.ID, "error", err)
			}

			if pe.ui != nil && testResult != nil {
				pe.ui.UpdateTest(md.ID, testResult.Status)
			}

			select {
			case resultChan <- TestWorkResult{Metadata: md, Result: testResult, Err: err}:
			case <-ctx.Done():
				pe.log.Debug("Context cancelled while sending result", "workerID", workerID, "test", md.ID)
				return
			}

		case <-ctx.Done():
			pe.log.Debug("Worker received context cancellation", "workerID", workerID)
			return
		}
	}
}
