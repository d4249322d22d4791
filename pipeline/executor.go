package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/Backseating-Committee-2k/test-runner/types"
)

// SpawnError marks a stage executable that could not be started at all.
// That is a broken environment rather than a test failure, so it aborts the
// whole run instead of failing one test.
type SpawnError struct {
	Stage string
	Err   error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("stage %s: failed to spawn process: %v", e.Stage, e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsSpawnError checks if the error is or wraps a SpawnError
func IsSpawnError(err error) bool {
	var spawnErr *SpawnError
	return err != nil && errors.As(err, &spawnErr)
}

// Executor runs the stage sequence for one test file at a time. It is
// stateless between calls and safe for concurrent use by multiple workers.
type Executor struct {
	stages     []Stage
	workDir    string
	log        log.Logger
	tracer     trace.Tracer
	cmdBuilder func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewExecutor creates an executor for a validated stage list.
func NewExecutor(stages []Stage, workDir string, logger log.Logger) (*Executor, error) {
	if err := Validate(stages); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New()
	}
	e := &Executor{
		stages:  stages,
		workDir: workDir,
		log:     logger,
		tracer:  otel.Tracer("pipeline executor"),
	}
	e.cmdBuilder = e.defaultCmdBuilder
	return e, nil
}

// Stages returns the configured stage list.
func (e *Executor) Stages() []Stage {
	return e.stages
}

func (e *Executor) defaultCmdBuilder(ctx context.Context, name string, arg ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, arg...)
	cmd.Dir = e.workDir
	return cmd
}

// Run feeds one test file through the stages strictly in sequence. The first
// stage receives the file path as an argument; each piped stage receives the
// previous stage's captured stdout on its stdin. Execution stops at the first
// stage whose exit status reports failure; later stages never start.
//
// The returned error is non-nil only when the pipeline itself broke: a
// *SpawnError when an executable could not be started (fatal for the run) or
// an I/O error on a pipe (isolated to this test by the caller). A stage
// failing with a non-zero exit status is a regular outcome, not an error.
func (e *Executor) Run(ctx context.Context, testPath string) (*types.PipelineOutcome, error) {
	outcome := &types.PipelineOutcome{
		Stages:      make([]types.StageResult, 0, len(e.stages)),
		FailedIndex: -1,
	}

	var input []byte
	for i, stage := range e.stages {
		result, err := e.runStage(ctx, stage, testPath, input)
		if err != nil {
			return nil, err
		}
		outcome.Stages = append(outcome.Stages, *result)
		if !result.Success {
			outcome.FailedIndex = i
			break
		}
		input = result.Stdout
	}
	return outcome, nil
}

func (e *Executor) runStage(ctx context.Context, stage Stage, testPath string, input []byte) (*types.StageResult, error) {
	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("stage %s", stage.Name))
	defer span.End()

	args := stage.Args
	if stage.Input == InputFile {
		// Copy before appending; the configured args are shared across workers.
		args = make([]string, 0, len(stage.Args)+1)
		args = append(args, stage.Args...)
		args = append(args, testPath)
	}

	cmd := e.cmdBuilder(ctx, stage.Command, args...)

	var stdout bytes.Buffer
	stderr := newTailBuffer(defaultStderrTailBytes)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	var stdin io.WriteCloser
	if stage.Input == InputPipe {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return nil, errors.Wrapf(err, "stage %s: failed to open stdin pipe", stage.Name)
		}
		stdin = pipe
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if stdin != nil {
			_ = stdin.Close()
		}
		// A start refused by a cancelled context is shutdown, not a missing tool.
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ctx.Err(), "stage %s: cancelled before start", stage.Name)
		}
		return nil, &SpawnError{Stage: stage.Name, Err: err}
	}

	// Feed stdin on its own goroutine while Wait drains stdout/stderr; both
	// pipe directions must progress simultaneously or a full OS pipe buffer
	// deadlocks writer and reader against each other.
	var feed errgroup.Group
	if stdin != nil {
		feed.Go(func() error {
			defer stdin.Close()
			if _, err := stdin.Write(input); err != nil && !isBrokenPipe(err) {
				return errors.Wrapf(err, "stage %s: failed to write piped input", stage.Name)
			}
			// A broken pipe only means the child stopped reading before the
			// input ended; its exit status is authoritative.
			return nil
		})
	}

	waitErr := cmd.Wait()
	feedErr := feed.Wait()
	duration := time.Since(start)

	result := &types.StageResult{
		Name:            stage.Name,
		Command:         stage.Command,
		Success:         waitErr == nil,
		Stdout:          stdout.Bytes(),
		Stderr:          stderr.String(),
		StderrTruncated: stderr.Truncated(),
		Duration:        duration,
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, errors.Wrapf(waitErr, "stage %s: failed waiting for process", stage.Name)
		}
	}
	if feedErr != nil {
		return nil, feedErr
	}

	e.log.Debug("Stage finished",
		"stage", stage.Name,
		"exitCode", result.ExitCode,
		"success", result.Success,
		"stdoutBytes", len(result.Stdout),
		"stderrBytes", stderr.TotalBytes(),
		"duration", duration)

	return result, nil
}

// isBrokenPipe reports whether a stdin write failed because the child went
// away: EPIPE from the closed read end, or fs.ErrClosed when Wait closed the
// parent's write end underneath a writer still parked on a full pipe buffer.
func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, fs.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
