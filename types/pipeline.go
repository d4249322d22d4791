package types

import (
	"time"
)

// StageResult captures one stage invocation: its exit status and the streams
// the harness drained from it. Stdout is kept in full because it feeds the
// next stage; stderr may be tail-truncated for very noisy tools.
type StageResult struct {
	Name            string
	Command         string
	ExitCode        int
	Success         bool
	Stdout          []byte
	Stderr          string
	StderrTruncated bool
	Duration        time.Duration
}

// PipelineOutcome is the terminal result of running one test's pipeline.
// Stages holds a result for every stage that actually ran; execution stops at
// the first failing stage, so at most one entry can have Success == false and
// it is always the last one.
type PipelineOutcome struct {
	Stages      []StageResult
	FailedIndex int // index into Stages, -1 when every stage succeeded
}

// Success reports whether every stage of the pipeline succeeded.
func (o *PipelineOutcome) Success() bool {
	return o.FailedIndex < 0
}

// FailedStage returns the result of the stage the pipeline stopped at, or nil
// when the pipeline succeeded.
func (o *PipelineOutcome) FailedStage() *StageResult {
	if o.FailedIndex < 0 || o.FailedIndex >= len(o.Stages) {
		return nil
	}
	return &o.Stages[o.FailedIndex]
}

// FinalStdout returns the captured stdout of the last stage that ran.
func (o *PipelineOutcome) FinalStdout() []byte {
	if len(o.Stages) == 0 {
		return nil
	}
	return o.Stages[len(o.Stages)-1].Stdout
}
