package types

import (
	"fmt"
	"strings"
	"time"
)

// TestStatus represents the possible states of a test execution
type TestStatus string

const (
	TestStatusPass TestStatus = "pass"
	TestStatusFail TestStatus = "fail"
)

// ExpectedOutcome is the expectation declared on a test file's first line.
// Either the whole pipeline is expected to succeed, or some stage is expected
// to fail with every string in Required appearing on its stderr.
type ExpectedOutcome struct {
	ShouldFail bool
	Required   []string // substrings that must appear on the failing stage's stderr
}

// ExpectSuccess returns the expectation for a test whose pipeline must
// succeed at every stage.
func ExpectSuccess() ExpectedOutcome {
	return ExpectedOutcome{}
}

// ExpectFailure returns the expectation for a test whose pipeline must fail
// with all the given messages contained in the failing stage's stderr.
// Declaration order is preserved.
func ExpectFailure(msgs ...string) ExpectedOutcome {
	return ExpectedOutcome{ShouldFail: true, Required: msgs}
}

// QuotedRequired renders the required messages as a comma separated list of
// quoted strings, in declaration order.
func (e ExpectedOutcome) QuotedRequired() string {
	quoted := make([]string, len(e.Required))
	for i, msg := range e.Required {
		quoted[i] = fmt.Sprintf("%q", msg)
	}
	return strings.Join(quoted, ", ")
}

func (e ExpectedOutcome) String() string {
	if !e.ShouldFail {
		return "success"
	}
	return fmt.Sprintf("failure containing %s", e.QuotedRequired())
}

// TestMetadata identifies one discovered test case. It is created at
// discovery time and immutable afterwards.
type TestMetadata struct {
	ID          string // path relative to the test directory
	Path        string // absolute path to the test file
	Expectation ExpectedOutcome
	ParseError  error // non-nil when the expectation directive was malformed
}

// TestResult captures the outcome of a single test run
type TestResult struct {
	Metadata TestMetadata
	Status   TestStatus
	Error    error         // diagnostic explaining a failure
	Duration time.Duration // test execution time across all stages
	Outcome  *PipelineOutcome
}
