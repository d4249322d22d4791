package testrunner

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Backseating-Committee-2k/test-runner/runner"
	"github.com/Backseating-Committee-2k/test-runner/types"
)

// ResultFormatter is responsible for formatting and displaying test results.
type ResultFormatter interface {
	FormatResults(result *runner.RunnerResult) error
}

// ConsoleResultFormatter prints one SUCCEEDED/FAILED line per test on stderr
// with failure diagnostics indented below, then a results table and the final
// counters line on stdout. Tests are printed sorted by ID so the output is
// stable regardless of worker scheduling.
type ConsoleResultFormatter struct {
	logger log.Logger
	out    io.Writer
	errOut io.Writer
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter writing to
// the process's stdout and stderr.
func NewConsoleResultFormatter(logger log.Logger) *ConsoleResultFormatter {
	return &ConsoleResultFormatter{
		logger: logger,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
}

// FormatResults formats and displays the test results.
func (f *ConsoleResultFormatter) FormatResults(result *runner.RunnerResult) error {
	f.logger.Info("Printing results...")
	ids := sortedTestIDs(result)

	// Per-test lines go to stderr so the summary line stays the last thing
	// written to stdout.
	for _, id := range ids {
		test := result.Tests[id]
		if test.Status == types.TestStatusPass {
			fmt.Fprintf(f.errOut, "TEST SUCCEEDED: %s\n", test.Metadata.Path)
			continue
		}
		fmt.Fprintf(f.errOut, "TEST FAILED: %s\n", test.Metadata.Path)
		if test.Error != nil {
			fmt.Fprintf(f.errOut, "\t%s\n", test.Error.Error())
		}
	}

	f.renderTable(result, ids)

	// The summary line is a stable part of the command line interface.
	fmt.Fprintln(f.out, result.String())
	return nil
}

func (f *ConsoleResultFormatter) renderTable(result *runner.RunnerResult, ids []string) {
	t := table.NewWriter()
	t.SetOutputMirror(f.out)
	t.SetTitle(fmt.Sprintf("Test Results (%s)", formatDuration(result.Duration)))

	t.AppendHeader(table.Row{"Test", "Duration", "Status", "Error"})

	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Test", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Error", WidthMax: 80, WidthMaxEnforcer: text.WrapSoft},
	})

	for _, id := range ids {
		test := result.Tests[id]
		t.AppendRow(table.Row{
			id,
			formatDuration(test.Duration),
			getResultString(test.Status),
			firstErrorLine(test.Error),
		})
	}

	if result.Status == types.TestStatusPass {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		formatDuration(result.Duration),
		getResultString(result.Status),
		fmt.Sprintf("%d passed, %d failed", result.Stats.Passed, result.Stats.Failed),
	})

	t.Render()
}

func sortedTestIDs(result *runner.RunnerResult) []string {
	ids := make([]string, 0, len(result.Tests))
	for id := range result.Tests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// firstErrorLine keeps the table readable; the full diagnostic is already on
// stderr and in the run artifacts.
func firstErrorLine(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if idx := strings.Index(msg, "\n"); idx != -1 {
		msg = msg[:idx]
	}
	return msg
}

// getResultString returns a colored string representing the test result
func getResultString(status types.TestStatus) string {
	if status == types.TestStatusPass {
		return "✓ pass"
	}
	return "✗ fail"
}

// Helper function to format duration to seconds with 1 decimal place
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
