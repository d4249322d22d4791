// Package logging persists per-run artifacts: a directory per run with a
// summary file, one log file per test, and a combined log of every test.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/acarl005/stripansi"

	"github.com/Backseating-Committee-2k/test-runner/types"
)

const (
	RunDirectoryPrefix = "testrun-" // Standardized prefix for run directories
	LatestSymlinkName  = "latest"
)

// ResultSink is an interface for different ways of consuming test results
type ResultSink interface {
	// Consume processes a single test result
	Consume(result *types.TestResult, runID string) error
	// Complete is called when all results have been consumed
	Complete(runID string) error
}

// FileLogger handles writing test output to files
type FileLogger struct {
	baseDir      string                // Base directory for logs
	logDir       string                // Directory for the current run
	failedDir    string                // Directory for failed tests
	passedDir    string                // Directory for passed tests
	summaryFile  string                // Path to the summary file
	allLogsFile  string                // Path to the combined log file
	mu           sync.Mutex            // Protects concurrent file operations
	sinks        []ResultSink          // Collection of result consumers
	asyncWriters map[string]*AsyncFile // Map of async file writers
	runID        string                // Current run ID
}

// AsyncFile provides non-blocking file writing capabilities
type AsyncFile struct {
	file    *os.File
	queue   chan []byte
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewAsyncFile creates a new AsyncFile for non-blocking writes
func NewAsyncFile(filepath string) (*AsyncFile, error) {
	file, err := os.Create(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", filepath, err)
	}

	af := &AsyncFile{
		file:  file,
		queue: make(chan []byte, 100),
	}

	af.wg.Add(1)
	go af.processQueue()

	return af, nil
}

// Write queues data to be written asynchronously
func (af *AsyncFile) Write(data []byte) error {
	af.mu.Lock()
	defer af.mu.Unlock()

	if af.stopped {
		return fmt.Errorf("async file is closed")
	}

	// Copy; the caller may reuse the slice before the writer drains it.
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	af.queue <- dataCopy
	return nil
}

// processQueue processes the write queue in the background
func (af *AsyncFile) processQueue() {
	defer af.wg.Done()

	for data := range af.queue {
		if _, err := af.file.Write(data); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing to file: %v\n", err)
		}
	}
}

// Close stops the async writer and closes the file
func (af *AsyncFile) Close() error {
	af.mu.Lock()
	if !af.stopped {
		af.stopped = true
		close(af.queue)
	}
	af.mu.Unlock()

	// Wait for all writes to complete
	af.wg.Wait()
	return af.file.Close()
}

// NewFileLogger creates a new FileLogger rooted at baseDir. It creates the
// run directory layout and points a "latest" symlink at it.
func NewFileLogger(baseDir string, runID string) (*FileLogger, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir cannot be empty")
	}

	logDir := filepath.Join(baseDir, RunDirectoryPrefix+runID)
	failedDir := filepath.Join(logDir, "failed")
	passedDir := filepath.Join(logDir, "passed")

	for _, dir := range []string{baseDir, logDir, failedDir, passedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	logger := &FileLogger{
		baseDir:      baseDir,
		logDir:       logDir,
		failedDir:    failedDir,
		passedDir:    passedDir,
		summaryFile:  filepath.Join(logDir, "summary.log"),
		allLogsFile:  filepath.Join(logDir, "all.log"),
		sinks:        make([]ResultSink, 0),
		asyncWriters: make(map[string]*AsyncFile),
		runID:        runID,
	}

	logger.sinks = append(logger.sinks, &AllLogsFileSink{logger: logger})
	logger.sinks = append(logger.sinks, &PerTestFileSink{logger: logger})

	// Repoint the convenience symlink at the newest run.
	latest := filepath.Join(baseDir, LatestSymlinkName)
	_ = os.Remove(latest)
	if err := os.Symlink(RunDirectoryPrefix+runID, latest); err != nil {
		return nil, fmt.Errorf("failed to update %s symlink: %w", LatestSymlinkName, err)
	}

	return logger, nil
}

// getAsyncWriter gets or creates an AsyncFile for the given path
func (l *FileLogger) getAsyncWriter(path string) (*AsyncFile, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if writer, exists := l.asyncWriters[path]; exists {
		return writer, nil
	}

	writer, err := NewAsyncFile(path)
	if err != nil {
		return nil, err
	}

	l.asyncWriters[path] = writer
	return writer, nil
}

// closeAllWriters closes all async writers
func (l *FileLogger) closeAllWriters() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, writer := range l.asyncWriters {
		_ = writer.Close() // Ignore errors on close
	}
	l.asyncWriters = make(map[string]*AsyncFile)
}

// GetDirectoryForRunID returns the run directory for a specific runID.
// The runID must be provided, otherwise an error is returned
func (l *FileLogger) GetDirectoryForRunID(runID string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("runID cannot be empty")
	}
	if runID == l.runID {
		return l.logDir, nil
	}
	return filepath.Join(l.baseDir, RunDirectoryPrefix+runID), nil
}

// GetFailedDirForRunID returns the failed test directory for a specific runID
func (l *FileLogger) GetFailedDirForRunID(runID string) (string, error) {
	dir, err := l.GetDirectoryForRunID(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "failed"), nil
}

// GetPassedDirForRunID returns the passed test directory for a specific runID
func (l *FileLogger) GetPassedDirForRunID(runID string) (string, error) {
	dir, err := l.GetDirectoryForRunID(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "passed"), nil
}

// GetSummaryFileForRunID returns the summary file path for a specific runID
func (l *FileLogger) GetSummaryFileForRunID(runID string) (string, error) {
	dir, err := l.GetDirectoryForRunID(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "summary.log"), nil
}

// GetAllLogsFileForRunID returns the combined log file path for a specific runID
func (l *FileLogger) GetAllLogsFileForRunID(runID string) (string, error) {
	dir, err := l.GetDirectoryForRunID(runID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "all.log"), nil
}

// LogTestResult processes a test result through all registered sinks
func (l *FileLogger) LogTestResult(result *types.TestResult, runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	for _, sink := range l.sinks {
		if err := sink.Consume(result, runID); err != nil {
			return fmt.Errorf("error in sink: %w", err)
		}
	}

	return nil
}

// LogSummary writes a summary of the test run to a file
func (l *FileLogger) LogSummary(summary string, runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	summaryFile, err := l.GetSummaryFileForRunID(runID)
	if err != nil {
		return err
	}

	writer, err := l.getAsyncWriter(summaryFile)
	if err != nil {
		return err
	}

	return writer.Write([]byte(summary))
}

// Complete finalizes all sinks and closes all file writers
func (l *FileLogger) Complete(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	for _, sink := range l.sinks {
		if err := sink.Complete(runID); err != nil {
			return fmt.Errorf("error completing sink: %w", err)
		}
	}

	l.closeAllWriters()

	return nil
}

// GetRunID returns the current runID
func (l *FileLogger) GetRunID() string {
	return l.runID
}

// GetRunDir returns the directory holding this run's artifacts
func (l *FileLogger) GetRunDir() string {
	return l.logDir
}

// GetFailedDir returns the directory containing logs for failed tests
func (l *FileLogger) GetFailedDir() string {
	return l.failedDir
}

// GetPassedDir returns the directory containing logs for passed tests
func (l *FileLogger) GetPassedDir() string {
	return l.passedDir
}

// GetSummaryFile returns the path to the summary file
func (l *FileLogger) GetSummaryFile() string {
	return l.summaryFile
}

// safeFilename replaces characters that might be problematic in filenames
func safeFilename(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, ":", "_")
	s = strings.ReplaceAll(s, "*", "_")
	s = strings.ReplaceAll(s, "?", "_")
	s = strings.ReplaceAll(s, "\"", "_")
	s = strings.ReplaceAll(s, "<", "_")
	s = strings.ReplaceAll(s, ">", "_")
	s = strings.ReplaceAll(s, "|", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

// AllLogsFileSink appends a compact block for every test to all.log
type AllLogsFileSink struct {
	logger *FileLogger
}

func (s *AllLogsFileSink) Consume(result *types.TestResult, runID string) error {
	allLogsFile, err := s.logger.GetAllLogsFileForRunID(runID)
	if err != nil {
		return err
	}

	writer, err := s.logger.getAsyncWriter(allLogsFile)
	if err != nil {
		return err
	}

	var content strings.Builder

	fmt.Fprintf(&content, "\n")
	fmt.Fprintf(&content, "┌─────────────────────────────────────────────────────────────────────┐\n")
	fmt.Fprintf(&content, "│ TEST: %-64s │\n", truncateString(result.Metadata.ID, 64))
	fmt.Fprintf(&content, "├─────────────────────────────────────────────────────────────────────┤\n")
	fmt.Fprintf(&content, "│ Status:      %-59s │\n", result.Status)
	fmt.Fprintf(&content, "│ Expectation: %-59s │\n", truncateString(result.Metadata.Expectation.String(), 59))
	fmt.Fprintf(&content, "│ Duration:    %-59s │\n", formatDuration(result.Duration))
	fmt.Fprintf(&content, "│ Time:        %-59s │\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&content, "└─────────────────────────────────────────────────────────────────────┘\n\n")

	if result.Error != nil {
		fmt.Fprintf(&content, "ERROR:\n")
		fmt.Fprintf(&content, "~~~~~~\n")
		fmt.Fprintf(&content, "%s\n\n", indentText(result.Error.Error(), "  "))
	}

	if result.Outcome != nil {
		for _, stage := range result.Outcome.Stages {
			fmt.Fprintf(&content, "STAGE %s: exit %d (%s)\n", stage.Name, stage.ExitCode, formatDuration(stage.Duration))
		}
	}

	fmt.Fprintf(&content, "\n")

	return writer.Write([]byte(content.String()))
}

// Complete is a no-op for AllLogsFileSink
func (s *AllLogsFileSink) Complete(runID string) error {
	return nil
}

// indentText adds indentation to each line of text for better readability
func indentText(text, indent string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}

// truncateString truncates a string to the specified max length
// and adds an ellipsis if needed
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// PerTestFileSink creates a dedicated log file for each test in the passed or
// failed directory, containing the full captured output of every stage
type PerTestFileSink struct {
	logger *FileLogger
}

func (s *PerTestFileSink) Consume(result *types.TestResult, runID string) error {
	var targetDir string
	var err error
	if result.Status == types.TestStatusFail {
		targetDir, err = s.logger.GetFailedDirForRunID(runID)
	} else {
		targetDir, err = s.logger.GetPassedDirForRunID(runID)
	}
	if err != nil {
		return err
	}

	filename := safeFilename(result.Metadata.ID)
	testFilePath := filepath.Join(targetDir, filename+".log")

	writer, err := s.logger.getAsyncWriter(testFilePath)
	if err != nil {
		return err
	}

	var content strings.Builder

	fmt.Fprintf(&content, "Test:        %s\n", result.Metadata.ID)
	fmt.Fprintf(&content, "File:        %s\n", result.Metadata.Path)
	fmt.Fprintf(&content, "Status:      %s\n", result.Status)
	fmt.Fprintf(&content, "Expectation: %s\n", result.Metadata.Expectation)
	fmt.Fprintf(&content, "Duration:    %s\n", formatDuration(result.Duration))

	if result.Error != nil {
		fmt.Fprintf(&content, "\nERROR SUMMARY:\n")
		fmt.Fprintf(&content, "==============\n\n")
		fmt.Fprintf(&content, "%s\n", result.Error.Error())
	}

	if result.Outcome != nil {
		for _, stage := range result.Outcome.Stages {
			writeStageSection(&content, stage)
		}
		if result.Outcome.Success() {
			fmt.Fprintf(&content, "\nAll stages succeeded.\n")
		}
	}

	return writer.Write([]byte(content.String()))
}

// Complete is a no-op for PerTestFileSink
func (s *PerTestFileSink) Complete(runID string) error {
	return nil
}

func writeStageSection(content *strings.Builder, stage types.StageResult) {
	fmt.Fprintf(content, "\n%s\n", strings.Repeat("-", 80))
	fmt.Fprintf(content, "STAGE %s (%s): exit %d, %s\n\n", stage.Name, stage.Command, stage.ExitCode, formatDuration(stage.Duration))

	stderr := stripansi.Strip(stage.Stderr)
	if stderr != "" {
		fmt.Fprintf(content, "stderr")
		if stage.StderrTruncated {
			fmt.Fprintf(content, " (truncated, most recent output)")
		}
		fmt.Fprintf(content, ":\n%s\n", indentText(stderr, "  "))
	}

	// The assembler's stdout is machine code; only log output that is text.
	if len(stage.Stdout) > 0 {
		if utf8.Valid(stage.Stdout) {
			fmt.Fprintf(content, "stdout (%d bytes):\n%s\n", len(stage.Stdout), indentText(string(stage.Stdout), "  "))
		} else {
			fmt.Fprintf(content, "stdout: %d bytes of binary output omitted\n", len(stage.Stdout))
		}
	}
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}
