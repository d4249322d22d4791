package testrunner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Backseating-Committee-2k/test-runner/flags"
	"github.com/ethereum/go-ethereum/log"
)

// Config holds the application configuration
type Config struct {
	TestDir          string        // Directory to discover tests under
	Pattern          string        // Base-name glob test files must match
	SeatbeltPath     string        // Compiler executable
	UpholstererPath  string        // Bssembler executable
	BackseaterPath   string        // Virtual machine executable
	PipelineConfig   string        // Optional YAML stage list replacing the default pipeline
	StdlibDir        string        // Pre-staged standard library directory
	StdlibGitURL     string        // Clone source when StdlibDir is empty; empty disables staging
	RunInterval      time.Duration // Interval between test runs
	RunOnce          bool          // Indicates if the service should exit after one test run
	Concurrency      int           // Number of concurrent test workers (0 = auto-determine)
	LogDir           string        // Directory to store test artifacts
	ShowProgress     bool          // Whether to show periodic progress updates during test execution
	ProgressInterval time.Duration // Interval between progress updates when ShowProgress is 'true'
	Log              log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	testDir := ctx.String(flags.TestDir.Name)
	if testDir == "" {
		return nil, errors.New("test directory is required")
	}
	absTestDir, err := filepath.Abs(testDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for test directory '%s': %w", testDir, err)
	}

	pattern := ctx.String(flags.Pattern.Name)
	if pattern == "" {
		return nil, errors.New("test file pattern is required")
	}
	if _, err := filepath.Match(pattern, "probe"); err != nil {
		return nil, fmt.Errorf("invalid test file pattern '%s': %w", pattern, err)
	}

	logDir := ctx.String(flags.LogDir.Name)
	if logDir == "" {
		logDir = "logs"
	}
	logDir, err = filepath.Abs(logDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
	}

	pipelineConfig := ctx.String(flags.PipelineConfig.Name)
	if pipelineConfig != "" {
		pipelineConfig, err = filepath.Abs(pipelineConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for pipeline config '%s': %w", pipelineConfig, err)
		}
	}

	stdlibDir := ctx.String(flags.StdlibDir.Name)
	if stdlibDir != "" {
		stdlibDir, err = filepath.Abs(stdlibDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for standard library '%s': %w", stdlibDir, err)
		}
	}

	seatbelt, err := resolveToolPath(ctx.String(flags.Seatbelt.Name))
	if err != nil {
		return nil, err
	}
	upholsterer, err := resolveToolPath(ctx.String(flags.Upholsterer.Name))
	if err != nil {
		return nil, err
	}
	backseater, err := resolveToolPath(ctx.String(flags.Backseater.Name))
	if err != nil {
		return nil, err
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)
	runOnce := runInterval <= 0

	concurrency := ctx.Int(flags.Concurrency.Name)
	if ctx.Bool(flags.Serial.Name) {
		concurrency = 1
	}

	return &Config{
		TestDir:          absTestDir,
		Pattern:          pattern,
		SeatbeltPath:     seatbelt,
		UpholstererPath:  upholsterer,
		BackseaterPath:   backseater,
		PipelineConfig:   pipelineConfig,
		StdlibDir:        stdlibDir,
		StdlibGitURL:     ctx.String(flags.StdlibGit.Name),
		RunInterval:      runInterval,
		RunOnce:          runOnce,
		Concurrency:      concurrency,
		LogDir:           logDir,
		ShowProgress:     ctx.Bool(flags.ShowProgress.Name),
		ProgressInterval: ctx.Duration(flags.ProgressInterval.Name),
		Log:              log,
	}, nil
}

// resolveToolPath pins executables given with a path separator to an absolute
// path, so the executor's working directory does not change their meaning.
// Bare names keep resolving through PATH.
func resolveToolPath(p string) (string, error) {
	if p == "" {
		return "", errors.New("toolchain executable must not be empty")
	}
	if !strings.ContainsRune(p, os.PathSeparator) {
		return p, nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path for executable '%s': %w", p, err)
	}
	return abs, nil
}
