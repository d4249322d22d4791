package registry

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/Backseating-Committee-2k/test-runner/types"
)

const (
	// DefaultPattern matches the test file naming convention of the
	// Backseat test suites.
	DefaultPattern = "test*.bs"

	// maxParseWorkers bounds the goroutines reading first lines during
	// discovery.
	maxParseWorkers = 16
)

// Registry discovers test files and their declared expectations
type Registry struct {
	config Config
	tests  []types.TestMetadata
	mu     sync.RWMutex
}

// Config contains registry configuration
type Config struct {
	Log     log.Logger
	TestDir string
	Pattern string
}

// NewRegistry creates a new registry instance
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.TestDir == "" {
		return nil, fmt.Errorf("test directory is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if _, err := filepath.Match(cfg.Pattern, "probe"); err != nil {
		return nil, fmt.Errorf("invalid test file pattern %q: %w", cfg.Pattern, err)
	}

	info, err := os.Stat(cfg.TestDir)
	if err != nil {
		return nil, fmt.Errorf("failed to access test directory %q: %w", cfg.TestDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("test directory %q is not a directory", cfg.TestDir)
	}

	r := &Registry{
		config: cfg,
	}

	cfg.Log.Debug("Registry created", "testDir", cfg.TestDir, "pattern", cfg.Pattern)

	return r, nil
}

// DiscoverTests walks the test directory, collects every file whose base name
// matches the configured pattern and parses each file's expectation directive.
// A file that cannot be read aborts discovery; a malformed directive is
// recorded on that test's metadata only. Results are sorted by ID.
func (r *Registry) DiscoverTests(ctx context.Context) ([]types.TestMetadata, error) {
	var paths []string
	err := filepath.WalkDir(r.config.TestDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		match, err := filepath.Match(r.config.Pattern, d.Name())
		if err != nil {
			return err
		}
		if match {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate tests under %q: %w", r.config.TestDir, err)
	}
	sort.Strings(paths)

	workers := maxParseWorkers
	if len(paths) < workers {
		workers = len(paths)
	}
	if workers == 0 {
		workers = 1
	}

	p := pool.NewWithResults[types.TestMetadata]().
		WithErrors().
		WithFirstError().
		WithMaxGoroutines(workers).
		WithContext(ctx).
		WithCancelOnError()
	for _, path := range paths {
		p.Go(func(ctx context.Context) (types.TestMetadata, error) {
			return r.readTest(path)
		})
	}
	tests, err := p.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to read tests: %w", err)
	}

	// Pool results arrive in completion order, restore discovery order.
	sort.Slice(tests, func(i, j int) bool { return tests[i].ID < tests[j].ID })

	r.mu.Lock()
	r.tests = tests
	r.mu.Unlock()

	r.config.Log.Info("Discovered tests", "count", len(tests), "testDir", r.config.TestDir, "pattern", r.config.Pattern)

	return r.GetTests(), nil
}

// readTest builds the metadata for one test file. Read failures are returned
// as errors and abort the run; directive parse failures are attached to the
// metadata so only this test reports them.
func (r *Registry) readTest(path string) (types.TestMetadata, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return types.TestMetadata{}, fmt.Errorf("failed to resolve %q: %w", path, err)
	}

	id, err := filepath.Rel(r.config.TestDir, path)
	if err != nil {
		id = path
	}

	firstLine, err := readFirstLine(absPath)
	if err != nil {
		return types.TestMetadata{}, fmt.Errorf("failed to read test file %q: %w", path, err)
	}

	md := types.TestMetadata{
		ID:   id,
		Path: absPath,
	}
	expectation, err := ParseDirective(firstLine)
	if err != nil {
		r.config.Log.Warn("Malformed expectation directive", "test", id, "error", err)
		md.ParseError = err
		return md, nil
	}
	md.Expectation = expectation
	return md, nil
}

// GetTests returns the most recently discovered tests
func (r *Registry) GetTests() []types.TestMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]types.TestMetadata, len(r.tests))
	copy(result, r.tests)
	return result
}

// readFirstLine returns the first line of the file without its line ending.
// Only the directive line is needed, the rest of the file never loads.
func readFirstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", nil // empty file
}
