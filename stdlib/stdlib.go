// Package stdlib resolves the standard library directory handed to the
// compiler stage. The library either lives at an operator-supplied path or is
// cloned once per process from the Seatbelt repository, whose std/ directory
// holds the library sources.
package stdlib

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

// DefaultGitURL is the upstream repository carrying the standard library in
// its std/ subdirectory.
const DefaultGitURL = "https://github.com/Backseating-Committee-2k/Seatbelt.git"

// libSubdir is where the repository keeps the library sources.
const libSubdir = "std"

// Staging locates or fetches the standard library. A non-empty path wins over
// the git URL; an empty path and empty URL disable staging entirely, leaving
// the compiler to run without a library directory.
type Staging struct {
	path   string
	gitURL string
	log    log.Logger

	mu       sync.Mutex
	resolved bool
	libDir   string
	cloneDir string
}

// New returns a Staging for the given explicit path and fallback git URL.
func New(path, gitURL string, logger log.Logger) *Staging {
	if logger == nil {
		logger = log.New()
	}
	return &Staging{
		path:   path,
		gitURL: gitURL,
		log:    logger,
	}
}

// Ensure returns the directory to pass to the compiler, staging it first if
// needed. The result is cached; later calls return the same directory without
// touching the network. An empty result with a nil error means staging is
// disabled.
func (s *Staging) Ensure(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolved {
		return s.libDir, nil
	}

	libDir, err := s.resolve(ctx)
	if err != nil {
		return "", err
	}
	s.libDir = libDir
	s.resolved = true
	return libDir, nil
}

func (s *Staging) resolve(ctx context.Context) (string, error) {
	if s.path != "" {
		abs, err := filepath.Abs(s.path)
		if err != nil {
			return "", errors.Wrapf(err, "standard library path %q", s.path)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", errors.Wrapf(err, "standard library path %q", s.path)
		}
		if !info.IsDir() {
			return "", errors.Errorf("standard library path %q is not a directory", s.path)
		}
		s.log.Debug("Using standard library directory", "dir", abs)
		return abs, nil
	}

	if s.gitURL == "" {
		s.log.Debug("Standard library staging disabled")
		return "", nil
	}

	cloneDir, err := os.MkdirTemp("", "bs-stdlib-*")
	if err != nil {
		return "", errors.Wrap(err, "creating staging directory")
	}

	s.log.Info("Cloning standard library", "url", s.gitURL, "dir", cloneDir)
	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", s.gitURL, cloneDir)
	if out, err := cmd.CombinedOutput(); err != nil {
		_ = os.RemoveAll(cloneDir)
		return "", errors.Wrapf(err, "git clone %s: %s", s.gitURL, strings.TrimSpace(string(out)))
	}

	libDir := filepath.Join(cloneDir, libSubdir)
	info, err := os.Stat(libDir)
	if err != nil || !info.IsDir() {
		_ = os.RemoveAll(cloneDir)
		return "", errors.Errorf("repository %s has no %s directory", s.gitURL, libSubdir)
	}

	s.cloneDir = cloneDir
	s.log.Info("Standard library staged", "dir", libDir)
	return libDir, nil
}

// Cleanup removes the clone directory if Ensure created one. Explicit
// directories are left alone.
func (s *Staging) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cloneDir == "" {
		return nil
	}
	if err := os.RemoveAll(s.cloneDir); err != nil {
		return errors.Wrapf(err, "removing staging directory %s", s.cloneDir)
	}
	s.log.Debug("Removed standard library staging directory", "dir", s.cloneDir)
	s.cloneDir = ""
	s.resolved = false
	s.libDir = ""
	return nil
}
