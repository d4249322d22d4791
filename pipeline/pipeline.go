// Package pipeline models the ordered chain of external toolchain processes a
// test file is fed through, and executes it for one test at a time.
package pipeline

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// InputMode selects how a stage receives its input.
type InputMode string

const (
	// InputFile appends the test file path to the stage's arguments.
	InputFile InputMode = "file"
	// InputPipe writes the previous stage's captured stdout to the stage's stdin.
	InputPipe InputMode = "pipe"
	// InputNone runs the stage without test specific input.
	InputNone InputMode = "none"
)

// Stage describes one external process invocation. The stage list is fixed
// per run and shared read-only across all workers; per-test data (the file
// path, the previous stage's output) is supplied at execution time.
type Stage struct {
	Name    string    `yaml:"name"`
	Command string    `yaml:"command"`
	Args    []string  `yaml:"args,omitempty"`
	Input   InputMode `yaml:"input"`
}

type configFile struct {
	Stages []Stage `yaml:"stages"`
}

// Default returns the standard Backseat toolchain pipeline: compile with
// Seatbelt, assemble with Upholsterer2k, execute on the VM. The --lib
// arguments are only passed when a standard library directory was staged.
func Default(seatbelt, upholsterer, backseater, stdlibDir string) []Stage {
	var compileArgs []string
	if stdlibDir != "" {
		compileArgs = []string{"--lib", stdlibDir}
	}
	return []Stage{
		{Name: "compile", Command: seatbelt, Args: compileArgs, Input: InputFile},
		{Name: "assemble", Command: upholsterer, Input: InputPipe},
		{Name: "execute", Command: backseater, Args: []string{"run", "--exit-on-halt"}, Input: InputPipe},
	}
}

// Load reads a stage list from a YAML file. Commands and arguments may
// reference the provided variables as ${NAME}; referencing an unknown
// variable is an error.
func Load(path string, vars map[string]string) ([]Stage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read pipeline config %q", path)
	}

	var cfg configFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse pipeline config %q", path)
	}

	var expandErr error
	lookup := func(name string) string {
		v, ok := vars[name]
		if !ok && expandErr == nil {
			expandErr = errors.Errorf("unknown variable %q", name)
		}
		return v
	}
	for i := range cfg.Stages {
		cfg.Stages[i].Command = os.Expand(cfg.Stages[i].Command, lookup)
		for j, arg := range cfg.Stages[i].Args {
			cfg.Stages[i].Args[j] = os.Expand(arg, lookup)
		}
	}
	if expandErr != nil {
		return nil, errors.Wrapf(expandErr, "invalid pipeline config %q", path)
	}

	if err := Validate(cfg.Stages); err != nil {
		return nil, errors.Wrapf(err, "invalid pipeline config %q", path)
	}
	return cfg.Stages, nil
}

// Validate checks that a stage list can serve as a pipeline: at least one
// stage, unique names, commands present, known input modes, and a first stage
// that takes the test file as its input.
func Validate(stages []Stage) error {
	if len(stages) == 0 {
		return errors.New("pipeline needs at least one stage")
	}
	seen := make(map[string]bool, len(stages))
	for i, st := range stages {
		if st.Name == "" {
			return errors.Errorf("stage %d: name is required", i)
		}
		if seen[st.Name] {
			return errors.Errorf("stage %d: duplicate stage name %q", i, st.Name)
		}
		seen[st.Name] = true
		if st.Command == "" {
			return errors.Errorf("stage %q: command is required", st.Name)
		}
		switch st.Input {
		case InputFile, InputPipe, InputNone:
		default:
			return errors.Errorf("stage %q: unknown input mode %q", st.Name, st.Input)
		}
	}
	if stages[0].Input != InputFile {
		return errors.Errorf("stage %q: the first stage must take the test file as input", stages[0].Name)
	}
	return nil
}
