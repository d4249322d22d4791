package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/Backseating-Committee-2k/test-runner/stdlib"
)

const EnvVarPrefix = "BS_TEST_RUNNER"

var (
	TestDir = &cli.StringFlag{
		Name:    "testdir",
		Value:   ".",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TESTDIR"),
		Usage:   "Path to the directory from which to discover tests",
	}
	Pattern = &cli.StringFlag{
		Name:    "pattern",
		Value:   "test*.bs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PATTERN"),
		Usage:   "Base-name glob that test files must match (eg. 'test*.bs')",
	}
	Seatbelt = &cli.StringFlag{
		Name:    "seatbelt",
		Value:   "Seatbelt",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SEATBELT"),
		Usage:   "Path to the Seatbelt compiler executable",
	}
	Upholsterer = &cli.StringFlag{
		Name:    "upholsterer",
		Value:   "Upholsterer2k",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "UPHOLSTERER"),
		Usage:   "Path to the Upholsterer2k bssembler executable",
	}
	Backseater = &cli.StringFlag{
		Name:    "backseater",
		Value:   "backseat_safe_system_2k",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BACKSEATER"),
		Usage:   "Path to the backseat_safe_system_2k virtual machine executable",
	}
	PipelineConfig = &cli.StringFlag{
		Name:    "pipeline",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PIPELINE"),
		Usage:   "Path to a YAML stage list replacing the default compile/assemble/execute pipeline",
	}
	StdlibDir = &cli.StringFlag{
		Name:    "stdlib",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STDLIB"),
		Usage:   "Path to an existing standard library directory; skips the git clone",
	}
	StdlibGit = &cli.StringFlag{
		Name:    "stdlib-git",
		Value:   stdlib.DefaultGitURL,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STDLIB_GIT"),
		Usage:   "Repository to clone the standard library from when --stdlib is unset. Empty disables staging.",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between test runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	Serial = &cli.BoolFlag{
		Name:    "serial",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERIAL"),
		Usage:   "Run tests one at a time instead of in parallel",
	}
	Concurrency = &cli.IntFlag{
		Name:    "concurrency",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONCURRENCY"),
		Usage:   "Number of concurrent test workers. 0 picks one per CPU, capped at 32.",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOGDIR"),
		Usage:   "Directory to store per-run test artifacts",
	}
	ShowProgress = &cli.BoolFlag{
		Name:    "show-progress",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SHOW_PROGRESS"),
		Usage:   "Print periodic progress updates during test execution",
	}
	ProgressInterval = &cli.DurationFlag{
		Name:    "progress-interval",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_INTERVAL"),
		Usage:   "Interval between progress updates when --show-progress is set",
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	TestDir,
	Pattern,
	Seatbelt,
	Upholsterer,
	Backseater,
	PipelineConfig,
	StdlibDir,
	StdlibGit,
	RunInterval,
	Serial,
	Concurrency,
	LogDir,
	ShowProgress,
	ProgressInterval,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
