// Package cmd provides CLI commands for the segmark binary.
package cmd

import "github.com/urfave/cli/v2"

// Shared output flags for every command.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}
)

// Global flags, read through the context lineage by every subcommand.
var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to segmark.yaml (default: ./segmark.yaml when present)",
		EnvVars: []string{"SEGMARK_CONFIG"},
	}

	EnvFileFlag = &cli.StringSliceFlag{
		Name:  "env-file",
		Usage: "Env files loaded before the config (default: .env)",
	}

	LogLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level: debug, info, warn, error (overrides config)",
		EnvVars: []string{"SEGMARK_LOG_LEVEL"},
	}

	StorageBackendFlag = &cli.StringFlag{
		Name:  "storage-backend",
		Usage: "Record storage backend: fs, s3 or memory (overrides config)",
	}

	StoragePathFlag = &cli.StringFlag{
		Name:  "storage-path",
		Usage: "Record storage path (fs: directory, s3: bucket/prefix)",
	}

	ArtifactsRootFlag = &cli.StringFlag{
		Name:  "artifacts-root",
		Usage: "Directory artifacts are written under (overrides config)",
	}

	StatsFlag = &cli.BoolFlag{
		Name:  "stats",
		Usage: "Print run counters to stderr on exit",
	}
)

// OutputFlags returns the output flags shared by every command.
func OutputFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
	}
}

// GlobalFlags returns the application-level flags.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		EnvFileFlag,
		LogLevelFlag,
		StorageBackendFlag,
		StoragePathFlag,
		ArtifactsRootFlag,
		StatsFlag,
	}
}

// withOutput appends the output flags to a command's own flags.
func withOutput(flags ...cli.Flag) []cli.Flag {
	return append(flags, OutputFlags()...)
}
