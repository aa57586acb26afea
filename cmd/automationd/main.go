package main

import (
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/config"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// exitError carries the process exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExit(code int, err error) error {
	return &exitError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitRuntimeError
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(config.Load)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(stderr, "automationd: %v\n", err)
	}
	return exitCode(err)
}

// newRootCmd builds the command tree. load supplies the configuration so
// tests can run commands without touching the process environment.
func newRootCmd(load func() config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:   "automationd",
		Short: "automationd - recurring SEO automation jobs",
		Long: `automationd runs recurring analytics and keyword jobs per project.

It schedules jobs in each owner's timezone, retries failures with bounded
backoff, parks exhausted jobs in a dead-letter queue and raises alerts when
the scheduler or the jobs misbehave.

Configuration is read from environment variables; run "automationd config"
to print the effective values.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(load),
		newSchedulerCmd(load),
		newMigrateCmd(load),
		newValidateCmd(load),
		newConfigCmd(load),
		newVersionCmd(),
	)
	return root
}

func newValidateCmd(load func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration (no connections made)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := load()
			if err := config.Validate(cfg); err != nil {
				return withExit(exitInvalidConfig, err)
			}
			for _, w := range cfg.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
			return nil
		},
	}
}

func newConfigCmd(load func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration as JSON (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := load()
			data, err := cfg.MaskedJSON()
			if err != nil {
				return errors.Wrap(err, "marshal config")
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "automationd version %s (commit: %s)\n", version, commit)
		},
	}
}
