// Package cli implements the deployer command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/branched-services/go-deployer/internal/config"
)

// Version is set at build time.
var Version = "dev"

// Exit codes.
const (
	ExitOK     = 0
	ExitFailed = 1 // a future failed or the run could not proceed
	ExitUsage  = 2 // bad flags, arguments, configuration or declarations
)

// ExitError carries the process exit code for err.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func usageError(err error) error {
	return &ExitError{Code: ExitUsage, Err: err}
}

func failure(err error) error {
	return &ExitError{Code: ExitFailed, Err: err}
}

// app holds the state shared by all commands of one invocation.
type app struct {
	v       *viper.Viper
	cfgFile string
	stdout  io.Writer
	stderr  io.Writer

	// connect is replaced in tests.
	connect connectFunc
}

// NewRootCommand builds the command tree writing to stdout and stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	return newApp(stdout, stderr).rootCommand()
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		v:       config.New(),
		stdout:  stdout,
		stderr:  stderr,
		connect: dialNetwork,
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "deployer",
		Short: "Declarative, resumable contract deployments",
		Long: `deployer executes a set of declared contract deployments and calls
against an EVM chain, in dependency order. Every step is journaled, so a
deployment that failed or was interrupted resumes where it stopped when the
same command is run again.

Configuration (in order of priority):
  1. Command-line flags
  2. Environment variables (DEPLOYER_RPC_URL, DEPLOYER_JOURNAL_BACKEND, ...)
  3. Config file (--config)

Get started:
  $ deployer plan deploy.hcl --artifacts out
  $ deployer deploy deploy.hcl --artifacts out --rpc-url http://localhost:8545 --dev
  $ deployer status`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text, json")
	flags.String("plan-id", "", "plan identifier in the journal (default is the module name)")
	flags.String("module", "Main", "module name used in future IDs")
	flags.String("journal", config.BackendBadger, "journal backend: memory, badger, postgres, redis")
	flags.String("journal-dir", ".deployer", "badger journal directory")
	flags.String("postgres-dsn", "", "postgres journal connection string")
	flags.String("redis-url", "", "redis journal URL")

	a.bind(flags, map[string]string{
		"log.level":            "log-level",
		"log.format":           "log-format",
		"plan.id":              "plan-id",
		"plan.module":          "module",
		"journal.backend":      "journal",
		"journal.dir":          "journal-dir",
		"journal.postgres_dsn": "postgres-dsn",
		"journal.redis_url":    "redis-url",
	})

	root.AddCommand(
		a.deployCommand(),
		a.planCommand(),
		a.statusCommand(),
		a.wipeCommand(),
	)
	return root
}

// bind maps viper keys to flags so that flags take priority over the
// environment and the config file.
func (a *app) bind(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		_ = a.v.BindPFlag(key, flags.Lookup(name))
	}
}

// load reads the merged configuration.
func (a *app) load() (*config.Config, error) {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return nil, usageError(err)
	}
	return cfg, nil
}

func (a *app) logger(cfg *config.Config) *slog.Logger {
	return newLogger(cfg.Log.Level, cfg.Log.Format, a.stderr)
}

// Execute runs the command line with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return newApp(stdout, stderr).execute(ctx, args)
}

func (a *app) execute(ctx context.Context, args []string) int {
	root := a.rootCommand()
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	fmt.Fprintf(a.stderr, "Error: %v\n", err)

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	// Errors cobra raises itself: unknown commands and argument validation.
	return ExitUsage
}

// newLogger creates a logger without touching slog's default.
func newLogger(levelStr, formatStr string, w io.Writer) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if formatStr == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
