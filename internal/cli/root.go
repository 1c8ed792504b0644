package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/saxonscout/scoutcache/internal/apiclient"
	"github.com/saxonscout/scoutcache/internal/app"
	"github.com/saxonscout/scoutcache/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const version = "0.3.0"

// Exit codes
const (
	ExitSuccess       = 0
	ExitRequestFailed = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
)

// env carries what every command needs; tests build their own.
type env struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string

	appOptions []app.Option
	exitCode   int

	// set by the root PersistentPreRunE
	cfg *config.Config
}

// configError marks failures to load or validate configuration.
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

// Run executes the root command and returns an exit code.
func Run() int {
	e := &env{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	return e.run(context.Background(), os.Args[1:])
}

func (e *env) run(ctx context.Context, args []string) int {
	root := newRootCmd(e)
	root.SetArgs(args)
	root.SetIn(e.stdin)
	root.SetOut(e.stdout)
	root.SetErr(e.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return e.exitCode
	}

	var apiErr *apiclient.Error
	var cfgErr configError
	switch {
	case errors.As(err, &apiErr):
		_ = writeJSON(e.stderr, apiErr)
		return ExitRequestFailed
	case errors.As(err, &cfgErr):
		fmt.Fprintf(e.stderr, "Error: %v\n", err)
		return ExitConfigError
	}
	fmt.Fprintf(e.stderr, "Error: %v\n", err)
	return ExitUsageError
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "scoutcache",
		Short:         "Cached REST client for scouting data",
		Long:          "scoutcache fetches scouting and event data through a two-tier cache shared by every configured API client.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "help", "version":
				return nil
			}
			cfg, err := e.loadConfig()
			if err != nil {
				return err
			}
			e.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVar(&e.configPath, "config", os.Getenv("SCOUTCACHE_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "log level, overrides the config (debug, info, warn, error)")

	root.AddCommand(
		newGetCmd(e),
		newSendCmd(e, "post"),
		newSendCmd(e, "put"),
		newSendCmd(e, "patch"),
		newDeleteCmd(e),
		newFetchCmd(e),
		newCacheCmd(e),
		newConfigCmd(e),
		newVersionCmd(e),
	)
	return root
}

func newVersionCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print scoutcache version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(e.stdout, "scoutcache version %s\n", version)
		},
	}
}

// loadConfig reads the configuration and applies the logging settings.
func (e *env) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return nil, configError{err}
	}
	if e.logLevel != "" {
		cfg.Log.Level = e.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, configError{fmt.Errorf("invalid config: %w", err)}
	}
	if err := setupLogging(cfg.Log, e.stderr); err != nil {
		return nil, configError{err}
	}
	return cfg, nil
}

// open builds the application from the loaded configuration. The caller
// must Dispose it.
func (e *env) open(ctx context.Context) (*app.App, error) {
	a, err := app.New(e.cfg, e.appOptions...)
	if err != nil {
		return nil, configError{err}
	}
	a.Init(ctx)
	return a, nil
}

func dispose(a *app.App) {
	if err := a.Dispose(); err != nil {
		logrus.Warnf("Closing cache storage: %v", err)
	}
}

func setupLogging(cfg config.LogConfig, out io.Writer) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(out)
	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
