// Package cli implements the toolns command line.
package cli

import (
	"context"
	"fmt"

	"github.com/harun/toolns/internal/config"
	"github.com/harun/toolns/internal/daemon"
	"github.com/harun/toolns/internal/logger"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile    string
	logLevel   string
	privileged bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "toolns",
	Short: "toolns - namespaced tool registry and script execution server",
	Long: `toolns serves Lua tools over JSON-RPC. Tools live in a Unix-like namespace
(/bin, /sbin, /docs and /<user>/<package>/<name>:<version>) and every call runs
on a single serialized interpreter.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.toolns/toolns.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().BoolVar(&privileged, "privileged", false, "run callers at the privileged tier (/sbin tools, registry changes)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the config file and applies the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if privileged {
		cfg.Server.Privileged = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, level string) (*logger.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log, nil
}

// localRuntime is an in-process server without a listener, used by the
// commands that run tools directly.
type localRuntime struct {
	*daemon.Daemon
	cfg *config.Config
	log *logger.Logger
}

func openLocal(ctx context.Context) (*localRuntime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	// Only warnings reach the console unless --log-level asks for more.
	level := "warn"
	if logLevel != "" {
		level = logLevel
	}
	log, err := newLogger(cfg, level)
	if err != nil {
		return nil, err
	}

	d, err := daemon.New(cfg, log, version)
	if err != nil {
		log.Close()
		return nil, err
	}
	if err := d.StartLocal(ctx); err != nil {
		log.Close()
		return nil, err
	}

	return &localRuntime{Daemon: d, cfg: cfg, log: log}, nil
}

func (r *localRuntime) Close() error {
	err := r.Daemon.Stop()
	r.log.Close()
	return err
}
