// Command shellguard gates shell commands behind risk assessment and
// approval.
package main

import (
	"log/slog"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/petrijr/shellguard/internal/config"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

type app struct {
	cfgFile     string
	verbose     bool
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "shellguard",
		Short: "Risk-gated command execution",
		Long: `shellguard scores every submitted command, holds risky ones for
approval and releases the rest to the workers in submission order.

Commands:
  assess   Score a command without running it
  run      Interactive session: submit, approve and reject commands
  history  Show finished actions from the audit backend
  version  Show version information`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "YAML config file (SHELLGUARD_* variables override it)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log at debug level")
	root.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	root.AddCommand(
		newAssessCmd(a),
		newRunCmd(a),
		newHistoryCmd(a),
		newVersionCmd(),
	)
	return root
}

// load reads the config and applies command-line overrides.
func (a *app) load() (*config.Config, error) {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return nil, err
	}
	if a.metricsAddr != "" {
		cfg.Metrics.Addr = a.metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *app) logger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	if a.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// currentUser names the operator recorded on approvals.
func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
