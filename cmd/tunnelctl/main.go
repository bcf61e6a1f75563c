// tunnelctl inspects and exercises packet tunnel state.
//
// Usage:
//
//	tunnelctl [flags] <command>
//
// Commands:
//
//	inspect [FILE]   Decode a state snapshot and explain it
//	reasons          List every blocked state reason and its restart policy
//	config init      Write a default configuration file
//	config show      Print the effective configuration
//	demo             Drive a tunnel actor through a full lifecycle
//	version          Print version and exit
//
// Flags:
//
//	--config string
//	    Path to configuration file (default "~/.packettunnel/config.toml")
//	-v, --verbose
//	    Enable verbose logging
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/go-i2p/packettunnel/lib/core"
	"github.com/go-i2p/packettunnel/lib/errors"
	"github.com/go-i2p/packettunnel/version"
)

// options are the flags shared by every subcommand.
type options struct {
	configPath string
	verbose    bool
	stderr     io.Writer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit status.
func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		e := errors.FromSentinel(err)
		fmt.Fprintf(stderr, "tunnelctl: %s (code %d)\n", e.SafeMessage(), e.Code)
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{stderr: stderr}

	root := &cobra.Command{
		Use:           "tunnelctl",
		Short:         "Inspect and exercise packet tunnel state",
		Long:          "tunnelctl decodes tunnel state snapshots, explains blocked states and drives a tunnel actor against a static relay list.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&opts.configPath, "config", core.DefaultConfigPath(), "Path to configuration file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(
		newInspectCmd(opts),
		newReasonsCmd(),
		newConfigCmd(opts),
		newDemoCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Banner("tunnelctl"))
			return err
		},
	}
}

// logger builds the stderr text logger. The configured level applies unless
// -v asks for debug output.
func (o *options) logger(cfg *core.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg != nil {
		if l, err := cfg.SlogLevel(); err == nil {
			level = l
		}
	}
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(o.stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// loadConfig reads the configuration named by --config.
func (o *options) loadConfig() (*core.Config, error) {
	cfg, err := core.LoadConfig(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", o.configPath, err)
	}
	return cfg, nil
}
