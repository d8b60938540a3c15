package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/unisync/internal/config"
	"github.com/roach88/unisync/internal/logging"
	"github.com/roach88/unisync/internal/screens"
)

// DefaultConfigFile is read when --config is not given; it may be missing.
const DefaultConfigFile = "config.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string

	// Actions are the Go handlers screen definitions refer to.
	Actions screens.Actions
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. actions are the handlers
// available to screen definitions.
func NewRootCommand(actions screens.Actions) *cobra.Command {
	opts := &RootOptions{Actions: actions}

	cmd := &cobra.Command{
		Use:   "unisync",
		Short: "unisync - reactive UI state server",
		Long:  "Serves CUE-defined screens to browser clients and keeps every viewer in sync.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", DefaultConfigFile, "configuration file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// loadConfig reads the configuration file; the default file may be missing.
func (o *RootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	optional := !cmd.Flags().Changed("config")
	cfg, err := config.Load(o.Config, optional)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeConfig, err)
	}
	return cfg, nil
}

// logger builds the process logger, diagnostics on stderr.
func (o *RootOptions) logger(cmd *cobra.Command, cfg *config.Config) (*logging.Logger, error) {
	l, err := logging.New(logging.Options{
		Terminal: cmd.ErrOrStderr(),
		File:     cfg.Logfile,
		Verbose:  o.Verbose,
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeConfig, err)
	}
	return l, nil
}

// formatter returns the output formatter of cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
