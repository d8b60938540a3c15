package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// CheckResult lists the usable screens and the problems of the others.
type CheckResult struct {
	Files    int      `json:"files"`
	Screens  []string `json:"screens"`
	Problems []string `json:"problems,omitempty"`
}

// Text implements Texter.
func (r *CheckResult) Text(w io.Writer) {
	for _, name := range r.Screens {
		fmt.Fprintf(w, "✓ %s\n", name)
	}
	for _, p := range r.Problems {
		fmt.Fprintf(w, "✗ %s\n", p)
	}
	if len(r.Problems) == 0 {
		fmt.Fprintf(w, "All %d screen(s) valid\n", len(r.Screens))
	}
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	var db string
	cmd := &cobra.Command{
		Use:   "check [screens-dir]",
		Short: "Compile and validate screen definitions",
		Long: `Compile the CUE screen definitions and build every screen once.

Reports compile errors with their position, and every screen that fails to
build or validate. Persistent tables are opened in a scratch database
unless --db is given.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := rootOpts.formatter(cmd)
			cfg, err := rootOpts.loadConfig(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				cfg.ScreensDir = args[0]
			}
			cfg.DBPath = db
			logger, err := rootOpts.logger(cmd, cfg)
			if err != nil {
				return err
			}
			defer logger.Close()

			formatter.VerboseLog("Compiling screens in %s", cfg.ScreensDir)
			env, err := openEnvironment(cfg, rootOpts.Actions, logger)
			if err != nil {
				return formatter.fail(ExitCommandError, ErrCodeScreens, err)
			}
			defer env.close()

			doc, problems := env.build(cmd.Context())
			result := &CheckResult{Files: env.catalog.Files, Screens: []string{}}
			for _, s := range doc.Screens() {
				result.Screens = append(result.Screens, s.Name())
			}
			for _, p := range problems {
				result.Problems = append(result.Problems, p.Error())
			}
			if len(problems) > 0 {
				msg := fmt.Sprintf("%d screen(s) invalid", len(problems))
				if err := formatter.Failure(ErrCodeInvalid, msg, result); err != nil {
					return err
				}
				return NewExitError(ExitFailure, msg)
			}
			return formatter.Success(result)
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "table database (default: scratch database)")
	return cmd
}
