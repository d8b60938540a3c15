package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/unisync/internal/autotest"
	"github.com/roach88/unisync/internal/session"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Screens string // screens directory, overrides the config
	Dir     string // scenario directory, overrides the config
	DB      string // table store; empty uses a scratch database
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// Text implements Texter.
func (r *TestResult) Text(w io.Writer) {
	for _, sc := range r.Scenarios {
		if sc.Pass {
			fmt.Fprintf(w, "✓ %s\n", sc.Name)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", sc.Name)
		for _, e := range sc.Errors {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}
	fmt.Fprintf(w, "%d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Total)
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test [scenario.yaml...]",
		Short: "Replay recorded scenarios",
		Long: `Replay autotest scenarios against freshly built screens.

Without arguments the scenarios named by the autotest setting run, or
every scenario of the directory when it names none.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  unisync test
  unisync test greet.yaml --dir ./autotest
  unisync test --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Screens, "screens", "", "screens directory (default from config)")
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "scenario directory (default from config)")
	cmd.Flags().StringVar(&opts.DB, "db", "", "table database (default: scratch database)")

	return cmd
}

func runTest(cmd *cobra.Command, opts *TestOptions, names []string) error {
	formatter := opts.formatter(cmd)
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	if opts.Screens != "" {
		cfg.ScreensDir = opts.Screens
	}
	if opts.Dir != "" {
		cfg.AutotestDir = opts.Dir
	}
	cfg.DBPath = opts.DB
	if len(names) == 0 {
		names = cfg.Autotest
	}
	if len(names) == 0 {
		names = []string{"*"}
	}

	logger, err := opts.logger(cmd, cfg)
	if err != nil {
		return err
	}
	defer logger.Close()
	env, err := openEnvironment(cfg, opts.Actions, logger)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeScreens, err)
	}
	defer env.close()

	result, err := runScenarios(cmd.Context(), env, names)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeScenario, err)
	}
	if result.Failed > 0 {
		msg := fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.Total)
		if err := formatter.Failure(ErrCodeMismatch, msg, result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}
	return formatter.Success(result)
}

// runScenarios replays the named scenarios of the autotest directory, each
// against a fresh document.
func runScenarios(ctx context.Context, env *environment, names []string) (*TestResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	scenarios, err := autotest.LoadDir(env.cfg.AutotestDir, names)
	if err != nil {
		return nil, err
	}

	result := &TestResult{Scenarios: []ScenarioResult{}, Total: len(scenarios)}
	for _, sc := range scenarios {
		doc, err := env.document(ctx)
		if err != nil {
			return nil, err
		}
		res, err := autotest.Run(ctx, doc, sc, session.Options{Logger: env.logger.Logger})
		if err != nil {
			result.Failed++
			result.Scenarios = append(result.Scenarios, ScenarioResult{Name: sc.Name, Errors: []string{err.Error()}})
			continue
		}
		sr := ScenarioResult{Name: sc.Name, Pass: res.Passed()}
		for _, f := range res.Failures {
			sr.Errors = append(sr.Errors, f.String())
		}
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, sr)
	}
	return result, nil
}
