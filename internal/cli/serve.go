package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/unisync/internal/monitor"
	"github.com/roach88/unisync/internal/server"
	"github.com/roach88/unisync/internal/session"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Port    int
	Screens string
	DB      string
	Share   bool
	Mirror  bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve screens over WebSocket",
		Long: `Compile the screens, replay the configured autotests and serve the
screens on /ws. Prometheus metrics are exposed on /metrics.

Flags override the configuration file.

Examples:
  unisync serve
  unisync serve --port 8080 --share
  unisync serve -c prod.yaml --db ./data/app.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Port, "port", 0, "listen port (default from config)")
	cmd.Flags().StringVar(&opts.Screens, "screens", "", "screens directory (default from config)")
	cmd.Flags().StringVar(&opts.DB, "db", "", "table database (default from config)")
	cmd.Flags().BoolVar(&opts.Share, "share", false, "allow joining a session with ?share=<id>")
	cmd.Flags().BoolVar(&opts.Mirror, "mirror", false, "join every connection to the last session")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	formatter := opts.formatter(cmd)
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = opts.Port
	}
	if flags.Changed("screens") {
		cfg.ScreensDir = opts.Screens
	}
	if flags.Changed("db") {
		cfg.DBPath = opts.DB
	}
	if flags.Changed("share") {
		cfg.Share = opts.Share
	}
	if flags.Changed("mirror") {
		cfg.Mirror = opts.Mirror
	}
	if err := cfg.Validate(); err != nil {
		return formatter.fail(ExitCommandError, ErrCodeConfig, err)
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

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(cfg.Autotest) > 0 {
		autotests(ctx, env)
	}

	startup, err := env.document(ctx)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeInvalid, err)
	}
	logger.Info("screens loaded", "files", env.catalog.Files, "screens", len(startup.Screens()))

	watchdog := monitor.NewWatchdog(cfg.Watchdog(), logger.Logger, env.metrics)
	sessOpts := session.Options{}
	if cfg.Pool > 0 {
		sessOpts.Pool = monitor.NewPool(cfg.Pool, cfg.MonitorTick, 0)
	}

	srv := server.New(startup, env.document, server.Config{
		Share:    cfg.Share,
		Mirror:   cfg.Mirror,
		Logger:   logger.Logger,
		Metrics:  env.metrics,
		Gatherer: env.registry,
		Watchdog: watchdog,
		Session:  sessOpts,
		Patches:  env.patches,
	})
	if err := srv.Run(ctx, cfg.Addr()); err != nil {
		return formatter.fail(ExitCommandError, ErrCodeServeStop, err)
	}
	logger.Info("server stopped")
	return nil
}

// autotests replays the configured scenarios before serving. Failures are
// logged; they do not stop the server.
func autotests(ctx context.Context, env *environment) {
	result, err := runScenarios(ctx, env, env.cfg.Autotest)
	if err != nil {
		env.logger.Error("autotest", "error", err)
		return
	}
	for _, sc := range result.Scenarios {
		if sc.Pass {
			continue
		}
		for _, e := range sc.Errors {
			env.logger.Warn("autotest failed", "scenario", sc.Name, "error", e)
		}
	}
	env.logger.Info("autotest", "passed", result.Passed, "failed", result.Failed)
}
