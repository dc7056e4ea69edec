package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/vigil/internal/api"
	"github.com/good-yellow-bee/vigil/internal/health"
	"github.com/good-yellow-bee/vigil/internal/logging"
	"github.com/good-yellow-bee/vigil/internal/metrics"
	"github.com/good-yellow-bee/vigil/internal/models"
	"github.com/good-yellow-bee/vigil/internal/scheduler"
	"github.com/good-yellow-bee/vigil/pkg/config"
)

var (
	configFile string
	httpAddr   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Vigil - health monitoring, alerting and notification delivery",
	Long: `Vigil probes the platform's services, records health snapshots,
raises and tracks alerts, and delivers queued notifications with retries.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and HTTP API (default)",
	RunE:  runServe,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every service once and print the result",
	Long:  "Probe every service once and print the result. Exits non-zero unless all services are healthy.",
	RunE:  runCheck,
}

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Deliver due notifications once and exit",
	RunE:  runDrain,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.GetBuildInfo())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.PersistentFlags().StringVarP(&httpAddr, "address", "a", "", "HTTP API listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd, checkCmd, drainCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies CLI overrides.
func loadConfig() (*Config, error) {
	var cfg *Config
	if configFile != "" {
		var err error
		cfg, err = LoadConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
	}

	if httpAddr != "" {
		cfg.Server.HTTPAddress = httpAddr
	}
	cfg.Verbose = verbose
	return cfg, nil
}

func loggerFor(cfg *Config) (*zap.Logger, error) {
	level := cfg.Log.Level
	if cfg.Verbose {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.buildAll(ctx); err != nil {
		return err
	}
	if err := a.buildScheduler(); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	apiServer, err := api.New(&api.Config{
		Address:        cfg.Server.HTTPAddress,
		QueryTimeout:   cfg.Server.QueryTimeout,
		HealthMaxAge:   cfg.Server.HealthMaxAge,
		RateLimitPerIP: cfg.Server.RateLimitPerIP,
		Verbose:        cfg.Verbose,
	}, api.Deps{
		Health:        a.aggregator,
		Snapshots:     a.store.Snapshots(),
		Alerts:        a.engine,
		Notifications: a.queue,
		Jobs:          a.scheduler,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("create API server: %w", err)
	}
	metricsServer := metrics.NewServer(cfg.Server.MetricsAddress, a.logger)

	a.logger.Info("starting vigil",
		zap.String("version", config.Version),
		zap.Strings("probes", a.aggregator.Probes()))

	a.scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return apiServer.Run(gctx)
	})
	g.Go(func() error {
		return metricsServer.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		// First health run without waiting a full interval.
		if err := a.scheduler.RunNow(gctx, scheduler.JobHealth); err != nil && !errors.Is(err, scheduler.ErrJobRunning) {
			a.logger.Warn("initial health check failed", zap.Error(err))
		}
		return nil
	})

	runErr := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.scheduler.Stop(stopCtx); err != nil {
		a.logger.Warn("scheduler did not stop cleanly", zap.Error(err))
	}

	if runErr != nil {
		return fmt.Errorf("run server: %w", runErr)
	}
	a.logger.Info("vigil stopped")
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.openStore(); err != nil {
		return err
	}
	if err := a.buildAggregator(false); err != nil {
		return err
	}

	res := a.aggregator.RunAll(cmd.Context())
	printResult(cmd.OutOrStdout(), res)

	if res.OverallStatus != models.OverallHealthy {
		return fmt.Errorf("overall status %s", res.OverallStatus)
	}
	return nil
}

func printResult(out io.Writer, res *health.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tSTATUS\tRESPONSE\tMESSAGE")
	for _, s := range res.Services {
		rt := "-"
		if s.ResponseTimeMs != models.UnknownResponseTime {
			rt = fmt.Sprintf("%dms", s.ResponseTimeMs)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.Status, rt, s.Message)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%s (%d/%d healthy)\n", res.OverallStatus, res.HealthyCount, res.TotalCount)
}

func runDrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.buildAll(cmd.Context()); err != nil {
		return err
	}

	outcomes, err := a.queue.DrainDue(cmd.Context(), cfg.Queue.BatchSize)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRESULT\tRETRIES\tERROR")
	for _, o := range outcomes {
		msg := ""
		if o.Err != nil {
			msg = o.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", o.ItemID, o.Result, o.RetryCount, msg)
	}
	w.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d processed\n", len(outcomes))
	return nil
}
