package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/modelmesh/fleetgate/pkg/config"
	"github.com/modelmesh/fleetgate/pkg/discovery"
	"github.com/modelmesh/fleetgate/pkg/frontend"
	"github.com/modelmesh/fleetgate/pkg/health"
	"github.com/modelmesh/fleetgate/pkg/log"
	"github.com/modelmesh/fleetgate/pkg/placement"
	"github.com/modelmesh/fleetgate/pkg/placer"
	"github.com/modelmesh/fleetgate/pkg/reconciler"
	"github.com/modelmesh/fleetgate/pkg/registry"
	"github.com/modelmesh/fleetgate/pkg/workerclient"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fleetgate",
	Short:   "fleetgate routes inference requests to workers that hold the target model",
	Version: Version,
}

var configPath string

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("fleetgate version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error); overrides config file")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format; overrides config file")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "fleetgate.yaml", "Path to the fleetgate configuration file")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fleetgate gateway",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if json, _ := cmd.Flags().GetBool("log-json"); json {
		cfg.Log.JSON = true
	}

	log.Init(log.Config{Level: log.Level(cfg.Log.Level), JSONOutput: cfg.Log.JSON})
	logger := log.WithComponent("main")

	store, err := registry.NewRedisStore(cfg.Registry.URL)
	if err != nil {
		return fmt.Errorf("connecting to registry: %w", err)
	}
	defer store.Close()

	opts := registry.Options{
		ModelKeyPrefix:      cfg.Registry.ModelKeyPrefix,
		WorkerLoadKeyPrefix: cfg.Registry.WorkerLoadKeyPrefix,
		AssignTTL:           cfg.Registry.AssignTTL,
	}

	source, err := buildDiscoverySource(cfg)
	if err != nil {
		return fmt.Errorf("building discovery source: %w", err)
	}

	prober := health.NewHTTPProber(cfg.Timeouts.HealthProbe)
	monitor := health.NewMonitor(prober, cfg.Concurrency.HealthProbes)

	discoveryInterval := cfg.Workers.Cluster.PollInterval
	if cfg.Workers.Discovery.Mode == "static" {
		discoveryInterval = cfg.Timings.DiscoveryPollInterval
	}
	poller := discovery.NewPoller(source, discoveryInterval, monitor.Replace)

	cache := placement.NewCache()
	workerClient := workerclient.New(cfg.Timeouts.HealthProbe, cfg.Timeouts.ModelLoad, cfg.Timeouts.ModelUnload)

	p := placer.New(store, monitor, cache, workerClient, opts, cfg.Timings.HealthProbeInterval*3, cfg.Concurrency.HealthProbes, cfg.Load.BatchSize, cfg.Load.BatchWaitMs)
	rec := reconciler.New(monitor, store, cache, p, opts)
	fe := frontend.New(p, monitor, cache, cfg.Timings.HealthProbeInterval*3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go poller.Run(ctx)
	go monitor.Run(ctx, cfg.Timings.HealthProbeInterval)
	rec.Start(cfg.Timings.ReconcileInterval)
	defer rec.Stop()

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      fe,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("fleetgate listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down fleetgate")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func buildDiscoverySource(cfg *config.Config) (discovery.Source, error) {
	switch cfg.Workers.Discovery.Mode {
	case "static":
		return discovery.NewStaticSource(cfg.Workers.Static)
	case "cluster":
		return discovery.NewClusterSource(
			cfg.Workers.Cluster.Kubeconfig,
			cfg.Workers.Cluster.Namespace,
			cfg.Workers.Cluster.ServiceName,
			cfg.Workers.Cluster.PortName,
		)
	default:
		return nil, fmt.Errorf("unknown discovery mode %q", cfg.Workers.Discovery.Mode)
	}
}
