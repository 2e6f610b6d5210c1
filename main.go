package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jondoveston/perftop/internal/actor"
	"github.com/jondoveston/perftop/internal/chart"
	"github.com/jondoveston/perftop/internal/config"
	"github.com/jondoveston/perftop/internal/coordinator"
	"github.com/jondoveston/perftop/internal/counter"
	"github.com/jondoveston/perftop/internal/telemetry"
	"github.com/jondoveston/perftop/internal/toggle"
	"github.com/jondoveston/perftop/internal/ui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "perftop [prometheus-url]",
	Short: "Live terminal charts of CPU, memory and disk usage",
	Long: `perftop samples host performance counters and plots them as scrolling
series in the terminal. Press c, m or d to switch CPU, memory and disk on
and off.

Counters are read from the local host by default, or from a node_exporter
endpoint or a Prometheus server.

Examples:
  perftop --watch cpu,memory
  perftop --backend node_exporter --node-exporter-url http://localhost:9100/metrics
  perftop --prometheus-instance host:9100 http://prometheus.lan:9090
  PERFTOP_WATCH=disk PERFTOP_SAMPLE_INTERVAL=1s perftop`,
	Args:          cobra.MaximumNArgs(1),
	RunE:          run,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().String("config", "", "Config file (yaml, toml, json, ...)")
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")

	if err := config.BindFlags(rootCmd, viper.GetViper()); err != nil {
		panic(err)
	}
	config.SetDefaults(viper.GetViper())
}

func run(cmd *cobra.Command, args []string) error {
	if v, _ := cmd.Flags().GetBool("version"); v {
		fmt.Printf("perftop version %s\n", version)
		return nil
	}

	path, _ := cmd.Flags().GetString("config")
	if err := config.ReadFile(viper.GetViper(), path); err != nil {
		return err
	}

	// a positional URL selects the prometheus backend unless one was chosen
	if len(args) == 1 && viper.GetString(config.KeyPrometheusURL) == "" {
		viper.Set(config.KeyPrometheusURL, args[0])
		if !cmd.Flags().Changed("backend") && os.Getenv("PERFTOP_BACKEND") == "" {
			viper.Set(config.KeyBackend, counter.BackendPrometheus)
		}
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	log, err := config.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log.Info("starting perftop", zap.String("version", version), zap.String("backend", cfg.Backend.Kind))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factories, err := counter.NewFactories(ctx, cfg.Backend)
	if err != nil {
		return err
	}

	return serve(ctx, cfg, factories, log)
}

func serve(ctx context.Context, cfg *config.Config, factories counter.Factories, log *zap.Logger) error {
	metrics := telemetry.New()
	sys := actor.NewSystem()
	dash := ui.NewDashboard(metrics, log.Named("ui"))

	charts, err := chart.NewController(sys, cfg.ChartCapacity,
		chart.WithRenderer(dash),
		chart.WithLogger(log.Named("chart")),
		chart.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	coord, err := coordinator.New(sys, factories, charts,
		coordinator.WithInterval(cfg.SampleInterval),
		coordinator.WithLogger(log.Named("coordinator")),
		coordinator.WithMetrics(metrics),
	)
	if err != nil {
		charts.Stop()
		return err
	}

	var togglers []*toggle.Toggler
	shutdown := func() {
		for _, t := range togglers {
			t.Stop()
		}
		coord.Stop()
		charts.Stop()
		if err := sys.Wait(); err != nil {
			log.Error("actor exited abnormally", zap.Error(err))
		}
		log.Info("stopped")
	}
	defer shutdown()

	// before any counter is switched on: Initialize replaces the whole series set
	if cfg.Demo {
		random, err := chart.RandomSeries("Random", chart.Line, cfg.ChartCapacity)
		if err != nil {
			return err
		}
		if err := charts.Initialize(map[string]*chart.Series{random.Name: random}); err != nil {
			return err
		}
	}

	for _, ct := range counter.Types() {
		t, err := toggle.New(sys, ct, coord, false,
			toggle.WithLogger(log.Named("toggle")),
			toggle.WithOnChange(dash.SwitchChanged),
		)
		if err != nil {
			return err
		}
		togglers = append(togglers, t)
		dash.AddSwitch(t)

		if cfg.Watching(ct) {
			if err := t.Toggle(); err != nil {
				return err
			}
		}
	}

	return dash.Run(ctx)
}
