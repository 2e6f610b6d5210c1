package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jondoveston/perftop/internal/chart"
	"github.com/jondoveston/perftop/internal/counter"
	"github.com/jondoveston/perftop/internal/monitor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// ErrInvalidConfig is returned by Load for values that cannot be used.
var ErrInvalidConfig = errors.New("invalid config")

// EnvPrefix is prepended to every key when read from the environment,
// e.g. PERFTOP_SAMPLE_INTERVAL.
const EnvPrefix = "perftop"

// Viper keys.
const (
	KeySampleInterval     = "sample_interval"
	KeyChartCapacity      = "chart_capacity"
	KeyBackend            = "backend"
	KeyNodeExporterURL    = "node_exporter_url"
	KeyPrometheusURL      = "prometheus_url"
	KeyPrometheusInstance = "prometheus_instance"
	KeyScrapeTimeout      = "scrape_timeout"
	KeyWatch              = "watch"
	KeyDemo               = "demo"
	KeyLogLevel           = "log_level"
	KeyLogFile            = "log_file"
)

type Config struct {
	SampleInterval time.Duration
	ChartCapacity  int
	Backend        counter.Backend
	// Watch lists the counters that start switched on.
	Watch    []counter.CounterType
	Demo     bool
	LogLevel zapcore.Level
	LogFile  string
}

// SetDefaults registers the default of every key and enables environment
// lookups.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeySampleInterval, monitor.DefaultInterval)
	v.SetDefault(KeyChartCapacity, chart.DefaultCapacity)
	v.SetDefault(KeyBackend, counter.BackendLocal)
	v.SetDefault(KeyNodeExporterURL, "http://localhost:9100/metrics")
	v.SetDefault(KeyPrometheusURL, "")
	v.SetDefault(KeyPrometheusInstance, "")
	v.SetDefault(KeyScrapeTimeout, time.Second)
	v.SetDefault(KeyWatch, []string{"cpu"})
	v.SetDefault(KeyDemo, false)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFile, "perftop.log")

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
}

// BindFlags defines the command line flags on cmd and binds them to v
// (dashes in flags become underscores in viper).
func BindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.Flags()
	flags.Duration("sample-interval", monitor.DefaultInterval, "How often each watched counter is sampled")
	flags.Int("chart-capacity", chart.DefaultCapacity, "Points kept per series")
	flags.String("backend", counter.BackendLocal, "Counter backend: local, node_exporter or prometheus")
	flags.String("node-exporter-url", "", "node_exporter metrics endpoint URL")
	flags.String("prometheus-url", "", "Prometheus server URL")
	flags.String("prometheus-instance", "", "Prometheus instance label to query")
	flags.Duration("scrape-timeout", time.Second, "Timeout of a single remote read")
	flags.StringSlice("watch", []string{"cpu"}, "Counters switched on at start (cpu, memory, disk); empty for none")
	flags.Bool("demo", false, "Start with a random demo series")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-file", "", "Log file path")

	for _, key := range []string{
		KeySampleInterval, KeyChartCapacity, KeyBackend, KeyNodeExporterURL,
		KeyPrometheusURL, KeyPrometheusInstance, KeyScrapeTimeout, KeyWatch,
		KeyDemo, KeyLogLevel, KeyLogFile,
	} {
		if err := v.BindPFlag(key, flags.Lookup(strings.ReplaceAll(key, "_", "-"))); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return nil
}

// ReadFile merges a config file of any format viper understands.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrInvalidConfig, path, err)
	}
	return nil
}

// Load validates the settings in v.
func Load(v *viper.Viper) (*Config, error) {
	c := &Config{
		SampleInterval: v.GetDuration(KeySampleInterval),
		ChartCapacity:  v.GetInt(KeyChartCapacity),
		Backend: counter.Backend{
			Kind:               strings.ToLower(strings.TrimSpace(v.GetString(KeyBackend))),
			NodeExporterURL:    v.GetString(KeyNodeExporterURL),
			PrometheusURL:      v.GetString(KeyPrometheusURL),
			PrometheusInstance: v.GetString(KeyPrometheusInstance),
			Timeout:            v.GetDuration(KeyScrapeTimeout),
		},
		Demo:    v.GetBool(KeyDemo),
		LogFile: v.GetString(KeyLogFile),
	}

	if c.SampleInterval <= 0 {
		return nil, fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, KeySampleInterval, c.SampleInterval)
	}
	if c.ChartCapacity <= 0 {
		return nil, fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, KeyChartCapacity, c.ChartCapacity)
	}
	if c.Backend.Timeout <= 0 {
		return nil, fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, KeyScrapeTimeout, c.Backend.Timeout)
	}

	switch c.Backend.Kind {
	case counter.BackendLocal:
	case counter.BackendNodeExporter:
		if c.Backend.NodeExporterURL == "" {
			return nil, fmt.Errorf("%w: %s is required by the node_exporter backend", ErrInvalidConfig, KeyNodeExporterURL)
		}
	case counter.BackendPrometheus:
		if c.Backend.PrometheusURL == "" {
			return nil, fmt.Errorf("%w: %s is required by the prometheus backend", ErrInvalidConfig, KeyPrometheusURL)
		}
	default:
		return nil, fmt.Errorf("%w: unknown %s %q", ErrInvalidConfig, KeyBackend, c.Backend.Kind)
	}

	level, err := zapcore.ParseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, KeyLogLevel, err)
	}
	c.LogLevel = level

	c.Watch, err = parseWatch(v.GetStringSlice(KeyWatch))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// parseWatch accepts both repeated values and comma separated lists, as
// they come from flags and from the environment respectively.
func parseWatch(values []string) ([]counter.CounterType, error) {
	var watch []counter.CounterType
	seen := make(map[counter.CounterType]bool)
	for _, value := range values {
		for _, name := range strings.Split(value, ",") {
			if strings.TrimSpace(name) == "" {
				continue
			}
			ct, err := counter.Parse(name)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, KeyWatch, err)
			}
			if !seen[ct] {
				seen[ct] = true
				watch = append(watch, ct)
			}
		}
	}
	return watch, nil
}

// Watching reports whether ct starts switched on.
func (c *Config) Watching(ct counter.CounterType) bool {
	for _, w := range c.Watch {
		if w == ct {
			return true
		}
	}
	return false
}
