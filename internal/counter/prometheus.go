package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// PrometheusFactories read node_exporter series of one instance through a
// Prometheus server. An empty instance aggregates over all instances.
func PrometheusFactories(address, instance string) (Factories, error) {
	client, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("%w: prometheus client for %q: %w", ErrInvalidArgument, address, err)
	}

	queries := PrometheusQueries(instance)
	factories := make(Factories, len(queries))
	for t, query := range queries {
		query := query
		factories[t] = func() (Counter, error) {
			return &prometheusCounter{api: v1.NewAPI(client), query: query, now: time.Now}, nil
		}
	}
	return factories, nil
}

// PrometheusQueries returns the instant query used for each counter type.
func PrometheusQueries(instance string) map[CounterType]string {
	selector, extra := "", ""
	if instance != "" {
		selector = fmt.Sprintf(`{instance=%q}`, instance)
		extra = fmt.Sprintf(`,instance=%q`, instance)
	}
	return map[CounterType]string{
		Processor: `100 - (avg(rate(node_cpu_seconds_total{mode="idle"` + extra + `}[1m])) * 100)`,
		Memory:    `100 * (1 - sum(node_memory_MemAvailable_bytes` + selector + `) / sum(node_memory_MemTotal_bytes` + selector + `))`,
		Disk:      `max(rate(node_disk_io_time_seconds_total` + selector + `[1m])) * 100`,
	}
}

type prometheusCounter struct {
	lifecycle
	api   v1.API
	query string
	now   func() time.Time
}

func (c *prometheusCounter) Next(ctx context.Context) (float64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	result, _, err := c.api.Query(ctx, c.query, c.now())
	if err != nil {
		return 0, unavailable("prometheus query", err)
	}

	if result == nil {
		return 0, unavailable("prometheus query", errEmpty)
	}
	vector, ok := result.(model.Vector)
	if !ok {
		return 0, unavailable("prometheus query", fmt.Errorf("unexpected result type %s", result.Type()))
	}
	if vector.Len() == 0 {
		return 0, unavailable("prometheus query", errEmpty)
	}
	return clampPercent(float64(vector[0].Value)), nil
}

func (c *prometheusCounter) Close() error {
	c.markClosed()
	return nil
}
