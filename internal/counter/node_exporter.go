package counter

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const (
	nodeCPUSeconds    = "node_cpu_seconds_total"
	nodeMemAvailable  = "node_memory_MemAvailable_bytes"
	nodeMemTotal      = "node_memory_MemTotal_bytes"
	nodeDiskIOSeconds = "node_disk_io_time_seconds_total"
)

// NodeExporterFactories read counters from a node_exporter metrics endpoint.
// Every counter owns its own HTTP client.
func NodeExporterFactories(endpoint string, timeout time.Duration) Factories {
	scraper := func() scrapeFunc {
		return newScraper(newHTTPClient(timeout), endpoint)
	}
	return Factories{
		Processor: func() (Counter, error) {
			return &nodeCPUCounter{scrape: scraper()}, nil
		},
		Memory: func() (Counter, error) {
			return &nodeMemoryCounter{scrape: scraper()}, nil
		},
		Disk: func() (Counter, error) {
			return &nodeDiskCounter{scrape: scraper(), now: time.Now}, nil
		},
	}
}

func newHTTPClient(timeout time.Duration) *resty.Client {
	return resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "text/plain")
}

type scrapeFunc func(ctx context.Context) (map[string]*dto.MetricFamily, error)

func newScraper(client *resty.Client, endpoint string) scrapeFunc {
	return func(ctx context.Context) (map[string]*dto.MetricFamily, error) {
		resp, err := client.R().SetContext(ctx).Get(endpoint)
		if err != nil {
			return nil, fmt.Errorf("scrape %s: %w", endpoint, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("scrape %s: unexpected status: %d", endpoint, resp.StatusCode())
		}

		var parser expfmt.TextParser
		families, err := parser.TextToMetricFamilies(bytes.NewReader(resp.Body()))
		if err != nil {
			return nil, fmt.Errorf("parse metrics from %s: %w", endpoint, err)
		}
		return families, nil
	}
}

// nodeCPUCounter reports the non-idle share of all CPU seconds since the previous read.
type nodeCPUCounter struct {
	lifecycle
	scrape    scrapeFunc
	primed    bool
	prevIdle  float64
	prevTotal float64
}

func (c *nodeCPUCounter) Next(ctx context.Context) (float64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	metrics, err := scrapeFamily(ctx, c.scrape, nodeCPUSeconds)
	if err != nil {
		return 0, err
	}

	var idle, total float64
	for _, m := range metrics {
		v := metricValue(m)
		total += v
		if mode := labelValue(m, "mode"); mode == "idle" || mode == "iowait" {
			idle += v
		}
	}

	prevIdle, prevTotal, primed := c.prevIdle, c.prevTotal, c.primed
	c.prevIdle, c.prevTotal, c.primed = idle, total, true
	if !primed {
		return 0, nil
	}

	// a counter reset shows up as a negative delta
	dTotal := total - prevTotal
	if dTotal <= 0 {
		return 0, nil
	}
	return clampPercent(100 * (1 - (idle-prevIdle)/dTotal)), nil
}

func (c *nodeCPUCounter) Close() error {
	c.markClosed()
	return nil
}

// nodeMemoryCounter reports the share of memory that is not available.
type nodeMemoryCounter struct {
	lifecycle
	scrape scrapeFunc
}

func (c *nodeMemoryCounter) Next(ctx context.Context) (float64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	families, err := c.scrape(ctx)
	if err != nil {
		return 0, unavailable("scrape node_exporter", err)
	}

	available, err := firstValue(families, nodeMemAvailable)
	if err != nil {
		return 0, err
	}
	total, err := firstValue(families, nodeMemTotal)
	if err != nil {
		return 0, err
	}
	if total <= 0 {
		return 0, unavailable(nodeMemTotal, errEmpty)
	}
	return clampPercent(100 * (1 - available/total)), nil
}

func (c *nodeMemoryCounter) Close() error {
	c.markClosed()
	return nil
}

// nodeDiskCounter reports the busiest device's IO time share since the previous read.
type nodeDiskCounter struct {
	lifecycle
	scrape scrapeFunc
	now    func() time.Time
	prev   map[string]float64
	prevAt time.Time
}

func (c *nodeDiskCounter) Next(ctx context.Context) (float64, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	metrics, err := scrapeFamily(ctx, c.scrape, nodeDiskIOSeconds)
	if err != nil {
		return 0, err
	}
	now := c.now()

	cur := make(map[string]float64, len(metrics))
	for _, m := range metrics {
		cur[labelValue(m, "device")] = metricValue(m)
	}

	prev, prevAt := c.prev, c.prevAt
	c.prev, c.prevAt = cur, now
	if prev == nil {
		return 0, nil
	}

	elapsed := now.Sub(prevAt).Seconds()
	if elapsed <= 0 {
		return 0, nil
	}

	busiest := 0.0
	for device, seconds := range cur {
		before, ok := prev[device]
		if !ok || seconds < before {
			continue
		}
		if busy := 100 * (seconds - before) / elapsed; busy > busiest {
			busiest = busy
		}
	}
	return clampPercent(busiest), nil
}

func (c *nodeDiskCounter) Close() error {
	c.markClosed()
	return nil
}

func scrapeFamily(ctx context.Context, scrape scrapeFunc, name string) ([]*dto.Metric, error) {
	families, err := scrape(ctx)
	if err != nil {
		return nil, unavailable("scrape node_exporter", err)
	}
	family, ok := families[name]
	if !ok || len(family.GetMetric()) == 0 {
		return nil, unavailable(name, errEmpty)
	}
	return family.GetMetric(), nil
}

func firstValue(families map[string]*dto.MetricFamily, name string) (float64, error) {
	family, ok := families[name]
	if !ok || len(family.GetMetric()) == 0 {
		return 0, unavailable(name, errEmpty)
	}
	return metricValue(family.GetMetric()[0]), nil
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	}
	return 0
}

func labelValue(m *dto.Metric, name string) string {
	for _, label := range m.GetLabel() {
		if label.GetName() == name {
			return label.GetValue()
		}
	}
	return ""
}

// ResolveNodeExporterURL tries scheme, port and path variants of raw and
// returns the first one that serves parseable metrics.
func ResolveNodeExporterURL(ctx context.Context, raw string, timeout time.Duration) (string, error) {
	base, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: node_exporter url %q: %w", ErrInvalidArgument, raw, err)
	}
	if base.Hostname() == "" {
		return "", fmt.Errorf("%w: node_exporter url %q has no host", ErrInvalidArgument, raw)
	}

	client := newHTTPClient(timeout)
	var lastErr error
	for _, variant := range urlVariants(base) {
		families, err := newScraper(client, variant.String())(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		if len(families) == 0 {
			lastErr = fmt.Errorf("scrape %s: no metrics", variant)
			continue
		}
		return variant.String(), nil
	}
	return "", unavailable("no node_exporter endpoint found for "+raw, lastErr)
}

// urlVariants lists the URLs worth trying for base, most specific first.
func urlVariants(base *url.URL) []*url.URL {
	schemes := []string{"http", "https"}
	if base.Scheme == "https" {
		schemes = []string{"https", "http"}
	}

	ports := []string{"9100"}
	if port := base.Port(); port != "" && port != "9100" {
		ports = []string{port, "9100"}
	}

	paths := []string{base.Path}
	if base.Path == "" || base.Path == "/" {
		paths = []string{"/metrics", ""}
	}

	var variants []*url.URL
	for _, scheme := range schemes {
		for _, port := range ports {
			for _, path := range paths {
				variants = append(variants, &url.URL{
					Scheme: scheme,
					Host:   base.Hostname() + ":" + port,
					Path:   path,
				})
			}
		}
	}
	return variants
}
