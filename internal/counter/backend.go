package counter

import (
	"context"
	"fmt"
	"time"
)

// Backend kinds.
const (
	BackendLocal        = "local"
	BackendNodeExporter = "node_exporter"
	BackendPrometheus   = "prometheus"
)

// Backend selects where counter values are read from.
type Backend struct {
	Kind               string
	NodeExporterURL    string
	PrometheusURL      string
	PrometheusInstance string
	Timeout            time.Duration
}

// NewFactories builds the factory table for b. A node_exporter URL is
// resolved against its common variants first.
func NewFactories(ctx context.Context, b Backend) (Factories, error) {
	switch b.Kind {
	case "", BackendLocal:
		return LocalFactories(), nil
	case BackendNodeExporter:
		endpoint, err := ResolveNodeExporterURL(ctx, b.NodeExporterURL, b.Timeout)
		if err != nil {
			return nil, err
		}
		return NodeExporterFactories(endpoint, b.Timeout), nil
	case BackendPrometheus:
		if b.PrometheusURL == "" {
			return nil, fmt.Errorf("%w: prometheus backend needs a prometheus url", ErrInvalidArgument)
		}
		return PrometheusFactories(b.PrometheusURL, b.PrometheusInstance)
	}
	return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidArgument, b.Kind)
}
