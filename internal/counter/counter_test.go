package counter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    CounterType
		wantErr bool
	}{
		{"cpu", Processor, false},
		{"Processor", Processor, false},
		{" mem ", Memory, false},
		{"memory", Memory, false},
		{"disk", Disk, false},
		{"", Unknown, true},
		{"network", Unknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	for _, ct := range Types() {
		assert.NoError(t, Validate(ct), ct.String())
	}
	assert.ErrorIs(t, Validate(Unknown), ErrInvalidArgument)
	assert.ErrorIs(t, Validate(CounterType(42)), ErrInvalidArgument)
	assert.Equal(t, "unknown", CounterType(42).String())
}

func TestFactoriesNew(t *testing.T) {
	f := Factories{
		Processor: func() (Counter, error) { return newMemoryCounter(nil), nil },
		Memory:    func() (Counter, error) { return nil, errors.New("no memory counter here") },
		Disk:      func() (Counter, error) { return nil, nil },
	}

	c, err := f.New(Processor)
	require.NoError(t, err)
	require.NotNil(t, c)

	_, err = f.New(Memory)
	assert.ErrorContains(t, err, "no memory counter here")

	_, err = f.New(Disk)
	assert.ErrorContains(t, err, "factory returned nil")

	_, err = f.New(Unknown)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Factories{}.New(Processor)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCPUCounter(t *testing.T) {
	reads := [][]cpu.TimesStat{
		{{CPU: "cpu-total", User: 10, System: 10, Idle: 80}},
		{{CPU: "cpu-total", User: 40, System: 20, Idle: 140}},
		{{CPU: "cpu-total", User: 40, System: 20, Idle: 140}},
	}
	var i int
	c := newCPUCounter(func(context.Context) ([]cpu.TimesStat, error) {
		r := reads[i]
		i++
		return r, nil
	})
	ctx := context.Background()

	v, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Zero(t, v, "first read only primes the baseline")

	v, err = c.Next(ctx)
	require.NoError(t, err)
	// busy delta 40 of total delta 100
	assert.InDelta(t, 40.0, v, 1e-9)

	v, err = c.Next(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestCPUCounterReadFailure(t *testing.T) {
	c := newCPUCounter(func(context.Context) ([]cpu.TimesStat, error) {
		return nil, errors.New("/proc/stat: permission denied")
	})

	_, err := c.Next(context.Background())
	require.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorContains(t, err, "permission denied")
}

func TestMemoryCounter(t *testing.T) {
	c := newMemoryCounter(func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: 63.5}, nil
	})

	v, err := c.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 63.5, v)
}

func TestDiskCounter(t *testing.T) {
	start := time.Unix(1000, 0)
	clock := start
	reads := []map[string]disk.IOCountersStat{
		{"sda": {Name: "sda", IoTime: 1000}, "sdb": {Name: "sdb", IoTime: 5000}},
		{"sda": {Name: "sda", IoTime: 1250}, "sdb": {Name: "sdb", IoTime: 5100}},
	}
	var i int
	c := newDiskCounter(func(context.Context) (map[string]disk.IOCountersStat, error) {
		r := reads[i]
		i++
		return r, nil
	}, func() time.Time { return clock })
	ctx := context.Background()

	v, err := c.Next(ctx)
	require.NoError(t, err)
	assert.Zero(t, v)

	clock = start.Add(time.Second)
	v, err = c.Next(ctx)
	require.NoError(t, err)
	// sda was busy 250ms of 1000ms
	assert.InDelta(t, 25.0, v, 1e-9)
}

func TestCounterClose(t *testing.T) {
	counters := map[string]Counter{
		"cpu": newCPUCounter(func(context.Context) ([]cpu.TimesStat, error) { return nil, nil }),
		"memory": newMemoryCounter(func(context.Context) (*mem.VirtualMemoryStat, error) {
			return &mem.VirtualMemoryStat{}, nil
		}),
		"disk": newDiskCounter(func(context.Context) (map[string]disk.IOCountersStat, error) {
			return nil, nil
		}, time.Now),
	}

	for name, c := range counters {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Close())
			require.NoError(t, c.Close())

			_, err := c.Next(context.Background())
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestClampPercent(t *testing.T) {
	assert.Equal(t, 0.0, clampPercent(-3))
	assert.Equal(t, 100.0, clampPercent(140))
	assert.Equal(t, 42.0, clampPercent(42))
}

const nodeExporterPage = `# HELP node_cpu_seconds_total Seconds the CPUs spent in each mode.
# TYPE node_cpu_seconds_total counter
node_cpu_seconds_total{cpu="0",mode="idle"} %[1]v
node_cpu_seconds_total{cpu="0",mode="iowait"} 0
node_cpu_seconds_total{cpu="0",mode="user"} %[2]v
# HELP node_memory_MemAvailable_bytes Memory information field MemAvailable_bytes.
# TYPE node_memory_MemAvailable_bytes gauge
node_memory_MemAvailable_bytes 2.5e+09
# HELP node_memory_MemTotal_bytes Memory information field MemTotal_bytes.
# TYPE node_memory_MemTotal_bytes gauge
node_memory_MemTotal_bytes 1e+10
# HELP node_disk_io_time_seconds_total Total seconds spent doing I/Os.
# TYPE node_disk_io_time_seconds_total counter
node_disk_io_time_seconds_total{device="nvme0n1"} %[3]v
`

func newNodeExporter(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var scrapes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/metrics" {
			http.NotFound(w, r)
			return
		}
		n := scrapes.Add(1)
		// every scrape adds 10s idle, 30s user and 0.5s of disk io
		_, _ = fmt.Fprintf(w, nodeExporterPage, 10*n, 30*n, 0.5*float64(n))
	}))
	t.Cleanup(srv.Close)
	return srv, &scrapes
}

func TestNodeExporterCounters(t *testing.T) {
	srv, _ := newNodeExporter(t)
	factories := NodeExporterFactories(srv.URL+"/metrics", time.Second)
	ctx := context.Background()

	t.Run("cpu", func(t *testing.T) {
		c, err := factories.New(Processor)
		require.NoError(t, err)
		defer c.Close()

		_, err = c.Next(ctx)
		require.NoError(t, err)
		v, err := c.Next(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 75.0, v, 1e-9)
	})

	t.Run("memory", func(t *testing.T) {
		c, err := factories.New(Memory)
		require.NoError(t, err)
		defer c.Close()

		v, err := c.Next(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 75.0, v, 1e-9)
	})

	t.Run("disk", func(t *testing.T) {
		start := time.Unix(0, 0)
		clock := start
		c := &nodeDiskCounter{
			scrape: newScraper(newHTTPClient(time.Second), srv.URL+"/metrics"),
			now:    func() time.Time { return clock },
		}
		defer c.Close()

		_, err := c.Next(ctx)
		require.NoError(t, err)
		clock = start.Add(time.Second)
		v, err := c.Next(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 50.0, v, 1e-9)
	})
}

func TestNodeExporterUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NodeExporterFactories(srv.URL, time.Second).New(Memory)
	require.NoError(t, err)

	_, err = c.Next(context.Background())
	require.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorContains(t, err, "503")
}

func TestNodeExporterMissingFamily(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# TYPE up gauge\nup 1\n"))
	}))
	defer srv.Close()

	c, err := NodeExporterFactories(srv.URL, time.Second).New(Processor)
	require.NoError(t, err)

	_, err = c.Next(context.Background())
	require.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorContains(t, err, nodeCPUSeconds)
}

func TestResolveNodeExporterURL(t *testing.T) {
	srv, _ := newNodeExporter(t)

	got, err := ResolveNodeExporterURL(context.Background(), srv.URL, time.Second)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/metrics", got)

	_, err = ResolveNodeExporterURL(context.Background(), "http://", time.Second)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestURLVariants(t *testing.T) {
	base, err := url.Parse("https://node.lan")
	require.NoError(t, err)

	var got []string
	for _, u := range urlVariants(base) {
		got = append(got, u.String())
	}
	assert.Equal(t, []string{
		"https://node.lan:9100/metrics",
		"https://node.lan:9100",
		"http://node.lan:9100/metrics",
		"http://node.lan:9100",
	}, got)

	base, err = url.Parse("http://node.lan:9200/custom")
	require.NoError(t, err)
	got = got[:0]
	for _, u := range urlVariants(base) {
		got = append(got, u.String())
	}
	assert.Equal(t, "http://node.lan:9200/custom", got[0])
	assert.Len(t, got, 4)
}

func TestPrometheusCounter(t *testing.T) {
	var (
		mu      sync.Mutex
		queries []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		mu.Lock()
		queries = append(queries, r.Form.Get("query"))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.Form.Get("query"), "node_disk_io_time_seconds_total") {
			_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[]}}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[{"metric":{},"value":[1700000000,"42.5"]}]}}`))
	}))
	defer srv.Close()

	factories, err := PrometheusFactories(srv.URL, "node1:9100")
	require.NoError(t, err)

	c, err := factories.New(Processor)
	require.NoError(t, err)
	v, err := c.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42.5, v)
	mu.Lock()
	require.Len(t, queries, 1)
	assert.Contains(t, queries[0], `instance="node1:9100"`)
	mu.Unlock()

	c, err = factories.New(Disk)
	require.NoError(t, err)
	_, err = c.Next(context.Background())
	assert.ErrorIs(t, err, ErrSourceUnavailable)
}

func TestPrometheusQueriesWithoutInstance(t *testing.T) {
	for ct, q := range PrometheusQueries("") {
		assert.NotContains(t, q, "instance", ct.String())
	}
}

func TestNewFactories(t *testing.T) {
	f, err := NewFactories(context.Background(), Backend{})
	require.NoError(t, err)
	assert.Len(t, f, 3)

	_, err = NewFactories(context.Background(), Backend{Kind: BackendPrometheus})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewFactories(context.Background(), Backend{Kind: "wmi"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
