package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jondoveston/perftop/internal/actor"
	"github.com/jondoveston/perftop/internal/chart"
	"github.com/jondoveston/perftop/internal/counter"
	"github.com/jondoveston/perftop/internal/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testInterval = 2 * time.Millisecond

// scripted plays back values, then keeps failing.
type scripted struct {
	mu     sync.Mutex
	values []float64
}

func (s *scripted) Next(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0, errors.New("no more values")
	}
	v := s.values[0]
	s.values = s.values[1:]
	return v, nil
}

func (s *scripted) Close() error { return nil }

type fixture struct {
	coord   *Coordinator
	chart   *chart.Controller
	created map[counter.CounterType]int
	mu      sync.Mutex
}

func (f *fixture) Created(ct counter.CounterType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created[ct]
}

func newFixture(t *testing.T, values map[counter.CounterType][]float64) *fixture {
	t.Helper()

	log := zaptest.NewLogger(t)
	sys := actor.NewSystem()
	f := &fixture{created: make(map[counter.CounterType]int)}

	factories := counter.Factories{}
	for _, ct := range counter.Types() {
		ct := ct
		factories[ct] = func() (counter.Counter, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.created[ct]++
			return &scripted{values: append([]float64(nil), values[ct]...)}, nil
		}
	}

	var err error
	f.chart, err = chart.NewController(sys, chart.DefaultCapacity, chart.WithLogger(log))
	require.NoError(t, err)
	f.coord, err = New(sys, factories, f.chart, WithInterval(testInterval), WithLogger(log))
	require.NoError(t, err)

	t.Cleanup(func() {
		f.coord.Stop()
		f.chart.Stop()
		require.NoError(t, sys.Wait())
	})
	return f
}

func (f *fixture) snapshot(t *testing.T) chart.Snapshot {
	t.Helper()
	snap, err := f.chart.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

func TestTables(t *testing.T) {
	assert.Equal(t, "CPU", SeriesName(counter.Processor))
	assert.Equal(t, "Memory", SeriesName(counter.Memory))
	assert.Equal(t, "Disk", SeriesName(counter.Disk))
	assert.Empty(t, SeriesName(counter.Unknown))

	assert.Equal(t, chart.Style{Kind: chart.Area, Color: chart.DarkGreen}, SeriesStyle(counter.Processor))
	assert.Equal(t, chart.Style{Kind: chart.Line, Color: chart.MediumBlue}, SeriesStyle(counter.Memory))
	assert.Equal(t, chart.Style{Kind: chart.Area, Color: chart.DarkRed}, SeriesStyle(counter.Disk))
}

func TestNewRejectsNilSink(t *testing.T) {
	_, err := New(actor.NewSystem(), counter.Factories{}, nil)
	assert.ErrorIs(t, err, counter.ErrInvalidArgument)
}

func TestRejectsUnknown(t *testing.T) {
	f := newFixture(t, nil)

	assert.ErrorIs(t, f.coord.Watch(counter.Unknown), counter.ErrInvalidArgument)
	assert.ErrorIs(t, f.coord.Unwatch(counter.Unknown), counter.ErrInvalidArgument)
	assert.ErrorIs(t, f.coord.Watch(counter.CounterType(42)), counter.ErrInvalidArgument)

	active, err := f.coord.Active(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestUnwatchWithoutMonitorIsNoop(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.coord.Unwatch(counter.Disk))

	active, err := f.coord.Active(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Empty(t, f.snapshot(t).Series)
}

func TestWatchUnwatchWatch(t *testing.T) {
	for _, ct := range counter.Types() {
		t.Run(ct.String(), func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()

			require.NoError(t, f.coord.Watch(ct))
			require.NoError(t, f.coord.Unwatch(ct))
			require.NoError(t, f.coord.Watch(ct))

			require.Eventually(t, func() bool {
				ids, err := f.coord.Subscribers(ctx, ct)
				return err == nil && len(ids) == 1
			}, time.Second, time.Millisecond)

			ids, err := f.coord.Subscribers(ctx, ct)
			require.NoError(t, err)
			assert.Equal(t, []string{chart.SubscriberID}, ids)
			assert.Equal(t, 1, f.Created(ct), "the monitor is reused")

			active, err := f.coord.Active(ctx)
			require.NoError(t, err)
			assert.Equal(t, []counter.CounterType{ct}, active)

			s := f.snapshot(t).Find(SeriesName(ct))
			require.NotNil(t, s)
			assert.Equal(t, SeriesStyle(ct), s.Style)
		})
	}
}

func TestProcessorScenario(t *testing.T) {
	f := newFixture(t, map[counter.CounterType][]float64{
		counter.Processor: {10, 20, 15},
	})
	ctx := context.Background()

	require.NoError(t, f.coord.Watch(counter.Processor))

	want := []chart.Point{{X: 0, Y: 10}, {X: 1, Y: 20}, {X: 2, Y: 15}}
	require.Eventually(t, func() bool {
		s := f.snapshot(t).Find("CPU")
		return s != nil && len(s.Points) == len(want)
	}, time.Second, time.Millisecond)
	assert.Equal(t, want, f.snapshot(t).Find("CPU").Points)

	require.NoError(t, f.coord.Unwatch(counter.Processor))
	require.Eventually(t, func() bool {
		return f.snapshot(t).Find("CPU") == nil
	}, time.Second, time.Millisecond)

	// a sample still in flight for the removed series
	f.chart.Notify(monitor.Notification{Sample: monitor.Sample{Series: "CPU", Value: 99}})
	snap := f.snapshot(t)
	assert.Nil(t, snap.Find("CPU"))
	assert.Equal(t, 3, snap.Tick)

	ids, err := f.coord.Subscribers(ctx, counter.Processor)
	require.NoError(t, err)
	assert.Empty(t, ids, "the monitor stays alive and idle")
}

func TestIndependentSources(t *testing.T) {
	f := newFixture(t, map[counter.CounterType][]float64{
		counter.Memory: {40, 41},
		counter.Disk:   {1},
	})

	require.NoError(t, f.coord.Watch(counter.Memory))
	require.NoError(t, f.coord.Watch(counter.Disk))

	require.Eventually(t, func() bool {
		snap := f.snapshot(t)
		mem, disk := snap.Find("Memory"), snap.Find("Disk")
		return mem != nil && disk != nil && len(mem.Points) == 2 && len(disk.Points) == 1
	}, time.Second, time.Millisecond)

	// the failing disk counter keeps memory untouched
	time.Sleep(10 * testInterval)
	snap := f.snapshot(t)
	assert.Len(t, snap.Find("Memory").Points, 2)
	assert.Len(t, snap.Find("Disk").Points, 1)
	assert.Equal(t, 3, snap.Tick)
}

func TestFactoryFailureRegistersNothing(t *testing.T) {
	log := zaptest.NewLogger(t)
	sys := actor.NewSystem()
	c, err := chart.NewController(sys, chart.DefaultCapacity)
	require.NoError(t, err)
	coord, err := New(sys, counter.Factories{
		counter.Disk: func() (counter.Counter, error) { return nil, errors.New("no disks") },
	}, c, WithLogger(log))
	require.NoError(t, err)

	require.NoError(t, coord.Watch(counter.Disk))
	require.NoError(t, coord.Watch(counter.Memory))

	active, err := coord.Active(context.Background())
	require.NoError(t, err)
	assert.Empty(t, active)

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Series)

	coord.Stop()
	c.Stop()
	require.NoError(t, sys.Wait())

	assert.ErrorIs(t, coord.Watch(counter.Disk), actor.ErrStopped)
}

func TestWatchLogsMonitorSeries(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sys := actor.NewSystem()
	c, err := chart.NewController(sys, chart.DefaultCapacity)
	require.NoError(t, err)
	coord, err := New(sys, counter.Factories{
		counter.Processor: func() (counter.Counter, error) { return &scripted{}, nil },
	}, c, WithInterval(testInterval), WithLogger(zap.New(core)))
	require.NoError(t, err)
	defer func() {
		coord.Stop()
		c.Stop()
		require.NoError(t, sys.Wait())
	}()

	require.NoError(t, coord.Watch(counter.Processor))
	require.NoError(t, coord.Watch(counter.Memory))

	require.Eventually(t, func() bool {
		return logs.FilterMessage("monitor started").Len() == 1 &&
			logs.FilterMessage("failed to start monitor").Len() == 1
	}, time.Second, time.Millisecond)

	started := logs.FilterMessage("monitor started").All()[0].ContextMap()
	assert.Equal(t, "CPU", started["series"])

	failed := logs.FilterMessage("failed to start monitor").All()[0].ContextMap()
	assert.Contains(t, failed["error"], "no factory for memory counter")
}
