package sim

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mmetrics "bus-tracker/internal/metrics"
	"bus-tracker/internal/transit"
)

type recordingPublisher struct {
	mu    sync.Mutex
	seqs  []uint64
	err   error
	calls int
}

func (p *recordingPublisher) PublishSnapshot(snap transit.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.seqs = append(p.seqs, snap.Seq)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestManager(t *testing.T, pub Publisher, metrics *mmetrics.Collector) *Manager {
	t.Helper()
	cat := builtinCatalog(t)
	fleet, err := Initialize(cat, DefaultSeedOptions(), rand.New(rand.NewSource(9)))
	require.NoError(t, err)
	return NewManager(cat, fleet, Options{TickInterval: 10 * time.Millisecond, SpeedMultiplier: 60}, pub, metrics)
}

func TestManagerStepAdvancesSnapshot(t *testing.T) {
	pub := &recordingPublisher{}
	m := newTestManager(t, pub, nil)

	initial := m.Snapshot()
	assert.Zero(t, initial.Seq)

	snap := m.Step()
	assert.Equal(t, uint64(1), snap.Seq)
	assert.Equal(t, snap, m.Snapshot())
	assert.Len(t, snap.Vehicles, len(initial.Vehicles))

	want, errs := Tick(initial.Vehicles, m.Catalog(), 600*time.Millisecond)
	require.Empty(t, errs)
	assert.Equal(t, want, snap.Vehicles)

	m.Step()
	assert.Equal(t, []uint64{1, 2}, pub.seqs)
}

func TestManagerPublishErrorIsNotFatal(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	m := newTestManager(t, pub, nil)

	m.Step()
	snap := m.Step()
	assert.Equal(t, uint64(2), snap.Seq)
	assert.Equal(t, 2, pub.count())
}

func TestManagerSnapshotIsStableForReaders(t *testing.T) {
	m := newTestManager(t, nil, nil)
	held := m.Snapshot()
	copyOfHeld := append([]transit.Vehicle(nil), held.Vehicles...)

	for i := 0; i < 5; i++ {
		m.Step()
	}
	assert.Equal(t, copyOfHeld, held.Vehicles)
	assert.Equal(t, uint64(5), m.Snapshot().Seq)
}

func TestManagerSnapshotCopiesVehicles(t *testing.T) {
	m := newTestManager(t, nil, nil)
	pristine := m.Snapshot()

	mine := m.Snapshot()
	for i := range mine.Vehicles {
		mine.Vehicles[i].DistanceTraveled = -5
		mine.Vehicles[i].RouteID = "gone"
	}
	assert.Equal(t, pristine.Vehicles, m.Snapshot().Vehicles)

	stepped := m.Step()
	want, errs := Tick(pristine.Vehicles, m.Catalog(), 600*time.Millisecond)
	require.Empty(t, errs)
	assert.Equal(t, want, stepped.Vehicles)

	stepped.Vehicles[0].ID = "renamed"
	assert.Equal(t, want, m.Snapshot().Vehicles)

	snaps, unsubscribe := m.Subscribe()
	defer unsubscribe()
	got := <-snaps
	got.Vehicles[0].ETAMinutes = 999
	assert.Equal(t, want, m.Snapshot().Vehicles)
}

func TestManagerSubscribe(t *testing.T) {
	m := newTestManager(t, nil, nil)
	ch, cancel := m.Subscribe()
	defer cancel()

	first := <-ch
	assert.Zero(t, first.Seq)

	m.Step()
	second := <-ch
	assert.Equal(t, uint64(1), second.Seq)
}

func TestManagerSlowSubscriberSeesLatest(t *testing.T) {
	m := newTestManager(t, nil, nil)
	ch, cancel := m.Subscribe()
	defer cancel()

	for i := 0; i < 4; i++ {
		m.Step()
	}
	got := <-ch
	assert.Equal(t, uint64(4), got.Seq)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected buffered snapshot %d", extra.Seq)
	default:
	}
}

func TestManagerUnsubscribe(t *testing.T) {
	m := newTestManager(t, nil, nil)
	ch, cancel := m.Subscribe()
	<-ch
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	m.Step()
}

func TestManagerStartStop(t *testing.T) {
	pub := &recordingPublisher{}
	m := newTestManager(t, pub, nil)
	ch, _ := m.Subscribe()

	m.Start(context.Background())
	m.Start(context.Background())
	require.Eventually(t, func() bool { return m.Snapshot().Seq >= 3 }, 2*time.Second, 5*time.Millisecond)
	m.Stop()

	seq := m.Snapshot().Seq
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, seq, m.Snapshot().Seq, "no ticks after Stop")

	for range ch {
	}
	late, _ := m.Subscribe()
	_, ok := <-late
	assert.False(t, ok)

	m.Stop()
}

func TestManagerStopsWithContext(t *testing.T) {
	m := newTestManager(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	require.Eventually(t, func() bool { return m.Snapshot().Seq >= 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	m.Stop()
}

func TestManagerArrivals(t *testing.T) {
	m := newTestManager(t, nil, nil)
	m.Step()

	byStop := m.ArrivalsByStop()
	total := 0
	for stopID, vs := range byStop {
		total += len(vs)
		ranked := m.Arrivals(stopID, 0)
		require.Len(t, ranked, len(vs))
		for i := 1; i < len(ranked); i++ {
			assert.LessOrEqual(t, ranked[i-1].ETAMinutes, ranked[i].ETAMinutes)
		}
		assert.LessOrEqual(t, len(m.Arrivals(stopID, 1)), 1)
	}
	assert.Equal(t, len(m.Snapshot().Vehicles), total)

	assert.Empty(t, m.Arrivals("no-such-stop", 3))
}

func TestManagerMetrics(t *testing.T) {
	c := mmetrics.NewCollector(60, 10*time.Millisecond)
	m := newTestManager(t, nil, c)
	assert.Equal(t, float64(len(m.Snapshot().Vehicles)), testutil.ToFloat64(c.Vehicles))

	_, cancel := m.Subscribe()
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Subscribers))
	cancel()
	assert.Equal(t, 0.0, testutil.ToFloat64(c.Subscribers))

	m.Step()
	m.Step()
	assert.Equal(t, 2.0, testutil.ToFloat64(c.Ticks))
	assert.Equal(t, 1, testutil.CollectAndCount(c.TickDuration))
}

func TestManagerCountsResetsAndDesyncs(t *testing.T) {
	c := mmetrics.NewCollector(1, time.Hour)
	cat, total := lineCatalog(t)
	v := placed(t, cat, transit.Vehicle{ID: "v", RouteID: "line", SpeedKmh: total * 0.1}, total*0.95)
	ghost := transit.Vehicle{ID: "ghost", RouteID: "retired"}

	m := NewManager(cat, []transit.Vehicle{v, ghost}, Options{TickInterval: time.Hour, SpeedMultiplier: 1}, nil, c)
	m.Step()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.VehicleResets))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DesyncedVehicles))
}
