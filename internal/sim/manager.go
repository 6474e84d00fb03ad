package sim

import (
	"context"
	"errors"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"bus-tracker/internal/arrivals"
	mmetrics "bus-tracker/internal/metrics"
	"bus-tracker/internal/transit"
)

// Publisher receives every snapshot after it has been stored. The snapshot
// shares its Vehicles with the manager and must not be modified.
type Publisher interface {
	PublishSnapshot(snap transit.Snapshot) error
}

type Options struct {
	TickInterval time.Duration
	// SpeedMultiplier scales simulated time: each tick advances the fleet by
	// TickInterval × SpeedMultiplier.
	SpeedMultiplier float64
}

// Manager is the single writer of vehicle state. It advances the fleet on a
// fixed period and publishes each result as a new immutable snapshot.
type Manager struct {
	cat          Catalog
	pub          Publisher
	tickInterval time.Duration
	step         time.Duration
	metrics      *mmetrics.Collector
	now          func() time.Time

	state  atomic.Pointer[transit.Snapshot]
	stepMu sync.Mutex

	mu      sync.Mutex
	subs    map[int]chan transit.Snapshot
	nextSub int
	stopped bool

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cat Catalog, vehicles []transit.Vehicle, opts Options, pub Publisher, metrics *mmetrics.Collector) *Manager {
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.SpeedMultiplier <= 0 {
		opts.SpeedMultiplier = 1
	}
	m := &Manager{
		cat:          cat,
		pub:          pub,
		tickInterval: opts.TickInterval,
		step:         time.Duration(float64(opts.TickInterval) * opts.SpeedMultiplier),
		metrics:      metrics,
		now:          time.Now,
		subs:         make(map[int]chan transit.Snapshot),
	}
	m.state.Store(&transit.Snapshot{At: m.now(), Vehicles: append([]transit.Vehicle(nil), vehicles...)})
	if m.metrics != nil {
		m.metrics.Vehicles.Set(float64(len(vehicles)))
	}
	return m
}

// Start launches the tick loop. It returns immediately; calling it on a
// running manager is a no-op.
func (m *Manager) Start(parent context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.wg.Add(1)
	log.Printf("simulation started: %d vehicles, tick %s, step %s", len(m.current().Vehicles), m.tickInterval, m.step)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Step()
			}
		}
	}()
}

// Stop halts the tick loop, waits for an in-flight tick to finish and closes
// all subscriptions. The last published snapshot stays readable.
func (m *Manager) Stop() {
	m.runMu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.runMu.Unlock()
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	if m.metrics != nil {
		m.metrics.Subscribers.Set(0)
	}
}

// Step computes one tick from the current snapshot and publishes the result.
func (m *Manager) Step() transit.Snapshot {
	m.stepMu.Lock()
	defer m.stepMu.Unlock()

	start := time.Now()
	prev := m.state.Load()
	next, errs := Tick(prev.Vehicles, m.cat, m.step)
	for _, err := range errs {
		log.Printf("tick %d: %v", prev.Seq+1, err)
	}

	snap := &transit.Snapshot{Seq: prev.Seq + 1, At: m.now(), Vehicles: next}
	m.state.Store(snap)

	if m.metrics != nil {
		m.metrics.Ticks.Inc()
		m.metrics.TickDuration.Observe(time.Since(start).Seconds())
		for _, err := range errs {
			if errors.Is(err, ErrDesyncedVehicle) {
				m.metrics.DesyncedVehicles.Inc()
			}
		}
		for i := range next {
			if next[i].DistanceTraveled < prev.Vehicles[i].DistanceTraveled {
				m.metrics.VehicleResets.Inc()
			}
		}
	}

	m.broadcast(*snap)
	if m.pub != nil {
		if err := m.pub.PublishSnapshot(*snap); err != nil {
			log.Printf("publish snapshot %d: %v", snap.Seq, err)
		}
	}
	return cloneSnapshot(*snap)
}

// broadcast gives every subscriber its own copy of the vehicle slice.
func (m *Manager) broadcast(snap transit.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs {
		deliverLatest(ch, cloneSnapshot(snap))
	}
}

// deliverLatest replaces whatever the subscriber has not read yet, so a slow
// reader only ever sees the newest snapshot. Only the broadcaster sends, so
// the final send cannot block.
func deliverLatest(ch chan transit.Snapshot, snap transit.Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- snap
}

// Subscribe returns a channel that receives the current snapshot immediately
// and then every new one. Call the returned func to unsubscribe.
func (m *Manager) Subscribe() (<-chan transit.Snapshot, func()) {
	ch := make(chan transit.Snapshot, 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.Snapshot()
	if m.metrics != nil {
		m.metrics.Subscribers.Set(float64(len(m.subs)))
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.subs[id]; !ok {
				return
			}
			delete(m.subs, id)
			close(ch)
			if m.metrics != nil {
				m.metrics.Subscribers.Set(float64(len(m.subs)))
			}
		})
	}
}

// Snapshot returns a copy of the most recently published snapshot.
func (m *Manager) Snapshot() transit.Snapshot { return cloneSnapshot(m.current()) }

func (m *Manager) current() transit.Snapshot { return *m.state.Load() }

func cloneSnapshot(s transit.Snapshot) transit.Snapshot {
	s.Vehicles = slices.Clone(s.Vehicles)
	return s
}

// Arrivals ranks the vehicles heading for stopID in the current snapshot,
// truncated to n entries when n > 0.
func (m *Manager) Arrivals(stopID string, n int) []transit.Arrival {
	return arrivals.Top(arrivals.ForStop(stopID, m.current().Vehicles), n)
}

// ArrivalsByStop groups the current snapshot by next stop.
func (m *Manager) ArrivalsByStop() map[string][]transit.Vehicle {
	return arrivals.GroupByNextStop(m.current().Vehicles)
}

// Catalog exposes the read-only route and stop lookups.
func (m *Manager) Catalog() Catalog { return m.cat }
