package publisher

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/transit"
)

type fakeConn struct {
	mu   sync.Mutex
	msgs map[string][]byte
	fail func(subject string) bool
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil && f.fail(subject) {
		return errors.New("nats: connection closed")
	}
	if f.msgs == nil {
		f.msgs = map[string][]byte{}
	}
	f.msgs[subject] = data
	return nil
}

type fakeMetrics struct {
	published map[string]int
	errs      int
	observed  int
}

func (m *fakeMetrics) NATSPublishedInc(kind string) {
	if m.published == nil {
		m.published = map[string]int{}
	}
	m.published[kind]++
}
func (m *fakeMetrics) NATSPublishErrInc()           { m.errs++ }
func (m *fakeMetrics) PublishObserve(time.Duration) { m.observed++ }
func (m *fakeMetrics) NATSSetConnected(bool)        {}

func testSnapshot() transit.Snapshot {
	return transit.Snapshot{
		Seq: 7,
		At:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Vehicles: []transit.Vehicle{
			{ID: "bus-route1-1", RouteID: "route1", Coord: geo.Coordinate{Lat: 30.73, Lon: 76.78}, SpeedKmh: 30, NextStopID: "stop2", ETAMinutes: 9},
			{ID: "bus-route1-2", RouteID: "route1", SpeedKmh: 25, NextStopID: "stop2", ETAMinutes: 2},
			{ID: "bus-route2-1", RouteID: "route2", SpeedKmh: 40, NextStopID: "stop2", ETAMinutes: 7},
			{ID: "bus-route2-2", RouteID: "route2", SpeedKmh: 40, NextStopID: "stop3", ETAMinutes: 4},
		},
	}
}

func TestSubjects(t *testing.T) {
	p := newPublisher(&fakeConn{}, Options{SubjectPrefix: "chd."}, nil)
	assert.Equal(t, "chd.positions.route_1.bus_7", p.PositionSubject("route.1", "bus 7"))
	assert.Equal(t, "chd.arrivals._", p.ArrivalsSubject(""))
	assert.Equal(t, "chd.gtfsrt.vehicle_positions", p.FeedSubject())

	def := newPublisher(&fakeConn{}, Options{}, nil)
	assert.Equal(t, "tracker.arrivals.stop1", def.ArrivalsSubject("stop1"))
}

func TestSubjectToken(t *testing.T) {
	for in, want := range map[string]string{
		"route1":   "route1",
		" a b ":    "a_b",
		"x.y":      "x_y",
		"*>":       "__",
		"line/10":  "line_10",
		"":         "_",
		"\troute ": "route",
	} {
		assert.Equal(t, want, subjectToken(in), "input %q", in)
	}
}

func TestPublishSnapshot(t *testing.T) {
	fc := &fakeConn{}
	m := &fakeMetrics{}
	p := newPublisher(fc, Options{
		ArrivalsTopN: 2,
		StopIDs:      []string{"stop1", "stop2"},
		RouteLengths: map[string]float64{"route1": 4},
	}, m)

	snap := testSnapshot()
	require.NoError(t, p.PublishSnapshot(snap))

	var pos PositionMessage
	require.NoError(t, json.Unmarshal(fc.msgs["tracker.positions.route1.bus-route1-1"], &pos))
	assert.Equal(t, uint64(7), pos.Seq)
	assert.Equal(t, "stop2", pos.NextStopID)
	assert.Equal(t, 9, pos.ETAMinutes)
	assert.Equal(t, 30.73, pos.Lat)
	assert.True(t, pos.Timestamp.Equal(snap.At))
	assert.Zero(t, pos.Progress)

	var other PositionMessage
	require.NoError(t, json.Unmarshal(fc.msgs["tracker.positions.route2.bus-route2-1"], &other))
	assert.Zero(t, other.Progress, "unknown route length")

	var stop2 ArrivalsMessage
	require.NoError(t, json.Unmarshal(fc.msgs["tracker.arrivals.stop2"], &stop2))
	require.Len(t, stop2.Arrivals, 2)
	assert.Equal(t, "bus-route1-2", stop2.Arrivals[0].VehicleID)
	assert.Equal(t, "bus-route2-1", stop2.Arrivals[1].VehicleID)

	raw := string(fc.msgs["tracker.arrivals.stop1"])
	assert.Contains(t, raw, `"arrivals":[]`)

	_, ok := fc.msgs["tracker.arrivals.stop3"]
	assert.True(t, ok, "stops with approaching vehicles are published even if not listed")

	var fm gtfsrtpb.FeedMessage
	require.NoError(t, proto.Unmarshal(fc.msgs["tracker.gtfsrt.vehicle_positions"], &fm))
	assert.Len(t, fm.Entity, 4)

	assert.Equal(t, 4, m.published["position"])
	assert.Equal(t, 3, m.published["arrivals"])
	assert.Equal(t, 1, m.published["feed"])
	assert.Equal(t, 8, m.observed)
	assert.Zero(t, m.errs)
}

func TestNewPositionMessageProgress(t *testing.T) {
	v := transit.Vehicle{ID: "v", RouteID: "r", DistanceTraveled: 1.5}
	assert.Equal(t, 0.25, NewPositionMessage(1, time.Time{}, v, 6).Progress)
	assert.Zero(t, NewPositionMessage(1, time.Time{}, v, 0).Progress)
	v.DistanceTraveled = 9
	assert.Equal(t, 1.0, NewPositionMessage(1, time.Time{}, v, 6).Progress)
}

func TestPublishSnapshotContinuesAfterFailure(t *testing.T) {
	fc := &fakeConn{fail: func(s string) bool { return strings.Contains(s, ".positions.route1.") }}
	m := &fakeMetrics{}
	p := newPublisher(fc, Options{}, m)

	err := p.PublishSnapshot(testSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus-route1-1")
	assert.Contains(t, err.Error(), "bus-route1-2")

	assert.Equal(t, 2, m.errs)
	assert.Equal(t, 2, m.published["position"])
	assert.Contains(t, fc.msgs, "tracker.gtfsrt.vehicle_positions")
}
