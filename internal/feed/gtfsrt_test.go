package feed

import (
	"testing"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/transit"
)

func TestVehiclePositions(t *testing.T) {
	at := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	snap := transit.Snapshot{
		Seq: 4,
		At:  at,
		Vehicles: []transit.Vehicle{
			{ID: "bus-route1-1", RouteID: "route1", Coord: geo.Coordinate{Lat: 30.7333, Lon: 76.7794}, Bearing: 90, SpeedKmh: 36, NextStopID: "stop2", ETAMinutes: 3},
			{ID: "bus-route2-1", RouteID: "route2", SpeedKmh: 18},
		},
	}

	fm := VehiclePositions(snap)
	require.NotNil(t, fm.Header)
	assert.Equal(t, "2.0", fm.Header.GetGtfsRealtimeVersion())
	assert.Equal(t, gtfsrtpb.FeedHeader_FULL_DATASET, fm.Header.GetIncrementality())
	assert.Equal(t, uint64(at.Unix()), fm.Header.GetTimestamp())
	require.Len(t, fm.Entity, 2)

	first := fm.Entity[0]
	assert.Equal(t, "bus-route1-1", first.GetId())
	vp := first.GetVehicle()
	assert.Equal(t, "route1", vp.GetTrip().GetRouteId())
	assert.Equal(t, "bus-route1-1", vp.GetVehicle().GetId())
	assert.InDelta(t, 30.7333, vp.GetPosition().GetLatitude(), 1e-4)
	assert.InDelta(t, 76.7794, vp.GetPosition().GetLongitude(), 1e-4)
	assert.Equal(t, float32(90), vp.GetPosition().GetBearing())
	assert.InDelta(t, 10, vp.GetPosition().GetSpeed(), 1e-5)
	assert.Equal(t, "stop2", vp.GetStopId())

	assert.Nil(t, fm.Entity[1].GetVehicle().StopId)
}

func TestMarshalRoundTrip(t *testing.T) {
	snap := transit.Snapshot{At: time.Unix(1700000000, 0), Vehicles: []transit.Vehicle{
		{ID: "a", RouteID: "r", NextStopID: "s"},
	}}
	b, err := Marshal(snap)
	require.NoError(t, err)

	var got gtfsrtpb.FeedMessage
	require.NoError(t, proto.Unmarshal(b, &got))
	require.Len(t, got.Entity, 1)
	assert.Equal(t, "s", got.Entity[0].GetVehicle().GetStopId())
	assert.Equal(t, uint64(1700000000), got.Header.GetTimestamp())
}

func TestEmptySnapshot(t *testing.T) {
	fm := VehiclePositions(transit.Snapshot{At: time.Unix(0, 0)})
	assert.Empty(t, fm.Entity)
	_, err := proto.Marshal(fm)
	assert.NoError(t, err)
}
