// Package feed renders simulation snapshots as GTFS-Realtime vehicle
// position feeds.
package feed

import (
	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"bus-tracker/internal/transit"
)

const gtfsRealtimeVersion = "2.0"

// VehiclePositions builds a full-dataset feed with one entity per vehicle.
func VehiclePositions(snap transit.Snapshot) *gtfsrtpb.FeedMessage {
	ts := uint64(snap.At.Unix())
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String(gtfsRealtimeVersion),
			Incrementality:      gtfsrtpb.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(ts),
		},
		Entity: make([]*gtfsrtpb.FeedEntity, 0, len(snap.Vehicles)),
	}
	for _, v := range snap.Vehicles {
		vp := &gtfsrtpb.VehiclePosition{
			Trip:    &gtfsrtpb.TripDescriptor{RouteId: proto.String(v.RouteID)},
			Vehicle: &gtfsrtpb.VehicleDescriptor{Id: proto.String(v.ID), Label: proto.String(v.ID)},
			Position: &gtfsrtpb.Position{
				Latitude:  proto.Float32(float32(v.Coord.Lat)),
				Longitude: proto.Float32(float32(v.Coord.Lon)),
				Bearing:   proto.Float32(float32(v.Bearing)),
				Speed:     proto.Float32(float32(v.SpeedKmh / 3.6)), // m/s
			},
			CurrentStatus: gtfsrtpb.VehiclePosition_IN_TRANSIT_TO.Enum(),
			Timestamp:     proto.Uint64(ts),
		}
		if v.NextStopID != "" {
			vp.StopId = proto.String(v.NextStopID)
		}
		fm.Entity = append(fm.Entity, &gtfsrtpb.FeedEntity{
			Id:      proto.String(v.ID),
			Vehicle: vp,
		})
	}
	return fm
}

// Marshal encodes the vehicle positions feed for snap.
func Marshal(snap transit.Snapshot) ([]byte, error) {
	return proto.Marshal(VehiclePositions(snap))
}
