package catalog

import (
	"bus-tracker/internal/geo"
	"bus-tracker/internal/transit"
)

// DefaultCenter is the map centre of the built-in city (Chandigarh).
var DefaultCenter = geo.Coordinate{Lat: 30.7333, Lon: 76.7794}

// Builtin returns the demo city: eight stops served by two routes.
func Builtin() ([]transit.Stop, []RouteSpec) {
	stops := []transit.Stop{
		{ID: "stop1", Name: "City Center", Coord: geo.Coordinate{Lat: 30.7333, Lon: 76.7794}},
		{ID: "stop2", Name: "Railway Station", Coord: geo.Coordinate{Lat: 30.7409, Lon: 76.7729}},
		{ID: "stop3", Name: "Bus Stand", Coord: geo.Coordinate{Lat: 30.7267, Lon: 76.7781}},
		{ID: "stop4", Name: "Hospital", Coord: geo.Coordinate{Lat: 30.7194, Lon: 76.7646}},
		{ID: "stop5", Name: "University", Coord: geo.Coordinate{Lat: 30.7590, Lon: 76.7750}},
		{ID: "stop6", Name: "Market", Coord: geo.Coordinate{Lat: 30.7286, Lon: 76.7880}},
		{ID: "stop7", Name: "Stadium", Coord: geo.Coordinate{Lat: 30.7156, Lon: 76.8019}},
		{ID: "stop8", Name: "Airport", Coord: geo.Coordinate{Lat: 30.6735, Lon: 76.7884}},
	}

	routes := []RouteSpec{
		{
			ID:      "route1",
			Name:    "Route 1: City Center - Airport",
			Color:   "#3B82F6",
			StopIDs: []string{"stop1", "stop2", "stop5", "stop3", "stop7", "stop8"},
			Path: []geo.Coordinate{
				{Lat: 30.7333, Lon: 76.7794}, {Lat: 30.7409, Lon: 76.7729}, {Lat: 30.7590, Lon: 76.7750},
				{Lat: 30.7267, Lon: 76.7781}, {Lat: 30.7156, Lon: 76.8019}, {Lat: 30.6735, Lon: 76.7884},
			},
		},
		{
			ID:      "route2",
			Name:    "Route 2: Hospital - Market",
			Color:   "#EF4444",
			StopIDs: []string{"stop4", "stop1", "stop3", "stop6", "stop7"},
			Path: []geo.Coordinate{
				{Lat: 30.7194, Lon: 76.7646}, {Lat: 30.7333, Lon: 76.7794}, {Lat: 30.7267, Lon: 76.7781},
				{Lat: 30.7286, Lon: 76.7880}, {Lat: 30.7156, Lon: 76.8019},
			},
		},
	}
	return stops, routes
}
