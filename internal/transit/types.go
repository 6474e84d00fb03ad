package transit

import (
	"time"

	"bus-tracker/internal/geo"
)

type Stop struct {
	ID       string
	Name     string
	Coord    geo.Coordinate
	RouteIDs []string // routes serving this stop, sorted
}

// Route is immutable reference data. StopDistances[i] is the distance in km
// from the start of Path to StopIDs[i]; it is non-decreasing and never
// exceeds TotalDistance.
type Route struct {
	ID            string
	Name          string
	Color         string
	StopIDs       []string
	Path          []geo.Coordinate
	StopDistances []float64
	TotalDistance float64 // km
}

// Vehicle is the simulated state of one bus. Values are copied into every
// snapshot; nothing outside the simulation engine writes them.
type Vehicle struct {
	ID               string
	RouteID          string
	Coord            geo.Coordinate
	Bearing          float64 // degrees
	SpeedKmh         float64
	DistanceTraveled float64 // km since the last reset
	NextStopID       string
	ETAMinutes       int
}

// Snapshot is an immutable view of the whole fleet after a tick. Snapshots
// handed out by the simulation own their Vehicles slice.
type Snapshot struct {
	Seq      uint64
	At       time.Time
	Vehicles []Vehicle
}

// Arrival is one vehicle approaching a stop.
type Arrival struct {
	VehicleID  string `json:"vehicleId"`
	RouteID    string `json:"routeId"`
	ETAMinutes int    `json:"etaMinutes"`
}
