package sim

import (
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/transit"
)

// ErrDesyncedVehicle marks a vehicle whose route is no longer in the catalog.
var ErrDesyncedVehicle = errors.New("vehicle route not in catalog")

// Catalog is the read-only lookup surface the engine needs.
type Catalog interface {
	Route(id string) (transit.Route, bool)
	Stop(id string) (transit.Stop, bool)
	Routes() []transit.Route
}

// SeedOptions controls how Initialize populates the fleet.
type SeedOptions struct {
	MinPerRoute int
	MaxPerRoute int
	MinSpeedKmh float64
	MaxSpeedKmh float64
	// RandomStart places each vehicle at a uniformly random distance along
	// its path; otherwise every vehicle starts at the first vertex.
	RandomStart bool
}

func DefaultSeedOptions() SeedOptions {
	return SeedOptions{MinPerRoute: 2, MaxPerRoute: 3, MinSpeedKmh: 15, MaxSpeedKmh: 50, RandomStart: true}
}

// Initialize seeds vehicles for every route in the catalog, in route id order.
func Initialize(cat Catalog, opts SeedOptions, rng *rand.Rand) ([]transit.Vehicle, error) {
	if opts.MinPerRoute < 1 || opts.MaxPerRoute < opts.MinPerRoute {
		return nil, fmt.Errorf("invalid vehicles per route range [%d, %d]", opts.MinPerRoute, opts.MaxPerRoute)
	}
	if opts.MinSpeedKmh <= 0 || opts.MaxSpeedKmh < opts.MinSpeedKmh {
		return nil, fmt.Errorf("invalid speed range [%.1f, %.1f] km/h", opts.MinSpeedKmh, opts.MaxSpeedKmh)
	}

	var fleet []transit.Vehicle
	for _, r := range cat.Routes() {
		n := opts.MinPerRoute + rng.Intn(opts.MaxPerRoute-opts.MinPerRoute+1)
		for i := 0; i < n; i++ {
			v := transit.Vehicle{
				ID:       fmt.Sprintf("bus-%s-%d", r.ID, i+1),
				RouteID:  r.ID,
				SpeedKmh: opts.MinSpeedKmh + rng.Float64()*(opts.MaxSpeedKmh-opts.MinSpeedKmh),
			}
			start := 0.0
			if opts.RandomStart {
				start = rng.Float64() * r.TotalDistance
			}
			placed, err := place(v, r, cat, start)
			if err != nil {
				return nil, fmt.Errorf("seed %s: %w", v.ID, err)
			}
			fleet = append(fleet, placed)
		}
	}
	return fleet, nil
}

// parallelThreshold is the fleet size from which Tick fans out across CPUs.
const parallelThreshold = 512

// Tick advances every vehicle by elapsed simulated time and returns a new
// slice; the input is not modified. Vehicles whose route cannot be resolved
// are carried over unchanged and reported in the returned errors.
func Tick(vehicles []transit.Vehicle, cat Catalog, elapsed time.Duration) ([]transit.Vehicle, []error) {
	out := make([]transit.Vehicle, len(vehicles))
	errs := make([]error, len(vehicles))
	hours := elapsed.Hours()

	if len(vehicles) < parallelThreshold {
		for i := range vehicles {
			out[i], errs[i] = Advance(vehicles[i], cat, hours)
		}
	} else {
		workers := runtime.GOMAXPROCS(0)
		chunk := (len(vehicles) + workers - 1) / workers
		var g errgroup.Group
		for lo := 0; lo < len(vehicles); lo += chunk {
			hi := min(lo+chunk, len(vehicles))
			g.Go(func() error {
				for i := lo; i < hi; i++ {
					out[i], errs[i] = Advance(vehicles[i], cat, hours)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	return out, failed
}

// Advance moves one vehicle along its route by speed × hours. When the new
// distance reaches the end of the path the vehicle restarts at the first
// vertex heading for the first stop.
func Advance(v transit.Vehicle, cat Catalog, hours float64) (transit.Vehicle, error) {
	r, ok := cat.Route(v.RouteID)
	if !ok {
		return v, fmt.Errorf("vehicle %s: route %q: %w", v.ID, v.RouteID, ErrDesyncedVehicle)
	}
	delta := v.SpeedKmh * hours
	if delta <= 0 {
		return v, nil
	}
	next := v.DistanceTraveled + delta
	if next >= r.TotalDistance {
		next = 0
	}
	return place(v, r, cat, next)
}

// place puts v at distance d along r and derives coordinate, heading, next
// stop and ETA from it.
func place(v transit.Vehicle, r transit.Route, cat Catalog, d float64) (transit.Vehicle, error) {
	pos, err := geo.PositionAlongPath(r.Path, d)
	if err != nil {
		return v, fmt.Errorf("route %s: %w", r.ID, err)
	}
	v.DistanceTraveled = d
	v.Coord = pos.Coordinate
	v.Bearing = pos.Bearing

	if len(r.StopIDs) == 0 || len(r.StopDistances) != len(r.StopIDs) {
		v.NextStopID, v.ETAMinutes = "", 0
		return v, nil
	}
	i := nextStopIndex(r, d)
	v.NextStopID = r.StopIDs[i]
	if s, ok := cat.Stop(v.NextStopID); ok {
		v.ETAMinutes = geo.ETAMinutes(v.Coord, s.Coord, v.SpeedKmh)
	} else {
		v.ETAMinutes = geo.MinutesForDistance(r.StopDistances[i]-d, v.SpeedKmh)
	}
	return v, nil
}

// nextStopIndex is the first stop strictly ahead of d, the first stop at the
// path start, and the last stop once every stop has been passed.
func nextStopIndex(r transit.Route, d float64) int {
	if d <= 0 {
		return 0
	}
	for i, sd := range r.StopDistances {
		if sd > d {
			return i
		}
	}
	return len(r.StopIDs) - 1
}
