package catalog

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/transit"
)

// ErrUnknownStop is returned when a route lists a stop id the catalog does not know.
var ErrUnknownStop = errors.New("unknown stop")

// RouteSpec describes a route before validation. StopDistances may be left
// empty, in which case each stop is projected onto the path in order.
type RouteSpec struct {
	ID            string
	Name          string
	Color         string
	StopIDs       []string
	Path          []geo.Coordinate
	StopDistances []float64
}

// Catalog holds the stops and routes for the lifetime of the process. It is
// never modified after Build returns, so it is safe for concurrent readers.
// Lookups hand out copies; callers may modify what they get back.
type Catalog struct {
	stops      map[string]transit.Stop
	routes     map[string]transit.Route
	stopOrder  []string
	routeOrder []string
}

// Build validates every route and returns a catalog holding the ones that
// passed. Each rejected route contributes one error; a bad route never
// prevents the others from loading.
func Build(stops []transit.Stop, specs []RouteSpec) (*Catalog, []error) {
	c := &Catalog{
		stops:  make(map[string]transit.Stop, len(stops)),
		routes: make(map[string]transit.Route, len(specs)),
	}
	var errs []error

	for _, s := range stops {
		if s.ID == "" {
			errs = append(errs, errors.New("stop with empty id skipped"))
			continue
		}
		if _, dup := c.stops[s.ID]; dup {
			errs = append(errs, fmt.Errorf("stop %s: duplicate id skipped", s.ID))
			continue
		}
		c.stops[s.ID] = s
		c.stopOrder = append(c.stopOrder, s.ID)
	}

	served := make(map[string]map[string]struct{})
	for _, spec := range specs {
		if _, dup := c.routes[spec.ID]; dup {
			errs = append(errs, fmt.Errorf("route %s: duplicate id skipped", spec.ID))
			continue
		}
		r, err := c.buildRoute(spec)
		if err != nil {
			errs = append(errs, fmt.Errorf("route %s: %w", spec.ID, err))
			continue
		}
		c.routes[r.ID] = r
		c.routeOrder = append(c.routeOrder, r.ID)
		for _, sid := range r.StopIDs {
			if served[sid] == nil {
				served[sid] = make(map[string]struct{})
			}
			served[sid][r.ID] = struct{}{}
		}
	}

	// Stops that do not declare their routes get them from the route stop lists.
	for id, s := range c.stops {
		if len(s.RouteIDs) > 0 {
			s.RouteIDs = append([]string(nil), s.RouteIDs...)
		} else {
			for rid := range served[id] {
				s.RouteIDs = append(s.RouteIDs, rid)
			}
		}
		sort.Strings(s.RouteIDs)
		c.stops[id] = s
	}

	sort.Strings(c.stopOrder)
	sort.Strings(c.routeOrder)
	return c, errs
}

func (c *Catalog) buildRoute(spec RouteSpec) (transit.Route, error) {
	if spec.ID == "" {
		return transit.Route{}, errors.New("empty id")
	}
	if len(spec.Path) < 2 {
		return transit.Route{}, fmt.Errorf("path has %d points: %w", len(spec.Path), geo.ErrInvalidGeometry)
	}
	if len(spec.StopIDs) == 0 {
		return transit.Route{}, fmt.Errorf("no stops: %w", geo.ErrInvalidGeometry)
	}
	for _, sid := range spec.StopIDs {
		if _, ok := c.stops[sid]; !ok {
			return transit.Route{}, fmt.Errorf("stop %q: %w", sid, ErrUnknownStop)
		}
	}

	path := append([]geo.Coordinate(nil), spec.Path...)
	cum := geo.CumulativeDistances(path)
	total := cum[len(cum)-1]
	if total <= 0 {
		return transit.Route{}, fmt.Errorf("zero-length path: %w", geo.ErrInvalidGeometry)
	}

	var dists []float64
	if len(spec.StopDistances) > 0 {
		if len(spec.StopDistances) != len(spec.StopIDs) {
			return transit.Route{}, fmt.Errorf("%d stop distances for %d stops: %w",
				len(spec.StopDistances), len(spec.StopIDs), geo.ErrInvalidGeometry)
		}
		dists = append([]float64(nil), spec.StopDistances...)
	} else {
		dists = make([]float64, len(spec.StopIDs))
		from := 0.0
		for i, sid := range spec.StopIDs {
			dists[i] = geo.ProjectOntoPath(path, cum, c.stops[sid].Coord, from)
			from = dists[i]
		}
	}
	if err := validateStopDistances(dists, total); err != nil {
		return transit.Route{}, err
	}

	return transit.Route{
		ID:            spec.ID,
		Name:          spec.Name,
		Color:         spec.Color,
		StopIDs:       append([]string(nil), spec.StopIDs...),
		Path:          path,
		StopDistances: dists,
		TotalDistance: total,
	}, nil
}

func validateStopDistances(dists []float64, total float64) error {
	prev := 0.0
	for i, d := range dists {
		if d < 0 {
			return fmt.Errorf("stop %d at negative distance %.3f: %w", i, d, geo.ErrInvalidGeometry)
		}
		if d < prev {
			return fmt.Errorf("stop %d distance %.3f before previous %.3f: %w", i, d, prev, geo.ErrInvalidGeometry)
		}
		prev = d
	}
	if prev > total {
		return fmt.Errorf("last stop at %.3f beyond path length %.3f: %w", prev, total, geo.ErrInvalidGeometry)
	}
	return nil
}

// Route looks up a route by id.
func (c *Catalog) Route(id string) (transit.Route, bool) {
	r, ok := c.routes[id]
	return cloneRoute(r), ok
}

// Stop looks up a stop by id.
func (c *Catalog) Stop(id string) (transit.Stop, bool) {
	s, ok := c.stops[id]
	return cloneStop(s), ok
}

// Routes returns all routes ordered by id.
func (c *Catalog) Routes() []transit.Route {
	out := make([]transit.Route, 0, len(c.routeOrder))
	for _, id := range c.routeOrder {
		out = append(out, cloneRoute(c.routes[id]))
	}
	return out
}

// Stops returns all stops ordered by id.
func (c *Catalog) Stops() []transit.Stop {
	out := make([]transit.Stop, 0, len(c.stopOrder))
	for _, id := range c.stopOrder {
		out = append(out, cloneStop(c.stops[id]))
	}
	return out
}

func cloneRoute(r transit.Route) transit.Route {
	r.StopIDs = slices.Clone(r.StopIDs)
	r.Path = slices.Clone(r.Path)
	r.StopDistances = slices.Clone(r.StopDistances)
	return r
}

func cloneStop(s transit.Stop) transit.Stop {
	s.RouteIDs = slices.Clone(s.RouteIDs)
	return s
}

// WalkingSpeedKmh is used for the walking time to a nearby stop.
const WalkingSpeedKmh = 5.0

// NearbyStop is a stop with its distance from a query point.
type NearbyStop struct {
	Stop        transit.Stop
	DistanceKm  float64
	WalkMinutes int
}

// NearestStops returns up to n stops ordered by distance from c; n <= 0
// returns all of them.
func (c *Catalog) NearestStops(from geo.Coordinate, n int) []NearbyStop {
	out := make([]NearbyStop, 0, len(c.stops))
	for _, s := range c.Stops() {
		d := geo.Distance(from, s.Coord)
		out = append(out, NearbyStop{
			Stop:        s,
			DistanceKm:  d,
			WalkMinutes: geo.MinutesForDistance(d, WalkingSpeedKmh),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
