// Package arrivals ranks vehicles by their estimated arrival at stops.
// Every function is a pure function of its arguments.
package arrivals

import (
	"sort"

	"bus-tracker/internal/transit"
)

// ForStop returns the vehicles whose next stop is stopID, soonest first.
// Ties are broken by vehicle id. The result is empty, never nil, when no
// vehicle is approaching.
func ForStop(stopID string, vehicles []transit.Vehicle) []transit.Arrival {
	out := []transit.Arrival{}
	for _, v := range vehicles {
		if v.NextStopID != stopID {
			continue
		}
		out = append(out, transit.Arrival{VehicleID: v.ID, RouteID: v.RouteID, ETAMinutes: v.ETAMinutes})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ETAMinutes != out[j].ETAMinutes {
			return out[i].ETAMinutes < out[j].ETAMinutes
		}
		return out[i].VehicleID < out[j].VehicleID
	})
	return out
}

// GroupByNextStop partitions vehicles by next stop, each group sorted like ForStop.
func GroupByNextStop(vehicles []transit.Vehicle) map[string][]transit.Vehicle {
	groups := make(map[string][]transit.Vehicle)
	for _, v := range vehicles {
		if v.NextStopID == "" {
			continue
		}
		groups[v.NextStopID] = append(groups[v.NextStopID], v)
	}
	for _, g := range groups {
		sort.Slice(g, func(i, j int) bool {
			if g[i].ETAMinutes != g[j].ETAMinutes {
				return g[i].ETAMinutes < g[j].ETAMinutes
			}
			return g[i].ID < g[j].ID
		})
	}
	return groups
}

// Top truncates a ranked list to at most n entries; n <= 0 keeps everything.
func Top[T any](ranked []T, n int) []T {
	if n <= 0 || len(ranked) <= n {
		return ranked
	}
	return ranked[:n]
}

type Urgency string

const (
	Imminent Urgency = "imminent"
	Soon     Urgency = "soon"
	Later    Urgency = "later"
)

// UrgencyOf buckets an ETA for display colouring.
func UrgencyOf(etaMinutes int) Urgency {
	switch {
	case etaMinutes <= 2:
		return Imminent
	case etaMinutes <= 5:
		return Soon
	}
	return Later
}
