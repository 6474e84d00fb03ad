package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusKm is the radius of the sphere used for all distance computations.
const EarthRadiusKm = 6371.0

// ErrInvalidGeometry is returned for paths that cannot be walked: fewer than two
// points, zero total length, or stop distances that run backwards.
var ErrInvalidGeometry = errors.New("invalid geometry")

// Coordinate is a latitude/longitude pair in degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

func (c Coordinate) String() string { return fmt.Sprintf("(%.6f,%.6f)", c.Lat, c.Lon) }

func ToRadians(deg float64) float64 { return deg * math.Pi / 180 }

func ToDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// Distance is the haversine great-circle distance in kilometres.
func Distance(a, b Coordinate) float64 {
	if a == b {
		return 0
	}
	dLat := ToRadians(b.Lat - a.Lat)
	dLon := ToRadians(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(ToRadians(a.Lat))*math.Cos(ToRadians(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Bearing returns the initial bearing from a to b in degrees (0-360).
func Bearing(a, b Coordinate) float64 {
	phi1 := ToRadians(a.Lat)
	phi2 := ToRadians(b.Lat)
	dLambda := ToRadians(b.Lon - a.Lon)

	x := math.Sin(dLambda) * math.Cos(phi2)
	y := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	return math.Mod(ToDegrees(math.Atan2(x, y))+360, 360)
}

// CumulativeDistances returns, for every path vertex, the distance travelled
// from the first vertex.
func CumulativeDistances(path []Coordinate) []float64 {
	if len(path) == 0 {
		return nil
	}
	cum := make([]float64, len(path))
	for i := 1; i < len(path); i++ {
		cum[i] = cum[i-1] + Distance(path[i-1], path[i])
	}
	return cum
}

// PathLength is the sum of the segment lengths of path.
func PathLength(path []Coordinate) float64 {
	cum := CumulativeDistances(path)
	if len(cum) == 0 {
		return 0
	}
	return cum[len(cum)-1]
}

// PointAlongPath walks the path and returns the coordinate reached after
// target kilometres. Latitude and longitude are interpolated linearly within
// the segment. Targets at or beyond the end are clamped to the last vertex.
func PointAlongPath(path []Coordinate, target float64) (Coordinate, error) {
	pos, err := PositionAlongPath(path, target)
	return pos.Coordinate, err
}

// Position is a point on a path together with the heading of its segment.
type Position struct {
	Coordinate
	Bearing float64
}

// PositionAlongPath is PointAlongPath plus the bearing of the segment the
// point lies on.
func PositionAlongPath(path []Coordinate, target float64) (Position, error) {
	if len(path) < 2 {
		return Position{}, fmt.Errorf("path has %d points: %w", len(path), ErrInvalidGeometry)
	}
	if target <= 0 {
		return Position{Coordinate: path[0], Bearing: Bearing(path[0], path[1])}, nil
	}

	walked := 0.0
	for i := 0; i < len(path)-1; i++ {
		a, b := path[i], path[i+1]
		seg := Distance(a, b)
		if seg > 0 && walked+seg >= target {
			ratio := (target - walked) / seg
			return Position{
				Coordinate: Coordinate{
					Lat: a.Lat + (b.Lat-a.Lat)*ratio,
					Lon: a.Lon + (b.Lon-a.Lon)*ratio,
				},
				Bearing: Bearing(a, b),
			}, nil
		}
		walked += seg
	}
	n := len(path)
	return Position{Coordinate: path[n-1], Bearing: Bearing(path[n-2], path[n-1])}, nil
}

// ProjectOntoPath returns the distance along path of the point closest to c,
// considering only the part of the path at or after from. cum must be the
// cumulative distances of path. An equirectangular projection around c is
// used for the per-segment search.
func ProjectOntoPath(path []Coordinate, cum []float64, c Coordinate, from float64) float64 {
	n := len(path)
	if n == 0 {
		return 0
	}
	if len(cum) != n {
		cum = CumulativeDistances(path)
	}
	if n == 1 {
		return 0
	}

	cosLat := math.Cos(ToRadians(c.Lat))
	toXY := func(p Coordinate) (x, y float64) {
		y = ToRadians(p.Lat-c.Lat) * EarthRadiusKm
		x = ToRadians(p.Lon-c.Lon) * EarthRadiusKm * cosLat
		return x, y
	}

	best := math.MaxFloat64
	along := from
	for i := 1; i < n; i++ {
		if cum[i] < from {
			continue
		}
		x0, y0 := toXY(path[i-1])
		x1, y1 := toXY(path[i])
		dx, dy := x1-x0, y1-y0
		t := 0.0
		if l2 := dx*dx + dy*dy; l2 > 0 {
			t = Clamp(-(x0*dx+y0*dy)/l2, 0, 1)
		}
		var d float64
		switch t {
		case 0:
			d = cum[i-1]
		case 1:
			d = cum[i]
		default:
			d = cum[i-1] + t*(cum[i]-cum[i-1])
		}
		if d < from {
			// the projection fell behind the search start on this segment
			d = from
			seg := cum[i] - cum[i-1]
			if seg > 0 {
				t = (from - cum[i-1]) / seg
			}
		}
		px, py := x0+t*dx, y0+t*dy
		if d2 := px*px + py*py; d2 < best {
			best = d2
			along = d
		}
	}
	return Clamp(along, 0, cum[n-1])
}

// Clamp constrains v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
