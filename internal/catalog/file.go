package catalog

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	polyline "github.com/twpayne/go-polyline"
	"gopkg.in/yaml.v3"

	"bus-tracker/internal/geo"
	"bus-tracker/internal/transit"
)

// File is the on-disk catalog layout. Routes are validated one by one in
// Parse so a broken route only drops itself.
type File struct {
	Stops  []FileStop  `yaml:"stops" validate:"required,min=1,dive"`
	Routes []FileRoute `yaml:"routes" validate:"required,min=1"`
}

type FileStop struct {
	ID     string   `yaml:"id" validate:"required"`
	Name   string   `yaml:"name" validate:"required"`
	Lat    float64  `yaml:"lat" validate:"gte=-90,lte=90"`
	Lon    float64  `yaml:"lon" validate:"gte=-180,lte=180"`
	Routes []string `yaml:"routes"`
}

// FileRoute carries its path either as [lat, lon] pairs or as a Google
// encoded polyline.
type FileRoute struct {
	ID            string       `yaml:"id" validate:"required"`
	Name          string       `yaml:"name"`
	Color         string       `yaml:"color" validate:"omitempty,hexcolor"`
	Stops         []string     `yaml:"stops" validate:"required,min=1"`
	Path          [][2]float64 `yaml:"path" validate:"required_without=Polyline"`
	Polyline      string       `yaml:"polyline" validate:"required_without=Path"`
	StopDistances []float64    `yaml:"stop_distances_km"`
}

// LoadFile reads and parses a YAML catalog file.
func LoadFile(path string) ([]transit.Stop, []RouteSpec, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read catalog file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog document. A malformed document
// or stop list is an error. Routes that fail validation or whose path cannot
// be decoded are left out and reported in skipped.
func Parse(data []byte) (stops []transit.Stop, specs []RouteSpec, skipped []error, err error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, nil, fmt.Errorf("parse catalog: %w", err)
	}
	v := validator.New()
	if err := v.Struct(f); err != nil {
		return nil, nil, nil, fmt.Errorf("validate catalog: %w", err)
	}

	stops = make([]transit.Stop, 0, len(f.Stops))
	for _, s := range f.Stops {
		stops = append(stops, transit.Stop{
			ID:       s.ID,
			Name:     s.Name,
			Coord:    geo.Coordinate{Lat: s.Lat, Lon: s.Lon},
			RouteIDs: s.Routes,
		})
	}

	specs = make([]RouteSpec, 0, len(f.Routes))
	for i, r := range f.Routes {
		spec, err := r.spec(v)
		if err != nil {
			id := r.ID
			if id == "" {
				id = fmt.Sprintf("#%d", i)
			}
			skipped = append(skipped, fmt.Errorf("route %s: %w", id, err))
			continue
		}
		specs = append(specs, spec)
	}
	return stops, specs, skipped, nil
}

func (r FileRoute) spec(v *validator.Validate) (RouteSpec, error) {
	if err := v.Struct(r); err != nil {
		return RouteSpec{}, err
	}
	path, err := r.coordinates()
	if err != nil {
		return RouteSpec{}, err
	}
	return RouteSpec{
		ID:            r.ID,
		Name:          r.Name,
		Color:         r.Color,
		StopIDs:       r.Stops,
		Path:          path,
		StopDistances: r.StopDistances,
	}, nil
}

func (r FileRoute) coordinates() ([]geo.Coordinate, error) {
	pairs := r.Path
	if len(pairs) == 0 {
		decoded, _, err := polyline.DecodeCoords([]byte(r.Polyline))
		if err != nil {
			return nil, fmt.Errorf("decode polyline: %w", err)
		}
		pairs = make([][2]float64, len(decoded))
		for i, c := range decoded {
			pairs[i] = [2]float64{c[0], c[1]}
		}
	}
	out := make([]geo.Coordinate, len(pairs))
	for i, p := range pairs {
		out[i] = geo.Coordinate{Lat: p[0], Lon: p[1]}
	}
	return out, nil
}
