package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"bus-tracker/internal/catalog"
	"bus-tracker/internal/geo"
	"bus-tracker/internal/transit"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

type RouteRow struct {
	RouteID   string
	ShortName string
	LongName  string
	Color     string
}

type ShapePoint struct {
	Lat      float64
	Lon      float64
	Sequence int
}

type StopTime struct {
	StopSequence int
	StopID       string
	StopName     string
	StopLat      float64
	StopLon      float64
}

// LoadCatalog reads a GTFS import and turns every route into a catalog
// route spec. Each route is represented by its trip with the most stops; the
// trip's shape becomes the path, or its stop sequence when no shape exists.
// Routes without a usable trip are skipped and reported in the returned
// slice so the caller can log them.
func LoadCatalog(ctx context.Context, db *sql.DB) ([]transit.Stop, []catalog.RouteSpec, []error, error) {
	routes, err := FetchRoutes(ctx, db)
	if err != nil {
		return nil, nil, nil, err
	}

	var (
		stops   []transit.Stop
		specs   []catalog.RouteSpec
		skipped []error
		seen    = make(map[string]bool)
	)
	for _, r := range routes {
		tripID, shapeID, err := representativeTrip(ctx, db, r.RouteID)
		if errors.Is(err, sql.ErrNoRows) {
			skipped = append(skipped, fmt.Errorf("route %s: no trips", r.RouteID))
			continue
		}
		if err != nil {
			return nil, nil, nil, err
		}
		sts, err := FetchStopTimes(ctx, db, tripID)
		if err != nil {
			return nil, nil, nil, err
		}
		shape, err := FetchShapePoints(ctx, db, shapeID)
		if err != nil {
			return nil, nil, nil, err
		}
		spec, routeStops := routeSpec(r, sts, shape)
		for _, s := range routeStops {
			if !seen[s.ID] {
				seen[s.ID] = true
				stops = append(stops, s)
			}
		}
		specs = append(specs, spec)
	}
	return stops, specs, skipped, nil
}

func FetchRoutes(ctx context.Context, db *sql.DB) ([]RouteRow, error) {
	q := `SELECT route_id,
                 COALESCE(route_short_name, ''),
                 COALESCE(route_long_name, ''),
                 COALESCE(route_color, '')
          FROM routes ORDER BY route_id`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()
	var out []RouteRow
	for rows.Next() {
		var r RouteRow
		if err := rows.Scan(&r.RouteID, &r.ShortName, &r.LongName, &r.Color); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func representativeTrip(ctx context.Context, db *sql.DB, routeID string) (tripID, shapeID string, err error) {
	q := `
SELECT t.trip_id, COALESCE(t.shape_id, '')
FROM trips t
LEFT JOIN stop_times st ON st.trip_id = t.trip_id
WHERE t.route_id = $1
GROUP BY t.trip_id, t.shape_id
ORDER BY COUNT(st.stop_id) DESC, t.trip_id
LIMIT 1`
	err = db.QueryRowContext(ctx, q, routeID).Scan(&tripID, &shapeID)
	return tripID, shapeID, err
}

func FetchShapePoints(ctx context.Context, db *sql.DB, shapeID string) ([]ShapePoint, error) {
	if shapeID == "" {
		return nil, nil
	}
	latExpr, lonExpr, err := shapeLayout.resolve(ctx, db, "shapes", "")
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT %s, %s, shape_pt_sequence
             FROM shapes WHERE shape_id = $1 ORDER BY shape_pt_sequence`, latExpr, lonExpr)
	rows, err := db.QueryContext(ctx, q, shapeID)
	if err != nil {
		return nil, fmt.Errorf("query shapes: %w", err)
	}
	defer rows.Close()
	var pts []ShapePoint
	for rows.Next() {
		var p ShapePoint
		if err := rows.Scan(&p.Lat, &p.Lon, &p.Sequence); err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, rows.Err()
}

func FetchStopTimes(ctx context.Context, db *sql.DB, tripID string) ([]StopTime, error) {
	latExpr, lonExpr, err := stopLayout.resolve(ctx, db, "stops", "s")
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT st.stop_sequence,
                    st.stop_id,
                    COALESCE(s.stop_name, ''),
                    COALESCE(%s, 0),
                    COALESCE(%s, 0)
             FROM stop_times st
             JOIN stops s ON s.stop_id = st.stop_id
             WHERE st.trip_id = $1
             ORDER BY st.stop_sequence`, latExpr, lonExpr)
	rows, err := db.QueryContext(ctx, q, tripID)
	if err != nil {
		return nil, fmt.Errorf("query stop_times: %w", err)
	}
	defer rows.Close()

	var sts []StopTime
	for rows.Next() {
		var st StopTime
		if err := rows.Scan(&st.StopSequence, &st.StopID, &st.StopName, &st.StopLat, &st.StopLon); err != nil {
			return nil, err
		}
		sts = append(sts, st)
	}
	return sts, rows.Err()
}

// routeSpec assembles a catalog route from one trip's stop times and shape.
// Stop distances are left for the catalog to project.
func routeSpec(r RouteRow, sts []StopTime, shape []ShapePoint) (catalog.RouteSpec, []transit.Stop) {
	spec := catalog.RouteSpec{
		ID:    r.RouteID,
		Name:  routeName(r),
		Color: routeColor(r.Color),
	}
	stops := make([]transit.Stop, 0, len(sts))
	for _, st := range sts {
		c := geo.Coordinate{Lat: st.StopLat, Lon: st.StopLon}
		spec.StopIDs = append(spec.StopIDs, st.StopID)
		stops = append(stops, transit.Stop{ID: st.StopID, Name: st.StopName, Coord: c})
	}
	if len(shape) >= 2 {
		spec.Path = make([]geo.Coordinate, len(shape))
		for i, p := range shape {
			spec.Path[i] = geo.Coordinate{Lat: p.Lat, Lon: p.Lon}
		}
	} else {
		for _, s := range stops {
			spec.Path = append(spec.Path, s.Coord)
		}
	}
	return spec, stops
}

func routeName(r RouteRow) string {
	short, long := strings.TrimSpace(r.ShortName), strings.TrimSpace(r.LongName)
	switch {
	case short != "" && long != "":
		return short + " " + long
	case short != "":
		return short
	case long != "":
		return long
	}
	return r.RouteID
}

// routeColor normalizes a GTFS route_color (hex without '#') to "#RRGGBB".
// Anything else is dropped.
func routeColor(c string) string {
	c = strings.TrimPrefix(strings.TrimSpace(c), "#")
	if len(c) != 6 {
		return ""
	}
	for _, ch := range c {
		if !strings.ContainsRune("0123456789abcdefABCDEF", ch) {
			return ""
		}
	}
	return "#" + strings.ToUpper(c)
}

// coordLayout names the coordinate columns of a GTFS table. Imports either
// keep plain lat/lon columns or a single PostGIS point.
type coordLayout struct{ lat, lon, point string }

var (
	shapeLayout = coordLayout{lat: "shape_pt_lat", lon: "shape_pt_lon", point: "shape_pt_loc"}
	stopLayout  = coordLayout{lat: "stop_lat", lon: "stop_lon", point: "stop_loc"}
)

// exprs returns the SELECT expressions for latitude and longitude given the
// columns present on the table, qualified with alias when set.
func (l coordLayout) exprs(present map[string]bool, alias string) (lat, lon string, err error) {
	col := func(c string) string {
		if alias == "" {
			return c
		}
		return alias + "." + c
	}
	switch {
	case present[l.lat] && present[l.lon]:
		return col(l.lat), col(l.lon), nil
	case present[l.point]:
		return fmt.Sprintf("ST_Y(%s::geometry)", col(l.point)), fmt.Sprintf("ST_X(%s::geometry)", col(l.point)), nil
	}
	return "", "", fmt.Errorf("no coordinate columns (%s/%s or %s)", l.lat, l.lon, l.point)
}

func (l coordLayout) resolve(ctx context.Context, db *sql.DB, table, alias string) (lat, lon string, err error) {
	present, err := tableColumns(ctx, db, table)
	if err != nil {
		return "", "", fmt.Errorf("introspect %s: %w", table, err)
	}
	if lat, lon, err = l.exprs(present, alias); err != nil {
		return "", "", fmt.Errorf("%s: %w", table, err)
	}
	return lat, lon, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT column_name FROM information_schema.columns
          WHERE table_schema = 'public' AND table_name = $1`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
