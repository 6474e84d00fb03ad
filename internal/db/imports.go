package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
)

// latestImportQuery picks the newest successful import whose database name
// contains the city.
const latestImportQuery = `
SELECT COALESCE(db_name, '')
FROM public.latest_successful_imports
WHERE db_name ILIKE '%' || $1 || '%'
ORDER BY imported_at DESC
LIMIT 1`

// ResolveLatestImportDBName returns the database holding the newest GTFS
// import for city.
func ResolveLatestImportDBName(ctx context.Context, meta *sql.DB, city string) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return "", errors.New("city is required")
	}
	var name string
	err := meta.QueryRowContext(ctx, latestImportQuery, city).Scan(&name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("no GTFS import for city %q", city)
	case err != nil:
		return "", fmt.Errorf("query latest import: %w", err)
	case name == "":
		return "", fmt.Errorf("import for city %q has no database name", city)
	}
	return name, nil
}

// OpenCatalogDB connects to the GTFS database. With a city set, the latest
// import for that city is looked up in the cluster's 'postgres' database and
// opened instead of the database named in dsn.
func OpenCatalogDB(ctx context.Context, dsn, city string) (*sql.DB, error) {
	city = strings.TrimSpace(city)
	target := dsn
	if city != "" {
		var err error
		if target, err = WithDBName(dsn, "postgres"); err != nil {
			return nil, fmt.Errorf("invalid base DSN: %w", err)
		}
	}
	conn, err := Open(target)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := Ping(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if city == "" {
		return conn, nil
	}
	defer conn.Close()

	name, err := ResolveLatestImportDBName(ctx, conn, city)
	if err != nil {
		return nil, fmt.Errorf("resolve city db: %w", err)
	}
	cityDSN, err := WithDBName(dsn, name)
	if err != nil {
		return nil, fmt.Errorf("build city dsn: %w", err)
	}
	log.Printf("using GTFS import %s for city %q", name, city)

	cityConn, err := Open(cityDSN)
	if err != nil {
		return nil, fmt.Errorf("open city db: %w", err)
	}
	if err := Ping(ctx, cityConn); err != nil {
		cityConn.Close()
		return nil, fmt.Errorf("ping city db: %w", err)
	}
	return cityConn, nil
}
