package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	CatalogBuiltin  = "builtin"
	CatalogFile     = "file"
	CatalogPostgres = "postgres"
)

type Config struct {
	CatalogSource string `validate:"oneof=builtin file postgres"`
	CatalogFile   string `validate:"required_if=CatalogSource file"`
	DatabaseURL   string `validate:"required_if=CatalogSource postgres"`
	City          string

	TickInterval    time.Duration `validate:"gt=0"`
	SpeedMultiplier float64       `validate:"gt=0"`

	VehiclesPerRouteMin int     `validate:"min=1"`
	VehiclesPerRouteMax int     `validate:"gtefield=VehiclesPerRouteMin"`
	SpeedMinKmh         float64 `validate:"gt=0"`
	SpeedMaxKmh         float64 `validate:"gtefield=SpeedMinKmh"`
	RandomStart         bool
	Seed                int64 // 0 seeds from the clock

	NATSURL           string `validate:"omitempty,url"`
	NATSSubjectPrefix string `validate:"required"`
	LogNATSSubjects   bool

	ArrivalsTopN int `validate:"min=0"`
	MetricsAddr  string
	Location     *time.Location `validate:"-"`
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error

	cfg.CatalogSource = strings.ToLower(getenvDefault("CATALOG_SOURCE", CatalogBuiltin))
	cfg.CatalogFile = os.Getenv("CATALOG_FILE")

	// City name for dynamic DB resolution
	cfg.City = firstNonEmpty(os.Getenv("CITY"), os.Getenv("CITY_NAME"))

	if cfg.CatalogSource == CatalogPostgres {
		if cfg.DatabaseURL, err = databaseURL(cfg.City); err != nil {
			return nil, err
		}
	}

	ms, err := getenvInt("TICK_INTERVAL_MS", 1000)
	if err != nil {
		return nil, err
	}
	cfg.TickInterval = time.Duration(ms) * time.Millisecond

	if cfg.SpeedMultiplier, err = getenvFloat("SPEED_MULTIPLIER", 1.0); err != nil {
		return nil, err
	}
	if cfg.VehiclesPerRouteMin, err = getenvInt("VEHICLES_PER_ROUTE_MIN", 2); err != nil {
		return nil, err
	}
	if cfg.VehiclesPerRouteMax, err = getenvInt("VEHICLES_PER_ROUTE_MAX", 3); err != nil {
		return nil, err
	}
	if cfg.SpeedMinKmh, err = getenvFloat("SPEED_MIN_KMH", 15); err != nil {
		return nil, err
	}
	if cfg.SpeedMaxKmh, err = getenvFloat("SPEED_MAX_KMH", 50); err != nil {
		return nil, err
	}
	cfg.RandomStart = getenvBool("RANDOM_START", true)

	if v := os.Getenv("SIM_SEED"); v != "" {
		if cfg.Seed, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid SIM_SEED: %q", v)
		}
	}

	// Empty NATS_URL disables publishing
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "tracker")
	cfg.LogNATSSubjects = getenvBool("LOG_NATS_SUBJECTS", false)

	if cfg.ArrivalsTopN, err = getenvInt("ARRIVALS_TOP_N", 3); err != nil {
		return nil, err
	}

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	tzName := getenvDefault("TZ", "")
	if tzName == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tzName)
		if err != nil {
			return nil, fmt.Errorf("invalid TZ: %v", err)
		}
		cfg.Location = loc
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// databaseURL prefers DATABASE_URL / PG_DSN and otherwise builds a DSN from
// the PG* variables.
func databaseURL(city string) (string, error) {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn, nil
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := os.Getenv("PGDATABASE")
	// If CITY is provided, default base DB to 'postgres' when PGDATABASE is not set.
	if db == "" && city != "" {
		db = "postgres"
	}
	if db == "" {
		return "", errors.New("PGDATABASE or DATABASE_URL must be set (set PGDATABASE=postgres when using CITY)")
	}
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode), nil
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode), nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func getenvFloat(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return f, nil
}

func getenvBool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
