package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bus-tracker/internal/arrivals"
	"bus-tracker/internal/catalog"
	"bus-tracker/internal/config"
	"bus-tracker/internal/db"
	"bus-tracker/internal/geo"
	"bus-tracker/internal/metrics"
	"bus-tracker/internal/publisher"
	"bus-tracker/internal/sim"
	"bus-tracker/internal/transit"
)

// panelEvery is how many snapshots pass between stop panel log lines.
const panelEvery = 30

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stops, specs, skipped, err := loadCatalog(ctx, cfg)
	if err != nil {
		log.Fatalf("catalog error: %v", err)
	}
	cat, excluded := catalog.Build(stops, specs)
	excluded = append(skipped, excluded...)
	for _, e := range excluded {
		log.Printf("catalog: %v", e)
	}
	routes := cat.Routes()
	if len(routes) == 0 {
		log.Fatalf("catalog error: no valid routes from %s source", cfg.CatalogSource)
	}
	log.Printf("catalog loaded from %s: %d routes, %d stops, %d problems", cfg.CatalogSource, len(routes), len(cat.Stops()), len(excluded))

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.SpeedMultiplier, cfg.TickInterval)
		mcol.Routes.Set(float64(len(routes)))
		mcol.ExcludedRoutes.Set(float64(len(skipped) + len(specs) - len(routes)))
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	fleet, err := sim.Initialize(cat, sim.SeedOptions{
		MinPerRoute: cfg.VehiclesPerRouteMin,
		MaxPerRoute: cfg.VehiclesPerRouteMax,
		MinSpeedKmh: cfg.SpeedMinKmh,
		MaxSpeedKmh: cfg.SpeedMaxKmh,
		RandomStart: cfg.RandomStart,
	}, rand.New(rand.NewSource(seed)))
	if err != nil {
		log.Fatalf("seed vehicles: %v", err)
	}
	log.Printf("seeded %d vehicles (seed %d)", len(fleet), seed)

	// NATS is optional; without it the tracker only logs and serves metrics
	var pub sim.Publisher
	if cfg.NATSURL != "" {
		stopIDs := make([]string, 0, len(cat.Stops()))
		for _, s := range cat.Stops() {
			stopIDs = append(stopIDs, s.ID)
		}
		routeKm := make(map[string]float64, len(routes))
		for _, r := range routes {
			routeKm[r.ID] = r.TotalDistance
		}
		var hooks publisher.PublisherMetrics
		if mcol != nil {
			hooks = mcol.PublisherMetrics()
		}
		np, err := publisher.NewNATSPublisher(publisher.Options{
			URL:           cfg.NATSURL,
			SubjectPrefix: cfg.NATSSubjectPrefix,
			LogSubjects:   cfg.LogNATSSubjects,
			ArrivalsTopN:  cfg.ArrivalsTopN,
			StopIDs:       stopIDs,
			RouteLengths:  routeKm,
		}, hooks)
		if err != nil {
			log.Fatalf("nats error: %v", err)
		}
		defer np.Close()
		pub = np
	}

	mgr := sim.NewManager(cat, fleet, sim.Options{
		TickInterval:    cfg.TickInterval,
		SpeedMultiplier: cfg.SpeedMultiplier,
	}, pub, mcol)
	mgr.Start(ctx)

	center := catalog.DefaultCenter
	if cfg.CatalogSource != config.CatalogBuiltin {
		center = routes[0].Path[0]
	}
	near := cat.NearestStops(center, 2)
	done := make(chan struct{})
	go func() {
		defer close(done)
		logStopPanels(mgr, near, cfg.ArrivalsTopN, cfg.Location)
	}()

	// Block until context cancelled
	<-ctx.Done()
	mgr.Stop()
	<-done
	log.Println("shutdown complete")
}

// loadCatalog reads stops and route specs from the configured source. Routes
// the source could not turn into a spec come back in skipped.
func loadCatalog(ctx context.Context, cfg *config.Config) ([]transit.Stop, []catalog.RouteSpec, []error, error) {
	switch cfg.CatalogSource {
	case config.CatalogFile:
		return catalog.LoadFile(cfg.CatalogFile)
	case config.CatalogPostgres:
		sqlDB, err := db.OpenCatalogDB(ctx, cfg.DatabaseURL, cfg.City)
		if err != nil {
			return nil, nil, nil, err
		}
		defer sqlDB.Close()
		return db.LoadCatalog(ctx, sqlDB)
	default:
		stops, specs := catalog.Builtin()
		return stops, specs, nil, nil
	}
}

// logStopPanels prints the arrivals board of the given stops every
// panelEvery snapshots until the manager closes the subscription.
func logStopPanels(mgr *sim.Manager, near []catalog.NearbyStop, topN int, loc *time.Location) {
	snaps, unsubscribe := mgr.Subscribe()
	defer unsubscribe()
	for snap := range snaps {
		if snap.Seq%panelEvery != 0 {
			continue
		}
		for _, ns := range near {
			board := arrivals.Top(arrivals.ForStop(ns.Stop.ID, snap.Vehicles), topN)
			parts := make([]string, 0, len(board))
			for _, a := range board {
				parts = append(parts, fmt.Sprintf("%s %s (%s)", a.RouteID, geo.FormatETA(a.ETAMinutes), arrivals.UrgencyOf(a.ETAMinutes)))
			}
			if len(parts) == 0 {
				parts = append(parts, "no buses approaching")
			}
			log.Printf("[%s] %s (%.2f km, %d min walk): %s",
				snap.At.In(loc).Format("15:04:05"), ns.Stop.Name, ns.DistanceKm, ns.WalkMinutes, strings.Join(parts, ", "))
		}
	}
}
