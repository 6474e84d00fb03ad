package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	Vehicles       prometheus.Gauge
	Routes         prometheus.Gauge
	ExcludedRoutes prometheus.Gauge
	Subscribers    prometheus.Gauge

	Ticks            prometheus.Counter
	VehicleResets    prometheus.Counter
	DesyncedVehicles prometheus.Counter

	NATSPublished   *prometheus.CounterVec // kind label: position|arrivals|feed
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	TickDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	SpeedMultiplier prometheus.Gauge
	TickInterval    prometheus.Gauge // seconds
}

func NewCollector(speedMultiplier float64, tickInterval time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Vehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_vehicles",
			Help: "Number of simulated vehicles.",
		}),
		Routes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_routes",
			Help: "Number of routes loaded into the catalog.",
		}),
		ExcludedRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_excluded_routes",
			Help: "Number of routes rejected at catalog load.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_snapshot_subscribers",
			Help: "Number of active snapshot subscribers.",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_ticks_total",
			Help: "Total simulation ticks.",
		}),
		VehicleResets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_vehicle_resets_total",
			Help: "Total times a vehicle completed its route and restarted.",
		}),
		DesyncedVehicles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_desynced_vehicles_total",
			Help: "Total vehicle updates skipped because the route was not in the catalog.",
		}),
		NATSPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}, []string{"kind"}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_tick_duration_seconds",
			Help:    "Duration of simulation tick computations.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		SpeedMultiplier: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_speed_multiplier",
			Help: "Simulated seconds per wall-clock second.",
		}),
		TickInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_tick_interval_seconds",
			Help: "Wall-clock tick interval in seconds.",
		}),
	}

	reg.MustRegister(
		c.Vehicles, c.Routes, c.ExcludedRoutes, c.Subscribers,
		c.Ticks, c.VehicleResets, c.DesyncedVehicles,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.TickDuration, c.PublishDuration,
		c.SpeedMultiplier, c.TickInterval,
	)

	c.SpeedMultiplier.Set(speedMultiplier)
	c.TickInterval.Set(tickInterval.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// PublisherMetrics adapts the collector to the publisher's metrics hooks.
func (c *Collector) PublisherMetrics() *PublisherHooks { return &PublisherHooks{c: c} }

type PublisherHooks struct{ c *Collector }

func (p *PublisherHooks) NATSPublishedInc(kind string)   { p.c.NATSPublished.WithLabelValues(kind).Inc() }
func (p *PublisherHooks) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *PublisherHooks) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *PublisherHooks) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
