package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"bus-tracker/internal/arrivals"
	"bus-tracker/internal/feed"
	"bus-tracker/internal/transit"
)

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
}

type NATSPublisher struct {
	nc          *nats.Conn
	conn        conn
	prefix      string
	logSubjects bool
	topN        int
	stopIDs     []string
	routeLen    map[string]float64
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc(kind string)
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

type Options struct {
	URL           string
	SubjectPrefix string
	LogSubjects   bool
	// ArrivalsTopN caps each stop's arrivals message; 0 publishes all.
	ArrivalsTopN int
	// StopIDs lists stops that get an arrivals message every tick, even an
	// empty one. Stops not listed are published only while a vehicle is
	// heading for them.
	StopIDs []string
	// RouteLengths maps route id to path length in km for the progress field.
	RouteLengths map[string]float64
}

func NewNATSPublisher(opts Options, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(opts.URL,
		nats.Name("bus-tracker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected to %s", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := newPublisher(nc, opts, m)
	p.nc = nc
	return p, nil
}

func newPublisher(c conn, opts Options, m PublisherMetrics) *NATSPublisher {
	prefix := strings.Trim(opts.SubjectPrefix, ". ")
	if prefix == "" {
		prefix = "tracker"
	}
	return &NATSPublisher{
		conn:        c,
		prefix:      prefix,
		logSubjects: opts.LogSubjects,
		topN:        opts.ArrivalsTopN,
		stopIDs:     opts.StopIDs,
		routeLen:    opts.RouteLengths,
		metrics:     m,
	}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
		p.nc.Close()
	}
}

type PositionMessage struct {
	Seq        uint64    `json:"seq"`
	VehicleID  string    `json:"vehicleId"`
	RouteID    string    `json:"routeId"`
	Timestamp  time.Time `json:"timestamp"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Bearing    float64   `json:"bearing"`
	SpeedKmh   float64   `json:"speedKmh"`
	DistanceKm float64   `json:"distanceKm"`
	Progress   float64   `json:"progress"`
	NextStopID string    `json:"nextStopId,omitempty"`
	ETAMinutes int       `json:"etaMinutes"`
}

type ArrivalsMessage struct {
	Seq       uint64            `json:"seq"`
	StopID    string            `json:"stopId"`
	Timestamp time.Time         `json:"timestamp"`
	Arrivals  []transit.Arrival `json:"arrivals"`
}

// NewPositionMessage builds the wire message for v. routeKm is the length of
// the vehicle's route; progress stays 0 when it is unknown.
func NewPositionMessage(seq uint64, at time.Time, v transit.Vehicle, routeKm float64) PositionMessage {
	progress := 0.0
	if routeKm > 0 {
		progress = min(max(v.DistanceTraveled/routeKm, 0), 1)
	}
	return PositionMessage{
		Seq:        seq,
		VehicleID:  v.ID,
		RouteID:    v.RouteID,
		Timestamp:  at,
		Lat:        v.Coord.Lat,
		Lon:        v.Coord.Lon,
		Bearing:    v.Bearing,
		SpeedKmh:   v.SpeedKmh,
		DistanceKm: v.DistanceTraveled,
		Progress:   progress,
		NextStopID: v.NextStopID,
		ETAMinutes: v.ETAMinutes,
	}
}

func (p *NATSPublisher) PositionSubject(routeID, vehicleID string) string {
	return fmt.Sprintf("%s.positions.%s.%s", p.prefix, subjectToken(routeID), subjectToken(vehicleID))
}

func (p *NATSPublisher) ArrivalsSubject(stopID string) string {
	return fmt.Sprintf("%s.arrivals.%s", p.prefix, subjectToken(stopID))
}

func (p *NATSPublisher) FeedSubject() string {
	return p.prefix + ".gtfsrt.vehicle_positions"
}

// PublishSnapshot sends one position message per vehicle, one arrivals
// message per stop and the GTFS-Realtime feed. Every message is attempted;
// the returned error joins the individual failures.
func (p *NATSPublisher) PublishSnapshot(snap transit.Snapshot) error {
	var errs []error
	for _, v := range snap.Vehicles {
		if err := p.publishJSON("position", p.PositionSubject(v.RouteID, v.ID), NewPositionMessage(snap.Seq, snap.At, v, p.routeLen[v.RouteID])); err != nil {
			errs = append(errs, err)
		}
	}

	grouped := arrivals.GroupByNextStop(snap.Vehicles)
	stops := make([]string, 0, len(p.stopIDs)+len(grouped))
	seen := make(map[string]bool, len(p.stopIDs))
	for _, id := range p.stopIDs {
		if !seen[id] {
			seen[id] = true
			stops = append(stops, id)
		}
	}
	for id := range grouped {
		if !seen[id] {
			seen[id] = true
			stops = append(stops, id)
		}
	}
	for _, stopID := range stops {
		msg := ArrivalsMessage{
			Seq:       snap.Seq,
			StopID:    stopID,
			Timestamp: snap.At,
			Arrivals:  arrivals.Top(arrivals.ForStop(stopID, grouped[stopID]), p.topN),
		}
		if err := p.publishJSON("arrivals", p.ArrivalsSubject(stopID), msg); err != nil {
			errs = append(errs, err)
		}
	}

	b, err := feed.Marshal(snap)
	if err != nil {
		errs = append(errs, fmt.Errorf("marshal feed: %w", err))
	} else if err := p.publish("feed", p.FeedSubject(), b); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (p *NATSPublisher) publishJSON(kind, subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	return p.publish(kind, subject, b)
}

func (p *NATSPublisher) publish(kind, subject string, b []byte) error {
	if p.logSubjects {
		log.Printf("nats publish subject=%s bytes=%d", subject, len(b))
	}
	start := time.Now()
	err := p.conn.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc(kind)
		}
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
