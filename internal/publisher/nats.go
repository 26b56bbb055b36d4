package publisher

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/mini-transit-live/server/internal/logger"
	"github.com/mini-transit-live/server/internal/realtime"
)

// DefaultSubject is the prefix snapshots are published under
const DefaultSubject = "transit.snapshot"

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// conn is the part of *nats.Conn the publisher uses
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// NATSPublisher publishes every fresh snapshot: the whole snapshot on the
// subject itself and each route's vehicles on <subject>.<route>.
type NATSPublisher struct {
	nc      conn
	subject string
	metrics PublisherMetrics
	log     logger.Logger
}

func NewNATSPublisher(url, subject string, m PublisherMetrics, log logger.Logger) (*NATSPublisher, error) {
	if log == nil {
		log = logger.Nop()
	}
	nc, err := nats.Connect(url,
		nats.Name("transit-live"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return newPublisher(nc, subject, m, log), nil
}

func newPublisher(nc conn, subject string, m PublisherMetrics, log logger.Logger) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if log == nil {
		log = logger.Nop()
	}
	return &NATSPublisher{nc: nc, subject: subject, metrics: m, log: log}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// SnapshotMessage is the JSON body published for a snapshot or one of its routes
type SnapshotMessage struct {
	SnapshotID string                   `json:"snapshotId"`
	Timestamp  time.Time                `json:"timestamp"`
	Route      string                   `json:"route,omitempty"`
	Vehicles   []realtime.VehicleRecord `json:"vehicles"`
}

// PublishSnapshot publishes snap and one message per route. It keeps going
// after a failed publish and returns the first error.
func (p *NATSPublisher) PublishSnapshot(snap *realtime.Snapshot) error {
	if snap == nil {
		return nil
	}
	vehicles := snap.Vehicles
	if vehicles == nil {
		vehicles = []realtime.VehicleRecord{}
	}
	firstErr := p.publish(p.subject, SnapshotMessage{
		SnapshotID: snap.ID,
		Timestamp:  snap.Timestamp,
		Vehicles:   vehicles,
	})

	byRoute := make(map[string][]realtime.VehicleRecord)
	for _, v := range snap.Vehicles {
		byRoute[v.Route] = append(byRoute[v.Route], v)
	}
	routes := make([]string, 0, len(byRoute))
	for r := range byRoute {
		routes = append(routes, r)
	}
	sort.Strings(routes)

	for _, route := range routes {
		err := p.publish(p.subject+"."+subjectToken(route), SnapshotMessage{
			SnapshotID: snap.ID,
			Timestamp:  snap.Timestamp,
			Route:      route,
			Vehicles:   byRoute[route],
		})
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Listener adapts PublishSnapshot to a cache refresh callback
func (p *NATSPublisher) Listener() func(*realtime.Snapshot) {
	return func(snap *realtime.Snapshot) {
		if err := p.PublishSnapshot(snap); err != nil {
			p.log.Warn("failed to publish snapshot", "error", err, "snapshot_id", snap.ID)
		}
	}
}

func (p *NATSPublisher) publish(subject string, msg SnapshotMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.log.Debug("nats publish", "subject", subject, "vehicles", len(msg.Vehicles))
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
