package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mini-transit-live/server/internal/logger"
)

// Collector owns a private registry with the service's metrics
type Collector struct {
	reg *prometheus.Registry

	CacheHits       prometheus.Counter
	CacheJoins      prometheus.Counter
	Refreshes       *prometheus.CounterVec // result label: ok|error
	RefreshDuration prometheus.Histogram
	SnapshotSize    prometheus.Gauge
	SnapshotAge     prometheus.Gauge

	StoreErrors *prometheus.CounterVec // op label

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram

	StreamClients prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_cache_hits_total",
			Help: "Calls served from a fresh snapshot.",
		}),
		CacheJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feed_cache_joins_total",
			Help: "Calls that attached to an in-flight refresh.",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feed_refreshes_total",
			Help: "Upstream refreshes by result.",
		}, []string{"result"}),
		RefreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feed_refresh_duration_seconds",
			Help:    "Duration of upstream fetch plus merge.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		SnapshotSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feed_snapshot_vehicles",
			Help: "Vehicles in the latest snapshot.",
		}),
		SnapshotAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feed_snapshot_feed_timestamp_seconds",
			Help: "Upstream header timestamp of the latest snapshot (unix seconds).",
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "schedule_store_errors_total",
			Help: "Schedule store failures that were degraded around.",
		}, []string{"op"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "nats_publish_duration_seconds",
			Help:    "Duration to marshal and publish a snapshot.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		StreamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stream_clients",
			Help: "Connected websocket clients.",
		}),
	}

	reg.MustRegister(
		c.CacheHits, c.CacheJoins, c.Refreshes, c.RefreshDuration,
		c.SnapshotSize, c.SnapshotAge, c.StoreErrors,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
		c.StreamClients,
	)
	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, log logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server error", "error", err)
		}
	}()
	log.Info("metrics listening", "addr", addr)
	return srv
}

// The methods below satisfy the narrow metrics interfaces declared by
// realtime, schedule, publisher and stream.

func (c *Collector) CacheHit()    { c.CacheHits.Inc() }
func (c *Collector) CacheJoined() { c.CacheJoins.Inc() }

func (c *Collector) RefreshObserved(d time.Duration, vehicles int, feedTime time.Time, err error) {
	c.RefreshDuration.Observe(d.Seconds())
	if err != nil {
		c.Refreshes.WithLabelValues("error").Inc()
		return
	}
	c.Refreshes.WithLabelValues("ok").Inc()
	c.SnapshotSize.Set(float64(vehicles))
	if !feedTime.IsZero() {
		c.SnapshotAge.Set(float64(feedTime.Unix()))
	}
}

func (c *Collector) StoreError(op string) { c.StoreErrors.WithLabelValues(op).Inc() }

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }
func (c *Collector) NATSSetConnected(b bool) {
	if b {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

func (c *Collector) StreamClientsSet(n int) { c.StreamClients.Set(float64(n)) }
