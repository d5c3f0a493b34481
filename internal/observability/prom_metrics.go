// Package observability exposes pipeline metrics in Prometheus format.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric names.
const (
	RecordsIngested   = "siemd_records_ingested_total"
	ThreatsIngested   = "siemd_threats_ingested_total"
	BatchesRejected   = "siemd_batches_rejected_total"
	StoreErrors       = "siemd_store_errors_total"
	EventsPublished   = "siemd_events_published_total"
	EventsDropped     = "siemd_events_dropped_total"
	DeliveryFailures  = "siemd_delivery_failures_total"
	AMQPDeliveries    = "siemd_amqp_deliveries_total"
	ActiveSubscribers = "siemd_subscribers"
	StoreLatency      = "siemd_store_latency_seconds"
	HealthLatency     = "siemd_health_snapshot_seconds"
)

// Recorder is the metrics surface the pipeline packages depend on.
type Recorder interface {
	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)
	SetGauge(name string, v float64)
}

// PromObs records metrics on a private Prometheus registry.
type PromObs struct {
	reg      *prometheus.Registry
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

func NewPromObs() *PromObs {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
	}

	counters := map[string]prometheus.Counter{
		RecordsIngested:  counter(RecordsIngested, "Records persisted by the store."),
		ThreatsIngested:  counter(ThreatsIngested, "Persisted records classified as threats."),
		BatchesRejected:  counter(BatchesRejected, "Ingest batches rejected as invalid payloads."),
		StoreErrors:      counter(StoreErrors, "Failed store operations."),
		EventsPublished:  counter(EventsPublished, "Records published to the broadcast hub."),
		EventsDropped:    counter(EventsDropped, "Events dropped from full subscriber buffers."),
		DeliveryFailures: counter(DeliveryFailures, "Subscriptions closed after a transport write failed."),
		AMQPDeliveries:   counter(AMQPDeliveries, "Messages consumed from the AMQP ingest queue."),
	}
	gauges := map[string]prometheus.Gauge{
		ActiveSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: ActiveSubscribers,
			Help: "Current number of live broadcast subscriptions.",
		}),
	}
	storeLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    StoreLatency,
		Help:    "Latency of store appends.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	healthLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    HealthLatency,
		Help:    "Time taken to sample host health.",
		Buckets: prometheus.LinearBuckets(0.25, 0.25, 12),
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range counters {
		reg.MustRegister(c)
	}
	for _, g := range gauges {
		reg.MustRegister(g)
	}
	reg.MustRegister(storeLatency, healthLatency)

	return &PromObs{
		reg:      reg,
		counters: counters,
		gauges:   gauges,
		histos: map[string]prometheus.Observer{
			StoreLatency:  storeLatency,
			HealthLatency: healthLatency,
		},
	}
}

// Registry returns the underlying registry, for tests and extra collectors.
func (p *PromObs) Registry() *prometheus.Registry {
	return p.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PromObs) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

// The methods below let PromObs observe a broadcast.Hub.

func (p *PromObs) Published()        { p.IncCounter(EventsPublished, 1) }
func (p *PromObs) Dropped()          { p.IncCounter(EventsDropped, 1) }
func (p *PromObs) DeliveryFailed()   { p.IncCounter(DeliveryFailures, 1) }
func (p *PromObs) Subscribers(n int) { p.SetGauge(ActiveSubscribers, float64(n)) }

// Nop discards every metric.
type Nop struct{}

func (Nop) IncCounter(string, float64)     {}
func (Nop) ObserveLatency(string, float64) {}
func (Nop) SetGauge(string, float64)       {}
