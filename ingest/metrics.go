package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ingest")

var eventsReceived = promauto.NewCounter(prometheus.CounterOpts{
	Name: "atrarium_events_received",
	Help: "Number of relay events received",
})

var eventsFiltered = promauto.NewCounter(prometheus.CounterOpts{
	Name: "atrarium_events_filtered",
	Help: "Number of relay events rejected by the lightweight filter",
})

var eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "atrarium_events_dropped",
	Help: "Number of relay events dropped by the structural parse",
})

var postsIndexed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "atrarium_posts_indexed",
	Help: "Number of posts indexed into a community",
})

var postsRejected = promauto.NewCounter(prometheus.CounterOpts{
	Name: "atrarium_posts_rejected",
	Help: "Number of posts rejected by the membership check",
})

var postsAggregated = promauto.NewCounter(prometheus.CounterOpts{
	Name: "atrarium_posts_aggregated",
	Help: "Number of posts fanned out to a parent community",
})

var eventsFailed = promauto.NewCounter(prometheus.CounterOpts{
	Name: "atrarium_events_failed",
	Help: "Number of events whose processing failed transiently",
})

var currentSeq = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "atrarium_current_seq",
	Help: "Current relay sequence number",
})
