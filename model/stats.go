package model

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "collab"
	subsystem = "model"
)

// Call sites reported in the cache hit/miss counters.
const (
	siteGetSnapshot = "getSnapshot"
	siteGetOps      = "getOps"
	siteApplyOp     = "applyOp"
	siteApplyMetaOp = "applyMetaOp"
	siteListen      = "listen"
)

// Stats holds the model's Prometheus collectors. A nil *Stats records nothing.
type Stats struct {
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	opWrites         prometheus.Counter
	snapshotWrites   prometheus.Counter
	snapshotFailures prometheus.Counter
	resident         prometheus.Gauge
}

// NewStats registers the model collectors with reg.
func NewStats(reg prometheus.Registerer) *Stats {
	f := promauto.With(reg)
	return &Stats{
		cacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_hits_total",
			Help:      "Reads answered from resident documents, by call site",
		}, []string{"op"}),
		cacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cache_misses_total",
			Help:      "Reads that went to the store, by call site",
		}, []string{"op"}),
		opWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "op_writes_total",
			Help:      "Operations written to the store",
		}),
		snapshotWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "snapshot_writes_total",
			Help:      "Snapshot writes started",
		}),
		snapshotFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "snapshot_write_failures_total",
			Help:      "Snapshot writes that failed",
		}),
		resident: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "documents_resident",
			Help:      "Documents currently held in memory",
		}),
	}
}

func (s *Stats) cacheHit(site string) {
	if s != nil {
		s.cacheHits.WithLabelValues(site).Inc()
	}
}

func (s *Stats) cacheMiss(site string) {
	if s != nil {
		s.cacheMisses.WithLabelValues(site).Inc()
	}
}

func (s *Stats) writeOp() {
	if s != nil {
		s.opWrites.Inc()
	}
}

func (s *Stats) writeSnapshot() {
	if s != nil {
		s.snapshotWrites.Inc()
	}
}

func (s *Stats) snapshotFailed() {
	if s != nil {
		s.snapshotFailures.Inc()
	}
}

func (s *Stats) residentDelta(d float64) {
	if s != nil {
		s.resident.Add(d)
	}
}
