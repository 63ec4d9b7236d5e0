package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/akhenakh/heightmap/geotiff"
)

// Sample outcomes reported by the samples counter.
const (
	resultOK      = "ok"
	resultOutside = "outside"
	resultError   = "error"
)

// Metrics are the service level prometheus collectors.
type Metrics struct {
	samples     *prometheus.CounterVec
	raggedEdges prometheus.Counter
	tiles       *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heightmap",
			Name:      "samples_total",
			Help:      "Number of elevation samples served, by api and result.",
		}, []string{"api", "result"}),
		raggedEdges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "heightmap",
			Name:      "ragged_edges_total",
			Help:      "Number of samples that fell on an unpopulated part of a ragged edge tile.",
		}),
		tiles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "heightmap",
			Name:      "terrain_tiles_total",
			Help:      "Number of terrain tiles served, by cache status.",
		}, []string{"cache"}),
	}
	reg.MustRegister(m.samples, m.raggedEdges, m.tiles)
	return m
}

func (m *Metrics) sample(api, result string) {
	m.samples.WithLabelValues(api, result).Inc()
}

func (m *Metrics) raggedEdge(geotiff.TileLocation) {
	m.raggedEdges.Inc()
}

func (m *Metrics) tile(hit bool) {
	if hit {
		m.tiles.WithLabelValues("hit").Inc()
		return
	}
	m.tiles.WithLabelValues("miss").Inc()
}
