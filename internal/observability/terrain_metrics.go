package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Tile lookup results reported on terrain_tile_lookups_total.
const (
	TileHit     = "hit"
	TileMiss    = "miss"
	TileMissing = "missing"
	TileError   = "error"
)

// TerrainCollector exposes tile-cache Prometheus metrics for the raster
// terrain provider.
type TerrainCollector struct {
	gatherer prometheus.Gatherer

	TileLookups       *prometheus.CounterVec
	TileFetchDuration prometheus.Histogram
	CachedTiles       prometheus.Gauge
}

// NewTerrainCollector registers terrain metrics against the provided registerer.
func NewTerrainCollector(reg prometheus.Registerer) (*TerrainCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	lookups, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "terrain_tile_lookups_total",
		Help: "Terrain tile lookups, labeled by result (hit, miss, missing, error).",
	}, []string{"result"}), "terrain_tile_lookups_total")
	if err != nil {
		return nil, err
	}

	fetch, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "terrain_tile_fetch_duration_seconds",
		Help:    "Duration of terrain tile fetch and decode.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}), "terrain_tile_fetch_duration_seconds")
	if err != nil {
		return nil, err
	}

	cached, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "terrain_cached_tiles",
		Help: "Number of decoded terrain tiles currently cached.",
	}), "terrain_cached_tiles")
	if err != nil {
		return nil, err
	}

	return &TerrainCollector{
		gatherer:          gatherer,
		TileLookups:       lookups,
		TileFetchDuration: fetch,
		CachedTiles:       cached,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *TerrainCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTileLookup counts one lookup with the given result label.
func (c *TerrainCollector) ObserveTileLookup(result string) {
	if c == nil || c.TileLookups == nil {
		return
	}
	c.TileLookups.WithLabelValues(result).Inc()
}

// ObserveTileFetch records a tile fetch duration measurement.
func (c *TerrainCollector) ObserveTileFetch(d time.Duration) {
	if c == nil || c.TileFetchDuration == nil {
		return
	}
	c.TileFetchDuration.Observe(d.Seconds())
}

// SetCachedTiles updates the cache occupancy gauge.
func (c *TerrainCollector) SetCachedTiles(n int) {
	if c == nil || c.CachedTiles == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	c.CachedTiles.Set(float64(n))
}
