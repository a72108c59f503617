package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/pixeldepot/pixeldepot/internal/models"
	"github.com/pixeldepot/pixeldepot/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector queries collection statistics and publishes them as gauges.
type Collector struct {
	db dStatsStore

	documents *prometheus.GaugeVec
	bytes     *prometheus.GaugeVec
	duration  prometheus.Histogram
}

type dStatsStore interface {
	CollectionStats(ctx context.Context, kind string) (store.Stats, error)
}

// NewCollector creates a collector publishing per-collection gauges on the provided registerer.
func NewCollector(db dStatsStore, reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		db: db,
		documents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pixeldepot_collection_documents",
			Help: "Number of documents in the collection.",
		}, []string{"collection"}),
		bytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pixeldepot_collection_bytes",
			Help: "Total BSON size of the collection in bytes.",
		}, []string{"collection"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixeldepot_stats_refresh_duration_seconds",
			Help:    "Tracks the latencies of collection stats refreshes.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}

	for _, col := range []prometheus.Collector{c.documents, c.bytes, c.duration} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("failed to register collection gauges: %v", err)
		}
	}

	return c, nil
}

// Refresh queries the collection backing kind and updates its gauges.
func (c *Collector) Refresh(ctx context.Context, kind string) error {
	start := time.Now()
	stats, err := c.db.CollectionStats(ctx, kind)
	if err != nil {
		return fmt.Errorf("failed to query stats for %s: %w", kind, err)
	}
	c.duration.Observe(time.Since(start).Seconds())

	collection := models.CollectionName(kind)
	c.documents.WithLabelValues(collection).Set(float64(stats.Documents))
	c.bytes.WithLabelValues(collection).Set(float64(stats.Bytes))
	return nil
}
