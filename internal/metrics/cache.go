package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/goodnatureofminers/ordscan-backend/internal/inscription/model"
)

var cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ordscan",
	Subsystem: "cache",
	Name:      "lookups_total",
	Help:      "Count of transaction cache lookups per layer.",
}, []string{"network", "layer", "outcome"})

// Cache tracks hit rates of the transaction dedup cache.
type Cache struct {
	network model.Network
}

// NewCache constructs a Cache metrics collector.
func NewCache(network model.Network) *Cache {
	if network == "" {
		network = "unknown"
	}
	return &Cache{network: network}
}

// ObserveLookup records one lookup against a cache layer.
func (m Cache) ObserveLookup(layer string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	cacheLookupsTotal.WithLabelValues(string(m.network), layer, outcome).Inc()
}
