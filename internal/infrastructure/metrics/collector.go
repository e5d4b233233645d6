package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/asakaida/relmanager/pkg/cache"
	"github.com/asakaida/relmanager/pkg/cache/memorycache"
)

// Collector collects and aggregates metrics for the application.
// Requests are keyed by Ajax handler name (e.g. onRelationManageAdd) or gRPC method.
type Collector struct {
	apiRequests sync.Map // map[string]*uint64 - handler -> count
	apiErrors   sync.Map // map[string]*uint64 - handler -> error count
	apiDuration sync.Map // map[string]*durationValue - handler -> total duration in seconds
	skippedIDs  sync.Map // map[string]*uint64 - handler -> ids skipped by batch actions

	// Widget state cache (optional)
	cache cache.Cache
}

// durationValue holds duration with mutex for thread-safe updates.
type durationValue struct {
	mu           sync.Mutex
	totalSeconds float64
}

// CacheMetrics holds widget state cache metrics.
type CacheMetrics struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	KeysCurrent int64
	MemoryBytes int64
	Evictions   uint64
}

// APIMetrics holds request metrics.
type APIMetrics struct {
	RequestCounts        map[string]uint64
	ErrorCounts          map[string]uint64
	SkippedCounts        map[string]uint64
	TotalDurationSeconds map[string]float64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// SetCache sets the cache instance for collecting cache metrics.
func (c *Collector) SetCache(cache cache.Cache) {
	c.cache = cache
}

// RecordRequest records a request.
func (c *Collector) RecordRequest(handler string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.apiRequests, handler), 1)
}

// RecordError records a failed request.
func (c *Collector) RecordError(handler string) {
	atomic.AddUint64(c.getOrCreateCounter(&c.apiErrors, handler), 1)
}

// RecordSkipped records ids a batch action skipped because they no longer exist.
func (c *Collector) RecordSkipped(handler string, n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(c.getOrCreateCounter(&c.skippedIDs, handler), uint64(n))
}

// RecordDuration records the duration of a request in seconds.
func (c *Collector) RecordDuration(handler string, durationSeconds float64) {
	val, _ := c.apiDuration.LoadOrStore(handler, &durationValue{})
	dv := val.(*durationValue)

	dv.mu.Lock()
	dv.totalSeconds += durationSeconds
	dv.mu.Unlock()
}

// GetCacheMetrics returns current cache metrics.
func (c *Collector) GetCacheMetrics() *CacheMetrics {
	if c.cache == nil {
		return &CacheMetrics{}
	}

	metrics := c.cache.Metrics()
	if metrics == nil {
		return &CacheMetrics{}
	}

	result := &CacheMetrics{
		Hits:      metrics.Hits,
		Misses:    metrics.Misses,
		HitRate:   metrics.HitRate(),
		Evictions: metrics.KeysEvicted,
	}

	if memCache, ok := c.cache.(*memorycache.Cache); ok {
		result.KeysCurrent = int64(memCache.Len())
		result.MemoryBytes = memCache.Size()
	}

	return result
}

// GetAPIMetrics returns current request metrics.
func (c *Collector) GetAPIMetrics() *APIMetrics {
	result := &APIMetrics{
		RequestCounts:        loadCounters(&c.apiRequests),
		ErrorCounts:          loadCounters(&c.apiErrors),
		SkippedCounts:        loadCounters(&c.skippedIDs),
		TotalDurationSeconds: make(map[string]float64),
	}

	c.apiDuration.Range(func(key, value interface{}) bool {
		dv := value.(*durationValue)
		dv.mu.Lock()
		result.TotalDurationSeconds[key.(string)] = dv.totalSeconds
		dv.mu.Unlock()
		return true
	})

	return result
}

func loadCounters(m *sync.Map) map[string]uint64 {
	result := make(map[string]uint64)
	m.Range(func(key, value interface{}) bool {
		result[key.(string)] = atomic.LoadUint64(value.(*uint64))
		return true
	})
	return result
}

// getOrCreateCounter gets or creates a counter for the given key.
func (c *Collector) getOrCreateCounter(m *sync.Map, key string) *uint64 {
	val, _ := m.LoadOrStore(key, new(uint64))
	return val.(*uint64)
}
