package loader

import "sync/atomic"

// Stats is a snapshot of a session's batching activity.
type Stats struct {
	Batches       int64 `json:"batches"`
	Queries       int64 `json:"queries"`
	KeysFetched   int64 `json:"keys_fetched"`
	RowsFetched   int64 `json:"rows_fetched"`
	CacheHits     int64 `json:"cache_hits"`
	CacheMisses   int64 `json:"cache_misses"`
	ShortCircuits int64 `json:"short_circuits"`
	Failures      int64 `json:"failures"`
}

type counters struct {
	batches       atomic.Int64
	queries       atomic.Int64
	keysFetched   atomic.Int64
	rowsFetched   atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
	shortCircuits atomic.Int64
	failures      atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Batches:       c.batches.Load(),
		Queries:       c.queries.Load(),
		KeysFetched:   c.keysFetched.Load(),
		RowsFetched:   c.rowsFetched.Load(),
		CacheHits:     c.cacheHits.Load(),
		CacheMisses:   c.cacheMisses.Load(),
		ShortCircuits: c.shortCircuits.Load(),
		Failures:      c.failures.Load(),
	}
}
