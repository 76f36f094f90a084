// Package metrics defines the prometheus collectors of the storage core.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Label values of transaction outcomes.
const (
	Fail = "fail"
	Ok   = "ok"
)

// Collectors for the page store, page cache, commit point manager and transaction log.
var (
	PageReadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "graphstore_page_reads_total",
		Help: "Cumulative number of pages read from the page file.",
	})
	PageWritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "graphstore_page_writes_total",
		Help: "Cumulative number of pages written to the page file.",
	})
	PageCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "graphstore_page_cache_hits_total",
		Help: "Cumulative number of page reads served from the page cache.",
	})
	PageCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "graphstore_page_cache_misses_total",
		Help: "Cumulative number of page reads that missed the page cache.",
	})
	PageCacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "graphstore_page_cache_evictions_total",
		Help: "Cumulative number of pages evicted from the page cache.",
	})
	CommitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "graphstore_commits_total",
		Help: "Cumulative number of published commit points.",
	})
	CommitDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "graphstore_commit_duration_seconds",
		Help:    "Duration of write transaction commits, from page flush to commit point publication.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})
	TransactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "graphstore_transactions_total",
		Help: "Cumulative number of logged transaction outcomes.",
	}, []string{"status"})
	TransactionLogBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "graphstore_transaction_log_bytes_total",
		Help: "Cumulative number of payload bytes appended to transaction logs.",
	})
)

// Collectors returns every collector of this package.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		PageReadsTotal,
		PageWritesTotal,
		PageCacheHitsTotal,
		PageCacheMissesTotal,
		PageCacheEvictionsTotal,
		CommitsTotal,
		CommitDurationSeconds,
		TransactionsTotal,
		TransactionLogBytesTotal,
	}
}

// Register registers all collectors with reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
