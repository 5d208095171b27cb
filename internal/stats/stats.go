// Package stats exposes the VM's internal counters (§12's "Statistics
// counters") as prometheus metrics, served over the `/metrics` endpoint
// §6.4's `--statistics` CLI flag turns on. This follows
// _examples/other_examples/c9ac9aeb_CyberFlameGO-pebble-1__metrics.go.go's
// shape: a single struct of pre-registered prometheus instruments with
// plain methods the rest of the VM calls inline, rather than a global
// registry scattered across packages.
package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Stats holds every counter/gauge the interpreter and object memory
// update as they run.
type Stats struct {
	BytecodesExecuted prometheus.Counter
	Sends             prometheus.Counter
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
	PrimitiveFailures prometheus.Counter
	GCCount           prometheus.Counter
	GCBytesReclaimed  prometheus.Counter
	FreeOTSlots       prometheus.Gauge

	// lastX track the cumulative counters already folded in, so Sync
	// can add only the delta to each monotonic prometheus.Counter
	// (which has no Set method) on every poll.
	lastBytecodes, lastSends, lastHits, lastMisses, lastPrimFail int
	lastGC, lastBytesReclaimed                                   int
}

// Source is the subset of *interp.Interpreter (plus its MethodCache)
// Sync needs; expressed as an interface so stats never imports interp
// and risks a cycle if interp ever wants to report its own stats.
type Source interface {
	Counters() (bytecodes, sends, cacheHits, cacheMisses, primFailures int)
}

// MemorySource is the analogous subset of *memory.Manager.
type MemorySource interface {
	Counters() (gcCount, bytesReclaimed, freeOTSlots int)
}

// Sync folds in whatever has changed since the last call. internal/vm
// calls this once, when Run returns; it is not called per bytecode or
// on a periodic tick while the interpreter runs.
func (s *Stats) Sync(ic Source, mem MemorySource) {
	bytecodes, sends, hits, misses, primFail := ic.Counters()
	s.BytecodesExecuted.Add(float64(bytecodes - s.lastBytecodes))
	s.Sends.Add(float64(sends - s.lastSends))
	s.CacheHits.Add(float64(hits - s.lastHits))
	s.CacheMisses.Add(float64(misses - s.lastMisses))
	s.PrimitiveFailures.Add(float64(primFail - s.lastPrimFail))
	s.lastBytecodes, s.lastSends, s.lastHits, s.lastMisses, s.lastPrimFail =
		bytecodes, sends, hits, misses, primFail

	gc, reclaimed, free := mem.Counters()
	s.GCCount.Add(float64(gc - s.lastGC))
	s.GCBytesReclaimed.Add(float64(reclaimed - s.lastBytesReclaimed))
	s.lastGC, s.lastBytesReclaimed = gc, reclaimed
	s.FreeOTSlots.Set(float64(free))
}

// New builds a Stats and registers every instrument with reg.
func New(reg prometheus.Registerer) *Stats {
	s := &Stats{
		BytecodesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "st80", Name: "bytecodes_executed_total",
			Help: "Bytecodes dispatched by the interpreter loop.",
		}),
		Sends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "st80", Name: "sends_total",
			Help: "Message sends (including special-selector fast-path sends).",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "st80", Name: "method_cache_hits_total",
			Help: "Method lookup cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "st80", Name: "method_cache_misses_total",
			Help: "Method lookup cache misses (full superclass-chain walk performed).",
		}),
		PrimitiveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "st80", Name: "primitive_failures_total",
			Help: "Primitive dispatches that declined and fell back to method activation.",
		}),
		GCCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "st80", Name: "gc_runs_total",
			Help: "Mark-sweep-compact collections performed.",
		}),
		GCBytesReclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "st80", Name: "gc_bytes_reclaimed_total",
			Help: "Heap words reclaimed by garbage collection, in bytes.",
		}),
		FreeOTSlots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "st80", Name: "object_table_free_slots",
			Help: "Unused object-table slots remaining.",
		}),
	}
	reg.MustRegister(
		s.BytecodesExecuted, s.Sends, s.CacheHits, s.CacheMisses,
		s.PrimitiveFailures, s.GCCount, s.GCBytesReclaimed, s.FreeOTSlots,
	)
	return s
}

// CacheHitRate reports the lookup cache's hit ratio so far, 0 if no
// lookups have happened yet. The CLI does not call it: its
// `--statistics` flag only serves /metrics.
func (s *Stats) CacheHitRate() float64 {
	hits := counterValue(s.CacheHits)
	misses := counterValue(s.CacheMisses)
	total := hits + misses
	if total == 0 {
		return 0
	}
	return hits / total
}

func counterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	c.Write(m)
	return m.GetCounter().GetValue()
}
