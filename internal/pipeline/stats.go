// internal/pipeline/stats.go
package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/puneetrinity/llmbackend1/internal/common/errors"
)

// Stats is a point-in-time snapshot of the pipeline counters.
type Stats struct {
	Requests               uint64            `json:"requests"`
	CacheHits              uint64            `json:"cache_hits"`
	SharedResults          uint64            `json:"shared_results"`
	Degraded               uint64            `json:"degraded"`
	Failures               map[string]uint64 `json:"failures"`
	InFlight               int64             `json:"in_flight"`
	TotalProcessingSeconds float64           `json:"total_processing_seconds"`
	AvgProcessingSeconds   float64           `json:"avg_processing_seconds"`
}

// statsCollector accumulates the counters behind Stats. Counters are atomics;
// only the low-frequency failure map takes a lock.
type statsCollector struct {
	requests      atomic.Uint64
	cacheHits     atomic.Uint64
	sharedResults atomic.Uint64
	degraded      atomic.Uint64
	inFlight      atomic.Int64
	processingMs  atomic.Uint64
	completed     atomic.Uint64

	failureMu sync.Mutex
	failures  map[errors.Kind]uint64
}

func newStatsCollector() *statsCollector {
	return &statsCollector{failures: make(map[errors.Kind]uint64)}
}

func (s *statsCollector) recordFailure(kind errors.Kind) {
	s.failureMu.Lock()
	s.failures[kind]++
	s.failureMu.Unlock()
}

func (s *statsCollector) addProcessing(d time.Duration) {
	s.processingMs.Add(uint64(d.Milliseconds()))
	s.completed.Add(1)
}

func (s *statsCollector) snapshot() Stats {
	snap := Stats{
		Requests:      s.requests.Load(),
		CacheHits:     s.cacheHits.Load(),
		SharedResults: s.sharedResults.Load(),
		Degraded:      s.degraded.Load(),
		InFlight:      s.inFlight.Load(),
		Failures:      make(map[string]uint64),
	}

	s.failureMu.Lock()
	for kind, count := range s.failures {
		snap.Failures[string(kind)] = count
	}
	s.failureMu.Unlock()

	totalMs := s.processingMs.Load()
	snap.TotalProcessingSeconds = float64(totalMs) / 1000
	if completed := s.completed.Load(); completed > 0 {
		snap.AvgProcessingSeconds = snap.TotalProcessingSeconds / float64(completed)
	}
	return snap
}
