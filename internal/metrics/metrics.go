// Package metrics collects and exposes dispatcher runtime observability
// data.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (per-stage counters + time series)
//     for the lightweight JSON /metrics.json endpoint used by the dashboard.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems (Grafana, Alertmanager, etc.).
//
// Keeping both allows the dashboard to work without a Prometheus sidecar
// while still supporting enterprise monitoring stacks.
//
// # Concurrency — hot path
//
// RecordInvocationWithDetails is called from the dispatcher on every
// routed invocation and must be as fast as possible. It uses atomic
// increments for global counters and dispatches a lightweight event onto
// a buffered channel (tsChan) for the time-series worker to process
// asynchronously. This avoids holding any lock on the hot path.
//
// The per-stage StageMetrics struct also uses atomic operations
// exclusively; the sync.Map that stores the per-stage entries is
// read-heavy and write-once-per-new-stage, which is the ideal use case
// for sync.Map.
//
// # Invariants
//
//   - TotalInvocations == SuccessInvocations + FailedInvocations (maintained
//     by RecordInvocation and RecordInvocationWithDetails).
//   - WindowsCompleted + WindowsAbandoned <= TotalInvocations routed to
//     aggregator stages.
//   - The time-series ring buffer holds at most timeSeriesBucketCount buckets
//     (24 * 60 = 1440 for the last 24 hours at 1-minute granularity).
//   - tsChan capacity is 8192 events; events dropped when full are counted
//     in tsDroppedEvents for observability.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeSeriesBucketDuration = time.Minute
	timeSeriesBucketCount    = 24 * 60
)

// TimeSeriesBucket stores metrics for a single time bucket
type TimeSeriesBucket struct {
	Timestamp    time.Time
	Invocations  int64
	Errors       int64
	TotalLatency int64
	Count        int64 // for calculating avg
}

// Metrics collects and exposes dispatcher runtime metrics.
type Metrics struct {
	// Invocation metrics
	TotalInvocations   atomic.Int64
	SuccessInvocations atomic.Int64
	FailedInvocations  atomic.Int64

	// Latency metrics (in milliseconds)
	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	// Windowing metrics
	WindowsCompleted atomic.Int64
	WindowsAbandoned atomic.Int64

	// Codec / state-backend I/O metrics
	BytesEncoded      atomic.Int64
	BytesDecoded      atomic.Int64
	ObjectStoreReads  atomic.Int64
	ObjectStoreWrites atomic.Int64

	// Per-stage metrics
	stageMetrics sync.Map // stage name -> *StageMetrics

	// Time-series data (minute buckets for last 24 hours)
	timeSeriesMu    sync.RWMutex
	timeSeries      []*TimeSeriesBucket
	tsChan          chan timeSeriesEvent
	tsDroppedEvents atomic.Int64

	startTime time.Time
}

// timeSeriesEvent is sent over a channel to avoid write-lock contention on the hot path
type timeSeriesEvent struct {
	durationMs int64
	isError    bool
}

// StageMetrics tracks metrics for a single stage name.
type StageMetrics struct {
	Invocations atomic.Int64
	Successes   atomic.Int64
	Failures    atomic.Int64
	TotalMs     atomic.Int64
	MinMs       atomic.Int64
	MaxMs       atomic.Int64
}

// Global metrics instance
var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinLatencyMs.Store(int64(^uint64(0) >> 1)) // Max int64
	global.tsChan = make(chan timeSeriesEvent, 8192)
	global.initTimeSeries()
	go global.processTimeSeriesLoop()
}

// initTimeSeries initializes minute-level buckets for the last 24 hours.
func (m *Metrics) initTimeSeries() {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

// Global returns the global metrics instance
func Global() *Metrics {
	return global
}

// StartTime returns the time when the metrics system was initialized
func StartTime() time.Time {
	return global.startTime
}

// RecordInvocation records an invocation result
func (m *Metrics) RecordInvocation(stage string, durationMs int64, success bool) {
	m.RecordInvocationWithDetails(stage, durationMs, success, false)
}

// RecordInvocationWithDetails records an invocation with stage name for
// Prometheus labels, and whether the invocation targeted an aggregator
// (grouped, fan-in) stage.
func (m *Metrics) RecordInvocationWithDetails(stage string, durationMs int64, success, aggregator bool) {
	m.TotalInvocations.Add(1)

	if success {
		m.SuccessInvocations.Add(1)
	} else {
		m.FailedInvocations.Add(1)
	}

	m.TotalLatencyMs.Add(durationMs)
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	// Per-stage metrics
	sm := m.getStageMetrics(stage)
	sm.Invocations.Add(1)
	if success {
		sm.Successes.Add(1)
	} else {
		sm.Failures.Add(1)
	}
	sm.TotalMs.Add(durationMs)
	updateMin(&sm.MinMs, durationMs)
	updateMax(&sm.MaxMs, durationMs)

	// Time series recording
	m.recordTimeSeries(durationMs, !success)

	// Prometheus bridge
	RecordPrometheusInvocation(stage, durationMs, success, aggregator)
}

// recordTimeSeries enqueues a time-series event for async processing,
// avoiding a write-lock on the hot invocation path.
func (m *Metrics) recordTimeSeries(durationMs int64, isError bool) {
	select {
	case m.tsChan <- timeSeriesEvent{durationMs: durationMs, isError: isError}:
	default:
		m.tsDroppedEvents.Add(1)
	}
}

// processTimeSeriesLoop drains tsChan and applies events under a write lock.
func (m *Metrics) processTimeSeriesLoop() {
	for evt := range m.tsChan {
		m.applyTimeSeriesEvent(evt.durationMs, evt.isError)
	}
}

// applyTimeSeriesEvent updates the time-series buckets (must be called from a single goroutine).
func (m *Metrics) applyTimeSeriesEvent(durationMs int64, isError bool) {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)

	// Check if we need to rotate buckets
	if len(m.timeSeries) > 0 {
		lastBucket := m.timeSeries[len(m.timeSeries)-1]
		bucketsDiff := int(now.Sub(lastBucket.Timestamp) / timeSeriesBucketDuration)

		if bucketsDiff > 0 {
			if bucketsDiff >= timeSeriesBucketCount {
				m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
				for i := 0; i < timeSeriesBucketCount; i++ {
					m.timeSeries[i] = &TimeSeriesBucket{
						Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
					}
				}
			} else {
				m.timeSeries = m.timeSeries[bucketsDiff:]
				for i := 0; i < bucketsDiff; i++ {
					m.timeSeries = append(m.timeSeries, &TimeSeriesBucket{
						Timestamp: lastBucket.Timestamp.Add(time.Duration(i+1) * timeSeriesBucketDuration),
					})
				}
			}
		}
	}

	// Record to current bucket
	if len(m.timeSeries) > 0 {
		bucket := m.timeSeries[len(m.timeSeries)-1]
		bucket.Invocations++
		bucket.TotalLatency += durationMs
		bucket.Count++
		if isError {
			bucket.Errors++
		}
	}
}

// RecordWindowCompleted records a shuffled window whose fan-in completed.
func (m *Metrics) RecordWindowCompleted() {
	m.WindowsCompleted.Add(1)
	RecordPrometheusWindowCompleted()
}

// RecordWindowAbandoned records a window evicted before it completed.
func (m *Metrics) RecordWindowAbandoned() {
	m.WindowsAbandoned.Add(1)
	RecordPrometheusWindowAbandoned()
}

// RecordBytesEncoded records the size of a codec-encoded payload.
func (m *Metrics) RecordBytesEncoded(n int) {
	m.BytesEncoded.Add(int64(n))
	RecordPrometheusBytes("encode", n)
}

// RecordBytesDecoded records the size of a codec-decoded payload.
func (m *Metrics) RecordBytesDecoded(n int) {
	m.BytesDecoded.Add(int64(n))
	RecordPrometheusBytes("decode", n)
}

// RecordObjectStoreOp records a state-backend round trip.
func (m *Metrics) RecordObjectStoreOp(op string, success bool) {
	if op == "write" {
		m.ObjectStoreWrites.Add(1)
	} else {
		m.ObjectStoreReads.Add(1)
	}
	RecordPrometheusObjectStoreOp(op, success)
}

func (m *Metrics) getStageMetrics(stage string) *StageMetrics {
	if v, ok := m.stageMetrics.Load(stage); ok {
		return v.(*StageMetrics)
	}

	sm := &StageMetrics{}
	sm.MinMs.Store(int64(^uint64(0) >> 1))
	actual, _ := m.stageMetrics.LoadOrStore(stage, sm)
	return actual.(*StageMetrics)
}

// GetStageMetrics returns the metrics for a specific stage (or nil if none recorded yet)
func (m *Metrics) GetStageMetrics(stage string) *StageMetrics {
	if v, ok := m.stageMetrics.Load(stage); ok {
		return v.(*StageMetrics)
	}
	return nil
}

// Snapshot returns a point-in-time snapshot of all metrics
func (m *Metrics) Snapshot() map[string]interface{} {
	total := m.TotalInvocations.Load()
	avgLatency := float64(0)
	if total > 0 {
		avgLatency = float64(m.TotalLatencyMs.Load()) / float64(total)
	}

	minLatency := m.MinLatencyMs.Load()
	if minLatency == int64(^uint64(0)>>1) {
		minLatency = 0
	}

	result := map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"invocations": map[string]interface{}{
			"total":   total,
			"success": m.SuccessInvocations.Load(),
			"failed":  m.FailedInvocations.Load(),
		},
		"latency_ms": map[string]interface{}{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxLatencyMs.Load(),
		},
		"windows": map[string]interface{}{
			"completed": m.WindowsCompleted.Load(),
			"abandoned": m.WindowsAbandoned.Load(),
		},
		"io": map[string]interface{}{
			"bytes_encoded":       m.BytesEncoded.Load(),
			"bytes_decoded":       m.BytesDecoded.Load(),
			"object_store_reads":  m.ObjectStoreReads.Load(),
			"object_store_writes": m.ObjectStoreWrites.Load(),
		},
		"ts_dropped_events": m.tsDroppedEvents.Load(),
	}

	return result
}

// StageStats returns per-stage metrics
func (m *Metrics) StageStats() map[string]interface{} {
	result := make(map[string]interface{})

	m.stageMetrics.Range(func(key, value interface{}) bool {
		stage := key.(string)
		sm := value.(*StageMetrics)

		total := sm.Invocations.Load()
		avgMs := float64(0)
		if total > 0 {
			avgMs = float64(sm.TotalMs.Load()) / float64(total)
		}

		minMs := sm.MinMs.Load()
		if minMs == int64(^uint64(0)>>1) {
			minMs = 0
		}

		result[stage] = map[string]interface{}{
			"invocations": total,
			"successes":   sm.Successes.Load(),
			"failures":    sm.Failures.Load(),
			"avg_ms":      avgMs,
			"min_ms":      minMs,
			"max_ms":      sm.MaxMs.Load(),
		}
		return true
	})

	return result
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		result := m.Snapshot()
		result["stages"] = m.StageStats()
		json.NewEncoder(w).Encode(result)
	})
}

// TimeSeries returns minute-level time-series data for the last 24 hours.
func (m *Metrics) TimeSeries() []map[string]interface{} {
	m.timeSeriesMu.RLock()
	defer m.timeSeriesMu.RUnlock()

	result := make([]map[string]interface{}, len(m.timeSeries))
	for i, bucket := range m.timeSeries {
		avgDuration := float64(0)
		if bucket.Count > 0 {
			avgDuration = float64(bucket.TotalLatency) / float64(bucket.Count)
		}
		result[i] = map[string]interface{}{
			"timestamp":    bucket.Timestamp.Format(time.RFC3339),
			"invocations":  bucket.Invocations,
			"errors":       bucket.Errors,
			"avg_duration": avgDuration,
		}
	}
	return result
}

// TimeSeriesHandler returns an HTTP handler for time-series metrics
func (m *Metrics) TimeSeriesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.TimeSeries())
	})
}

// Helper functions

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
