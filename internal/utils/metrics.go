// internal/utils/metrics.go
package utils

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector keeps in-process counters and duration histograms.
// 指标只在进程内存中，随 /api/stats 一起对外暴露。
type MetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]*int64
	histograms map[string]*durationStats
}

// durationStats tracks count/sum/min/max for one duration series
type durationStats struct {
	mu    sync.Mutex
	count int64
	sum   int64
	min   int64
	max   int64
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = &MetricsCollector{
			counters:   make(map[string]*int64),
			histograms: make(map[string]*durationStats),
		}
	})
	return globalMetrics
}

// counter returns the counter cell for name, creating it on first use
func (m *MetricsCollector) counter(name string) *int64 {
	m.mu.RLock()
	cell, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return cell
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cell, ok = m.counters[name]; !ok {
		cell = new(int64)
		m.counters[name] = cell
	}
	return cell
}

// IncrementCounter adds one to the named counter
func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.counter(name), 1)
}

// GetCounterValue reads the named counter, zero if absent
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	cell, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(cell)
}

// RecordDuration feeds one observation into the named series
func (m *MetricsCollector) RecordDuration(name string, d time.Duration) {
	ms := d.Milliseconds()

	m.mu.RLock()
	series, ok := m.histograms[name]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if series, ok = m.histograms[name]; !ok {
			series = &durationStats{min: ms, max: ms}
			m.histograms[name] = series
		}
		m.mu.Unlock()
	}

	series.mu.Lock()
	defer series.mu.Unlock()
	series.count++
	series.sum += ms
	if ms < series.min {
		series.min = ms
	}
	if ms > series.max {
		series.max = ms
	}
}

// GetMetrics returns a point-in-time snapshot of all series
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, cell := range m.counters {
		counters[name] = atomic.LoadInt64(cell)
	}

	durations := make(map[string]map[string]int64, len(m.histograms))
	for name, series := range m.histograms {
		series.mu.Lock()
		durations[name] = map[string]int64{
			"count": series.count,
			"sum":   series.sum,
			"min":   series.min,
			"max":   series.max,
		}
		series.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":  counters,
		"durations": durations,
	}
}

// APIMetrics 记录接口与生成链路的指标
type APIMetrics struct {
	metrics *MetricsCollector
}

// NewAPIMetrics creates a new API metrics instance
func NewAPIMetrics() *APIMetrics {
	return &APIMetrics{metrics: GetMetricsCollector()}
}

// RecordAPIRequest 记录一次HTTP请求的指标
func (am *APIMetrics) RecordAPIRequest(endpoint, method string, statusCode int, duration time.Duration) {
	am.metrics.IncrementCounter("api_requests_total")
	am.metrics.IncrementCounter("api_requests_" + method + "_" + endpoint)
	am.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")
	am.metrics.RecordDuration("api_response_time_ms", duration)
}

// RecordGeneration 记录一次脚本或音频生成的结果与耗时
func (am *APIMetrics) RecordGeneration(kind string, success bool, duration time.Duration) {
	am.metrics.IncrementCounter("generation_requests_total")
	am.metrics.IncrementCounter("generation_requests_" + kind)
	if success {
		am.metrics.IncrementCounter("generation_" + kind + "_success")
	} else {
		am.metrics.IncrementCounter("generation_" + kind + "_failure")
	}
	am.metrics.RecordDuration("generation_"+kind+"_time_ms", duration)

	GetLogger().Infof("生成完成 kind=%s success=%v elapsed=%dms", kind, success, duration.Milliseconds())
}

// Snapshot 当前全部指标
func (am *APIMetrics) Snapshot() map[string]interface{} {
	return am.metrics.GetMetrics()
}
