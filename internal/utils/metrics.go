// internal/utils/metrics.go
package utils

import (
	"context"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector 进程内计数器、仪表与直方图
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram 记录次数、总和与极值
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector 返回全局指标收集器
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// NewMetricsCollector 创建独立的收集器(测试中使用)
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

func (m *MetricsCollector) slot(table map[string]*int64, name string) *int64 {
	m.mu.RLock()
	v, ok := table[name]
	m.mu.RUnlock()
	if ok {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok = table[name]; !ok {
		v = new(int64)
		table[name] = v
	}
	return v
}

func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.slot(m.counters, name), 1)
}

func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.slot(m.counters, name), value)
}

func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.slot(m.gauges, name), value)
}

func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), 1)
}

func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), -1)
}

func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	v, ok := m.gauges[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v)
}

func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	v, ok := m.counters[name]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(v)
}

// RecordHistogram 记录一个观测值
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	h, ok := m.histograms[name]
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		if h, ok = m.histograms[name]; !ok {
			h = &Histogram{min: value, max: value}
			m.histograms[name] = h
		}
		m.mu.Unlock()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	if value < h.min {
		h.min = value
	}
	if value > h.max {
		h.max = value
	}
}

// GetMetrics 返回快照
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		counters[name] = atomic.LoadInt64(v)
	}
	gauges := make(map[string]int64, len(m.gauges))
	for name, v := range m.gauges {
		gauges[name] = atomic.LoadInt64(v)
	}
	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// MatchMetrics 匹配流水线的指标记录
type MatchMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

func NewMatchMetrics() *MatchMetrics {
	return &MatchMetrics{
		metrics: GetMetricsCollector(),
		logger:  GetLogger(),
	}
}

// Collector 返回底层收集器
func (mm *MatchMetrics) Collector() *MetricsCollector {
	return mm.metrics
}

// RecordAPIRequest HTTP 请求
func (mm *MatchMetrics) RecordAPIRequest(route, method string, statusCode int, duration time.Duration) {
	mm.metrics.IncrementCounter("api_requests_total")
	mm.metrics.IncrementCounter("api_requests_" + method + "_" + route)
	mm.metrics.IncrementCounter("api_responses_" + strconv.Itoa(statusCode/100) + "xx")
	mm.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())
}

// RecordLLMRequest 语言模型调用
func (mm *MatchMetrics) RecordLLMRequest(provider, model string, tokensUsed int, duration time.Duration) {
	mm.metrics.IncrementCounter("llm_requests_total")
	mm.metrics.IncrementCounter("llm_requests_" + provider)
	mm.metrics.AddCounter("llm_tokens_total", int64(tokensUsed))
	mm.metrics.RecordHistogram("llm_response_time_ms", duration.Milliseconds())

	mm.logger.Info("LLM request completed", map[string]interface{}{
		"provider": provider,
		"model":    model,
		"tokens":   tokensUsed,
		"duration": duration.Milliseconds(),
	})
}

// RecordDecode 解码成功时所用的恢复层级
func (mm *MatchMetrics) RecordDecode(tier string) {
	mm.metrics.IncrementCounter("decode_total")
	mm.metrics.IncrementCounter("decode_tier_" + tier)
}

// RecordRetrieval 单次检索策略调用
func (mm *MatchMetrics) RecordRetrieval(strategy string, results int, duration time.Duration, err error) {
	mm.metrics.IncrementCounter("retrieval_" + strategy + "_total")
	if err != nil {
		mm.metrics.IncrementCounter("retrieval_" + strategy + "_errors")
	}
	if results == 0 && err == nil {
		mm.metrics.IncrementCounter("retrieval_" + strategy + "_empty")
	}
	mm.metrics.RecordHistogram("retrieval_"+strategy+"_ms", duration.Milliseconds())
}

// RecordAssignment 每个镜头最终的绑定来源(matchType 为空表示占位)
func (mm *MatchMetrics) RecordAssignment(matchType string) {
	if matchType == "" {
		mm.metrics.IncrementCounter("assignments_placeholder")
		return
	}
	mm.metrics.IncrementCounter("assignments_" + matchType)
}

// StartMetricsCollection 周期性输出指标摘要
func (mm *MatchMetrics) StartMetricsCollection(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mm.metrics.SetGauge("goroutines", int64(runtime.NumGoroutine()))
				mm.logger.Info("Periodic metrics report", map[string]interface{}{
					"metrics": mm.metrics.GetMetrics(),
				})
			}
		}
	}()
}
