package service

import (
	"sync"
	"time"
)

// MetricsCollector tracks admission outcomes and oracle latency.
type MetricsCollector struct {
	mu        sync.RWMutex
	startTime time.Time

	submissions int
	accepted    int
	rejected    map[Reason]int

	verifyCount     int
	verifyTotalTime time.Duration
	verifyMaxTime   time.Duration

	lastAccepted time.Time
}

// OperationMetrics contains timing information for signature verification.
type OperationMetrics struct {
	Count            int   `json:"count"`
	ProcessingTimeMs int64 `json:"processing_time_ms"`
	AverageTimeMs    int64 `json:"average_time_ms"`
	MaxTimeMs        int64 `json:"max_time_ms"`
}

// MetricsResponse is the JSON document served at /metrics.
type MetricsResponse struct {
	StartTime    time.Time        `json:"start_time"`
	UptimeMs     int64            `json:"uptime_ms"`
	Submissions  int              `json:"submissions"`
	Accepted     int              `json:"accepted"`
	Rejected     map[Reason]int   `json:"rejected"`
	LastAccepted *time.Time       `json:"last_accepted,omitempty"`
	Verification OperationMetrics `json:"verification"`
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startTime: time.Now(),
		rejected:  make(map[Reason]int),
	}
}

// RecordOutcome counts one finished submission.
func (mc *MetricsCollector) RecordOutcome(res Result) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.submissions++
	if res.Accepted() {
		mc.accepted++
		mc.lastAccepted = time.Now()
		return
	}
	mc.rejected[res.Reason]++
}

// RecordVerification adds one oracle/verifier round trip.
func (mc *MetricsCollector) RecordVerification(duration time.Duration) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.verifyCount++
	mc.verifyTotalTime += duration
	if duration > mc.verifyMaxTime {
		mc.verifyMaxTime = duration
	}
}

// GetMetrics returns a copy of the current counters.
func (mc *MetricsCollector) GetMetrics() MetricsResponse {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	rejected := make(map[Reason]int, len(mc.rejected))
	for reason, n := range mc.rejected {
		rejected[reason] = n
	}

	resp := MetricsResponse{
		StartTime:   mc.startTime,
		UptimeMs:    time.Since(mc.startTime).Milliseconds(),
		Submissions: mc.submissions,
		Accepted:    mc.accepted,
		Rejected:    rejected,
		Verification: OperationMetrics{
			Count:            mc.verifyCount,
			ProcessingTimeMs: mc.verifyTotalTime.Milliseconds(),
			MaxTimeMs:        mc.verifyMaxTime.Milliseconds(),
		},
	}
	if mc.verifyCount > 0 {
		resp.Verification.AverageTimeMs = (mc.verifyTotalTime / time.Duration(mc.verifyCount)).Milliseconds()
	}
	if !mc.lastAccepted.IsZero() {
		last := mc.lastAccepted
		resp.LastAccepted = &last
	}
	return resp
}

// Reset clears all counters but keeps the start time.
func (mc *MetricsCollector) Reset() {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.submissions = 0
	mc.accepted = 0
	mc.rejected = make(map[Reason]int)
	mc.verifyCount = 0
	mc.verifyTotalTime = 0
	mc.verifyMaxTime = 0
	mc.lastAccepted = time.Time{}
}
