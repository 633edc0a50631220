package writeq

import (
	"sync/atomic"
	"time"
)

// latencyBuckets defines the trigger-latency histogram buckets in
// nanoseconds, logarithmically spaced from 1us to 10s.
var latencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks operational statistics for one Engine (or a handful
// sharing one loop). The zero value is not usable; use NewMetrics.
type Metrics struct {
	// Trigger outcome counters.
	TriggerCalls           atomic.Uint64
	WrittenCompletelyCount atomic.Uint64
	WrittenPartiallyCount  atomic.Uint64
	WouldBlockCount        atomic.Uint64
	ClosedCount            atomic.Uint64
	NothingToWriteCount    atomic.Uint64

	// Bytes actually reported transferred by a drain's syscall result,
	// summed across every spin iteration of every Trigger call.
	BytesDrained atomic.Uint64

	// Watermark crossings.
	WritabilityFlipsToFalse atomic.Uint64
	WritabilityFlipsToTrue  atomic.Uint64

	// Trigger latency.
	TotalLatencyNs atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordTrigger records one Trigger call's outcome and wall-clock latency.
func (m *Metrics) RecordTrigger(outcome WriteOutcome, latency time.Duration) {
	m.TriggerCalls.Add(1)
	switch outcome {
	case WrittenCompletely:
		m.WrittenCompletelyCount.Add(1)
	case WrittenPartially:
		m.WrittenPartiallyCount.Add(1)
	case WouldBlockOutcome:
		m.WouldBlockCount.Add(1)
	case ClosedOutcome:
		m.ClosedCount.Add(1)
	case NothingToBeWritten:
		m.NothingToWriteCount.Add(1)
	}
	m.recordLatency(uint64(latency.Nanoseconds()))
}

// RecordDrainBytes accumulates bytes a single didWrite call reported
// transferred. n may be 0 (a WouldBlock(0) spin still calls this with 0).
func (m *Metrics) RecordDrainBytes(n int64) {
	if n > 0 {
		m.BytesDrained.Add(uint64(n))
	}
}

// RecordWritabilityFlip records a watermark-triggered writability
// transition, toWritable being the flag's new value.
func (m *Metrics) RecordWritabilityFlip(toWritable bool) {
	if toWritable {
		m.WritabilityFlipsToTrue.Add(1)
	} else {
		m.WritabilityFlipsToFalse.Add(1)
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	for i, bucket := range latencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the metrics instance as stopped, fixing UptimeNs in future
// snapshots.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time read of Metrics plus derived stats.
type MetricsSnapshot struct {
	TriggerCalls           uint64
	WrittenCompletelyCount uint64
	WrittenPartiallyCount  uint64
	WouldBlockCount        uint64
	ClosedCount            uint64
	NothingToWriteCount    uint64

	BytesDrained uint64

	WritabilityFlipsToFalse uint64
	WritabilityFlipsToTrue  uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64

	LatencyHistogram [numLatencyBuckets]uint64

	TriggersPerSecond float64
	Bandwidth         float64 // bytes/sec
}

// Snapshot creates a point-in-time snapshot, computing averages,
// percentiles, and rates from the raw counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		TriggerCalls:            m.TriggerCalls.Load(),
		WrittenCompletelyCount:  m.WrittenCompletelyCount.Load(),
		WrittenPartiallyCount:   m.WrittenPartiallyCount.Load(),
		WouldBlockCount:         m.WouldBlockCount.Load(),
		ClosedCount:             m.ClosedCount.Load(),
		NothingToWriteCount:     m.NothingToWriteCount.Load(),
		BytesDrained:            m.BytesDrained.Load(),
		WritabilityFlipsToFalse: m.WritabilityFlipsToFalse.Load(),
		WritabilityFlipsToTrue:  m.WritabilityFlipsToTrue.Load(),
	}

	triggerCalls := snap.TriggerCalls
	if triggerCalls > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / triggerCalls
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.TriggersPerSecond = float64(triggerCalls) / uptimeSeconds
		snap.Bandwidth = float64(snap.BytesDrained) / uptimeSeconds
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if triggerCalls > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) via linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.TriggerCalls.Load()
	if total == 0 {
		return 0
	}

	targetCount := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range latencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return latencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes every counter and restarts StartTime. Useful in tests.
func (m *Metrics) Reset() {
	m.TriggerCalls.Store(0)
	m.WrittenCompletelyCount.Store(0)
	m.WrittenPartiallyCount.Store(0)
	m.WouldBlockCount.Store(0)
	m.ClosedCount.Store(0)
	m.NothingToWriteCount.Store(0)
	m.BytesDrained.Store(0)
	m.WritabilityFlipsToFalse.Store(0)
	m.WritabilityFlipsToTrue.Store(0)
	m.TotalLatencyNs.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer allows pluggable collection of engine events without coupling
// callers to the concrete Metrics type.
type Observer interface {
	ObserveTrigger(outcome WriteOutcome, latency time.Duration)
	ObserveDrainBytes(n int64)
	ObserveWritabilityFlip(toWritable bool)
}

// NoOpObserver discards every event.
type NoOpObserver struct{}

func (NoOpObserver) ObserveTrigger(WriteOutcome, time.Duration) {}
func (NoOpObserver) ObserveDrainBytes(int64)                    {}
func (NoOpObserver) ObserveWritabilityFlip(bool)                {}

// MetricsObserver routes Observer events into a Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver returns an Observer backed by m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveTrigger(outcome WriteOutcome, latency time.Duration) {
	o.metrics.RecordTrigger(outcome, latency)
}

func (o *MetricsObserver) ObserveDrainBytes(n int64) {
	o.metrics.RecordDrainBytes(n)
}

func (o *MetricsObserver) ObserveWritabilityFlip(toWritable bool) {
	o.metrics.RecordWritabilityFlip(toWritable)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
