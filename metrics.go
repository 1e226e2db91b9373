package semcache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordAsk is called after each request. source is the answer origin,
	// duration is the total time taken, err is nil if successful.
	RecordAsk(source Source, duration time.Duration, err error)

	// RecordStep is called after each state machine step.
	RecordStep(step State, duration time.Duration, err error)

	// RecordWriteBack is called after each cache write-back attempt.
	RecordWriteBack(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAsk(Source, time.Duration, error) {}
func (NoopMetricsCollector) RecordStep(State, time.Duration, error) {}
func (NoopMetricsCollector) RecordWriteBack(time.Duration, error)   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AskCount        atomic.Int64
	AskErrors       atomic.Int64
	AskTotalNanos   atomic.Int64
	CacheHits       atomic.Int64
	Grounded        atomic.Int64
	External        atomic.Int64
	Ungrounded      atomic.Int64
	StepCount       atomic.Int64
	StepErrors      atomic.Int64
	WriteBackCount  atomic.Int64
	WriteBackErrors atomic.Int64
}

// RecordAsk implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAsk(source Source, duration time.Duration, err error) {
	b.AskCount.Add(1)
	b.AskTotalNanos.Add(duration.Nanoseconds())

	if err != nil {
		b.AskErrors.Add(1)

		return
	}

	switch source {
	case SourceCache:
		b.CacheHits.Add(1)
	case SourceGrounded:
		b.Grounded.Add(1)
	case SourceExternal:
		b.External.Add(1)
	case SourceUngrounded:
		b.Ungrounded.Add(1)
	}
}

// RecordStep implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStep(_ State, _ time.Duration, err error) {
	b.StepCount.Add(1)
	if err != nil {
		b.StepErrors.Add(1)
	}
}

// RecordWriteBack implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWriteBack(_ time.Duration, err error) {
	b.WriteBackCount.Add(1)
	if err != nil {
		b.WriteBackErrors.Add(1)
	}
}

// BasicMetricsStats is a snapshot of collected metrics.
type BasicMetricsStats struct {
	AskCount        int64
	AskErrors       int64
	AskAvgNanos     int64
	CacheHits       int64
	Grounded        int64
	External        int64
	Ungrounded      int64
	WriteBackCount  int64
	WriteBackErrors int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	stats := BasicMetricsStats{
		AskCount:        b.AskCount.Load(),
		AskErrors:       b.AskErrors.Load(),
		CacheHits:       b.CacheHits.Load(),
		Grounded:        b.Grounded.Load(),
		External:        b.External.Load(),
		Ungrounded:      b.Ungrounded.Load(),
		WriteBackCount:  b.WriteBackCount.Load(),
		WriteBackErrors: b.WriteBackErrors.Load(),
	}

	if stats.AskCount > 0 {
		stats.AskAvgNanos = b.AskTotalNanos.Load() / stats.AskCount
	}

	return stats
}
