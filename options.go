package semcache

import (
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultCacheThreshold is the minimum similarity for a QA cache hit.
	// Deliberately low: the metric is not normalized against a fixed notion
	// of "same question", so this is a policy knob to tune per deployment.
	DefaultCacheThreshold = 0.05

	// DefaultDocThreshold is the minimum similarity for a document to count
	// as grounding evidence.
	DefaultDocThreshold = 0.4

	// DefaultDocTopK is how many documents a lookup collects for grounding.
	DefaultDocTopK = 3

	// DefaultRetrieveTimeout bounds one external retrieval call.
	DefaultRetrieveTimeout = 10 * time.Second
)

type options struct {
	cacheThreshold       float32
	docThreshold         float32
	docTopK              int
	cacheTopK            int
	stepTimeout          time.Duration
	retrieveTimeout      time.Duration
	cacheUngrounded      bool
	degradeOnLookupError bool
	retrieveLimiter      *rate.Limiter
	logger               *Logger
	metricsCollector     MetricsCollector
}

// Option configures Orchestrator behavior.
type Option func(*options)

// WithCacheThreshold sets the minimum similarity for a QA cache hit.
func WithCacheThreshold(threshold float32) Option {
	return func(o *options) {
		o.cacheThreshold = threshold
	}
}

// WithDocThreshold sets the minimum similarity for grounding documents.
//
// The cache and document thresholds are independent policy knobs; there is
// no derivation of one from the other.
func WithDocThreshold(threshold float32) Option {
	return func(o *options) {
		o.docThreshold = threshold
	}
}

// WithDocTopK sets how many documents a lookup collects for grounding.
func WithDocTopK(topK int) Option {
	return func(o *options) {
		if topK > 0 {
			o.docTopK = topK
		}
	}
}

// WithStepTimeout bounds each blocking step (embedding, lookups, generation).
// Zero disables per-step deadlines beyond the caller's context.
func WithStepTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.stepTimeout = timeout
	}
}

// WithRetrieveTimeout bounds one external retrieval call.
func WithRetrieveTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.retrieveTimeout = timeout
		}
	}
}

// WithCacheUngrounded controls whether answers generated without any
// documents are written back to the QA cache. Enabled by default; disable it
// to avoid caching low-quality ungrounded answers under real questions.
func WithCacheUngrounded(enabled bool) Option {
	return func(o *options) {
		o.cacheUngrounded = enabled
	}
}

// WithDegradeOnLookupError makes lookup-tier errors count as misses instead
// of failing the request. Off by default: an unreachable index surfaces as a
// failure unless explicitly configured otherwise.
func WithDegradeOnLookupError(enabled bool) Option {
	return func(o *options) {
		o.degradeOnLookupError = enabled
	}
}

// WithRetrieveLimiter rate-limits external retrieval calls across requests.
// Pass nil to disable limiting.
func WithRetrieveLimiter(limiter *rate.Limiter) Option {
	return func(o *options) {
		o.retrieveLimiter = limiter
	}
}

// WithLogger configures structured logging. Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// requests. Pass nil to disable metrics collection.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(o *options) {
		if collector == nil {
			collector = NoopMetricsCollector{}
		}
		o.metricsCollector = collector
	}
}

func defaultOptions() options {
	return options{
		cacheThreshold:       DefaultCacheThreshold,
		docThreshold:         DefaultDocThreshold,
		docTopK:              DefaultDocTopK,
		cacheTopK:            1,
		retrieveTimeout:      DefaultRetrieveTimeout,
		cacheUngrounded:      true,
		degradeOnLookupError: false,
		logger:               NoopLogger(),
		metricsCollector:     NoopMetricsCollector{},
	}
}
