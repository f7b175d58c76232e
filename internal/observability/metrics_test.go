package observability

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// testMetrics is shared across the package's tests: NewMetrics registers
// with the default Prometheus registry, and a second registration of the
// same metric names panics.
var (
	testMetricsOnce sync.Once
	testMetrics     *Metrics
)

func sharedMetrics() *Metrics {
	testMetricsOnce.Do(func() { testMetrics = NewMetrics() })
	return testMetrics
}

func TestRecordLLMRequestCountsTokens(t *testing.T) {
	m := sharedMetrics()
	m.RecordLLMRequest("anthropic", "claude-sonnet-4-20250514", "success", 1.5, 120, 40)

	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "success")); got != 1 {
		t.Errorf("request counter = %v", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "prompt")); got != 120 {
		t.Errorf("prompt tokens = %v", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-20250514", "completion")); got != 40 {
		t.Errorf("completion tokens = %v", got)
	}
}

func TestRecordLLMCostIgnoresNonPositive(t *testing.T) {
	m := sharedMetrics()
	m.RecordLLMCost("venice", "llama-3.3-70b", 0)
	m.RecordLLMCost("venice", "llama-3.3-70b", 0.02)
	if got := testutil.ToFloat64(m.LLMCost.WithLabelValues("venice", "llama-3.3-70b")); got != 0.02 {
		t.Errorf("cost = %v", got)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := sharedMetrics()
	m.RecordToolExecution("shell", "success", 0.2)
	m.RecordToolExecution("shell", "error", 0.1)
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("shell", "success")); got != 1 {
		t.Errorf("success count = %v", got)
	}
	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("shell", "error")); got != 1 {
		t.Errorf("error count = %v", got)
	}
}

func TestRecordTurnOutcomes(t *testing.T) {
	m := sharedMetrics()
	m.RecordTurn("continue")
	m.RecordTurn("continue")
	m.RecordTurn("done")
	if got := testutil.ToFloat64(m.ReasoningTurns.WithLabelValues("continue")); got != 2 {
		t.Errorf("continue turns = %v", got)
	}
	if got := testutil.ToFloat64(m.ReasoningTurns.WithLabelValues("done")); got != 1 {
		t.Errorf("done turns = %v", got)
	}
}

func TestCacheHitRateTracksRunningRatio(t *testing.T) {
	m := sharedMetrics()
	m.RecordCacheLookup("openai", true)
	m.RecordCacheLookup("openai", false)
	m.RecordCacheLookup("openai", true)
	m.RecordCacheLookup("openai", true)

	if got := testutil.ToFloat64(m.CacheHitRate.WithLabelValues("openai")); got != 0.75 {
		t.Errorf("hit rate = %v, want 0.75", got)
	}
	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("openai", "hit")); got != 3 {
		t.Errorf("hits = %v", got)
	}
}

func TestBreakerStateGauge(t *testing.T) {
	m := sharedMetrics()
	m.SetBreakerState("bedrock", "open")
	if got := testutil.ToFloat64(m.BreakerState.WithLabelValues("bedrock")); got != 2 {
		t.Errorf("open = %v", got)
	}
	m.SetBreakerState("bedrock", "half_open")
	if got := testutil.ToFloat64(m.BreakerState.WithLabelValues("bedrock")); got != 1 {
		t.Errorf("half_open = %v", got)
	}
	m.SetBreakerState("bedrock", "closed")
	if got := testutil.ToFloat64(m.BreakerState.WithLabelValues("bedrock")); got != 0 {
		t.Errorf("closed = %v", got)
	}
}

func TestConcurrentCacheLookups(t *testing.T) {
	m := sharedMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(hit bool) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordCacheLookup("concurrent", hit)
			}
		}(i%2 == 0)
	}
	wg.Wait()
	if got := testutil.ToFloat64(m.CacheHitRate.WithLabelValues("concurrent")); got != 0.5 {
		t.Errorf("hit rate = %v, want 0.5", got)
	}
}
