package observability

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Metrics register with the default Prometheus registry, so all tests share
// one instance.
var (
	testMetricsOnce sync.Once
	testMetrics     *Metrics
)

func sharedMetrics() *Metrics {
	testMetricsOnce.Do(func() {
		testMetrics = NewMetrics()
	})
	return testMetrics
}

func TestRecordAgentStep(t *testing.T) {
	m := sharedMetrics()

	before := testutil.ToFloat64(m.AgentStepCounter.WithLabelValues("coder"))
	m.RecordAgentStep("coder")
	after := testutil.ToFloat64(m.AgentStepCounter.WithLabelValues("coder"))

	if after-before != 1 {
		t.Errorf("step counter delta = %v, want 1", after-before)
	}
}

func TestRecordCredits(t *testing.T) {
	m := sharedMetrics()

	before := testutil.ToFloat64(m.CreditsConsumed.WithLabelValues("llm"))
	m.RecordCredits("llm", 42)
	m.RecordCredits("llm", 0)
	m.RecordCredits("llm", -5)
	after := testutil.ToFloat64(m.CreditsConsumed.WithLabelValues("llm"))

	if after-before != 42 {
		t.Errorf("credits delta = %v, want 42 (zero and negative ignored)", after-before)
	}
}

func TestRecordToolExecution(t *testing.T) {
	m := sharedMetrics()

	before := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("read_files", "success"))
	m.RecordToolExecution("read_files", "success", 0.25)
	after := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("read_files", "success"))

	if after-before != 1 {
		t.Errorf("tool counter delta = %v, want 1", after-before)
	}
}

func TestActiveGauges(t *testing.T) {
	m := sharedMetrics()

	base := testutil.ToFloat64(m.ActivePrompts)
	m.PromptStarted()
	m.PromptStarted()
	m.PromptEnded()
	if got := testutil.ToFloat64(m.ActivePrompts); got-base != 1 {
		t.Errorf("active prompts delta = %v, want 1", got-base)
	}

	connBase := testutil.ToFloat64(m.ActiveConnections)
	m.ConnectionOpened()
	m.ConnectionClosed()
	if got := testutil.ToFloat64(m.ActiveConnections); got != connBase {
		t.Errorf("active connections = %v, want %v", got, connBase)
	}
}

func TestRecordGateRejection(t *testing.T) {
	m := sharedMetrics()

	before := testutil.ToFloat64(m.GateRejections.WithLabelValues("insufficient_credits"))
	m.RecordGateRejection("insufficient_credits")
	after := testutil.ToFloat64(m.GateRejections.WithLabelValues("insufficient_credits"))

	if after-before != 1 {
		t.Errorf("gate rejection delta = %v, want 1", after-before)
	}
}
