package observability

import (
	"testing"

	"github.com/danmuck/extbridge/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	before := counterValue(t, dispatchMessages.WithLabelValues("metrics-test", "EvalScript"))
	RecordDispatch("metrics-test", "EvalScript", 24)
	RecordDispatch("metrics-test", "EvalScript", 0)
	RecordTermination("metrics-test", "protocol_violation")
	RecordSend("metrics-test", "Reply")

	if got := counterValue(t, dispatchMessages.WithLabelValues("metrics-test", "EvalScript")); got != before+2 {
		t.Fatalf("unexpected dispatch count %v", got)
	}
	if got := counterValue(t, dispatchTerminations.WithLabelValues("metrics-test", "protocol_violation")); got < 1 {
		t.Fatalf("termination not recorded")
	}
}
