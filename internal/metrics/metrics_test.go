package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocstransfer/internal/models"
	"ocstransfer/internal/services/charging"
	"ocstransfer/internal/services/sweeper"
	"ocstransfer/internal/services/transfer"
)

var (
	_ transfer.MetricsCollector = (*Metrics)(nil)
	_ charging.Observer         = (*Metrics)(nil)
)

func find(t *testing.T, m *Metrics, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if labelsMatch(metric, labels) {
				return metric
			}
		}
	}
	return nil
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, l := range m.GetLabel() {
		got[l.GetName()] = l.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestRecordOutcome(t *testing.T) {
	m := NewMetrics()
	m.RecordOutcome("event", models.StatusSucceeded, 0)
	m.RecordOutcome("event", models.StatusSucceeded, 0)
	m.RecordOutcome("event", "", 4)

	ok := find(t, m, "ocs_transfer_orchestrator_transfers_total", map[string]string{"status": "Succeeded", "code": "0"})
	require.NotNil(t, ok)
	assert.Equal(t, 2.0, ok.GetCounter().GetValue())

	rejected := find(t, m, "ocs_transfer_orchestrator_transfers_total", map[string]string{"status": "Rejected", "code": "4"})
	require.NotNil(t, rejected)
	assert.Equal(t, 1.0, rejected.GetCounter().GetValue())
}

func TestGatewayAndSweepMetrics(t *testing.T) {
	m := NewMetrics()
	m.ObserveGatewayCall(charging.OpReserve, charging.ResultTimeout, 2*time.Second)
	m.RecordSweep(sweeper.Report{Scanned: 3, Settled: 2, Skipped: 1}, time.Second)

	calls := find(t, m, "ocs_transfer_gateway_calls_total", map[string]string{"operation": charging.OpReserve, "result": "timeout"})
	require.NotNil(t, calls)
	assert.Equal(t, 1.0, calls.GetCounter().GetValue())

	latency := find(t, m, "ocs_transfer_gateway_call_duration_seconds", map[string]string{"operation": charging.OpReserve})
	require.NotNil(t, latency)
	assert.Equal(t, uint64(1), latency.GetHistogram().GetSampleCount())

	settled := find(t, m, "ocs_transfer_sweeper_rows_total", map[string]string{"result": "settled"})
	require.NotNil(t, settled)
	assert.Equal(t, 2.0, settled.GetCounter().GetValue())
	assert.Nil(t, find(t, m, "ocs_transfer_sweeper_rows_total", map[string]string{"result": "failed"}))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := NewMetrics()
	m.RecordStep("reserve", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `ocs_transfer_orchestrator_steps_total{result="ok",step="reserve"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
