package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/vicebridge/internal/dispatch"
	"github.com/mattjoyce/vicebridge/internal/protocol"
)

var _ dispatch.PerformanceSink = (*Profiler)(nil)

func TestProfilerCounts(t *testing.T) {
	p := New()

	p.CommandSent(protocol.CmdPing)
	p.CommandSent(protocol.CmdPing)
	p.CommandSent(protocol.CmdMemoryGet)
	p.ResponseReceived(protocol.RespPing, protocol.ErrorOK, 2*time.Millisecond)
	p.ResponseReceived(protocol.RespMemoryGet, protocol.ErrorInvalidParameter, time.Millisecond)
	p.CommandTimedOut(protocol.CmdMemoryGet)
	p.UnsolicitedReceived(protocol.RespStopped)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.commandsSent.WithLabelValues("ping")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.commandsSent.WithLabelValues(protocol.CmdMemoryGet.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.responses.WithLabelValues("ping", protocol.ErrorOK.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.responses.WithLabelValues(protocol.RespMemoryGet.String(), protocol.ErrorInvalidParameter.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.timeouts.WithLabelValues(protocol.CmdMemoryGet.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.unsolicited.WithLabelValues("stopped")))
	assert.Equal(t, 2, testutil.CollectAndCount(p.responseDuration))
}

func TestProfilerConnectedGauge(t *testing.T) {
	p := New()

	p.SetConnected(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.connected))
	p.SetConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(p.connected))
}

func TestProfilerQueueDepth(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := New(WithRegistry(reg), WithNamespace("test"))
	depth := 3
	p.TrackQueueDepth(func() int { return depth })

	expected := `
# HELP test_queue_depth Commands waiting to be sent
# TYPE test_queue_depth gauge
test_queue_depth 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_queue_depth"))
}

func TestProfilerConstLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := New(WithRegistry(reg), WithConstLabels(prometheus.Labels{"port": "6502"}))
	p.SetConnected(true)

	expected := `
# HELP vicebridge_connected 1 while a monitor session is established
# TYPE vicebridge_connected gauge
vicebridge_connected{port="6502"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "vicebridge_connected"))
}

func TestProfilerHandler(t *testing.T) {
	p := New(WithProcessCollectors())
	p.CommandSent(protocol.CmdInfo)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `vicebridge_commands_sent_total{command="info"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
