package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())
	require.NoError(t, m.Register())
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.Register())

	m.ObserveEvent("ok", 10*time.Millisecond)
	m.ObserveEvent("ok", 10*time.Millisecond)
	m.ObserveInvocation("horoscope_calc", "error", time.Millisecond)
	m.Diagnostic("translation_missing", "hi")
	m.SetDegraded("ai_reading", true)
	m.SessionsExpired(3)
	m.Delivery("telegram", "ok")

	require.Equal(t, 2.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.invocationsTotal.WithLabelValues("horoscope_calc", "error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.diagnosticsTotal.WithLabelValues("translation_missing", "hi")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.degradedServices.WithLabelValues("ai_reading")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.sessionsExpired))
	require.Equal(t, 1.0, testutil.ToFloat64(m.deliveriesTotal.WithLabelValues("telegram", "ok")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NoError(t, m.Register())
	m.ObserveEvent("ok", time.Second)
	m.Conflict("retried")
	m.BundleRefresh(false)
	m.Delivery("whatsapp", "error")
}
