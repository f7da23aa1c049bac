package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	m := New()

	m.LoginStarted()
	m.LoginCompleted(nil)
	m.LoginCompleted(errors.New("boom"))
	m.Refreshed(nil)
	m.OboCacheHit("foo")
	m.OboCacheHit("foo")
	m.OboExchanged("foo", nil)
	m.OboExchanged("bar", errors.New("boom"))
	m.ProxyDenied("foo", http.StatusUnauthorized)

	assert.InDelta(t, 1, testutil.ToFloat64(m.logins.WithLabelValues("started", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.logins.WithLabelValues("completed", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.refreshes.WithLabelValues("ok")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.oboRequests.WithLabelValues("foo", "hit")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.oboRequests.WithLabelValues("bar", "failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.proxyDenials.WithLabelValues("foo", "401")), 0)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.LoginStarted()
		m.LoginCompleted(nil)
		m.Refreshed(errors.New("boom"))
		m.OboCacheHit("foo")
		m.OboExchanged("foo", nil)
		m.ProxyDenied("foo", http.StatusInternalServerError)
	})
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := New()
	m.OboExchanged("foo", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/internal/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `auth_proxy_obo_tokens_total{app="foo",result="exchanged"} 1`)
}
