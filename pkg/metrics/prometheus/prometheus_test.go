package prometheus

import (
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittopam/pkg/metrics"
)

// The registry is process-wide, so the collectors are created once.
func TestCollectors(t *testing.T) {
	assert.Nil(t, metrics.NewPAMMetrics())

	metrics.InitRegistry()
	pm := metrics.NewPAMMetrics()
	sm := metrics.NewStoreMetrics()
	require.NotNil(t, pm)
	require.NotNil(t, sm)

	pm.RecordRequest("AUTHENTICATE", "PAM_SUCCESS", 3*time.Millisecond)
	pm.RecordRequest("AUTHENTICATE", "PAM_SUCCESS", time.Millisecond)
	pm.RecordRequestStart("ACCT_MGMT")
	pm.RecordConnectionAccepted()
	pm.RecordConnectionForceClosed()
	pm.SetActiveConnections(3)
	pm.RecordProviderCall("authenticate", "krb5", "offline", time.Second)
	pm.RecordCacheAuth("success")
	pm.RecordNegativeCacheHit()
	sm.RecordStoreOperation("badger", "get_user", "not_found", time.Millisecond)

	impl := pm.(*pamMetrics)
	assert.Equal(t, 2.0, testutil.ToFloat64(impl.requests.WithLabelValues("AUTHENTICATE", "PAM_SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.inFlight.WithLabelValues("ACCT_MGMT")))
	assert.Equal(t, 3.0, testutil.ToFloat64(impl.activeConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.connections.WithLabelValues("force_closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.providerCalls.WithLabelValues("authenticate", "krb5", "offline")))
	assert.Equal(t, 1.0, testutil.ToFloat64(impl.negcacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(sm.(*storeMetrics).operations.WithLabelValues("badger", "get_user", "not_found")))

	srv := metrics.NewServer(metrics.ServerConfig{Address: "127.0.0.1", Port: freePort(t)})
	ctx := t.Context()
	go func() { _ = srv.Start(ctx) }()

	var body string
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + srv.Addr() + "/metrics")
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		data, _ := io.ReadAll(resp.Body)
		body = string(data)
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)
	assert.True(t, strings.Contains(body, "dittopam_requests_total"))
	assert.True(t, strings.Contains(body, "dittopam_store_operations_total"))
	assert.NoError(t, srv.Stop(ctx))
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}
