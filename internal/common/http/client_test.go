package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tourism-assistant/internal/common/metrics"
)

func TestNewClient_SetsUserAgentAndRecordsMetrics(t *testing.T) {
	var gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	client := NewClient(Config{Name: "client-test", Timeout: time.Second, UserAgent: "tourism-assistant/test"})
	before := testutil.ToFloat64(metrics.OutboundRequests.WithLabelValues("client-test", "418", "get"))

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "tourism-assistant/test", gotAgent)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.OutboundRequests.WithLabelValues("client-test", "418", "get")))
}

func TestNewClient_KeepsCallerUserAgent(t *testing.T) {
	var gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	client := NewClient(Config{UserAgent: "ignored"})
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "sdk/1.0")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "sdk/1.0", gotAgent)
	assert.Equal(t, 30*time.Second, client.Timeout)
}
