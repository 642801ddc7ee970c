// internal/common/http/client.go
package http

import (
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tourism-assistant/internal/common/metrics"
)

// Config tunes the client used for embedding backends.
type Config struct {
	// Name labels the outbound request metrics.
	Name                string
	Timeout             time.Duration
	MaxIdleConnsPerHost int
	UserAgent           string
}

// NewClient returns an *http.Client with a pooled transport, a User-Agent and
// request metrics labelled by cfg.Name.
func NewClient(cfg Config) *http.Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 16
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConnsPerHost * 4,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	labels := prometheus.Labels{"client": cfg.Name}
	var rt http.RoundTripper = userAgent{next: transport, value: cfg.UserAgent}
	rt = promhttp.InstrumentRoundTripperCounter(metrics.OutboundRequests.MustCurryWith(labels), rt)
	rt = promhttp.InstrumentRoundTripperDuration(metrics.OutboundRequestDuration.MustCurryWith(labels), rt)

	return &http.Client{Timeout: cfg.Timeout, Transport: rt}
}

type userAgent struct {
	next  http.RoundTripper
	value string
}

func (u userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	if u.value == "" || req.Header.Get("User-Agent") != "" {
		return u.next.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", u.value)
	return u.next.RoundTrip(req)
}
