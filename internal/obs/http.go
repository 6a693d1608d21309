package obs

import (
	"net/http"
	"time"
)

// LoggingTransport emits one structured event per outbound request.
type LoggingTransport struct {
	Base http.RoundTripper
	Pkg  string
}

// RoundTrip implements http.RoundTripper.
func (t *LoggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	start := time.Now()
	resp, err := base.RoundTrip(r)
	durMS := float64(time.Since(start).Microseconds()) / 1000.0

	l := From(r.Context()).With("pkg", t.Pkg)
	if err != nil {
		l.Warn(
			"http_request_failed",
			"method", r.Method,
			"url", r.URL.Redacted(),
			"dur_ms", durMS,
			"error", err.Error(),
		)
		return nil, err
	}

	l.Debug(
		"http_request",
		"method", r.Method,
		"url", r.URL.Redacted(),
		"status", resp.StatusCode,
		"dur_ms", durMS,
		"resp_bytes", resp.ContentLength,
	)
	return resp, nil
}

// NewHTTPClient returns a client whose requests are logged under pkg.
func NewHTTPClient(pkg string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &LoggingTransport{Pkg: pkg},
	}
}
