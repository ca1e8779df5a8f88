// Package source holds the HTTP plumbing shared by the upstream scrapers.
package source

import (
	"io"
	"net"
	"net/http"
	"time"

	"github.com/JakeFAU/risk-screener/internal/resilience"
)

// DefaultUserAgent identifies the screener to upstreams that require a browser-like agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// maxErrorBody bounds how much of a failed response is drained.
const maxErrorBody = 64 << 10

// NewTransport returns a pooled transport tuned for slow public endpoints.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// NewHTTPClient builds a client that stamps userAgent on every request. Per-call
// deadlines come from the request context; timeout is a last-resort cap.
func NewHTTPClient(timeout time.Duration, userAgent string) *http.Client {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &userAgentTransport{base: NewTransport(), userAgent: userAgent},
	}
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(clone)
}

// CheckStatus converts a non-2xx response into a *resilience.StatusError and
// releases its body. A nil return leaves the body for the caller.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	DrainAndClose(resp)
	return &resilience.StatusError{StatusCode: resp.StatusCode, URL: resp.Request.URL.Redacted()}
}

// DrainAndClose discards a bounded amount of the body so the connection can be reused.
func DrainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}
