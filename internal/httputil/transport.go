package httputil

import (
	"crypto/tls"
	"net/http"
	"time"
)

// DefaultTransportWithMinTLS12 returns an *http.Transport cloned from
// http.DefaultTransport with a minimum TLS version of 1.2. Outbound clients
// that talk to secondary nodes or upstream blocklist sources should use this
// instead of the zero-value transport.
func DefaultTransportWithMinTLS12() http.RoundTripper {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		base = &http.Transport{}
	}
	clone := base.Clone()
	if clone.TLSClientConfig == nil {
		clone.TLSClientConfig = &tls.Config{}
	} else {
		clone.TLSClientConfig = clone.TLSClientConfig.Clone()
	}
	if clone.TLSClientConfig.MinVersion < tls.VersionTLS12 {
		clone.TLSClientConfig.MinVersion = tls.VersionTLS12
	}
	return clone
}

// CopyHTTPClientWithTimeout returns a new *http.Client derived from base
// (or a fresh one if base is nil) with timeout applied. The original client
// is never mutated. If force is false, an already non-zero timeout on base
// is preserved; if force is true, or the base has no timeout set, timeout
// is applied unconditionally.
func CopyHTTPClientWithTimeout(base *http.Client, timeout time.Duration, force bool) *http.Client {
	if base == nil {
		return &http.Client{Timeout: timeout}
	}

	clone := *base
	if force || clone.Timeout == 0 {
		clone.Timeout = timeout
	}
	return &clone
}
