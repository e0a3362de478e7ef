package chat

import (
	"net"
	"net/http"
	"time"
)

// newDefaultHTTPClient configures transport-level timeouts while leaving the
// overall request lifetime to context deadlines.
//
// http.Client.Timeout is intentionally unset because streaming exchanges are
// long-lived; callers cancel via the per-exchange context instead.
func newDefaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &http.Client{Transport: transport}
}
