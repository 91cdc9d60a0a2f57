package s4hana

import (
	"net/http"
)

// allowedHeaders are the request headers forwarded to S/4HANA. Everything
// else a caller sets (User-Agent, proxy headers) is dropped so the gateway
// sees the same shape of request for token fetches and writes.
var allowedHeaders = map[string]bool{
	"Content-Type":   true,
	"Content-Length": true,
	"Accept":         true,
	"Authorization":  true,
	"Cookie":         true,
	"X-Csrf-Token":   true,

	// W3C Trace Context.
	"Traceparent": true,
	"Tracestate":  true,
}

// ClientTransport is an http.RoundTripper that pins requests to one SAP
// client (Mandant) and filters request headers.
type ClientTransport struct {
	// SAPClient is sent as the sap-client query parameter. Empty uses the
	// system's default client.
	SAPClient string
	// Language is sent as the sap-language query parameter when set.
	Language string

	Base http.RoundTripper
}

// Compile-time check that ClientTransport implements http.RoundTripper.
var _ http.RoundTripper = (*ClientTransport)(nil)

// RoundTrip implements http.RoundTripper interface.
func (t *ClientTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	newReq := req.Clone(req.Context())

	newReq.Header = make(http.Header, len(req.Header))
	for key, values := range req.Header {
		if allowedHeaders[http.CanonicalHeaderKey(key)] {
			newReq.Header[key] = values
		}
	}
	if newReq.Header.Get("Accept") == "" {
		newReq.Header.Set("Accept", "application/json")
	}

	if t.SAPClient != "" || t.Language != "" {
		q := newReq.URL.Query()
		if t.SAPClient != "" {
			q.Set("sap-client", t.SAPClient)
		}
		if t.Language != "" {
			q.Set("sap-language", t.Language)
		}
		newReq.URL.RawQuery = q.Encode()
	}

	return base.RoundTrip(newReq)
}
