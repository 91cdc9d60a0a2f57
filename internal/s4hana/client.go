// Package s4hana writes exchange rates to the S/4HANA exchange rate OData service.
//
// Writes are plain POSTs; the CSRF handshake is done by the csrf.Transport the
// HTTP client is built on.
package s4hana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/canyapan/fxsync/internal/errs"
	"github.com/canyapan/fxsync/internal/fx"
)

const (
	// ServicePath is the exchange rate OData service, also used to fetch CSRF tokens.
	ServicePath = "/API_EXCHANGE_RATE_SRV"
	// EntitySetPath receives new exchange rate entries.
	EntitySetPath = ServicePath + "/A_ExchangeRate"

	// rateTypeAverage is the S/4HANA exchange rate type for average (mid) rates.
	rateTypeAverage = "M"

	opSend = "s4hana send exchange rate"
)

// exchangeRateEntry is the A_ExchangeRate entity payload.
type exchangeRateEntry struct {
	ExchangeRateType  string      `json:"ExchangeRateType"`
	SourceCurrency    string      `json:"SourceCurrency"`
	TargetCurrency    string      `json:"TargetCurrency"`
	ExchangeRate      json.Number `json:"ExchangeRate"`
	ValidityStartDate string      `json:"ValidityStartDate"`
}

// Client talks to the S/4HANA OData API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient creates a Client for the OData root at baseURL. httpClient should
// route through a csrf.Transport; a nil client uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid s4hana base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid s4hana base URL %q: scheme and host required", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: u, httpClient: httpClient}, nil
}

// URL resolves path against the configured OData root.
func (c *Client) URL(path string) string {
	return c.baseURL.JoinPath(path).String()
}

// SendExchangeRate creates an average-rate entry valid from the rate's date.
func (c *Client) SendExchangeRate(ctx context.Context, rate fx.ExchangeRate) error {
	if rate.Base == "" || rate.Target == "" || rate.Mid == "" || rate.Timestamp.IsZero() {
		return errs.Newf(errs.KindInvalidInput, opSend, "exchange rate or its properties cannot be empty")
	}

	payload, err := json.Marshal(exchangeRateEntry{
		ExchangeRateType:  rateTypeAverage,
		SourceCurrency:    rate.Base,
		TargetCurrency:    rate.Target,
		ExchangeRate:      rate.Mid,
		ValidityStartDate: rate.Timestamp.Format("2006-01-02"),
	})
	if err != nil {
		return errs.New(errs.KindInvalidInput, opSend, fmt.Errorf("encoding payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(EntitySetPath), bytes.NewReader(payload))
	if err != nil {
		return errs.New(errs.KindDownstreamFailed, opSend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if _, ok := errs.KindOf(err); ok {
			return fmt.Errorf("%s: %w", opSend, err)
		}
		return errs.New(errs.KindDownstreamFailed, opSend, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errs.Newf(errs.KindDownstreamRejected, opSend, "backend rejected request with status %d", resp.StatusCode)
	default:
		return errs.Newf(errs.KindDownstreamFailed, opSend, "unexpected status %d", resp.StatusCode)
	}
}
