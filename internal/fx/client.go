// Package fx reads exchange rates from the FX rates API.
package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/canyapan/fxsync/internal/errs"
)

const opRate = "fx rate"

// ExchangeRate is the latest mid rate between two currencies.
type ExchangeRate struct {
	Base      string      `json:"base"`
	Target    string      `json:"target"`
	Date      string      `json:"date"`
	Mid       json.Number `json:"mid"`
	Unit      int         `json:"unit"`
	Timestamp time.Time   `json:"timestamp"`
}

// rateResponse is the envelope returned by the rates endpoint.
type rateResponse struct {
	StatusCode *int          `json:"status_code"`
	Data       *ExchangeRate `json:"data"`
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// Client queries the FX rates API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient creates a Client for the API at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid fx base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid fx base URL %q: scheme and host required", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Rate returns the latest rate for base/target.
func (c *Client) Rate(ctx context.Context, base, target string) (ExchangeRate, error) {
	endpoint := c.baseURL.JoinPath("rates", base, target, "latest")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return ExchangeRate{}, errs.New(errs.KindRateUnavailable, opRate, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ExchangeRate{}, errs.New(errs.KindRateUnavailable, opRate, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return ExchangeRate{}, errs.Newf(errs.KindRateUnavailable, opRate, "unexpected status %d", resp.StatusCode)
	}

	var body rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return ExchangeRate{}, errs.New(errs.KindRateUnavailable, opRate, fmt.Errorf("decoding response: %w", err))
	}

	if body.StatusCode == nil || body.Data == nil {
		return ExchangeRate{}, errs.Newf(errs.KindRateUnavailable, opRate, "null response from fx service")
	}
	if *body.StatusCode != http.StatusOK {
		return ExchangeRate{}, errs.Newf(errs.KindRateUnavailable, opRate, "non-success status_code %d from fx service", *body.StatusCode)
	}

	rate := *body.Data
	if rate.Base == "" {
		rate.Base = strings.ToUpper(base)
	}
	if rate.Target == "" {
		rate.Target = strings.ToUpper(target)
	}
	return rate, nil
}
