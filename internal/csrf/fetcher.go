package csrf

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/canyapan/fxsync/internal/errs"
)

const (
	// HeaderToken carries the CSRF token in both directions.
	HeaderToken = "x-csrf-token"
	// FetchTokenValue asks the backend to issue a new token.
	FetchTokenValue = "Fetch"

	opFetch = "csrf fetch"
)

// CredentialFetcher obtains a fresh Credential from the backend.
type CredentialFetcher interface {
	Fetch(ctx context.Context) (Credential, error)
}

// Fetcher requests a new token and session from the backend's token-issuing
// endpoint. It holds no state between calls.
type Fetcher struct {
	endpoint string
	client   *http.Client
}

// Compile-time check to ensure Fetcher implements CredentialFetcher
var _ CredentialFetcher = (*Fetcher)(nil)

// NewFetcher creates a Fetcher for the given endpoint URL. The client must not
// route through a Transport sharing the same Store; a nil client uses
// http.DefaultClient.
func NewFetcher(endpoint string, client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		endpoint: endpoint,
		client:   client,
	}
}

// Fetch performs one GET against the token endpoint. The returned Credential
// has a non-empty token and at least one cookie in name=value form.
// AcquiredAt is left zero; the Store stamps it on Update.
func (f *Fetcher) Fetch(ctx context.Context) (Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return Credential{}, errs.New(errs.KindCredentialUnavailable, opFetch, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set(HeaderToken, FetchTokenValue)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Credential{}, errs.New(errs.KindCredentialUnavailable, opFetch, err)
	}
	defer func() { _ = resp.Body.Close() }()
	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credential{}, errs.Newf(errs.KindCredentialUnavailable, opFetch, "unexpected status %d", resp.StatusCode)
	}

	token := resp.Header.Get(HeaderToken)
	cookies := cookiePairs(resp.Cookies())
	if token == "" || len(cookies) == 0 {
		return Credential{}, errs.Newf(errs.KindCredentialUnavailable, opFetch, "could not receive a CSRF token or session")
	}

	return Credential{Token: token, Cookies: cookies}, nil
}

// cookiePairs reduces Set-Cookie entries to the name=value form sent back in a Cookie header.
func cookiePairs(cookies []*http.Cookie) []string {
	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		pairs = append(pairs, (&http.Cookie{Name: c.Name, Value: c.Value}).String())
	}
	return pairs
}
