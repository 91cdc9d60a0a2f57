package csrf

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/canyapan/fxsync/internal/errs"
)

// Recorder observes credential lifecycle events. Implementations must be safe
// for concurrent use.
type Recorder interface {
	CredentialFetched(err error)
	CredentialInvalidated(status int)
}

type nopRecorder struct{}

func (nopRecorder) CredentialFetched(error)   {}
func (nopRecorder) CredentialInvalidated(int) {}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithSingleFlight makes concurrent requests that find the Store invalid share
// one upstream fetch instead of each fetching on their own.
func WithSingleFlight() TransportOption {
	return func(t *Transport) {
		t.group = &singleflight.Group{}
	}
}

// WithRecorder reports fetches and invalidations to r.
func WithRecorder(r Recorder) TransportOption {
	return func(t *Transport) {
		if r != nil {
			t.recorder = r
		}
	}
}

// Transport is an http.RoundTripper that attaches the cached CSRF credential to
// mutating requests and clears the cache when the backend rejects a request.
type Transport struct {
	store    *Store
	fetcher  CredentialFetcher
	base     http.RoundTripper
	group    *singleflight.Group
	recorder Recorder
}

// Compile-time check that Transport implements http.RoundTripper.
var _ http.RoundTripper = (*Transport)(nil)

// NewTransport wraps base, which executes the request once credentials are
// attached. A nil base uses http.DefaultTransport.
func NewTransport(store *Store, fetcher CredentialFetcher, base http.RoundTripper, opts ...TransportOption) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	t := &Transport{
		store:    store,
		fetcher:  fetcher,
		base:     base,
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrip implements http.RoundTripper interface.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	out := req

	if requiresCredential(req.Method) {
		cred, err := t.credential(ctx)
		if err != nil {
			// RoundTrip must close the body even when it fails
			if req.Body != nil {
				_ = req.Body.Close()
			}
			return nil, err
		}

		out = req.Clone(ctx)
		out.Header.Set(HeaderToken, cred.Token)
		out.Header.Set("Cookie", strings.Join(cred.Cookies, "; "))
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, err
	}

	if rejectsCredential(resp.StatusCode) {
		t.store.Invalidate()
		t.recorder.CredentialInvalidated(resp.StatusCode)
		slog.WarnContext(ctx, "backend rejected csrf credential, cache invalidated",
			"method", req.Method,
			"path", req.URL.Path,
			"status", resp.StatusCode,
		)
	}

	return resp, nil
}

// credential returns the cached credential when valid, otherwise a freshly
// fetched one that has also been written to the Store.
func (t *Transport) credential(ctx context.Context) (Credential, error) {
	if cred, ok := t.store.Snapshot(); ok {
		return cred, nil
	}

	if t.group == nil {
		return t.refresh(ctx)
	}

	// Shared fetch must not fail for every waiter when the first caller goes away
	v, err, shared := t.group.Do("credential", func() (any, error) {
		// A flight that finished since our snapshot already refreshed the store
		if cred, ok := t.store.Snapshot(); ok {
			return cred, nil
		}
		return t.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return Credential{}, err
	}
	if shared {
		slog.DebugContext(ctx, "joined in-flight csrf fetch")
	}
	return v.(Credential), nil
}

func (t *Transport) refresh(ctx context.Context) (Credential, error) {
	slog.DebugContext(ctx, "fetching csrf token")

	cred, err := t.fetcher.Fetch(ctx)
	t.recorder.CredentialFetched(err)
	if err != nil {
		slog.ErrorContext(ctx, "csrf token fetch failed", "error", err)
		if !errors.Is(err, errs.KindCredentialUnavailable) {
			err = errs.New(errs.KindCredentialUnavailable, opFetch, err)
		}
		return Credential{}, err
	}

	t.store.Update(cred.Token, cred.Cookies)
	return cred, nil
}

// requiresCredential reports whether the method is a write verb.
func requiresCredential(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// rejectsCredential reports whether status means the credential is no longer accepted.
func rejectsCredential(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
