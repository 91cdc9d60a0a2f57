package csrf

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/canyapan/fxsync/internal/errs"
)

// roundTripperFunc adapts a function to http.RoundTripper.
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// countingFetcher returns a fixed credential and counts calls.
type countingFetcher struct {
	calls atomic.Int32
	token string
	err   error
	delay time.Duration
}

func (f *countingFetcher) Fetch(ctx context.Context) (Credential, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return Credential{}, f.err
	}
	token := f.token
	if token == "" {
		token = "token-" + string(rune('0'+n))
	}
	return Credential{Token: token, Cookies: []string{"_session=session-cookie"}}, nil
}

// recordingBase captures outgoing requests and answers with a fixed status.
type recordingBase struct {
	mu     sync.Mutex
	status int
	reqs   []*http.Request
}

func (b *recordingBase) RoundTrip(req *http.Request) (*http.Response, error) {
	b.mu.Lock()
	b.reqs = append(b.reqs, req)
	status := b.status
	b.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    req,
	}, nil
}

func (b *recordingBase) last() *http.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reqs[len(b.reqs)-1]
}

func (b *recordingBase) setStatus(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
}

type countingRecorder struct {
	fetched     atomic.Int32
	failed      atomic.Int32
	invalidated atomic.Int32
}

func (r *countingRecorder) CredentialFetched(err error) {
	if err != nil {
		r.failed.Add(1)
		return
	}
	r.fetched.Add(1)
}

func (r *countingRecorder) CredentialInvalidated(int) { r.invalidated.Add(1) }

func newRequest(t *testing.T, method string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, "http://s4.example/odata/API_EXCHANGE_RATE_SRV/A_ExchangeRate", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	return req
}

func roundTrip(t *testing.T, rt http.RoundTripper, method string) *http.Response {
	t.Helper()
	resp, err := rt.RoundTrip(newRequest(t, method))
	if err != nil {
		t.Fatalf("RoundTrip(%s) error = %v", method, err)
	}
	_ = resp.Body.Close()
	return resp
}

func TestTransportFetchesOnEmptyStore(t *testing.T) {
	store := NewStore(time.Minute)
	fetcher := &countingFetcher{token: "fetched-token"}
	base := &recordingBase{}
	tr := NewTransport(store, fetcher, base)

	roundTrip(t, tr, http.MethodPost)

	if n := fetcher.calls.Load(); n != 1 {
		t.Fatalf("fetch calls = %d, want 1", n)
	}
	out := base.last()
	if got := out.Header.Get(HeaderToken); got != "fetched-token" {
		t.Errorf("%s = %q, want fetched-token", HeaderToken, got)
	}
	if got := out.Header.Get("Cookie"); got != "_session=session-cookie" {
		t.Errorf("Cookie = %q, want _session=session-cookie", got)
	}
	if !store.Valid() {
		t.Error("store not valid after fetch")
	}
	if token, _ := store.Token(); token != "fetched-token" {
		t.Errorf("stored token = %q", token)
	}
}

func TestTransportReusesValidCredential(t *testing.T) {
	store := NewStore(time.Minute)
	store.Update("cached-token", []string{"a=1", "b=2"})
	fetcher := &countingFetcher{}
	base := &recordingBase{}
	tr := NewTransport(store, fetcher, base)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		roundTrip(t, tr, method)

		out := base.last()
		if got := out.Header.Get(HeaderToken); got != "cached-token" {
			t.Errorf("%s: %s = %q, want cached-token", method, HeaderToken, got)
		}
		if got := out.Header.Get("Cookie"); got != "a=1; b=2" {
			t.Errorf("%s: Cookie = %q, want %q", method, got, "a=1; b=2")
		}
	}

	if n := fetcher.calls.Load(); n != 0 {
		t.Errorf("fetch calls = %d, want 0", n)
	}
}

func TestTransportRefetchesExpiredCredential(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(10*time.Minute, WithClock(clock.Now))
	store.Update("old-token", []string{"old=1"})
	clock.Advance(30 * time.Minute)

	fetcher := &countingFetcher{token: "new-token"}
	base := &recordingBase{}
	tr := NewTransport(store, fetcher, base)

	roundTrip(t, tr, http.MethodPost)

	if n := fetcher.calls.Load(); n != 1 {
		t.Fatalf("fetch calls = %d, want 1", n)
	}
	if got := base.last().Header.Get(HeaderToken); got != "new-token" {
		t.Errorf("%s = %q, want new-token", HeaderToken, got)
	}
	cookies, _ := store.Cookies()
	if len(cookies) != 1 || cookies[0] != "_session=session-cookie" {
		t.Errorf("expired cookies were merged instead of overwritten: %v", cookies)
	}
}

func TestTransportInvalidatesOnRejection(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			store := NewStore(time.Minute)
			store.Update("cached-token", []string{"_session=session-cookie"})
			fetcher := &countingFetcher{token: "fresh-token"}
			base := &recordingBase{status: status}
			rec := &countingRecorder{}
			tr := NewTransport(store, fetcher, base, WithRecorder(rec))

			resp := roundTrip(t, tr, http.MethodPost)

			if resp.StatusCode != status {
				t.Errorf("status = %d, want %d returned unchanged", resp.StatusCode, status)
			}
			if got := base.last().Header.Get(HeaderToken); got != "cached-token" {
				t.Errorf("%s = %q, want cached-token attached before rejection", HeaderToken, got)
			}
			if store.Valid() {
				t.Error("store still valid after rejection")
			}
			if _, ok := store.Token(); ok {
				t.Error("token still present after rejection")
			}
			if n := rec.invalidated.Load(); n != 1 {
				t.Errorf("invalidations recorded = %d, want 1", n)
			}

			base.setStatus(http.StatusCreated)
			roundTrip(t, tr, http.MethodPost)

			if n := fetcher.calls.Load(); n != 1 {
				t.Errorf("fetch calls after rejection = %d, want 1", n)
			}
			if got := base.last().Header.Get(HeaderToken); got != "fresh-token" {
				t.Errorf("%s = %q, want fresh-token", HeaderToken, got)
			}
		})
	}
}

func TestTransportOtherStatusesKeepCredential(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError} {
		store := NewStore(time.Minute)
		store.Update("cached-token", []string{"c=1"})
		tr := NewTransport(store, &countingFetcher{}, &recordingBase{status: status})

		roundTrip(t, tr, http.MethodPost)

		if !store.Valid() {
			t.Errorf("status %d invalidated the store", status)
		}
	}
}

func TestTransportNonMutatingRequests(t *testing.T) {
	store := NewStore(time.Minute)
	fetcher := &countingFetcher{}
	base := &recordingBase{}
	tr := NewTransport(store, fetcher, base)

	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		roundTrip(t, tr, method)

		out := base.last()
		if out.Header.Get(HeaderToken) != "" || out.Header.Get("Cookie") != "" {
			t.Errorf("%s: credential headers attached: %v", method, out.Header)
		}
	}
	if n := fetcher.calls.Load(); n != 0 {
		t.Errorf("fetch calls = %d, want 0", n)
	}
}

func TestTransportNonMutatingRejectionInvalidates(t *testing.T) {
	store := NewStore(time.Minute)
	store.Update("cached-token", []string{"c=1"})
	tr := NewTransport(store, &countingFetcher{}, &recordingBase{status: http.StatusForbidden})

	roundTrip(t, tr, http.MethodGet)

	if store.Valid() {
		t.Error("403 on GET did not invalidate the store")
	}
}

func TestTransportDoesNotMutateCallerRequest(t *testing.T) {
	store := NewStore(time.Minute)
	tr := NewTransport(store, &countingFetcher{token: "t"}, &recordingBase{})

	req := newRequest(t, http.MethodPost)
	resp, err := tr.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip() error = %v", err)
	}
	_ = resp.Body.Close()

	if req.Header.Get(HeaderToken) != "" || req.Header.Get("Cookie") != "" {
		t.Errorf("caller request was modified: %v", req.Header)
	}
}

func TestTransportFetchFailure(t *testing.T) {
	tests := []struct {
		name     string
		fetchErr error
	}{
		{"classified", errs.Newf(errs.KindCredentialUnavailable, opFetch, "no session")},
		{"plain", errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(time.Minute)
			base := &recordingBase{}
			rec := &countingRecorder{}
			tr := NewTransport(store, &countingFetcher{err: tt.fetchErr}, base, WithRecorder(rec))

			resp, err := tr.RoundTrip(newRequest(t, http.MethodPost))
			if err == nil {
				_ = resp.Body.Close()
				t.Fatal("expected error")
			}
			if !errors.Is(err, errs.KindCredentialUnavailable) {
				t.Errorf("error = %v, want kind %s", err, errs.KindCredentialUnavailable)
			}
			if !errors.Is(err, tt.fetchErr) {
				t.Errorf("error %v does not wrap fetch error", err)
			}
			if len(base.reqs) != 0 {
				t.Error("request executed despite fetch failure")
			}
			if _, ok := store.Token(); ok {
				t.Error("store modified by failed fetch")
			}
			if n := rec.failed.Load(); n != 1 {
				t.Errorf("failed fetches recorded = %d, want 1", n)
			}
		})
	}
}

func TestTransportFetchFailureKeepsPreviousCredential(t *testing.T) {
	clock := newFakeClock()
	store := NewStore(time.Minute, WithClock(clock.Now))
	store.Update("old-token", []string{"old=1"})
	clock.Advance(2 * time.Minute)

	tr := NewTransport(store, &countingFetcher{err: errors.New("down")}, &recordingBase{})
	if _, err := tr.RoundTrip(newRequest(t, http.MethodPost)); err == nil {
		t.Fatal("expected error")
	}

	if token, ok := store.Token(); !ok || token != "old-token" {
		t.Errorf("Token() = %q, %v; failed fetch must leave the store untouched", token, ok)
	}
}

func TestTransportConcurrentFetches(t *testing.T) {
	tests := []struct {
		name      string
		opts      []TransportOption
		wantExact int32
	}{
		// Without deduplication every request that sees an empty store fetches
		{name: "duplicate fetches", opts: nil, wantExact: 0},
		{name: "single flight", opts: []TransportOption{WithSingleFlight()}, wantExact: 1},
	}

	const workers = 16

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(time.Minute)
			fetcher := &countingFetcher{token: "shared", delay: 50 * time.Millisecond}
			base := &recordingBase{}
			tr := NewTransport(store, fetcher, base, tt.opts...)

			var wg sync.WaitGroup
			start := make(chan struct{})
			errCh := make(chan error, workers)
			for range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					req, _ := http.NewRequest(http.MethodPost, "http://s4.example/write", nil)
					resp, err := tr.RoundTrip(req)
					if err != nil {
						errCh <- err
						return
					}
					_ = resp.Body.Close()
				}()
			}
			close(start)
			wg.Wait()
			close(errCh)

			for err := range errCh {
				t.Fatalf("RoundTrip() error = %v", err)
			}

			calls := fetcher.calls.Load()
			if calls < 1 || calls > workers {
				t.Errorf("fetch calls = %d, want between 1 and %d", calls, workers)
			}
			if tt.wantExact > 0 && calls != tt.wantExact {
				t.Errorf("fetch calls = %d, want %d", calls, tt.wantExact)
			}

			base.mu.Lock()
			defer base.mu.Unlock()
			for _, req := range base.reqs {
				if req.Header.Get(HeaderToken) != "shared" {
					t.Errorf("request carried %q", req.Header.Get(HeaderToken))
				}
			}
			if !store.Valid() {
				t.Error("store not valid after concurrent fetches")
			}
		})
	}
}

func TestTransportAgainstBackend(t *testing.T) {
	var fetches, writes atomic.Int32
	var rejectNext atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("GET /odata/API_EXCHANGE_RATE_SRV", func(w http.ResponseWriter, r *http.Request) {
		n := fetches.Add(1)
		if r.Header.Get(HeaderToken) != FetchTokenValue {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set(HeaderToken, "token-"+string(rune('0'+n)))
		http.SetCookie(w, &http.Cookie{Name: "_session", Value: "s" + string(rune('0'+n))})
	})
	mux.HandleFunc("POST /odata/API_EXCHANGE_RATE_SRV/A_ExchangeRate", func(w http.ResponseWriter, r *http.Request) {
		writes.Add(1)
		if rejectNext.Swap(false) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		c, err := r.Cookie("_session")
		if err != nil || r.Header.Get(HeaderToken) == "" || c.Value[1:] != r.Header.Get(HeaderToken)[len("token-"):] {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := NewStore(time.Minute)
	fetcher := NewFetcher(srv.URL+"/odata/API_EXCHANGE_RATE_SRV", srv.Client())
	client := &http.Client{Transport: NewTransport(store, fetcher, srv.Client().Transport)}

	post := func() int {
		t.Helper()
		resp, err := client.Post(srv.URL+"/odata/API_EXCHANGE_RATE_SRV/A_ExchangeRate", "application/json", strings.NewReader("{}"))
		if err != nil {
			t.Fatalf("POST error = %v", err)
		}
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	if got := post(); got != http.StatusCreated {
		t.Fatalf("first POST status = %d", got)
	}
	if got := post(); got != http.StatusCreated {
		t.Fatalf("second POST status = %d", got)
	}
	if n := fetches.Load(); n != 1 {
		t.Fatalf("fetches after two writes = %d, want 1", n)
	}

	rejectNext.Store(true)
	if got := post(); got != http.StatusForbidden {
		t.Fatalf("rejected POST status = %d, want 403", got)
	}
	if got := post(); got != http.StatusCreated {
		t.Fatalf("POST after rejection status = %d", got)
	}
	if n := fetches.Load(); n != 2 {
		t.Errorf("fetches = %d, want 2", n)
	}
	if n := writes.Load(); n != 4 {
		t.Errorf("writes = %d, want 4", n)
	}
}
