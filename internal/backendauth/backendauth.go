package backendauth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/canyapan/fxsync/internal/secretstore"
)

// Method selects how requests are authenticated.
type Method string

const (
	MethodNone  Method = "none"
	MethodBasic Method = "basic"
	MethodOAuth Method = "oauth"
)

// tokenRequestTimeout bounds token endpoint calls; oauth2 does not take a per-call context.
const tokenRequestTimeout = 30 * time.Second

// Config describes the authentication applied to backend requests.
type Config struct {
	Method Method

	// User is the basic auth user name.
	User string

	// ClientID, TokenURL and Scopes configure the client credentials grant.
	ClientID string
	TokenURL string
	Scopes   []string
}

// NewTransport wraps base with the configured authentication. secrets may be
// nil only for MethodNone.
func NewTransport(cfg Config, secrets secretstore.SecretStore, base http.RoundTripper) (http.RoundTripper, error) {
	if base == nil {
		base = http.DefaultTransport
	}

	switch cfg.Method {
	case MethodNone, "":
		return base, nil
	case MethodBasic:
		if cfg.User == "" {
			return nil, fmt.Errorf("basic auth requires a user")
		}
		if secrets == nil {
			return nil, fmt.Errorf("basic auth requires a secret store")
		}
		return &BasicAuthTransport{
			User:     cfg.User,
			Password: newLazySecret(secrets),
			Base:     base,
		}, nil
	case MethodOAuth:
		if cfg.ClientID == "" || cfg.TokenURL == "" {
			return nil, fmt.Errorf("oauth requires client_id and token_url")
		}
		if secrets == nil {
			return nil, fmt.Errorf("oauth requires a secret store")
		}
		return &oauth2.Transport{
			Source: NewClientCredentialsSource(cfg, newLazySecret(secrets), base),
			Base:   base,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported authentication method: %s", cfg.Method)
	}
}

// BasicAuthTransport sets HTTP basic auth on every request.
type BasicAuthTransport struct {
	User     string
	Password func(ctx context.Context) (string, error)
	Base     http.RoundTripper
}

// Compile-time check that BasicAuthTransport implements http.RoundTripper.
var _ http.RoundTripper = (*BasicAuthTransport)(nil)

// RoundTrip implements http.RoundTripper interface.
func (t *BasicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	password, err := t.Password(req.Context())
	if err != nil {
		if req.Body != nil {
			_ = req.Body.Close()
		}
		return nil, fmt.Errorf("reading backend password: %w", err)
	}

	newReq := req.Clone(req.Context())
	newReq.SetBasicAuth(t.User, password)

	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(newReq)
}

// ClientCredentialsSource is an oauth2.TokenSource for the client credentials
// grant whose client secret is resolved on first use.
type ClientCredentialsSource struct {
	cfg    Config
	secret func(ctx context.Context) (string, error)
	base   http.RoundTripper

	mu     sync.Mutex
	source oauth2.TokenSource
}

// Compile-time check to ensure ClientCredentialsSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*ClientCredentialsSource)(nil)

// NewClientCredentialsSource creates a ClientCredentialsSource. No I/O is
// performed until the first Token call.
func NewClientCredentialsSource(cfg Config, secret func(ctx context.Context) (string, error), base http.RoundTripper) *ClientCredentialsSource {
	return &ClientCredentialsSource{
		cfg:    cfg,
		secret: secret,
		base:   base,
	}
}

// Token returns a valid access token, requesting a new one when the cached token expired.
func (s *ClientCredentialsSource) Token() (*oauth2.Token, error) {
	ts, err := s.tokenSource()
	if err != nil {
		return nil, err
	}

	token, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("getting token from token source: %w", err)
	}
	return token, nil
}

func (s *ClientCredentialsSource) tokenSource() (oauth2.TokenSource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source != nil {
		return s.source, nil
	}

	// oauth2.TokenSource.Token() has no context parameter
	ctx := context.Background()

	clientSecret, err := s.secret(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading client secret: %w", err)
	}

	ccConfig := &clientcredentials.Config{
		ClientID:     s.cfg.ClientID,
		ClientSecret: clientSecret,
		TokenURL:     s.cfg.TokenURL,
		Scopes:       s.cfg.Scopes,
	}

	// oauth2 picks up a custom HTTP client from the context it was built with
	httpClient := &http.Client{
		Timeout:   tokenRequestTimeout,
		Transport: s.base,
	}
	oauthCtx := context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	s.source = ccConfig.TokenSource(oauthCtx)

	return s.source, nil
}

// newLazySecret reads the secret once it is first needed and caches it.
// Failed reads are not cached so a secret provisioned later is picked up.
func newLazySecret(store secretstore.SecretStore) func(ctx context.Context) (string, error) {
	var (
		mu     sync.Mutex
		secret string
	)
	return func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()

		if secret != "" {
			return secret, nil
		}
		s, err := store.Read(ctx)
		if err != nil {
			return "", err
		}
		secret = s
		return secret, nil
	}
}
