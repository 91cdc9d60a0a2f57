// Package backendauth authenticates outbound requests to the S/4HANA backend.
//
// The returned http.RoundTripper sits below the CSRF transport so that both
// the token fetch and the writes carry the caller's identity:
//
//	auth, err := backendauth.NewTransport(cfg, secrets, http.DefaultTransport)
//	client := &http.Client{Transport: csrf.NewTransport(store, fetcher, auth)}
//
// # Methods
//
//   - none: requests are passed through unchanged
//   - basic: HTTP basic auth with a password read from a secretstore.SecretStore
//   - oauth: OAuth2 client credentials grant with the client secret read from a
//     secretstore.SecretStore; access tokens are cached and renewed by oauth2
//
// Secrets are read on the first request, not at construction, so a missing
// secret surfaces as a request error instead of a startup failure.
package backendauth
