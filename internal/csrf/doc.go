// Package csrf guards write requests to a CSRF-protected OData backend.
//
// The backend issues a token and a session cookie on a GET carrying
// "x-csrf-token: Fetch". Every POST, PUT, PATCH and DELETE must echo both back.
// This package keeps that pair in a time-bounded Store, obtains fresh pairs
// with a Fetcher, and attaches them from a Transport that wraps any
// http.RoundTripper:
//
//	store := csrf.NewStore(10 * time.Minute)
//	fetcher := csrf.NewFetcher(baseURL+"/API_EXCHANGE_RATE_SRV", &http.Client{Transport: base})
//	client := &http.Client{Transport: csrf.NewTransport(store, fetcher, base)}
//
// A 401 or 403 from the backend clears the Store so the next write fetches a
// new pair. The current response is still returned to the caller.
//
// # Concurrent fetches
//
// Requests that find the Store invalid at the same time each fetch on their
// own and the last Update wins. WithSingleFlight collapses those fetches into
// one upstream call.
package csrf
