package csrf

import (
	"slices"
	"sync"
	"time"
)

// DefaultMaxAge is how long a fetched credential is trusted without a rejection.
const DefaultMaxAge = 10 * time.Minute

// Credential is a CSRF token together with the session cookies it is bound to.
type Credential struct {
	Token      string
	Cookies    []string
	AcquiredAt time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock replaces time.Now as the Store's time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store holds at most one Credential. Expiry is evaluated on every query;
// an expired Credential stays readable until it is overwritten or invalidated.
// Safe for concurrent use.
type Store struct {
	maxAge time.Duration
	now    func() time.Time

	mu   sync.Mutex
	cred *Credential
}

// NewStore creates an empty Store. A non-positive maxAge falls back to DefaultMaxAge.
func NewStore(maxAge time.Duration, opts ...StoreOption) *Store {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	s := &Store{
		maxAge: maxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxAge returns the configured credential lifetime.
func (s *Store) MaxAge() time.Duration {
	return s.maxAge
}

// Valid reports whether a Credential is held and younger than MaxAge.
func (s *Store) Valid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validLocked()
}

func (s *Store) validLocked() bool {
	return s.cred != nil && s.now().Before(s.cred.AcquiredAt.Add(s.maxAge))
}

// Update replaces the held Credential and stamps it with the current time.
func (s *Store) Update(token string, cookies []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = &Credential{
		Token:      token,
		Cookies:    slices.Clone(cookies),
		AcquiredAt: s.now(),
	}
}

// Invalidate drops the held Credential.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
}

// Token returns the held token regardless of expiry.
func (s *Store) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return "", false
	}
	return s.cred.Token, true
}

// Cookies returns a copy of the held session cookies regardless of expiry.
func (s *Store) Cookies() ([]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return nil, false
	}
	return slices.Clone(s.cred.Cookies), true
}

// Snapshot returns a copy of the held Credential and whether it is currently
// valid, both observed under a single lock.
func (s *Store) Snapshot() (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return Credential{}, false
	}
	c := *s.cred
	c.Cookies = slices.Clone(c.Cookies)
	return c, s.validLocked()
}
