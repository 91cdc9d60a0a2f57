package secretstore

import "context"

// SecretStore reads and writes a single secret.
type SecretStore interface {
	// Read returns the stored secret. Returns error if it is missing or empty.
	Read(ctx context.Context) (string, error)

	// Write persists the secret. Returns error if the backend is read-only.
	Write(ctx context.Context, secret string) error
}
