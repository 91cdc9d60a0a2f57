// Package secretstore keeps the secrets used to authenticate against the
// S/4HANA backend: a basic-auth password or an OAuth client secret.
//
// Three backends with different tradeoffs:
//   - File: 0600 file written atomically (temp file + rename)
//   - Env: read-only environment variable, for externally managed secrets
//   - Keyring: OS credential storage (macOS Keychain, Windows Credential Manager, Secret Service)
//
// The "secret set" command needs a writable backend (file or keyring).
package secretstore
