package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/canyapan/fxsync/internal/backendauth"
	"github.com/canyapan/fxsync/internal/csrf"
	"github.com/canyapan/fxsync/internal/observability"
	"github.com/canyapan/fxsync/internal/s4hana"
	"github.com/canyapan/fxsync/internal/secretstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// SecretStorageType represents the storage backends supported for backend secrets.
type SecretStorageType string

const (
	SecretStorageTypeFile    SecretStorageType = "file"
	SecretStorageTypeEnv     SecretStorageType = "env"
	SecretStorageTypeKeyring SecretStorageType = "keyring"
)

// Default configuration values
const (
	DefaultConfigLogFormat         = LogFormatText
	DefaultConfigLogExporter       = observability.ExporterNone
	DefaultConfigServerHost        = "127.0.0.1"
	DefaultConfigServerPort        = 8080
	DefaultConfigShutdownTimeout   = 5 * time.Second
	DefaultConfigFXTimeout         = 10 * time.Second
	DefaultConfigS4HanaTimeout     = 30 * time.Second
	DefaultConfigCSRFPath          = s4hana.ServicePath
	DefaultConfigCSRFMaxTokenAge   = csrf.DefaultMaxAge
	DefaultConfigAuthMethod        = backendauth.MethodNone
	DefaultConfigAuthSecretStorage = SecretStorageTypeFile
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// FXConfig holds FX rates API configuration.
type FXConfig struct {
	BaseURL string        `json:"base_url" validate:"required,url"`
	Timeout time.Duration `json:"timeout" validate:"gte=0"`
}

// CSRFConfig controls the CSRF credential cache.
type CSRFConfig struct {
	// Path of the token-issuing endpoint, relative to the S/4HANA base URL.
	Path string `json:"path" validate:"required,startswith=/"`
	// MaxTokenAge is how long a fetched token is reused without a rejection.
	MaxTokenAge time.Duration `json:"max_token_age" validate:"gt=0"`
	// SingleFlight collapses concurrent token fetches into one upstream call.
	SingleFlight bool `json:"single_flight"`
}

// AuthConfig describes how requests to S/4HANA are authenticated and where
// the secret for that comes from.
type AuthConfig struct {
	Method backendauth.Method `json:"method" validate:"required,oneof=none basic oauth"`

	User     string   `json:"user,omitempty"`      // basic
	ClientID string   `json:"client_id,omitempty"` // oauth
	TokenURL string   `json:"token_url,omitempty" validate:"omitempty,url"`
	Scopes   []string `json:"scopes,omitempty"`

	// Secret storage, unused for method none
	Storage     SecretStorageType `json:"storage" validate:"omitempty,oneof=file env keyring"`
	File        string            `json:"file,omitempty"`
	EnvKey      string            `json:"env_key,omitempty"`
	KeyringUser string            `json:"keyring_user,omitempty"`
}

// BackendAuth converts the configuration for backendauth.NewTransport.
func (a *AuthConfig) BackendAuth() backendauth.Config {
	return backendauth.Config{
		Method:   a.Method,
		User:     a.User,
		ClientID: a.ClientID,
		TokenURL: a.TokenURL,
		Scopes:   a.Scopes,
	}
}

// NewSecretStore creates the SecretStore selected by the configuration.
func (a *AuthConfig) NewSecretStore() (secretstore.SecretStore, error) {
	switch a.Storage {
	case SecretStorageTypeFile:
		return secretstore.NewFileStore(a.File)
	case SecretStorageTypeEnv:
		return secretstore.NewEnvStore(a.EnvKey)
	case SecretStorageTypeKeyring:
		return secretstore.NewKeyringStore(secretstore.KeyringService, a.KeyringUser)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", a.Storage)
	}
}

// S4HanaConfig holds S/4HANA backend configuration.
type S4HanaConfig struct {
	BaseURL   string        `json:"base_url" validate:"required,url"`
	Timeout   time.Duration `json:"timeout" validate:"gte=0"`
	// SAPClient pins every request to one client (Mandant), e.g. "100".
	SAPClient string        `json:"sap_client,omitempty" validate:"omitempty,numeric,len=3"`
	Language  string        `json:"language,omitempty" validate:"omitempty,alpha,len=2"`
	CSRF      CSRFConfig    `json:"csrf"`
	Auth      AuthConfig    `json:"auth"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel    slog.Level             `json:"log_level"`
	LogFormat   LogFormat              `json:"log_format" validate:"oneof=text json"`
	LogExporter observability.Exporter `json:"log_exporter" validate:"oneof=none stdout otlp-http otlp-grpc"`
	Server      ServerConfig           `json:"server"`
	Shutdown    ShutdownConfig         `json:"shutdown"`
	FX          FXConfig               `json:"fx"`
	S4Hana      S4HanaConfig           `json:"s4hana"`
	Metrics     MetricsConfig          `json:"metrics"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.LogExporter == "" {
		c.LogExporter = DefaultConfigLogExporter
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.FX.Timeout == 0 {
		c.FX.Timeout = DefaultConfigFXTimeout
	}
	if c.S4Hana.Timeout == 0 {
		c.S4Hana.Timeout = DefaultConfigS4HanaTimeout
	}
	if c.S4Hana.CSRF.Path == "" {
		c.S4Hana.CSRF.Path = DefaultConfigCSRFPath
	}
	if c.S4Hana.CSRF.MaxTokenAge == 0 {
		c.S4Hana.CSRF.MaxTokenAge = DefaultConfigCSRFMaxTokenAge
	}

	auth := &c.S4Hana.Auth
	if auth.Method == "" {
		auth.Method = DefaultConfigAuthMethod
	}
	if auth.Method == backendauth.MethodNone {
		return nil
	}
	if auth.Storage == "" {
		auth.Storage = DefaultConfigAuthSecretStorage
	}

	// Dynamic defaults based on storage type
	switch auth.Storage {
	case SecretStorageTypeFile:
		if auth.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("s4hana.auth.file required (auto-detect failed: %w)", err)
			}
			auth.File = filepath.Join(configDir, "fxsync", "s4hana-secret")
		}
	case SecretStorageTypeKeyring:
		if auth.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("s4hana.auth.keyring_user required (auto-detect failed: %w)", err)
			}
			auth.KeyringUser = currentUser.Username
		}
	case SecretStorageTypeEnv:
		// env_key must be explicitly configured (no sensible default)
	}

	return nil
}

// Validate validates the configuration using struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	auth := c.S4Hana.Auth
	switch auth.Method {
	case backendauth.MethodNone:
		return nil
	case backendauth.MethodBasic:
		if auth.User == "" {
			return errors.New("s4hana.auth.user required for basic authentication")
		}
	case backendauth.MethodOAuth:
		if auth.ClientID == "" || auth.TokenURL == "" {
			return errors.New("s4hana.auth.client_id and s4hana.auth.token_url required for oauth authentication")
		}
	}

	switch auth.Storage {
	case SecretStorageTypeFile:
		if auth.File == "" {
			return errors.New("file path required for file storage")
		}
	case SecretStorageTypeEnv:
		if auth.EnvKey == "" {
			return errors.New("env_key required for env storage")
		}
	case SecretStorageTypeKeyring:
		if auth.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	default:
		return fmt.Errorf("s4hana.auth.storage required for %s authentication", auth.Method)
	}

	return nil
}
