// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Auth modes accepted in SF_AUTH_MODE.
const (
	AuthPassword = "password"
	AuthJWT      = "jwt"
)

// Config holds sfschema configuration.
type Config struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Salesforce
	SFLoginURL       string
	SFTokenURL       string // optional; discovered from SFLoginURL when empty
	SFAuthMode       string // "password" or "jwt"
	SFClientID       string
	SFClientSecret   string
	SFUsername       string
	SFPassword       string
	SFSecurityToken  string
	SFPrivateKeyFile string // PEM RSA key for the jwt auth mode
	SFAPIVersion     string

	// Storage backend ("s3" or "local", default: "s3")
	StorageBackend   string
	LocalStoragePath string

	// S3 storage
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool

	// Layout
	Folder    string
	Version   string
	CachePath string

	// History (optional)
	DatabaseURL string

	// Metrics (optional)
	PushgatewayURL string
}

// Load reads configuration from environment variables with defaults.
// It does not validate; each command calls the Validate method it needs.
func Load() (*Config, error) {
	cfg := &Config{
		LogLevel:         envOr("LOG_LEVEL", "info"),
		LogFormat:        envOr("LOG_FORMAT", "json"),
		SFLoginURL:       envOr("SF_LOGIN_URL", "https://login.salesforce.com"),
		SFTokenURL:       envOr("SF_TOKEN_URL", ""),
		SFAuthMode:       strings.ToLower(envOr("SF_AUTH_MODE", AuthPassword)),
		SFClientID:       envOr("SF_CLIENT_ID", ""),
		SFClientSecret:   envOr("SF_CLIENT_SECRET", ""),
		SFUsername:       envOr("SF_USERNAME", ""),
		SFPassword:       envOr("SF_PASSWORD", ""),
		SFSecurityToken:  envOr("SF_SECURITY_TOKEN", ""),
		SFPrivateKeyFile: envOr("SF_PRIVATE_KEY_FILE", ""),
		SFAPIVersion:     envOr("SF_API_VERSION", "59.0"),
		StorageBackend:   envOr("STORAGE_BACKEND", "s3"),
		LocalStoragePath: envOr("LOCAL_STORAGE_PATH", "./blobs"),
		S3Endpoint:       envOr("S3_ENDPOINT", ""),
		S3Bucket:         envOr("S3_BUCKET", ""),
		S3AccessKey:      envOr("S3_ACCESS_KEY", ""),
		S3SecretKey:      envOr("S3_SECRET_KEY", ""),
		S3Region:         envOr("S3_REGION", "us-east-1"),
		S3UseSSL:         envBool("S3_USE_SSL", true),
		Folder:           envOr("SCHEMA_FOLDER", "schemas"),
		Version:          envOr("SCHEMA_VERSION", ""),
		CachePath:        envOr("CACHE_PATH", "./.schemas"),
		DatabaseURL:      envOr("DATABASE_URL", ""),
		PushgatewayURL:   envOr("METRICS_PUSHGATEWAY", ""),
	}

	switch cfg.StorageBackend {
	case "s3", "local":
	default:
		return nil, fmt.Errorf("STORAGE_BACKEND must be s3 or local, got %q", cfg.StorageBackend)
	}

	return cfg, nil
}

// ValidateStorage checks the settings every command needs.
func (c *Config) ValidateStorage() error {
	if c.Version == "" {
		return fmt.Errorf("SCHEMA_VERSION is required")
	}
	if c.StorageBackend == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required for the s3 backend")
	}
	return nil
}

// ValidateExport checks the settings the export command needs.
func (c *Config) ValidateExport() error {
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	return c.ValidateSalesforce()
}

// ValidateSalesforce checks the credentials for the selected auth mode.
func (c *Config) ValidateSalesforce() error {
	if c.SFClientID == "" {
		return fmt.Errorf("SF_CLIENT_ID is required")
	}
	if c.SFUsername == "" {
		return fmt.Errorf("SF_USERNAME is required")
	}

	switch c.SFAuthMode {
	case AuthPassword:
		if c.SFPassword == "" {
			return fmt.Errorf("SF_PASSWORD is required for password auth")
		}
	case AuthJWT:
		if c.SFPrivateKeyFile == "" {
			return fmt.Errorf("SF_PRIVATE_KEY_FILE is required for jwt auth")
		}
	default:
		return fmt.Errorf("SF_AUTH_MODE must be %s or %s, got %q", AuthPassword, AuthJWT, c.SFAuthMode)
	}
	return nil
}

// ValidateFetch checks the settings the fetch command needs.
func (c *Config) ValidateFetch() error {
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	if c.CachePath == "" {
		return fmt.Errorf("CACHE_PATH is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
