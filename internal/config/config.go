// Package config loads TALLYVIEW_* environment settings.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/rsclarke/tallyview/internal/crypt"
	"github.com/rsclarke/tallyview/internal/errdefs"
)

// Prefix is the environment variable prefix.
const Prefix = "TALLYVIEW"

// Config holds process settings. Command-line flags default from it.
type Config struct {
	DBPath    string `envconfig:"DB" default:"tallyview.db"`
	MasterKey string `envconfig:"MASTER_KEY"`

	APIPort   int `envconfig:"API_PORT" default:"8081"`
	HTTPPort  int `envconfig:"HTTP_PORT" default:"8080"`
	HTTPSPort int `envconfig:"HTTPS_PORT" default:"8443"`

	// PublicURL is the base of magic links handed to customers.
	PublicURL   string        `envconfig:"PUBLIC_URL" default:"http://localhost:8080"`
	SessionTTL  time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	CatalogFile string        `envconfig:"CATALOG_FILE"`
	AlertBelow  int           `envconfig:"ALERT_BELOW" default:"3"`

	TLSCertFile string `envconfig:"TLS_CERT"`
	TLSKeyFile  string `envconfig:"TLS_KEY"`

	ACME ACME `envconfig:"ACME"`

	// APIURL and APIKey are used by the CLI client.
	APIURL string `envconfig:"API_URL" default:"http://localhost:8081"`
	APIKey string `envconfig:"API_KEY"`
}

// ACME holds automatic certificate settings.
type ACME struct {
	Enabled bool   `envconfig:"ENABLED"`
	Domain  string `envconfig:"DOMAIN"`
	Email   string `envconfig:"EMAIL"`
	Staging bool   `envconfig:"STAGING"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.ACME.Enabled && cfg.ACME.Domain == "" {
		return nil, fmt.Errorf("%w: %s_ACME_DOMAIN is required when ACME is enabled", errdefs.ErrConfiguration, Prefix)
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("%w: %s_SESSION_TTL must be positive", errdefs.ErrConfiguration, Prefix)
	}
	return cfg, nil
}

// Default returns the configuration used when the environment is empty.
func Default() *Config {
	return &Config{
		DBPath:     "tallyview.db",
		APIPort:    8081,
		HTTPPort:   8080,
		HTTPSPort:  8443,
		PublicURL:  "http://localhost:8080",
		SessionTTL: 24 * time.Hour,
		AlertBelow: 3,
		APIURL:     "http://localhost:8081",
	}
}

// Key decodes the master key. A missing or malformed key is a
// configuration error.
func (c *Config) Key() ([]byte, error) {
	if c.MasterKey == "" {
		return nil, fmt.Errorf("%w: %s_MASTER_KEY is not set", errdefs.ErrConfiguration, Prefix)
	}
	return crypt.ParseMasterKey(c.MasterKey)
}
