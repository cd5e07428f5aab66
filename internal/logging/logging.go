// Package logging builds the process logger and defines the structured
// field helpers used across packages.
package logging

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the log level and encoding.
type Config struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

// FromEnv reads TALLYVIEW_LOG_LEVEL and TALLYVIEW_LOG_FORMAT. Unset or
// unparsable values fall back to info level JSON output.
func FromEnv() Config {
	var cfg Config
	if err := envconfig.Process("TALLYVIEW", &cfg); err != nil {
		return Config{Level: "info", Format: "json"}
	}
	return cfg
}

// New builds a logger from cfg. JSON output uses zap's production settings
// and console output its development settings.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	var zcfg zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zcfg = zap.NewProductionConfig()
	case "console":
		zcfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("log format: unknown format %q", cfg.Format)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "tallyview")), nil
}

// Sync flushes buffered entries, ignoring errors.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// Port returns a zap field for the port number.
func Port(port int) zap.Field { return zap.Int("port", port) }

// Addr returns a zap field for an address.
func Addr(addr string) zap.Field { return zap.String("addr", addr) }

// Domain returns a zap field for a domain name.
func Domain(domain string) zap.Field { return zap.String("domain", domain) }

// TLSMode returns a zap field for TLS mode.
func TLSMode(mode string) zap.Field { return zap.String("tls_mode", mode) }

// RemoteIP returns a zap field for a remote IP address.
func RemoteIP(ip string) zap.Field { return zap.String("remote_ip", ip) }

// Method returns a zap field for an HTTP method.
func Method(method string) zap.Field { return zap.String("method", method) }

// Path returns a zap field for a URL path.
func Path(path string) zap.Field { return zap.String("path", path) }

// Status returns a zap field for an HTTP status code.
func Status(code int) zap.Field { return zap.Int("status", code) }

// TenantID returns a zap field for a tenant identifier.
func TenantID(id string) zap.Field { return zap.String("tenant_id", id) }

// CredentialID returns a zap field for a credential identifier.
func CredentialID(id string) zap.Field { return zap.String("credential_id", id) }

// PrefixHint returns a zap field for the non-secret leading fragment of a key.
func PrefixHint(hint string) zap.Field { return zap.String("prefix_hint", hint) }

// Reason returns a zap field for a failure reason.
func Reason(reason string) zap.Field { return zap.String("reason", reason) }

// IntegrationType returns a zap field for an integration type.
func IntegrationType(typ string) zap.Field { return zap.String("integration_type", typ) }

// CampaignID returns a zap field for a campaign identifier.
func CampaignID(id int64) zap.Field { return zap.Int64("campaign_id", id) }

// CampaignToken returns a zap field for a magic-link token.
func CampaignToken(token string) zap.Field { return zap.String("campaign_token", token) }

// VisitID returns a zap field for a routing session's visit identifier.
func VisitID(id string) zap.Field { return zap.String("visit_id", id) }

// State returns a zap field for a routing state.
func State(state string) zap.Field { return zap.String("state", state) }

// Rating returns a zap field for a satisfaction rating.
func Rating(r int) zap.Field { return zap.Int("rating", r) }

// OutcomeType returns a zap field for a terminal outcome type.
func OutcomeType(typ string) zap.Field { return zap.String("outcome_type", typ) }

// Platform returns a zap field for a review platform identifier.
func Platform(id string) zap.Field { return zap.String("platform", id) }

// Plugin returns a zap field for a plugin identifier.
func Plugin(id string) zap.Field { return zap.String("plugin", id) }
