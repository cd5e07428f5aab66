// Package acme obtains and renews the TLS certificate for the public link
// domain over HTTP-01.
package acme

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/caddyserver/certmagic"
	certmagicsqlite "github.com/rsclarke/certmagic-sqlite"
	"go.uber.org/zap"
)

// Manager handles certificate acquisition and renewal for a single domain.
// Certificates and ACME account data live in the shared SQLite database.
type Manager struct {
	Domain  string
	Email   string
	Staging bool
	DB      *sql.DB
	Logger  *zap.Logger

	config *certmagic.Config
	issuer *certmagic.ACMEIssuer
}

// SetLogger configures the global certmagic loggers.
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	certmagic.Default.Logger = logger
	certmagic.DefaultACME.Logger = logger
}

// NewManager prepares certificate storage and the ACME issuer. The issuer
// must exist before the plain HTTP listener starts so that challenge
// requests can be answered; call Manage once listeners are up.
func NewManager(domain, email string, db *sql.DB, staging bool, logger *zap.Logger) (*Manager, error) {
	if domain == "" {
		return nil, errors.New("acme: domain is required")
	}
	if db == nil {
		return nil, errors.New("acme: database is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	SetLogger(logger)

	hostname, _ := os.Hostname()
	storage, err := certmagicsqlite.NewWithDB(db, certmagicsqlite.WithOwnerID(hostname))
	if err != nil {
		return nil, fmt.Errorf("create certmagic storage: %w", err)
	}

	cfg := certmagic.NewDefault()
	cfg.Storage = storage
	cfg.Logger = logger

	ca := certmagic.LetsEncryptProductionCA
	if staging {
		ca = certmagic.LetsEncryptStagingCA
	}
	issuer := certmagic.NewACMEIssuer(cfg, certmagic.ACMEIssuer{
		CA:                      ca,
		Email:                   email,
		Agreed:                  true,
		DisableTLSALPNChallenge: true,
		Logger:                  logger,
	})
	cfg.Issuers = []certmagic.Issuer{issuer}

	return &Manager{
		Domain:  domain,
		Email:   email,
		Staging: staging,
		DB:      db,
		Logger:  logger,
		config:  cfg,
		issuer:  issuer,
	}, nil
}

// HTTPChallengeHandler answers ACME HTTP-01 challenges and passes every
// other request to next.
func (m *Manager) HTTPChallengeHandler(next http.Handler) http.Handler {
	return m.issuer.HTTPChallengeHandler(next)
}

// Manage obtains the certificate if needed and keeps it renewed in the
// background.
func (m *Manager) Manage(ctx context.Context) error {
	m.Logger.Info("obtaining certificate via HTTP-01", zap.String("domain", m.Domain))
	if err := m.config.ManageSync(ctx, []string{m.Domain}); err != nil {
		return fmt.Errorf("manage certificate for %s: %w", m.Domain, err)
	}
	return nil
}

// TLSConfig returns a TLS configuration that serves the managed certificate.
func (m *Manager) TLSConfig() *tls.Config {
	cfg := m.config.TLSConfig()
	cfg.NextProtos = []string{"h2", "http/1.1"}
	return cfg
}
