package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/tallyview/internal/acme"
	"github.com/rsclarke/tallyview/internal/crypt"
	"github.com/rsclarke/tallyview/internal/db"
	"github.com/rsclarke/tallyview/internal/logging"
	"github.com/rsclarke/tallyview/internal/platform"
	"github.com/rsclarke/tallyview/internal/plugins"
	"github.com/rsclarke/tallyview/internal/plugins/core/alert"
	"github.com/rsclarke/tallyview/internal/plugins/core/storage"
	"github.com/rsclarke/tallyview/internal/router"
	"github.com/rsclarke/tallyview/internal/server"
	"github.com/rsclarke/tallyview/internal/store"
	"github.com/rsclarke/tallyview/internal/vault"
)

const shutdownTimeout = 10 * time.Second

var serverFlags struct {
	bootstrapTenant string
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the magic-link and management API listeners",
	Long: `Start the tallyview server: the public magic-link listener and the
management API.

TLS Modes:
  --tls-cert + --tls-key  → Manual TLS (HTTPS listener serves magic links)
  --acme --acme-domain    → Automatic certificate via Let's Encrypt HTTP-01;
                            the HTTP port must be reachable on port 80
  (neither)               → HTTP only

The master key (TALLYVIEW_MASTER_KEY) is required: 32 bytes, hex or base64.
Certificates and ACME account data are stored in the database.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	f := serverCmd.Flags()
	f.StringVar(&cfg.DBPath, "db", cfg.DBPath, "database path")
	f.IntVar(&cfg.APIPort, "api-port", cfg.APIPort, "management API port")
	f.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "magic-link HTTP port")
	f.IntVar(&cfg.HTTPSPort, "https-port", cfg.HTTPSPort, "magic-link HTTPS port")
	f.StringVar(&cfg.PublicURL, "public-url", cfg.PublicURL, "base URL of magic links handed to customers")
	f.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "lifetime of a magic-link session")
	f.StringVar(&cfg.CatalogFile, "catalog", cfg.CatalogFile, "YAML file overriding the review platform catalog")
	f.IntVar(&cfg.AlertBelow, "alert-below", cfg.AlertBelow, "flag feedback rated below this (0 disables)")
	f.StringVar(&cfg.TLSCertFile, "tls-cert", cfg.TLSCertFile, "path to TLS certificate file (enables manual TLS mode)")
	f.StringVar(&cfg.TLSKeyFile, "tls-key", cfg.TLSKeyFile, "path to TLS key file (enables manual TLS mode)")
	f.BoolVar(&cfg.ACME.Enabled, "acme", cfg.ACME.Enabled, "obtain a certificate automatically via ACME")
	f.StringVar(&cfg.ACME.Domain, "acme-domain", cfg.ACME.Domain, "domain to obtain a certificate for")
	f.StringVar(&cfg.ACME.Email, "acme-email", cfg.ACME.Email, "email for Let's Encrypt notifications")
	f.BoolVar(&cfg.ACME.Staging, "acme-staging", cfg.ACME.Staging, "use Let's Encrypt staging CA")
	f.StringVar(&serverFlags.bootstrapTenant, "bootstrap-tenant", "", "issue a first API key for this tenant if it has none")
}

func runServer(cmd *cobra.Command, args []string) error {
	manualTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if manualTLS && cfg.ACME.Enabled {
		return fmt.Errorf("--acme cannot be combined with --tls-cert/--tls-key")
	}
	if cfg.ACME.Enabled && cfg.ACME.Domain == "" {
		return fmt.Errorf("--acme-domain is required with --acme")
	}

	masterKey, err := cfg.Key()
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := store.New(database)
	v, err := newVault(st, masterKey)
	if err != nil {
		return err
	}

	if serverFlags.bootstrapTenant != "" {
		if err := bootstrapKey(ctx, st, v, serverFlags.bootstrapTenant); err != nil {
			return err
		}
	}

	catalog, err := platform.Load(cfg.CatalogFile)
	if err != nil {
		return err
	}

	pipeline := plugins.NewPipeline(logger.Named("plugins"))
	storagePlugin := storage.New(database)
	pipeline.SetStore(storagePlugin)
	pipeline.Register(storagePlugin)
	pipeline.Register(alert.New(cfg.AlertBelow))
	if err := pipeline.Init(plugins.InitContext{
		Logger:    logger.Named("plugins"),
		Store:     storagePlugin,
		Campaigns: st,
	}); err != nil {
		return fmt.Errorf("init plugins: %w", err)
	}

	sessionKey, err := crypt.DeriveKey(masterKey, crypt.PurposeLinkSession)
	if err != nil {
		return err
	}
	codec, err := router.NewSessionCodec(sessionKey, cfg.SessionTTL)
	if err != nil {
		return err
	}

	apiSrv := &server.APIServer{
		Vault:     v,
		Store:     st,
		Plugins:   pipeline,
		PublicURL: cfg.PublicURL,
		Logger:    logger.Named("api"),
	}
	linkSrv := &server.LinkServer{
		Router: router.New(st, pipeline, st, catalog, logger.Named("router")),
		Codec:  codec,
		Logger: logger.Named("link"),
	}
	linkHandler := linkSrv.Handler()

	var manager *acme.Manager
	if cfg.ACME.Enabled {
		manager, err = acme.NewManager(cfg.ACME.Domain, cfg.ACME.Email, database, cfg.ACME.Staging, logger.Named("certmagic"))
		if err != nil {
			return err
		}
	}

	var group server.Group
	group.Add(server.NewManagedServer("api", server.DefaultServerConfig(
		fmt.Sprintf(":%d", cfg.APIPort), apiSrv.Handler(), logger.Named("api"))))

	var plainHandler http.Handler = linkHandler
	if manager != nil {
		plainHandler = manager.HTTPChallengeHandler(linkHandler)
	}
	group.Add(server.NewManagedServer("http", server.DefaultServerConfig(
		fmt.Sprintf(":%d", cfg.HTTPPort), plainHandler, logger.Named("http"))))

	if err := group.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		group.Shutdown(shutdownCtx)
	}()

	tlsConfig, tlsMode, err := loadTLS(ctx, manager, manualTLS)
	if err != nil {
		return err
	}
	if tlsConfig != nil {
		httpsCfg := server.DefaultServerConfig(fmt.Sprintf(":%d", cfg.HTTPSPort), linkHandler, logger.Named("https"))
		httpsCfg.TLSConfig = tlsConfig
		group.Add(server.NewManagedServer("https", httpsCfg))
		if err := group.Start(); err != nil {
			return err
		}
		logger.Info("https enabled", logging.TLSMode(tlsMode), logging.Port(cfg.HTTPSPort))
	} else {
		logger.Info("https disabled", logging.Reason("no TLS certificate configured"))
	}

	logger.Info("tallyview ready",
		zap.String("public_url", cfg.PublicURL),
		zap.Duration("session_ttl", cfg.SessionTTL))

	err = group.Wait(ctx)
	logger.Info("shutting down")
	return err
}

func loadTLS(ctx context.Context, manager *acme.Manager, manualTLS bool) (*tls.Config, string, error) {
	switch {
	case manager != nil:
		logger.Info("starting acme certificate acquisition",
			logging.Domain(cfg.ACME.Domain),
			zap.Bool("staging", cfg.ACME.Staging))
		if err := manager.Manage(ctx); err != nil {
			return nil, "", fmt.Errorf("ACME certificate acquisition: %w", err)
		}
		return manager.TLSConfig(), "acme", nil
	case manualTLS:
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, "", fmt.Errorf("load TLS certificate: %w", err)
		}
		return &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}, "manual", nil
	default:
		return nil, "", nil
	}
}

func newVault(st *store.SQLiteStore, masterKey []byte) (*vault.Vault, error) {
	secrets, err := crypt.New(masterKey, crypt.PurposeCredentialSecret)
	if err != nil {
		return nil, err
	}
	integrations, err := crypt.New(masterKey, crypt.PurposeIntegrationCredentials)
	if err != nil {
		return nil, err
	}
	return vault.New(st, secrets, integrations, logger)
}

func bootstrapKey(ctx context.Context, st *store.SQLiteStore, v *vault.Vault, tenantID string) error {
	count, err := st.CountActiveCredentials(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("count API keys: %w", err)
	}
	if count > 0 {
		return nil
	}
	issued, err := v.IssueKey(ctx, vault.IssueRequest{TenantID: tenantID, DisplayName: "bootstrap"})
	if err != nil {
		return fmt.Errorf("issue API key: %w", err)
	}
	fmt.Println("=============================================================")
	fmt.Printf("API KEY CREATED for tenant %s (save this, it will not be shown again):\n", tenantID)
	fmt.Println(issued.RawSecret)
	fmt.Println("=============================================================")
	return nil
}
