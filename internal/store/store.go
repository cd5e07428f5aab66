// Package store adapts the SQLite data layer to the interfaces consumed by
// the vault, the router and the outcome pipeline.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rsclarke/tallyview/internal/db"
	"github.com/rsclarke/tallyview/internal/errdefs"
	"github.com/rsclarke/tallyview/internal/models"
	"github.com/rsclarke/tallyview/internal/plugins"
	"github.com/rsclarke/tallyview/internal/router"
	"github.com/rsclarke/tallyview/internal/token"
	"github.com/rsclarke/tallyview/internal/vault"
)

const maxTokenAttempts = 5

// DefaultThreshold applies when a new campaign sets no threshold.
const DefaultThreshold = 4

// SQLiteStore implements the persistence interfaces over a *sql.DB.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ vault.Store                = (*SQLiteStore)(nil)
	_ router.CampaignStore       = (*SQLiteStore)(nil)
	_ router.Funnel              = (*SQLiteStore)(nil)
	_ plugins.CampaignConfigView = (*SQLiteStore)(nil)
)

// New creates a SQLiteStore.
func New(database *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: database}
}

// DB returns the underlying connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// InsertCredential stores a new credential.
func (s *SQLiteStore) InsertCredential(ctx context.Context, c *models.Credential) error {
	err := db.InsertCredential(ctx, s.db, c)
	if errors.Is(err, db.ErrDuplicateHash) {
		return vault.ErrDuplicateHash
	}
	return err
}

// FindCredentialByHash looks up a credential by secret hash.
func (s *SQLiteStore) FindCredentialByHash(ctx context.Context, hash []byte) (*models.Credential, error) {
	return db.GetCredentialByHash(ctx, s.db, hash)
}

// FindCredentialByID looks up a credential by ID.
func (s *SQLiteStore) FindCredentialByID(ctx context.Context, id string) (*models.Credential, error) {
	return db.GetCredentialByID(ctx, s.db, id)
}

// UpdateCredential applies patch to a credential.
func (s *SQLiteStore) UpdateCredential(ctx context.Context, id string, patch models.CredentialPatch) error {
	return notFound(db.UpdateCredential(ctx, s.db, id, patch))
}

// TouchCredential records the last use of a credential.
func (s *SQLiteStore) TouchCredential(ctx context.Context, id string, usedAt int64) error {
	return db.TouchCredential(ctx, s.db, id, usedAt)
}

// ListCredentials returns a tenant's credentials.
func (s *SQLiteStore) ListCredentials(ctx context.Context, tenantID string) ([]models.Credential, error) {
	return db.ListCredentialsByTenant(ctx, s.db, tenantID)
}

// CountActiveCredentials returns how many active credentials a tenant holds.
func (s *SQLiteStore) CountActiveCredentials(ctx context.Context, tenantID string) (int, error) {
	return db.CountActiveCredentials(ctx, s.db, tenantID)
}

// UpsertIntegration creates or replaces a tenant integration.
func (s *SQLiteStore) UpsertIntegration(ctx context.Context, i *models.Integration) error {
	return db.UpsertIntegration(ctx, s.db, i)
}

// FindIntegration looks up a tenant's integration by type.
func (s *SQLiteStore) FindIntegration(ctx context.Context, tenantID, typ string) (*models.Integration, error) {
	return db.GetIntegration(ctx, s.db, tenantID, typ)
}

// ListIntegrations returns a tenant's integrations.
func (s *SQLiteStore) ListIntegrations(ctx context.Context, tenantID string) ([]models.Integration, error) {
	return db.ListIntegrationsByTenant(ctx, s.db, tenantID)
}

// DeleteIntegration removes a tenant's integration.
func (s *SQLiteStore) DeleteIntegration(ctx context.Context, tenantID, typ string) error {
	return notFound(db.DeleteIntegration(ctx, s.db, tenantID, typ))
}

// FindByToken resolves a magic-link token to the router's campaign view.
func (s *SQLiteStore) FindByToken(ctx context.Context, tok string) (*router.Campaign, error) {
	c, err := db.GetCampaignByToken(ctx, s.db, tok)
	if err != nil || c == nil {
		return nil, err
	}
	return RouterCampaign(c), nil
}

// IncrementFunnel counts a funnel stage for a campaign.
func (s *SQLiteStore) IncrementFunnel(ctx context.Context, campaignID int64, stage string) error {
	return db.IncrementFunnel(ctx, s.db, campaignID, stage)
}

// RecordRating pins the first rating of a visit.
func (s *SQLiteStore) RecordRating(ctx context.Context, campaignID int64, visitID string, rating int) (int, bool, error) {
	return db.RecordVisitRating(ctx, s.db, campaignID, visitID, rating)
}

// GetFunnel returns the funnel counters of a campaign.
func (s *SQLiteStore) GetFunnel(ctx context.Context, campaignID int64) (models.Funnel, error) {
	return db.GetFunnel(ctx, s.db, campaignID)
}

// Get reads per-campaign plugin configuration into out.
func (s *SQLiteStore) Get(ctx context.Context, campaignID int64, pluginID string, out any) (bool, error) {
	return db.GetCampaignPluginConfig(ctx, s.db, campaignID, pluginID, out)
}

// RouterCampaign converts a stored campaign to the router's view.
func RouterCampaign(c *models.Campaign) *router.Campaign {
	rc := &router.Campaign{
		ID:       c.ID,
		TenantID: c.TenantID,
		Name:     c.Name,
		Token:    c.Token,
		Status:   c.Status,
		Policy: router.Policy{
			TargetPlatforms:             c.TargetPlatforms,
			PlatformProfiles:            c.PlatformProfiles,
			ReputationProtectionEnabled: c.ReputationProtection,
			ReputationThreshold:         c.ReputationThreshold,
		},
	}
	if c.MessageTemplate != nil {
		rc.Policy.MessageTemplate = *c.MessageTemplate
	}
	return rc
}

func notFound(err error) error {
	if errors.Is(err, db.ErrNoRows) {
		return errdefs.ErrNotFound
	}
	return err
}

// NewCampaign describes a campaign to create.
type NewCampaign struct {
	TenantID             string            `json:"-" yaml:"-" validate:"required,max=128"`
	Name                 string            `json:"name" yaml:"name" validate:"required,max=200"`
	Token                string            `json:"token,omitempty" yaml:"token,omitempty" validate:"omitempty,min=4,max=64,slug"`
	Status               string            `json:"status,omitempty" yaml:"status,omitempty" validate:"omitempty,oneof=active paused archived"`
	TargetPlatforms      []string          `json:"target_platforms,omitempty" yaml:"target_platforms,omitempty" validate:"max=10,unique,dive,required,max=64"`
	PlatformProfiles     map[string]string `json:"platform_profiles,omitempty" yaml:"platform_profiles,omitempty" validate:"max=10,dive,keys,required,max=64,endkeys,required,max=500"`
	ReputationProtection bool              `json:"reputation_protection" yaml:"reputation_protection"`
	ReputationThreshold  int               `json:"reputation_threshold" yaml:"reputation_threshold" validate:"gte=1,lte=5"`
	MessageTemplate      string            `json:"message_template,omitempty" yaml:"message_template,omitempty" validate:"max=500"`
	AlertBelowRating     *int              `json:"alert_below_rating,omitempty" yaml:"alert_below_rating,omitempty" validate:"omitempty,gte=0,lte=5"`
}

// CreateCampaign validates and stores a campaign. A token is generated when
// none is given. The campaign is created active unless another status is set.
func (s *SQLiteStore) CreateCampaign(ctx context.Context, nc NewCampaign) (*models.Campaign, error) {
	nc.Name = strings.TrimSpace(nc.Name)
	if nc.Status == "" {
		nc.Status = router.StatusActive
	}
	if nc.ReputationThreshold == 0 {
		nc.ReputationThreshold = DefaultThreshold
	}
	platforms := make([]string, len(nc.TargetPlatforms))
	for i, p := range nc.TargetPlatforms {
		platforms[i] = strings.ToLower(strings.TrimSpace(p))
	}
	nc.TargetPlatforms = platforms
	if len(nc.PlatformProfiles) > 0 {
		profiles := make(map[string]string, len(nc.PlatformProfiles))
		for k, v := range nc.PlatformProfiles {
			key := strings.ToLower(strings.TrimSpace(k))
			if _, dup := profiles[key]; dup {
				return nil, errdefs.Validation("platform_profiles", fmt.Sprintf("duplicate profile for %q", key))
			}
			profiles[key] = strings.TrimSpace(v)
		}
		nc.PlatformProfiles = profiles
	}
	if err := errdefs.Struct(nc); err != nil {
		return nil, err
	}

	c := &models.Campaign{
		TenantID:             nc.TenantID,
		Name:                 nc.Name,
		Token:                nc.Token,
		Status:               nc.Status,
		TargetPlatforms:      nc.TargetPlatforms,
		PlatformProfiles:     nc.PlatformProfiles,
		ReputationProtection: nc.ReputationProtection,
		ReputationThreshold:  nc.ReputationThreshold,
	}
	if nc.MessageTemplate != "" {
		c.MessageTemplate = &nc.MessageTemplate
	}

	var id int64
	var err error
	for attempt := 0; attempt < maxTokenAttempts; attempt++ {
		if nc.Token == "" {
			if c.Token, err = token.Generate(); err != nil {
				return nil, fmt.Errorf("generate token: %w", err)
			}
		}
		id, err = db.CreateCampaign(ctx, s.db, c)
		if !errors.Is(err, db.ErrDuplicateToken) || nc.Token != "" {
			break
		}
	}
	if errors.Is(err, db.ErrDuplicateToken) {
		return nil, errdefs.Validation("token", "already in use")
	}
	if err != nil {
		return nil, err
	}

	if nc.AlertBelowRating != nil {
		if err := db.SetCampaignPluginConfig(ctx, s.db, id, "alert", map[string]int{"below_rating": *nc.AlertBelowRating}); err != nil {
			return nil, fmt.Errorf("store alert config: %w", err)
		}
	}
	return db.GetCampaignByID(ctx, s.db, id)
}

// GetCampaign returns a tenant's campaign. Campaigns of other tenants are
// reported as not found.
func (s *SQLiteStore) GetCampaign(ctx context.Context, tenantID string, id int64) (*models.Campaign, error) {
	c, err := db.GetCampaignByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if c == nil || c.TenantID != tenantID {
		return nil, errdefs.ErrNotFound
	}
	return c, nil
}

// ListCampaigns returns a tenant's campaigns with their funnel counters.
func (s *SQLiteStore) ListCampaigns(ctx context.Context, tenantID string) ([]db.CampaignWithFunnel, error) {
	return db.ListCampaignsByTenant(ctx, s.db, tenantID)
}

// SetCampaignStatus changes the status of a tenant's campaign.
func (s *SQLiteStore) SetCampaignStatus(ctx context.Context, tenantID string, id int64, status string) error {
	switch status {
	case router.StatusActive, router.StatusPaused, router.StatusArchived:
	default:
		return errdefs.Validation("status", "must be one of active paused archived")
	}
	if _, err := s.GetCampaign(ctx, tenantID, id); err != nil {
		return err
	}
	return notFound(db.SetCampaignStatus(ctx, s.db, id, status))
}

// OutcomeRecord is a stored outcome with its plugin attributes.
type OutcomeRecord struct {
	models.Outcome
	Attributes map[string]any
}

// ListOutcomes returns the most recent outcomes of a tenant's campaign.
func (s *SQLiteStore) ListOutcomes(ctx context.Context, tenantID string, campaignID int64, limit int) ([]OutcomeRecord, error) {
	if _, err := s.GetCampaign(ctx, tenantID, campaignID); err != nil {
		return nil, err
	}
	outcomes, err := db.ListOutcomesByCampaign(ctx, s.db, campaignID, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(outcomes))
	for i, o := range outcomes {
		ids[i] = o.ID
	}
	attrs, err := db.GetAttributesForOutcomes(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	out := make([]OutcomeRecord, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, OutcomeRecord{Outcome: o, Attributes: attrs[o.ID]})
	}
	return out, nil
}
