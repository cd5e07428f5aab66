package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rsclarke/tallyview/internal/models"
)

// Funnel stage column names.
const (
	StageOpened   = "opened"
	StageRated    = "rated"
	StageFeedback = "feedback"
	StageReferred = "referred"
	StageDeclined = "declined"
)

// ErrDuplicateToken is returned when a campaign token is already taken.
var ErrDuplicateToken = errors.New("duplicate campaign token")

const campaignColumns = "id, tenant_id, name, token, status, target_platforms, platform_profiles, reputation_protection, reputation_threshold, message_template, created_at"

// CreateCampaign inserts a campaign and its empty funnel row, returning the campaign ID.
func CreateCampaign(ctx context.Context, d *sql.DB, c *models.Campaign) (int64, error) {
	platforms, err := json.Marshal(nonNilSlice(c.TargetPlatforms))
	if err != nil {
		return 0, fmt.Errorf("encode target platforms: %w", err)
	}
	profiles, err := json.Marshal(nonNilMap(c.PlatformProfiles))
	if err != nil {
		return 0, fmt.Errorf("encode platform profiles: %w", err)
	}
	createdAt := c.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO campaigns (tenant_id, name, token, status, target_platforms, platform_profiles,
			reputation_protection, reputation_threshold, message_template, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.TenantID, c.Name, c.Token, c.Status, string(platforms), string(profiles),
		boolToInt(c.ReputationProtection), c.ReputationThreshold, c.MessageTemplate, createdAt,
	)
	if isUniqueViolation(err, "campaigns.token") {
		return 0, ErrDuplicateToken
	}
	if err != nil {
		return 0, fmt.Errorf("insert campaign: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO campaign_funnel (campaign_id) VALUES (?)", id); err != nil {
		return 0, fmt.Errorf("insert funnel: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return id, nil
}

// GetCampaignByToken retrieves a campaign by its magic-link token.
func GetCampaignByToken(ctx context.Context, d *sql.DB, token string) (*models.Campaign, error) {
	row := d.QueryRowContext(ctx, "SELECT "+campaignColumns+" FROM campaigns WHERE token = ?", token)
	return scanCampaign(row)
}

// GetCampaignByID retrieves a campaign by its ID.
func GetCampaignByID(ctx context.Context, d *sql.DB, id int64) (*models.Campaign, error) {
	row := d.QueryRowContext(ctx, "SELECT "+campaignColumns+" FROM campaigns WHERE id = ?", id)
	return scanCampaign(row)
}

// CampaignWithFunnel pairs a campaign with its counters.
type CampaignWithFunnel struct {
	models.Campaign
	Funnel models.Funnel
}

// ListCampaignsByTenant returns a tenant's campaigns with funnel counters, newest first.
func ListCampaignsByTenant(ctx context.Context, d *sql.DB, tenantID string) ([]CampaignWithFunnel, error) {
	rows, err := d.QueryContext(ctx, `
		SELECT c.id, c.tenant_id, c.name, c.token, c.status, c.target_platforms, c.platform_profiles,
			c.reputation_protection, c.reputation_threshold, c.message_template, c.created_at,
			COALESCE(f.opened, 0), COALESCE(f.rated, 0), COALESCE(f.feedback, 0),
			COALESCE(f.referred, 0), COALESCE(f.declined, 0)
		FROM campaigns c
		LEFT JOIN campaign_funnel f ON f.campaign_id = c.id
		WHERE c.tenant_id = ?
		ORDER BY c.created_at DESC, c.id DESC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CampaignWithFunnel
	for rows.Next() {
		var cf CampaignWithFunnel
		var platforms, profiles string
		var protection int
		f := &cf.Funnel
		if err := rows.Scan(&cf.ID, &cf.TenantID, &cf.Name, &cf.Token, &cf.Status, &platforms, &profiles,
			&protection, &cf.ReputationThreshold, &cf.MessageTemplate, &cf.CreatedAt,
			&f.Opened, &f.Rated, &f.Feedback, &f.Referred, &f.Declined); err != nil {
			return nil, err
		}
		if err := decodePolicyColumns(&cf.Campaign, platforms, profiles); err != nil {
			return nil, err
		}
		cf.ReputationProtection = protection != 0
		f.CampaignID = cf.ID
		out = append(out, cf)
	}
	return out, rows.Err()
}

// SetCampaignStatus changes a campaign's status. It returns ErrNoRows if the
// campaign does not exist.
func SetCampaignStatus(ctx context.Context, d *sql.DB, id int64, status string) error {
	result, err := d.ExecContext(ctx, "UPDATE campaigns SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRows
	}
	return nil
}

// IncrementFunnel adds one to the named stage counter of a campaign.
func IncrementFunnel(ctx context.Context, d *sql.DB, campaignID int64, stage string) error {
	switch stage {
	case StageOpened, StageRated, StageFeedback, StageReferred, StageDeclined:
	default:
		return fmt.Errorf("unknown funnel stage %q", stage)
	}
	// stage is one of the fixed column names above.
	_, err := d.ExecContext(ctx, `
		INSERT INTO campaign_funnel (campaign_id, `+stage+`) VALUES (?, 1)
		ON CONFLICT (campaign_id) DO UPDATE SET `+stage+` = `+stage+` + 1
	`, campaignID)
	return err
}

// GetFunnel returns the counters of a campaign. Missing rows read as zero.
func GetFunnel(ctx context.Context, d *sql.DB, campaignID int64) (models.Funnel, error) {
	f := models.Funnel{CampaignID: campaignID}
	err := d.QueryRowContext(ctx,
		"SELECT opened, rated, feedback, referred, declined FROM campaign_funnel WHERE campaign_id = ?",
		campaignID,
	).Scan(&f.Opened, &f.Rated, &f.Feedback, &f.Referred, &f.Declined)
	if err == sql.ErrNoRows {
		return f, nil
	}
	return f, err
}

func scanCampaign(row scanner) (*models.Campaign, error) {
	var c models.Campaign
	var platforms, profiles string
	var protection int
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Token, &c.Status, &platforms, &profiles,
		&protection, &c.ReputationThreshold, &c.MessageTemplate, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := decodePolicyColumns(&c, platforms, profiles); err != nil {
		return nil, err
	}
	c.ReputationProtection = protection != 0
	return &c, nil
}

func decodePolicyColumns(c *models.Campaign, platforms, profiles string) error {
	if err := json.Unmarshal([]byte(platforms), &c.TargetPlatforms); err != nil {
		return fmt.Errorf("decode target platforms for campaign %d: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(profiles), &c.PlatformProfiles); err != nil {
		return fmt.Errorf("decode platform profiles for campaign %d: %w", c.ID, err)
	}
	return nil
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
