// Package storage implements the storage core plugin that persists outcomes to SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/rsclarke/tallyview/internal/db"
	"github.com/rsclarke/tallyview/internal/events"
	"github.com/rsclarke/tallyview/internal/models"
	"github.com/rsclarke/tallyview/internal/plugins"
)

// Plugin is the storage core plugin that persists outcomes to SQLite.
type Plugin struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ plugins.Store = (*Plugin)(nil)

// New creates a new storage Plugin with the given database connection.
func New(database *sql.DB) *Plugin {
	return &Plugin{db: database, logger: zap.NewNop()}
}

// ID returns the plugin identifier.
func (p *Plugin) ID() string { return "storage" }

// IsCore marks storage as core infrastructure.
func (p *Plugin) IsCore() bool { return true }

// Init initializes the plugin with the given context.
func (p *Plugin) Init(ctx plugins.InitContext) error {
	p.logger = ctx.Logger.Named("storage")
	return nil
}

// RecordOutcome persists an outcome draft and returns its ID. A draft for a
// visit that already has an outcome returns the existing ID with
// created=false and is not counted again.
func (p *Plugin) RecordOutcome(ctx context.Context, draft *events.OutcomeDraft) (int64, bool, error) {
	if draft.CampaignID == 0 || draft.VisitID == "" {
		return 0, false, fmt.Errorf("outcome draft is missing campaign or visit")
	}

	id, created, err := db.InsertOutcome(ctx, p.db, &models.Outcome{
		CampaignID: draft.CampaignID,
		VisitID:    draft.VisitID,
		Type:       draft.Type,
		Rating:     draft.Rating,
		Platform:   optional(draft.Platform),
		URL:        optional(draft.URL),
		Text:       optional(draft.Text),
		OccurredAt: draft.OccurredAt,
	})
	if err != nil {
		return 0, false, fmt.Errorf("create outcome: %w", err)
	}
	if !created {
		return id, false, nil
	}

	if stage, ok := funnelStage(draft.Type); ok {
		if err := db.IncrementFunnel(ctx, p.db, draft.CampaignID, stage); err != nil {
			p.logger.Warn("failed to update funnel",
				zap.Int64("campaign_id", draft.CampaignID),
				zap.String("stage", stage),
				zap.Error(err))
		}
	}
	return id, true, nil
}

// SaveAttributes persists plugin attributes for an outcome.
func (p *Plugin) SaveAttributes(ctx context.Context, outcomeID int64, attrs map[string]any) error {
	return db.SaveAttributes(ctx, p.db, outcomeID, attrs)
}

func funnelStage(outcomeType string) (string, bool) {
	switch outcomeType {
	case "feedback":
		return db.StageFeedback, true
	case "platform_referral":
		return db.StageReferred, true
	case "declined":
		return db.StageDeclined, true
	}
	return "", false
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
