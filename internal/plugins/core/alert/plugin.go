// Package alert implements the core plugin that flags low-rated feedback.
package alert

import (
	"context"

	"go.uber.org/zap"

	"github.com/rsclarke/tallyview/internal/events"
	"github.com/rsclarke/tallyview/internal/logging"
	"github.com/rsclarke/tallyview/internal/plugins"
)

// Attribute keys set on flagged outcomes.
const (
	AttrAlert  = "alert"
	AttrReason = "alert_reason"
)

// Config is the per-campaign configuration stored under the plugin ID.
type Config struct {
	BelowRating int `json:"below_rating"`
}

// Plugin marks feedback outcomes whose rating falls below a campaign's
// alert threshold.
type Plugin struct {
	defaultBelow int
	campaigns    plugins.CampaignConfigView
	logger       *zap.Logger
}

// New creates an alert Plugin. Campaigns without their own configuration
// alert on ratings below defaultBelow; zero disables the default.
func New(defaultBelow int) *Plugin {
	return &Plugin{defaultBelow: defaultBelow, logger: zap.NewNop()}
}

// ID returns the plugin identifier.
func (p *Plugin) ID() string { return "alert" }

// Init initializes the plugin with the given context.
func (p *Plugin) Init(ctx plugins.InitContext) error {
	p.logger = ctx.Logger.Named("alert")
	p.campaigns = ctx.Campaigns
	return nil
}

// Config exposes the global default threshold.
func (p *Plugin) Config() map[string]any {
	return map[string]any{"default_below_rating": p.defaultBelow}
}

// OnPreRecord flags feedback drafts rated below the campaign threshold.
func (p *Plugin) OnPreRecord(ctx context.Context, e *events.Event) error {
	d := e.Draft
	if d == nil || d.Type != "feedback" {
		return nil
	}

	below := p.defaultBelow
	if p.campaigns != nil {
		var cfg Config
		found, err := p.campaigns.Get(ctx, d.CampaignID, p.ID(), &cfg)
		if err != nil {
			return err
		}
		if found {
			below = cfg.BelowRating
		}
	}

	if below > 0 && d.Rating < below {
		d.SetAttribute(AttrAlert, true)
		d.SetAttribute(AttrReason, "low_rating")
	}
	return nil
}

// OnPostRecord logs a warning for newly stored flagged outcomes.
func (p *Plugin) OnPostRecord(_ context.Context, e *events.Event) error {
	if e.Draft == nil || !e.Created {
		return nil
	}
	if flagged, _ := e.Draft.Attributes[AttrAlert].(bool); !flagged {
		return nil
	}
	p.logger.Warn("low rating feedback received",
		logging.CampaignID(e.Draft.CampaignID),
		logging.TenantID(e.Draft.TenantID),
		logging.VisitID(e.Draft.VisitID),
		logging.Rating(e.Draft.Rating),
		zap.Int64("outcome_id", e.OutcomeID))
	return nil
}
