package router

import (
	"context"
	"strings"
	"time"

	"github.com/rsclarke/tallyview/internal/platform"
)

// Campaign statuses.
const (
	StatusActive   = "active"
	StatusPaused   = "paused"
	StatusArchived = "archived"
)

// DefaultPlatforms are offered when a campaign targets none.
var DefaultPlatforms = []string{"google", "facebook"}

const defaultPrompt = "How would you rate your experience with {name}?"

// Policy is a campaign's routing configuration.
type Policy struct {
	TargetPlatforms             []string
	PlatformProfiles            map[string]string
	ReputationProtectionEnabled bool
	ReputationThreshold         int
	MessageTemplate             string
}

// RoutesToFeedback reports whether rating r is captured privately. The
// comparison is strict: a rating equal to the threshold goes public.
func (p Policy) RoutesToFeedback(r int) bool {
	return p.ReputationProtectionEnabled && r < p.ReputationThreshold
}

// Platforms returns the platform IDs offered, in order.
func (p Policy) Platforms() []string {
	if len(p.TargetPlatforms) == 0 {
		return DefaultPlatforms
	}
	return p.TargetPlatforms
}

// Choices maps the offered platforms to review URLs.
func (p Policy) Choices(cat *platform.Catalog) []platform.Choice {
	ids := p.Platforms()
	out := make([]platform.Choice, 0, len(ids))
	for _, id := range ids {
		out = append(out, cat.Choice(id, p.profile(id)))
	}
	return out
}

// profile returns the campaign's profile for platform id. Keys match
// case-insensitively.
func (p Policy) profile(id string) string {
	if v, ok := p.PlatformProfiles[id]; ok {
		return v
	}
	for k, v := range p.PlatformProfiles {
		if strings.EqualFold(strings.TrimSpace(k), id) {
			return v
		}
	}
	return ""
}

// Campaign is the read-only view of a campaign the router needs.
type Campaign struct {
	ID       int64
	TenantID string
	Name     string
	Token    string
	Status   string
	Policy   Policy
}

// Prompt returns the rating prompt shown when the link is opened.
func (c *Campaign) Prompt() string {
	tmpl := c.Policy.MessageTemplate
	if strings.TrimSpace(tmpl) == "" {
		tmpl = defaultPrompt
	}
	return strings.ReplaceAll(tmpl, "{name}", c.Name)
}

// OutcomeType classifies a terminal routing event.
type OutcomeType string

// Outcome types.
const (
	OutcomeFeedback         OutcomeType = "feedback"
	OutcomePlatformReferral OutcomeType = "platform_referral"
	OutcomeDeclined         OutcomeType = "declined"
)

// Outcome is a terminal routing event.
type Outcome struct {
	Type       OutcomeType `json:"type"`
	CampaignID int64       `json:"campaign_id"`
	TenantID   string      `json:"-"`
	VisitID    string      `json:"visit_id"`
	Rating     int         `json:"rating"`
	Platform   string      `json:"platform,omitempty"`
	URL        string      `json:"url,omitempty"`
	Text       string      `json:"text,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Funnel stages counted by the router. Terminal stages are counted by the
// outcome sink.
const (
	StageOpened = "opened"
	StageRated  = "rated"
)

// CampaignStore resolves magic-link tokens. FindByToken returns (nil, nil)
// for an unknown token.
type CampaignStore interface {
	FindByToken(ctx context.Context, token string) (*Campaign, error)
}

// OutcomeSink receives terminal outcomes. Implementations deduplicate by
// visit ID.
type OutcomeSink interface {
	RecordOutcome(ctx context.Context, o *Outcome) error
}

// Funnel counts campaign funnel stages and pins the first rating of each
// visit. RecordRating returns the rating on record for the visit and
// whether this call stored it.
type Funnel interface {
	IncrementFunnel(ctx context.Context, campaignID int64, stage string) error
	RecordRating(ctx context.Context, campaignID int64, visitID string, rating int) (int, bool, error)
}
