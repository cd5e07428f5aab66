// Package types defines the API request and response types.
package types

import "github.com/rsclarke/tallyview/internal/platform"

// CreateKeyRequest is the request body for issuing an API key.
type CreateKeyRequest struct {
	DisplayName   string `json:"display_name"`
	ExpiresInDays *int   `json:"expires_in_days,omitempty"`
}

// KeyInfo describes an API key without its secret.
type KeyInfo struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"display_name"`
	PrefixHint  string  `json:"prefix_hint"`
	IsActive    bool    `json:"is_active"`
	CreatedAt   string  `json:"created_at"`
	ExpiresAt   *string `json:"expires_at,omitempty"`
	LastUsedAt  *string `json:"last_used_at,omitempty"`
}

// CreateKeyResponse carries the raw secret once.
type CreateKeyResponse struct {
	Key    KeyInfo `json:"key"`
	Secret string  `json:"secret"`
}

// ListKeysResponse is the response body for listing keys.
type ListKeysResponse struct {
	Keys []KeyInfo `json:"keys"`
}

// FunnelCounts are a campaign's stage counters.
type FunnelCounts struct {
	Opened   int64 `json:"opened"`
	Rated    int64 `json:"rated"`
	Feedback int64 `json:"feedback"`
	Referred int64 `json:"referred"`
	Declined int64 `json:"declined"`
}

// CampaignInfo describes a campaign.
type CampaignInfo struct {
	ID                   int64             `json:"id"`
	Name                 string            `json:"name"`
	Token                string            `json:"token"`
	Link                 string            `json:"link"`
	Status               string            `json:"status"`
	TargetPlatforms      []string          `json:"target_platforms"`
	PlatformProfiles     map[string]string `json:"platform_profiles,omitempty"`
	ReputationProtection bool              `json:"reputation_protection"`
	ReputationThreshold  int               `json:"reputation_threshold"`
	MessageTemplate      *string           `json:"message_template,omitempty"`
	CreatedAt            string            `json:"created_at"`
	Funnel               *FunnelCounts     `json:"funnel,omitempty"`
}

// ListCampaignsResponse is the response body for listing campaigns.
type ListCampaignsResponse struct {
	Campaigns []CampaignInfo `json:"campaigns"`
}

// SetStatusRequest changes a campaign's status.
type SetStatusRequest struct {
	Status string `json:"status"`
}

// OutcomeInfo is a recorded routing outcome.
type OutcomeInfo struct {
	ID         int64          `json:"id"`
	VisitID    string         `json:"visit_id"`
	Type       string         `json:"type"`
	Rating     int            `json:"rating"`
	Platform   *string        `json:"platform,omitempty"`
	URL        *string        `json:"url,omitempty"`
	Text       *string        `json:"text,omitempty"`
	OccurredAt string         `json:"occurred_at"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ListOutcomesResponse is the response body for a campaign's outcomes.
type ListOutcomesResponse struct {
	CampaignID int64         `json:"campaign_id"`
	Outcomes   []OutcomeInfo `json:"outcomes"`
}

// SaveIntegrationRequest is the request body for storing integration credentials.
type SaveIntegrationRequest struct {
	DisplayName string         `json:"display_name,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Credentials map[string]any `json:"credentials"`
}

// IntegrationInfo describes an integration. Credentials are never included.
type IntegrationInfo struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	DisplayName string         `json:"display_name"`
	Config      map[string]any `json:"config"`
	IsActive    bool           `json:"is_active"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

// ListIntegrationsResponse is the response body for listing integrations.
type ListIntegrationsResponse struct {
	Integrations []IntegrationInfo `json:"integrations"`
}

// PluginInfo describes a registered outcome plugin.
type PluginInfo struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Enabled bool           `json:"enabled"`
	Config  map[string]any `json:"config,omitempty"`
}

// ListPluginsResponse is the response body for listing plugins.
type ListPluginsResponse struct {
	Plugins []PluginInfo `json:"plugins"`
}

// DeletedResponse acknowledges a deletion or revocation.
type DeletedResponse struct {
	Deleted bool `json:"deleted"`
}

// LinkCampaign is the public view of a campaign on the magic-link page.
type LinkCampaign struct {
	Name string `json:"name"`
}

// LinkRequest is the body of every magic-link transition.
type LinkRequest struct {
	Session  string `json:"session"`
	Rating   int    `json:"rating,omitempty"`
	Text     string `json:"text,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// LinkOutcome is the terminal outcome shown to the customer.
type LinkOutcome struct {
	Type     string `json:"type"`
	Platform string `json:"platform,omitempty"`
}

// LinkResponse is returned by every magic-link endpoint.
type LinkResponse struct {
	Session     string            `json:"session,omitempty"`
	State       string            `json:"state"`
	Campaign    *LinkCampaign     `json:"campaign,omitempty"`
	Prompt      string            `json:"prompt,omitempty"`
	Rating      int               `json:"rating,omitempty"`
	Choices     []platform.Choice `json:"choices,omitempty"`
	Outcome     *LinkOutcome      `json:"outcome,omitempty"`
	RedirectURL string            `json:"redirect_url,omitempty"`
	Message     string            `json:"message,omitempty"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
