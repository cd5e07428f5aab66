// Package models defines the database entity types.
package models

import "encoding/json"

// Credential represents an issued tenant API key.
type Credential struct {
	ID               string `json:"id"`
	TenantID         string `json:"tenant_id"`
	DisplayName      string `json:"display_name"`
	SecretHash       []byte `json:"-"`
	SecretCiphertext []byte `json:"-"`
	PrefixHint       string `json:"prefix_hint"`
	IsActive         bool   `json:"is_active"`
	CreatedAt        int64  `json:"created_at"`
	ExpiresAt        *int64 `json:"expires_at,omitempty"`
	LastUsedAt       *int64 `json:"last_used_at,omitempty"`
}

// CredentialPatch lists the mutable fields of a Credential. Nil fields are
// left unchanged.
type CredentialPatch struct {
	DisplayName *string
	IsActive    *bool
}

// Integration represents a tenant's stored third-party credentials.
type Integration struct {
	ID                    string          `json:"id"`
	TenantID              string          `json:"tenant_id"`
	Type                  string          `json:"type"`
	DisplayName           string          `json:"display_name"`
	Config                json.RawMessage `json:"config"`
	CredentialsCiphertext []byte          `json:"-"`
	IsActive              bool            `json:"is_active"`
	CreatedAt             int64           `json:"created_at"`
	UpdatedAt             int64           `json:"updated_at"`
}

// Campaign represents a review solicitation campaign and its routing policy.
type Campaign struct {
	ID                   int64
	TenantID             string
	Name                 string
	Token                string
	Status               string
	TargetPlatforms      []string
	PlatformProfiles     map[string]string
	ReputationProtection bool
	ReputationThreshold  int
	MessageTemplate      *string
	CreatedAt            int64
}

// Funnel holds the per-campaign counters.
type Funnel struct {
	CampaignID int64
	Opened     int64
	Rated      int64
	Feedback   int64
	Referred   int64
	Declined   int64
}

// Outcome represents a recorded terminal routing event.
type Outcome struct {
	ID         int64
	CampaignID int64
	VisitID    string
	Type       string
	Rating     int
	Platform   *string
	URL        *string
	Text       *string
	OccurredAt int64
}
