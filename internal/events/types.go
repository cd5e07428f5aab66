// Package events defines the core types used throughout the plugin framework.
package events

// OutcomeDraft represents a terminal routing outcome before storage.
type OutcomeDraft struct {
	CampaignID int64
	TenantID   string
	VisitID    string
	Type       string
	Rating     int
	Platform   string
	URL        string
	Text       string
	OccurredAt int64
	Attributes map[string]any
	Drop       bool
}

// SetAttribute records plugin enrichment data on the draft.
func (d *OutcomeDraft) SetAttribute(key string, value any) {
	if d.Attributes == nil {
		d.Attributes = make(map[string]any)
	}
	d.Attributes[key] = value
}

// Event wraps an outcome draft with its assigned ID after storage.
// Created is false when the visit already had a stored outcome.
type Event struct {
	Draft     *OutcomeDraft
	OutcomeID int64
	Created   bool
}
