// Package plugins defines the plugin interfaces and capability hooks for the outcome pipeline.
package plugins

import (
	"context"

	"go.uber.org/zap"

	"github.com/rsclarke/tallyview/internal/events"
)

// Plugin is the base interface all plugins must implement.
type Plugin interface {
	ID() string
	Init(ctx InitContext) error
}

// InitContext provides access to shared resources during plugin initialization.
type InitContext struct {
	Logger    *zap.Logger
	Store     Store
	Campaigns CampaignConfigView
}

// Store provides storage operations for plugins.
type Store interface {
	RecordOutcome(ctx context.Context, draft *events.OutcomeDraft) (id int64, created bool, err error)
	SaveAttributes(ctx context.Context, outcomeID int64, attrs map[string]any) error
}

// CampaignConfigView provides read access to per-campaign plugin configuration.
type CampaignConfigView interface {
	Get(ctx context.Context, campaignID int64, pluginID string, out any) (bool, error)
}

// PreRecordHook is called before the outcome is persisted.
type PreRecordHook interface {
	OnPreRecord(ctx context.Context, e *events.Event) error
}

// PostRecordHook is called after the outcome is persisted.
type PostRecordHook interface {
	OnPostRecord(ctx context.Context, e *events.Event) error
}

// PluginType indicates whether a plugin is core infrastructure or a feature plugin.
type PluginType string

// Plugin type constants.
const (
	PluginTypeCore    PluginType = "core"
	PluginTypeFeature PluginType = "feature"
)

// CorePlugin is an optional interface that core plugins can implement.
type CorePlugin interface {
	IsCore() bool
}

// ConfigurablePlugin is an optional interface for plugins that expose global configuration.
type ConfigurablePlugin interface {
	Config() map[string]any
}

// PluginInfo contains metadata about a registered plugin.
type PluginInfo struct {
	ID      string         `json:"id"`
	Type    PluginType     `json:"type"`
	Enabled bool           `json:"enabled"`
	Config  map[string]any `json:"config,omitempty"`
}

// PluginRegistry provides read access to registered plugins.
type PluginRegistry interface {
	ListPlugins() []PluginInfo
}
