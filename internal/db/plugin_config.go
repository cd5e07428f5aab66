package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SetCampaignPluginConfig stores a plugin's settings for one campaign as JSON,
// replacing any previous value.
func SetCampaignPluginConfig(ctx context.Context, d *sql.DB, campaignID int64, pluginID string, config any) error {
	encoded, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("encode %s config: %w", pluginID, err)
	}
	if _, err := d.ExecContext(ctx, `
		INSERT INTO campaign_plugin_config (campaign_id, plugin_id, config) VALUES (?, ?, ?)
		ON CONFLICT (campaign_id, plugin_id) DO UPDATE SET config = excluded.config`,
		campaignID, pluginID, string(encoded)); err != nil {
		return fmt.Errorf("save %s config: %w", pluginID, err)
	}
	return nil
}

// GetCampaignPluginConfig decodes a plugin's settings for a campaign into out.
// It reports false, with no error, when the campaign has no settings for the
// plugin.
func GetCampaignPluginConfig(ctx context.Context, d *sql.DB, campaignID int64, pluginID string, out any) (bool, error) {
	var raw string
	err := d.QueryRowContext(ctx,
		"SELECT config FROM campaign_plugin_config WHERE campaign_id = ? AND plugin_id = ?",
		campaignID, pluginID).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("load %s config: %w", pluginID, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode %s config: %w", pluginID, err)
	}
	return true, nil
}

// DeleteCampaignPluginConfig removes a plugin's settings for a campaign.
func DeleteCampaignPluginConfig(ctx context.Context, d *sql.DB, campaignID int64, pluginID string) error {
	if _, err := d.ExecContext(ctx,
		"DELETE FROM campaign_plugin_config WHERE campaign_id = ? AND plugin_id = ?",
		campaignID, pluginID); err != nil {
		return fmt.Errorf("delete %s config: %w", pluginID, err)
	}
	return nil
}
