package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rsclarke/tallyview/internal/models"
)

// InsertOutcome records a terminal routing outcome. Outcomes are unique per
// visit: a repeated visit ID returns the existing row's ID with created=false.
func InsertOutcome(ctx context.Context, d *sql.DB, o *models.Outcome) (id int64, created bool, err error) {
	result, err := d.ExecContext(ctx, `
		INSERT INTO outcomes (campaign_id, visit_id, type, rating, platform, url, text, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (visit_id) DO NOTHING`,
		o.CampaignID, o.VisitID, o.Type, o.Rating, o.Platform, o.URL, o.Text, o.OccurredAt,
	)
	if err != nil {
		return 0, false, fmt.Errorf("insert outcome: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if n == 1 {
		id, err := result.LastInsertId()
		return id, true, err
	}

	err = d.QueryRowContext(ctx, "SELECT id FROM outcomes WHERE visit_id = ?", o.VisitID).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("lookup existing outcome: %w", err)
	}
	return id, false, nil
}

// ListOutcomesByCampaign returns a campaign's outcomes, newest first.
func ListOutcomesByCampaign(ctx context.Context, d *sql.DB, campaignID int64, limit int) ([]models.Outcome, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.QueryContext(ctx, `
		SELECT id, campaign_id, visit_id, type, rating, platform, url, text, occurred_at
		FROM outcomes
		WHERE campaign_id = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?`,
		campaignID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Outcome
	for rows.Next() {
		var o models.Outcome
		if err := rows.Scan(&o.ID, &o.CampaignID, &o.VisitID, &o.Type, &o.Rating,
			&o.Platform, &o.URL, &o.Text, &o.OccurredAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
