package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RecordVisitRating stores the first rating of a visit. It returns the
// rating on record and whether this call stored it. Later calls never
// replace the stored rating.
func RecordVisitRating(ctx context.Context, d *sql.DB, campaignID int64, visitID string, rating int) (int, bool, error) {
	result, err := d.ExecContext(ctx, `
		INSERT INTO visit_ratings (visit_id, campaign_id, rating, rated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (visit_id) DO NOTHING
	`, visitID, campaignID, rating, time.Now().Unix())
	if err != nil {
		return 0, false, fmt.Errorf("insert visit rating: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if n == 1 {
		return rating, true, nil
	}

	var stored int
	if err := d.QueryRowContext(ctx,
		"SELECT rating FROM visit_ratings WHERE visit_id = ?", visitID,
	).Scan(&stored); err != nil {
		return 0, false, fmt.Errorf("read visit rating: %w", err)
	}
	return stored, false, nil
}
