package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// SaveAttributes upserts plugin attributes for an outcome, one JSON-encoded
// row per key.
func SaveAttributes(ctx context.Context, d *sql.DB, outcomeID int64, attrs map[string]any) error {
	if len(attrs) == 0 {
		return nil
	}

	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for key, val := range attrs {
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("encode attribute %q: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO outcome_attributes (outcome_id, key, value) VALUES (?, ?, ?)
			ON CONFLICT (outcome_id, key) DO UPDATE SET value = excluded.value`,
			outcomeID, key, string(encoded)); err != nil {
			return fmt.Errorf("save attribute %q: %w", key, err)
		}
	}
	return tx.Commit()
}

// GetAttributes returns the attributes of one outcome. An outcome without
// attributes yields an empty map.
func GetAttributes(ctx context.Context, d *sql.DB, outcomeID int64) (map[string]any, error) {
	byOutcome, err := GetAttributesForOutcomes(ctx, d, []int64{outcomeID})
	if err != nil {
		return nil, err
	}
	if attrs, ok := byOutcome[outcomeID]; ok {
		return attrs, nil
	}
	return map[string]any{}, nil
}

// GetAttributesForOutcomes loads the attributes of several outcomes in one
// query. Outcomes without attributes are absent from the result.
func GetAttributesForOutcomes(ctx context.Context, d *sql.DB, outcomeIDs []int64) (map[int64]map[string]any, error) {
	out := make(map[int64]map[string]any)
	if len(outcomeIDs) == 0 {
		return out, nil
	}

	args := make([]any, len(outcomeIDs))
	for i, id := range outcomeIDs {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(outcomeIDs)), ",")

	rows, err := d.QueryContext(ctx,
		"SELECT outcome_id, key, value FROM outcome_attributes WHERE outcome_id IN ("+placeholders+")",
		args...)
	if err != nil {
		return nil, fmt.Errorf("query attributes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id         int64
			key, value string
		)
		if err := rows.Scan(&id, &key, &value); err != nil {
			return nil, fmt.Errorf("scan attribute: %w", err)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err != nil {
			return nil, fmt.Errorf("decode attribute %q of outcome %d: %w", key, id, err)
		}
		if out[id] == nil {
			out[id] = make(map[string]any)
		}
		out[id][key] = decoded
	}
	return out, rows.Err()
}
