package db

import (
	"context"
	"database/sql"

	"github.com/rsclarke/tallyview/internal/models"
)

const integrationColumns = "id, tenant_id, type, display_name, config, credentials_ciphertext, is_active, created_at, updated_at"

// UpsertIntegration inserts an integration or replaces the existing one for
// the same tenant and type. The stored ID of an existing row is kept.
func UpsertIntegration(ctx context.Context, d *sql.DB, i *models.Integration) error {
	config := string(i.Config)
	if config == "" {
		config = "{}"
	}
	_, err := d.ExecContext(ctx, `
		INSERT INTO integrations (`+integrationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, type) DO UPDATE SET
			display_name = excluded.display_name,
			config = excluded.config,
			credentials_ciphertext = excluded.credentials_ciphertext,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`, i.ID, i.TenantID, i.Type, i.DisplayName, config, i.CredentialsCiphertext,
		boolToInt(i.IsActive), i.CreatedAt, i.UpdatedAt)
	return err
}

// GetIntegration retrieves a tenant's integration of the given type.
func GetIntegration(ctx context.Context, d *sql.DB, tenantID, typ string) (*models.Integration, error) {
	row := d.QueryRowContext(ctx,
		"SELECT "+integrationColumns+" FROM integrations WHERE tenant_id = ? AND type = ?",
		tenantID, typ,
	)
	return scanIntegration(row)
}

// ListIntegrationsByTenant returns a tenant's integrations ordered by type.
func ListIntegrationsByTenant(ctx context.Context, d *sql.DB, tenantID string) ([]models.Integration, error) {
	rows, err := d.QueryContext(ctx,
		"SELECT "+integrationColumns+" FROM integrations WHERE tenant_id = ? ORDER BY type",
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Integration
	for rows.Next() {
		i, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *i)
	}
	return out, rows.Err()
}

// DeleteIntegration removes a tenant's integration. It returns ErrNoRows if
// none existed.
func DeleteIntegration(ctx context.Context, d *sql.DB, tenantID, typ string) error {
	result, err := d.ExecContext(ctx, "DELETE FROM integrations WHERE tenant_id = ? AND type = ?", tenantID, typ)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRows
	}
	return nil
}

func scanIntegration(row scanner) (*models.Integration, error) {
	var i models.Integration
	var config string
	var active int
	err := row.Scan(&i.ID, &i.TenantID, &i.Type, &i.DisplayName, &config,
		&i.CredentialsCiphertext, &active, &i.CreatedAt, &i.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	i.Config = []byte(config)
	i.IsActive = active != 0
	return &i, nil
}
