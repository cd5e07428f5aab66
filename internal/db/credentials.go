package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rsclarke/tallyview/internal/models"
)

// ErrDuplicateHash is returned when a credential's secret hash already exists.
var ErrDuplicateHash = errors.New("duplicate secret hash")

// ErrNoRows is returned by updates that matched nothing.
var ErrNoRows = errors.New("no rows affected")

const credentialColumns = "id, tenant_id, display_name, secret_hash, secret_ciphertext, prefix_hint, is_active, created_at, expires_at, last_used_at"

// InsertCredential inserts a new credential record.
func InsertCredential(ctx context.Context, d *sql.DB, c *models.Credential) error {
	_, err := d.ExecContext(ctx,
		"INSERT INTO credentials ("+credentialColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		c.ID, c.TenantID, c.DisplayName, c.SecretHash, c.SecretCiphertext, c.PrefixHint,
		boolToInt(c.IsActive), c.CreatedAt, c.ExpiresAt, c.LastUsedAt,
	)
	if isUniqueViolation(err, "credentials.secret_hash") {
		return ErrDuplicateHash
	}
	return err
}

// GetCredentialByHash retrieves a credential by its secret hash.
func GetCredentialByHash(ctx context.Context, d *sql.DB, hash []byte) (*models.Credential, error) {
	row := d.QueryRowContext(ctx, "SELECT "+credentialColumns+" FROM credentials WHERE secret_hash = ?", hash)
	return scanCredential(row)
}

// GetCredentialByID retrieves a credential by its ID.
func GetCredentialByID(ctx context.Context, d *sql.DB, id string) (*models.Credential, error) {
	row := d.QueryRowContext(ctx, "SELECT "+credentialColumns+" FROM credentials WHERE id = ?", id)
	return scanCredential(row)
}

// ListCredentialsByTenant returns a tenant's credentials, newest first.
func ListCredentialsByTenant(ctx context.Context, d *sql.DB, tenantID string) ([]models.Credential, error) {
	rows, err := d.QueryContext(ctx,
		"SELECT "+credentialColumns+" FROM credentials WHERE tenant_id = ? ORDER BY created_at DESC, id",
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []models.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *c)
	}
	return creds, rows.Err()
}

// CountActiveCredentials returns the number of active credentials for a tenant.
func CountActiveCredentials(ctx context.Context, d *sql.DB, tenantID string) (int, error) {
	var count int
	err := d.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM credentials WHERE tenant_id = ? AND is_active = 1",
		tenantID,
	).Scan(&count)
	return count, err
}

// UpdateCredential applies the non-nil fields of patch. It returns
// ErrNoRows if no credential has the given ID.
func UpdateCredential(ctx context.Context, d *sql.DB, id string, patch models.CredentialPatch) error {
	var sets []string
	var args []any
	if patch.DisplayName != nil {
		sets = append(sets, "display_name = ?")
		args = append(args, *patch.DisplayName)
	}
	if patch.IsActive != nil {
		sets = append(sets, "is_active = ?")
		args = append(args, boolToInt(*patch.IsActive))
	}

	query := "UPDATE credentials SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if len(sets) == 0 {
		// Nothing to change; still report unknown IDs.
		query = "UPDATE credentials SET id = id WHERE id = ?"
	}
	args = append(args, id)

	result, err := d.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
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

// TouchCredential sets last_used_at. Concurrent callers race; the last write wins.
func TouchCredential(ctx context.Context, d *sql.DB, id string, usedAt int64) error {
	_, err := d.ExecContext(ctx, "UPDATE credentials SET last_used_at = ? WHERE id = ?", usedAt, id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (*models.Credential, error) {
	var c models.Credential
	var active int
	err := row.Scan(&c.ID, &c.TenantID, &c.DisplayName, &c.SecretHash, &c.SecretCiphertext,
		&c.PrefixHint, &active, &c.CreatedAt, &c.ExpiresAt, &c.LastUsedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.IsActive = active != 0
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
