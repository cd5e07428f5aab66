// Package vault issues, verifies and revokes tenant API keys and keeps
// third-party integration credentials encrypted at rest.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rsclarke/tallyview/internal/auth"
	"github.com/rsclarke/tallyview/internal/crypt"
	"github.com/rsclarke/tallyview/internal/errdefs"
	"github.com/rsclarke/tallyview/internal/logging"
	"github.com/rsclarke/tallyview/internal/metrics"
	"github.com/rsclarke/tallyview/internal/models"
)

const maxIssueAttempts = 3

// Vault is the credential vault.
type Vault struct {
	store        Store
	secrets      *crypt.Cipher
	integrations *crypt.Cipher
	logger       *zap.Logger

	// Now returns the current time. Tests may replace it.
	Now func() time.Time
}

// Principal identifies the owner of a verified API key.
type Principal struct {
	TenantID     string
	CredentialID string
}

// IssueRequest describes a key to issue.
type IssueRequest struct {
	TenantID      string `json:"tenant_id" validate:"required,max=128"`
	DisplayName   string `json:"display_name" validate:"required,max=100"`
	ExpiresInDays *int   `json:"expires_in_days" validate:"omitempty,gte=1,lte=3650"`
}

// Issued is a freshly issued key. RawSecret is not retrievable again through
// the issuance path.
type Issued struct {
	Record    *models.Credential
	RawSecret string
}

// New returns a Vault. Both ciphers are required.
func New(store Store, secrets, integrations *crypt.Cipher, logger *zap.Logger) (*Vault, error) {
	if store == nil {
		return nil, errors.New("vault: store is required")
	}
	if secrets == nil || integrations == nil {
		return nil, fmt.Errorf("%w: vault requires credential and integration ciphers", errdefs.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vault{
		store:        store,
		secrets:      secrets,
		integrations: integrations,
		logger:       logger.Named("vault"),
		Now:          time.Now,
	}, nil
}

// IssueKey generates a new API key for a tenant and persists its record.
func (v *Vault) IssueKey(ctx context.Context, req IssueRequest) (*Issued, error) {
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := errdefs.Struct(req); err != nil {
		return nil, err
	}

	var expiresAt *int64
	if req.ExpiresInDays != nil {
		ts := v.Now().Add(time.Duration(*req.ExpiresInDays) * 24 * time.Hour).Unix()
		expiresAt = &ts
	}

	issued, err := v.issue(ctx, req.TenantID, req.DisplayName, expiresAt)
	if err != nil {
		metrics.CredentialOperations.WithLabelValues("issue", "error").Inc()
		return nil, err
	}
	metrics.CredentialOperations.WithLabelValues("issue", "ok").Inc()
	v.logger.Info("credential issued",
		logging.TenantID(issued.Record.TenantID),
		logging.CredentialID(issued.Record.ID),
		logging.PrefixHint(issued.Record.PrefixHint),
	)
	return issued, nil
}

func (v *Vault) issue(ctx context.Context, tenantID, name string, expiresAt *int64) (*Issued, error) {
	for attempt := 1; ; attempt++ {
		secret, err := auth.GenerateSecret()
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		ciphertext, err := v.secrets.Encrypt([]byte(secret))
		if err != nil {
			return nil, fmt.Errorf("encrypt secret: %w", err)
		}

		rec := &models.Credential{
			ID:               uuid.NewString(),
			TenantID:         tenantID,
			DisplayName:      name,
			SecretHash:       auth.HashSecret(secret),
			SecretCiphertext: ciphertext,
			PrefixHint:       auth.PrefixHint(secret),
			IsActive:         true,
			CreatedAt:        v.Now().Unix(),
			ExpiresAt:        expiresAt,
		}

		err = v.store.InsertCredential(ctx, rec)
		if err == nil {
			return &Issued{Record: rec, RawSecret: secret}, nil
		}
		if !errors.Is(err, ErrDuplicateHash) || attempt >= maxIssueAttempts {
			return nil, fmt.Errorf("insert credential: %w", err)
		}
		v.logger.Warn("secret hash collision, regenerating", zap.Int("attempt", attempt))
	}
}

// Verify returns the owner of raw, or nil if raw does not authenticate. The
// reason for a failure is logged and counted but never returned.
func (v *Vault) Verify(ctx context.Context, raw string) *Principal {
	if err := auth.ParseSecret(raw); err != nil {
		v.reject(metrics.ResultMalformed, logging.PrefixHint(auth.PrefixHint(raw)))
		return nil
	}

	hash := auth.HashSecret(raw)
	rec, err := v.store.FindCredentialByHash(ctx, hash)
	if err != nil {
		metrics.CredentialVerifications.WithLabelValues(metrics.ResultError).Inc()
		v.logger.Error("credential lookup failed", zap.Error(err))
		return nil
	}
	if rec == nil || !auth.CompareHash(rec.SecretHash, hash) {
		v.reject(metrics.ResultNoMatch, logging.PrefixHint(auth.PrefixHint(raw)))
		return nil
	}

	now := v.Now().Unix()
	if !rec.IsActive {
		v.reject(metrics.ResultInactive, logging.CredentialID(rec.ID))
		return nil
	}
	if rec.ExpiresAt != nil && now >= *rec.ExpiresAt {
		v.reject(metrics.ResultExpired, logging.CredentialID(rec.ID))
		return nil
	}

	if err := v.store.TouchCredential(ctx, rec.ID, now); err != nil {
		v.logger.Warn("failed to update last used time", logging.CredentialID(rec.ID), zap.Error(err))
	}
	metrics.CredentialVerifications.WithLabelValues(metrics.ResultOK).Inc()
	return &Principal{TenantID: rec.TenantID, CredentialID: rec.ID}
}

func (v *Vault) reject(result string, fields ...zap.Field) {
	metrics.CredentialVerifications.WithLabelValues(result).Inc()
	v.logger.Debug("credential rejected", append(fields, logging.Reason(result))...)
}

// Get returns a credential record by ID.
func (v *Vault) Get(ctx context.Context, id string) (*models.Credential, error) {
	rec, err := v.store.FindCredentialByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find credential: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("credential %s: %w", id, errdefs.ErrNotFound)
	}
	return rec, nil
}

// List returns a tenant's credential records.
func (v *Vault) List(ctx context.Context, tenantID string) ([]models.Credential, error) {
	return v.store.ListCredentials(ctx, tenantID)
}

// Revoke deactivates a credential. Revoking an inactive credential is a no-op.
func (v *Vault) Revoke(ctx context.Context, id string) error {
	inactive := false
	if err := v.store.UpdateCredential(ctx, id, models.CredentialPatch{IsActive: &inactive}); err != nil {
		metrics.CredentialOperations.WithLabelValues("revoke", "error").Inc()
		return fmt.Errorf("revoke credential %s: %w", id, err)
	}
	metrics.CredentialOperations.WithLabelValues("revoke", "ok").Inc()
	v.logger.Info("credential revoked", logging.CredentialID(id))
	return nil
}

// ToggleActive flips a credential's active flag and returns the updated record.
func (v *Vault) ToggleActive(ctx context.Context, id string) (*models.Credential, error) {
	rec, err := v.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	active := !rec.IsActive
	if err := v.store.UpdateCredential(ctx, id, models.CredentialPatch{IsActive: &active}); err != nil {
		return nil, fmt.Errorf("toggle credential %s: %w", id, err)
	}
	rec.IsActive = active
	metrics.CredentialOperations.WithLabelValues("toggle", "ok").Inc()
	v.logger.Info("credential toggled", logging.CredentialID(id), zap.Bool("active", active))
	return rec, nil
}

// Rename changes a credential's display name.
func (v *Vault) Rename(ctx context.Context, id, name string) (*models.Credential, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errdefs.Validation("display_name", "is required")
	}
	if len(name) > 100 {
		return nil, errdefs.Validation("display_name", "must be at most 100 characters")
	}
	if err := v.store.UpdateCredential(ctx, id, models.CredentialPatch{DisplayName: &name}); err != nil {
		return nil, fmt.Errorf("rename credential %s: %w", id, err)
	}
	return v.Get(ctx, id)
}

// Reveal decrypts a credential's raw secret. It is operator tooling and must
// not be reachable from tenant-facing transports.
func (v *Vault) Reveal(ctx context.Context, id string) (string, error) {
	rec, err := v.Get(ctx, id)
	if err != nil {
		return "", err
	}
	plaintext, err := v.secrets.Decrypt(rec.SecretCiphertext)
	if err != nil {
		if errors.Is(err, errdefs.ErrIntegrity) {
			metrics.DecryptFailures.WithLabelValues(v.secrets.Purpose()).Inc()
			v.logger.Error("credential ciphertext failed authentication", logging.CredentialID(id))
		}
		return "", fmt.Errorf("decrypt credential %s: %w", id, err)
	}
	return string(plaintext), nil
}

// Rotate issues a replacement for an active credential, keeping its tenant,
// name and expiry, and revokes the original.
func (v *Vault) Rotate(ctx context.Context, id string) (*Issued, error) {
	old, err := v.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !old.IsActive {
		return nil, errdefs.Validation("id", "credential is revoked")
	}
	if old.ExpiresAt != nil && v.Now().Unix() >= *old.ExpiresAt {
		return nil, errdefs.Validation("id", "credential has expired")
	}

	issued, err := v.issue(ctx, old.TenantID, old.DisplayName, old.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if err := v.Revoke(ctx, old.ID); err != nil {
		// The replacement's secret never reaches the caller.
		if rerr := v.Revoke(ctx, issued.Record.ID); rerr != nil {
			v.logger.Error("failed to withdraw replacement credential",
				logging.CredentialID(issued.Record.ID),
				zap.Error(rerr),
			)
			err = errors.Join(err, rerr)
		}
		metrics.CredentialOperations.WithLabelValues("rotate", "error").Inc()
		return nil, err
	}
	metrics.CredentialOperations.WithLabelValues("rotate", "ok").Inc()
	v.logger.Info("credential rotated",
		logging.TenantID(old.TenantID),
		logging.CredentialID(issued.Record.ID),
		zap.String("replaced_id", old.ID),
	)
	return issued, nil
}
