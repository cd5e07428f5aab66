package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rsclarke/tallyview/internal/errdefs"
	"github.com/rsclarke/tallyview/internal/logging"
	"github.com/rsclarke/tallyview/internal/metrics"
	"github.com/rsclarke/tallyview/internal/models"
)

// IntegrationRequest describes third-party credentials to store for a tenant.
type IntegrationRequest struct {
	TenantID    string         `json:"tenant_id" validate:"required,max=128"`
	Type        string         `json:"type" validate:"required,max=64,slug"`
	DisplayName string         `json:"display_name" validate:"max=100"`
	Config      map[string]any `json:"config"`
	Credentials map[string]any `json:"credentials" validate:"required,min=1"`
}

// SaveIntegration encrypts and stores a tenant's integration credentials,
// replacing any existing integration of the same type.
func (v *Vault) SaveIntegration(ctx context.Context, req IntegrationRequest) (*models.Integration, error) {
	req.Type = strings.TrimSpace(req.Type)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := errdefs.Struct(req); err != nil {
		return nil, err
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Type
	}

	config, err := json.Marshal(nonNil(req.Config))
	if err != nil {
		return nil, errdefs.Validation("config", err.Error())
	}
	secrets, err := json.Marshal(req.Credentials)
	if err != nil {
		return nil, errdefs.Validation("credentials", err.Error())
	}
	ciphertext, err := v.integrations.Encrypt(secrets)
	if err != nil {
		return nil, fmt.Errorf("encrypt integration credentials: %w", err)
	}

	now := v.Now().Unix()
	rec := &models.Integration{
		ID:                    uuid.NewString(),
		TenantID:              req.TenantID,
		Type:                  req.Type,
		DisplayName:           req.DisplayName,
		Config:                config,
		CredentialsCiphertext: ciphertext,
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := v.store.UpsertIntegration(ctx, rec); err != nil {
		return nil, fmt.Errorf("save integration: %w", err)
	}
	v.logger.Info("integration saved", logging.TenantID(req.TenantID), logging.IntegrationType(req.Type))
	return v.GetIntegration(ctx, req.TenantID, req.Type)
}

// GetIntegration returns a tenant's integration record. Its credentials stay
// encrypted.
func (v *Vault) GetIntegration(ctx context.Context, tenantID, typ string) (*models.Integration, error) {
	rec, err := v.store.FindIntegration(ctx, tenantID, typ)
	if err != nil {
		return nil, fmt.Errorf("find integration: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("integration %s: %w", typ, errdefs.ErrNotFound)
	}
	return rec, nil
}

// ListIntegrations returns a tenant's integration records.
func (v *Vault) ListIntegrations(ctx context.Context, tenantID string) ([]models.Integration, error) {
	return v.store.ListIntegrations(ctx, tenantID)
}

// IntegrationSecrets decrypts a tenant's integration credentials for
// in-process senders.
func (v *Vault) IntegrationSecrets(ctx context.Context, tenantID, typ string) (map[string]any, error) {
	rec, err := v.GetIntegration(ctx, tenantID, typ)
	if err != nil {
		return nil, err
	}
	plaintext, err := v.integrations.Decrypt(rec.CredentialsCiphertext)
	if err != nil {
		if errors.Is(err, errdefs.ErrIntegrity) {
			metrics.DecryptFailures.WithLabelValues(v.integrations.Purpose()).Inc()
			v.logger.Error("integration ciphertext failed authentication",
				logging.TenantID(tenantID), logging.IntegrationType(typ))
		}
		return nil, fmt.Errorf("decrypt integration %s: %w", typ, err)
	}
	var out map[string]any
	if err := json.Unmarshal(plaintext, &out); err != nil {
		return nil, fmt.Errorf("decode integration %s: %w", typ, err)
	}
	return out, nil
}

// DeleteIntegration removes a tenant's integration.
func (v *Vault) DeleteIntegration(ctx context.Context, tenantID, typ string) error {
	if err := v.store.DeleteIntegration(ctx, tenantID, typ); err != nil {
		return fmt.Errorf("delete integration %s: %w", typ, err)
	}
	v.logger.Info("integration deleted", logging.TenantID(tenantID), logging.IntegrationType(typ))
	return nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
