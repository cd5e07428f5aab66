package vault

import (
	"context"
	"errors"

	"github.com/rsclarke/tallyview/internal/models"
)

// ErrDuplicateHash is returned by Store.InsertCredential when the secret hash
// is already taken.
var ErrDuplicateHash = errors.New("duplicate secret hash")

// Store persists credentials and integrations.
//
// Find methods return (nil, nil) when nothing matches. UpdateCredential and
// DeleteIntegration return errdefs.ErrNotFound when nothing matches.
type Store interface {
	InsertCredential(ctx context.Context, c *models.Credential) error
	FindCredentialByHash(ctx context.Context, hash []byte) (*models.Credential, error)
	FindCredentialByID(ctx context.Context, id string) (*models.Credential, error)
	UpdateCredential(ctx context.Context, id string, patch models.CredentialPatch) error
	TouchCredential(ctx context.Context, id string, usedAt int64) error
	ListCredentials(ctx context.Context, tenantID string) ([]models.Credential, error)

	UpsertIntegration(ctx context.Context, i *models.Integration) error
	FindIntegration(ctx context.Context, tenantID, typ string) (*models.Integration, error)
	ListIntegrations(ctx context.Context, tenantID string) ([]models.Integration, error)
	DeleteIntegration(ctx context.Context, tenantID, typ string) error
}
