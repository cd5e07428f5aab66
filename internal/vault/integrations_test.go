package vault

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rsclarke/tallyview/internal/crypt"
	"github.com/rsclarke/tallyview/internal/errdefs"
)

func TestSaveIntegrationNeverExposesCredentials(t *testing.T) {
	v, store := newTestVault(t)
	ctx := context.Background()

	rec, err := v.SaveIntegration(ctx, IntegrationRequest{
		TenantID:    "t",
		Type:        "twilio",
		Config:      map[string]any{"from": "+15550100"},
		Credentials: map[string]any{"auth_token": "very-secret-token"},
	})
	require.NoError(t, err)
	assert.Equal(t, "twilio", rec.DisplayName)
	assert.JSONEq(t, `{"from":"+15550100"}`, string(rec.Config))

	encoded, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "very-secret-token")
	assert.NotContains(t, string(encoded), "credentials")

	stored := store.integrations["t/twilio"]
	assert.NotContains(t, string(stored.CredentialsCiphertext), "very-secret-token")

	secrets, err := v.IntegrationSecrets(ctx, "t", "twilio")
	require.NoError(t, err)
	assert.Equal(t, "very-secret-token", secrets["auth_token"])
}

func TestSaveIntegrationReplaces(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	first, err := v.SaveIntegration(ctx, IntegrationRequest{
		TenantID: "t", Type: "sendgrid", Credentials: map[string]any{"api_key": "one"},
	})
	require.NoError(t, err)
	second, err := v.SaveIntegration(ctx, IntegrationRequest{
		TenantID: "t", Type: "sendgrid", DisplayName: "Mail", Credentials: map[string]any{"api_key": "two"},
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Mail", second.DisplayName)

	secrets, err := v.IntegrationSecrets(ctx, "t", "sendgrid")
	require.NoError(t, err)
	assert.Equal(t, "two", secrets["api_key"])

	list, err := v.ListIntegrations(ctx, "t")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSaveIntegrationValidation(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		req   IntegrationRequest
		field string
	}{
		{"missing type", IntegrationRequest{TenantID: "t", Credentials: map[string]any{"k": "v"}}, "type"},
		{"bad type", IntegrationRequest{TenantID: "t", Type: "Google Business", Credentials: map[string]any{"k": "v"}}, "type"},
		{"no credentials", IntegrationRequest{TenantID: "t", Type: "google_business"}, "credentials"},
		{"empty credentials", IntegrationRequest{TenantID: "t", Type: "google_business", Credentials: map[string]any{}}, "credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.SaveIntegration(ctx, tt.req)
			var verr *errdefs.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestIntegrationSecretsTampered(t *testing.T) {
	v, store := newTestVault(t)
	ctx := context.Background()

	_, err := v.SaveIntegration(ctx, IntegrationRequest{
		TenantID: "t", Type: "twilio", Credentials: map[string]any{"auth_token": "x"},
	})
	require.NoError(t, err)

	stored := store.integrations["t/twilio"]
	stored.CredentialsCiphertext[len(stored.CredentialsCiphertext)-1] ^= 0xff

	_, err = v.IntegrationSecrets(ctx, "t", "twilio")
	assert.ErrorIs(t, err, errdefs.ErrIntegrity)
}

func TestIntegrationCiphersArePurposeBound(t *testing.T) {
	v, store := newTestVault(t)
	ctx := context.Background()

	_, err := v.SaveIntegration(ctx, IntegrationRequest{
		TenantID: "t", Type: "twilio", Credentials: map[string]any{"auth_token": "x"},
	})
	require.NoError(t, err)

	secrets, err := crypt.New(testMasterKey, crypt.PurposeCredentialSecret)
	require.NoError(t, err)
	_, err = secrets.Decrypt(store.integrations["t/twilio"].CredentialsCiphertext)
	assert.ErrorIs(t, err, errdefs.ErrIntegrity)
}

func TestDeleteIntegration(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	_, err := v.SaveIntegration(ctx, IntegrationRequest{
		TenantID: "t", Type: "twilio", Credentials: map[string]any{"auth_token": "x"},
	})
	require.NoError(t, err)

	require.NoError(t, v.DeleteIntegration(ctx, "t", "twilio"))
	assert.ErrorIs(t, v.DeleteIntegration(ctx, "t", "twilio"), errdefs.ErrNotFound)

	_, err = v.GetIntegration(ctx, "t", "twilio")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	_, err = v.IntegrationSecrets(ctx, "t", "twilio")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}
