package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rsclarke/tallyview/internal/crypt"
	"github.com/rsclarke/tallyview/internal/db"
	"github.com/rsclarke/tallyview/internal/plugins"
	"github.com/rsclarke/tallyview/internal/plugins/core/alert"
	"github.com/rsclarke/tallyview/internal/plugins/core/storage"
	"github.com/rsclarke/tallyview/internal/router"
	"github.com/rsclarke/tallyview/internal/store"
	"github.com/rsclarke/tallyview/internal/types"
	"github.com/rsclarke/tallyview/internal/vault"
)

type testEnv struct {
	api    *APIServer
	link   *LinkServer
	store  *store.SQLiteStore
	vault  *vault.Vault
	apiKey string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	masterKey := bytes.Repeat([]byte{0x42}, crypt.KeySize)
	secrets, err := crypt.New(masterKey, crypt.PurposeCredentialSecret)
	if err != nil {
		t.Fatalf("secrets cipher: %v", err)
	}
	integrations, err := crypt.New(masterKey, crypt.PurposeIntegrationCredentials)
	if err != nil {
		t.Fatalf("integrations cipher: %v", err)
	}
	sessionKey, err := crypt.DeriveKey(masterKey, crypt.PurposeLinkSession)
	if err != nil {
		t.Fatalf("session key: %v", err)
	}

	st := store.New(database)
	v, err := vault.New(st, secrets, integrations, zap.NewNop())
	if err != nil {
		t.Fatalf("vault: %v", err)
	}

	pipeline := plugins.NewPipeline(zap.NewNop())
	storagePlugin := storage.New(database)
	pipeline.SetStore(storagePlugin)
	pipeline.Register(storagePlugin)
	pipeline.Register(alert.New(3))
	if err := pipeline.Init(plugins.InitContext{Logger: zap.NewNop(), Store: storagePlugin, Campaigns: st}); err != nil {
		t.Fatalf("init plugins: %v", err)
	}

	codec, err := router.NewSessionCodec(sessionKey, 0)
	if err != nil {
		t.Fatalf("session codec: %v", err)
	}

	issued, err := v.IssueKey(context.Background(), vault.IssueRequest{TenantID: "tenant-1", DisplayName: "test"})
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}

	return &testEnv{
		api: &APIServer{
			Vault:     v,
			Store:     st,
			Plugins:   pipeline,
			PublicURL: "https://reviews.example.com/",
			Logger:    zap.NewNop(),
		},
		link: &LinkServer{
			Router: router.New(st, pipeline, st, nil, zap.NewNop()),
			Codec:  codec,
			Logger: zap.NewNop(),
		},
		store:  st,
		vault:  v,
		apiKey: issued.RawSecret,
	}
}

func (e *testEnv) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	e.api.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, "GET", "/v1/keys", "", nil)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}

	var resp map[string]string
	decodeBody(t, w, &resp)
	if resp["error"] != "unauthorized" {
		t.Errorf("expected error 'unauthorized', got %q", resp["error"])
	}
}

func TestAuthMiddleware_InvalidKey(t *testing.T) {
	env := setupTestEnv(t)

	for _, key := range []string{"invalid_key_format", "tlv_" + strings.Repeat("A", 43), env.apiKey + "x"} {
		w := env.do(t, "GET", "/v1/keys", key, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("key %q: expected status 401, got %d", key, w.Code)
		}
	}
}

func TestAuthMiddleware_ValidKey(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, "GET", "/v1/keys", env.apiKey, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp types.ListKeysResponse
	decodeBody(t, w, &resp)
	if len(resp.Keys) != 1 || resp.Keys[0].DisplayName != "test" {
		t.Errorf("unexpected keys: %+v", resp.Keys)
	}
	if resp.Keys[0].LastUsedAt == nil {
		t.Error("expected last_used_at to be set after authentication")
	}
}

func TestAuthMiddleware_RevokedKey(t *testing.T) {
	env := setupTestEnv(t)

	var list types.ListKeysResponse
	decodeBody(t, env.do(t, "GET", "/v1/keys", env.apiKey, nil), &list)

	w := env.do(t, "DELETE", "/v1/keys/"+list.Keys[0].ID, env.apiKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, "GET", "/v1/keys", env.apiKey, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected revoked key to get 401, got %d", w.Code)
	}
}

func TestHealthAndMetricsUnauthenticated(t *testing.T) {
	env := setupTestEnv(t)

	if w := env.do(t, "GET", "/healthz", "", nil); w.Code != http.StatusOK {
		t.Errorf("healthz: expected 200, got %d", w.Code)
	}
	w := env.do(t, "GET", "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "tallyview_") {
		t.Error("expected tallyview metrics in exposition")
	}
}

func TestCreateKey(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, "POST", "/v1/keys", env.apiKey, map[string]any{"display_name": "ci", "expires_in_days": 30})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp types.CreateKeyResponse
	decodeBody(t, w, &resp)
	if !strings.HasPrefix(resp.Secret, "tlv_") {
		t.Errorf("expected tlv_ secret, got %q", resp.Secret)
	}
	if resp.Key.ExpiresAt == nil {
		t.Error("expected expires_at to be set")
	}

	if w := env.do(t, "GET", "/v1/keys", resp.Secret, nil); w.Code != http.StatusOK {
		t.Errorf("new key: expected 200, got %d", w.Code)
	}
}

func TestCreateKeyValidation(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing name", `{}`, http.StatusBadRequest},
		{"unknown field", `{"display_name":"x","tenant_id":"other"}`, http.StatusBadRequest},
		{"trailing data", `{"display_name":"x"}{}`, http.StatusBadRequest},
		{"bad expiry", `{"display_name":"x","expires_in_days":0}`, http.StatusBadRequest},
		{"too large", `{"display_name":"` + strings.Repeat("a", maxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/v1/keys", strings.NewReader(tt.body))
			req.Header.Set("Authorization", "Bearer "+env.apiKey)
			w := httptest.NewRecorder()
			env.api.Handler().ServeHTTP(w, req)
			if w.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}
}

func TestKeysAreTenantScoped(t *testing.T) {
	env := setupTestEnv(t)

	other, err := env.vault.IssueKey(context.Background(), vault.IssueRequest{TenantID: "tenant-2", DisplayName: "other"})
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}

	for _, req := range []struct{ method, path string }{
		{"DELETE", "/v1/keys/" + other.Record.ID},
		{"POST", "/v1/keys/" + other.Record.ID + "/toggle"},
		{"DELETE", "/v1/keys/does-not-exist"},
	} {
		w := env.do(t, req.method, req.path, env.apiKey, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", req.method, req.path, w.Code)
		}
	}

	if w := env.do(t, "GET", "/v1/keys", other.RawSecret, nil); w.Code != http.StatusOK {
		t.Errorf("expected other tenant's key to remain active, got %d", w.Code)
	}
}

func TestToggleKey(t *testing.T) {
	env := setupTestEnv(t)

	second, err := env.vault.IssueKey(context.Background(), vault.IssueRequest{TenantID: "tenant-1", DisplayName: "second"})
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}

	w := env.do(t, "POST", "/v1/keys/"+second.Record.ID+"/toggle", env.apiKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var info types.KeyInfo
	decodeBody(t, w, &info)
	if info.IsActive {
		t.Error("expected key to be inactive after toggle")
	}
	if w := env.do(t, "GET", "/v1/keys", second.RawSecret, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected toggled key to get 401, got %d", w.Code)
	}
}

func TestCampaignLifecycle(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, "POST", "/v1/campaigns", env.apiKey, map[string]any{
		"name":                  "Acme",
		"token":                 "abc123",
		"target_platforms":      []string{"google", "g2"},
		"reputation_protection": true,
		"reputation_threshold":  3,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created types.CampaignInfo
	decodeBody(t, w, &created)
	if created.Link != "https://reviews.example.com/r/abc123" {
		t.Errorf("Link = %q", created.Link)
	}
	if created.Status != "active" {
		t.Errorf("Status = %q, want active", created.Status)
	}

	w = env.do(t, "GET", "/v1/campaigns", env.apiKey, nil)
	var list types.ListCampaignsResponse
	decodeBody(t, w, &list)
	if len(list.Campaigns) != 1 || list.Campaigns[0].Funnel == nil {
		t.Fatalf("unexpected campaigns: %+v", list)
	}

	id := strconv.FormatInt(created.ID, 10)
	w = env.do(t, "POST", "/v1/campaigns/"+id+"/status", env.apiKey, map[string]string{"status": "paused"})
	if w.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, "GET", "/v1/campaigns/"+id, env.apiKey, nil)
	var got types.CampaignInfo
	decodeBody(t, w, &got)
	if got.Status != "paused" {
		t.Errorf("Status = %q, want paused", got.Status)
	}
}

func TestCampaignsAreTenantScoped(t *testing.T) {
	env := setupTestEnv(t)

	c, err := env.store.CreateCampaign(context.Background(), store.NewCampaign{TenantID: "tenant-2", Name: "Other"})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	id := strconv.FormatInt(c.ID, 10)

	for _, path := range []string{"/v1/campaigns/" + id, "/v1/campaigns/" + id + "/outcomes"} {
		if w := env.do(t, "GET", path, env.apiKey, nil); w.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", path, w.Code)
		}
	}
	if w := env.do(t, "GET", "/v1/campaigns/abc/outcomes", env.apiKey, nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", w.Code)
	}
}

func TestIntegrationsNeverExposeCredentials(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, "PUT", "/v1/integrations/twilio", env.apiKey, map[string]any{
		"config":      map[string]any{"from": "+15550100"},
		"credentials": map[string]any{"auth_token": "super-secret-value"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "super-secret-value") {
		t.Error("save response leaked credentials")
	}

	w = env.do(t, "GET", "/v1/integrations", env.apiKey, nil)
	if strings.Contains(w.Body.String(), "super-secret-value") {
		t.Error("list response leaked credentials")
	}
	var list types.ListIntegrationsResponse
	decodeBody(t, w, &list)
	if len(list.Integrations) != 1 || list.Integrations[0].Type != "twilio" || list.Integrations[0].Config["from"] != "+15550100" {
		t.Fatalf("unexpected integrations: %+v", list)
	}

	secrets, err := env.vault.IntegrationSecrets(context.Background(), "tenant-1", "twilio")
	if err != nil {
		t.Fatalf("IntegrationSecrets: %v", err)
	}
	if secrets["auth_token"] != "super-secret-value" {
		t.Errorf("unexpected secrets: %v", secrets)
	}

	if w := env.do(t, "DELETE", "/v1/integrations/twilio", env.apiKey, nil); w.Code != http.StatusOK {
		t.Errorf("delete: expected 200, got %d", w.Code)
	}
	if w := env.do(t, "DELETE", "/v1/integrations/twilio", env.apiKey, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
}

func TestCorruptIntegrationConfigIsLogged(t *testing.T) {
	env := setupTestEnv(t)
	core, logs := observer.New(zap.WarnLevel)
	env.api.Logger = zap.New(core)

	w := env.do(t, "PUT", "/v1/integrations/twilio", env.apiKey, map[string]any{
		"config":      map[string]any{"from": "+15550100"},
		"credentials": map[string]any{"auth_token": "x"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if _, err := env.store.DB().ExecContext(context.Background(),
		"UPDATE integrations SET config = '{broken' WHERE tenant_id = ?", "tenant-1"); err != nil {
		t.Fatalf("corrupt config: %v", err)
	}

	w = env.do(t, "GET", "/v1/integrations", env.apiKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var list types.ListIntegrationsResponse
	decodeBody(t, w, &list)
	if len(list.Integrations) != 1 || len(list.Integrations[0].Config) != 0 {
		t.Fatalf("unexpected integrations: %+v", list)
	}

	entries := logs.FilterMessage("stored integration config is not valid JSON").All()
	if len(entries) != 1 {
		t.Fatalf("expected one warning, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["integration"]; got != "twilio" {
		t.Errorf("integration field = %v", got)
	}
}

func TestSaveIntegrationValidation(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, "PUT", "/v1/integrations/Bad%20Type", env.apiKey, map[string]any{
		"credentials": map[string]any{"k": "v"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed type, got %d", w.Code)
	}

	w = env.do(t, "PUT", "/v1/integrations/slack", env.apiKey, map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing credentials, got %d", w.Code)
	}
}

func TestListPlugins(t *testing.T) {
	env := setupTestEnv(t)

	w := env.do(t, "GET", "/v1/plugins", env.apiKey, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp types.ListPluginsResponse
	decodeBody(t, w, &resp)
	if len(resp.Plugins) != 2 {
		t.Fatalf("expected 2 plugins, got %+v", resp.Plugins)
	}
	if resp.Plugins[0].ID != "storage" || resp.Plugins[0].Type != "core" {
		t.Errorf("unexpected first plugin: %+v", resp.Plugins[0])
	}
	if resp.Plugins[1].ID != "alert" {
		t.Errorf("unexpected second plugin: %+v", resp.Plugins[1])
	}
}
