// Package server implements the tenant API and the public magic-link servers.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rsclarke/tallyview/internal/errdefs"
	"github.com/rsclarke/tallyview/internal/logging"
	"github.com/rsclarke/tallyview/internal/models"
	"github.com/rsclarke/tallyview/internal/plugins"
	"github.com/rsclarke/tallyview/internal/store"
	"github.com/rsclarke/tallyview/internal/types"
	"github.com/rsclarke/tallyview/internal/vault"
)

type contextKey string

const principalContextKey contextKey = "principal"

func getPrincipal(r *http.Request) *vault.Principal {
	if p, ok := r.Context().Value(principalContextKey).(*vault.Principal); ok {
		return p
	}
	return nil
}

const defaultOutcomeLimit = 100

// APIServer handles the tenant REST API for keys, campaigns and integrations.
type APIServer struct {
	Vault     *vault.Vault
	Store     *store.SQLiteStore
	Plugins   plugins.PluginRegistry
	PublicURL string
	Logger    *zap.Logger
}

// AuthMiddleware validates bearer API keys. Every failure is reported as the
// same 401 so callers cannot tell why a key was rejected.
func (s *APIServer) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		var principal *vault.Principal
		if strings.HasPrefix(authHeader, "Bearer ") {
			principal = s.Vault.Verify(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
		}
		if principal == nil {
			s.logger().Debug("unauthorized request",
				logging.RemoteIP(r.RemoteAddr),
				logging.Path(r.URL.Path),
				logging.Status(http.StatusUnauthorized))
			writeJSON(w, http.StatusUnauthorized, types.ErrorResponse{Error: "unauthorized"})
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Handler returns the HTTP handler for the API server.
func (s *APIServer) Handler() http.Handler {
	v1 := http.NewServeMux()
	v1.HandleFunc("GET /v1/keys", s.handleListKeys)
	v1.HandleFunc("POST /v1/keys", s.handleCreateKey)
	v1.HandleFunc("DELETE /v1/keys/{id}", s.handleRevokeKey)
	v1.HandleFunc("POST /v1/keys/{id}/toggle", s.handleToggleKey)

	v1.HandleFunc("GET /v1/campaigns", s.handleListCampaigns)
	v1.HandleFunc("POST /v1/campaigns", s.handleCreateCampaign)
	v1.HandleFunc("GET /v1/campaigns/{id}", s.handleGetCampaign)
	v1.HandleFunc("POST /v1/campaigns/{id}/status", s.handleSetCampaignStatus)
	v1.HandleFunc("GET /v1/campaigns/{id}/outcomes", s.handleListOutcomes)

	v1.HandleFunc("GET /v1/integrations", s.handleListIntegrations)
	v1.HandleFunc("PUT /v1/integrations/{type}", s.handleSaveIntegration)
	v1.HandleFunc("DELETE /v1/integrations/{type}", s.handleDeleteIntegration)

	v1.HandleFunc("GET /v1/plugins", s.handleListPlugins)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/v1/", s.AuthMiddleware(v1))

	return instrument("api", mux)
}

func (s *APIServer) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *APIServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	fields := []zap.Field{logging.Method(r.Method), logging.Path(r.URL.Path)}
	if p := getPrincipal(r); p != nil {
		fields = append(fields, logging.TenantID(p.TenantID))
	}
	writeError(w, s.logger().With(fields...), err)
}

func keyInfo(c *models.Credential) types.KeyInfo {
	return types.KeyInfo{
		ID:          c.ID,
		DisplayName: c.DisplayName,
		PrefixHint:  c.PrefixHint,
		IsActive:    c.IsActive,
		CreatedAt:   formatUnix(c.CreatedAt),
		ExpiresAt:   formatUnixPtr(c.ExpiresAt),
		LastUsedAt:  formatUnixPtr(c.LastUsedAt),
	}
}

func (s *APIServer) handleListKeys(w http.ResponseWriter, r *http.Request) {
	creds, err := s.Vault.List(r.Context(), getPrincipal(r).TenantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := types.ListKeysResponse{Keys: make([]types.KeyInfo, 0, len(creds))}
	for i := range creds {
		resp.Keys = append(resp.Keys, keyInfo(&creds[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req types.CreateKeyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	issued, err := s.Vault.IssueKey(r.Context(), vault.IssueRequest{
		TenantID:      getPrincipal(r).TenantID,
		DisplayName:   req.DisplayName,
		ExpiresInDays: req.ExpiresInDays,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, types.CreateKeyResponse{
		Key:    keyInfo(issued.Record),
		Secret: issued.RawSecret,
	})
}

// ownedKey returns the credential if it belongs to the caller's tenant.
// Keys of other tenants are reported as not found.
func (s *APIServer) ownedKey(r *http.Request) (*models.Credential, error) {
	rec, err := s.Vault.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		return nil, err
	}
	if rec.TenantID != getPrincipal(r).TenantID {
		return nil, errdefs.ErrNotFound
	}
	return rec, nil
}

func (s *APIServer) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ownedKey(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Vault.Revoke(r.Context(), rec.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.DeletedResponse{Deleted: true})
}

func (s *APIServer) handleToggleKey(w http.ResponseWriter, r *http.Request) {
	rec, err := s.ownedKey(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	updated, err := s.Vault.ToggleActive(r.Context(), rec.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keyInfo(updated))
}

func (s *APIServer) campaignInfo(c *models.Campaign, f *models.Funnel) types.CampaignInfo {
	info := types.CampaignInfo{
		ID:                   c.ID,
		Name:                 c.Name,
		Token:                c.Token,
		Link:                 strings.TrimRight(s.PublicURL, "/") + "/r/" + c.Token,
		Status:               c.Status,
		TargetPlatforms:      c.TargetPlatforms,
		PlatformProfiles:     c.PlatformProfiles,
		ReputationProtection: c.ReputationProtection,
		ReputationThreshold:  c.ReputationThreshold,
		MessageTemplate:      c.MessageTemplate,
		CreatedAt:            formatUnix(c.CreatedAt),
	}
	if f != nil {
		info.Funnel = &types.FunnelCounts{
			Opened:   f.Opened,
			Rated:    f.Rated,
			Feedback: f.Feedback,
			Referred: f.Referred,
			Declined: f.Declined,
		}
	}
	return info
}

func campaignID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errdefs.Validation("id", "must be a positive integer")
	}
	return id, nil
}

func (s *APIServer) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.Store.ListCampaigns(r.Context(), getPrincipal(r).TenantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := types.ListCampaignsResponse{Campaigns: make([]types.CampaignInfo, 0, len(campaigns))}
	for i := range campaigns {
		resp.Campaigns = append(resp.Campaigns, s.campaignInfo(&campaigns[i].Campaign, &campaigns[i].Funnel))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req store.NewCampaign
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	req.TenantID = getPrincipal(r).TenantID

	c, err := s.Store.CreateCampaign(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger().Info("campaign created",
		logging.TenantID(c.TenantID),
		logging.CampaignID(c.ID))
	writeJSON(w, http.StatusCreated, s.campaignInfo(c, nil))
}

func (s *APIServer) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.Store.GetCampaign(r.Context(), getPrincipal(r).TenantID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	f, err := s.Store.GetFunnel(r.Context(), c.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.campaignInfo(c, &f))
}

func (s *APIServer) handleSetCampaignStatus(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req types.SetStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	tenantID := getPrincipal(r).TenantID
	if err := s.Store.SetCampaignStatus(r.Context(), tenantID, id, req.Status); err != nil {
		s.fail(w, r, err)
		return
	}
	c, err := s.Store.GetCampaign(r.Context(), tenantID, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.campaignInfo(c, nil))
}

func (s *APIServer) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	id, err := campaignID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit := defaultOutcomeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			s.fail(w, r, errdefs.Validation("limit", "must be between 1 and 1000"))
			return
		}
		limit = n
	}

	outcomes, err := s.Store.ListOutcomes(r.Context(), getPrincipal(r).TenantID, id, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := types.ListOutcomesResponse{
		CampaignID: id,
		Outcomes:   make([]types.OutcomeInfo, 0, len(outcomes)),
	}
	for _, o := range outcomes {
		info := types.OutcomeInfo{
			ID:         o.ID,
			VisitID:    o.VisitID,
			Type:       o.Type,
			Rating:     o.Rating,
			Platform:   o.Platform,
			URL:        o.URL,
			Text:       o.Text,
			OccurredAt: formatUnix(o.OccurredAt),
		}
		if len(o.Attributes) > 0 {
			info.Attributes = o.Attributes
		}
		resp.Outcomes = append(resp.Outcomes, info)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) integrationInfo(i *models.Integration) types.IntegrationInfo {
	info := types.IntegrationInfo{
		ID:          i.ID,
		Type:        i.Type,
		DisplayName: i.DisplayName,
		Config:      map[string]any{},
		IsActive:    i.IsActive,
		CreatedAt:   formatUnix(i.CreatedAt),
		UpdatedAt:   formatUnix(i.UpdatedAt),
	}
	if len(i.Config) > 0 {
		if err := json.Unmarshal(i.Config, &info.Config); err != nil {
			s.logger().Warn("stored integration config is not valid JSON",
				logging.TenantID(i.TenantID),
				zap.String("integration", i.Type),
				zap.Error(err))
		}
	}
	return info
}

func (s *APIServer) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	list, err := s.Vault.ListIntegrations(r.Context(), getPrincipal(r).TenantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := types.ListIntegrationsResponse{Integrations: make([]types.IntegrationInfo, 0, len(list))}
	for i := range list {
		resp.Integrations = append(resp.Integrations, s.integrationInfo(&list[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleSaveIntegration(w http.ResponseWriter, r *http.Request) {
	var req types.SaveIntegrationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	saved, err := s.Vault.SaveIntegration(r.Context(), vault.IntegrationRequest{
		TenantID:    getPrincipal(r).TenantID,
		Type:        r.PathValue("type"),
		DisplayName: req.DisplayName,
		Config:      req.Config,
		Credentials: req.Credentials,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.integrationInfo(saved))
}

func (s *APIServer) handleDeleteIntegration(w http.ResponseWriter, r *http.Request) {
	if err := s.Vault.DeleteIntegration(r.Context(), getPrincipal(r).TenantID, r.PathValue("type")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.DeletedResponse{Deleted: true})
}

func (s *APIServer) handleListPlugins(w http.ResponseWriter, _ *http.Request) {
	resp := types.ListPluginsResponse{Plugins: []types.PluginInfo{}}
	if s.Plugins != nil {
		for _, p := range s.Plugins.ListPlugins() {
			resp.Plugins = append(resp.Plugins, types.PluginInfo{
				ID:      p.ID,
				Type:    string(p.Type),
				Enabled: p.Enabled,
				Config:  p.Config,
			})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
