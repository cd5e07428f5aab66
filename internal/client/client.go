// Package client is a small HTTP client for the management API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rsclarke/tallyview/internal/store"
	"github.com/rsclarke/tallyview/internal/types"
)

// Client calls the management API with a bearer API key.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a Client for baseURL.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
	Field      string
}

func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (c *Client) ListKeys() (*types.ListKeysResponse, error) {
	var result types.ListKeysResponse
	return &result, c.do("GET", "/v1/keys", nil, &result)
}

func (c *Client) CreateKey(displayName string, expiresInDays *int) (*types.CreateKeyResponse, error) {
	var result types.CreateKeyResponse
	req := types.CreateKeyRequest{DisplayName: displayName, ExpiresInDays: expiresInDays}
	return &result, c.do("POST", "/v1/keys", req, &result)
}

func (c *Client) RevokeKey(id string) error {
	return c.do("DELETE", "/v1/keys/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ToggleKey(id string) (*types.KeyInfo, error) {
	var result types.KeyInfo
	return &result, c.do("POST", "/v1/keys/"+url.PathEscape(id)+"/toggle", nil, &result)
}

func (c *Client) ListCampaigns() (*types.ListCampaignsResponse, error) {
	var result types.ListCampaignsResponse
	return &result, c.do("GET", "/v1/campaigns", nil, &result)
}

func (c *Client) CreateCampaign(nc store.NewCampaign) (*types.CampaignInfo, error) {
	var result types.CampaignInfo
	return &result, c.do("POST", "/v1/campaigns", nc, &result)
}

func (c *Client) GetCampaign(id int64) (*types.CampaignInfo, error) {
	var result types.CampaignInfo
	return &result, c.do("GET", "/v1/campaigns/"+strconv.FormatInt(id, 10), nil, &result)
}

func (c *Client) SetCampaignStatus(id int64, status string) (*types.CampaignInfo, error) {
	var result types.CampaignInfo
	path := "/v1/campaigns/" + strconv.FormatInt(id, 10) + "/status"
	return &result, c.do("POST", path, types.SetStatusRequest{Status: status}, &result)
}

func (c *Client) ListOutcomes(campaignID int64, limit int) (*types.ListOutcomesResponse, error) {
	var result types.ListOutcomesResponse
	path := "/v1/campaigns/" + strconv.FormatInt(campaignID, 10) + "/outcomes"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	return &result, c.do("GET", path, nil, &result)
}

func (c *Client) ListIntegrations() (*types.ListIntegrationsResponse, error) {
	var result types.ListIntegrationsResponse
	return &result, c.do("GET", "/v1/integrations", nil, &result)
}

func (c *Client) SaveIntegration(integrationType string, req types.SaveIntegrationRequest) (*types.IntegrationInfo, error) {
	var result types.IntegrationInfo
	return &result, c.do("PUT", "/v1/integrations/"+url.PathEscape(integrationType), req, &result)
}

func (c *Client) DeleteIntegration(integrationType string) error {
	return c.do("DELETE", "/v1/integrations/"+url.PathEscape(integrationType), nil, nil)
}

func (c *Client) ListPlugins() (*types.ListPluginsResponse, error) {
	var result types.ListPluginsResponse
	return &result, c.do("GET", "/v1/plugins", nil, &result)
}

func (c *Client) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("request failed with status %d", resp.StatusCode)}
	}

	var errResp types.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("request failed with status %d: %s", resp.StatusCode, string(body))}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, Field: errResp.Field}
}
