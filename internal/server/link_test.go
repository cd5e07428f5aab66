package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rsclarke/tallyview/internal/router"
	"github.com/rsclarke/tallyview/internal/store"
	"github.com/rsclarke/tallyview/internal/types"
)

func createLinkCampaign(t *testing.T, env *testEnv) int64 {
	t.Helper()
	c, err := env.store.CreateCampaign(context.Background(), store.NewCampaign{
		TenantID:             "tenant-1",
		Name:                 "Acme",
		Token:                "abc123",
		TargetPlatforms:      []string{"google", "g2"},
		PlatformProfiles:     map[string]string{"google": "ChIJ123"},
		ReputationProtection: true,
		ReputationThreshold:  3,
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	return c.ID
}

func (e *testEnv) visit(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, types.LinkResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.link.Handler().ServeHTTP(w, req)

	var resp types.LinkResponse
	if w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return w, resp
}

func TestLinkFeedbackFlow(t *testing.T) {
	env := setupTestEnv(t)
	campaignID := createLinkCampaign(t, env)

	w, opened := env.visit(t, "GET", "/r/abc123", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("open: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if opened.State != "rating" || opened.Session == "" {
		t.Fatalf("unexpected open response: %+v", opened)
	}
	if opened.Campaign == nil || opened.Campaign.Name != "Acme" {
		t.Errorf("unexpected campaign: %+v", opened.Campaign)
	}
	if opened.Prompt != "How would you rate your experience with Acme?" {
		t.Errorf("Prompt = %q", opened.Prompt)
	}

	w, rated := env.visit(t, "POST", "/r/abc123/rating", types.LinkRequest{Session: opened.Session, Rating: 1})
	if w.Code != http.StatusOK {
		t.Fatalf("rating: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if rated.State != "feedback" || rated.Rating != 1 {
		t.Fatalf("unexpected rating response: %+v", rated)
	}

	w, done := env.visit(t, "POST", "/r/abc123/feedback", types.LinkRequest{Session: rated.Session, Text: "Service was slow"})
	if w.Code != http.StatusOK {
		t.Fatalf("feedback: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if done.State != "done" || done.Session != "" {
		t.Errorf("unexpected done response: %+v", done)
	}
	if done.Outcome == nil || done.Outcome.Type != "feedback" {
		t.Errorf("unexpected outcome: %+v", done.Outcome)
	}
	if done.Message != router.MessageApology {
		t.Errorf("Message = %q, want apology", done.Message)
	}

	outcomes, err := env.store.ListOutcomes(context.Background(), "tenant-1", campaignID, 10)
	if err != nil {
		t.Fatalf("list outcomes: %v", err)
	}
	if len(outcomes) != 1 {
		t.Fatalf("expected 1 outcome, got %d", len(outcomes))
	}
	o := outcomes[0]
	if o.Type != "feedback" || o.Rating != 1 || o.Text == nil || *o.Text != "Service was slow" {
		t.Errorf("unexpected stored outcome: %+v", o)
	}
	if o.Attributes["alert"] != true {
		t.Errorf("expected low rating to be flagged, attrs=%v", o.Attributes)
	}

	f, err := env.store.GetFunnel(context.Background(), campaignID)
	if err != nil {
		t.Fatalf("get funnel: %v", err)
	}
	if f.Opened != 1 || f.Rated != 1 || f.Feedback != 1 {
		t.Errorf("unexpected funnel: %+v", f)
	}

	// Replaying the last session token records nothing new.
	w, _ = env.visit(t, "POST", "/r/abc123/feedback", types.LinkRequest{Session: rated.Session, Text: "Again"})
	if w.Code != http.StatusOK {
		t.Fatalf("replay: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	outcomes, _ = env.store.ListOutcomes(context.Background(), "tenant-1", campaignID, 10)
	if len(outcomes) != 1 {
		t.Errorf("expected replay to be deduplicated, got %d outcomes", len(outcomes))
	}
	f, _ = env.store.GetFunnel(context.Background(), campaignID)
	if f.Feedback != 1 {
		t.Errorf("expected replay not to be counted, feedback=%d", f.Feedback)
	}
}

func TestLinkReferralFlow(t *testing.T) {
	env := setupTestEnv(t)
	createLinkCampaign(t, env)

	_, opened := env.visit(t, "GET", "/r/abc123", nil)
	w, rated := env.visit(t, "POST", "/r/abc123/rating", types.LinkRequest{Session: opened.Session, Rating: 3})
	if w.Code != http.StatusOK {
		t.Fatalf("rating: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if rated.State != "platforms" {
		t.Fatalf("rating equal to threshold should go public, got %q", rated.State)
	}
	if len(rated.Choices) != 2 || rated.Choices[0].ID != "google" || rated.Choices[1].ID != "g2" {
		t.Fatalf("unexpected choices: %+v", rated.Choices)
	}
	if !strings.Contains(rated.Choices[0].URL, "ChIJ123") {
		t.Errorf("expected profile in google URL, got %q", rated.Choices[0].URL)
	}

	w, done := env.visit(t, "POST", "/r/abc123/platform", types.LinkRequest{Session: rated.Session, Platform: "G2"})
	if w.Code != http.StatusOK {
		t.Fatalf("platform: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if done.Outcome == nil || done.Outcome.Type != "platform_referral" || done.Outcome.Platform != "g2" {
		t.Errorf("unexpected outcome: %+v", done.Outcome)
	}
	if done.RedirectURL == "" || done.RedirectURL != rated.Choices[1].URL {
		t.Errorf("RedirectURL = %q, want %q", done.RedirectURL, rated.Choices[1].URL)
	}
	if done.Message != router.MessageGratitude {
		t.Errorf("Message = %q, want gratitude", done.Message)
	}
}

func TestLinkPreferPublicThenDecline(t *testing.T) {
	env := setupTestEnv(t)
	createLinkCampaign(t, env)

	_, opened := env.visit(t, "GET", "/r/abc123", nil)
	_, rated := env.visit(t, "POST", "/r/abc123/rating", types.LinkRequest{Session: opened.Session, Rating: 2})
	w, public := env.visit(t, "POST", "/r/abc123/public", types.LinkRequest{Session: rated.Session})
	if w.Code != http.StatusOK {
		t.Fatalf("public: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if public.State != "platforms" || public.Rating != 2 {
		t.Fatalf("unexpected public response: %+v", public)
	}

	w, done := env.visit(t, "POST", "/r/abc123/decline", types.LinkRequest{Session: public.Session})
	if w.Code != http.StatusOK {
		t.Fatalf("decline: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if done.Outcome == nil || done.Outcome.Type != "declined" || done.RedirectURL != "" {
		t.Errorf("unexpected decline response: %+v", done)
	}
	if done.Message != router.MessageGratitude {
		t.Errorf("Message = %q, want gratitude", done.Message)
	}
}

func TestLinkErrors(t *testing.T) {
	env := setupTestEnv(t)
	campaignID := createLinkCampaign(t, env)

	if w, _ := env.visit(t, "GET", "/r/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown token: expected 404, got %d", w.Code)
	}

	_, opened := env.visit(t, "GET", "/r/abc123", nil)

	tests := []struct {
		name string
		path string
		body any
		code int
	}{
		{"missing session", "/r/abc123/rating", types.LinkRequest{Rating: 4}, http.StatusBadRequest},
		{"tampered session", "/r/abc123/rating", types.LinkRequest{Session: opened.Session + "x", Rating: 4}, http.StatusBadRequest},
		{"out of range rating", "/r/abc123/rating", types.LinkRequest{Session: opened.Session, Rating: 6}, http.StatusBadRequest},
		{"wrong state", "/r/abc123/decline", types.LinkRequest{Session: opened.Session}, http.StatusBadRequest},
		{"unknown field", "/r/abc123/rating", map[string]any{"session": opened.Session, "rating": 4, "extra": true}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w, _ := env.visit(t, "POST", tt.path, tt.body); w.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
		})
	}

	other, err := env.store.CreateCampaign(context.Background(), store.NewCampaign{TenantID: "tenant-1", Name: "Other", Token: "other1"})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}
	if w, _ := env.visit(t, "POST", "/r/"+other.Token+"/rating", types.LinkRequest{Session: opened.Session, Rating: 4}); w.Code != http.StatusBadRequest {
		t.Errorf("session for another link: expected 400, got %d", w.Code)
	}

	if err := env.store.SetCampaignStatus(context.Background(), "tenant-1", campaignID, "paused"); err != nil {
		t.Fatalf("pause campaign: %v", err)
	}
	if w, _ := env.visit(t, "POST", "/r/abc123/rating", types.LinkRequest{Session: opened.Session, Rating: 4}); w.Code != http.StatusGone {
		t.Errorf("paused mid-flow: expected 410, got %d", w.Code)
	}
	if w, _ := env.visit(t, "GET", "/r/abc123", nil); w.Code != http.StatusGone {
		t.Errorf("paused open: expected 410, got %d", w.Code)
	}
}

func TestLinkReplayedOpenTokenCannotReRate(t *testing.T) {
	env := setupTestEnv(t)
	campaignID := createLinkCampaign(t, env)

	_, opened := env.visit(t, "GET", "/r/abc123", nil)
	w, rated := env.visit(t, "POST", "/r/abc123/rating", types.LinkRequest{Session: opened.Session, Rating: 1})
	if w.Code != http.StatusOK || rated.State != "feedback" {
		t.Fatalf("rating: got %d %+v", w.Code, rated)
	}

	w, _ = env.visit(t, "POST", "/r/abc123/rating", types.LinkRequest{Session: opened.Session, Rating: 5})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("re-rating with the opened token: expected 400, got %d: %s", w.Code, w.Body.String())
	}

	w, again := env.visit(t, "POST", "/r/abc123/rating", types.LinkRequest{Session: opened.Session, Rating: 1})
	if w.Code != http.StatusOK || again.State != "feedback" || again.Rating != 1 {
		t.Fatalf("same rating replay: got %d %+v", w.Code, again)
	}

	f, err := env.store.GetFunnel(context.Background(), campaignID)
	if err != nil {
		t.Fatalf("get funnel: %v", err)
	}
	if f.Rated != 1 {
		t.Errorf("expected the visit to be counted as rated once, got %d", f.Rated)
	}

	w, public := env.visit(t, "POST", "/r/abc123/public", types.LinkRequest{Session: again.Session})
	if w.Code != http.StatusOK {
		t.Fatalf("public: expected 200, got %d", w.Code)
	}
	_, done := env.visit(t, "POST", "/r/abc123/platform", types.LinkRequest{Session: public.Session, Platform: "google"})
	if done.Outcome == nil {
		t.Fatalf("expected an outcome, got %+v", done)
	}
	outcomes, err := env.store.ListOutcomes(context.Background(), "tenant-1", campaignID, 10)
	if err != nil {
		t.Fatalf("list outcomes: %v", err)
	}
	if len(outcomes) != 1 || outcomes[0].Rating != 1 {
		t.Fatalf("expected one outcome with rating 1, got %+v", outcomes)
	}
	if outcomes[0].Attributes["alert"] != true {
		t.Errorf("expected the low rating to stay flagged, attrs=%v", outcomes[0].Attributes)
	}
}

func TestLinkMixedCaseProfileKey(t *testing.T) {
	env := setupTestEnv(t)
	_, err := env.store.CreateCampaign(context.Background(), store.NewCampaign{
		TenantID:         "tenant-1",
		Name:             "Acme",
		Token:            "mixed1",
		TargetPlatforms:  []string{"Google"},
		PlatformProfiles: map[string]string{" Google ": "ChIJ123"},
	})
	if err != nil {
		t.Fatalf("create campaign: %v", err)
	}

	_, opened := env.visit(t, "GET", "/r/mixed1", nil)
	w, rated := env.visit(t, "POST", "/r/mixed1/rating", types.LinkRequest{Session: opened.Session, Rating: 5})
	if w.Code != http.StatusOK {
		t.Fatalf("rating: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(rated.Choices) != 1 || !strings.Contains(rated.Choices[0].URL, "ChIJ123") {
		t.Errorf("expected the profile in the google URL, got %+v", rated.Choices)
	}
}
