package alert

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rsclarke/tallyview/internal/events"
	"github.com/rsclarke/tallyview/internal/plugins"
)

type mockConfigView struct {
	configs map[int64]string
	err     error
}

func (m *mockConfigView) Get(_ context.Context, campaignID int64, pluginID string, out any) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if pluginID != "alert" {
		return false, nil
	}
	raw, ok := m.configs[campaignID]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal([]byte(raw), out)
}

func newPlugin(t *testing.T, defaultBelow int, view plugins.CampaignConfigView) *Plugin {
	t.Helper()
	p := New(defaultBelow)
	if err := p.Init(plugins.InitContext{Logger: zap.NewNop(), Campaigns: view}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return p
}

func feedback(campaignID int64, rating int) *events.Event {
	return &events.Event{Draft: &events.OutcomeDraft{
		CampaignID: campaignID,
		VisitID:    "visit-1",
		Type:       "feedback",
		Rating:     rating,
		Text:       "Slow",
	}}
}

func TestPluginID(t *testing.T) {
	p := New(3)
	if got := p.ID(); got != "alert" {
		t.Errorf("ID() = %q, want %q", got, "alert")
	}
	if got := p.Config()["default_below_rating"]; got != 3 {
		t.Errorf("Config() default_below_rating = %v, want 3", got)
	}
}

func TestOnPreRecordDefaultThreshold(t *testing.T) {
	p := newPlugin(t, 3, &mockConfigView{})

	low := feedback(1, 2)
	if err := p.OnPreRecord(context.Background(), low); err != nil {
		t.Fatalf("OnPreRecord failed: %v", err)
	}
	if low.Draft.Attributes[AttrAlert] != true {
		t.Errorf("expected rating 2 to be flagged, attrs=%v", low.Draft.Attributes)
	}
	if low.Draft.Attributes[AttrReason] != "low_rating" {
		t.Errorf("unexpected reason: %v", low.Draft.Attributes[AttrReason])
	}

	edge := feedback(1, 3)
	if err := p.OnPreRecord(context.Background(), edge); err != nil {
		t.Fatalf("OnPreRecord failed: %v", err)
	}
	if edge.Draft.Attributes != nil {
		t.Errorf("expected rating equal to threshold not to be flagged, attrs=%v", edge.Draft.Attributes)
	}
}

func TestOnPreRecordCampaignOverride(t *testing.T) {
	view := &mockConfigView{configs: map[int64]string{
		7: `{"below_rating": 5}`,
		8: `{"below_rating": 0}`,
	}}
	p := newPlugin(t, 2, view)

	tests := []struct {
		name       string
		campaignID int64
		rating     int
		want       bool
	}{
		{"override raises threshold", 7, 4, true},
		{"override keeps top rating clear", 7, 5, false},
		{"override disables alerts", 8, 1, false},
		{"default applies without config", 9, 1, true},
		{"default boundary", 9, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := feedback(tt.campaignID, tt.rating)
			if err := p.OnPreRecord(context.Background(), e); err != nil {
				t.Fatalf("OnPreRecord failed: %v", err)
			}
			got := e.Draft.Attributes[AttrAlert] == true
			if got != tt.want {
				t.Errorf("flagged = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOnPreRecordIgnoresOtherTypes(t *testing.T) {
	p := newPlugin(t, 5, nil)

	for _, typ := range []string{"platform_referral", "declined"} {
		e := &events.Event{Draft: &events.OutcomeDraft{CampaignID: 1, VisitID: "v", Type: typ, Rating: 1}}
		if err := p.OnPreRecord(context.Background(), e); err != nil {
			t.Fatalf("OnPreRecord failed: %v", err)
		}
		if e.Draft.Attributes != nil {
			t.Errorf("%s: expected no attributes, got %v", typ, e.Draft.Attributes)
		}
	}
}

func TestOnPreRecordConfigError(t *testing.T) {
	p := newPlugin(t, 3, &mockConfigView{err: errors.New("db closed")})

	e := feedback(1, 1)
	if err := p.OnPreRecord(context.Background(), e); err == nil {
		t.Fatal("expected config lookup error to be returned")
	}
	if e.Draft.Attributes != nil {
		t.Errorf("expected no attributes on error, got %v", e.Draft.Attributes)
	}
}

func TestOnPostRecordLogsNewAlerts(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	p := New(3)
	if err := p.Init(plugins.InitContext{Logger: zap.New(core)}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	flagged := feedback(1, 1)
	flagged.Draft.SetAttribute(AttrAlert, true)
	flagged.OutcomeID = 11

	duplicate := feedback(1, 1)
	duplicate.Draft.SetAttribute(AttrAlert, true)

	flagged.Created = true
	for _, e := range []*events.Event{flagged, duplicate, feedback(1, 5)} {
		if err := p.OnPostRecord(context.Background(), e); err != nil {
			t.Fatalf("OnPostRecord failed: %v", err)
		}
	}

	if logs.Len() != 1 {
		t.Fatalf("expected 1 warning, got %d", logs.Len())
	}
	entry := logs.All()[0]
	if entry.ContextMap()["outcome_id"] != int64(11) {
		t.Errorf("unexpected log context: %v", entry.ContextMap())
	}
}
