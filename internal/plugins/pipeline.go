package plugins

import (
	"context"

	"go.uber.org/zap"

	"github.com/rsclarke/tallyview/internal/events"
	"github.com/rsclarke/tallyview/internal/logging"
	"github.com/rsclarke/tallyview/internal/metrics"
	"github.com/rsclarke/tallyview/internal/router"
)

// Pipeline orchestrates plugin hook execution in the correct order. It is
// the router's outcome sink.
type Pipeline struct {
	store      Store
	plugins    []Plugin
	preRecord  []PreRecordHook
	postRecord []PostRecordHook
	logger     *zap.Logger
}

var _ router.OutcomeSink = (*Pipeline)(nil)

// NewPipeline creates a new Pipeline with the given logger.
func NewPipeline(logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		logger:     logger,
		plugins:    make([]Plugin, 0),
		preRecord:  make([]PreRecordHook, 0),
		postRecord: make([]PostRecordHook, 0),
	}
}

// SetStore sets the storage backend for the pipeline.
func (p *Pipeline) SetStore(store Store) {
	p.store = store
}

// Register detects which capability interfaces a plugin implements
// and adds it to the appropriate hook lists.
func (p *Pipeline) Register(plugin Plugin) {
	p.plugins = append(p.plugins, plugin)
	if hook, ok := plugin.(PreRecordHook); ok {
		p.preRecord = append(p.preRecord, hook)
	}
	if hook, ok := plugin.(PostRecordHook); ok {
		p.postRecord = append(p.postRecord, hook)
	}
}

// Init initializes every registered plugin in registration order.
func (p *Pipeline) Init(ctx InitContext) error {
	for _, plugin := range p.plugins {
		if err := plugin.Init(ctx); err != nil {
			return err
		}
	}
	return nil
}

// ListPlugins returns metadata about all registered plugins.
func (p *Pipeline) ListPlugins() []PluginInfo {
	infos := make([]PluginInfo, 0, len(p.plugins))
	for _, plugin := range p.plugins {
		info := PluginInfo{
			ID:      plugin.ID(),
			Type:    PluginTypeFeature,
			Enabled: true,
		}
		if cp, ok := plugin.(CorePlugin); ok && cp.IsCore() {
			info.Type = PluginTypeCore
		}
		if cp, ok := plugin.(ConfigurablePlugin); ok {
			info.Config = cp.Config()
		}
		infos = append(infos, info)
	}
	return infos
}

// RecordOutcome converts a routing outcome to a draft and processes it.
func (p *Pipeline) RecordOutcome(ctx context.Context, o *router.Outcome) error {
	draft := &events.OutcomeDraft{
		CampaignID: o.CampaignID,
		TenantID:   o.TenantID,
		VisitID:    o.VisitID,
		Type:       string(o.Type),
		Rating:     o.Rating,
		Platform:   o.Platform,
		URL:        o.URL,
		Text:       o.Text,
		OccurredAt: o.OccurredAt.Unix(),
	}
	_, err := p.Process(ctx, draft)
	return err
}

// Process runs hooks in order: PreRecord → Storage → PostRecord. Hook errors
// are logged; only a storage failure is returned.
func (p *Pipeline) Process(ctx context.Context, draft *events.OutcomeDraft) (*events.Event, error) {
	e := &events.Event{Draft: draft}

	for _, hook := range p.preRecord {
		if err := hook.OnPreRecord(ctx, e); err != nil {
			p.logger.Warn("prerecord hook error",
				logging.Plugin(pluginID(hook)),
				zap.Error(err))
		}
	}

	if !draft.Drop && p.store != nil {
		id, created, err := p.store.RecordOutcome(ctx, draft)
		if err != nil {
			return nil, err
		}
		e.OutcomeID = id
		e.Created = created

		if created {
			metrics.Outcomes.WithLabelValues(draft.Type).Inc()
			if len(draft.Attributes) > 0 {
				if err := p.store.SaveAttributes(ctx, id, draft.Attributes); err != nil {
					p.logger.Warn("failed to save attributes", zap.Error(err))
				}
			}
		} else {
			p.logger.Debug("duplicate outcome ignored",
				zap.String("visit_id", draft.VisitID),
				zap.Int64("outcome_id", id))
		}
	}

	for _, hook := range p.postRecord {
		if err := hook.OnPostRecord(ctx, e); err != nil {
			p.logger.Warn("postrecord hook error",
				logging.Plugin(pluginID(hook)),
				zap.Error(err))
		}
	}

	return e, nil
}

func pluginID(hook any) string {
	if p, ok := hook.(Plugin); ok {
		return p.ID()
	}
	return "unknown"
}
