// Package router implements the magic-link review routing flow: a customer
// rates a campaign, and low ratings under reputation protection are captured
// as private feedback while the rest are referred to a review platform.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rsclarke/tallyview/internal/errdefs"
	"github.com/rsclarke/tallyview/internal/logging"
	"github.com/rsclarke/tallyview/internal/metrics"
	"github.com/rsclarke/tallyview/internal/platform"
)

// Router resolves magic links and drives sessions through the flow.
type Router struct {
	campaigns CampaignStore
	sink      OutcomeSink
	funnel    Funnel
	catalog   *platform.Catalog
	logger    *zap.Logger

	// Now returns the current time. Tests may replace it.
	Now func() time.Time
}

// Step is the result of opening a link or applying a transition.
type Step struct {
	Campaign *Campaign
	Session  *Session
	Outcome  *Outcome
}

// New returns a Router. A nil catalog uses the built-in platform catalog.
func New(campaigns CampaignStore, sink OutcomeSink, funnel Funnel, catalog *platform.Catalog, logger *zap.Logger) *Router {
	if catalog == nil {
		catalog = platform.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		campaigns: campaigns,
		sink:      sink,
		funnel:    funnel,
		catalog:   catalog,
		logger:    logger.Named("router"),
		Now:       time.Now,
	}
}

// Catalog returns the platform catalog used to build choices.
func (r *Router) Catalog() *platform.Catalog {
	return r.catalog
}

// Resolve looks up the campaign behind a magic-link token. It fails with
// errdefs.ErrNotFound for an unknown token and errdefs.ErrGone for a
// campaign that is not active.
func (r *Router) Resolve(ctx context.Context, token string) (*Campaign, error) {
	c, err := r.campaigns.FindByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("resolve campaign: %w", err)
	}
	if c == nil {
		metrics.RouterResolveFailures.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("campaign %q: %w", token, errdefs.ErrNotFound)
	}
	if c.Status != StatusActive {
		metrics.RouterResolveFailures.WithLabelValues("inactive").Inc()
		return nil, fmt.Errorf("campaign %q is %s: %w", token, c.Status, errdefs.ErrGone)
	}
	return c, nil
}

// Open resolves token and starts a new session in StateRating.
func (r *Router) Open(ctx context.Context, token string) (*Step, error) {
	c, err := r.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	s := NewSession(c, uuid.NewString())
	r.count(ctx, c.ID, StageOpened)
	r.logger.Debug("link opened",
		logging.CampaignID(c.ID),
		logging.VisitID(s.VisitID),
	)
	return &Step{Campaign: c, Session: s}, nil
}

// Rate applies a rating to the session. The first rating of a visit is
// final: replaying an earlier session token with another rating fails, and
// replaying it with the same rating is not counted again.
func (r *Router) Rate(ctx context.Context, sess *Session, rating int) (*Step, error) {
	return r.apply(ctx, sess, func(c *Campaign, s *Session) (*Outcome, error) {
		if err := s.Rate(c.Policy, rating); err != nil {
			return nil, err
		}
		stored, first, err := r.funnel.RecordRating(ctx, c.ID, s.VisitID, rating)
		if err != nil {
			return nil, fmt.Errorf("record rating: %w", err)
		}
		if stored != rating {
			r.logger.Info("re-rating rejected",
				logging.CampaignID(c.ID),
				logging.VisitID(s.VisitID),
				logging.Rating(stored),
			)
			return nil, &errdefs.ValidationError{Field: "rating", Reason: "visit is already rated", Cause: ErrInvalidTransition}
		}
		if first {
			r.count(ctx, c.ID, StageRated)
		}
		return nil, nil
	})
}

// SubmitFeedback captures private feedback.
func (r *Router) SubmitFeedback(ctx context.Context, sess *Session, text string) (*Step, error) {
	return r.apply(ctx, sess, func(_ *Campaign, s *Session) (*Outcome, error) {
		return s.SubmitFeedback(text)
	})
}

// PreferPublic moves a Feedback session to Platforms.
func (r *Router) PreferPublic(ctx context.Context, sess *Session) (*Step, error) {
	return r.apply(ctx, sess, func(_ *Campaign, s *Session) (*Outcome, error) {
		return nil, s.PreferPublic()
	})
}

// ChoosePlatform refers the customer to a platform.
func (r *Router) ChoosePlatform(ctx context.Context, sess *Session, platformID string) (*Step, error) {
	return r.apply(ctx, sess, func(c *Campaign, s *Session) (*Outcome, error) {
		return s.ChoosePlatform(c.Policy, r.catalog, platformID)
	})
}

// Decline ends the session without a referral.
func (r *Router) Decline(ctx context.Context, sess *Session) (*Step, error) {
	return r.apply(ctx, sess, func(_ *Campaign, s *Session) (*Outcome, error) {
		return s.Decline()
	})
}

// apply re-resolves the session's campaign, runs fn on a copy of the
// session and hands any terminal outcome to the sink. The caller's session
// is left untouched on error.
func (r *Router) apply(ctx context.Context, sess *Session, fn func(*Campaign, *Session) (*Outcome, error)) (*Step, error) {
	c, err := r.Resolve(ctx, sess.CampaignToken)
	if err != nil {
		return nil, err
	}
	if c.ID != sess.CampaignID {
		return nil, errdefs.Validation("session", "session belongs to a different campaign")
	}

	next := *sess
	from := next.State
	o, err := fn(c, &next)
	if err != nil {
		return nil, err
	}
	metrics.RouterTransitions.WithLabelValues(string(from), string(next.State)).Inc()
	r.logger.Debug("session transition",
		logging.CampaignID(c.ID),
		logging.VisitID(next.VisitID),
		zap.String("from", string(from)),
		logging.State(string(next.State)),
	)

	if o != nil {
		o.TenantID = c.TenantID
		o.OccurredAt = r.Now().UTC()
		if err := r.sink.RecordOutcome(ctx, o); err != nil {
			return nil, fmt.Errorf("record outcome: %w", err)
		}
		r.logger.Info("outcome recorded",
			logging.CampaignID(c.ID),
			logging.VisitID(o.VisitID),
			logging.OutcomeType(string(o.Type)),
			logging.Rating(o.Rating),
			logging.Platform(o.Platform),
		)
	}
	return &Step{Campaign: c, Session: &next, Outcome: o}, nil
}

func (r *Router) count(ctx context.Context, campaignID int64, stage string) {
	if err := r.funnel.IncrementFunnel(ctx, campaignID, stage); err != nil {
		r.logger.Warn("failed to update funnel", logging.CampaignID(campaignID), zap.String("stage", stage), zap.Error(err))
	}
}
