package router

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rsclarke/tallyview/internal/errdefs"
	"github.com/rsclarke/tallyview/internal/platform"
)

// State is a routing session state.
type State string

// Session states.
const (
	StateRating    State = "rating"
	StateFeedback  State = "feedback"
	StatePlatforms State = "platforms"
	StateDone      State = "done"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateRating, StateFeedback, StatePlatforms, StateDone:
		return true
	}
	return false
}

// ErrInvalidTransition is wrapped by the ValidationError returned for an
// action the current state does not accept.
var ErrInvalidTransition = errors.New("invalid transition")

// Closing messages.
const (
	MessageApology   = "Thank you for telling us. We're sorry we fell short, and your feedback goes straight to the team so we can do better."
	MessageGratitude = "Thank you for taking the time to share your experience!"
)

const maxFeedbackLen = 5000

// Session is one customer's pass through the routing flow. It is held by
// the client between requests and never persisted.
type Session struct {
	CampaignToken string
	CampaignID    int64
	VisitID       string
	State         State
	Rating        int
	ViaFeedback   bool
	Result        OutcomeType
}

// NewSession starts a session in StateRating.
func NewSession(c *Campaign, visitID string) *Session {
	return &Session{
		CampaignToken: c.Token,
		CampaignID:    c.ID,
		VisitID:       visitID,
		State:         StateRating,
	}
}

func (s *Session) invalid(action string) error {
	return &errdefs.ValidationError{
		Field:  "state",
		Reason: fmt.Sprintf("cannot %s in state %s", action, s.State),
		Cause:  ErrInvalidTransition,
	}
}

// Rate records the satisfaction rating and routes to Feedback or Platforms.
func (s *Session) Rate(p Policy, r int) error {
	if s.State != StateRating {
		return s.invalid("rate")
	}
	if r < 1 || r > 5 {
		return errdefs.Validation("rating", "must be between 1 and 5")
	}
	s.Rating = r
	if p.RoutesToFeedback(r) {
		s.State = StateFeedback
		s.ViaFeedback = true
	} else {
		s.State = StatePlatforms
	}
	return nil
}

// SubmitFeedback captures private feedback and ends the session.
func (s *Session) SubmitFeedback(text string) (*Outcome, error) {
	if s.State != StateFeedback {
		return nil, s.invalid("submit feedback")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errdefs.Validation("text", "must not be empty")
	}
	if len(text) > maxFeedbackLen {
		return nil, errdefs.Validation("text", fmt.Sprintf("must be at most %d characters", maxFeedbackLen))
	}
	return s.finish(&Outcome{Type: OutcomeFeedback, Text: text}), nil
}

// PreferPublic leaves Feedback for Platforms at the customer's request. The
// rating is kept.
func (s *Session) PreferPublic() error {
	if s.State != StateFeedback {
		return s.invalid("leave a public review")
	}
	s.State = StatePlatforms
	return nil
}

// ChoosePlatform ends the session with a referral to one of the offered
// platforms.
func (s *Session) ChoosePlatform(p Policy, cat *platform.Catalog, id string) (*Outcome, error) {
	if s.State != StatePlatforms {
		return nil, s.invalid("choose a platform")
	}
	for _, c := range p.Choices(cat) {
		if strings.EqualFold(c.ID, id) {
			return s.finish(&Outcome{Type: OutcomePlatformReferral, Platform: c.ID, URL: c.URL}), nil
		}
	}
	return nil, errdefs.Validation("platform", fmt.Sprintf("%q is not offered by this campaign", id))
}

// Decline ends the session without a referral.
func (s *Session) Decline() (*Outcome, error) {
	if s.State != StatePlatforms {
		return nil, s.invalid("decline")
	}
	return s.finish(&Outcome{Type: OutcomeDeclined}), nil
}

func (s *Session) finish(o *Outcome) *Outcome {
	s.State = StateDone
	s.Result = o.Type
	o.CampaignID = s.CampaignID
	o.VisitID = s.VisitID
	o.Rating = s.Rating
	return o
}

// ClosingMessage returns the message shown once the session is done.
func (s *Session) ClosingMessage() string {
	if s.ViaFeedback && s.Result == OutcomeFeedback {
		return MessageApology
	}
	return MessageGratitude
}
