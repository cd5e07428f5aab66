package server

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/rsclarke/tallyview/internal/errdefs"
	"github.com/rsclarke/tallyview/internal/logging"
	"github.com/rsclarke/tallyview/internal/router"
	"github.com/rsclarke/tallyview/internal/types"
)

// LinkServer serves the public magic-link flow. The routing session travels
// with the client as a signed token; the server keeps no session state.
type LinkServer struct {
	Router *router.Router
	Codec  *router.SessionCodec
	Logger *zap.Logger
}

type transition func(ctx context.Context, sess *router.Session, req *types.LinkRequest) (*router.Step, error)

// Handler returns the HTTP handler for the magic-link server.
func (s *LinkServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /r/{token}", s.handleOpen)
	mux.HandleFunc("POST /r/{token}/rating", s.step(func(ctx context.Context, sess *router.Session, req *types.LinkRequest) (*router.Step, error) {
		return s.Router.Rate(ctx, sess, req.Rating)
	}))
	mux.HandleFunc("POST /r/{token}/feedback", s.step(func(ctx context.Context, sess *router.Session, req *types.LinkRequest) (*router.Step, error) {
		return s.Router.SubmitFeedback(ctx, sess, req.Text)
	}))
	mux.HandleFunc("POST /r/{token}/public", s.step(func(ctx context.Context, sess *router.Session, _ *types.LinkRequest) (*router.Step, error) {
		return s.Router.PreferPublic(ctx, sess)
	}))
	mux.HandleFunc("POST /r/{token}/platform", s.step(func(ctx context.Context, sess *router.Session, req *types.LinkRequest) (*router.Step, error) {
		return s.Router.ChoosePlatform(ctx, sess, req.Platform)
	}))
	mux.HandleFunc("POST /r/{token}/decline", s.step(func(ctx context.Context, sess *router.Session, _ *types.LinkRequest) (*router.Step, error) {
		return s.Router.Decline(ctx, sess)
	}))
	return instrument("link", mux)
}

func (s *LinkServer) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (s *LinkServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, s.logger().With(
		logging.Method(r.Method),
		logging.Path(r.URL.Path),
		logging.CampaignToken(r.PathValue("token")),
	), err)
}

func (s *LinkServer) handleOpen(w http.ResponseWriter, r *http.Request) {
	step, err := s.Router.Open(r.Context(), r.PathValue("token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, r, step)
}

func (s *LinkServer) step(fn transition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req types.LinkRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
		if req.Session == "" {
			s.fail(w, r, errdefs.Validation("session", "is required"))
			return
		}
		sess, err := s.Codec.Decode(req.Session)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if sess.CampaignToken != r.PathValue("token") {
			s.fail(w, r, errdefs.Validation("session", "does not belong to this link"))
			return
		}

		step, err := fn(r.Context(), sess, &req)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.respond(w, r, step)
	}
}

func (s *LinkServer) respond(w http.ResponseWriter, r *http.Request, step *router.Step) {
	sess := step.Session
	resp := types.LinkResponse{
		State:  string(sess.State),
		Rating: sess.Rating,
	}

	if sess.State != router.StateDone {
		raw, err := s.Codec.Encode(sess)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		resp.Session = raw
	}

	switch sess.State {
	case router.StateRating:
		resp.Campaign = &types.LinkCampaign{Name: step.Campaign.Name}
		resp.Prompt = step.Campaign.Prompt()
	case router.StatePlatforms:
		resp.Choices = step.Campaign.Policy.Choices(s.Router.Catalog())
	case router.StateDone:
		resp.Message = sess.ClosingMessage()
		if o := step.Outcome; o != nil {
			resp.Outcome = &types.LinkOutcome{Type: string(o.Type), Platform: o.Platform}
			if o.Type == router.OutcomePlatformReferral {
				resp.RedirectURL = o.URL
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
