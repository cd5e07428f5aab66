package router

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rsclarke/tallyview/internal/errdefs"
)

// DefaultSessionTTL bounds how long a customer may take to finish the flow.
const DefaultSessionTTL = 24 * time.Hour

const sessionIssuer = "tallyview"

type sessionClaims struct {
	jwt.RegisteredClaims
	CampaignToken string `json:"cmp"`
	CampaignID    int64  `json:"cid"`
	State         State  `json:"st"`
	Rating        int    `json:"rt,omitempty"`
	ViaFeedback   bool   `json:"vf,omitempty"`
}

// SessionCodec carries sessions to the client as signed HS256 tokens.
type SessionCodec struct {
	key []byte
	ttl time.Duration

	// Now returns the current time. Tests may replace it.
	Now func() time.Time
}

// NewSessionCodec returns a codec signing with key. A zero ttl uses
// DefaultSessionTTL.
func NewSessionCodec(key []byte, ttl time.Duration) (*SessionCodec, error) {
	if len(key) < 32 {
		return nil, fmt.Errorf("%w: session signing key must be at least 32 bytes", errdefs.ErrConfiguration)
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionCodec{key: key, ttl: ttl, Now: time.Now}, nil
}

// Encode signs s.
func (c *SessionCodec) Encode(s *Session) (string, error) {
	now := c.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.VisitID,
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
		CampaignToken: s.CampaignToken,
		CampaignID:    s.CampaignID,
		State:         s.State,
		Rating:        s.Rating,
		ViaFeedback:   s.ViaFeedback,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

// Decode verifies a token produced by Encode. Invalid, expired or finished
// sessions are reported as validation errors.
func (c *SessionCodec) Decode(raw string) (*Session, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.Now),
	)
	if err != nil {
		return nil, &errdefs.ValidationError{Field: "session", Reason: "invalid or expired session", Cause: err}
	}

	s := &Session{
		CampaignToken: claims.CampaignToken,
		CampaignID:    claims.CampaignID,
		VisitID:       claims.ID,
		State:         claims.State,
		Rating:        claims.Rating,
		ViaFeedback:   claims.ViaFeedback,
	}
	if s.VisitID == "" || s.CampaignToken == "" || !s.State.Valid() {
		return nil, errdefs.Validation("session", "malformed session")
	}
	if (s.State == StateRating) != (s.Rating == 0) || s.Rating < 0 || s.Rating > 5 {
		return nil, errdefs.Validation("session", "malformed session")
	}
	if s.State == StateDone {
		return nil, &errdefs.ValidationError{Field: "session", Reason: "session is already complete", Cause: ErrInvalidTransition}
	}
	return s, nil
}
