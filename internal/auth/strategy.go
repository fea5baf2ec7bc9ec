package auth

import (
	"context"
	"errors"
	"net/http"

	"flatseek/internal/model"
	"flatseek/internal/wgclient"
)

// ProtocolClient is the slice of the protocol client the auth manager
// and its strategies use.
type ProtocolClient interface {
	LoginMobile(ctx context.Context, creds model.Credentials) (model.Session, error)
	LoginWeb(ctx context.Context, creds model.Credentials) (model.Session, error)
	VerifyLogin(ctx context.Context, challengeToken, code string) (model.Session, error)
	RefreshSession(ctx context.Context, sess *model.Session) (model.Session, error)
	Probe(ctx context.Context, sess *model.Session) error
}

// LoginStrategy is one candidate login flow. The remote protocol has
// shipped several incompatible flows; the manager holds an ordered list
// of these and remembers which one worked. New flows are added by
// registering a new strategy, not by branching inside existing ones.
type LoginStrategy interface {
	Name() string
	Attempt(ctx context.Context, api ProtocolClient, creds model.Credentials) (model.Session, error)
}

// StrategiesFor returns the strategy order for an auth mode: "mobile"
// and "web" pin one flow, anything else tries mobile then web.
func StrategiesFor(authMode, verificationCode string) []LoginStrategy {
	switch authMode {
	case "mobile":
		return []LoginStrategy{mobileStrategy{}}
	case "web":
		return []LoginStrategy{webStrategy{verificationCode: verificationCode}}
	default:
		return []LoginStrategy{mobileStrategy{}, webStrategy{verificationCode: verificationCode}}
	}
}

// mobileStrategy is the direct-token flow against the mobile sessions
// endpoint.
type mobileStrategy struct{}

func (mobileStrategy) Name() string { return "mobile" }

func (s mobileStrategy) Attempt(ctx context.Context, api ProtocolClient, creds model.Credentials) (model.Session, error) {
	sess, err := api.LoginMobile(ctx, creds)
	if err != nil {
		return sess, classify(s.Name(), err)
	}
	return sess, nil
}

// webStrategy is the challenge/verify flow against the web Ajax
// endpoint. When the server answers with a challenge and no verification
// code is configured, the failure is surfaced as ChallengeRequired so
// the operator knows to supply one.
type webStrategy struct {
	verificationCode string
}

func (webStrategy) Name() string { return "web" }

func (s webStrategy) Attempt(ctx context.Context, api ProtocolClient, creds model.Credentials) (model.Session, error) {
	sess, err := api.LoginWeb(ctx, creds)
	if err == nil {
		return sess, nil
	}
	var ch *wgclient.ChallengeError
	if errors.As(err, &ch) {
		if s.verificationCode == "" {
			return sess, &Error{Kind: KindChallengeRequired, Strategy: s.Name(), Err: err}
		}
		sess, err = api.VerifyLogin(ctx, ch.Token, s.verificationCode)
		if err != nil {
			return sess, classify(s.Name(), err)
		}
		return sess, nil
	}
	return sess, classify(s.Name(), err)
}

// classify maps transport-level errors onto the auth taxonomy.
func classify(strategy string, err error) error {
	if wgclient.IsStatus(err, http.StatusUnauthorized) || wgclient.IsStatus(err, http.StatusForbidden) {
		return &Error{Kind: KindInvalidCredentials, Strategy: strategy, Err: err}
	}
	if errors.Is(err, wgclient.ErrMalformedResponse) {
		return &Error{Kind: KindProtocolMismatch, Strategy: strategy, Err: err}
	}
	return err
}
