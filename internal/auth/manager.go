package auth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"flatseek/internal/metrics"
	"flatseek/internal/model"
)

// State names the manager's position in the session lifecycle.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateActive          State = "active"
	StateRefreshing      State = "refreshing"
	StateInvalidated     State = "invalidated"
)

// SessionStore persists the live session across restarts.
type SessionStore interface {
	SaveSession(ctx context.Context, sess *model.Session) error
	// LoadSession returns (nil, nil) when no session is stored.
	LoadSession(ctx context.Context) (*model.Session, error)
}

// Manager owns the credentials and the single live session. It is the
// only component that logs in, refreshes, or decides a session is dead.
// Single-goroutine use; the bot runs cycles sequentially.
type Manager struct {
	api        ProtocolClient
	creds      model.Credentials
	store      SessionStore
	strategies []LoginStrategy
	log        *zap.Logger

	maxFailures int
	now         func() time.Time

	state    State
	active   *model.Session
	winner   int // index of the strategy that last succeeded, -1 unknown
	failures int // consecutive full login failures
	restored bool
}

func NewManager(api ProtocolClient, creds model.Credentials, store SessionStore, strategies []LoginStrategy, maxFailures int, log *zap.Logger) *Manager {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &Manager{
		api:         api,
		creds:       creds,
		store:       store,
		strategies:  strategies,
		log:         log,
		maxFailures: maxFailures,
		now:         func() time.Time { return time.Now().UTC() },
		state:       StateUnauthenticated,
		winner:      -1,
	}
}

// State reports the manager's current lifecycle position.
func (m *Manager) State() State { return m.state }

// EnsureValidSession returns a session guaranteed valid for immediate
// use, logging in or refreshing as needed. It blocks until one is
// obtained or the failure ceiling is hit.
func (m *Manager) EnsureValidSession(ctx context.Context) (*model.Session, error) {
	if m.state == StateInvalidated {
		return nil, ErrInvalidated
	}
	now := m.now()

	if m.active == nil && !m.restored {
		m.restore(ctx, now)
	}

	if m.active.Valid(now) {
		if !m.active.NearExpiry(now) {
			return m.active, nil
		}
		// Past 90% of the token lifetime: refresh proactively so a
		// stale token is never served mid-dispatch.
		if sess, err := m.refresh(ctx); err == nil {
			return sess, nil
		}
	} else if m.active != nil && m.active.RefreshToken != "" {
		if sess, err := m.refresh(ctx); err == nil {
			return sess, nil
		}
	}

	return m.login(ctx)
}

// Authenticate performs a fresh login without consulting the stored
// session. Used by the test-login command.
func (m *Manager) Authenticate(ctx context.Context) (*model.Session, error) {
	if m.state == StateInvalidated {
		return nil, ErrInvalidated
	}
	return m.login(ctx)
}

// Flush persists the current session; called on shutdown.
func (m *Manager) Flush(ctx context.Context) error {
	if m.active == nil || m.store == nil {
		return nil
	}
	return m.store.SaveSession(ctx, m.active)
}

// restore loads a persisted session and probes it before trusting it.
func (m *Manager) restore(ctx context.Context, now time.Time) {
	m.restored = true
	if m.store == nil {
		return
	}
	sess, err := m.store.LoadSession(ctx)
	if err != nil {
		m.log.Warn("session restore failed", zap.Error(err))
		return
	}
	if !sess.Valid(now) {
		return
	}
	if err := m.api.Probe(ctx, sess); err != nil {
		m.log.Info("stored session rejected by server", zap.Error(err))
		return
	}
	m.active = sess
	m.state = StateActive
	m.log.Info("session restored",
		zap.String("user_id", sess.UserID),
		zap.String("auth_mode", sess.AuthMode))
}

// refresh exchanges the refresh token. Any failure is non-fatal here:
// the refresh endpoint is independently unstable from login, so the
// caller falls back to a full re-login.
func (m *Manager) refresh(ctx context.Context) (*model.Session, error) {
	if m.active == nil || m.active.RefreshToken == "" {
		return nil, fmt.Errorf("no refresh token")
	}
	m.state = StateRefreshing
	sess, err := m.api.RefreshSession(ctx, m.active)
	if err != nil {
		m.log.Warn("token refresh failed, will re-login", zap.Error(err))
		m.state = StateUnauthenticated
		m.active = nil
		return nil, err
	}
	m.activate(ctx, &sess)
	m.log.Debug("session refreshed", zap.Time("expires_at", sess.ExpiresAt))
	return m.active, nil
}

// login tries the candidate strategies in order, starting with the one
// that last succeeded. One pass through the list with no success counts
// as one full failure toward the invalidation ceiling.
func (m *Manager) login(ctx context.Context) (*model.Session, error) {
	m.state = StateUnauthenticated
	m.active = nil

	order := make([]int, 0, len(m.strategies))
	if m.winner >= 0 && m.winner < len(m.strategies) {
		order = append(order, m.winner)
	}
	for i := range m.strategies {
		if i != m.winner {
			order = append(order, i)
		}
	}

	var lastErr error
	for _, i := range order {
		strat := m.strategies[i]
		sess, err := strat.Attempt(ctx, m.api, m.creds)
		if err != nil {
			metrics.IncLogin(strat.Name(), "failure")
			m.log.Warn("login strategy failed",
				zap.String("strategy", strat.Name()),
				zap.Error(err))
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		metrics.IncLogin(strat.Name(), "success")
		m.winner = i
		m.failures = 0
		m.activate(ctx, &sess)
		m.log.Info("logged in",
			zap.String("strategy", strat.Name()),
			zap.String("user_id", sess.UserID))
		return m.active, nil
	}

	m.failures++
	if m.failures >= m.maxFailures {
		m.state = StateInvalidated
		m.log.Error("auth invalidated",
			zap.Int("consecutive_failures", m.failures),
			zap.Error(lastErr))
		return nil, fmt.Errorf("%w: last error: %v", ErrInvalidated, lastErr)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no login strategies configured")
	}
	return nil, lastErr
}

// activate installs the session and persists it. Persistence happens on
// every transition into Active so a restart resumes without re-login.
func (m *Manager) activate(ctx context.Context, sess *model.Session) {
	m.active = sess
	m.state = StateActive
	if m.store != nil {
		if err := m.store.SaveSession(ctx, sess); err != nil {
			m.log.Warn("session persist failed", zap.Error(err))
		}
	}
}
