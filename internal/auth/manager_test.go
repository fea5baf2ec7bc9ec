package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"flatseek/internal/model"
	"flatseek/internal/wgclient"
)

type fakeAPI struct {
	mobileErr  error
	webErr     error
	refreshErr error
	probeErr   error

	mobileCalls  int
	webCalls     int
	refreshCalls int
	verifyCalls  int

	sessionSeq int
}

func (f *fakeAPI) newSession(mode string) model.Session {
	f.sessionSeq++
	now := time.Now().UTC()
	return model.Session{
		AccessToken:  "tok",
		RefreshToken: "ref",
		UserID:       "u1",
		AuthMode:     mode,
		IssuedAt:     now,
		ExpiresAt:    now.Add(45 * time.Minute),
	}
}

func (f *fakeAPI) LoginMobile(ctx context.Context, creds model.Credentials) (model.Session, error) {
	f.mobileCalls++
	if f.mobileErr != nil {
		return model.Session{}, f.mobileErr
	}
	return f.newSession("mobile"), nil
}

func (f *fakeAPI) LoginWeb(ctx context.Context, creds model.Credentials) (model.Session, error) {
	f.webCalls++
	if f.webErr != nil {
		return model.Session{}, f.webErr
	}
	return f.newSession("web"), nil
}

func (f *fakeAPI) VerifyLogin(ctx context.Context, token, code string) (model.Session, error) {
	f.verifyCalls++
	return f.newSession("web"), nil
}

func (f *fakeAPI) RefreshSession(ctx context.Context, sess *model.Session) (model.Session, error) {
	f.refreshCalls++
	if f.refreshErr != nil {
		return model.Session{}, f.refreshErr
	}
	return f.newSession(sess.AuthMode), nil
}

func (f *fakeAPI) Probe(ctx context.Context, sess *model.Session) error { return f.probeErr }

type memStore struct {
	sess  *model.Session
	saves int
}

func (s *memStore) SaveSession(ctx context.Context, sess *model.Session) error {
	s.saves++
	cp := *sess
	s.sess = &cp
	return nil
}

func (s *memStore) LoadSession(ctx context.Context) (*model.Session, error) {
	return s.sess, nil
}

func newTestManager(api *fakeAPI, store SessionStore, strategies []LoginStrategy) *Manager {
	return NewManager(api, model.Credentials{Email: "e", Password: "p"}, store, strategies, 3, zap.NewNop())
}

func TestLoginFallsBackAndCachesWinner(t *testing.T) {
	api := &fakeAPI{mobileErr: &wgclient.StatusError{Code: 401}}
	m := newTestManager(api, &memStore{}, StrategiesFor("auto", ""))

	sess, err := m.EnsureValidSession(context.Background())
	if err != nil {
		t.Fatalf("expected web fallback to succeed, got %v", err)
	}
	if sess.AuthMode != "web" {
		t.Fatalf("expected a web session, got %s", sess.AuthMode)
	}
	if api.mobileCalls != 1 || api.webCalls != 1 {
		t.Fatalf("expected one attempt each, got mobile=%d web=%d", api.mobileCalls, api.webCalls)
	}

	// Expire the session; the next login must try web first.
	m.active = nil
	m.restored = true
	if _, err := m.EnsureValidSession(context.Background()); err != nil {
		t.Fatalf("relogin: %v", err)
	}
	if api.mobileCalls != 1 {
		t.Fatalf("winner strategy not tried first: mobile called again (%d)", api.mobileCalls)
	}
	if api.webCalls != 2 {
		t.Fatalf("expected second web login, got %d", api.webCalls)
	}
}

func TestValidSessionReusedWithoutNetwork(t *testing.T) {
	api := &fakeAPI{}
	m := newTestManager(api, &memStore{}, StrategiesFor("mobile", ""))

	first, err := m.EnsureValidSession(context.Background())
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	second, err := m.EnsureValidSession(context.Background())
	if err != nil {
		t.Fatalf("reuse: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same session instance while valid")
	}
	if api.mobileCalls != 1 || api.refreshCalls != 0 {
		t.Fatalf("no network calls expected on reuse: logins=%d refreshes=%d", api.mobileCalls, api.refreshCalls)
	}
}

func TestNearExpiryTriggersRefresh(t *testing.T) {
	api := &fakeAPI{}
	m := newTestManager(api, &memStore{}, StrategiesFor("mobile", ""))

	if _, err := m.EnsureValidSession(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	// Jump to 95% of the token lifetime.
	m.now = func() time.Time { return m.active.IssuedAt.Add(time.Duration(float64(45*time.Minute) * 0.95)) }
	if _, err := m.EnsureValidSession(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if api.refreshCalls != 1 {
		t.Fatalf("expected one proactive refresh, got %d", api.refreshCalls)
	}
	if api.mobileCalls != 1 {
		t.Fatalf("refresh must not trigger a login, got %d logins", api.mobileCalls)
	}
}

func TestRefreshFailureFallsBackToLogin(t *testing.T) {
	api := &fakeAPI{refreshErr: &wgclient.StatusError{Code: 405}}
	m := newTestManager(api, &memStore{}, StrategiesFor("mobile", ""))

	if _, err := m.EnsureValidSession(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	m.now = func() time.Time { return m.active.IssuedAt.Add(44 * time.Minute) }
	sess, err := m.EnsureValidSession(context.Background())
	if err != nil {
		t.Fatalf("expected re-login after failed refresh, got %v", err)
	}
	if api.refreshCalls != 1 || api.mobileCalls != 2 {
		t.Fatalf("expected refresh then fresh login, got refreshes=%d logins=%d", api.refreshCalls, api.mobileCalls)
	}
	if !sess.Valid(time.Now().UTC()) {
		t.Fatalf("re-login should yield a valid session")
	}
	if m.State() != StateActive {
		t.Fatalf("state = %s, want %s", m.State(), StateActive)
	}
}

func TestInvalidationAfterConsecutiveFailures(t *testing.T) {
	api := &fakeAPI{
		mobileErr: &wgclient.StatusError{Code: 401},
		webErr:    &wgclient.StatusError{Code: 401},
	}
	m := newTestManager(api, &memStore{}, StrategiesFor("auto", ""))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := m.EnsureValidSession(ctx); err == nil {
			t.Fatalf("attempt %d should fail", i)
		} else if errors.Is(err, ErrInvalidated) {
			t.Fatalf("attempt %d invalidated too early", i)
		}
	}
	_, err := m.EnsureValidSession(ctx)
	if !errors.Is(err, ErrInvalidated) {
		t.Fatalf("third full failure should invalidate, got %v", err)
	}
	if m.State() != StateInvalidated {
		t.Fatalf("state = %s, want %s", m.State(), StateInvalidated)
	}

	// Terminal: no further network traffic.
	before := api.mobileCalls
	if _, err := m.EnsureValidSession(ctx); !errors.Is(err, ErrInvalidated) {
		t.Fatalf("invalidated manager must stay invalidated, got %v", err)
	}
	if api.mobileCalls != before {
		t.Fatalf("invalidated manager must not attempt logins")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	api := &fakeAPI{mobileErr: &wgclient.StatusError{Code: 500}}
	m := newTestManager(api, &memStore{}, StrategiesFor("mobile", ""))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := m.EnsureValidSession(ctx); err == nil {
			t.Fatalf("expected failure")
		}
	}
	api.mobileErr = nil
	if _, err := m.EnsureValidSession(ctx); err != nil {
		t.Fatalf("recovery login: %v", err)
	}
	if m.failures != 0 {
		t.Fatalf("success must reset the failure count, got %d", m.failures)
	}
}

func TestSessionPersistedOnLogin(t *testing.T) {
	store := &memStore{}
	m := newTestManager(&fakeAPI{}, store, StrategiesFor("mobile", ""))
	if _, err := m.EnsureValidSession(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if store.saves != 1 || store.sess == nil {
		t.Fatalf("session must be persisted on activation, saves=%d", store.saves)
	}
}

func TestRestoreSkipsLogin(t *testing.T) {
	now := time.Now().UTC()
	store := &memStore{sess: &model.Session{
		AccessToken: "tok",
		UserID:      "u1",
		AuthMode:    "mobile",
		IssuedAt:    now,
		ExpiresAt:   now.Add(45 * time.Minute),
	}}
	api := &fakeAPI{}
	m := newTestManager(api, store, StrategiesFor("mobile", ""))

	sess, err := m.EnsureValidSession(context.Background())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if api.mobileCalls != 0 {
		t.Fatalf("valid stored session should skip login, got %d calls", api.mobileCalls)
	}
	if sess.UserID != "u1" {
		t.Fatalf("restored wrong session: %+v", sess)
	}
}

func TestRestoreRejectedByProbe(t *testing.T) {
	now := time.Now().UTC()
	store := &memStore{sess: &model.Session{
		AccessToken: "stale",
		AuthMode:    "mobile",
		IssuedAt:    now,
		ExpiresAt:   now.Add(45 * time.Minute),
	}}
	api := &fakeAPI{probeErr: &wgclient.StatusError{Code: 401}}
	m := newTestManager(api, store, StrategiesFor("mobile", ""))

	sess, err := m.EnsureValidSession(context.Background())
	if err != nil {
		t.Fatalf("expected fresh login after rejected probe, got %v", err)
	}
	if api.mobileCalls != 1 {
		t.Fatalf("expected one login, got %d", api.mobileCalls)
	}
	if sess.AccessToken == "stale" {
		t.Fatalf("stale session must not be served")
	}
}

func TestWebChallengeWithoutCode(t *testing.T) {
	api := &fakeAPI{webErr: &wgclient.ChallengeError{Token: "ch-1"}}
	strat := StrategiesFor("web", "")
	_, err := strat[0].Attempt(context.Background(), api, model.Credentials{})
	if !IsKind(err, KindChallengeRequired) {
		t.Fatalf("expected ChallengeRequired, got %v", err)
	}
}

func TestWebChallengeCompletedWithCode(t *testing.T) {
	api := &fakeAPI{webErr: &wgclient.ChallengeError{Token: "ch-1"}}
	strat := StrategiesFor("web", "123456")
	sess, err := strat[0].Attempt(context.Background(), api, model.Credentials{})
	if err != nil {
		t.Fatalf("verify flow: %v", err)
	}
	if api.verifyCalls != 1 || sess.AuthMode != "web" {
		t.Fatalf("expected one verify call yielding a web session, got %d, %s", api.verifyCalls, sess.AuthMode)
	}
}

func TestClassifyKinds(t *testing.T) {
	if err := classify("mobile", &wgclient.StatusError{Code: 401}); !IsKind(err, KindInvalidCredentials) {
		t.Fatalf("401 should classify as invalid credentials, got %v", err)
	}
	if err := classify("mobile", wgclient.ErrMalformedResponse); !IsKind(err, KindProtocolMismatch) {
		t.Fatalf("malformed response should classify as protocol mismatch, got %v", err)
	}
	plain := errors.New("transport down")
	if err := classify("mobile", plain); !errors.Is(err, plain) {
		t.Fatalf("unclassified errors pass through, got %v", err)
	}
}
