package wgclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"flatseek/internal/model"
)

// ChallengeError is returned by LoginWeb when the site demands a
// verification code before issuing tokens. The challenge token travels in
// Token and is consumed by VerifyLogin.
type ChallengeError struct{ Token string }

func (e *ChallengeError) Error() string { return "wgclient: login challenge issued" }

// loginPayload is shared by the mobile and web login variants; the web
// form carries one extra field.
func (c *Client) loginPayload(creds model.Credentials, web bool) map[string]any {
	p := map[string]any{
		"login_email_username": creds.Email,
		"login_password":       creds.Password,
		"display_language":     "de",
	}
	if web {
		p["login_form_auto_login"] = "0"
	} else {
		p["client_id"] = c.proto.ClientID
	}
	return p
}

// LoginMobile submits credentials to the mobile sessions endpoint.
// The endpoint has returned two incompatible 2xx shapes over time: a JWT
// under detail.token (user id and expiry inside the token) and a legacy
// detail.access_token record. Both are handled.
func (c *Client) LoginMobile(ctx context.Context, creds model.Credentials) (model.Session, error) {
	var sess model.Session
	resp, err := c.api(ctx, nil, http.MethodPost, c.proto.Endpoints.Login, nil, c.loginPayload(creds, false))
	if err != nil {
		return sess, err
	}
	var raw struct {
		Detail map[string]any `json:"detail"`
	}
	cookies := resp.Cookies()
	if err := decode2xx(resp, &raw); err != nil {
		return sess, err
	}
	sess, err = c.sessionFromDetail("mobile", raw.Detail, cookies)
	if err != nil {
		return sess, err
	}
	return sess, nil
}

// LoginWeb submits credentials to the web Ajax login endpoint. A 202
// response means a verification challenge: the short-lived challenge
// token is surfaced as *ChallengeError for VerifyLogin.
func (c *Client) LoginWeb(ctx context.Context, creds model.Credentials) (model.Session, error) {
	var sess model.Session
	extra := http.Header{}
	extra.Set("Origin", c.proto.BaseURL)
	extra.Set("Referer", c.proto.BaseURL+"/mein-wg-gesucht-login.html")
	resp, err := c.web(ctx, nil, http.MethodPost, c.proto.Endpoints.WebLogin, c.loginPayload(creds, true), extra)
	if err != nil {
		return sess, err
	}
	if resp.StatusCode == http.StatusAccepted {
		var raw struct {
			Detail map[string]any `json:"detail"`
		}
		err := json.NewDecoder(resp.Body).Decode(&raw)
		_ = resp.Body.Close()
		if err != nil {
			return sess, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		token := str(raw.Detail, "token")
		if token == "" {
			return sess, ErrMalformedResponse
		}
		return sess, &ChallengeError{Token: token}
	}
	var raw struct {
		Detail map[string]any `json:"detail"`
	}
	cookies := resp.Cookies()
	if err := decode2xx(resp, &raw); err != nil {
		return sess, err
	}
	return c.sessionFromDetail("web", raw.Detail, cookies)
}

// VerifyLogin completes a web challenge with the operator-supplied code.
func (c *Client) VerifyLogin(ctx context.Context, challengeToken, code string) (model.Session, error) {
	var sess model.Session
	payload := map[string]any{
		"token":             challengeToken,
		"verification_code": code,
	}
	extra := http.Header{}
	extra.Set("Origin", c.proto.BaseURL)
	resp, err := c.web(ctx, nil, http.MethodPost, c.proto.Endpoints.WebVerify, payload, extra)
	if err != nil {
		return sess, err
	}
	var raw struct {
		Detail map[string]any `json:"detail"`
	}
	cookies := resp.Cookies()
	if err := decode2xx(resp, &raw); err != nil {
		return sess, err
	}
	return c.sessionFromDetail("web", raw.Detail, cookies)
}

// RefreshSession exchanges the refresh token for a fresh access token.
// The mobile and web flows use different endpoints and methods; both are
// independently unstable, so any failure here is reported to the caller
// for a full re-login rather than retried hard.
func (c *Client) RefreshSession(ctx context.Context, sess *model.Session) (model.Session, error) {
	if sess.AuthMode == "web" {
		return c.refreshWeb(ctx, sess)
	}
	return c.refreshMobile(ctx, sess)
}

func (c *Client) refreshMobile(ctx context.Context, sess *model.Session) (model.Session, error) {
	var out model.Session
	payload := map[string]any{
		"grant_type":       "refresh_token",
		"access_token":     sess.AccessToken,
		"refresh_token":    sess.RefreshToken,
		"client_id":        c.proto.ClientID,
		"dev_ref_no":       sess.DevRefNo,
		"display_language": "de",
	}
	endpoint := fmt.Sprintf(c.proto.Endpoints.Refresh, sess.UserID)
	resp, err := c.api(ctx, sess, http.MethodPost, endpoint, nil, payload)
	if err != nil {
		return out, err
	}
	var raw struct {
		Detail map[string]any `json:"detail"`
	}
	cookies := resp.Cookies()
	if err := decode2xx(resp, &raw); err != nil {
		return out, err
	}
	out, err = c.sessionFromDetail("mobile", raw.Detail, cookies)
	if err != nil {
		return out, err
	}
	if out.UserID == "" {
		out.UserID = sess.UserID
	}
	if out.PHPSession == "" {
		out.PHPSession = sess.PHPSession
	}
	return out, nil
}

func (c *Client) refreshWeb(ctx context.Context, sess *model.Session) (model.Session, error) {
	var lastErr error
	// The web refresh action has been renamed once already; try both.
	for _, action := range []string{"refresh_tokens", "refresh"} {
		path := fmt.Sprintf(c.proto.Endpoints.WebRefresh, action)
		resp, err := c.web(ctx, sess, http.MethodPut, path, nil, nil)
		if err != nil {
			lastErr = err
			continue
		}
		var raw struct {
			Detail map[string]any `json:"detail"`
		}
		cookies := resp.Cookies()
		if err := decode2xx(resp, &raw); err != nil {
			lastErr = err
			continue
		}
		out, err := c.sessionFromDetail("web", raw.Detail, cookies)
		if err != nil {
			lastErr = err
			continue
		}
		if out.UserID == "" {
			out.UserID = sess.UserID
		}
		if out.CSRFToken == "" {
			out.CSRFToken = sess.CSRFToken
		}
		if out.PHPSession == "" {
			out.PHPSession = sess.PHPSession
		}
		return out, nil
	}
	return model.Session{}, lastErr
}

// Probe makes a cheap authenticated read to check a restored session is
// still accepted by the server.
func (c *Client) Probe(ctx context.Context, sess *model.Session) error {
	if sess.AuthMode == "web" {
		resp, err := c.web(ctx, sess, http.MethodGet, c.proto.Endpoints.WebConversations, nil, nil)
		if err != nil {
			return err
		}
		return decode2xx(resp, nil)
	}
	endpoint := fmt.Sprintf(c.proto.Endpoints.Profile, sess.UserID)
	resp, err := c.api(ctx, sess, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return err
	}
	return decode2xx(resp, nil)
}

// sessionFromDetail assembles a Session out of whichever response shape
// the server produced, reading what the JSON lacks from cookies.
func (c *Client) sessionFromDetail(mode string, detail map[string]any, cookies []*http.Cookie) (model.Session, error) {
	now := time.Now().UTC()
	sess := model.Session{
		AuthMode: mode,
		IssuedAt: now,
	}
	if tok := str(detail, "token"); tok != "" {
		// New shape: a JWT carrying user id and expiry.
		sess.AccessToken = tok
		if claims, err := decodeJWTClaims(tok); err == nil {
			sess.UserID = claims.Subject
			if !claims.ExpiresAt.IsZero() {
				sess.ExpiresAt = claims.ExpiresAt
			}
		}
	} else if tok := str(detail, "access_token"); tok != "" {
		// Legacy shape: opaque token plus explicit user id.
		sess.AccessToken = tok
		sess.UserID = str(detail, "user_id")
	}
	sess.RefreshToken = str(detail, "refresh_token")
	sess.DevRefNo = str(detail, "dev_ref_no")
	sess.CSRFToken = str(detail, "csrf_token")

	for _, ck := range cookies {
		switch ck.Name {
		case "PHPSESSID":
			sess.PHPSession = ck.Value
		case "X-Access-Token":
			if sess.AccessToken == "" {
				sess.AccessToken = ck.Value
			}
		case "X-Refresh-Token":
			if sess.RefreshToken == "" {
				sess.RefreshToken = ck.Value
			}
		case "X-Dev-Ref-No":
			if sess.DevRefNo == "" {
				sess.DevRefNo = ck.Value
			}
		case "X-User-Id":
			if sess.UserID == "" {
				sess.UserID = ck.Value
			}
		case "csrf_token", "X-CSRF-Token":
			if sess.CSRFToken == "" {
				sess.CSRFToken = ck.Value
			}
		}
	}

	if sess.AccessToken == "" {
		return sess, ErrMalformedResponse
	}
	if sess.ExpiresAt.IsZero() {
		ttl := time.Duration(c.proto.DefaultTokenTTLMinutes) * time.Minute
		if ttl <= 0 {
			ttl = 45 * time.Minute
		}
		sess.ExpiresAt = now.Add(ttl)
	}
	return sess, nil
}

type jwtClaims struct {
	Subject   string
	ExpiresAt time.Time
}

// decodeJWTClaims extracts sub/user_id and exp from an unverified JWT
// payload. Verification is the server's job; we only need the metadata.
func decodeJWTClaims(token string) (jwtClaims, error) {
	var out jwtClaims
	parts := strings.Split(token, ".")
	if len(parts) < 2 {
		return out, fmt.Errorf("not a jwt")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		// Some encoders emit standard base64 with padding.
		payload, err = base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return out, err
		}
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return out, err
	}
	out.Subject = str(claims, "sub")
	if out.Subject == "" {
		out.Subject = str(claims, "user_id")
	}
	if exp := num(claims, "exp"); exp > 0 {
		out.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}
	return out, nil
}
