package wgclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"flatseek/internal/config"
	"flatseek/internal/metrics"
	"flatseek/internal/model"
)

// StatusError is a non-2xx response from the remote API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("wg api status %d: %s", e.Code, e.Body)
}

// IsStatus reports whether err wraps a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// ErrMalformedResponse marks a 2xx response whose body did not carry the
// expected shape. The protocol is reverse-engineered and has changed
// before; callers treat this as a protocol mismatch, not a transport
// failure.
var ErrMalformedResponse = errors.New("wgclient: unexpected response shape")

// Client talks to the unofficial wg-gesucht.de API. Endpoint paths,
// client ids and user agents come from ProtocolConfig so they can be
// adjusted when the site changes without touching code.
type Client struct {
	proto       config.ProtocolConfig
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
}

func New(proto config.ProtocolConfig) *Client {
	return &Client{
		proto:       proto,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     newDefaultLimiter(),
		maxAttempts: 4,
		baseBackoff: 500 * time.Millisecond,
	}
}

// AuthHeaders builds the header set for a mobile-API call from a session
// snapshot. Pure: same session in, same headers out, no side effects.
func AuthHeaders(proto config.ProtocolConfig, sess *model.Session) http.Header {
	h := http.Header{}
	h.Set("X-App-Version", proto.AppVersion)
	h.Set("User-Agent", proto.UserAgent)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-Client-Id", proto.ClientID)
	h.Set("X-Requested-With", proto.AppPackage)

	cookies := []string{}
	if sess != nil && sess.PHPSession != "" {
		cookies = append(cookies, "PHPSESSID="+sess.PHPSession)
	}
	cookies = append(cookies, "X-Client-Id="+proto.ClientID)
	if sess != nil {
		if sess.RefreshToken != "" {
			cookies = append(cookies, "X-Refresh-Token="+sess.RefreshToken)
		}
		if sess.AccessToken != "" {
			cookies = append(cookies, "X-Access-Token="+sess.AccessToken)
		}
		if sess.DevRefNo != "" {
			cookies = append(cookies, "X-Dev-Ref-No="+sess.DevRefNo)
		}
	}
	h.Set("Cookie", strings.Join(cookies, "; "))

	if sess != nil && sess.AccessToken != "" {
		// Both header spellings: the API has accepted either at
		// different points in time.
		h.Set("Authorization", "Bearer "+sess.AccessToken)
		h.Set("X-Authorization", "Bearer "+sess.AccessToken)
	} else {
		h.Set("Origin", "file://")
	}
	if sess != nil && sess.UserID != "" {
		h.Set("X-User-Id", sess.UserID)
	}
	if sess != nil && sess.DevRefNo != "" {
		h.Set("X-Dev-Ref-No", sess.DevRefNo)
	}
	return h
}

// WebAuthHeaders builds the header set for a web-Ajax call.
func WebAuthHeaders(proto config.ProtocolConfig, sess *model.Session) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("Content-Type", "application/json")
	h.Set("X-Requested-With", "XMLHttpRequest")
	h.Set("X-Client-Id", proto.WebClientID)
	h.Set("X-Smp-Client", proto.SMPClient)
	h.Set("User-Agent", proto.WebUserAgent)
	if sess != nil {
		if sess.UserID != "" {
			h.Set("X-User-Id", sess.UserID)
		}
		if sess.AccessToken != "" {
			h.Set("X-Authorization", "Bearer "+sess.AccessToken)
		}
		if sess.DevRefNo != "" {
			h.Set("X-Dev-Ref-No", sess.DevRefNo)
		}
		cookies := []string{"X-Client-Id=" + proto.WebClientID}
		if sess.PHPSession != "" {
			cookies = append(cookies, "PHPSESSID="+sess.PHPSession)
		}
		if sess.AccessToken != "" {
			cookies = append(cookies, "X-Access-Token="+sess.AccessToken)
		}
		if sess.RefreshToken != "" {
			cookies = append(cookies, "X-Refresh-Token="+sess.RefreshToken)
		}
		if sess.DevRefNo != "" {
			cookies = append(cookies, "X-Dev-Ref-No="+sess.DevRefNo)
		}
		if sess.UserID != "" {
			cookies = append(cookies, "X-User-Id="+sess.UserID)
		}
		h.Set("Cookie", strings.Join(cookies, "; "))
	}
	return h
}

func (c *Client) apiURL(endpoint string) string {
	return strings.TrimSuffix(c.proto.APIBaseURL, "/") + "/" + strings.TrimPrefix(endpoint, "/")
}

func (c *Client) webURL(path string) string {
	return strings.TrimSuffix(c.proto.BaseURL, "/") + path
}

// api performs a mobile-API request with session headers.
func (c *Client) api(ctx context.Context, sess *model.Session, method, endpoint string, query url.Values, payload any) (*http.Response, error) {
	u := c.apiURL(endpoint)
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + query.Encode()
	}
	body, err := encodeBody(payload)
	if err != nil {
		return nil, err
	}
	return c.doWithRetry(ctx, endpoint, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header = AuthHeaders(c.proto, sess)
		return req, nil
	})
}

// web performs a web-Ajax request with session headers plus extras.
func (c *Client) web(ctx context.Context, sess *model.Session, method, path string, payload any, extra http.Header) (*http.Response, error) {
	body, err := encodeBody(payload)
	if err != nil {
		return nil, err
	}
	return c.doWithRetry(ctx, path, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.webURL(path), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header = WebAuthHeaders(c.proto, sess)
		for k, vs := range extra {
			for _, v := range vs {
				req.Header.Set(k, v)
			}
		}
		return req, nil
	})
}

func encodeBody(payload any) ([]byte, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}

// doWithRetry paces the request through the limiter and retries 429 and
// 5xx responses as well as transport errors with exponential backoff,
// honoring Retry-After and applying +/-20% jitter.
func (c *Client) doWithRetry(ctx context.Context, endpoint string, build func() (*http.Request, error)) (*http.Response, error) {
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err == nil {
			if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599) {
				wait := retryWait(resp, backoff)
				_ = resp.Body.Close()
				metrics.IncAPIRetry(endpoint)
				lastErr = &StatusError{Code: resp.StatusCode}
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				backoff *= 2
				continue
			}
			return resp, nil
		}
		lastErr = err
		metrics.IncAPIRetry(endpoint)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("request to %s failed after %d attempts: %w", endpoint, c.maxAttempts, lastErr)
}

func retryWait(resp *http.Response, backoff time.Duration) time.Duration {
	wait := backoff
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			wait = time.Duration(secs) * time.Second
		} else if t, err := http.ParseTime(ra); err == nil {
			if d := time.Until(t); d > 0 {
				wait = d
			}
		}
	}
	jitter := time.Duration(float64(wait) * 0.2)
	if jitter > 0 {
		wait = wait - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter))
	}
	return wait
}

// decode2xx closes the body and decodes JSON, converting non-2xx into a
// StatusError with a body snippet for the log.
func decode2xx(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return &StatusError{Code: resp.StatusCode, Body: string(snippet)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}
