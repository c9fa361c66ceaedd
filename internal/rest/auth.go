package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// refreshSkew refreshes the access token this long before it actually expires.
const refreshSkew = 30 * time.Second

// TokenSource holds the session token pair and refreshes the access token
// against the auth endpoint. Refresh is single-flight: concurrent callers
// that observed the same stale token share one round-trip.
type TokenSource struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger

	mu      sync.Mutex
	access  string
	refresh string
}

// NewTokenSource creates a token source with an initial token pair.
func NewTokenSource(endpoint, access, refresh string, hc *http.Client, logger *zap.Logger) *TokenSource {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &TokenSource{endpoint: endpoint, client: hc, logger: logger, access: access, refresh: refresh}
}

// Token returns a valid access token, refreshing proactively when the current
// one is within refreshSkew of its exp claim.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.access != "" && !expiringSoon(ts.access) {
		return ts.access, nil
	}
	return ts.refreshLocked(ctx)
}

// Invalidate forces a refresh, but only if stale is still the current token.
// The caller that lost the race reuses the replacement instead of refreshing
// again, which keeps at most one refresh in flight per rejected token.
func (ts *TokenSource) Invalidate(ctx context.Context, stale string) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.access != stale {
		return ts.access, nil
	}
	return ts.refreshLocked(ctx)
}

func (ts *TokenSource) refreshLocked(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build refresh request: %w", err)
	}
	req.AddCookie(&http.Cookie{Name: "REFRESH_TOKEN", Value: ts.refresh})

	resp, err := ts.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Body: "token refresh rejected"}
	}

	var out struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	ts.access = out.AccessToken
	if out.RefreshToken != "" {
		ts.refresh = out.RefreshToken
	}
	ts.logger.Info("access token refreshed")
	return ts.access, nil
}

// expiringSoon inspects the unverified exp claim. Verification is the
// server's job; the client only needs the timestamp to refresh proactively.
func expiringSoon(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Opaque token: fall back to reactive 401 handling.
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < refreshSkew
}

// Transport attaches the access token cookie to every request and, on a 401,
// refreshes once and retries. A second 401 propagates to the caller, which is
// the forced-logout path.
type Transport struct {
	Base   http.RoundTripper
	Tokens *TokenSource
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.Tokens.Token(req.Context())
	if err != nil {
		return nil, err
	}

	attempt := req.Clone(req.Context())
	attempt.AddCookie(&http.Cookie{Name: "ACCESS_TOKEN", Value: token})
	resp, err := t.base().RoundTrip(attempt)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	// Retry only if the body can be replayed.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}
	_ = resp.Body.Close()

	token, err = t.Tokens.Invalidate(req.Context(), token)
	if err != nil {
		return nil, err
	}
	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		retry.Body = body
	}
	retry.AddCookie(&http.Cookie{Name: "ACCESS_TOKEN", Value: token})
	return t.base().RoundTrip(retry)
}
