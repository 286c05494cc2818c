package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	graphScope = "https://graph.microsoft.com/.default"

	// renewMargin is how long before its expiry a token is replaced.
	renewMargin = 5 * time.Minute

	maxTokenResponse = 1 << 20
)

// appAuth holds the app-only access token used for sendMail, fetched with
// the OAuth2 client credentials grant. It is safe for concurrent use.
type appAuth struct {
	endpoint string
	form     url.Values
	client   *http.Client
	now      func() time.Time

	mu      sync.Mutex
	bearer  string
	renewAt time.Time
}

func newAppAuth(endpoint string, cfg Config, client *http.Client) *appAuth {
	return &appAuth{
		endpoint: endpoint,
		form: url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {cfg.ClientID},
			"client_secret": {cfg.ClientSecret},
			"scope":         {graphScope},
		},
		client: client,
		now:    time.Now,
	}
}

// token returns the cached bearer token, fetching a new one once it is
// within renewMargin of expiring.
func (a *appAuth) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.bearer != "" && a.now().Before(a.renewAt) {
		return a.bearer, nil
	}
	return a.fetch(ctx)
}

// reissue drops the cached token and fetches another. Graph answers 401 when
// a token was revoked before its expiry.
func (a *appAuth) reissue(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.bearer = ""
	return a.fetch(ctx)
}

// fetch runs the client credentials grant. The caller holds a.mu.
func (a *appAuth) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, strings.NewReader(a.form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}

	var tr tokenResponse
	jsonErr := json.Unmarshal(body, &tr)

	if resp.StatusCode != http.StatusOK {
		if jsonErr == nil && tr.Error != "" {
			return "", fmt.Errorf("token endpoint returned %d: %s: %s", resp.StatusCode, tr.Error, tr.ErrorDescription)
		}
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}
	if jsonErr != nil {
		return "", fmt.Errorf("failed to parse token response: %w", jsonErr)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response missing access_token")
	}

	lifetime := time.Duration(tr.ExpiresIn) * time.Second
	a.bearer = tr.AccessToken
	a.renewAt = a.now().Add(lifetime - renewMargin)

	slog.Debug("acquired Graph access token", "expires_in", lifetime)
	return a.bearer, nil
}
