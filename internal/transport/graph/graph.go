package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shineum/mailbridge/internal/maillog"
	"github.com/shineum/mailbridge/internal/parser"
	"github.com/shineum/mailbridge/internal/transport"
)

// Name is the transport name used in configuration.
const Name = "msgraph"

// Config holds the configuration for creating a Transport.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// Sender is the mailbox the message is sent from.
	Sender string
}

// Transport sends messages via the Microsoft Graph API using OAuth2
// client credentials authentication.
type Transport struct {
	sender     string
	graphURL   string
	httpClient *http.Client
	auth       *appAuth
	backoff    transport.Backoff
	log        *maillog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sends diagnostic lines to l.
func WithLogger(l *maillog.Logger) Option {
	return func(g *Transport) { g.log = l }
}

// WithBackoff replaces the retry schedule.
func WithBackoff(b transport.Backoff) Option {
	return func(g *Transport) { g.backoff = b }
}

// New creates a Transport with the given configuration.
func New(cfg Config, opts ...Option) *Transport {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		cfg.TenantID,
	)
	graphURL := fmt.Sprintf("https://graph.microsoft.com/v1.0/users/%s/sendMail", cfg.Sender)

	return newWithOverrides(cfg, graphURL, tokenURL, &http.Client{Timeout: 30 * time.Second}, opts...)
}

// newWithOverrides creates a Transport with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg Config, graphURL, tokenURL string, client *http.Client, opts ...Option) *Transport {
	g := &Transport{
		sender:     cfg.Sender,
		graphURL:   graphURL,
		httpClient: client,
		auth:       newAppAuth(tokenURL, cfg, client),
		backoff:    transport.DefaultBackoff,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Send delivers the message via the Microsoft Graph API.
// It includes retry logic with exponential backoff for transient failures,
// Retry-After header respect for HTTP 429, and automatic token refresh for HTTP 401.
func (g *Transport) Send(ctx context.Context, env *transport.Envelope) error {
	if err := env.Check(); err != nil {
		return err
	}

	msg, err := parser.Parse(env.Data)
	if err != nil {
		return err
	}

	reqBody := buildSendMailRequest(msg, env.To)
	bodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	g.log.Addf("%s sending via Graph as %s", maillog.PrefixTrace, g.sender)

	var lastErr error
	tokenRefreshed := false

	for attempt := 0; attempt <= g.backoff.Retries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying Graph API request",
				"attempt", attempt,
				"max_retries", g.backoff.Retries,
			)
		}

		g.log.Addf("%s POST sendMail (%d bytes)", maillog.PrefixCommand, len(bodyJSON))
		err := g.doSendRequest(ctx, bodyJSON)
		if err == nil {
			g.log.Addf("%s %d Accepted", maillog.PrefixReply, http.StatusAccepted)
			return nil
		}

		lastErr = err
		g.log.Addf("%s %v", maillog.PrefixError, err)

		var graphErr *sendError
		if !errors.As(err, &graphErr) {
			return err
		}

		switch {
		case graphErr.permanent:
			return graphErr
		case graphErr.statusCode == http.StatusUnauthorized && !tokenRefreshed:
			// Refresh token once and retry immediately
			slog.Info("refreshing Graph API token after 401")
			if _, refreshErr := g.auth.reissue(ctx); refreshErr != nil {
				return fmt.Errorf("token refresh failed: %w", refreshErr)
			}
			tokenRefreshed = true
			continue
		case graphErr.statusCode == http.StatusTooManyRequests:
			delay := g.retryAfterDelay(graphErr.retryAfter, attempt+1)
			slog.Info("rate limited by Graph API",
				"retry_after", delay,
			)
			if err := transport.Sleep(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
			continue
		case graphErr.transient:
			delay := g.backoff.Delay(attempt + 1)
			slog.Info("transient Graph API error, retrying",
				"status", graphErr.statusCode,
				"delay", delay,
			)
			if err := transport.Sleep(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
			continue
		default:
			return graphErr
		}
	}

	return fmt.Errorf("Graph API request failed after %d retries: %w", g.backoff.Retries, lastErr)
}

// Name returns the transport name.
func (g *Transport) Name() string {
	return Name
}

// doSendRequest performs a single HTTP request to the Graph API sendMail endpoint.
func (g *Transport) doSendRequest(ctx context.Context, bodyJSON []byte) error {
	token, err := g.auth.token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.graphURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &sendError{
			message:   fmt.Sprintf("HTTP request failed: %v", err),
			transient: true,
		}
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return classifyError(resp.StatusCode, graphErrResp.Error.Message, resp.Header.Get("Retry-After"))
	}

	return classifyError(resp.StatusCode, string(body), resp.Header.Get("Retry-After"))
}

// sendError represents an error from the Graph API send operation with
// classification for retry logic.
type sendError struct {
	message    string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

// classifyError categorizes an HTTP error response for retry decisions.
func classifyError(statusCode int, message, retryAfter string) *sendError {
	err := &sendError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusBadRequest || statusCode == http.StatusForbidden:
		err.permanent = true
	case statusCode == http.StatusUnauthorized:
		err.transient = true
	case statusCode == http.StatusTooManyRequests:
		err.transient = true
	case statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}

	return err
}

// retryAfterDelay parses the Retry-After header value and returns the appropriate delay.
// Falls back to exponential backoff if the header is missing or unparseable.
func (g *Transport) retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if retryAfter == "" {
		return g.backoff.Delay(attempt)
	}

	seconds, err := strconv.Atoi(retryAfter)
	if err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return g.backoff.Delay(attempt)
}
