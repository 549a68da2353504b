// Package ai implements the upstream model gateway: one OpenAI-compatible
// chat completions call per stage, with credential rotation on classified
// failures and a fixed closed set of agent configurations.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/insightx/insightx/internal/domain"
	"github.com/insightx/insightx/internal/log"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL    = "https://api.bytez.com/models/v2/openai/v1"
	defaultTimeout    = 60 * time.Second
	defaultNetRetries = 2
	netRetryBaseDelay = 250 * time.Millisecond
)

// CredentialSource is the pool surface the gateway drives.
type CredentialSource interface {
	Current() (domain.Credential, error)
	ReportSuccess(domain.Credential)
	ReportFailure(cred domain.Credential, class domain.FailureClass, reason string)
	Rotate() bool
	Size() int
}

// Gateway wraps the upstream chat completions endpoint.
type Gateway struct {
	pool       CredentialSource
	httpClient *http.Client
	baseURL    string
	netRetries int
	logger     zerolog.Logger
	sleep      func(time.Duration)
}

// NewGateway builds a gateway over the credential pool.
func NewGateway(pool CredentialSource, settings domain.GatewaySettings) *Gateway {
	baseURL := settings.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := settings.Timeout()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	netRetries := settings.MaxNetRetries
	if netRetries <= 0 {
		netRetries = defaultNetRetries
	}
	return &Gateway{
		pool:       pool,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		netRetries: netRetries,
		logger:     log.WithComponent("model_gateway"),
		sleep:      time.Sleep,
	}
}

type chatRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	Temperature float64              `json:"temperature"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message domain.ChatMessage `json:"message"`
	} `json:"choices"`
}

// Complete issues one upstream call for the given agent, prepending the
// agent's system prompt. Classified failures report to the pool, rotate, and
// retry with the next credential until one full cycle has been burned; then
// the call fails with UpstreamExhausted carrying the last error.
func (g *Gateway) Complete(ctx context.Context, agent domain.AgentKind, messages []domain.ChatMessage) (string, error) {
	spec := SpecFor(agent)
	payload, err := json.Marshal(chatRequest{
		Model:       spec.Model,
		Messages:    append([]domain.ChatMessage{{Role: "system", Content: spec.SystemPrompt}}, messages...),
		Temperature: spec.Temperature,
		MaxTokens:   spec.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	attempts := g.pool.Size() + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		cred, err := g.pool.Current()
		if err != nil {
			return "", err
		}

		text, status, err := g.post(ctx, cred, payload)
		if err == nil {
			g.pool.ReportSuccess(cred)
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err

		class := classifyStatus(status)
		if !class.Rotates() {
			g.pool.ReportFailure(cred, class, err.Error())
			return "", domain.WrapError(domain.ErrInternal, err, "upstream call for %s failed", agent)
		}

		g.pool.ReportFailure(cred, class, err.Error())
		if !g.pool.Rotate() {
			break
		}
		g.logger.Warn().
			Str("agent", string(agent)).
			Int("status", status).
			Int("attempt", attempt+1).
			Msg("upstream call failed; retrying with rotated credential")
	}

	return "", domain.WrapError(domain.ErrUpstreamExhausted, lastErr, "all credentials failed for %s", agent)
}

// post performs the HTTP exchange. Network-level failures are retried with a
// doubling delay before being reported as a server error (status 0 maps to
// server_error in classifyStatus via the 599 sentinel).
func (g *Gateway) post(ctx context.Context, cred domain.Credential, payload []byte) (string, int, error) {
	var lastErr error
	for try := 0; try <= g.netRetries; try++ {
		if try > 0 {
			g.sleep(netRetryBaseDelay << (try - 1))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return "", 0, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+cred.Secret)

		resp, err := g.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return "", 0, ctx.Err()
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return "", resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
		}

		var parsed chatResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return "", resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return "", resp.StatusCode, errors.New("response contained no choices")
		}
		return strings.TrimSpace(parsed.Choices[0].Message.Content), resp.StatusCode, nil
	}
	// Exhausted network retries: treat as a transient upstream server fault.
	return "", 599, fmt.Errorf("network failure: %w", lastErr)
}

func classifyStatus(status int) domain.FailureClass {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.FailureUnauthorized
	case status == http.StatusTooManyRequests:
		return domain.FailureRateLimited
	case status >= 500:
		return domain.FailureServerError
	default:
		return domain.FailureOther
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
