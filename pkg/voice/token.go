package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/agentdeck/sessionkit/pkg/core"
)

const maxErrorBodyBytes = 32 << 10

// TokenResponse is the issuance endpoint's reply. It carries everything
// needed to join the room.
type TokenResponse struct {
	Token               string `json:"token"`
	RoomName            string `json:"room_name"`
	LiveKitURL          string `json:"livekit_url"`
	ParticipantIdentity string `json:"participant_identity"`
}

// TokenClient requests room join tokens from the issuance endpoint.
type TokenClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// TokenClientOption configures a TokenClient.
type TokenClientOption func(*TokenClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) TokenClientOption {
	return func(c *TokenClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) TokenClientOption {
	return func(c *TokenClient) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewTokenClient creates a token client for the given issuance endpoint.
func NewTokenClient(baseURL, apiKey string, opts ...TokenClientOption) *TokenClient {
	c := &TokenClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate requests a join token for the named agent's room.
func (c *TokenClient) Generate(ctx context.Context, agentName string) (*TokenResponse, error) {
	if agentName == "" {
		return nil, core.NewInvalidRequestError("agentName must not be empty")
	}

	endpoint := c.baseURL + "/tokens/generate?agent_name=" + url.QueryEscape(agentName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &core.TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeTokenError(resp)
	}

	var tok TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, core.NewParseError(fmt.Sprintf("decode token response: %v", err))
	}
	if tok.Token == "" || tok.LiveKitURL == "" {
		return nil, core.NewParseError("token response missing token or livekit_url")
	}
	return &tok, nil
}

// decodeTokenError extracts a typed error from a non-2xx response body.
// Bodies may be JSON ({"message": ...}) or plain text. Credential rejections
// (401/403) become authentication errors; everything else stays transport.
func decodeTokenError(resp *http.Response) error {
	newError := core.NewTransportStatusError
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		newError = core.NewAuthenticationError
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return newError(resp.StatusCode, fmt.Sprintf("token endpoint returned status %d", resp.StatusCode))
	}

	var payload struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if jsonErr := json.Unmarshal(raw, &payload); jsonErr == nil && payload.Message != "" {
		e := newError(resp.StatusCode, payload.Message)
		e.Code = payload.Code
		return e
	}
	return newError(resp.StatusCode, strings.TrimSpace(string(raw)))
}
