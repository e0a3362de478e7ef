package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/agentdeck/sessionkit/pkg/core"
)

const maxErrorBodyBytes = 32 << 10

// File references an uploaded attachment forwarded with a query.
type File struct {
	Type           string `json:"type"`
	TransferMethod string `json:"transfer_method"`
	URL            string `json:"url,omitempty"`
	UploadFileID   string `json:"upload_file_id,omitempty"`
}

// SendRequest is the wire shape of one streaming chat request.
type SendRequest struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"`
	ConversationID string         `json:"conversation_id,omitempty"`
	User           string         `json:"user"`
	Files          []File         `json:"files"`
}

// Client talks to the streaming chat backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a chat client for the given backend.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: newDefaultHTTPClient(),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stream opens a streaming exchange and returns a decoder over the response
// body. The caller owns the decoder and must Close it. Cancelling ctx aborts
// the underlying read.
func (c *Client) Stream(ctx context.Context, req *SendRequest) (*Decoder, error) {
	if req == nil {
		return nil, core.NewInvalidRequestError("req must not be nil")
	}
	reqCopy := *req
	reqCopy.ResponseMode = "streaming"
	if reqCopy.Inputs == nil {
		reqCopy.Inputs = map[string]any{}
	}
	if reqCopy.Files == nil {
		reqCopy.Files = []File{}
	}

	body, err := json.Marshal(&reqCopy)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	endpoint := c.baseURL + "/chat-messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &core.TransportError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeErrorResponse(resp)
	}
	return NewDecoder(resp.Body, c.logger), nil
}

// decodeErrorResponse extracts a typed error from a non-2xx response body.
// Bodies may be JSON ({"message": ...}) or plain text; either way the result
// is a transport error carrying the status code.
func decodeErrorResponse(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return core.NewTransportStatusError(resp.StatusCode, fmt.Sprintf("chat backend returned status %d", resp.StatusCode))
	}

	var payload struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if jsonErr := json.Unmarshal(raw, &payload); jsonErr == nil && payload.Message != "" {
		e := core.NewTransportStatusError(resp.StatusCode, payload.Message)
		e.Code = payload.Code
		return e
	}
	return core.NewTransportStatusError(resp.StatusCode, strings.TrimSpace(string(raw)))
}
