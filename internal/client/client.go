// Package client talks to the thread HTTP API and turns its error bodies back
// into the shared error kinds.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/zjregee/threadchat/internal/models"
)

const defaultTimeout = 90 * time.Second

// APIError is a non-2xx response. It unwraps to the sentinel named by its code.
type APIError struct {
	Status  int
	Code    models.ErrorCode
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return models.SentinelFor(e.Code)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) ListSummaries(ctx context.Context) ([]*models.ThreadSummary, error) {
	var summaries []*models.ThreadSummary
	if err := c.do(ctx, http.MethodGet, "/api/threads", nil, &summaries); err != nil {
		return nil, err
	}
	return summaries, nil
}

func (c *Client) GetTurns(ctx context.Context, threadID string) ([]*models.Turn, error) {
	var turns []*models.Turn
	if err := c.do(ctx, http.MethodGet, threadPath(threadID), nil, &turns); err != nil {
		return nil, err
	}
	return turns, nil
}

type appendRequest struct {
	Role    models.Role `json:"role,omitempty"`
	Content string      `json:"content"`
}

type turnsResponse struct {
	ThreadID string         `json:"threadId"`
	Turns    []*models.Turn `json:"turns"`
}

// SendMessage appends a user turn and returns the thread after the reply.
func (c *Client) SendMessage(ctx context.Context, threadID, content string) ([]*models.Turn, error) {
	var resp turnsResponse
	req := appendRequest{Role: models.RoleUser, Content: content}
	if err := c.do(ctx, http.MethodPost, threadPath(threadID), req, &resp); err != nil {
		return nil, err
	}
	return resp.Turns, nil
}

func (c *Client) RegenerateReply(ctx context.Context, threadID string) ([]*models.Turn, error) {
	var resp turnsResponse
	if err := c.do(ctx, http.MethodPost, threadPath(threadID)+"/reply", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Turns, nil
}

func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	return c.do(ctx, http.MethodDelete, threadPath(threadID), nil, nil)
}

func threadPath(threadID string) string {
	return "/api/threads/" + url.PathEscape(threadID)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", models.ErrUnavailable, err)
	}

	c.logger.Debug("API call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var code models.ErrorCode
	var message string
	if gjson.ValidBytes(body) {
		fields := gjson.GetManyBytes(body, "code", "error")
		code = models.ErrorCode(fields[0].String())
		message = fields[1].String()
	} else {
		message = strings.TrimSpace(string(body))
	}

	if models.SentinelFor(code) == nil {
		code = codeForStatus(status)
	}

	apiErr := &APIError{Status: status, Code: code, Message: message}
	if code != models.CodeReplyFailed {
		return apiErr
	}

	failure := &models.ReplyFailure{
		ThreadID: gjson.GetBytes(body, "threadId").String(),
		Err:      apiErr,
	}
	if raw := gjson.GetBytes(body, "turns"); raw.IsArray() {
		_ = json.Unmarshal([]byte(raw.Raw), &failure.Turns)
	}
	return failure
}

func codeForStatus(status int) models.ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return models.CodeInvalidInput
	case http.StatusNotFound:
		return models.CodeNotFound
	case http.StatusBadGateway:
		return models.CodeReplyFailed
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return models.CodeUnavailable
	default:
		return models.CodeInternal
	}
}
