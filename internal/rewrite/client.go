// Package rewrite asks a remote chat-completion model to rewrite a prompt
// for clarity.
package rewrite

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

	"golang.org/x/time/rate"
)

const (
	DefaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"

	maxTokens   = 512
	temperature = 0.2

	// Instruction is sent as the system message of every request.
	Instruction = "You are a strict prompt rewriter. Rewrite the user's prompt to be clearer. " +
		"Preserve its language and intent. Reply with the rewritten prompt only, without commentary."
)

// ErrNoCredential means no API key is configured; no request was sent.
var ErrNoCredential = errors.New("NoCredential")

// RequestFailedError reports a transport failure (Code 0) or a non-2xx
// response.
type RequestFailedError struct {
	Code int
	Err  error
}

func (e *RequestFailedError) Error() string {
	return fmt.Sprintf("RequestFailed_%d", e.Code)
}

func (e *RequestFailedError) Unwrap() error {
	return e.Err
}

// Credentials returns the API key and model to use for the next call.
// It is consulted on every call so option reloads apply immediately.
type Credentials func() (apiKey, model string)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	creds      Credentials
}

type Option func(*Client)

func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if e := strings.TrimSpace(endpoint); e != "" {
			c.endpoint = e
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLimiter spaces outbound calls. A nil limiter disables spacing.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

func NewClient(creds Credentials, opts ...Option) *Client {
	c := &Client{
		endpoint:   DefaultEndpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 3),
		creds:      creds,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rewrite sends prompt to the model once. A missing key fails before any
// network traffic. A successful response with an empty or unreadable
// completion yields the original prompt, so the caller never blanks the
// visible input.
func (c *Client) Rewrite(ctx context.Context, prompt string) (string, error) {
	var apiKey, model string
	if c.creds != nil {
		apiKey, model = c.creds()
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", ErrNoCredential
	}
	if strings.TrimSpace(prompt) == "" {
		return prompt, nil
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", &RequestFailedError{Err: err}
		}
	}

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []message{
			{Role: "system", Content: Instruction},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("rewrite: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("rewrite: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", &RequestFailedError{Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &RequestFailedError{
			Code: res.StatusCode,
			Err:  fmt.Errorf("unexpected status %d: %s", res.StatusCode, strings.TrimSpace(string(buf))),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return prompt, nil
	}
	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload.Choices) == 0 {
		return prompt, nil
	}
	out := strings.TrimSpace(payload.Choices[0].Message.Content)
	if out == "" {
		return prompt, nil
	}
	return out, nil
}

// ErrorCode maps a Rewrite error onto the wire error strings.
func ErrorCode(err error) string {
	var rf *RequestFailedError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCredential):
		return "NoCredential"
	case errors.As(err, &rf):
		return rf.Error()
	default:
		return err.Error()
	}
}
