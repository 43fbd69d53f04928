// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/jeranaias/planrun/internal/llm"
)

// Configuration constants for OpenAI-compatible endpoints.
const (
	// DefaultBaseURL is the OpenRouter API, which fronts many providers.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultModel is used when no model is configured.
	DefaultModel = "openai/gpt-4o-mini"

	// DefaultTimeout bounds a single non-streaming request.
	DefaultTimeout = 120 * time.Second

	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 * 1024
)

// Models maps friendly names to full model identifiers.
var Models = map[string]string{
	"auto":   "openrouter/auto",
	"haiku":  "anthropic/claude-3.5-haiku",
	"sonnet": "anthropic/claude-3.5-sonnet",
	"gpt4o":  "openai/gpt-4o",
	"mini":   "openai/gpt-4o-mini",
}

// Error variables for common API failures.
var (
	// ErrNotConfigured indicates the API key is not set.
	ErrNotConfigured = errors.New("API key not configured")

	// ErrAuthFailed indicates authentication failed (invalid or expired API key).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrInsufficientCredits indicates the account has insufficient credits.
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// APIError is a non-2xx reply from the endpoint.
type APIError struct {
	Code    string
	Message string
	Status  int
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.Status, e.Message)
}

// Config configures a cloud client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client is the cloud generation backend. It speaks the OpenAI chat
// completions protocol through langchaingo and implements llm.Client.
type Client struct {
	apiKey  string
	baseURL string
	model   string
	llm     llms.Model
}

var _ llm.Client = (*Client)(nil)

// NewClient creates a cloud client. A missing API key is reported as
// ErrNotConfigured.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	model := ResolveModel(cfg.Model)

	httpClient := &http.Client{
		Transport: &statusTransport{next: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		}},
	}

	m, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithModel(model),
		openai.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")),
		openai.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud client: %w", err)
	}

	c := &Client{apiKey: apiKey, baseURL: cfg.BaseURL, model: model, llm: m}
	log.Printf("cloud: using %s at %s (key %s)", model, cfg.BaseURL, c.KeyFingerprint())
	return c, nil
}

// ResolveModel expands a friendly alias; other names pass through.
func ResolveModel(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultModel
	}
	if full, ok := Models[name]; ok {
		return full
	}
	return name
}

// Model returns the resolved model identifier.
func (c *Client) Model() string {
	return c.model
}

// BaseURL returns the endpoint address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// APIKeyMasked returns a display form of the key that never exposes any
// part of it.
func (c *Client) APIKeyMasked() string {
	return fmt.Sprintf("[REDACTED, length=%d, fingerprint=%s]", len(c.apiKey), c.KeyFingerprint())
}

// KeyFingerprint returns the first 8 hex chars of the key's SHA-256.
func (c *Client) KeyFingerprint() string {
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// =============================================================================
// llm.Client
// =============================================================================

// Complete sends prompt as a single user message and returns the reply.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	reply, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt)
	if err != nil {
		return "", llm.Wrap("cloud", "complete", err)
	}
	return reply, nil
}

// Stream delivers reply fragments to fn as they arrive.
func (c *Client) Stream(ctx context.Context, messages []llm.Message, fn llm.FragmentFunc) error {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(messageType(m.Role), m.Content))
	}

	_, err := c.llm.GenerateContent(ctx, content, llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return fn(string(chunk))
	}))
	if err != nil {
		return llm.Wrap("cloud", "stream", err)
	}
	return nil
}

func messageType(role string) llms.ChatMessageType {
	switch role {
	case llm.RoleSystem:
		return llms.ChatMessageTypeSystem
	case llm.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// statusTransport turns non-2xx replies into typed errors before the
// OpenAI client sees them, so callers can match ErrAuthFailed and friends.
type statusTransport struct {
	next http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode < 300 {
		return resp, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, errorFromResponse(resp.StatusCode, body)
}

// apiErrorResponse is the error envelope used by OpenAI-compatible APIs.
type apiErrorResponse struct {
	Error struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"error"`
}

func errorFromResponse(status int, body []byte) error {
	apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(body))}
	var envelope apiErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		apiErr.Code = strings.Trim(string(bytes.TrimSpace(envelope.Error.Code)), `"`)
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuthFailed, apiErr.Message)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", ErrInsufficientCredits, apiErr.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrModelNotFound, apiErr.Message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, apiErr.Message)
	default:
		return apiErr
	}
}

// ValidateAPIKey performs a format check on an OpenRouter key. It does not
// contact the server.
func ValidateAPIKey(apiKey string) bool {
	apiKey = strings.TrimSpace(apiKey)
	if !strings.HasPrefix(apiKey, "sk-or-") || len(apiKey) < 38 {
		return false
	}

	// Reject obvious placeholders like "sk-or-aaaaaaaa...".
	unique := make(map[rune]bool)
	for _, r := range apiKey[6:] {
		unique[r] = true
	}
	return len(unique) >= 10
}
