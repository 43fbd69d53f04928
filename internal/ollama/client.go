// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/planrun/internal/llm"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel errors by type, so a timeout carrying its cause
// still satisfies errors.Is(err, ErrTimeout).
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return t.Type == e.Type && t.Type != ErrTypeUnknown && t.Cause == nil
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// DefaultBaseURL uses an explicit IPv4 address to avoid localhost resolving
// to ::1 where Ollama is not listening.
const DefaultBaseURL = "http://127.0.0.1:11434"

// DefaultModel is used when no model is configured.
const DefaultModel = "llama3.1:8b"

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL.
	BaseURL string

	// Timeout for non-streaming requests. Streams are bounded by the
	// caller's context only.
	Timeout time.Duration

	// Model used for every request.
	Model string

	// Options are passed through to the model when set.
	Options *Options
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL: DefaultBaseURL,
		Timeout: 120 * time.Second,
		Model:   DefaultModel,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to a local Ollama server. It implements llm.Client and is
// safe for concurrent use.
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
}

var _ llm.Client = (*Client)(nil)

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client. Zero fields take their
// defaults.
func NewClientWithConfig(config *ClientConfig) *Client {
	cfg := DefaultConfig()
	if config != nil {
		if config.BaseURL != "" {
			cfg.BaseURL = strings.TrimRight(config.BaseURL, "/")
		}
		if config.Timeout > 0 {
			cfg.Timeout = config.Timeout
		}
		if config.Model != "" {
			cfg.Model = config.Model
		}
		cfg.Options = config.Options
	}

	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		// SECURITY: plain HTTP, Ollama listens on loopback by default.
		streamClient: &http.Client{},
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.config.Model
}

// BaseURL returns the configured server address.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: "unexpected status from Ollama: " + resp.Status,
		}
	}
	return nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all available models from Ollama.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var result ListModelsResponse
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &result); err != nil {
		return nil, err
	}
	return result.Models, nil
}

// ShowModel retrieves information about a specific model.
func (c *Client) ShowModel(ctx context.Context, name string) (*ShowModelResponse, error) {
	var result ShowModelResponse
	if err := c.do(ctx, http.MethodPost, "/api/show", ShowModelRequest{Name: name}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ModelExists checks if a model is available locally.
func (c *Client) ModelExists(ctx context.Context, name string) bool {
	_, err := c.ShowModel(ctx, name)
	return err == nil
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// Chat sends a non-streaming chat request.
func (c *Client) Chat(ctx context.Context, messages []Message) (*ChatResponse, error) {
	body := ChatRequest{
		Model:    c.config.Model,
		Messages: messages,
		Options:  c.config.Options,
	}
	var result ChatResponse
	if err := c.do(ctx, http.MethodPost, "/api/chat", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ChatStream sends a streaming chat request and calls fn for each chunk,
// in order, on the calling goroutine.
func (c *Client) ChatStream(ctx context.Context, messages []Message, fn func(StreamChunk) error) error {
	body, err := json.Marshal(ChatRequest{
		Model:    c.config.Model,
		Messages: messages,
		Stream:   true,
		Options:  c.config.Options,
	})
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}
	return NewStreamReader(resp.Body).Process(ctx, fn)
}

// =============================================================================
// llm.Client
// =============================================================================

// Complete sends prompt as a single user message and returns the reply.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.Chat(ctx, []Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return "", llm.Wrap("ollama", "complete", err)
	}
	return resp.Message.Content, nil
}

// Stream delivers reply fragments to fn as they arrive.
func (c *Client) Stream(ctx context.Context, messages []llm.Message, fn llm.FragmentFunc) error {
	wire := make([]Message, len(messages))
	for i, m := range messages {
		wire[i] = Message{Role: m.Role, Content: m.Content}
	}
	err := c.ChatStream(ctx, wire, func(chunk StreamChunk) error {
		if chunk.Content == "" {
			return nil
		}
		return fn(chunk.Content)
	})
	if err != nil {
		return llm.Wrap("ollama", "stream", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// do performs a JSON request and decodes the JSON reply into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

func transportError(err error) error {
	var netErr interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: err}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running", Cause: err}
}

func statusError(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrModelNotFound
	}

	var apiErr apiError
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: apiErr.Error}
	}
	return &ClientError{
		Type:    ErrTypeInvalidResponse,
		Message: "request failed: " + resp.Status,
	}
}

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	return errors.Is(err, ErrModelNotFound)
}

// IsNotRunning checks if an error indicates Ollama is not running.
func IsNotRunning(err error) bool {
	return errors.Is(err, ErrNotRunning)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
