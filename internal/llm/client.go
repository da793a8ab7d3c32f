// Package llm talks to the multimodal model behind the workbench: request
// construction, the chat-completions transport, backoff and reply caching.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/spherical/ocr-workbench/internal/domain"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	maxErrorBody   = 2048
)

// credentialSignals in an error body mean the key was rejected.
var credentialSignals = []string{
	"api key not valid",
	"invalid api key",
	"api_key_invalid",
}

// StatusError is a non-2xx reply from the service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

// ClientConfig configures the transport.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Referer string
	Title   string
}

// Client handles communication with an OpenRouter-compatible chat-completions API.
type Client struct {
	cfg        ClientConfig
	creds      domain.CredentialProvider
	httpClient *http.Client
	logger     zerolog.Logger
}

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL string `json:"url"`
}

// ResponseFormat asks the model for schema-constrained JSON.
type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

// JSONSchema names a schema inside ResponseFormat.
type JSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

// Request represents the API request structure
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream"`
	Temperature    *float32        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Modalities     []string        `json:"modalities,omitempty"`
}

// Response represents the API response structure
type Response struct {
	ID      string    `json:"id"`
	Choices []Choice  `json:"choices"`
	Error   *APIError `json:"error,omitempty"`
}

// APIError is an error object embedded in a reply body.
type APIError struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

// Choice represents a single completion choice
type Choice struct {
	Message            ReplyMessage `json:"message"`
	FinishReason       string       `json:"finish_reason"`
	NativeFinishReason string       `json:"native_finish_reason"`
}

// ReplyMessage is the assistant message of a choice.
type ReplyMessage struct {
	Role    string        `json:"role"`
	Content string        `json:"content"`
	Images  []ContentPart `json:"images,omitempty"`
}

// NewClient creates a new LLM client. The credential is fetched from creds
// for every request so a re-entered key takes effect immediately.
func NewClient(cfg ClientConfig, creds domain.CredentialProvider, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Referer == "" {
		cfg.Referer = "https://github.com/spherical/ocr-workbench"
	}
	if cfg.Title == "" {
		cfg.Title = "OCR Workbench"
	}

	return &Client{
		cfg:        cfg,
		creds:      creds,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "llm").Logger(),
	}
}

// Generate sends one request and returns the raw reply.
func (c *Client) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.Reply, error) {
	key, err := c.creds.RequestCredential(ctx)
	if err != nil {
		return nil, domain.InvalidCredentialError("no API key available", err)
	}

	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return nil, domain.APIError("Failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, domain.APIError("Failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+key)
	httpReq.Header.Set("HTTP-Referer", c.cfg.Referer)
	httpReq.Header.Set("X-Title", c.cfg.Title)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug().
		Str("model", req.Model).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("model request finished")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.statusError(resp.StatusCode, string(respBody))
	}

	var parsed Response
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, domain.APIError("Failed to decode response", err)
	}
	if parsed.Error != nil {
		code := resp.StatusCode
		if n, ok := parsed.Error.Code.(float64); ok {
			code = int(n)
		}
		return nil, c.statusError(code, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return &domain.Reply{}, nil
	}

	choice := parsed.Choices[0]
	reply := &domain.Reply{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
	}
	if strings.EqualFold(choice.NativeFinishReason, "SAFETY") {
		reply.FinishReason = choice.NativeFinishReason
	}
	for _, img := range choice.Message.Images {
		if img.ImageURL != nil && img.ImageURL.URL != "" {
			reply.Images = append(reply.Images, img.ImageURL.URL)
		}
	}
	return reply, nil
}

// statusError classifies a failed reply. Rejected keys invalidate the
// credential so the next request prompts for a new one.
func (c *Client) statusError(code int, body string) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	se := &StatusError{Code: code, Body: strings.TrimSpace(body)}

	if isCredentialFailure(code, body) {
		c.creds.Invalidate()
		c.logger.Warn().Int("status", code).Msg("credential rejected by AI service")
		return domain.InvalidCredentialError("API key not valid", se)
	}
	return se
}

func isCredentialFailure(code int, body string) bool {
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		return true
	}
	lower := strings.ToLower(body)
	for _, s := range credentialSignals {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// buildRequest constructs the chat-completions body.
func (c *Client) buildRequest(req domain.GenerateRequest) *Request {
	parts := []ContentPart{{Type: "text", Text: req.Prompt}}
	for _, img := range req.Images {
		parts = append(parts, ContentPart{
			Type:     "image_url",
			ImageURL: &ImageURL{URL: "data:image/png;base64," + img},
		})
	}

	out := &Request{
		Model:     req.Model,
		Messages:  []Message{{Role: "user", Content: parts}},
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		out.Temperature = &t
	}
	if req.Schema != nil {
		name := req.SchemaName
		if name == "" {
			name = "result"
		}
		out.ResponseFormat = &ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &JSONSchema{Name: name, Strict: false, Schema: req.Schema},
		}
	}
	if req.WantImage {
		out.Modalities = []string{"image", "text"}
	}
	return out
}
