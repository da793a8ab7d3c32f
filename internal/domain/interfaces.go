package domain

import (
	"context"
	"image"
)

// Document is a loaded source that can render its pages to rasters.
// Implementations keep the decoded handle so page N can follow page M
// without decoding the file again.
type Document interface {
	// PageCount returns the number of pages (1 for images)
	PageCount() int

	// RenderPage renders a 1-based page at the given zoom percentage
	RenderPage(ctx context.Context, page int, zoom int) (image.Image, error)

	// Close releases the decoded document
	Close() error
}

// CredentialProvider supplies the API credential for AI requests.
type CredentialProvider interface {
	HasCredential() bool
	RequestCredential(ctx context.Context) (string, error)
	Invalidate()
}

// GenerateRequest is a single multimodal request to the AI service.
type GenerateRequest struct {
	Model       string
	Prompt      string
	Images      []string // base64 PNG payloads
	Schema      map[string]any
	SchemaName  string
	WantImage   bool
	Temperature float32
	MaxTokens   int
}

// Reply is the raw answer of the AI service.
type Reply struct {
	Text         string
	FinishReason string
	Images       []string // data URLs
}

// AIService sends requests to the multimodal model.
type AIService interface {
	Generate(ctx context.Context, req GenerateRequest) (*Reply, error)
}
