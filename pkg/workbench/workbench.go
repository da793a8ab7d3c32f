// Package workbench is the public entry point of the OCR workbench library.
package workbench

import (
	"github.com/rs/zerolog"

	"github.com/spherical/ocr-workbench/internal/cache"
	"github.com/spherical/ocr-workbench/internal/canvas"
	"github.com/spherical/ocr-workbench/internal/config"
	"github.com/spherical/ocr-workbench/internal/credential"
	"github.com/spherical/ocr-workbench/internal/domain"
	"github.com/spherical/ocr-workbench/internal/extract"
	"github.com/spherical/ocr-workbench/internal/history"
	"github.com/spherical/ocr-workbench/internal/llm"
	"github.com/spherical/ocr-workbench/internal/observability"
	"github.com/spherical/ocr-workbench/internal/parse"
	"github.com/spherical/ocr-workbench/internal/pdf"
)

// Re-exported types for library users.
type (
	Config             = config.Config
	Session            = extract.Service
	State              = domain.State
	Progress           = domain.Progress
	ProgressSink       = domain.ProgressSink
	ExtractionRecord   = domain.ExtractionRecord
	DetectedImage      = domain.DetectedImage
	Fix                = domain.Fix
	CropRect           = domain.CropRect
	SurfaceInfo        = domain.SurfaceInfo
	CredentialProvider = domain.CredentialProvider
	AIService          = domain.AIService
	Point              = canvas.Point
	ViewSize           = canvas.ViewSize
)

// Workbench owns a session and the resources behind it.
type Workbench struct {
	*extract.Service

	creds  domain.CredentialProvider
	cache  cache.Client
	logger zerolog.Logger
}

// Option customizes New.
type Option func(*options)

type options struct {
	creds  domain.CredentialProvider
	ai     domain.AIService
	logger *zerolog.Logger
}

// WithCredentials overrides the key from configuration, for example with an
// interactive prompt.
func WithCredentials(p domain.CredentialProvider) Option {
	return func(o *options) { o.creds = p }
}

// WithAIService replaces the HTTP model client.
func WithAIService(ai domain.AIService) Option {
	return func(o *options) { o.ai = ai }
}

// WithLogger replaces the logger built from configuration.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// LoadConfig reads configuration from path (optional), .env and the environment.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// New assembles a session from cfg.
func New(cfg *Config, opts ...Option) (*Workbench, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigError("invalid configuration", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	if o.logger != nil {
		logger = *o.logger
	}

	creds := o.creds
	if creds == nil {
		if cfg.LLM.APIKey == "" {
			return nil, domain.ConfigError("OPENROUTER_API_KEY not set", nil)
		}
		creds = credential.NewStatic(cfg.LLM.APIKey)
	}

	parser, err := parse.NewParser(cfg.LLM.ResponseMode)
	if err != nil {
		return nil, err
	}

	replyCache, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, domain.ConfigError("failed to initialize cache", err)
	}

	ai := o.ai
	if ai == nil {
		ai = llm.NewClient(llm.ClientConfig{
			BaseURL: cfg.LLM.BaseURL,
			Timeout: cfg.LLM.Timeout,
		}, creds, logger)
	}
	var replies extract.ReplyPurger
	if replyCache != nil {
		ai = llm.NewCachedService(ai, replyCache, cfg.Cache.TTL, logger)
		if c, ok := ai.(*llm.CachedService); ok {
			replies = c
		}
	}

	svc := extract.NewService(extract.Deps{
		Open: pdf.Open,
		Canvas: canvas.NewManager(canvas.Options{
			MinSelection: cfg.Canvas.MinSelection,
			Zoom: canvas.ZoomLimits{
				Min:  cfg.Canvas.MinZoom,
				Max:  cfg.Canvas.MaxZoom,
				Step: cfg.Canvas.ZoomStep,
			},
		}),
		History:     history.NewStore(),
		Credentials: creds,
		AI:          ai,
		Retrier:     llm.NewRetrier(cfg.Retry, logger),
		Requests:    llm.NewRequests(cfg.LLM),
		Parser:      parser,
		Replies:     replies,
	}, extract.Options{
		DetectImages: cfg.Extraction.DetectImages,
		CropWorkers:  cfg.Extraction.CropWorkers,
	}, logger)

	logger.Debug().
		Str("mode", parser.Mode()).
		Str("cache", cfg.Cache.Driver).
		Str("model", cfg.LLM.OCRModel).
		Msg("workbench ready")

	return &Workbench{Service: svc, creds: creds, cache: replyCache, logger: logger}, nil
}

// Credentials returns the credential provider of the session.
func (w *Workbench) Credentials() domain.CredentialProvider {
	return w.creds
}

// Logger returns the session logger.
func (w *Workbench) Logger() zerolog.Logger {
	return w.logger
}

// Close releases the loaded document and the reply cache.
func (w *Workbench) Close() error {
	err := w.Service.Close()
	if w.cache != nil {
		if cerr := w.cache.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Category of an error: what the caller should do about it.
func Category(err error) string {
	return string(domain.CategoryOf(err))
}

// Message returns a displayable message for err.
func Message(err error) string {
	return domain.UserMessage(err)
}

// IsStale reports whether err means a result was discarded because the
// page changed while it was being computed.
func IsStale(err error) bool {
	return domain.IsType(err, domain.ErrorTypeStale)
}
