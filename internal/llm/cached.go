package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/spherical/ocr-workbench/internal/cache"
	"github.com/spherical/ocr-workbench/internal/domain"
)

const replyKeyPrefix = "reply:"

// CachedService answers repeated text requests from a cache. Image
// generation requests always reach the model.
type CachedService struct {
	next   domain.AIService
	cache  cache.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedService wraps next. A nil cache returns next unchanged.
func NewCachedService(next domain.AIService, c cache.Client, ttl time.Duration, logger zerolog.Logger) domain.AIService {
	if c == nil {
		return next
	}
	return &CachedService{
		next:   next,
		cache:  c,
		ttl:    ttl,
		logger: logger.With().Str("component", "reply-cache").Logger(),
	}
}

// Generate returns a cached reply when one exists, otherwise calls the model
// and stores non-empty replies.
func (s *CachedService) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.Reply, error) {
	if req.WantImage {
		return s.next.Generate(ctx, req)
	}

	key, err := ReplyKey(req)
	if err != nil {
		return s.next.Generate(ctx, req)
	}

	if data, err := s.cache.Get(ctx, key); err == nil {
		var reply domain.Reply
		if err := json.Unmarshal(data, &reply); err == nil {
			s.logger.Debug().Str("key", key).Msg("reply cache hit")
			return &reply, nil
		}
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.Warn().Err(err).Msg("reply cache delete failed")
		}
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn().Err(err).Msg("reply cache read failed")
	}

	reply, err := s.next.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	if reply.Text != "" {
		if data, err := json.Marshal(reply); err == nil {
			if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
				s.logger.Warn().Err(err).Msg("reply cache write failed")
			}
		}
	}
	return reply, nil
}

// Purge drops every cached reply.
func (s *CachedService) Purge(ctx context.Context) error {
	if err := s.cache.DeleteByPrefix(ctx, replyKeyPrefix); err != nil {
		return fmt.Errorf("purge reply cache: %w", err)
	}
	return nil
}

// ReplyKey derives the cache key for req.
func ReplyKey(req domain.GenerateRequest) (string, error) {
	data, err := json.Marshal(struct {
		Model  string         `json:"model"`
		Prompt string         `json:"prompt"`
		Images []string       `json:"images"`
		Schema map[string]any `json:"schema,omitempty"`
	}{req.Model, req.Prompt, req.Images, req.Schema})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return replyKeyPrefix + hex.EncodeToString(sum[:]), nil
}
