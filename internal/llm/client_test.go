package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/ocr-workbench/internal/cache"
	"github.com/spherical/ocr-workbench/internal/config"
	"github.com/spherical/ocr-workbench/internal/credential"
	"github.com/spherical/ocr-workbench/internal/domain"
	"github.com/spherical/ocr-workbench/internal/observability"
	"github.com/spherical/ocr-workbench/internal/parse"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *credential.Static) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	creds := credential.NewStatic("sk-test")
	return NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 5 * time.Second}, creds, observability.Nop()), creds
}

func TestClient_GenerateStructured(t *testing.T) {
	var got Request
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"gen-1","choices":[{"message":{"role":"assistant","content":"{\"text\":\"Hello\",\"confidence\":95}"},"finish_reason":"stop"}]}`)
	})

	req := NewRequests(config.LLMConfig{OCRModel: "test/ocr", ResponseMode: parse.ModeStructured, Temperature: 0.1}).OCR("aGVsbG8=")
	reply, err := client.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, `{"text":"Hello","confidence":95}`, reply.Text)
	assert.Equal(t, "stop", reply.FinishReason)

	assert.Equal(t, "test/ocr", got.Model)
	assert.False(t, got.Stream)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_schema", got.ResponseFormat.Type)
	assert.Equal(t, "ocr_result", got.ResponseFormat.JSONSchema.Name)
	require.Len(t, got.Messages, 1)
	require.Len(t, got.Messages[0].Content, 2)
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", got.Messages[0].Content[1].ImageURL.URL)
	assert.Empty(t, got.Modalities)
}

func TestClient_GenerateImage(t *testing.T) {
	var got Request
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"choices":[{"message":{"content":"","images":[{"type":"image_url","image_url":{"url":"data:image/png;base64,ZW5o"}}]},"finish_reason":"stop"}]}`)
	})

	req := NewRequests(config.LLMConfig{ImageModel: "test/image"}).Enhance("aW1n", true)
	reply, err := client.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"data:image/png;base64,ZW5o"}, reply.Images)
	assert.Equal(t, []string{"image", "text"}, got.Modalities)
	assert.Equal(t, "test/image", got.Model)
	assert.Nil(t, got.ResponseFormat)
	assert.Contains(t, got.Messages[0].Content[0].Text, "Colorize")
}

func TestClient_StatusErrorIsRetryable(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"message":"The model is overloaded"}}`)
	})

	_, err := client.Generate(context.Background(), domain.GenerateRequest{Model: "m", Prompt: "p"})
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 503, se.Code)
	assert.True(t, IsRetryable(err))
}

func TestClient_InvalidKeyInvalidatesCredential(t *testing.T) {
	client, creds := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"API key not valid. Please pass a valid API key."}}`)
	})

	_, err := client.Generate(context.Background(), domain.GenerateRequest{Model: "m", Prompt: "p"})
	require.Error(t, err)

	assert.True(t, domain.IsType(err, domain.ErrorTypeCredential))
	assert.False(t, IsRetryable(err))
	assert.False(t, creds.HasCredential())

	_, err = client.Generate(context.Background(), domain.GenerateRequest{Model: "m", Prompt: "p"})
	assert.True(t, domain.IsType(err, domain.ErrorTypeCredential))
}

func TestClient_Unauthorized(t *testing.T) {
	client, creds := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"No auth credentials found"}}`)
	})

	_, err := client.Generate(context.Background(), domain.GenerateRequest{Model: "m"})
	assert.Equal(t, domain.CategoryNeedsCredential, domain.CategoryOf(err))
	assert.False(t, creds.HasCredential())
}

func TestClient_ErrorInsideOKBody(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"error":{"code":429,"message":"Rate limit exceeded"}}`)
	})

	_, err := client.Generate(context.Background(), domain.GenerateRequest{Model: "m"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 429, se.Code)
	assert.True(t, IsRetryable(err))
}

func TestClient_SafetyFinishReason(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"content":""},"finish_reason":"content_filter","native_finish_reason":"SAFETY"}]}`)
	})

	reply, err := client.Generate(context.Background(), domain.GenerateRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "SAFETY", reply.FinishReason)

	p, err := parse.NewStructured()
	require.NoError(t, err)
	_, err = p.ParseOCR(reply)
	assert.True(t, domain.IsType(err, domain.ErrorTypeSafety))
}

func TestClient_RetriedThroughRetrier(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, "unavailable")
			return
		}
		io.WriteString(w, `{"choices":[{"message":{"content":"TEXT: ok"},"finish_reason":"stop"}]}`)
	})
	r, _ := testRetrier()

	var reply *domain.Reply
	err := r.Do(context.Background(), func(ctx context.Context) error {
		var err error
		reply, err = client.Generate(ctx, domain.GenerateRequest{Model: "m"})
		return err
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "TEXT: ok", reply.Text)
}

func TestRequests_DelimitedMode(t *testing.T) {
	b := NewRequests(config.LLMConfig{OCRModel: "m", ResponseMode: parse.ModeDelimited})

	ocr := b.OCR("img")
	assert.Nil(t, ocr.Schema)
	assert.Contains(t, ocr.Prompt, "CONFIDENCE:")

	qac := b.QAC("Hello World", "img")
	assert.Contains(t, qac.Prompt, "Hello World")
	assert.Contains(t, qac.Prompt, "FIXES:")

	detect := b.Detect("img")
	assert.Contains(t, detect.Prompt, "COORDINATES:")
	assert.Equal(t, parse.ModeDelimited, b.Mode())
}

func TestRequests_StructuredMode(t *testing.T) {
	b := NewRequests(config.LLMConfig{OCRModel: "m"})

	assert.Equal(t, parse.QACSchema, b.QAC("t", "img").Schema)
	assert.Equal(t, parse.DetectionSchema, b.Detect("img").Schema)
	assert.True(t, strings.HasSuffix(b.OCR("img").Prompt, structuredSuffix))

	enhance := b.Enhance("img", false)
	assert.True(t, enhance.WantImage)
	assert.NotContains(t, enhance.Prompt, "Colorize")
}

type countingService struct {
	calls int
	reply *domain.Reply
}

func (s *countingService) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.Reply, error) {
	s.calls++
	return s.reply, nil
}

func TestCachedService(t *testing.T) {
	mem := cache.NewMemoryClient(8)
	defer mem.Close()
	next := &countingService{reply: &domain.Reply{Text: "cached", FinishReason: "stop"}}
	svc := NewCachedService(next, mem, time.Minute, observability.Nop())

	req := domain.GenerateRequest{Model: "m", Prompt: "p", Images: []string{"a"}}
	for i := 0; i < 3; i++ {
		reply, err := svc.Generate(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "cached", reply.Text)
	}
	assert.Equal(t, 1, next.calls)

	req.WantImage = true
	_, _ = svc.Generate(context.Background(), req)
	_, _ = svc.Generate(context.Background(), req)
	assert.Equal(t, 3, next.calls)

	assert.Same(t, next, NewCachedService(next, nil, time.Minute, observability.Nop()))
}

func TestCachedService_PurgeAndCorruptEntry(t *testing.T) {
	mem := cache.NewMemoryClient(8)
	defer mem.Close()
	next := &countingService{reply: &domain.Reply{Text: "fresh", FinishReason: "stop"}}
	svc := NewCachedService(next, mem, time.Minute, observability.Nop()).(*CachedService)
	ctx := context.Background()

	req := domain.GenerateRequest{Model: "m", Prompt: "p", Images: []string{"a"}}
	key, err := ReplyKey(req)
	require.NoError(t, err)
	require.NoError(t, mem.Set(ctx, key, []byte("{not json"), time.Minute))

	reply, err := svc.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "fresh", reply.Text)
	assert.Equal(t, 1, next.calls)

	_, err = svc.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, next.calls)

	require.NoError(t, mem.Set(ctx, "other:key", []byte("x"), time.Minute))
	require.NoError(t, svc.Purge(ctx))
	_, err = mem.Get(ctx, key)
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
	_, err = mem.Get(ctx, "other:key")
	assert.NoError(t, err)

	_, err = svc.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestReplyKey_DiffersByImage(t *testing.T) {
	a, err := ReplyKey(domain.GenerateRequest{Model: "m", Prompt: "p", Images: []string{"a"}})
	require.NoError(t, err)
	b, err := ReplyKey(domain.GenerateRequest{Model: "m", Prompt: "p", Images: []string{"b"}})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "reply:"))
}
