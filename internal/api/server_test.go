package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type stubAI struct {
	mu      sync.Mutex
	replies map[string]string
	err     error
}

func (a *stubAI) Generate(_ context.Context, req domain.GenerateRequest) (*domain.Reply, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	if req.WantImage {
		return &domain.Reply{Images: []string{"data:image/png;base64,AAAA"}}, nil
	}
	return &domain.Reply{Text: a.replies[req.SchemaName], FinishReason: "stop"}, nil
}

func (a *stubAI) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func newTestServer(t *testing.T) (*httptest.Server, *stubAI, *credential.Static) {
	t.Helper()

	cfg := config.DefaultConfig()
	logger := observability.Nop()

	parser, err := parse.NewParser(parse.ModeStructured)
	require.NoError(t, err)

	ai := &stubAI{replies: map[string]string{
		"ocr_result":      `{"text":"Hello World","confidence":95}`,
		"qac_result":      `{"correctedText":"Hello, World!","fixes":[{"original":"World","corrected":"World!","type":"Punctuation","description":"added exclamation"}]}`,
		"detected_images": `{"images":[{"x":0,"y":0,"width":50,"height":50,"description":"photo"}]}`,
	}}
	creds := credential.NewStatic("key")

	svc := extract.NewService(extract.Deps{
		Open:        pdf.Open,
		Canvas:      canvas.NewManager(canvas.DefaultOptions()),
		History:     history.NewStore(),
		Credentials: creds,
		AI:          ai,
		Retrier: llm.NewRetrier(cfg.Retry, logger).
			WithSleep(func(context.Context, time.Duration) error { return nil }),
		Requests: llm.NewRequests(cfg.LLM),
		Parser:   parser,
	}, extract.Options{}, logger)

	srv := NewServer(svc, creds, cfg.Server, logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, ai, creds
}

func pngUpload(t *testing.T, name string, w, h int) (*bytes.Buffer, string) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	require.NoError(t, png.Encode(part, img))
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func post(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	var rdr *bytes.Reader
	if body == nil {
		rdr = bytes.NewReader(nil)
	} else {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	resp, err := http.Post(ts.URL+path, "application/json", rdr)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func upload(t *testing.T, ts *httptest.Server) domain.State {
	t.Helper()
	body, ct := pngUpload(t, "scan.png", 120, 80)
	resp, err := http.Post(ts.URL+"/api/v1/file", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[domain.State](t, resp)
}

func TestHealth(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := get(t, ts, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "healthy", body["status"])
}

func TestExtractRequiresFile(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := post(t, ts, "/api/v1/extract", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body := decode[errorResponse](t, resp)
	assert.Equal(t, "precondition", body.Error)
	assert.Equal(t, "info", body.Category)
	assert.NotEmpty(t, body.Message)
}

func TestUploadExtractAndQAC(t *testing.T) {
	ts, _, _ := newTestServer(t)

	st := upload(t, ts)
	assert.Equal(t, "scan.png", st.FileName)
	assert.Equal(t, domain.FileTypeImage, st.FileType)
	assert.Equal(t, 1, st.TotalPages)
	assert.Equal(t, 120, st.Surface.Width)

	resp := post(t, ts, "/api/v1/extract", map[string]bool{"detectImages": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decode[domain.ExtractionRecord](t, resp)
	assert.Equal(t, "Hello World", rec.Text)
	assert.Equal(t, 95, rec.Confidence)
	require.Len(t, rec.DetectedImages, 1)

	progress := decode[domain.Progress](t, get(t, ts, "/api/v1/progress"))
	assert.Equal(t, 100, progress.Percent)

	resp = post(t, ts, "/api/v1/qac", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec = decode[domain.ExtractionRecord](t, resp)
	assert.True(t, rec.IsQACProcessed)
	assert.Equal(t, "Hello, World!", rec.QACText)
	assert.Len(t, rec.QACFixes, 1)

	hist := decode[historyResponse](t, get(t, ts, "/api/v1/history"))
	require.Len(t, hist.Records, 1)
	assert.Equal(t, rec.ID, hist.ActiveID)
}

func TestImageEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)
	upload(t, ts)

	rec := decode[domain.ExtractionRecord](t, post(t, ts, "/api/v1/extract", map[string]bool{"detectImages": true}))
	require.Len(t, rec.DetectedImages, 1)
	id := rec.DetectedImages[0].ID

	raw := decode[map[string]string](t, get(t, ts, "/api/v1/images/"+id+"/raw"))
	assert.True(t, strings.HasPrefix(raw["dataUrl"], "data:image/png;base64,"))

	resp := post(t, ts, "/api/v1/images/"+id+"/colorize", colorizeRequest{Colorize: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	img := decode[domain.DetectedImage](t, resp)
	assert.True(t, img.Colorize)

	resp = post(t, ts, "/api/v1/images/"+id+"/enhance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	img = decode[domain.DetectedImage](t, resp)
	assert.Equal(t, "data:image/png;base64,AAAA", img.EnhancedDataURL)
	assert.False(t, img.IsProcessing)

	assert.Equal(t, http.StatusNotFound, get(t, ts, "/api/v1/images/missing/raw").StatusCode)
	assert.Equal(t, http.StatusNotFound, post(t, ts, "/api/v1/images/missing/colorize", colorizeRequest{}).StatusCode)
}

func TestHistoryActivate(t *testing.T) {
	ts, _, _ := newTestServer(t)
	upload(t, ts)

	first := decode[domain.ExtractionRecord](t, post(t, ts, "/api/v1/extract", nil))
	decode[domain.ExtractionRecord](t, post(t, ts, "/api/v1/extract", nil))

	resp := post(t, ts, "/api/v1/history/"+first.ID+"/activate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first.ID, decode[domain.ExtractionRecord](t, resp).ID)

	resp = post(t, ts, "/api/v1/history/unknown/activate", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	st := decode[domain.State](t, get(t, ts, "/api/v1/state"))
	assert.Equal(t, first.ID, st.ActiveID)
	assert.Equal(t, 2, st.HistoryLength)
}

func TestCanvasEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)
	upload(t, ts)

	resp := post(t, ts, "/api/v1/crop", domain.CropRect{X: 10, Y: 10, Width: 40, Height: 30})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decode[domain.SurfaceInfo](t, resp)
	assert.Equal(t, 40, info.Width)
	assert.Equal(t, 120, info.OriginalWidth)

	resp = get(t, ts, "/api/v1/raster")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())

	info = decode[domain.SurfaceInfo](t, post(t, ts, "/api/v1/restore", nil))
	assert.Equal(t, 120, info.Width)

	assert.Equal(t, http.StatusNoContent, post(t, ts, "/api/v1/selection/begin", pointRequest{X: 0, Y: 0, ViewWidth: 60, ViewHeight: 40}).StatusCode)
	assert.Equal(t, http.StatusNoContent, post(t, ts, "/api/v1/selection/update", pointRequest{X: 30, Y: 20, ViewWidth: 60, ViewHeight: 40}).StatusCode)
	sel := decode[selectionResponse](t, post(t, ts, "/api/v1/selection/end", nil))
	require.NotNil(t, sel.Rect)
	assert.Equal(t, domain.CropRect{X: 0, Y: 0, Width: 60, Height: 40}, *sel.Rect)
	assert.Equal(t, 60, sel.Surface.Width)

	st := decode[domain.State](t, post(t, ts, "/api/v1/zoom", zoomRequest{Direction: "out"}))
	assert.Equal(t, 75, st.Surface.Zoom)
	assert.Equal(t, 90, st.Surface.Width)

	resp = post(t, ts, "/api/v1/zoom", zoomRequest{Direction: "sideways"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, ts, "/api/v1/page", pageRequest{Page: 2})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInvalidCredential(t *testing.T) {
	ts, ai, creds := newTestServer(t)
	upload(t, ts)

	ai.fail(domain.InvalidCredentialError("API key not valid", errors.New("HTTP 401")))

	resp := post(t, ts, "/api/v1/extract", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	body := decode[errorResponse](t, resp)
	assert.Equal(t, "needs_credential", body.Category)

	ai.fail(nil)
	creds.Invalidate()
	assert.False(t, decode[domain.State](t, get(t, ts, "/api/v1/state")).HasCredential)

	resp = post(t, ts, "/api/v1/credential", credentialRequest{APIKey: "new-key"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[domain.State](t, resp).HasCredential)

	resp = post(t, ts, "/api/v1/credential", credentialRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTransientExhaustion(t *testing.T) {
	ts, ai, _ := newTestServer(t)
	upload(t, ts)
	ai.fail(errors.New("HTTP 503: The model is overloaded"))

	resp := post(t, ts, "/api/v1/extract", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decode[errorResponse](t, resp)
	assert.Equal(t, "transient", body.Error)
	assert.Equal(t, "retry_later", body.Category)
}

func TestSignOut(t *testing.T) {
	ts, _, _ := newTestServer(t)
	upload(t, ts)

	st := decode[domain.State](t, post(t, ts, "/api/v1/signout", nil))
	assert.False(t, st.HasCredential)
	assert.Empty(t, st.FileName)
	assert.Equal(t, http.StatusConflict, get(t, ts, "/api/v1/raster").StatusCode)
}

func TestBadRequestBody(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/page", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body, ct := &bytes.Buffer{}, "multipart/form-data; boundary=x"
	resp, err = http.Post(ts.URL+"/api/v1/file", ct, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
